package history

import "time"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContentKind selects which field carries the payload: text lives in
// Content, images and file references live in Value.
type ContentKind string

const (
	KindText   ContentKind = "text"
	KindImages ContentKind = "images"
	KindFile   ContentKind = "file"
)

// Turn is one persisted message of a conversation. Turns are immutable once
// inserted; corrections are new turns. ID is assigned by the store exactly
// once, and a zero ID marks a not-yet-persisted turn.
type Turn struct {
	ID        uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Session   string      `gorm:"type:varchar(16);index;not null" json:"session"`
	Role      string      `gorm:"type:varchar(16);not null" json:"role"`
	Content   string      `gorm:"type:text" json:"content"`
	Value     string      `gorm:"type:text" json:"value,omitempty"`
	Kind      ContentKind `gorm:"type:varchar(8);not null" json:"kind"`
	Provider  string      `gorm:"type:varchar(16);not null" json:"provider"`
	CreatedAt time.Time   `json:"created_at"`
}

func (Turn) TableName() string { return "chat_turns" }

// NewTextTurn builds an unpersisted plain-text turn.
func NewTextTurn(session, role, content, provider string) Turn {
	return Turn{
		Session:   session,
		Role:      role,
		Content:   content,
		Kind:      KindText,
		Provider:  provider,
		CreatedAt: time.Now(),
	}
}

// Conversation is the derived set of turns sharing one session, ordered by
// id descending (most recent first) for display.
type Conversation struct {
	Turns []Turn `json:"turns"`
}

func (c Conversation) Session() string {
	if len(c.Turns) == 0 {
		return ""
	}
	return c.Turns[0].Session
}

// FirstAsk returns the opening user question: with turns ordered most recent
// first, that is the last user turn in the list. Conversations are
// deduplicated by this turn, not by the full list, because later turns can
// arrive out of structural order while a stream is live. A conversation with
// no user turn has no identity and yields nil.
func (c Conversation) FirstAsk() *Turn {
	for i := len(c.Turns) - 1; i >= 0; i-- {
		if c.Turns[i].Role == RoleUser {
			return &c.Turns[i]
		}
	}
	return nil
}

// Key is the dedup identity used when merging store results with live
// session updates.
func (c Conversation) Key() string {
	if ask := c.FirstAsk(); ask != nil {
		return ask.Session
	}
	return ""
}
