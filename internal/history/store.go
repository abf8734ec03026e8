package history

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Store is the append-only persistence layer for chat turns. Inserts assign
// IDs; there is no update path. Policy rejections (preset IDs, blank
// sessions) are logged no-ops rather than errors so a bad actor upstream
// cannot poison the table.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewStore(db *gorm.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log}
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Turn{})
}

// Append persists one completed exchange. The assistant row is written before
// the user row inside a single transaction, so readers ordering by id
// descending see the user question before its answer.
func (s *Store) Append(ctx context.Context, user, assistant *Turn) error {
	if user.ID != 0 || assistant.ID != 0 {
		s.log.Warn("history: rejecting append with preset id",
			zap.Uint64("user_id", user.ID),
			zap.Uint64("assistant_id", assistant.ID))
		return nil
	}
	if strings.TrimSpace(user.Session) == "" || strings.TrimSpace(assistant.Session) == "" {
		s.log.Warn("history: rejecting append with blank session")
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(assistant).Error; err != nil {
			return err
		}
		return tx.Create(user).Error
	})
}

// Restore inserts a single turn replicated from another node. The source id
// is discarded so this store assigns its own.
func (s *Store) Restore(ctx context.Context, turn *Turn) error {
	if strings.TrimSpace(turn.Session) == "" {
		s.log.Warn("history: rejecting restore with blank session")
		return nil
	}
	turn.ID = 0
	return s.db.WithContext(ctx).Create(turn).Error
}

// RemoveBySession deletes every turn of one conversation. The only deletion
// granularity offered.
func (s *Store) RemoveBySession(ctx context.Context, session string) error {
	if strings.TrimSpace(session) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Where("session = ?", session).Delete(&Turn{}).Error
}

// BySession returns one conversation's turns, most recent first.
func (s *Store) BySession(ctx context.Context, session string) ([]Turn, error) {
	var turns []Turn
	err := s.db.WithContext(ctx).
		Where("session = ?", session).
		Order("id DESC").
		Find(&turns).Error
	return turns, err
}

// All returns every turn, most recent first.
func (s *Store) All(ctx context.Context) ([]Turn, error) {
	var turns []Turn
	err := s.db.WithContext(ctx).Order("id DESC").Find(&turns).Error
	return turns, err
}

// Search returns full conversations matching keyword. A blank keyword
// returns every conversation. Matching is substring on turn content; a
// conversation with any matching turn is returned whole, and conversations
// are ordered by their most recent matching turn.
func (s *Store) Search(ctx context.Context, keyword string) ([]Conversation, error) {
	keyword = strings.TrimSpace(keyword)

	var matches []Turn
	var err error
	if keyword == "" {
		matches, err = s.All(ctx)
	} else {
		err = s.db.WithContext(ctx).
			Where("content LIKE ?", "%"+keyword+"%").
			Order("id DESC").
			Find(&matches).Error
	}
	if err != nil {
		return nil, err
	}

	sessions := distinctSessions(matches)
	if len(sessions) == 0 {
		return []Conversation{}, nil
	}
	if keyword == "" {
		return groupTurns(matches, sessions), nil
	}

	var turns []Turn
	err = s.db.WithContext(ctx).
		Where("session IN ?", sessions).
		Order("id DESC").
		Find(&turns).Error
	if err != nil {
		return nil, err
	}
	return groupTurns(turns, sessions), nil
}

// distinctSessions preserves first-appearance order, which for id-descending
// input means most-recent-activity first.
func distinctSessions(turns []Turn) []string {
	seen := make(map[string]struct{}, len(turns))
	var out []string
	for _, t := range turns {
		if _, ok := seen[t.Session]; ok {
			continue
		}
		seen[t.Session] = struct{}{}
		out = append(out, t.Session)
	}
	return out
}

func groupTurns(turns []Turn, sessions []string) []Conversation {
	bySession := make(map[string][]Turn, len(sessions))
	for _, t := range turns {
		bySession[t.Session] = append(bySession[t.Session], t)
	}
	out := make([]Conversation, 0, len(sessions))
	for _, session := range sessions {
		if list := bySession[session]; len(list) > 0 {
			out = append(out, Conversation{Turns: list})
		}
	}
	return out
}
