package history

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	summaryCacheKey = "chatflow:conversation_summaries"
	summaryCacheTTL = 30 * time.Second
)

// Summary is the list-view projection of a conversation.
type Summary struct {
	Session   string    `json:"session"`
	FirstAsk  string    `json:"first_ask"`
	Provider  string    `json:"provider"`
	Turns     int       `json:"turns"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summarize projects conversations to their list-view form, preserving
// order.
func Summarize(convs []Conversation) []Summary {
	summaries := make([]Summary, 0, len(convs))
	for _, c := range convs {
		s := Summary{Session: c.Session(), Turns: len(c.Turns)}
		if len(c.Turns) > 0 {
			s.UpdatedAt = c.Turns[0].CreatedAt
			s.Provider = c.Turns[0].Provider
		}
		if ask := c.FirstAsk(); ask != nil {
			s.FirstAsk = ask.Content
		}
		summaries = append(summaries, s)
	}
	return summaries
}

// Browser merges persisted conversations with live, not-yet-persisted
// updates pushed from active sessions. The live overlay wins on identity
// collision (it is strictly fresher) and drains as soon as the store catches
// up, because a re-listed persisted conversation replaces its overlay entry.
type Browser struct {
	store *Store
	cache *redis.Client
	log   *zap.Logger

	mu   sync.Mutex
	live []Conversation
}

// NewBrowser builds a browser over store. cache may be nil; summaries are
// then computed on every call.
func NewBrowser(store *Store, cache *redis.Client, log *zap.Logger) *Browser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Browser{store: store, cache: cache, log: log}
}

// List returns conversations matching keyword, most recent first, with live
// session updates overlaid. Conversations are deduplicated by their first
// user turn's session.
func (b *Browser) List(ctx context.Context, keyword string) ([]Conversation, error) {
	convs, err := b.store.Search(ctx, keyword)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	overlay := make([]Conversation, len(b.live))
	copy(overlay, b.live)
	b.mu.Unlock()

	for i := len(overlay) - 1; i >= 0; i-- {
		convs = mergeConversation(convs, overlay[i], keyword == "")
	}
	return convs, nil
}

// mergeConversation replaces the stored entry sharing the live conversation's
// key, or prepends it when listing without a keyword filter.
func mergeConversation(convs []Conversation, live Conversation, prependNew bool) []Conversation {
	key := live.Key()
	if key == "" {
		return convs
	}
	for i, c := range convs {
		if c.Key() == key {
			convs[i] = live
			return convs
		}
	}
	if !prependNew {
		return convs
	}
	return append([]Conversation{live}, convs...)
}

// Get loads one persisted conversation by session.
func (b *Browser) Get(ctx context.Context, session string) (Conversation, error) {
	turns, err := b.store.BySession(ctx, session)
	if err != nil {
		return Conversation{}, err
	}
	return Conversation{Turns: turns}, nil
}

// Push overlays a live conversation snapshot. Called by sessions right after
// a successful turn commits, so the list view reflects it before the next
// full reload.
func (b *Browser) Push(turns []Turn) {
	conv := Conversation{Turns: turns}
	key := conv.Key()
	if key == "" {
		return
	}

	b.mu.Lock()
	replaced := false
	for i, c := range b.live {
		if c.Key() == key {
			b.live[i] = conv
			replaced = true
			break
		}
	}
	if !replaced {
		b.live = append([]Conversation{conv}, b.live...)
	}
	b.mu.Unlock()

	b.invalidateSummaries(context.Background())
}

// Delete removes a conversation everywhere: store, live overlay, and the
// summary cache.
func (b *Browser) Delete(ctx context.Context, session string) error {
	if err := b.store.RemoveBySession(ctx, session); err != nil {
		return err
	}

	b.mu.Lock()
	kept := b.live[:0]
	for _, c := range b.live {
		if c.Key() != session {
			kept = append(kept, c)
		}
	}
	b.live = kept
	b.mu.Unlock()

	b.invalidateSummaries(ctx)
	return nil
}

// Summaries returns the list-view projection of every conversation, served
// from redis when a cached copy is fresh.
func (b *Browser) Summaries(ctx context.Context) ([]Summary, error) {
	if b.cache != nil {
		raw, err := b.cache.Get(ctx, summaryCacheKey).Bytes()
		if err == nil {
			var cached []Summary
			if json.Unmarshal(raw, &cached) == nil {
				return cached, nil
			}
		} else if err != redis.Nil {
			b.log.Warn("history: summary cache read failed", zap.Error(err))
		}
	}

	convs, err := b.List(ctx, "")
	if err != nil {
		return nil, err
	}
	summaries := Summarize(convs)

	if b.cache != nil {
		if raw, err := json.Marshal(summaries); err == nil {
			if err := b.cache.Set(ctx, summaryCacheKey, raw, summaryCacheTTL).Err(); err != nil {
				b.log.Warn("history: summary cache write failed", zap.Error(err))
			}
		}
	}
	return summaries, nil
}

func (b *Browser) invalidateSummaries(ctx context.Context) {
	if b.cache == nil {
		return
	}
	if err := b.cache.Del(ctx, summaryCacheKey).Err(); err != nil {
		b.log.Warn("history: summary cache invalidation failed", zap.Error(err))
	}
}
