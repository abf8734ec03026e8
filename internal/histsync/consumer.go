package histsync

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mkatche/chatflow/internal/history"
)

// Consumer applies replicated mutations to the local store.
type Consumer struct {
	store *history.Store
	log   *zap.Logger
}

func NewConsumer(store *history.Store, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{store: store, log: log}
}

var errBadEvent = errors.New("histsync: malformed event")

// Apply executes one event. Adds discard the source id so this node assigns
// its own; deletes remove the whole conversation.
func (c *Consumer) Apply(ctx context.Context, ev Event) error {
	switch ev.Op {
	case OpAdd:
		turn := ev.Turn
		if err := c.store.Restore(ctx, &turn); err != nil {
			return err
		}
		c.log.Info("histsync: turn restored",
			zap.String("event", ev.ID),
			zap.String("session", turn.Session))
		return nil

	case OpDelete:
		if err := c.store.RemoveBySession(ctx, ev.Turn.Session); err != nil {
			return err
		}
		c.log.Info("histsync: conversation removed",
			zap.String("event", ev.ID),
			zap.String("session", ev.Turn.Session))
		return nil

	default:
		return fmt.Errorf("%w: op %q", errBadEvent, ev.Op)
	}
}
