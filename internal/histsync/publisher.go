// Package histsync replicates history mutations to peer nodes through
// RabbitMQ. Turns are published after commit; consumers re-insert them with
// fresh local ids.
package histsync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/mkatche/chatflow/internal/history"
)

type Op string

const (
	OpAdd    Op = "add"
	OpDelete Op = "delete"
)

// Event is one replicated mutation. For OpDelete only Turn.Session is set.
type Event struct {
	ID   string       `json:"id"`
	Op   Op           `json:"op"`
	Turn history.Turn `json:"turn"`
	At   time.Time    `json:"at"`
}

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	// match worker
	mainQ := queue
	retryQ := queue + ".retry"
	dlqQ := queue + ".dlq"

	// DLQ
	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	// Retry queue: message TTL -> dead-letter back to main queue
	if _, err := ch.QueueDeclare(
		retryQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": mainQ,
		},
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	// Main queue: dead-letter to DLQ on reject/nack(requeue=false)
	if _, err := ch.QueueDeclare(
		mainQ,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// PublishAdd replicates one committed turn.
func (p *Publisher) PublishAdd(ctx context.Context, turn history.Turn) error {
	return p.publish(ctx, Event{
		ID:   uuid.NewString(),
		Op:   OpAdd,
		Turn: turn,
		At:   time.Now(),
	})
}

// PublishDelete replicates removal of a whole conversation.
func (p *Publisher) PublishDelete(ctx context.Context, session string) error {
	return p.publish(ctx, Event{
		ID:   uuid.NewString(),
		Op:   OpDelete,
		Turn: history.Turn{Session: session},
		At:   time.Now(),
	})
}

func (p *Publisher) publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.ID,
			Body:         body,
			Timestamp:    ev.At,
		},
	)
}
