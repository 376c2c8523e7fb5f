package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	ledger "github.com/safakadir/digital-banking/pkg/domain"
)

// OutboxEvent is a message waiting to be relayed, written in the same
// transaction as the state change that caused it.
type OutboxEvent struct {
	ID          string             `db:"id"`
	Topic       string             `db:"topic"`
	AggregateID string             `db:"aggregate_id"`
	EventType   ledger.MessageType `db:"event_type"`
	Payload     json.RawMessage    `db:"payload"`
	CreatedAt   time.Time          `db:"created_at"`
	PublishedAt *time.Time         `db:"published_at"`
	Attempts    int64              `db:"attempts"`
	LastError   *string            `db:"last_error"`
}

func NewOutboxEvent(topic string, msg ledger.Message, now time.Time) (OutboxEvent, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("marshal %s: %w", msg.MessageType(), err)
	}

	return OutboxEvent{
		ID:          uuid.NewString(),
		Topic:       topic,
		AggregateID: msg.PartitionKey(),
		EventType:   msg.MessageType(),
		Payload:     payload,
		CreatedAt:   now.UTC(),
	}, nil
}
