package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/safakadir/digital-banking/pkg/outbox/domain"
	"github.com/safakadir/digital-banking/pkg/outbox/worker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type outboxRepo struct {
	tracer trace.Tracer
}

func NewOutboxRepository() worker.OutboxRepository {
	return &outboxRepo{
		tracer: otel.Tracer("outbox_repository"),
	}
}

func (r *outboxRepo) ClaimBatch(ctx context.Context, tx pgx.Tx, batchSize, maxAttempts int) ([]domain.OutboxEvent, error) {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.ClaimBatch")
	defer span.End()

	span.SetAttributes(attribute.Int("batch_size", batchSize))

	query := `
		SELECT id, topic, aggregate_id, event_type, payload, created_at, attempts, last_error
		FROM outbox
		WHERE published_at IS NULL AND attempts < $1
		ORDER BY created_at, id
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`

	rows, err := tx.Query(ctx, query, maxAttempts, batchSize)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query unpublished events: %w", err)
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		if err := rows.Scan(
			&e.ID,
			&e.Topic,
			&e.AggregateID,
			&e.EventType,
			&e.Payload,
			&e.CreatedAt,
			&e.Attempts,
			&e.LastError,
		); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

func (r *outboxRepo) MarkPublished(ctx context.Context, tx pgx.Tx, id string, at time.Time) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkPublished")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", id))

	query := `
		UPDATE outbox
		SET published_at = $1, last_error = NULL
		WHERE id = $2
	`

	if _, err := tx.Exec(ctx, query, at, id); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (r *outboxRepo) MarkFailed(ctx context.Context, tx pgx.Tx, id string, errMsg string) error {
	ctx, span := r.tracer.Start(ctx, "OutboxRepository.MarkFailed")
	defer span.End()

	span.SetAttributes(
		attribute.String("event_id", id),
		attribute.String("outbox.error_message", errMsg),
	)

	query := `
		UPDATE outbox
		SET last_error = $1, attempts = attempts + 1
		WHERE id = $2
	`

	if _, err := tx.Exec(ctx, query, errMsg, id); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}
