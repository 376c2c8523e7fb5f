package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/safakadir/digital-banking/pkg/metrics"
	"github.com/safakadir/digital-banking/pkg/mylogger"
	"github.com/safakadir/digital-banking/pkg/outbox/domain"
	"github.com/safakadir/digital-banking/pkg/utils"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type OutboxRepository interface {
	ClaimBatch(ctx context.Context, tx pgx.Tx, batchSize, maxAttempts int) ([]domain.OutboxEvent, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, id string, at time.Time) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id string, errMsg string) error
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Settings struct {
	BatchSize   int
	Interval    time.Duration
	MaxAttempts int
}

// OutboxProcessor relays committed outbox rows to Kafka. Rows are claimed
// with SKIP LOCKED, so several replicas can run it side by side; a row is
// delivered at least once.
type OutboxProcessor struct {
	db        TxBeginner
	repo      OutboxRepository
	publisher Publisher
	breaker   *gobreaker.CircuitBreaker
	logger    *zap.Logger
	metrics   *metrics.Metrics
	settings  Settings
	tracer    trace.Tracer
}

func NewOutboxProcessor(
	db TxBeginner,
	repo OutboxRepository,
	publisher Publisher,
	settings Settings,
	logger *zap.Logger,
	m *metrics.Metrics,
) *OutboxProcessor {
	if settings.BatchSize <= 0 {
		settings.BatchSize = 50
	}
	if settings.Interval <= 0 {
		settings.Interval = 500 * time.Millisecond
	}
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 10
	}

	return &OutboxProcessor{
		db:        db,
		repo:      repo,
		publisher: publisher,
		breaker:   utils.NewBreaker("outbox-publisher", 10*time.Second, logger),
		logger:    logger,
		metrics:   m,
		settings:  settings,
		tracer:    otel.Tracer("outbox-worker"),
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	mylogger.Info(ctx, p.logger, "Starting outbox processor")

	ticker := time.NewTicker(p.settings.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(ctx, p.logger, "Outbox processor stopping")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				mylogger.Error(ctx, p.logger, "Error processing outbox batch", zap.Error(err))
			}
		}
	}
}

// ProcessBatch relays one batch and returns how many rows were published.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := p.tracer.Start(ctx, "OutboxProcessor.ProcessBatch")
	defer span.End()

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if err := tx.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Error(cleanupCtx, p.logger, "Outbox worker failed to rollback transaction", zap.Error(err))
		}
	}()

	events, err := p.repo.ClaimBatch(ctx, tx, p.settings.BatchSize, p.settings.MaxAttempts)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	published := 0
	blocked := make(map[string]struct{})
	for _, event := range events {
		// Rows of one aggregate go out in commit order; a failure holds back
		// the rest of that aggregate until the next batch.
		if _, ok := blocked[event.AggregateID]; ok {
			continue
		}

		_, err := utils.ExecuteWithBreaker(p.breaker, func() (struct{}, error) {
			return struct{}{}, p.publisher.Publish(ctx, event.Topic, event.AggregateID, event.Payload)
		})
		if err != nil {
			p.metrics.OutboxFailed()
			mylogger.Warn(ctx, p.logger, "Outbox worker publish failed",
				zap.String("id", event.ID),
				zap.String("topic", event.Topic),
				zap.Int64("attempts", event.Attempts+1),
				zap.Error(err),
			)

			if err := p.repo.MarkFailed(ctx, tx, event.ID, err.Error()); err != nil {
				return published, fmt.Errorf("mark %s failed: %w", event.ID, err)
			}
			blocked[event.AggregateID] = struct{}{}
			continue
		}

		if err := p.repo.MarkPublished(ctx, tx, event.ID, time.Now().UTC()); err != nil {
			return published, fmt.Errorf("mark %s published: %w", event.ID, err)
		}

		published++
		p.metrics.OutboxPublished()
		mylogger.Debug(ctx, p.logger, "Outbox event published",
			zap.String("id", event.ID),
			zap.String("type", string(event.EventType)),
		)
	}

	if err := tx.Commit(ctx); err != nil {
		return published, fmt.Errorf("commit outbox batch: %w", err)
	}
	return published, nil
}
