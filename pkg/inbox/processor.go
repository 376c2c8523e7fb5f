// Package inbox applies a consumed message exactly once: the inbox row, the
// domain mutations and the outgoing outbox rows commit in one transaction.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/safakadir/digital-banking/pkg/domain"
	"github.com/safakadir/digital-banking/pkg/metrics"
	"github.com/safakadir/digital-banking/pkg/mylogger"
	outboxDomain "github.com/safakadir/digital-banking/pkg/outbox/domain"
	"github.com/safakadir/digital-banking/pkg/txstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Outcome string

const (
	Applied   Outcome = "applied"
	Duplicate Outcome = "duplicate"
)

// ConditionError reports that a domain mutation failed its precondition.
// Index is the position of Op in the mutations passed to Process.
type ConditionError struct {
	Index int
	Op    txstore.Op
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("mutation %d (%s) condition failed", e.Index, e.Op.Name())
}

func (e *ConditionError) Unwrap() error { return txstore.ErrConditionFailed }

type Processor struct {
	store    txstore.Transactor
	consumer string
	ttl      time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	now      func() time.Time
}

type Option func(*Processor)

func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

func NewProcessor(store txstore.Transactor, consumer string, ttl time.Duration, logger *zap.Logger, opts ...Option) *Processor {
	p := &Processor{
		store:    store,
		consumer: consumer,
		ttl:      ttl,
		logger:   logger,
		tracer:   otel.Tracer("inbox"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Processor) Consumer() string { return p.consumer }

func (p *Processor) Now() time.Time { return p.now().UTC() }

// Process records messageID as processed by this consumer and applies
// mutations and events in the same transaction.
//
// A message seen before yields Duplicate with nil error and changes nothing.
// A failed mutation precondition yields *ConditionError and changes nothing;
// the caller decides the compensating branch. Every other failure is wrapped
// in domain.ErrTransient so the message gets redelivered.
func (p *Processor) Process(
	ctx context.Context,
	messageID string,
	mutations []txstore.Op,
	events []outboxDomain.OutboxEvent,
) (Outcome, error) {
	ctx, span := p.tracer.Start(ctx, "Inbox.Process")
	defer span.End()

	span.SetAttributes(
		attribute.String("consumer", p.consumer),
		attribute.String("message_id", messageID),
		attribute.Int("mutations", len(mutations)),
		attribute.Int("events", len(events)),
	)

	if messageID == "" {
		return "", fmt.Errorf("%w: empty message id", domain.ErrMalformedMessage)
	}

	now := p.Now()
	ops := make([]txstore.Op, 0, 1+len(mutations)+len(events))
	ops = append(ops, txstore.InsertInbox{Item: domain.InboxItem{
		Consumer:    p.consumer,
		MessageID:   messageID,
		ProcessedAt: now,
		ExpiresAt:   now.Add(p.ttl),
	}})
	ops = append(ops, mutations...)
	for _, evt := range events {
		ops = append(ops, txstore.PutOutbox{Event: evt})
	}

	err := p.store.Transact(ctx, ops...)
	if err == nil {
		p.metrics.MessageProcessed(p.consumer, string(Applied))
		return Applied, nil
	}

	var canceled *txstore.CanceledError
	if !errors.As(err, &canceled) {
		span.RecordError(err)
		mylogger.Warn(ctx, p.logger, "Inbox transaction failed",
			mylogger.Message(p.consumer, messageID),
			zap.Error(err),
		)
		return "", fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}

	switch {
	case canceled.Index == 0:
		p.metrics.MessageProcessed(p.consumer, string(Duplicate))
		mylogger.Info(ctx, p.logger, "Message already processed, skipping",
			mylogger.Message(p.consumer, messageID),
		)
		return Duplicate, nil
	case canceled.Index <= len(mutations):
		span.SetAttributes(attribute.String("failed_op", canceled.Op.Name()))
		return "", &ConditionError{Index: canceled.Index - 1, Op: canceled.Op}
	default:
		return "", fmt.Errorf("%w: outbox item rejected: %w", domain.ErrTransient, err)
	}
}

// MarkProcessed records messageID without any other effect. Handlers use it
// when a message turns out to be already reflected in the state.
func (p *Processor) MarkProcessed(ctx context.Context, messageID string) (Outcome, error) {
	return p.Process(ctx, messageID, nil, nil)
}
