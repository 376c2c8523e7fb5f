package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/cenkalti/backoff/v5"
	"github.com/safakadir/digital-banking/pkg/domain"
	"github.com/safakadir/digital-banking/pkg/metrics"
	"github.com/safakadir/digital-banking/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type HandlerFunc func(ctx context.Context, msg *sarama.ConsumerMessage) error

// DeadLetterPublisher receives messages that can never be applied.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}

type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	Topics     []string
	DLQSuffix  string
	MaxRetries uint
	RetryDelay time.Duration
}

type ConsumerGroup struct {
	cfg     ConsumerConfig
	handler *saramaHandler
	logger  *zap.Logger
}

func NewConsumerGroup(
	cfg ConsumerConfig,
	handlerFunc HandlerFunc,
	dlq DeadLetterPublisher,
	logger *zap.Logger,
	m *metrics.Metrics,
) *ConsumerGroup {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	if cfg.DLQSuffix == "" {
		cfg.DLQSuffix = ".dlq"
	}

	return &ConsumerGroup{
		cfg: cfg,
		handler: &saramaHandler{
			handler:    handlerFunc,
			dlq:        dlq,
			dlqSuffix:  cfg.DLQSuffix,
			group:      cfg.GroupID,
			maxRetries: cfg.MaxRetries,
			retryDelay: cfg.RetryDelay,
			logger:     logger,
			metrics:    m,
		},
		logger: logger,
	}
}

func (c *ConsumerGroup) Run(ctx context.Context) error {
	config := sarama.NewConfig()
	config.Version = sarama.V3_0_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, config)
	if err != nil {
		return fmt.Errorf("error creating consumer group %s: %w", c.cfg.GroupID, err)
	}
	defer func() {
		if err := group.Close(); err != nil {
			mylogger.Error(ctx, c.logger, "Error closing consumer group", zap.Error(err))
		}
	}()

	go func() {
		for err := range group.Errors() {
			mylogger.Warn(ctx, c.logger, "Consumer group error", zap.Error(err))
		}
	}()

	for {
		if err := group.Consume(ctx, c.cfg.Topics, c.handler); err != nil {
			mylogger.Error(ctx, c.logger, "Error consuming in consumer loop", zap.Error(err))
		}

		if ctx.Err() != nil {
			mylogger.Info(ctx, c.logger, "Context cancelled, shutting down consumer")
			return nil
		}
	}
}

type saramaHandler struct {
	handler    HandlerFunc
	dlq        DeadLetterPublisher
	dlqSuffix  string
	group      string
	maxRetries uint
	retryDelay time.Duration
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func (h *saramaHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *saramaHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim marks a message only once it is applied or dead-lettered.
// Returning an error ends the session without committing, so the message
// comes back after the rebalance.
func (h *saramaHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			ctx, span := h.startSpan(session.Context(), msg)
			err := h.handle(ctx, msg)
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()

			if err != nil {
				return err
			}
			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *saramaHandler) handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = h.retryDelay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := h.handler(ctx, msg)
		if err != nil && domain.IsPermanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(h.maxRetries))
	if err == nil {
		return nil
	}

	fields := []zap.Field{
		zap.String("topic", msg.Topic),
		zap.Int32("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Error(err),
	}

	if !domain.IsPermanent(err) {
		mylogger.Warn(ctx, h.logger, "Failed to process message, leaving it for redelivery", fields...)
		return err
	}

	h.metrics.MessagePoisoned(h.group)
	mylogger.Error(ctx, h.logger, "Message can never be applied, dead-lettering", fields...)

	if h.dlq == nil {
		return err
	}
	if dlqErr := h.dlq.Publish(ctx, msg.Topic+h.dlqSuffix, string(msg.Key), msg.Value); dlqErr != nil {
		mylogger.Error(ctx, h.logger, "Failed to dead-letter message", zap.Error(dlqErr))
		return dlqErr
	}
	return nil
}

func (h *saramaHandler) startSpan(ctx context.Context, msg *sarama.ConsumerMessage) (context.Context, trace.Span) {
	carrier := propagation.MapCarrier{}
	for _, header := range msg.Headers {
		if header != nil {
			carrier[string(header.Key)] = string(header.Value)
		}
	}

	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)

	return otel.Tracer("pkg/kafka/consumer").Start(ctx, "kafka_process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.consumer_group", h.group),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
}
