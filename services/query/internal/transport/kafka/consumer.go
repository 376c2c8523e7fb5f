package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/safakadir/digital-banking/pkg/config"
	ledger "github.com/safakadir/digital-banking/pkg/domain"
	"github.com/safakadir/digital-banking/pkg/kafka"
	"github.com/safakadir/digital-banking/pkg/metrics"
	"github.com/safakadir/digital-banking/pkg/mylogger"
	"github.com/safakadir/digital-banking/services/query/internal/service"
	"go.uber.org/zap"
)

type Consumer struct {
	service service.ProjectionService
	dlq     kafka.DeadLetterPublisher
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewConsumer(service service.ProjectionService, dlq kafka.DeadLetterPublisher, logger *zap.Logger, m *metrics.Metrics) *Consumer {
	return &Consumer{
		service: service,
		dlq:     dlq,
		logger:  logger,
		metrics: m,
	}
}

func (c *Consumer) Start(ctx context.Context, cfg config.Kafka) error {
	groupID := cfg.GroupID
	if groupID == "" {
		groupID = "query-service-group"
	}

	consumerGroup := kafka.NewConsumerGroup(
		kafka.ConsumerConfig{
			Brokers:    cfg.Brokers,
			GroupID:    groupID,
			Topics:     []string{ledger.TopicAccountEvents, ledger.TopicLedgerEvents},
			DLQSuffix:  cfg.DLQSuffix,
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
		},
		c.processMessage,
		c.dlq,
		c.logger,
		c.metrics,
	)

	return consumerGroup.Run(ctx)
}

func (c *Consumer) processMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	evt, err := ledger.DecodeEvent(msg.Value)
	if err != nil {
		mylogger.Warn(ctx, c.logger, "Error decoding event",
			zap.String("topic", msg.Topic),
			zap.Error(err),
		)
		return err
	}

	mylogger.Debug(ctx, c.logger, "Processing event",
		zap.String("message_id", evt.MessageID()),
		zap.String("type", string(evt.MessageType())),
	)

	return evt.Dispatch(ctx, c.service)
}
