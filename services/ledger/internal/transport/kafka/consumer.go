package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/safakadir/digital-banking/pkg/config"
	ledger "github.com/safakadir/digital-banking/pkg/domain"
	"github.com/safakadir/digital-banking/pkg/kafka"
	"github.com/safakadir/digital-banking/pkg/metrics"
	"github.com/safakadir/digital-banking/pkg/mylogger"
	"github.com/safakadir/digital-banking/services/ledger/internal/service"
	"go.uber.org/zap"
)

type Consumer struct {
	service service.LedgerService
	dlq     kafka.DeadLetterPublisher
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewConsumer(service service.LedgerService, dlq kafka.DeadLetterPublisher, logger *zap.Logger, m *metrics.Metrics) *Consumer {
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
		groupID = "ledger-service-group"
	}

	consumerGroup := kafka.NewConsumerGroup(
		kafka.ConsumerConfig{
			Brokers:    cfg.Brokers,
			GroupID:    groupID,
			Topics:     []string{ledger.TopicBankingCommands},
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
	cmd, err := ledger.DecodeCommand(msg.Value)
	if err != nil {
		mylogger.Warn(ctx, c.logger, "Error decoding command",
			zap.String("topic", msg.Topic),
			zap.Error(err),
		)
		return err
	}

	mylogger.Debug(ctx, c.logger, "Processing command",
		zap.String("message_id", cmd.MessageID()),
		zap.String("type", string(cmd.MessageType())),
	)

	return cmd.Dispatch(ctx, c.service)
}
