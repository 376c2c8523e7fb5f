package service

import (
	"context"
	"errors"
	"fmt"

	ledger "github.com/safakadir/digital-banking/pkg/domain"
	"github.com/safakadir/digital-banking/pkg/inbox"
	"github.com/safakadir/digital-banking/pkg/mylogger"
	"github.com/safakadir/digital-banking/pkg/txstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// EventService keeps the account projection and operation statuses of the
// banking service in line with account lifecycle and ledger settlement
// events.
type EventService interface {
	ledger.EventHandler
}

type eventService struct {
	store  Store
	inbox  *inbox.Processor
	logger *zap.Logger
	tracer trace.Tracer
}

func NewEventService(store Store, processor *inbox.Processor, logger *zap.Logger) EventService {
	return &eventService{
		store:  store,
		inbox:  processor,
		logger: logger,
		tracer: otel.Tracer("service/event_service"),
	}
}

func (s *eventService) HandleAccountCreated(ctx context.Context, e *ledger.AccountCreated) error {
	ctx, span := s.tracer.Start(ctx, "EventService.HandleAccountCreated")
	defer span.End()

	span.SetAttributes(attribute.String("account_id", e.AccountID))

	_, err := s.inbox.Process(ctx, e.ID, []txstore.Op{
		txstore.PutAccountProjection{Projection: ledger.AccountProjection{
			AccountID: e.AccountID,
			UserID:    e.UserID,
			Status:    ledger.AccountStatusActive,
			Name:      e.Name,
			Currency:  e.Currency,
		}},
	}, nil)

	var condErr *inbox.ConditionError
	if errors.As(err, &condErr) {
		// Either created already or closed first; both leave the row as is.
		mylogger.Info(ctx, s.logger, "Account projection already present",
			zap.String("account_id", e.AccountID),
		)
		_, err = s.inbox.MarkProcessed(ctx, e.ID)
	}
	return err
}

func (s *eventService) HandleAccountClosed(ctx context.Context, e *ledger.AccountClosed) error {
	ctx, span := s.tracer.Start(ctx, "EventService.HandleAccountClosed")
	defer span.End()

	span.SetAttributes(attribute.String("account_id", e.AccountID))

	_, err := s.inbox.Process(ctx, e.ID, []txstore.Op{
		txstore.CloseAccountProjection{Projection: ledger.AccountProjection{
			AccountID: e.AccountID,
			UserID:    e.UserID,
		}},
	}, nil)
	return err
}

func (s *eventService) HandleDepositSucceeded(ctx context.Context, e *ledger.DepositSucceeded) error {
	ctx, span := s.tracer.Start(ctx, "EventService.HandleDepositSucceeded")
	defer span.End()

	return s.settle(ctx, span, e.ID, e.OperationID, ledger.OperationStatusCompleted, nil)
}

func (s *eventService) HandleWithdrawSucceeded(ctx context.Context, e *ledger.WithdrawSucceeded) error {
	ctx, span := s.tracer.Start(ctx, "EventService.HandleWithdrawSucceeded")
	defer span.End()

	return s.settle(ctx, span, e.ID, e.OperationID, ledger.OperationStatusCompleted, nil)
}

func (s *eventService) HandleWithdrawFailed(ctx context.Context, e *ledger.WithdrawFailed) error {
	ctx, span := s.tracer.Start(ctx, "EventService.HandleWithdrawFailed")
	defer span.End()

	reason := e.Reason
	return s.settle(ctx, span, e.ID, e.OperationID, ledger.OperationStatusFailed, &reason)
}

// settle moves a pending operation to its terminal status. A settlement for
// an operation that is already terminal is recorded as processed; one for an
// operation this service has not stored yet is retried.
func (s *eventService) settle(
	ctx context.Context,
	span trace.Span,
	messageID, operationID string,
	status ledger.OperationStatus,
	errorMessage *string,
) error {
	span.SetAttributes(
		attribute.String("operation_id", operationID),
		attribute.String("status", string(status)),
	)

	outcome, err := s.inbox.Process(ctx, messageID, []txstore.Op{
		txstore.SettleOperation{
			OperationID:  operationID,
			Status:       status,
			At:           s.inbox.Now(),
			ErrorMessage: errorMessage,
		},
	}, nil)

	var condErr *inbox.ConditionError
	if !errors.As(err, &condErr) {
		if err == nil && outcome == inbox.Applied {
			mylogger.Info(ctx, s.logger, "Operation settled",
				zap.String("operation_id", operationID),
				zap.String("status", string(status)),
			)
		}
		return err
	}

	op, err := s.store.GetOperation(ctx, operationID)
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("%w: operation %s not recorded yet", ledger.ErrTransient, operationID)
	}
	if err != nil {
		return fmt.Errorf("%w: read operation %s: %w", ledger.ErrTransient, operationID, err)
	}

	if !op.Status.Terminal() {
		return fmt.Errorf("%w: operation %s still pending after failed settlement", ledger.ErrTransient, operationID)
	}

	if op.Status != status {
		mylogger.Warn(ctx, s.logger, "Settlement disagrees with recorded status",
			zap.String("operation_id", operationID),
			zap.String("recorded", string(op.Status)),
			zap.String("received", string(status)),
		)
	}

	_, err = s.inbox.MarkProcessed(ctx, messageID)
	return err
}
