package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	ledger "github.com/safakadir/digital-banking/pkg/domain"
	"github.com/safakadir/digital-banking/pkg/metrics"
	"github.com/safakadir/digital-banking/pkg/mylogger"
	outboxDomain "github.com/safakadir/digital-banking/pkg/outbox/domain"
	"github.com/safakadir/digital-banking/pkg/txstore"
	"github.com/safakadir/digital-banking/services/banking/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// idempotencyNamespace scopes operation ids derived from client keys.
var idempotencyNamespace = uuid.MustParse("5b0f3c1e-7a2d-4e8b-9c61-2f4d8a9e0b37")

type BankingService interface {
	ProcessDeposit(ctx context.Context, req domain.OperationRequest) (*ledger.Operation, error)
	ProcessWithdraw(ctx context.Context, req domain.OperationRequest) (*ledger.Operation, error)
	GetOperation(ctx context.Context, operationID, userID string) (*ledger.Operation, error)
}

type Store interface {
	txstore.Transactor
	txstore.ProjectionReader
	txstore.OperationReader
}

type bankingService struct {
	store   Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

func NewBankingService(store Store, logger *zap.Logger, m *metrics.Metrics) BankingService {
	return &bankingService{
		store:   store,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer("service/banking_service"),
		now:     time.Now,
	}
}

func (s *bankingService) ProcessDeposit(ctx context.Context, req domain.OperationRequest) (*ledger.Operation, error) {
	ctx, span := s.tracer.Start(ctx, "BankingService.ProcessDeposit")
	defer span.End()

	return s.process(ctx, span, ledger.OperationTypeDeposit, req)
}

func (s *bankingService) ProcessWithdraw(ctx context.Context, req domain.OperationRequest) (*ledger.Operation, error) {
	ctx, span := s.tracer.Start(ctx, "BankingService.ProcessWithdraw")
	defer span.End()

	return s.process(ctx, span, ledger.OperationTypeWithdraw, req)
}

func (s *bankingService) process(ctx context.Context, span trace.Span, opType ledger.OperationType, req domain.OperationRequest) (*ledger.Operation, error) {
	span.SetAttributes(
		attribute.String("account_id", req.AccountID),
		attribute.String("user_id", req.UserID),
	)

	if !req.Amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	if !ledger.ValidAmount(req.Amount) {
		return nil, ledger.ErrAmountPrecision
	}

	projection, err := s.usableAccount(ctx, req.AccountID, req.UserID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	op := &ledger.Operation{
		OperationID: operationID(req),
		AccountID:   req.AccountID,
		UserID:      req.UserID,
		Type:        opType,
		Amount:      req.Amount,
		Status:      ledger.OperationStatusPending,
		CreatedAt:   now,
	}
	span.SetAttributes(attribute.String("operation_id", op.OperationID))

	out, err := outboxDomain.NewOutboxEvent(ledger.TopicBankingCommands, newCommand(op, projection.Currency, req.Description, now), now)
	if err != nil {
		return nil, err
	}

	err = s.store.Transact(ctx, txstore.PutOperation{Operation: *op}, txstore.PutOutbox{Event: out})

	var canceled *txstore.CanceledError
	switch {
	case errors.As(err, &canceled) && canceled.Index == 0 && req.IdempotencyKey != "":
		mylogger.Info(ctx, s.logger, "Operation already accepted for idempotency key",
			zap.String("operation_id", op.OperationID),
		)
		return s.existing(ctx, op.OperationID)
	case err != nil:
		span.RecordError(err)
		mylogger.Error(ctx, s.logger, "Failed to record operation",
			zap.String("operation_id", op.OperationID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: record operation: %w", ledger.ErrTransient, err)
	}

	s.metrics.OperationInitiated(string(opType))
	mylogger.Info(ctx, s.logger, "Operation accepted",
		zap.String("operation_id", op.OperationID),
		zap.String("type", string(opType)),
		zap.String("amount", op.Amount.String()),
	)

	return op, nil
}

func (s *bankingService) GetOperation(ctx context.Context, operationID, userID string) (*ledger.Operation, error) {
	ctx, span := s.tracer.Start(ctx, "BankingService.GetOperation")
	defer span.End()

	span.SetAttributes(attribute.String("operation_id", operationID))

	op, err := s.store.GetOperation(ctx, operationID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ledger.ErrOperationNotFound
	}
	if err != nil {
		return nil, err
	}

	if op.UserID != userID {
		return nil, ledger.ErrOperationNotFound
	}
	return op, nil
}

// usableAccount checks the local projection: the account must exist, belong
// to userID and be active.
func (s *bankingService) usableAccount(ctx context.Context, accountID, userID string) (*ledger.AccountProjection, error) {
	projection, err := s.store.GetAccountProjection(ctx, accountID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ledger.ErrAccountNotUsable
	}
	if err != nil {
		return nil, err
	}

	if projection.UserID != userID || projection.Status != ledger.AccountStatusActive {
		mylogger.Info(ctx, s.logger, "Operation rejected for unusable account",
			zap.String("account_id", accountID),
			zap.String("status", string(projection.Status)),
		)
		return nil, ledger.ErrAccountNotUsable
	}
	return projection, nil
}

func (s *bankingService) existing(ctx context.Context, operationID string) (*ledger.Operation, error) {
	op, err := s.store.GetOperation(ctx, operationID)
	if err != nil {
		return nil, fmt.Errorf("%w: read operation %s: %w", ledger.ErrTransient, operationID, err)
	}
	return op, nil
}

func operationID(req domain.OperationRequest) string {
	if req.IdempotencyKey == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(idempotencyNamespace, []byte(req.UserID+"/"+req.IdempotencyKey)).String()
}

func newCommand(op *ledger.Operation, currency, description string, now time.Time) ledger.Command {
	body := ledger.CommandBody{
		AccountID:   op.AccountID,
		UserID:      op.UserID,
		Amount:      op.Amount,
		OperationID: op.OperationID,
		Currency:    currency,
		Description: description,
	}

	if op.Type == ledger.OperationTypeWithdraw {
		if body.Description == "" {
			body.Description = domain.WithdrawDescription
		}
		return &ledger.WithdrawCommand{
			Envelope:    ledger.NewEnvelope(ledger.TypeWithdrawCommand, now),
			CommandBody: body,
		}
	}

	if body.Description == "" {
		body.Description = domain.DepositDescription
	}
	return &ledger.DepositCommand{
		Envelope:    ledger.NewEnvelope(ledger.TypeDepositCommand, now),
		CommandBody: body,
	}
}
