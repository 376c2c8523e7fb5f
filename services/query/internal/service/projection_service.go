package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	ledger "github.com/safakadir/digital-banking/pkg/domain"
	"github.com/safakadir/digital-banking/pkg/inbox"
	"github.com/safakadir/digital-banking/pkg/mylogger"
	"github.com/safakadir/digital-banking/pkg/txstore"
	"github.com/safakadir/digital-banking/services/query/internal/cache"
	"github.com/safakadir/digital-banking/services/query/internal/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const settleAttempts = 5

// ProjectionService builds the account, balance and transaction history
// read models from lifecycle and settlement events.
type ProjectionService interface {
	ledger.EventHandler
}

type Store interface {
	txstore.Transactor
	txstore.BalanceReader
}

type projectionService struct {
	store  Store
	inbox  *inbox.Processor
	cache  cache.BalanceCache
	logger *zap.Logger
	tracer trace.Tracer
}

func NewProjectionService(store Store, processor *inbox.Processor, balanceCache cache.BalanceCache, logger *zap.Logger) ProjectionService {
	return &projectionService{
		store:  store,
		inbox:  processor,
		cache:  balanceCache,
		logger: logger,
		tracer: otel.Tracer("service/projection_service"),
	}
}

func (s *projectionService) HandleAccountCreated(ctx context.Context, e *ledger.AccountCreated) error {
	ctx, span := s.tracer.Start(ctx, "ProjectionService.HandleAccountCreated")
	defer span.End()

	span.SetAttributes(attribute.String("account_id", e.AccountID))

	outcome, err := s.inbox.Process(ctx, e.ID, []txstore.Op{
		txstore.PutAccountProjection{Projection: ledger.AccountProjection{
			AccountID: e.AccountID,
			UserID:    e.UserID,
			Status:    ledger.AccountStatusActive,
			Name:      e.Name,
			Currency:  e.Currency,
		}},
		txstore.InitBalance{AccountID: e.AccountID, Currency: e.Currency, At: s.inbox.Now()},
	}, nil)

	var condErr *inbox.ConditionError
	if errors.As(err, &condErr) {
		// Created before, or closed before it was ever created.
		mylogger.Info(ctx, s.logger, "Account projection already present",
			zap.String("account_id", e.AccountID),
		)
		_, err = s.inbox.MarkProcessed(ctx, e.ID)
		return err
	}
	if err != nil {
		return err
	}

	if outcome == inbox.Applied {
		s.cache.Invalidate(ctx, e.AccountID)
	}
	return nil
}

func (s *projectionService) HandleAccountClosed(ctx context.Context, e *ledger.AccountClosed) error {
	ctx, span := s.tracer.Start(ctx, "ProjectionService.HandleAccountClosed")
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

func (s *projectionService) HandleDepositSucceeded(ctx context.Context, e *ledger.DepositSucceeded) error {
	ctx, span := s.tracer.Start(ctx, "ProjectionService.HandleDepositSucceeded")
	defer span.End()

	tx := transaction(e.Envelope, e.Settlement, ledger.OperationTypeDeposit, ledger.TransactionStatusCompleted)
	return s.applySettlement(ctx, span, e.ID, tx, e.Amount)
}

func (s *projectionService) HandleWithdrawSucceeded(ctx context.Context, e *ledger.WithdrawSucceeded) error {
	ctx, span := s.tracer.Start(ctx, "ProjectionService.HandleWithdrawSucceeded")
	defer span.End()

	tx := transaction(e.Envelope, e.Settlement, ledger.OperationTypeWithdraw, ledger.TransactionStatusCompleted)
	return s.applySettlement(ctx, span, e.ID, tx, e.Amount.Neg())
}

func (s *projectionService) HandleWithdrawFailed(ctx context.Context, e *ledger.WithdrawFailed) error {
	ctx, span := s.tracer.Start(ctx, "ProjectionService.HandleWithdrawFailed")
	defer span.End()

	tx := transaction(e.Envelope, e.Settlement, ledger.OperationTypeWithdraw, ledger.TransactionStatusFailed)
	return s.applySettlement(ctx, span, e.ID, tx, decimal.Zero)
}

// applySettlement appends tx to the history and moves the read-side balance
// by delta. The history row records the projected balance after the move:
// the update is guarded by the balance it was computed from and recomputed
// when another settlement of the account got in first.
//
// A history row already present means the operation was applied under
// another message; a missing balance row means the account has not been
// projected yet and the event has to wait.
func (s *projectionService) applySettlement(ctx context.Context, span trace.Span, messageID string, tx ledger.Transaction, delta decimal.Decimal) error {
	span.SetAttributes(
		attribute.String("account_id", tx.AccountID),
		attribute.String("operation_id", tx.ID),
		attribute.String("status", string(tx.Status)),
	)

	for range settleAttempts {
		current, err := s.store.GetBalance(ctx, tx.AccountID)
		if errors.Is(err, ledger.ErrNotFound) {
			return fmt.Errorf("%w: balance of %s not projected yet", ledger.ErrTransient, tx.AccountID)
		}
		if err != nil {
			return fmt.Errorf("%w: read balance of %s: %w", ledger.ErrTransient, tx.AccountID, err)
		}

		tx.Balance = current.Balance.Add(delta)
		mutations := []txstore.Op{txstore.PutTransaction{Transaction: tx}}
		if !delta.IsZero() {
			expect := current.Balance
			mutations = append(mutations, txstore.AddBalance{
				AccountID: tx.AccountID,
				Delta:     delta,
				At:        s.inbox.Now(),
				Expect:    &expect,
			})
		}

		outcome, err := s.inbox.Process(ctx, messageID, mutations, nil)

		var condErr *inbox.ConditionError
		switch {
		case errors.As(err, &condErr) && condErr.Index == 0:
			mylogger.Info(ctx, s.logger, "Transaction already projected",
				zap.String("operation_id", tx.ID),
			)
			_, err = s.inbox.MarkProcessed(ctx, messageID)
			return err
		case errors.As(err, &condErr):
			mylogger.Debug(ctx, s.logger, "Projected balance moved, recomputing",
				zap.String("account_id", tx.AccountID),
			)
			continue
		case err != nil:
			return err
		}

		if outcome == inbox.Applied && !delta.IsZero() {
			s.cache.Invalidate(ctx, tx.AccountID)
		}
		return nil
	}

	return fmt.Errorf("%w: balance of %s kept moving", ledger.ErrTransient, tx.AccountID)
}

func transaction(
	env ledger.Envelope,
	settlement ledger.Settlement,
	opType ledger.OperationType,
	status ledger.TransactionStatus,
) ledger.Transaction {
	description := settlement.Description
	if description == "" {
		description = domain.DepositDescription
		if opType == ledger.OperationTypeWithdraw {
			description = domain.WithdrawDescription
		}
	}

	ts := env.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	return ledger.Transaction{
		ID:          settlement.OperationID,
		AccountID:   settlement.AccountID,
		Type:        opType,
		Amount:      settlement.Amount,
		Status:      status,
		Timestamp:   ts,
		Description: description,
	}
}
