package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	ledger "github.com/safakadir/digital-banking/pkg/domain"
	"github.com/safakadir/digital-banking/pkg/inbox"
	"github.com/safakadir/digital-banking/pkg/mylogger"
	outboxDomain "github.com/safakadir/digital-banking/pkg/outbox/domain"
	"github.com/safakadir/digital-banking/pkg/txstore"
	"github.com/safakadir/digital-banking/services/ledger/internal/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// LedgerService applies deposit and withdraw commands to the journal and the
// balance of record.
type LedgerService interface {
	ledger.CommandHandler
}

type Store interface {
	txstore.Transactor
	txstore.BalanceReader
}

type ledgerService struct {
	store  Store
	inbox  *inbox.Processor
	logger *zap.Logger
	tracer trace.Tracer
	newID  func() string
}

func NewLedgerService(store Store, processor *inbox.Processor, logger *zap.Logger) LedgerService {
	return &ledgerService{
		store:  store,
		inbox:  processor,
		logger: logger,
		tracer: otel.Tracer("service/ledger_service"),
		newID:  uuid.NewString,
	}
}

func (s *ledgerService) HandleDeposit(ctx context.Context, cmd *ledger.DepositCommand) error {
	ctx, span := s.tracer.Start(ctx, "LedgerService.HandleDeposit")
	defer span.End()

	span.SetAttributes(
		attribute.String("operation_id", cmd.OperationID),
		attribute.String("account_id", cmd.AccountID),
	)

	now := s.inbox.Now()
	movement := s.movement(cmd.CommandBody, now)

	entries := domain.DepositEntries(movement, s.newID)
	if err := domain.VerifyTransaction(entries); err != nil {
		return err
	}

	evt := &ledger.DepositSucceeded{
		Envelope:      ledger.NewEnvelope(ledger.TypeDepositSucceeded, now),
		Settlement:    settlementOf(cmd.CommandBody),
		TransactionID: movement.TransactionID,
	}
	out, err := outboxDomain.NewOutboxEvent(ledger.TopicLedgerEvents, evt, now)
	if err != nil {
		return err
	}

	mutations := append(journalOps(entries), txstore.AddBalance{
		AccountID:       cmd.AccountID,
		Currency:        cmd.Currency,
		Delta:           cmd.Amount,
		At:              now,
		CreateIfMissing: true,
	})

	outcome, err := s.inbox.Process(ctx, cmd.ID, mutations, []outboxDomain.OutboxEvent{out})
	if err != nil {
		var condErr *inbox.ConditionError
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: deposit %s: %v", ledger.ErrTransient, cmd.OperationID, condErr)
		}
		return err
	}
	if outcome == inbox.Duplicate {
		return nil
	}

	mylogger.Info(ctx, s.logger, "Deposit applied",
		zap.String("operation_id", cmd.OperationID),
		zap.String("transaction_id", movement.TransactionID),
		zap.String("amount", cmd.Amount.String()),
	)

	s.attachBalance(ctx, out.ID, cmd.AccountID, func(balance decimal.Decimal) ledger.Message {
		evt.Balance = balance
		return evt
	})
	return nil
}

func (s *ledgerService) HandleWithdraw(ctx context.Context, cmd *ledger.WithdrawCommand) error {
	ctx, span := s.tracer.Start(ctx, "LedgerService.HandleWithdraw")
	defer span.End()

	span.SetAttributes(
		attribute.String("operation_id", cmd.OperationID),
		attribute.String("account_id", cmd.AccountID),
	)

	now := s.inbox.Now()
	movement := s.movement(cmd.CommandBody, now)

	entries := domain.WithdrawEntries(movement, s.newID)
	if err := domain.VerifyTransaction(entries); err != nil {
		return err
	}

	evt := &ledger.WithdrawSucceeded{
		Envelope:      ledger.NewEnvelope(ledger.TypeWithdrawSucceeded, now),
		Settlement:    settlementOf(cmd.CommandBody),
		TransactionID: movement.TransactionID,
	}
	out, err := outboxDomain.NewOutboxEvent(ledger.TopicLedgerEvents, evt, now)
	if err != nil {
		return err
	}

	required := cmd.Amount
	mutations := append(journalOps(entries), txstore.AddBalance{
		AccountID: cmd.AccountID,
		Currency:  cmd.Currency,
		Delta:     cmd.Amount.Neg(),
		At:        now,
		AtLeast:   &required,
	})

	outcome, err := s.inbox.Process(ctx, cmd.ID, mutations, []outboxDomain.OutboxEvent{out})

	var condErr *inbox.ConditionError
	switch {
	case errors.As(err, &condErr):
		if _, ok := condErr.Op.(txstore.AddBalance); !ok {
			return fmt.Errorf("%w: withdraw %s: %v", ledger.ErrTransient, cmd.OperationID, condErr)
		}
		return s.rejectWithdraw(ctx, cmd, now)
	case err != nil:
		return err
	case outcome == inbox.Duplicate:
		return nil
	}

	mylogger.Info(ctx, s.logger, "Withdraw applied",
		zap.String("operation_id", cmd.OperationID),
		zap.String("transaction_id", movement.TransactionID),
		zap.String("amount", cmd.Amount.String()),
	)

	s.attachBalance(ctx, out.ID, cmd.AccountID, func(balance decimal.Decimal) ledger.Message {
		evt.Balance = balance
		return evt
	})
	return nil
}

// rejectWithdraw records the insufficient-funds outcome. It runs under the
// command's own message id, so a redelivered command is a no-op whichever
// branch handled it first.
func (s *ledgerService) rejectWithdraw(ctx context.Context, cmd *ledger.WithdrawCommand, now time.Time) error {
	evt := &ledger.WithdrawFailed{
		Envelope:   ledger.NewEnvelope(ledger.TypeWithdrawFailed, now),
		Settlement: settlementOf(cmd.CommandBody),
		Reason:     ledger.InsufficientFundsReason,
	}
	out, err := outboxDomain.NewOutboxEvent(ledger.TopicLedgerEvents, evt, now)
	if err != nil {
		return err
	}

	outcome, err := s.inbox.Process(ctx, cmd.ID, nil, []outboxDomain.OutboxEvent{out})
	if err != nil {
		return err
	}

	if outcome == inbox.Applied {
		mylogger.Info(ctx, s.logger, "Withdraw rejected",
			zap.String("operation_id", cmd.OperationID),
			zap.String("reason", evt.Reason),
		)
	}
	return nil
}

// attachBalance writes the balance read after commit into the outbox row of
// the settlement event. The value is advisory: a concurrent commit may
// already be reflected, and a row the relay already sent keeps its payload.
func (s *ledgerService) attachBalance(ctx context.Context, outboxID, accountID string, withBalance func(decimal.Decimal) ledger.Message) {
	balance, err := s.store.GetBalance(ctx, accountID)
	if err != nil {
		mylogger.Warn(ctx, s.logger, "Failed to read balance for event", zap.String("account_id", accountID), zap.Error(err))
		return
	}

	payload, err := json.Marshal(withBalance(balance.Balance))
	if err != nil {
		mylogger.Warn(ctx, s.logger, "Failed to marshal event with balance", zap.Error(err))
		return
	}

	if err := s.store.Transact(ctx, txstore.PatchOutbox{ID: outboxID, Payload: payload}); err != nil {
		mylogger.Warn(ctx, s.logger, "Failed to attach balance to event", zap.String("outbox_id", outboxID), zap.Error(err))
	}
}

func (s *ledgerService) movement(body ledger.CommandBody, now time.Time) domain.Movement {
	return domain.Movement{
		TransactionID: s.newID(),
		AccountID:     body.AccountID,
		UserID:        body.UserID,
		OperationID:   body.OperationID,
		Amount:        body.Amount,
		At:            now,
	}
}

func settlementOf(body ledger.CommandBody) ledger.Settlement {
	return ledger.Settlement{
		AccountID:   body.AccountID,
		UserID:      body.UserID,
		OperationID: body.OperationID,
		Amount:      body.Amount,
		Description: body.Description,
	}
}

func journalOps(entries []ledger.JournalEntry) []txstore.Op {
	ops := make([]txstore.Op, 0, len(entries)+1)
	for _, e := range entries {
		ops = append(ops, txstore.PutJournalEntry{Entry: e})
	}
	return ops
}
