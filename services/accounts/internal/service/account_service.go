package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	ledger "github.com/safakadir/digital-banking/pkg/domain"
	"github.com/safakadir/digital-banking/pkg/mylogger"
	outboxDomain "github.com/safakadir/digital-banking/pkg/outbox/domain"
	"github.com/safakadir/digital-banking/pkg/txstore"
	"github.com/safakadir/digital-banking/services/accounts/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type AccountService interface {
	CreateAccount(ctx context.Context, userID, name, currency string) (*ledger.Account, error)
	CloseAccount(ctx context.Context, accountID, userID, reason string) (*ledger.Account, error)
	GetAccount(ctx context.Context, accountID, userID string) (*ledger.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]ledger.Account, error)
}

type Store interface {
	txstore.Transactor
	txstore.AccountReader
}

type accountService struct {
	store  Store
	logger *zap.Logger
	tracer trace.Tracer
	now    func() time.Time
	newID  func() string
}

func NewAccountService(store Store, logger *zap.Logger) AccountService {
	return &accountService{
		store:  store,
		logger: logger,
		tracer: otel.Tracer("service/account_service"),
		now:    time.Now,
		newID:  domain.NewAccountID,
	}
}

func (s *accountService) CreateAccount(ctx context.Context, userID, name, currency string) (*ledger.Account, error) {
	ctx, span := s.tracer.Start(ctx, "AccountService.CreateAccount")
	defer span.End()

	if currency == "" {
		currency = domain.DefaultCurrency
	}

	now := s.now().UTC()
	acc := ledger.Account{
		AccountID: s.newID(),
		UserID:    userID,
		Name:      name,
		Currency:  currency,
		Status:    ledger.AccountStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	span.SetAttributes(attribute.String("account_id", acc.AccountID))

	evt, err := outboxDomain.NewOutboxEvent(ledger.TopicAccountEvents, &ledger.AccountCreated{
		Envelope:  ledger.NewEnvelope(ledger.TypeAccountCreated, now),
		AccountID: acc.AccountID,
		UserID:    userID,
		Name:      name,
		Currency:  currency,
	}, now)
	if err != nil {
		return nil, err
	}

	err = s.store.Transact(ctx, txstore.PutAccount{Account: acc}, txstore.PutOutbox{Event: evt})
	if errors.Is(err, txstore.ErrConditionFailed) {
		return nil, fmt.Errorf("%w: account id %s taken", ledger.ErrConflict, acc.AccountID)
	}
	if err != nil {
		mylogger.Error(ctx, s.logger, "Error creating account", zap.Error(err))
		return nil, fmt.Errorf("%w: create account: %w", ledger.ErrTransient, err)
	}

	mylogger.Info(ctx, s.logger, "Account created",
		zap.String("account_id", acc.AccountID),
		zap.String("user_id", userID),
	)

	return &acc, nil
}

func (s *accountService) CloseAccount(ctx context.Context, accountID, userID, reason string) (*ledger.Account, error) {
	ctx, span := s.tracer.Start(ctx, "AccountService.CloseAccount")
	defer span.End()

	span.SetAttributes(attribute.String("account_id", accountID))

	acc, err := s.GetAccount(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}
	if acc.Status == ledger.AccountStatusClosed {
		return nil, ledger.ErrAccountAlreadyClosed
	}

	now := s.now().UTC()
	evt, err := outboxDomain.NewOutboxEvent(ledger.TopicAccountEvents, &ledger.AccountClosed{
		Envelope:  ledger.NewEnvelope(ledger.TypeAccountClosed, now),
		AccountID: accountID,
		UserID:    userID,
		Reason:    reason,
	}, now)
	if err != nil {
		return nil, err
	}

	err = s.store.Transact(ctx, txstore.CloseAccount{AccountID: accountID, At: now}, txstore.PutOutbox{Event: evt})
	if errors.Is(err, txstore.ErrConditionFailed) {
		// Closed by a concurrent request between the read and the write.
		return nil, ledger.ErrAccountAlreadyClosed
	}
	if err != nil {
		mylogger.Error(ctx, s.logger, "Error closing account", zap.Error(err))
		return nil, fmt.Errorf("%w: close account: %w", ledger.ErrTransient, err)
	}

	mylogger.Info(ctx, s.logger, "Account closed",
		zap.String("account_id", accountID),
		zap.String("reason", reason),
	)

	acc.Status = ledger.AccountStatusClosed
	acc.ClosedAt = &now
	acc.UpdatedAt = now
	return acc, nil
}

func (s *accountService) GetAccount(ctx context.Context, accountID, userID string) (*ledger.Account, error) {
	acc, err := s.store.GetAccount(ctx, accountID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ledger.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	if acc.UserID != userID {
		return nil, ledger.ErrAccountNotFound
	}
	return acc, nil
}

func (s *accountService) ListAccounts(ctx context.Context, userID string) ([]ledger.Account, error) {
	ctx, span := s.tracer.Start(ctx, "AccountService.ListAccounts")
	defer span.End()

	return s.store.ListAccounts(ctx, userID)
}
