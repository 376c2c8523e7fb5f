package service

import (
	"context"
	"errors"

	ledger "github.com/safakadir/digital-banking/pkg/domain"
	"github.com/safakadir/digital-banking/pkg/txstore"
	"github.com/safakadir/digital-banking/services/query/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type QueryService interface {
	GetBalance(ctx context.Context, accountID, userID string) (*ledger.Balance, error)
	GetBalances(ctx context.Context, userID string) ([]ledger.BalanceWithAccount, error)
	GetTransactions(ctx context.Context, accountID, userID string, page domain.Page) ([]ledger.Transaction, error)
}

type ReadStore interface {
	txstore.ProjectionReader
	txstore.BalanceReader
	txstore.TransactionReader
}

type queryService struct {
	store  ReadStore
	logger *zap.Logger
	tracer trace.Tracer
}

func NewQueryService(store ReadStore, logger *zap.Logger) QueryService {
	return &queryService{
		store:  store,
		logger: logger,
		tracer: otel.Tracer("service/query_service"),
	}
}

func (s *queryService) GetBalance(ctx context.Context, accountID, userID string) (*ledger.Balance, error) {
	ctx, span := s.tracer.Start(ctx, "QueryService.GetBalance")
	defer span.End()

	span.SetAttributes(attribute.String("account_id", accountID))

	if err := s.checkOwner(ctx, accountID, userID); err != nil {
		return nil, err
	}

	balance, err := s.store.GetBalance(ctx, accountID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, ledger.ErrBalanceNotFound
	}
	return balance, err
}

func (s *queryService) GetBalances(ctx context.Context, userID string) ([]ledger.BalanceWithAccount, error) {
	ctx, span := s.tracer.Start(ctx, "QueryService.GetBalances")
	defer span.End()

	projections, err := s.store.ListAccountProjections(ctx, userID)
	if err != nil {
		return nil, err
	}

	result := make([]ledger.BalanceWithAccount, 0, len(projections))
	for _, p := range projections {
		balance, err := s.store.GetBalance(ctx, p.AccountID)
		if errors.Is(err, ledger.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		name := p.Name
		if name == "" {
			name = domain.UnknownAccountName
		}
		result = append(result, ledger.BalanceWithAccount{
			Balance:     *balance,
			AccountName: name,
			Status:      p.Status,
		})
	}

	span.SetAttributes(attribute.Int("balances", len(result)))
	return result, nil
}

func (s *queryService) GetTransactions(ctx context.Context, accountID, userID string, page domain.Page) ([]ledger.Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "QueryService.GetTransactions")
	defer span.End()

	span.SetAttributes(
		attribute.String("account_id", accountID),
		attribute.Int("limit", page.Limit),
		attribute.Int("offset", page.Offset),
	)

	if err := s.checkOwner(ctx, accountID, userID); err != nil {
		return nil, err
	}

	return s.store.ListTransactions(ctx, accountID, page.Limit, page.Offset)
}

// checkOwner hides accounts of other users behind the same error as
// missing ones.
func (s *queryService) checkOwner(ctx context.Context, accountID, userID string) error {
	projection, err := s.store.GetAccountProjection(ctx, accountID)
	if errors.Is(err, ledger.ErrNotFound) {
		return ledger.ErrAccountNotFound
	}
	if err != nil {
		return err
	}

	if projection.UserID != userID {
		return ledger.ErrAccountNotFound
	}
	return nil
}
