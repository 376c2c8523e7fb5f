package service

import (
	"context"

	ledger "github.com/safakadir/digital-banking/pkg/domain"
	"github.com/safakadir/digital-banking/services/query/internal/cache"
	"github.com/safakadir/digital-banking/services/query/internal/domain"
)

type cachedQueryService struct {
	next  QueryService
	cache cache.BalanceCache
}

func NewCachedQueryService(next QueryService, balanceCache cache.BalanceCache) QueryService {
	return &cachedQueryService{
		next:  next,
		cache: balanceCache,
	}
}

func (s *cachedQueryService) GetBalance(ctx context.Context, accountID, userID string) (*ledger.Balance, error) {
	if entry, ok := s.cache.Get(ctx, accountID); ok {
		if entry.UserID != userID {
			return nil, ledger.ErrAccountNotFound
		}
		return &entry.Balance, nil
	}

	balance, err := s.next.GetBalance(ctx, accountID, userID)
	if err != nil {
		return nil, err
	}

	s.cache.Set(ctx, cache.Entry{UserID: userID, Balance: *balance})
	return balance, nil
}

func (s *cachedQueryService) GetBalances(ctx context.Context, userID string) ([]ledger.BalanceWithAccount, error) {
	return s.next.GetBalances(ctx, userID)
}

func (s *cachedQueryService) GetTransactions(ctx context.Context, accountID, userID string, page domain.Page) ([]ledger.Transaction, error) {
	return s.next.GetTransactions(ctx, accountID, userID, page)
}
