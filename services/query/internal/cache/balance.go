package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	ledger "github.com/safakadir/digital-banking/pkg/domain"
	"github.com/safakadir/digital-banking/pkg/mylogger"
	"go.uber.org/zap"
)

// Entry is a cached balance together with the owner it was read for.
type Entry struct {
	UserID  string         `json:"userId"`
	Balance ledger.Balance `json:"balance"`
}

// BalanceCache is a best-effort read cache: failures are logged and
// reported as misses.
type BalanceCache interface {
	Get(ctx context.Context, accountID string) (*Entry, bool)
	Set(ctx context.Context, entry Entry)
	Invalidate(ctx context.Context, accountID string)
}

type redisBalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisBalanceCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) BalanceCache {
	return &redisBalanceCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func key(accountID string) string {
	return "balance:" + accountID
}

func (c *redisBalanceCache) Get(ctx context.Context, accountID string) (*Entry, bool) {
	val, err := c.client.Get(ctx, key(accountID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			mylogger.Warn(ctx, c.logger, "Balance cache read failed", zap.String("account_id", accountID), zap.Error(err))
		}
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(val, &entry); err != nil {
		mylogger.Warn(ctx, c.logger, "Balance cache entry unreadable", zap.String("account_id", accountID), zap.Error(err))
		return nil, false
	}
	return &entry, true
}

func (c *redisBalanceCache) Set(ctx context.Context, entry Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	if err := c.client.Set(ctx, key(entry.Balance.AccountID), data, c.ttl).Err(); err != nil {
		mylogger.Warn(ctx, c.logger, "Balance cache write failed", zap.String("account_id", entry.Balance.AccountID), zap.Error(err))
	}
}

func (c *redisBalanceCache) Invalidate(ctx context.Context, accountID string) {
	if err := c.client.Del(ctx, key(accountID)).Err(); err != nil {
		mylogger.Warn(ctx, c.logger, "Balance cache invalidation failed", zap.String("account_id", accountID), zap.Error(err))
	}
}

// Noop disables caching.
type Noop struct{}

func (Noop) Get(context.Context, string) (*Entry, bool) { return nil, false }
func (Noop) Set(context.Context, Entry)                 {}
func (Noop) Invalidate(context.Context, string)         {}
