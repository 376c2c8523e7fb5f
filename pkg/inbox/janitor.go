package inbox

import (
	"context"
	"time"

	"github.com/safakadir/digital-banking/pkg/mylogger"
	"github.com/safakadir/digital-banking/pkg/txstore"
	"go.uber.org/zap"
)

// Janitor deletes inbox rows whose redelivery window has passed.
type Janitor struct {
	store    txstore.InboxPurger
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewJanitor(store txstore.InboxPurger, interval time.Duration, logger *zap.Logger) *Janitor {
	return &Janitor{
		store:    store,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

func (j *Janitor) Start(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Purge(ctx)
		}
	}
}

func (j *Janitor) Purge(ctx context.Context) int64 {
	n, err := j.store.PurgeInbox(ctx, j.now().UTC())
	if err != nil {
		mylogger.Error(ctx, j.logger, "Failed to purge inbox", zap.Error(err))
		return 0
	}

	if n > 0 {
		mylogger.Info(ctx, j.logger, "Purged expired inbox rows", zap.Int64("rows", n))
	}
	return n
}
