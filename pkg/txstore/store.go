// Package txstore is the transactional store the services write through:
// a fixed set of conditional item operations committed all-or-nothing,
// plus the read queries each service needs.
package txstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/safakadir/digital-banking/pkg/domain"
	outboxDomain "github.com/safakadir/digital-banking/pkg/outbox/domain"
)

var (
	ErrConditionFailed = errors.New("transaction item condition failed")
	ErrNoItem          = fmt.Errorf("item %w", domain.ErrNotFound)
)

// CanceledError is returned by Transact when the item at Index failed its
// precondition. Nothing of the transaction was applied.
type CanceledError struct {
	Index int
	Op    Op
}

func (e *CanceledError) Error() string {
	return fmt.Sprintf("transaction canceled: item %d (%s) condition failed", e.Index, e.Op.Name())
}

func (e *CanceledError) Unwrap() error { return ErrConditionFailed }

type Transactor interface {
	// Transact applies ops atomically in order. A failed precondition yields
	// a *CanceledError; any other error leaves the store unchanged as well.
	Transact(ctx context.Context, ops ...Op) error
}

type InboxPurger interface {
	PurgeInbox(ctx context.Context, before time.Time) (int64, error)
}

type AccountReader interface {
	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]domain.Account, error)
}

type ProjectionReader interface {
	GetAccountProjection(ctx context.Context, accountID string) (*domain.AccountProjection, error)
	ListAccountProjections(ctx context.Context, userID string) ([]domain.AccountProjection, error)
}

type OperationReader interface {
	GetOperation(ctx context.Context, operationID string) (*domain.Operation, error)
}

type BalanceReader interface {
	GetBalance(ctx context.Context, accountID string) (*domain.Balance, error)
}

type JournalReader interface {
	EntriesByTransaction(ctx context.Context, transactionID string) ([]domain.JournalEntry, error)
	EntriesByAccount(ctx context.Context, accountID string) ([]domain.JournalEntry, error)
}

type TransactionReader interface {
	// ListTransactions returns newest first.
	ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]domain.Transaction, error)
}

type OutboxReader interface {
	// PendingOutbox returns unpublished outbox rows, oldest first.
	PendingOutbox(ctx context.Context) ([]outboxDomain.OutboxEvent, error)
}

// Store is implemented by Postgres and Memory.
type Store interface {
	Transactor
	InboxPurger
	AccountReader
	ProjectionReader
	OperationReader
	BalanceReader
	JournalReader
	TransactionReader
	OutboxReader
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*Memory)(nil)

	_ applier = pgApplier{}
	_ applier = (*memApplier)(nil)
)
