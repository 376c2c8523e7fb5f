package txstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/safakadir/digital-banking/pkg/domain"
	outboxDomain "github.com/safakadir/digital-banking/pkg/outbox/domain"
	"github.com/shopspring/decimal"
)

// Op is one item of an atomic transaction. The set is closed: every store
// binding implements applier, so a new item type does not compile until
// each binding supports it.
type Op interface {
	Name() string
	apply(ctx context.Context, a applier) error
}

type applier interface {
	insertInbox(ctx context.Context, op InsertInbox) error
	putJournalEntry(ctx context.Context, op PutJournalEntry) error
	addBalance(ctx context.Context, op AddBalance) error
	initBalance(ctx context.Context, op InitBalance) error
	putOutbox(ctx context.Context, op PutOutbox) error
	patchOutbox(ctx context.Context, op PatchOutbox) error
	putOperation(ctx context.Context, op PutOperation) error
	settleOperation(ctx context.Context, op SettleOperation) error
	putAccount(ctx context.Context, op PutAccount) error
	closeAccount(ctx context.Context, op CloseAccount) error
	putAccountProjection(ctx context.Context, op PutAccountProjection) error
	closeAccountProjection(ctx context.Context, op CloseAccountProjection) error
	putTransaction(ctx context.Context, op PutTransaction) error
}

// InsertInbox fails if the consumer already recorded the message.
type InsertInbox struct {
	Item domain.InboxItem
}

func (InsertInbox) Name() string                                  { return "InsertInbox" }
func (op InsertInbox) apply(ctx context.Context, a applier) error { return a.insertInbox(ctx, op) }

type PutJournalEntry struct {
	Entry domain.JournalEntry
}

func (PutJournalEntry) Name() string                                  { return "PutJournalEntry" }
func (op PutJournalEntry) apply(ctx context.Context, a applier) error { return a.putJournalEntry(ctx, op) }

// AddBalance adds Delta to the balance of AccountID.
//
// With CreateIfMissing an absent row starts at zero; otherwise an absent row
// fails the condition. AtLeast, when set, requires an existing row whose
// balance before the update is >= *AtLeast. Expect, when set, requires it to
// equal *Expect.
type AddBalance struct {
	AccountID       string
	Currency        string
	Delta           decimal.Decimal
	At              time.Time
	CreateIfMissing bool
	AtLeast         *decimal.Decimal
	Expect          *decimal.Decimal
}

func (AddBalance) Name() string                                  { return "AddBalance" }
func (op AddBalance) apply(ctx context.Context, a applier) error { return a.addBalance(ctx, op) }

// InitBalance creates a zero balance row unless one exists. Never fails.
type InitBalance struct {
	AccountID string
	Currency  string
	At        time.Time
}

func (InitBalance) Name() string                                  { return "InitBalance" }
func (op InitBalance) apply(ctx context.Context, a applier) error { return a.initBalance(ctx, op) }

type PutOutbox struct {
	Event outboxDomain.OutboxEvent
}

func (PutOutbox) Name() string                                  { return "PutOutbox" }
func (op PutOutbox) apply(ctx context.Context, a applier) error { return a.putOutbox(ctx, op) }

// PatchOutbox replaces the payload of an outbox row that has not been
// published yet. Missing or published rows are left alone.
type PatchOutbox struct {
	ID      string
	Payload json.RawMessage
}

func (PatchOutbox) Name() string                                  { return "PatchOutbox" }
func (op PatchOutbox) apply(ctx context.Context, a applier) error { return a.patchOutbox(ctx, op) }

// PutOperation fails if the operation id is taken.
type PutOperation struct {
	Operation domain.Operation
}

func (PutOperation) Name() string                                  { return "PutOperation" }
func (op PutOperation) apply(ctx context.Context, a applier) error { return a.putOperation(ctx, op) }

// SettleOperation moves a pending operation to a terminal status. Fails
// unless the operation exists and is pending.
type SettleOperation struct {
	OperationID  string
	Status       domain.OperationStatus
	At           time.Time
	ErrorMessage *string
}

func (SettleOperation) Name() string                                  { return "SettleOperation" }
func (op SettleOperation) apply(ctx context.Context, a applier) error { return a.settleOperation(ctx, op) }

// PutAccount fails if the account id is taken.
type PutAccount struct {
	Account domain.Account
}

func (PutAccount) Name() string                                  { return "PutAccount" }
func (op PutAccount) apply(ctx context.Context, a applier) error { return a.putAccount(ctx, op) }

// CloseAccount fails unless the account exists and is ACTIVE.
type CloseAccount struct {
	AccountID string
	At        time.Time
}

func (CloseAccount) Name() string                                  { return "CloseAccount" }
func (op CloseAccount) apply(ctx context.Context, a applier) error { return a.closeAccount(ctx, op) }

// PutAccountProjection fails if a projection of the account exists, closed
// tombstones included.
type PutAccountProjection struct {
	Projection domain.AccountProjection
}

func (PutAccountProjection) Name() string                                  { return "PutAccountProjection" }
func (op PutAccountProjection) apply(ctx context.Context, a applier) error { return a.putAccountProjection(ctx, op) }

// CloseAccountProjection marks the projection CLOSED, inserting a closed
// tombstone when the account was never projected. Never fails.
type CloseAccountProjection struct {
	Projection domain.AccountProjection
}

func (CloseAccountProjection) Name() string                                  { return "CloseAccountProjection" }
func (op CloseAccountProjection) apply(ctx context.Context, a applier) error { return a.closeAccountProjection(ctx, op) }

// PutTransaction fails if a transaction with the same id exists.
type PutTransaction struct {
	Transaction domain.Transaction
}

func (PutTransaction) Name() string                                  { return "PutTransaction" }
func (op PutTransaction) apply(ctx context.Context, a applier) error { return a.putTransaction(ctx, op) }
