package txstore

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/safakadir/digital-banking/pkg/domain"
	outboxDomain "github.com/safakadir/digital-banking/pkg/outbox/domain"
)

// Memory is an in-process Store with the same semantics as Postgres. A
// transaction runs against a copy of the state that replaces the live state
// only on success.
type Memory struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	inbox        map[string]domain.InboxItem
	journal      map[string]domain.JournalEntry
	balances     map[string]domain.Balance
	outbox       map[string]outboxDomain.OutboxEvent
	operations   map[string]domain.Operation
	accounts     map[string]domain.Account
	projections  map[string]domain.AccountProjection
	transactions map[string]domain.Transaction
}

func NewMemory() *Memory {
	return &Memory{state: memState{
		inbox:        map[string]domain.InboxItem{},
		journal:      map[string]domain.JournalEntry{},
		balances:     map[string]domain.Balance{},
		outbox:       map[string]outboxDomain.OutboxEvent{},
		operations:   map[string]domain.Operation{},
		accounts:     map[string]domain.Account{},
		projections:  map[string]domain.AccountProjection{},
		transactions: map[string]domain.Transaction{},
	}}
}

func (s memState) clone() memState {
	return memState{
		inbox:        maps.Clone(s.inbox),
		journal:      maps.Clone(s.journal),
		balances:     maps.Clone(s.balances),
		outbox:       maps.Clone(s.outbox),
		operations:   maps.Clone(s.operations),
		accounts:     maps.Clone(s.accounts),
		projections:  maps.Clone(s.projections),
		transactions: maps.Clone(s.transactions),
	}
}

func (s *Memory) Transact(ctx context.Context, ops ...Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := &memApplier{state: s.state.clone()}
	for i, op := range ops {
		if err := op.apply(ctx, staged); err != nil {
			if errors.Is(err, ErrConditionFailed) {
				return &CanceledError{Index: i, Op: op}
			}
			return err
		}
	}

	s.state = staged.state
	return nil
}

func (s *Memory) PurgeInbox(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, item := range s.state.inbox {
		if item.ExpiresAt.Before(before) {
			delete(s.state.inbox, k)
			n++
		}
	}
	return n, nil
}

// MarkPublished stands in for the relay in tests.
func (s *Memory) MarkPublished(id string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt, ok := s.state.outbox[id]; ok {
		evt.PublishedAt = &at
		s.state.outbox[id] = evt
	}
}

func inboxKey(consumer, messageID string) string {
	return consumer + "\x00" + messageID
}

type memApplier struct {
	state memState
}

func (a *memApplier) insertInbox(_ context.Context, op InsertInbox) error {
	key := inboxKey(op.Item.Consumer, op.Item.MessageID)
	if _, ok := a.state.inbox[key]; ok {
		return ErrConditionFailed
	}
	a.state.inbox[key] = op.Item
	return nil
}

func (a *memApplier) putJournalEntry(_ context.Context, op PutJournalEntry) error {
	if _, ok := a.state.journal[op.Entry.ID]; ok {
		return errDuplicateKey("journal_entries", op.Entry.ID)
	}
	a.state.journal[op.Entry.ID] = op.Entry
	return nil
}

func (a *memApplier) addBalance(_ context.Context, op AddBalance) error {
	b, ok := a.state.balances[op.AccountID]
	switch {
	case !ok && (op.AtLeast != nil || op.Expect != nil || !op.CreateIfMissing):
		return ErrConditionFailed
	case !ok:
		b = domain.Balance{AccountID: op.AccountID, Currency: op.Currency}
	case op.AtLeast != nil && b.Balance.LessThan(*op.AtLeast):
		return ErrConditionFailed
	case op.Expect != nil && !b.Balance.Equal(*op.Expect):
		return ErrConditionFailed
	}

	if b.Currency == "" {
		b.Currency = op.Currency
	}
	b.Balance = b.Balance.Add(op.Delta)
	b.LastUpdated = op.At
	a.state.balances[op.AccountID] = b
	return nil
}

func (a *memApplier) initBalance(_ context.Context, op InitBalance) error {
	if _, ok := a.state.balances[op.AccountID]; !ok {
		a.state.balances[op.AccountID] = domain.Balance{
			AccountID:   op.AccountID,
			Currency:    op.Currency,
			LastUpdated: op.At,
		}
	}
	return nil
}

func (a *memApplier) putOutbox(_ context.Context, op PutOutbox) error {
	if _, ok := a.state.outbox[op.Event.ID]; ok {
		return errDuplicateKey("outbox", op.Event.ID)
	}
	a.state.outbox[op.Event.ID] = op.Event
	return nil
}

func (a *memApplier) patchOutbox(_ context.Context, op PatchOutbox) error {
	evt, ok := a.state.outbox[op.ID]
	if ok && evt.PublishedAt == nil {
		evt.Payload = op.Payload
		a.state.outbox[op.ID] = evt
	}
	return nil
}

func (a *memApplier) putOperation(_ context.Context, op PutOperation) error {
	if _, ok := a.state.operations[op.Operation.OperationID]; ok {
		return ErrConditionFailed
	}
	a.state.operations[op.Operation.OperationID] = op.Operation
	return nil
}

func (a *memApplier) settleOperation(_ context.Context, op SettleOperation) error {
	o, ok := a.state.operations[op.OperationID]
	if !ok || o.Status != domain.OperationStatusPending {
		return ErrConditionFailed
	}
	at := op.At
	o.Status = op.Status
	o.CompletedAt = &at
	o.ErrorMessage = op.ErrorMessage
	a.state.operations[op.OperationID] = o
	return nil
}

func (a *memApplier) putAccount(_ context.Context, op PutAccount) error {
	if _, ok := a.state.accounts[op.Account.AccountID]; ok {
		return ErrConditionFailed
	}
	a.state.accounts[op.Account.AccountID] = op.Account
	return nil
}

func (a *memApplier) closeAccount(_ context.Context, op CloseAccount) error {
	acc, ok := a.state.accounts[op.AccountID]
	if !ok || acc.Status != domain.AccountStatusActive {
		return ErrConditionFailed
	}
	at := op.At
	acc.Status = domain.AccountStatusClosed
	acc.ClosedAt = &at
	acc.UpdatedAt = at
	a.state.accounts[op.AccountID] = acc
	return nil
}

func (a *memApplier) putAccountProjection(_ context.Context, op PutAccountProjection) error {
	if _, ok := a.state.projections[op.Projection.AccountID]; ok {
		return ErrConditionFailed
	}
	a.state.projections[op.Projection.AccountID] = op.Projection
	return nil
}

func (a *memApplier) closeAccountProjection(_ context.Context, op CloseAccountProjection) error {
	p, ok := a.state.projections[op.Projection.AccountID]
	if !ok {
		p = op.Projection
	}
	p.Status = domain.AccountStatusClosed
	a.state.projections[p.AccountID] = p
	return nil
}

func (a *memApplier) putTransaction(_ context.Context, op PutTransaction) error {
	if _, ok := a.state.transactions[op.Transaction.ID]; ok {
		return ErrConditionFailed
	}
	a.state.transactions[op.Transaction.ID] = op.Transaction
	return nil
}

type duplicateKeyError struct {
	table, key string
}

func (e *duplicateKeyError) Error() string {
	return "duplicate key " + e.key + " in " + e.table
}

func errDuplicateKey(table, key string) error {
	return &duplicateKeyError{table: table, key: key}
}

func (s *Memory) GetAccount(_ context.Context, accountID string) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.state.accounts[accountID]
	if !ok {
		return nil, ErrNoItem
	}
	return &acc, nil
}

func (s *Memory) ListAccounts(_ context.Context, userID string) ([]domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.Account, 0)
	for _, acc := range s.state.accounts {
		if acc.UserID == userID {
			result = append(result, acc)
		}
	}
	slices.SortFunc(result, func(a, b domain.Account) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return result, nil
}

func (s *Memory) GetAccountProjection(_ context.Context, accountID string) (*domain.AccountProjection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.state.projections[accountID]
	if !ok {
		return nil, ErrNoItem
	}
	return &p, nil
}

func (s *Memory) ListAccountProjections(_ context.Context, userID string) ([]domain.AccountProjection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.AccountProjection, 0)
	for _, p := range s.state.projections {
		if p.UserID == userID {
			result = append(result, p)
		}
	}
	slices.SortFunc(result, func(a, b domain.AccountProjection) int {
		return strings.Compare(a.AccountID, b.AccountID)
	})
	return result, nil
}

func (s *Memory) GetOperation(_ context.Context, operationID string) (*domain.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.state.operations[operationID]
	if !ok {
		return nil, ErrNoItem
	}
	return &o, nil
}

func (s *Memory) GetBalance(_ context.Context, accountID string) (*domain.Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.state.balances[accountID]
	if !ok {
		return nil, ErrNoItem
	}
	return &b, nil
}

func (s *Memory) EntriesByTransaction(_ context.Context, transactionID string) ([]domain.JournalEntry, error) {
	return s.entries(func(e domain.JournalEntry) bool { return e.TransactionID == transactionID }), nil
}

func (s *Memory) EntriesByAccount(_ context.Context, accountID string) ([]domain.JournalEntry, error) {
	return s.entries(func(e domain.JournalEntry) bool { return e.AccountID == accountID }), nil
}

func (s *Memory) entries(match func(domain.JournalEntry) bool) []domain.JournalEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.JournalEntry, 0)
	for _, e := range s.state.journal {
		if match(e) {
			result = append(result, e)
		}
	}
	slices.SortFunc(result, func(a, b domain.JournalEntry) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(string(b.EntryType), string(a.EntryType))
	})
	return result
}

func (s *Memory) ListTransactions(_ context.Context, accountID string, limit, offset int) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.Transaction, 0)
	for _, t := range s.state.transactions {
		if t.AccountID == accountID {
			result = append(result, t)
		}
	}
	slices.SortFunc(result, func(a, b domain.Transaction) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	if offset >= len(result) {
		return []domain.Transaction{}, nil
	}
	result = result[offset:]
	if limit >= 0 && limit < len(result) {
		result = result[:limit]
	}
	return result, nil
}

func (s *Memory) PendingOutbox(_ context.Context) ([]outboxDomain.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]outboxDomain.OutboxEvent, 0)
	for _, e := range s.state.outbox {
		if e.PublishedAt == nil {
			result = append(result, e)
		}
	}
	slices.SortFunc(result, func(a, b outboxDomain.OutboxEvent) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}
