package txstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/safakadir/digital-banking/pkg/domain"
	outboxDomain "github.com/safakadir/digital-banking/pkg/outbox/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// contractCase runs against a fresh, empty store.
type contractCase struct {
	name string
	run  func(t *testing.T, ctx context.Context, s Store)
}

// runContract checks behaviour every Store implementation shares.
func runContract(t *testing.T, newStore func(t *testing.T) Store) {
	for _, tc := range contractCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.run(t, context.Background(), newStore(t))
		})
	}
}

func requireCanceledAt(t *testing.T, err error, index int) {
	t.Helper()

	var canceled *CanceledError
	require.ErrorAs(t, err, &canceled)
	require.Equal(t, index, canceled.Index)
	require.ErrorIs(t, err, ErrConditionFailed)
}

func inboxItem(messageID string, expires time.Time) InsertInbox {
	return InsertInbox{Item: domain.InboxItem{
		Consumer:    "contract",
		MessageID:   messageID,
		ProcessedAt: time.Now().UTC(),
		ExpiresAt:   expires,
	}}
}

func outboxRow(t *testing.T, accountID string) PutOutbox {
	t.Helper()

	evt, err := outboxDomain.NewOutboxEvent(domain.TopicAccountEvents, &domain.AccountCreated{
		Envelope:  domain.NewEnvelope(domain.TypeAccountCreated, time.Now()),
		AccountID: accountID,
		UserID:    "user-1",
	}, time.Now())
	require.NoError(t, err)
	return PutOutbox{Event: evt}
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireBalance(t *testing.T, ctx context.Context, s Store, accountID, want string) {
	t.Helper()

	b, err := s.GetBalance(ctx, accountID)
	require.NoError(t, err)
	require.True(t, amount(want).Equal(b.Balance), "balance %s, want %s", b.Balance, want)
}

var contractCases = []contractCase{
	{
		name: "inbox insert is the dedupe gate",
		run: func(t *testing.T, ctx context.Context, s Store) {
			expires := time.Now().Add(time.Hour).UTC()
			require.NoError(t, s.Transact(ctx, inboxItem("m1", expires), outboxRow(t, "acc_1")))

			err := s.Transact(ctx, inboxItem("m1", expires), outboxRow(t, "acc_1"))
			requireCanceledAt(t, err, 0)

			pending, err := s.PendingOutbox(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 1)
		},
	},
	{
		name: "failed item rolls back earlier items",
		run: func(t *testing.T, ctx context.Context, s Store) {
			err := s.Transact(ctx,
				inboxItem("m1", time.Now().Add(time.Hour).UTC()),
				outboxRow(t, "acc_1"),
				AddBalance{AccountID: "acc_missing", Delta: amount("1"), At: time.Now().UTC()},
			)
			requireCanceledAt(t, err, 2)

			pending, err := s.PendingOutbox(ctx)
			require.NoError(t, err)
			require.Empty(t, pending)

			require.NoError(t, s.Transact(ctx, inboxItem("m1", time.Now().Add(time.Hour).UTC())))
		},
	},
	{
		name: "guarded debit never overdraws",
		run: func(t *testing.T, ctx context.Context, s Store) {
			now := time.Now().UTC()
			require.NoError(t, s.Transact(ctx, AddBalance{
				AccountID: "acc_1", Currency: "USD", Delta: amount("100"), At: now, CreateIfMissing: true,
			}))
			require.NoError(t, s.Transact(ctx, AddBalance{
				AccountID: "acc_1", Currency: "USD", Delta: amount("0.50"), At: now, CreateIfMissing: true,
			}))
			requireBalance(t, ctx, s, "acc_1", "100.50")

			over := amount("150")
			err := s.Transact(ctx, AddBalance{AccountID: "acc_1", Delta: over.Neg(), At: now, AtLeast: &over})
			requireCanceledAt(t, err, 0)

			exact := amount("100.50")
			require.NoError(t, s.Transact(ctx, AddBalance{AccountID: "acc_1", Delta: exact.Neg(), At: now, AtLeast: &exact}))
			requireBalance(t, ctx, s, "acc_1", "0")

			missing := amount("1")
			err = s.Transact(ctx, AddBalance{AccountID: "acc_2", Delta: missing.Neg(), At: now, AtLeast: &missing})
			requireCanceledAt(t, err, 0)
		},
	},
	{
		name: "expected balance guards the update",
		run: func(t *testing.T, ctx context.Context, s Store) {
			now := time.Now().UTC()
			require.NoError(t, s.Transact(ctx, AddBalance{
				AccountID: "acc_1", Currency: "USD", Delta: amount("40"), At: now, CreateIfMissing: true,
			}))

			stale := amount("10")
			err := s.Transact(ctx, AddBalance{AccountID: "acc_1", Delta: amount("5"), At: now, Expect: &stale})
			requireCanceledAt(t, err, 0)
			requireBalance(t, ctx, s, "acc_1", "40")

			current := amount("40.00")
			require.NoError(t, s.Transact(ctx, AddBalance{AccountID: "acc_1", Delta: amount("-15.25"), At: now, Expect: &current}))
			requireBalance(t, ctx, s, "acc_1", "24.75")

			err = s.Transact(ctx, AddBalance{AccountID: "acc_2", Delta: amount("1"), At: now, CreateIfMissing: true, Expect: &current})
			requireCanceledAt(t, err, 0)
		},
	},
	{
		name: "init balance keeps an existing row",
		run: func(t *testing.T, ctx context.Context, s Store) {
			now := time.Now().UTC()
			require.NoError(t, s.Transact(ctx, InitBalance{AccountID: "acc_1", Currency: "EUR", At: now}))
			require.NoError(t, s.Transact(ctx, AddBalance{AccountID: "acc_1", Delta: amount("50"), At: now}))
			require.NoError(t, s.Transact(ctx, InitBalance{AccountID: "acc_1", Currency: "EUR", At: now}))

			requireBalance(t, ctx, s, "acc_1", "50")

			b, err := s.GetBalance(ctx, "acc_1")
			require.NoError(t, err)
			require.Equal(t, "EUR", b.Currency)

			_, err = s.GetBalance(ctx, "acc_2")
			require.ErrorIs(t, err, domain.ErrNotFound)
		},
	},
	{
		name: "operation settles once",
		run: func(t *testing.T, ctx context.Context, s Store) {
			op := domain.Operation{
				OperationID: uuid.NewString(),
				AccountID:   "acc_1",
				UserID:      "user-1",
				Type:        domain.OperationTypeWithdraw,
				Amount:      amount("20"),
				Status:      domain.OperationStatusPending,
				CreatedAt:   time.Now().UTC(),
			}
			require.NoError(t, s.Transact(ctx, PutOperation{Operation: op}))
			requireCanceledAt(t, s.Transact(ctx, PutOperation{Operation: op}), 0)

			reason := domain.InsufficientFundsReason
			settle := SettleOperation{
				OperationID:  op.OperationID,
				Status:       domain.OperationStatusFailed,
				At:           time.Now().UTC(),
				ErrorMessage: &reason,
			}
			require.NoError(t, s.Transact(ctx, settle))
			requireCanceledAt(t, s.Transact(ctx, settle), 0)

			got, err := s.GetOperation(ctx, op.OperationID)
			require.NoError(t, err)
			require.Equal(t, domain.OperationStatusFailed, got.Status)
			require.NotNil(t, got.CompletedAt)
			require.NotNil(t, got.ErrorMessage)
			require.Equal(t, reason, *got.ErrorMessage)
			require.True(t, op.Amount.Equal(got.Amount))

			requireCanceledAt(t, s.Transact(ctx, SettleOperation{
				OperationID: "missing",
				Status:      domain.OperationStatusCompleted,
				At:          time.Now().UTC(),
			}), 0)

			_, err = s.GetOperation(ctx, "missing")
			require.ErrorIs(t, err, domain.ErrNotFound)
		},
	},
	{
		name: "account closes once",
		run: func(t *testing.T, ctx context.Context, s Store) {
			base := time.Now().UTC().Add(-time.Minute)
			for i, id := range []string{"acc_1", "acc_2"} {
				at := base.Add(time.Duration(i) * time.Second)
				require.NoError(t, s.Transact(ctx, PutAccount{Account: domain.Account{
					AccountID: id,
					UserID:    "user-1",
					Name:      "Main",
					Currency:  "USD",
					Status:    domain.AccountStatusActive,
					CreatedAt: at,
					UpdatedAt: at,
				}}))
			}
			requireCanceledAt(t, s.Transact(ctx, PutAccount{Account: domain.Account{
				AccountID: "acc_1", UserID: "user-2", Status: domain.AccountStatusActive,
			}}), 0)

			require.NoError(t, s.Transact(ctx, CloseAccount{AccountID: "acc_1", At: time.Now().UTC()}))
			requireCanceledAt(t, s.Transact(ctx, CloseAccount{AccountID: "acc_1", At: time.Now().UTC()}), 0)
			requireCanceledAt(t, s.Transact(ctx, CloseAccount{AccountID: "acc_x", At: time.Now().UTC()}), 0)

			acc, err := s.GetAccount(ctx, "acc_1")
			require.NoError(t, err)
			require.Equal(t, domain.AccountStatusClosed, acc.Status)
			require.Equal(t, "user-1", acc.UserID)
			require.NotNil(t, acc.ClosedAt)

			accounts, err := s.ListAccounts(ctx, "user-1")
			require.NoError(t, err)
			require.Len(t, accounts, 2)
			require.Equal(t, "acc_2", accounts[0].AccountID)

			_, err = s.GetAccount(ctx, "acc_x")
			require.ErrorIs(t, err, domain.ErrNotFound)
		},
	},
	{
		name: "closed projection is a tombstone",
		run: func(t *testing.T, ctx context.Context, s Store) {
			active := domain.AccountProjection{
				AccountID: "acc_1",
				UserID:    "user-1",
				Status:    domain.AccountStatusActive,
				Name:      "Main",
				Currency:  "USD",
			}
			require.NoError(t, s.Transact(ctx, PutAccountProjection{Projection: active}))
			requireCanceledAt(t, s.Transact(ctx, PutAccountProjection{Projection: active}), 0)

			require.NoError(t, s.Transact(ctx, CloseAccountProjection{Projection: domain.AccountProjection{
				AccountID: "acc_2",
				UserID:    "user-1",
			}}))
			requireCanceledAt(t, s.Transact(ctx, PutAccountProjection{Projection: domain.AccountProjection{
				AccountID: "acc_2",
				UserID:    "user-1",
				Status:    domain.AccountStatusActive,
			}}), 0)

			require.NoError(t, s.Transact(ctx, CloseAccountProjection{Projection: domain.AccountProjection{
				AccountID: "acc_1",
				UserID:    "user-1",
			}}))

			p, err := s.GetAccountProjection(ctx, "acc_1")
			require.NoError(t, err)
			require.Equal(t, domain.AccountStatusClosed, p.Status)
			require.Equal(t, "Main", p.Name)

			projections, err := s.ListAccountProjections(ctx, "user-1")
			require.NoError(t, err)
			require.Len(t, projections, 2)
			for _, p := range projections {
				require.Equal(t, domain.AccountStatusClosed, p.Status)
			}

			_, err = s.GetAccountProjection(ctx, "acc_x")
			require.ErrorIs(t, err, domain.ErrNotFound)
		},
	},
	{
		name: "transactions page newest first",
		run: func(t *testing.T, ctx context.Context, s Store) {
			base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
			ids := make([]string, 4)
			for i := range ids {
				ids[i] = uuid.NewString()
				require.NoError(t, s.Transact(ctx, PutTransaction{Transaction: domain.Transaction{
					ID:        ids[i],
					AccountID: "acc_1",
					Type:      domain.OperationTypeDeposit,
					Amount:    amount("1"),
					Balance:   decimal.NewFromInt(int64(i + 1)),
					Status:    domain.TransactionStatusCompleted,
					Timestamp: base.Add(time.Duration(i) * time.Minute),
				}}))
			}
			requireCanceledAt(t, s.Transact(ctx, PutTransaction{Transaction: domain.Transaction{
				ID:        ids[0],
				AccountID: "acc_1",
				Type:      domain.OperationTypeDeposit,
				Amount:    amount("1"),
				Status:    domain.TransactionStatusCompleted,
				Timestamp: base,
			}}), 0)

			page, err := s.ListTransactions(ctx, "acc_1", 2, 1)
			require.NoError(t, err)
			require.Len(t, page, 2)
			require.Equal(t, ids[2], page[0].ID)
			require.Equal(t, ids[1], page[1].ID)

			rest, err := s.ListTransactions(ctx, "acc_1", 10, 3)
			require.NoError(t, err)
			require.Len(t, rest, 1)
			require.Equal(t, ids[0], rest[0].ID)

			none, err := s.ListTransactions(ctx, "acc_2", 10, 0)
			require.NoError(t, err)
			require.Empty(t, none)
		},
	},
	{
		name: "journal reads",
		run: func(t *testing.T, ctx context.Context, s Store) {
			txID := uuid.NewString()
			now := time.Now().UTC()
			entry := func(account string, kind domain.EntryType) Op {
				return PutJournalEntry{Entry: domain.JournalEntry{
					ID:            uuid.NewString(),
					TransactionID: txID,
					AccountID:     account,
					UserID:        "user-1",
					OperationID:   "op-1",
					EntryType:     kind,
					Amount:        amount("12.34"),
					CreatedAt:     now,
				}}
			}
			require.NoError(t, s.Transact(ctx, entry("SYSTEM_CASH", domain.EntryTypeDebit), entry("acc_1", domain.EntryTypeCredit)))

			entries, err := s.EntriesByTransaction(ctx, txID)
			require.NoError(t, err)
			require.Len(t, entries, 2)

			sum := decimal.Zero
			for _, e := range entries {
				sum = sum.Add(e.Signed())
			}
			require.True(t, sum.IsZero())

			byAccount, err := s.EntriesByAccount(ctx, "acc_1")
			require.NoError(t, err)
			require.Len(t, byAccount, 1)
			require.Equal(t, domain.EntryTypeCredit, byAccount[0].EntryType)
		},
	},
	{
		name: "outbox patch rewrites a pending row",
		run: func(t *testing.T, ctx context.Context, s Store) {
			row := outboxRow(t, "acc_1")
			require.NoError(t, s.Transact(ctx, row))

			patched := []byte(`{"id":"x","type":"CREATE_ACCOUNT_EVENT","accountId":"acc_1","name":"patched"}`)
			require.NoError(t, s.Transact(ctx, PatchOutbox{ID: row.Event.ID, Payload: patched}))
			require.NoError(t, s.Transact(ctx, PatchOutbox{ID: "missing", Payload: patched}))

			pending, err := s.PendingOutbox(ctx)
			require.NoError(t, err)
			require.Len(t, pending, 1)
			require.JSONEq(t, string(patched), string(pending[0].Payload))
			require.Equal(t, "acc_1", pending[0].AggregateID)
		},
	},
	{
		name: "purge removes expired inbox rows",
		run: func(t *testing.T, ctx context.Context, s Store) {
			now := time.Now().UTC()
			require.NoError(t, s.Transact(ctx, inboxItem("old", now.Add(-time.Minute))))
			require.NoError(t, s.Transact(ctx, inboxItem("fresh", now.Add(time.Hour))))

			n, err := s.PurgeInbox(ctx, now)
			require.NoError(t, err)
			require.EqualValues(t, 1, n)

			require.NoError(t, s.Transact(ctx, inboxItem("old", now.Add(time.Hour))))
			requireCanceledAt(t, s.Transact(ctx, inboxItem("fresh", now.Add(time.Hour))), 0)
		},
	},
	{
		name: "canceled context",
		run: func(t *testing.T, ctx context.Context, s Store) {
			ctx, cancel := context.WithCancel(ctx)
			cancel()

			err := s.Transact(ctx, inboxItem("m1", time.Now().Add(time.Hour)))
			require.Error(t, err)
			require.False(t, errors.Is(err, ErrConditionFailed))
		},
	},
}
