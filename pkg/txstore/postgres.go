package txstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/safakadir/digital-banking/pkg/domain"
	"github.com/safakadir/digital-banking/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Postgres runs every Transact call as one pgx transaction. Preconditions
// are expressed in the WHERE / ON CONFLICT clause of each statement, so a
// statement touching no rows is a failed precondition.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *Postgres {
	return &Postgres{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("txstore"),
	}
}

func (s *Postgres) Transact(ctx context.Context, ops ...Op) error {
	ctx, span := s.tracer.Start(ctx, "Store.Transact")
	defer span.End()

	span.SetAttributes(attribute.Int("items", len(ops)))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			mylogger.Error(ctx, s.logger, "Failed to rollback transaction", zap.Error(rbErr))
		}
	}()

	a := pgApplier{tx: tx}
	for i, op := range ops {
		if err := op.apply(ctx, a); err != nil {
			if errors.Is(err, ErrConditionFailed) {
				span.SetAttributes(attribute.Int("failed_item", i), attribute.String("failed_op", op.Name()))
				return &CanceledError{Index: i, Op: op}
			}

			span.RecordError(err)
			span.SetStatus(codes.Error, "transaction item failed")
			return fmt.Errorf("%s: %w", op.Name(), err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func (s *Postgres) PurgeInbox(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM inbox WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge inbox: %w", err)
	}
	return tag.RowsAffected(), nil
}

type pgApplier struct {
	tx pgx.Tx
}

func (a pgApplier) execCond(ctx context.Context, query string, args ...any) error {
	tag, err := a.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConditionFailed
	}
	return nil
}

func (a pgApplier) insertInbox(ctx context.Context, op InsertInbox) error {
	query := `
		INSERT INTO inbox (consumer, message_id, processed_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (consumer, message_id) DO NOTHING
	`
	i := op.Item
	return a.execCond(ctx, query, i.Consumer, i.MessageID, i.ProcessedAt, i.ExpiresAt)
}

func (a pgApplier) putJournalEntry(ctx context.Context, op PutJournalEntry) error {
	query := `
		INSERT INTO journal_entries
			(id, transaction_id, account_id, user_id, operation_id, entry_type, amount, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	e := op.Entry
	_, err := a.tx.Exec(ctx, query,
		e.ID, e.TransactionID, e.AccountID, e.UserID, e.OperationID,
		string(e.EntryType), e.Amount, e.Description, e.CreatedAt,
	)
	return err
}

func (a pgApplier) addBalance(ctx context.Context, op AddBalance) error {
	if op.CreateIfMissing && op.AtLeast == nil && op.Expect == nil {
		query := `
			INSERT INTO balances (account_id, balance, currency, last_updated)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (account_id) DO UPDATE
			SET balance = balances.balance + EXCLUDED.balance,
				currency = COALESCE(NULLIF(balances.currency, ''), EXCLUDED.currency),
				last_updated = EXCLUDED.last_updated
		`
		return a.execCond(ctx, query, op.AccountID, op.Delta, op.Currency, op.At)
	}

	query := `
		UPDATE balances
		SET balance = balance + $1, last_updated = $2
		WHERE account_id = $3`
	args := []any{op.Delta, op.At, op.AccountID}

	if op.AtLeast != nil {
		args = append(args, *op.AtLeast)
		query += fmt.Sprintf(" AND balance >= $%d", len(args))
	}
	if op.Expect != nil {
		args = append(args, *op.Expect)
		query += fmt.Sprintf(" AND balance = $%d", len(args))
	}

	return a.execCond(ctx, query, args...)
}

func (a pgApplier) initBalance(ctx context.Context, op InitBalance) error {
	query := `
		INSERT INTO balances (account_id, balance, currency, last_updated)
		VALUES ($1, 0, $2, $3)
		ON CONFLICT (account_id) DO NOTHING
	`
	_, err := a.tx.Exec(ctx, query, op.AccountID, op.Currency, op.At)
	return err
}

func (a pgApplier) putOutbox(ctx context.Context, op PutOutbox) error {
	query := `
		INSERT INTO outbox (id, topic, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	e := op.Event
	_, err := a.tx.Exec(ctx, query, e.ID, e.Topic, e.AggregateID, string(e.EventType), e.Payload, e.CreatedAt)
	return err
}

func (a pgApplier) patchOutbox(ctx context.Context, op PatchOutbox) error {
	query := `
		UPDATE outbox
		SET payload = $1
		WHERE id = $2 AND published_at IS NULL
	`
	_, err := a.tx.Exec(ctx, query, op.Payload, op.ID)
	return err
}

func (a pgApplier) putOperation(ctx context.Context, op PutOperation) error {
	query := `
		INSERT INTO operations (operation_id, account_id, user_id, type, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (operation_id) DO NOTHING
	`
	o := op.Operation
	return a.execCond(ctx, query, o.OperationID, o.AccountID, o.UserID, string(o.Type), o.Amount, string(o.Status), o.CreatedAt)
}

func (a pgApplier) settleOperation(ctx context.Context, op SettleOperation) error {
	query := `
		UPDATE operations
		SET status = $1, completed_at = $2, error_message = $3
		WHERE operation_id = $4 AND status = $5
	`
	return a.execCond(ctx, query, string(op.Status), op.At, op.ErrorMessage, op.OperationID, string(domain.OperationStatusPending))
}

func (a pgApplier) putAccount(ctx context.Context, op PutAccount) error {
	query := `
		INSERT INTO accounts (account_id, user_id, name, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id) DO NOTHING
	`
	acc := op.Account
	return a.execCond(ctx, query, acc.AccountID, acc.UserID, acc.Name, acc.Currency, string(acc.Status), acc.CreatedAt, acc.UpdatedAt)
}

func (a pgApplier) closeAccount(ctx context.Context, op CloseAccount) error {
	query := `
		UPDATE accounts
		SET status = $1, closed_at = $2, updated_at = $2
		WHERE account_id = $3 AND status = $4
	`
	return a.execCond(ctx, query, string(domain.AccountStatusClosed), op.At, op.AccountID, string(domain.AccountStatusActive))
}

func (a pgApplier) putAccountProjection(ctx context.Context, op PutAccountProjection) error {
	query := `
		INSERT INTO account_projections (account_id, user_id, status, name, currency)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id) DO NOTHING
	`
	p := op.Projection
	return a.execCond(ctx, query, p.AccountID, p.UserID, string(p.Status), p.Name, p.Currency)
}

func (a pgApplier) closeAccountProjection(ctx context.Context, op CloseAccountProjection) error {
	query := `
		INSERT INTO account_projections (account_id, user_id, status, name, currency)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id) DO UPDATE SET status = EXCLUDED.status
	`
	p := op.Projection
	_, err := a.tx.Exec(ctx, query, p.AccountID, p.UserID, string(domain.AccountStatusClosed), p.Name, p.Currency)
	return err
}

func (a pgApplier) putTransaction(ctx context.Context, op PutTransaction) error {
	query := `
		INSERT INTO transactions (id, account_id, type, amount, balance, status, timestamp, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	t := op.Transaction
	return a.execCond(ctx, query, t.ID, t.AccountID, string(t.Type), t.Amount, t.Balance, string(t.Status), t.Timestamp, t.Description)
}
