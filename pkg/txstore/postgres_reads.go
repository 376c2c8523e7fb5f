package txstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/safakadir/digital-banking/pkg/domain"
	outboxDomain "github.com/safakadir/digital-banking/pkg/outbox/domain"
)

func (s *Postgres) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	ctx, span := s.tracer.Start(ctx, "Store.GetAccount")
	defer span.End()

	query := `
		SELECT account_id, user_id, name, currency, status, created_at, updated_at, closed_at
		FROM accounts
		WHERE account_id = $1
	`

	acc, err := scanAccount(s.pool.QueryRow(ctx, query, accountID))
	if err != nil {
		return nil, notFound(err, "get account")
	}
	return acc, nil
}

func (s *Postgres) ListAccounts(ctx context.Context, userID string) ([]domain.Account, error) {
	ctx, span := s.tracer.Start(ctx, "Store.ListAccounts")
	defer span.End()

	query := `
		SELECT account_id, user_id, name, currency, status, created_at, updated_at, closed_at
		FROM accounts
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Account, 0)
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		result = append(result, *acc)
	}
	return result, rows.Err()
}

func (s *Postgres) GetAccountProjection(ctx context.Context, accountID string) (*domain.AccountProjection, error) {
	ctx, span := s.tracer.Start(ctx, "Store.GetAccountProjection")
	defer span.End()

	query := `
		SELECT account_id, user_id, status, name, currency
		FROM account_projections
		WHERE account_id = $1
	`

	var p domain.AccountProjection
	if err := s.pool.QueryRow(ctx, query, accountID).Scan(&p.AccountID, &p.UserID, &p.Status, &p.Name, &p.Currency); err != nil {
		return nil, notFound(err, "get account projection")
	}
	return &p, nil
}

func (s *Postgres) ListAccountProjections(ctx context.Context, userID string) ([]domain.AccountProjection, error) {
	ctx, span := s.tracer.Start(ctx, "Store.ListAccountProjections")
	defer span.End()

	query := `
		SELECT account_id, user_id, status, name, currency
		FROM account_projections
		WHERE user_id = $1
		ORDER BY account_id
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list account projections: %w", err)
	}
	defer rows.Close()

	result := make([]domain.AccountProjection, 0)
	for rows.Next() {
		var p domain.AccountProjection
		if err := rows.Scan(&p.AccountID, &p.UserID, &p.Status, &p.Name, &p.Currency); err != nil {
			return nil, fmt.Errorf("scan account projection: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *Postgres) GetOperation(ctx context.Context, operationID string) (*domain.Operation, error) {
	ctx, span := s.tracer.Start(ctx, "Store.GetOperation")
	defer span.End()

	query := `
		SELECT operation_id, account_id, user_id, type, amount, status, created_at, completed_at, error_message
		FROM operations
		WHERE operation_id = $1
	`

	var o domain.Operation
	if err := s.pool.QueryRow(ctx, query, operationID).Scan(
		&o.OperationID,
		&o.AccountID,
		&o.UserID,
		&o.Type,
		&o.Amount,
		&o.Status,
		&o.CreatedAt,
		&o.CompletedAt,
		&o.ErrorMessage,
	); err != nil {
		return nil, notFound(err, "get operation")
	}
	return &o, nil
}

func (s *Postgres) GetBalance(ctx context.Context, accountID string) (*domain.Balance, error) {
	ctx, span := s.tracer.Start(ctx, "Store.GetBalance")
	defer span.End()

	query := `
		SELECT account_id, balance, currency, last_updated
		FROM balances
		WHERE account_id = $1
	`

	var b domain.Balance
	if err := s.pool.QueryRow(ctx, query, accountID).Scan(&b.AccountID, &b.Balance, &b.Currency, &b.LastUpdated); err != nil {
		return nil, notFound(err, "get balance")
	}
	return &b, nil
}

func (s *Postgres) EntriesByTransaction(ctx context.Context, transactionID string) ([]domain.JournalEntry, error) {
	return s.listEntries(ctx, "transaction_id", transactionID)
}

func (s *Postgres) EntriesByAccount(ctx context.Context, accountID string) ([]domain.JournalEntry, error) {
	return s.listEntries(ctx, "account_id", accountID)
}

func (s *Postgres) listEntries(ctx context.Context, column, value string) ([]domain.JournalEntry, error) {
	ctx, span := s.tracer.Start(ctx, "Store.ListJournalEntries")
	defer span.End()

	query := `
		SELECT id, transaction_id, account_id, user_id, operation_id, entry_type, amount, description, created_at
		FROM journal_entries
		WHERE ` + pgx.Identifier{column}.Sanitize() + ` = $1
		ORDER BY created_at, entry_type DESC
	`

	rows, err := s.pool.Query(ctx, query, value)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	result := make([]domain.JournalEntry, 0)
	for rows.Next() {
		var e domain.JournalEntry
		if err := rows.Scan(
			&e.ID,
			&e.TransactionID,
			&e.AccountID,
			&e.UserID,
			&e.OperationID,
			&e.EntryType,
			&e.Amount,
			&e.Description,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (s *Postgres) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]domain.Transaction, error) {
	ctx, span := s.tracer.Start(ctx, "Store.ListTransactions")
	defer span.End()

	query := `
		SELECT id, account_id, type, amount, balance, status, timestamp, description
		FROM transactions
		WHERE account_id = $1
		ORDER BY timestamp DESC, id
		LIMIT $2 OFFSET $3
	`

	rows, err := s.pool.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Transaction, 0)
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Type, &t.Amount, &t.Balance, &t.Status, &t.Timestamp, &t.Description); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *Postgres) PendingOutbox(ctx context.Context) ([]outboxDomain.OutboxEvent, error) {
	query := `
		SELECT id, topic, aggregate_id, event_type, payload, created_at, published_at, attempts, last_error
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}
	defer rows.Close()

	result := make([]outboxDomain.OutboxEvent, 0)
	for rows.Next() {
		var e outboxDomain.OutboxEvent
		if err := rows.Scan(
			&e.ID,
			&e.Topic,
			&e.AggregateID,
			&e.EventType,
			&e.Payload,
			&e.CreatedAt,
			&e.PublishedAt,
			&e.Attempts,
			&e.LastError,
		); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var acc domain.Account
	if err := row.Scan(
		&acc.AccountID,
		&acc.UserID,
		&acc.Name,
		&acc.Currency,
		&acc.Status,
		&acc.CreatedAt,
		&acc.UpdatedAt,
		&acc.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &acc, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNoItem
	}
	return fmt.Errorf("%s: %w", what, err)
}
