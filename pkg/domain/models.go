package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SystemCashAccountID is the clearing account on the other side of every
// customer money movement.
const SystemCashAccountID = "SYSTEM_CASH"

type AccountStatus string

const (
	AccountStatusActive    AccountStatus = "ACTIVE"
	AccountStatusClosed    AccountStatus = "CLOSED"
	AccountStatusSuspended AccountStatus = "SUSPENDED"
)

type Account struct {
	AccountID string        `json:"accountId" db:"account_id"`
	UserID    string        `json:"userId" db:"user_id"`
	Name      string        `json:"name" db:"name"`
	Currency  string        `json:"currency" db:"currency"`
	Status    AccountStatus `json:"status" db:"status"`
	CreatedAt time.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time     `json:"updatedAt" db:"updated_at"`
	ClosedAt  *time.Time    `json:"closedAt,omitempty" db:"closed_at"`
}

// AccountProjection is the read-only copy of an Account kept by consumers of
// lifecycle events.
type AccountProjection struct {
	AccountID string        `json:"accountId" db:"account_id"`
	UserID    string        `json:"userId" db:"user_id"`
	Status    AccountStatus `json:"status" db:"status"`
	Name      string        `json:"name,omitempty" db:"name"`
	Currency  string        `json:"currency,omitempty" db:"currency"`
}

type OperationType string

const (
	OperationTypeDeposit  OperationType = "deposit"
	OperationTypeWithdraw OperationType = "withdraw"
)

type OperationStatus string

const (
	OperationStatusPending   OperationStatus = "pending"
	OperationStatusCompleted OperationStatus = "completed"
	OperationStatusFailed    OperationStatus = "failed"
)

func (s OperationStatus) Terminal() bool {
	return s == OperationStatusCompleted || s == OperationStatusFailed
}

type Operation struct {
	OperationID  string          `json:"operationId" db:"operation_id"`
	AccountID    string          `json:"accountId" db:"account_id"`
	UserID       string          `json:"userId" db:"user_id"`
	Type         OperationType   `json:"type" db:"type"`
	Amount       decimal.Decimal `json:"amount" db:"amount"`
	Status       OperationStatus `json:"status" db:"status"`
	CreatedAt    time.Time       `json:"createdAt" db:"created_at"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
	ErrorMessage *string         `json:"errorMessage,omitempty" db:"error_message"`
}

type EntryType string

const (
	EntryTypeDebit  EntryType = "DEBIT"
	EntryTypeCredit EntryType = "CREDIT"
)

type JournalEntry struct {
	ID            string          `json:"id" db:"id"`
	TransactionID string          `json:"transactionId" db:"transaction_id"`
	AccountID     string          `json:"accountId" db:"account_id"`
	UserID        string          `json:"userId" db:"user_id"`
	OperationID   string          `json:"operationId" db:"operation_id"`
	EntryType     EntryType       `json:"entryType" db:"entry_type"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Description   string          `json:"description" db:"description"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
}

// AmountScale is the number of decimal places every stored amount and
// balance carries.
const AmountScale = 2

// ValidAmount reports whether d is a positive amount the ledger can store
// without rounding.
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Truncate(AmountScale))
}

// Signed returns the entry amount as it contributes to its transaction sum:
// debits positive, credits negative.
func (e JournalEntry) Signed() decimal.Decimal {
	if e.EntryType == EntryTypeCredit {
		return e.Amount.Neg()
	}
	return e.Amount
}

type Balance struct {
	AccountID   string          `json:"accountId" db:"account_id"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	Currency    string          `json:"currency" db:"currency"`
	LastUpdated time.Time       `json:"lastUpdated" db:"last_updated"`
}

type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
)

// Transaction is a row of the account history read model, keyed by the
// operation that produced it.
type Transaction struct {
	ID          string            `json:"id" db:"id"`
	AccountID   string            `json:"accountId" db:"account_id"`
	Type        OperationType     `json:"type" db:"type"`
	Amount      decimal.Decimal   `json:"amount" db:"amount"`
	Balance     decimal.Decimal   `json:"balance" db:"balance"`
	Status      TransactionStatus `json:"status" db:"status"`
	Timestamp   time.Time         `json:"timestamp" db:"timestamp"`
	Description string            `json:"description,omitempty" db:"description"`
}

type BalanceWithAccount struct {
	Balance
	AccountName string        `json:"accountName"`
	Status      AccountStatus `json:"status"`
}

type InboxItem struct {
	Consumer    string    `db:"consumer"`
	MessageID   string    `db:"message_id"`
	ProcessedAt time.Time `db:"processed_at"`
	ExpiresAt   time.Time `db:"expires_at"`
}
