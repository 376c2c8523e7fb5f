package domain

import (
	"fmt"
	"time"

	ledger "github.com/safakadir/digital-banking/pkg/domain"
	"github.com/shopspring/decimal"
)

const (
	DepositCashDescription     = "Deposit - External Cash"
	DepositAccountDescription  = "Deposit - Customer Account"
	WithdrawAccountDescription = "Withdraw - Customer Account"
	WithdrawCashDescription    = "Withdraw - External Cash"
)

// Movement is one customer money movement against the clearing account.
type Movement struct {
	TransactionID string
	AccountID     string
	UserID        string
	OperationID   string
	Amount        decimal.Decimal
	At            time.Time
}

// DepositEntries debits the clearing account and credits the customer.
func DepositEntries(m Movement, newID func() string) []ledger.JournalEntry {
	return []ledger.JournalEntry{
		m.entry(newID(), ledger.SystemCashAccountID, ledger.EntryTypeDebit, DepositCashDescription),
		m.entry(newID(), m.AccountID, ledger.EntryTypeCredit, DepositAccountDescription),
	}
}

// WithdrawEntries debits the customer and credits the clearing account.
func WithdrawEntries(m Movement, newID func() string) []ledger.JournalEntry {
	return []ledger.JournalEntry{
		m.entry(newID(), m.AccountID, ledger.EntryTypeDebit, WithdrawAccountDescription),
		m.entry(newID(), ledger.SystemCashAccountID, ledger.EntryTypeCredit, WithdrawCashDescription),
	}
}

func (m Movement) entry(id, accountID string, entryType ledger.EntryType, description string) ledger.JournalEntry {
	return ledger.JournalEntry{
		ID:            id,
		TransactionID: m.TransactionID,
		AccountID:     accountID,
		UserID:        m.UserID,
		OperationID:   m.OperationID,
		EntryType:     entryType,
		Amount:        m.Amount,
		Description:   description,
		CreatedAt:     m.At,
	}
}

// VerifyTransaction checks the double-entry rule for the entries of one
// transaction: one debit and one credit of the same positive amount on two
// different accounts.
func VerifyTransaction(entries []ledger.JournalEntry) error {
	if len(entries) != 2 {
		return fmt.Errorf("%w: transaction has %d entries, want 2", ledger.ErrInvariantViolation, len(entries))
	}

	a, b := entries[0], entries[1]
	if a.TransactionID == "" || a.TransactionID != b.TransactionID {
		return fmt.Errorf("%w: entries belong to transactions %q and %q", ledger.ErrInvariantViolation, a.TransactionID, b.TransactionID)
	}
	if a.AccountID == b.AccountID {
		return fmt.Errorf("%w: transaction %s posts both sides to %s", ledger.ErrInvariantViolation, a.TransactionID, a.AccountID)
	}

	debits, credits := 0, 0
	sum := decimal.Zero
	for _, e := range entries {
		if !e.Amount.IsPositive() {
			return fmt.Errorf("%w: entry %s has non-positive amount %s", ledger.ErrInvariantViolation, e.ID, e.Amount)
		}
		switch e.EntryType {
		case ledger.EntryTypeDebit:
			debits++
		case ledger.EntryTypeCredit:
			credits++
		default:
			return fmt.Errorf("%w: entry %s has type %q", ledger.ErrInvariantViolation, e.ID, e.EntryType)
		}
		sum = sum.Add(e.Signed())
	}

	if debits != 1 || credits != 1 {
		return fmt.Errorf("%w: transaction %s has %d debits and %d credits", ledger.ErrInvariantViolation, a.TransactionID, debits, credits)
	}
	if !sum.IsZero() {
		return fmt.Errorf("%w: transaction %s does not balance (sum %s)", ledger.ErrInvariantViolation, a.TransactionID, sum)
	}
	return nil
}
