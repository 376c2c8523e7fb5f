package domain

import ledger "github.com/safakadir/digital-banking/pkg/domain"

const (
	DefaultTransactionsLimit = 50
	MaxTransactionsLimit     = 100

	UnknownAccountName = "Unknown Account"

	DepositDescription  = "Deposit"
	WithdrawDescription = "Withdraw"
)

// Page bounds a transaction history read.
type Page struct {
	Limit  int
	Offset int
}

// NewPage bounds the requested window: a non-positive limit falls back to
// the default, limit is capped and a negative offset starts at zero.
func NewPage(limit, offset int) Page {
	p := Page{Limit: DefaultTransactionsLimit}

	if limit > 0 {
		p.Limit = min(limit, MaxTransactionsLimit)
	}
	if offset > 0 {
		p.Offset = offset
	}
	return p
}

type BalancesResponse struct {
	Balances []ledger.BalanceWithAccount `json:"balances"`
}

type TransactionsResponse struct {
	AccountID    string               `json:"accountId"`
	Transactions []ledger.Transaction `json:"transactions"`
	Limit        int                  `json:"limit"`
	Offset       int                  `json:"offset"`
}
