package domain

import (
	"strings"
	"time"

	ledger "github.com/safakadir/digital-banking/pkg/domain"
	"github.com/shopspring/decimal"
)

const (
	DepositDescription  = "Deposit operation"
	WithdrawDescription = "Withdraw operation"
)

type OperationRequest struct {
	AccountID      string
	UserID         string
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string
}

// MoneyRequest is the body of a deposit or withdraw call.
type MoneyRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"required,gt=0"`
	Description string          `json:"description,omitempty" validate:"max=255"`
}

type OperationAccepted struct {
	OperationID string `json:"operationId"`
	Status      string `json:"status"`
}

type OperationView struct {
	OperationID  string          `json:"operationId"`
	Status       string          `json:"status"`
	Type         string          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	AccountID    string          `json:"accountId"`
	Timestamp    time.Time       `json:"timestamp"`
	ErrorMessage *string         `json:"errorMessage,omitempty"`
}

func NewOperationAccepted(op *ledger.Operation) OperationAccepted {
	return OperationAccepted{
		OperationID: op.OperationID,
		Status:      strings.ToUpper(string(op.Status)),
	}
}

// NewOperationView reports the settlement time once the operation is
// terminal and its creation time before that.
func NewOperationView(op *ledger.Operation) OperationView {
	ts := op.CreatedAt
	if op.CompletedAt != nil {
		ts = *op.CompletedAt
	}

	return OperationView{
		OperationID:  op.OperationID,
		Status:       strings.ToUpper(string(op.Status)),
		Type:         strings.ToUpper(string(op.Type)),
		Amount:       op.Amount,
		AccountID:    op.AccountID,
		Timestamp:    ts,
		ErrorMessage: op.ErrorMessage,
	}
}
