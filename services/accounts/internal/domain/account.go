package domain

import (
	"strings"

	"github.com/google/uuid"
)

const (
	AccountIDPrefix = "acc_"
	DefaultCurrency = "USD"
)

// NewAccountID returns an opaque account id such as acc_3f2a...
func NewAccountID() string {
	return AccountIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

type CreateAccountRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Currency string `json:"currency" validate:"omitempty,len=3,uppercase"`
}

type CloseAccountRequest struct {
	Reason string `json:"reason" validate:"max=255"`
}
