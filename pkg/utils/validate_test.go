package utils

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type moneyRequest struct {
	Amount      decimal.Decimal `json:"amount" validate:"required,gt=0"`
	Currency    string          `json:"currency" validate:"omitempty,len=3,uppercase"`
	Description string          `json:"description,omitempty" validate:"max=5"`
}

func TestNewValidator_Decimal(t *testing.T) {
	v := NewValidator()

	require.NoError(t, v.Struct(moneyRequest{Amount: decimal.RequireFromString("0.01")}))

	tests := []struct {
		name  string
		req   moneyRequest
		field string
	}{
		{name: "zero", req: moneyRequest{}, field: "amount"},
		{name: "negative", req: moneyRequest{Amount: decimal.NewFromInt(-1)}, field: "amount"},
		{name: "currency", req: moneyRequest{Amount: decimal.NewFromInt(1), Currency: "usd"}, field: "currency"},
		{name: "description", req: moneyRequest{Amount: decimal.NewFromInt(1), Description: "too long"}, field: "description"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := FormatValidationError(v.Struct(tt.req))
			require.Contains(t, fields, tt.field)
		})
	}
}

func TestFormatValidationError_Other(t *testing.T) {
	fields := FormatValidationError(errors.New("unexpected"))
	require.Equal(t, map[string]string{"request": "unexpected"}, fields)
}
