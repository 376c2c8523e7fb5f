package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type MessageType string

const (
	TypeDepositCommand    MessageType = "DEPOSIT_CMD"
	TypeWithdrawCommand   MessageType = "WITHDRAW_CMD"
	TypeDepositSucceeded  MessageType = "DEPOSIT_EVENT"
	TypeWithdrawSucceeded MessageType = "WITHDRAW_SUCCESS_EVENT"
	TypeWithdrawFailed    MessageType = "WITHDRAW_FAILED_EVENT"
	TypeAccountCreated    MessageType = "CREATE_ACCOUNT_EVENT"
	TypeAccountClosed     MessageType = "CLOSE_ACCOUNT_EVENT"
)

const (
	TopicBankingCommands = "banking.commands"
	TopicLedgerEvents    = "ledger.events"
	TopicAccountEvents   = "account.events"
)

const InsufficientFundsReason = "Insufficient funds"

// Message is anything that travels through an outbox row.
type Message interface {
	MessageID() string
	MessageType() MessageType
	// PartitionKey keeps messages of one account on one partition.
	PartitionKey() string
}

type Envelope struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewEnvelope(t MessageType, now time.Time) Envelope {
	return Envelope{ID: uuid.NewString(), Type: t, Timestamp: now.UTC()}
}

func (e Envelope) MessageID() string        { return e.ID }
func (e Envelope) MessageType() MessageType { return e.Type }

// CommandHandler must handle every command variant. Adding a command adds a
// method here, so every consumer stops compiling until it handles it.
type CommandHandler interface {
	HandleDeposit(ctx context.Context, cmd *DepositCommand) error
	HandleWithdraw(ctx context.Context, cmd *WithdrawCommand) error
}

type Command interface {
	Message
	Dispatch(ctx context.Context, h CommandHandler) error
}

type CommandBody struct {
	AccountID   string          `json:"accountId"`
	UserID      string          `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	OperationID string          `json:"operationId"`
	Currency    string          `json:"currency,omitempty"`
	Description string          `json:"description,omitempty"`
}

func (b CommandBody) PartitionKey() string { return b.AccountID }

func (b CommandBody) validate() error {
	if b.AccountID == "" || b.UserID == "" || b.OperationID == "" {
		return fmt.Errorf("%w: accountId, userId and operationId are required", ErrMalformedMessage)
	}
	if !ValidAmount(b.Amount) {
		return fmt.Errorf("%w: amount %s is not a positive amount of scale %d", ErrMalformedMessage, b.Amount, AmountScale)
	}
	return nil
}

type DepositCommand struct {
	Envelope
	CommandBody
}

func (c *DepositCommand) Dispatch(ctx context.Context, h CommandHandler) error {
	return h.HandleDeposit(ctx, c)
}

type WithdrawCommand struct {
	Envelope
	CommandBody
}

func (c *WithdrawCommand) Dispatch(ctx context.Context, h CommandHandler) error {
	return h.HandleWithdraw(ctx, c)
}

// EventHandler must handle every event variant.
type EventHandler interface {
	HandleAccountCreated(ctx context.Context, e *AccountCreated) error
	HandleAccountClosed(ctx context.Context, e *AccountClosed) error
	HandleDepositSucceeded(ctx context.Context, e *DepositSucceeded) error
	HandleWithdrawSucceeded(ctx context.Context, e *WithdrawSucceeded) error
	HandleWithdrawFailed(ctx context.Context, e *WithdrawFailed) error
}

type Event interface {
	Message
	Dispatch(ctx context.Context, h EventHandler) error
}

type AccountCreated struct {
	Envelope
	AccountID string `json:"accountId"`
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	Currency  string `json:"currency"`
}

func (e *AccountCreated) PartitionKey() string { return e.AccountID }

func (e *AccountCreated) Dispatch(ctx context.Context, h EventHandler) error {
	return h.HandleAccountCreated(ctx, e)
}

type AccountClosed struct {
	Envelope
	AccountID string `json:"accountId"`
	UserID    string `json:"userId"`
	Reason    string `json:"reason,omitempty"`
}

func (e *AccountClosed) PartitionKey() string { return e.AccountID }

func (e *AccountClosed) Dispatch(ctx context.Context, h EventHandler) error {
	return h.HandleAccountClosed(ctx, e)
}

// Settlement is the payload shared by the events that settle an Operation.
type Settlement struct {
	AccountID   string          `json:"accountId"`
	UserID      string          `json:"userId"`
	OperationID string          `json:"operationId"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

func (s Settlement) PartitionKey() string { return s.AccountID }

type DepositSucceeded struct {
	Envelope
	Settlement
	TransactionID string `json:"transactionId"`
	// Balance is read after commit and may lag concurrent writes.
	Balance decimal.Decimal `json:"balance"`
}

func (e *DepositSucceeded) Dispatch(ctx context.Context, h EventHandler) error {
	return h.HandleDepositSucceeded(ctx, e)
}

type WithdrawSucceeded struct {
	Envelope
	Settlement
	TransactionID string          `json:"transactionId"`
	Balance       decimal.Decimal `json:"balance"`
}

func (e *WithdrawSucceeded) Dispatch(ctx context.Context, h EventHandler) error {
	return h.HandleWithdrawSucceeded(ctx, e)
}

type WithdrawFailed struct {
	Envelope
	Settlement
	Reason string `json:"reason"`
}

func (e *WithdrawFailed) Dispatch(ctx context.Context, h EventHandler) error {
	return h.HandleWithdrawFailed(ctx, e)
}

func DecodeCommand(data []byte) (Command, error) {
	env, err := peekEnvelope(data)
	if err != nil {
		return nil, err
	}

	var cmd Command
	var body *CommandBody
	switch env.Type {
	case TypeDepositCommand:
		c := &DepositCommand{}
		cmd, body = c, &c.CommandBody
	case TypeWithdrawCommand:
		c := &WithdrawCommand{}
		cmd, body = c, &c.CommandBody
	default:
		return nil, fmt.Errorf("%w: command %q", ErrUnknownMessageType, env.Type)
	}

	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := body.validate(); err != nil {
		return nil, err
	}
	return cmd, nil
}

func DecodeEvent(data []byte) (Event, error) {
	env, err := peekEnvelope(data)
	if err != nil {
		return nil, err
	}

	var evt Event
	switch env.Type {
	case TypeAccountCreated:
		evt = &AccountCreated{}
	case TypeAccountClosed:
		evt = &AccountClosed{}
	case TypeDepositSucceeded:
		evt = &DepositSucceeded{}
	case TypeWithdrawSucceeded:
		evt = &WithdrawSucceeded{}
	case TypeWithdrawFailed:
		evt = &WithdrawFailed{}
	default:
		return nil, fmt.Errorf("%w: event %q", ErrUnknownMessageType, env.Type)
	}

	if err := json.Unmarshal(data, evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if evt.PartitionKey() == "" {
		return nil, fmt.Errorf("%w: %s without accountId", ErrMalformedMessage, env.Type)
	}
	return evt, nil
}

func peekEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if env.ID == "" || env.Type == "" {
		return env, fmt.Errorf("%w: id and type are required", ErrMalformedMessage)
	}
	return env, nil
}
