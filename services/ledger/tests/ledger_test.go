package tests

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	ledger "github.com/safakadir/digital-banking/pkg/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

func command(operationID, amount string) ledger.CommandBody {
	return ledger.CommandBody{
		AccountID:   "acc_it",
		UserID:      "user-it",
		Amount:      decimal.RequireFromString(amount),
		OperationID: operationID,
		Currency:    "USD",
		Description: "integration",
	}
}

func (s *IntegrationTestSuite) deposit(amount string) *ledger.DepositCommand {
	cmd := &ledger.DepositCommand{
		Envelope:    ledger.NewEnvelope(ledger.TypeDepositCommand, time.Now()),
		CommandBody: command(uuid.NewString(), amount),
	}
	s.Require().NoError(s.LedgerService.HandleDeposit(s.Ctx, cmd))
	return cmd
}

func (s *IntegrationTestSuite) withdraw(amount string) *ledger.WithdrawCommand {
	cmd := &ledger.WithdrawCommand{
		Envelope:    ledger.NewEnvelope(ledger.TypeWithdrawCommand, time.Now()),
		CommandBody: command(uuid.NewString(), amount),
	}
	s.Require().NoError(s.LedgerService.HandleWithdraw(s.Ctx, cmd))
	return cmd
}

func (s *IntegrationTestSuite) balance() decimal.Decimal {
	b, err := s.Store.GetBalance(s.Ctx, "acc_it")
	s.Require().NoError(err)
	return b.Balance
}

func (s *IntegrationTestSuite) TestDepositAndWithdraw() {
	s.deposit("100.00")
	s.withdraw("30.25")

	s.Require().True(s.balance().Equal(decimal.RequireFromString("69.75")))
	s.Require().Equal(4, s.CountRows(`SELECT COUNT(*) FROM journal_entries`))
	s.Require().Equal(2, s.CountRows(`SELECT COUNT(*) FROM outbox WHERE event_type IN ('DEPOSIT_EVENT', 'WITHDRAW_SUCCESS_EVENT')`))

	// Debits and credits of every transaction cancel out.
	s.Require().Equal(0, s.CountRows(`
		SELECT COUNT(*) FROM (
			SELECT transaction_id
			FROM journal_entries
			GROUP BY transaction_id
			HAVING SUM(CASE WHEN entry_type = 'DEBIT' THEN amount ELSE -amount END) <> 0
		) unbalanced
	`))
}

func (s *IntegrationTestSuite) TestWithdraw_InsufficientFunds() {
	s.deposit("10")
	cmd := s.withdraw("50")

	s.Require().True(s.balance().Equal(decimal.RequireFromString("10")))
	s.Require().Equal(2, s.CountRows(`SELECT COUNT(*) FROM journal_entries`))
	s.Require().Equal(1, s.CountRows(`SELECT COUNT(*) FROM outbox WHERE event_type = 'WITHDRAW_FAILED_EVENT'`))
	s.Require().Equal(1, s.CountRows(`SELECT COUNT(*) FROM inbox WHERE message_id = $1`, cmd.ID))
}

func (s *IntegrationTestSuite) TestRedelivery_AppliedOnce() {
	cmd := s.deposit("42")
	s.Require().NoError(s.LedgerService.HandleDeposit(s.Ctx, cmd))
	s.Require().NoError(s.LedgerService.HandleDeposit(s.Ctx, cmd))

	s.Require().True(s.balance().Equal(decimal.RequireFromString("42")))
	s.Require().Equal(2, s.CountRows(`SELECT COUNT(*) FROM journal_entries`))
	s.Require().Equal(1, s.CountRows(`SELECT COUNT(*) FROM outbox`))
}

func (s *IntegrationTestSuite) TestConcurrentWithdrawals_NeverOverdraw() {
	s.deposit("100")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cmd := &ledger.WithdrawCommand{
				Envelope:    ledger.NewEnvelope(ledger.TypeWithdrawCommand, time.Now()),
				CommandBody: command(uuid.NewString(), "25"),
			}
			s.NoError(s.LedgerService.HandleWithdraw(s.Ctx, cmd))
		}()
	}
	wg.Wait()

	s.Require().True(s.balance().IsZero())
	s.Require().Equal(4, s.CountRows(`SELECT COUNT(*) FROM outbox WHERE event_type = 'WITHDRAW_SUCCESS_EVENT'`))
	s.Require().Equal(4, s.CountRows(`SELECT COUNT(*) FROM outbox WHERE event_type = 'WITHDRAW_FAILED_EVENT'`))
}

func (s *IntegrationTestSuite) TestOutboxRelay_PublishesKeyedByAccount() {
	s.deposit("5")
	s.withdraw("5")

	s.Publisher.On("Publish", mock.Anything, ledger.TopicLedgerEvents, "acc_it", mock.Anything).Return(nil).Twice()

	published, err := s.OutboxProcessor.ProcessBatch(s.Ctx)
	s.Require().NoError(err)
	s.Require().Equal(2, published)
	s.Publisher.AssertExpectations(s.T())

	s.Require().Equal(0, s.CountRows(`SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`))
}

func (s *IntegrationTestSuite) TestOutboxRelay_FailureKeepsRowPending() {
	s.deposit("5")
	s.withdraw("1")

	s.Publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

	published, err := s.OutboxProcessor.ProcessBatch(s.Ctx)
	s.Require().NoError(err)
	s.Require().Zero(published)
	s.Publisher.AssertNumberOfCalls(s.T(), "Publish", 1)

	s.Require().Equal(2, s.CountRows(`SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`))
	s.Require().Equal(1, s.CountRows(`SELECT COUNT(*) FROM outbox WHERE attempts = 1 AND last_error = 'broker down'`))
}
