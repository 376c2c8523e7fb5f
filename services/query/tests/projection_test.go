package tests

import (
	"sync"
	"time"

	"github.com/google/uuid"
	ledger "github.com/safakadir/digital-banking/pkg/domain"
	"github.com/safakadir/digital-banking/services/query/internal/domain"
	"github.com/shopspring/decimal"
)

func (s *IntegrationTestSuite) openAccount(accountID, userID string) {
	s.Require().NoError(s.ProjectionService.HandleAccountCreated(s.Ctx, &ledger.AccountCreated{
		Envelope:  ledger.NewEnvelope(ledger.TypeAccountCreated, time.Now()),
		AccountID: accountID,
		UserID:    userID,
		Name:      "Main",
		Currency:  "USD",
	}))
}

func deposit(accountID string, amount string, at time.Time) *ledger.DepositSucceeded {
	return &ledger.DepositSucceeded{
		Envelope: ledger.NewEnvelope(ledger.TypeDepositSucceeded, at),
		Settlement: ledger.Settlement{
			AccountID:   accountID,
			UserID:      "user-1",
			OperationID: uuid.NewString(),
			Amount:      decimal.RequireFromString(amount),
		},
		TransactionID: uuid.NewString(),
	}
}

func (s *IntegrationTestSuite) TestBalanceFollowsSettlements() {
	s.openAccount("acc_q", "user-1")

	s.Require().NoError(s.ProjectionService.HandleDepositSucceeded(s.Ctx, deposit("acc_q", "100.50", time.Now())))

	b, err := s.QueryService.GetBalance(s.Ctx, "acc_q", "user-1")
	s.Require().NoError(err)
	s.Require().True(decimal.RequireFromString("100.50").Equal(b.Balance))
	s.Require().EqualValues(1, s.Redis.Exists(s.Ctx, "balance:acc_q").Val())

	s.Require().NoError(s.ProjectionService.HandleWithdrawSucceeded(s.Ctx, &ledger.WithdrawSucceeded{
		Envelope: ledger.NewEnvelope(ledger.TypeWithdrawSucceeded, time.Now().Add(time.Second)),
		Settlement: ledger.Settlement{
			AccountID:   "acc_q",
			UserID:      "user-1",
			OperationID: uuid.NewString(),
			Amount:      decimal.RequireFromString("0.50"),
		},
		TransactionID: uuid.NewString(),
	}))
	s.Require().EqualValues(0, s.Redis.Exists(s.Ctx, "balance:acc_q").Val())

	b, err = s.QueryService.GetBalance(s.Ctx, "acc_q", "user-1")
	s.Require().NoError(err)
	s.Require().True(decimal.NewFromInt(100).Equal(b.Balance))

	_, err = s.QueryService.GetBalance(s.Ctx, "acc_q", "user-2")
	s.Require().ErrorIs(err, ledger.ErrAccountNotFound)
}

func (s *IntegrationTestSuite) TestOutOfOrderSettlement_WaitsForAccount() {
	evt := deposit("acc_late", "10", time.Now())

	err := s.ProjectionService.HandleDepositSucceeded(s.Ctx, evt)
	s.Require().ErrorIs(err, ledger.ErrTransient)
	s.Require().Equal(0, s.CountRows(`SELECT COUNT(*) FROM transactions`))
	s.Require().Equal(0, s.CountRows(`SELECT COUNT(*) FROM inbox`))

	s.openAccount("acc_late", "user-1")
	s.Require().NoError(s.ProjectionService.HandleDepositSucceeded(s.Ctx, evt))
	s.Require().Equal(1, s.CountRows(`SELECT COUNT(*) FROM transactions WHERE account_id = $1`, "acc_late"))
}

func (s *IntegrationTestSuite) TestConcurrentRedelivery_AppliesOnce() {
	s.openAccount("acc_dup", "user-1")
	evt := deposit("acc_dup", "5", time.Now())

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.ProjectionService.HandleDepositSucceeded(s.Ctx, evt)
		}()
	}
	wg.Wait()

	s.Require().NoError(s.ProjectionService.HandleDepositSucceeded(s.Ctx, evt))

	b, err := s.QueryService.GetBalance(s.Ctx, "acc_dup", "user-1")
	s.Require().NoError(err)
	s.Require().True(decimal.NewFromInt(5).Equal(b.Balance))
	s.Require().Equal(1, s.CountRows(`SELECT COUNT(*) FROM transactions WHERE account_id = $1`, "acc_dup"))
}

func (s *IntegrationTestSuite) TestTransactionsPage() {
	s.openAccount("acc_page", "user-1")

	base := time.Now().Add(-time.Hour)
	for i, amount := range []string{"1", "2", "3"} {
		evt := deposit("acc_page", amount, base.Add(time.Duration(i)*time.Minute))
		s.Require().NoError(s.ProjectionService.HandleDepositSucceeded(s.Ctx, evt))
	}

	txs, err := s.QueryService.GetTransactions(s.Ctx, "acc_page", "user-1", domain.NewPage(2, 1))
	s.Require().NoError(err)
	s.Require().Len(txs, 2)
	s.Require().True(decimal.NewFromInt(2).Equal(txs[0].Amount))
	s.Require().True(decimal.NewFromInt(1).Equal(txs[1].Amount))
	s.Require().Equal(ledger.TransactionStatusCompleted, txs[0].Status)
}
