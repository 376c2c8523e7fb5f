package tests

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	ledger "github.com/safakadir/digital-banking/pkg/domain"
	"github.com/safakadir/digital-banking/services/banking/internal/domain"
	"github.com/shopspring/decimal"
)

func (s *IntegrationTestSuite) openAccount(accountID, userID string) {
	s.Require().NoError(s.EventService.HandleAccountCreated(s.Ctx, &ledger.AccountCreated{
		Envelope:  ledger.NewEnvelope(ledger.TypeAccountCreated, time.Now()),
		AccountID: accountID,
		UserID:    userID,
		Name:      "Main",
		Currency:  "USD",
	}))
}

func (s *IntegrationTestSuite) TestDepositLifecycle() {
	s.openAccount("acc_flow", "user-1")

	op, err := s.BankingService.ProcessDeposit(s.Ctx, domain.OperationRequest{
		AccountID: "acc_flow",
		UserID:    "user-1",
		Amount:    decimal.RequireFromString("75.10"),
	})
	s.Require().NoError(err)

	var payload []byte
	err = s.DbPool.QueryRow(s.Ctx, `SELECT payload FROM outbox WHERE aggregate_id = $1`, "acc_flow").Scan(&payload)
	s.Require().NoError(err)

	cmd, err := ledger.DecodeCommand(payload)
	s.Require().NoError(err)
	s.Require().Equal(ledger.TypeDepositCommand, cmd.MessageType())

	evt := &ledger.DepositSucceeded{
		Envelope: ledger.NewEnvelope(ledger.TypeDepositSucceeded, time.Now()),
		Settlement: ledger.Settlement{
			AccountID:   "acc_flow",
			UserID:      "user-1",
			OperationID: op.OperationID,
			Amount:      op.Amount,
		},
		TransactionID: uuid.NewString(),
	}
	s.Require().NoError(s.EventService.HandleDepositSucceeded(s.Ctx, evt))
	s.Require().NoError(s.EventService.HandleDepositSucceeded(s.Ctx, evt))

	got, err := s.BankingService.GetOperation(s.Ctx, op.OperationID, "user-1")
	s.Require().NoError(err)
	s.Require().Equal(ledger.OperationStatusCompleted, got.Status)
	s.Require().True(got.Amount.Equal(decimal.RequireFromString("75.10")))
	s.Require().NotNil(got.CompletedAt)

	s.Require().Equal(1, s.CountRows(`SELECT COUNT(*) FROM inbox WHERE message_id = $1`, evt.ID))
}

func (s *IntegrationTestSuite) TestClosedAccount_RejectsOperations() {
	s.openAccount("acc_closed", "user-1")
	s.Require().NoError(s.EventService.HandleAccountClosed(s.Ctx, &ledger.AccountClosed{
		Envelope:  ledger.NewEnvelope(ledger.TypeAccountClosed, time.Now()),
		AccountID: "acc_closed",
		UserID:    "user-1",
	}))

	_, err := s.BankingService.ProcessWithdraw(s.Ctx, domain.OperationRequest{
		AccountID: "acc_closed",
		UserID:    "user-1",
		Amount:    decimal.NewFromInt(1),
	})
	s.Require().ErrorIs(err, ledger.ErrAccountNotUsable)
	s.Require().Equal(0, s.CountRows(`SELECT COUNT(*) FROM operations`))
}

func (s *IntegrationTestSuite) TestConcurrentIdempotentRequests_CreateOneOperation() {
	s.openAccount("acc_idem", "user-1")

	req := domain.OperationRequest{
		AccountID:      "acc_idem",
		UserID:         "user-1",
		Amount:         decimal.NewFromInt(9),
		IdempotencyKey: "retry-me",
	}

	ids := make([]string, 6)
	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			op, err := s.BankingService.ProcessDeposit(s.Ctx, req)
			if s.NoError(err) {
				ids[i] = op.OperationID
			}
		}()
	}
	wg.Wait()

	for _, id := range ids {
		s.Require().Equal(ids[0], id)
	}
	s.Require().Equal(1, s.CountRows(`SELECT COUNT(*) FROM operations`))
	s.Require().Equal(1, s.CountRows(`SELECT COUNT(*) FROM outbox`))
}

func (s *IntegrationTestSuite) TestKafkaDelivery_ProjectsAccount() {
	evt := &ledger.AccountCreated{
		Envelope:  ledger.NewEnvelope(ledger.TypeAccountCreated, time.Now()),
		AccountID: "acc_kafka",
		UserID:    "user-k",
		Name:      "Via broker",
		Currency:  "USD",
	}
	payload, err := json.Marshal(evt)
	s.Require().NoError(err)

	// Published twice: the second copy must be absorbed by the inbox.
	s.Require().NoError(s.TestProducer.Publish(s.Ctx, ledger.TopicAccountEvents, evt.AccountID, payload))
	s.Require().NoError(s.TestProducer.Publish(s.Ctx, ledger.TopicAccountEvents, evt.AccountID, payload))

	s.Require().Eventually(func() bool {
		p, err := s.Store.GetAccountProjection(s.Ctx, "acc_kafka")
		return err == nil && p.Status == ledger.AccountStatusActive
	}, 60*time.Second, 500*time.Millisecond)

	s.Require().Eventually(func() bool {
		return s.CountRows(`SELECT COUNT(*) FROM inbox WHERE message_id = $1`, evt.ID) == 1
	}, 10*time.Second, 200*time.Millisecond)
}
