package tests

import (
	"sync"
	"time"

	"github.com/IBM/sarama"
	ledger "github.com/safakadir/digital-banking/pkg/domain"
)

func (s *IntegrationTestSuite) TestCreateAccount_WritesAccountAndEvent() {
	acc, err := s.AccountService.CreateAccount(s.Ctx, "user-1", "Savings", "")
	s.Require().NoError(err)

	s.Require().Equal(1, s.CountRows(`SELECT COUNT(*) FROM accounts WHERE account_id = $1 AND status = 'ACTIVE'`, acc.AccountID))
	s.Require().Equal(1, s.CountRows(
		`SELECT COUNT(*) FROM outbox WHERE aggregate_id = $1 AND event_type = $2 AND published_at IS NULL`,
		acc.AccountID, string(ledger.TypeAccountCreated),
	))

	got, err := s.AccountService.GetAccount(s.Ctx, acc.AccountID, "user-1")
	s.Require().NoError(err)
	s.Require().Equal("USD", got.Currency)
	s.Require().Equal("Savings", got.Name)
}

func (s *IntegrationTestSuite) TestConcurrentClose_OneWins() {
	acc, err := s.AccountService.CreateAccount(s.Ctx, "user-1", "Savings", "")
	s.Require().NoError(err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range 6 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.AccountService.CloseAccount(s.Ctx, acc.AccountID, "user-1", ""); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Require().Equal(1, succeeded)
	s.Require().Equal(1, s.CountRows(
		`SELECT COUNT(*) FROM outbox WHERE aggregate_id = $1 AND event_type = $2`,
		acc.AccountID, string(ledger.TypeAccountClosed),
	))
}

func (s *IntegrationTestSuite) TestRelay_PublishesKeyedByAccount() {
	acc, err := s.AccountService.CreateAccount(s.Ctx, "user-1", "Savings", "")
	s.Require().NoError(err)

	n, err := s.OutboxProcessor.ProcessBatch(s.Ctx)
	s.Require().NoError(err)
	s.Require().Equal(1, n)
	s.Require().Equal(0, s.CountRows(`SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`))

	consumer, err := sarama.NewConsumer(s.KafkaBrokers, sarama.NewConfig())
	s.Require().NoError(err)
	defer consumer.Close()

	partitions, err := consumer.Partitions(ledger.TopicAccountEvents)
	s.Require().NoError(err)

	found := make(chan *ledger.AccountCreated, 1)
	for _, p := range partitions {
		pc, err := consumer.ConsumePartition(ledger.TopicAccountEvents, p, sarama.OffsetOldest)
		s.Require().NoError(err)
		defer pc.Close()

		go func() {
			for msg := range pc.Messages() {
				if string(msg.Key) != acc.AccountID {
					continue
				}
				evt, err := ledger.DecodeEvent(msg.Value)
				if err != nil {
					continue
				}
				if created, ok := evt.(*ledger.AccountCreated); ok {
					found <- created
					return
				}
			}
		}()
	}

	select {
	case created := <-found:
		s.Require().Equal("user-1", created.UserID)
		s.Require().Equal("USD", created.Currency)
	case <-time.After(15 * time.Second):
		s.Fail("AccountCreated was not published")
	}
}
