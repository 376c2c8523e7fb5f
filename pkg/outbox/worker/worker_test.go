package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/safakadir/digital-banking/pkg/outbox/domain"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeTx struct {
	pgx.Tx
	committed bool
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if t.committed {
		return pgx.ErrTxClosed
	}
	return nil
}

type fakeDB struct{ tx *fakeTx }

func (d *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	d.tx = &fakeTx{}
	return d.tx, nil
}

type fakeRepo struct {
	batch     []domain.OutboxEvent
	published []string
	failed    map[string]string
}

func (r *fakeRepo) ClaimBatch(context.Context, pgx.Tx, int, int) ([]domain.OutboxEvent, error) {
	return r.batch, nil
}

func (r *fakeRepo) MarkPublished(_ context.Context, _ pgx.Tx, id string, _ time.Time) error {
	r.published = append(r.published, id)
	return nil
}

func (r *fakeRepo) MarkFailed(_ context.Context, _ pgx.Tx, id string, errMsg string) error {
	if r.failed == nil {
		r.failed = make(map[string]string)
	}
	r.failed[id] = errMsg
	return nil
}

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, topic, key string, payload []byte) error {
	return m.Called(ctx, topic, key, payload).Error(0)
}

func row(id, aggregate string) domain.OutboxEvent {
	return domain.OutboxEvent{
		ID:          id,
		Topic:       "ledger.events",
		AggregateID: aggregate,
		Payload:     []byte(`{"id":"` + id + `"}`),
	}
}

func TestProcessBatch_PublishesKeyedByAggregate(t *testing.T) {
	db := &fakeDB{}
	repo := &fakeRepo{batch: []domain.OutboxEvent{row("o1", "acc_1"), row("o2", "acc_2")}}
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, "ledger.events", "acc_1", []byte(`{"id":"o1"}`)).Return(nil).Once()
	pub.On("Publish", mock.Anything, "ledger.events", "acc_2", []byte(`{"id":"o2"}`)).Return(nil).Once()

	p := NewOutboxProcessor(db, repo, pub, Settings{}, zap.NewNop(), nil)

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []string{"o1", "o2"}, repo.published)
	require.True(t, db.tx.committed)
	pub.AssertExpectations(t)
}

func TestProcessBatch_FailureHoldsBackSameAggregate(t *testing.T) {
	db := &fakeDB{}
	repo := &fakeRepo{batch: []domain.OutboxEvent{
		row("o1", "acc_1"),
		row("o2", "acc_2"),
		row("o3", "acc_1"),
	}}
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, "ledger.events", "acc_1", mock.Anything).Return(errors.New("broker down")).Once()
	pub.On("Publish", mock.Anything, "ledger.events", "acc_2", mock.Anything).Return(nil).Once()

	p := NewOutboxProcessor(db, repo, pub, Settings{}, zap.NewNop(), nil)

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"o2"}, repo.published)
	require.Equal(t, map[string]string{"o1": "broker down"}, repo.failed)
	require.True(t, db.tx.committed)
	pub.AssertExpectations(t)
	pub.AssertNumberOfCalls(t, "Publish", 2)
}

func TestProcessBatch_Empty(t *testing.T) {
	db := &fakeDB{}
	pub := new(mockPublisher)

	p := NewOutboxProcessor(db, &fakeRepo{}, pub, Settings{}, zap.NewNop(), nil)

	n, err := p.ProcessBatch(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.False(t, db.tx.committed)
	pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestNewOutboxProcessor_Defaults(t *testing.T) {
	p := NewOutboxProcessor(&fakeDB{}, &fakeRepo{}, new(mockPublisher), Settings{}, zap.NewNop(), nil)

	require.Equal(t, Settings{BatchSize: 50, Interval: 500 * time.Millisecond, MaxAttempts: 10}, p.settings)
}
