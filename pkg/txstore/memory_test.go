package txstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryContract(t *testing.T) {
	runContract(t, func(*testing.T) Store { return NewMemory() })
}

func TestMemory_PatchSkipsPublishedRow(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	row := outboxRow(t, "acc_1")
	require.NoError(t, s.Transact(ctx, row))
	s.MarkPublished(row.Event.ID, time.Now())

	require.NoError(t, s.Transact(ctx, PatchOutbox{ID: row.Event.ID, Payload: []byte(`{}`)}))

	pending, err := s.PendingOutbox(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	s.mu.Lock()
	defer s.mu.Unlock()
	require.JSONEq(t, string(row.Event.Payload), string(s.state.outbox[row.Event.ID].Payload))
}

func TestMemory_ReadsReturnCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.Transact(ctx, InitBalance{AccountID: "acc_1", Currency: "USD"}))

	b, err := s.GetBalance(ctx, "acc_1")
	require.NoError(t, err)
	b.Currency = "EUR"

	again, err := s.GetBalance(ctx, "acc_1")
	require.NoError(t, err)
	require.Equal(t, "USD", again.Currency)
}
