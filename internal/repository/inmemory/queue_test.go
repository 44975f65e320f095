package inmemory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thread-erp-go/internal/offline"
)

func queuedOperation(id string, createdAt time.Time, status offline.Status) offline.QueuedOperation {
	return offline.QueuedOperation{
		ID:        id,
		Type:      offline.OperationTypeIssue,
		Payload:   json.RawMessage(`{"cone_ids":["C-1"]}`),
		CreatedAt: createdAt,
		Status:    status,
	}
}

func TestQueueStoreOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	store := NewQueueStore()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, store.Add(ctx, queuedOperation("b", base.Add(time.Minute), offline.StatusPending)))
	require.NoError(t, store.Add(ctx, queuedOperation("a", base, offline.StatusPending)))
	require.NoError(t, store.Add(ctx, queuedOperation("c", base.Add(time.Minute), offline.StatusPending)))

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(all))
	for _, op := range all {
		ids = append(ids, op.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestQueueStoreAddRejectsDuplicateKey(t *testing.T) {
	ctx := context.Background()
	store := NewQueueStore()
	op := queuedOperation("a", time.Now(), offline.StatusPending)

	require.NoError(t, store.Add(ctx, op))
	require.ErrorIs(t, store.Add(ctx, op), offline.ErrDuplicateKey)

	op.Status = offline.StatusConflict
	require.NoError(t, store.Put(ctx, op))

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, offline.StatusConflict, all[0].Status)
}

func TestQueueStoreDeletes(t *testing.T) {
	ctx := context.Background()
	store := NewQueueStore()
	now := time.Now()

	require.NoError(t, store.Add(ctx, queuedOperation("a", now, offline.StatusSynced)))
	require.NoError(t, store.Add(ctx, queuedOperation("b", now, offline.StatusPending)))
	require.NoError(t, store.Add(ctx, queuedOperation("c", now, offline.StatusSynced)))

	require.NoError(t, store.DeleteByIndex(ctx, offline.StatusSynced))
	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].ID)

	require.NoError(t, store.DeleteByKey(ctx, "missing"))
	require.NoError(t, store.Clear(ctx))
	all, err = store.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestQueueStoreHandsOutCopies(t *testing.T) {
	ctx := context.Background()
	store := NewQueueStore()
	require.NoError(t, store.Add(ctx, queuedOperation("a", time.Now(), offline.StatusPending)))

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	all[0].Payload[0] = '['

	again, err := store.GetAll(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"cone_ids":["C-1"]}`, string(again[0].Payload))
}
