package queue

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thread-erp-go/internal/db"
	"thread-erp-go/internal/offline"
)

func openRepository(t *testing.T, path string) *SQLiteRepository {
	t.Helper()

	sqlDB, err := db.OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	repo, err := NewSQLite(context.Background(), sqlDB)
	require.NoError(t, err)
	return repo
}

func TestSQLiteRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := openRepository(t, filepath.Join(t.TempDir(), "queue.db"))

	createdAt := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	syncedAt := createdAt.Add(time.Hour)
	op := offline.QueuedOperation{
		ID:         "1772352000000-a1b2c3d4e",
		Type:       offline.OperationTypeRecovery,
		Payload:    json.RawMessage(`{"cone_id":"C-7","returned_weight_grams":"120.5"}`),
		CreatedAt:  createdAt,
		Status:     offline.StatusSynced,
		RetryCount: 2,
		Error:      "conflict detected",
		SyncedAt:   &syncedAt,
	}
	require.NoError(t, repo.Add(ctx, op))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)

	got := all[0]
	assert.Equal(t, op.ID, got.ID)
	assert.Equal(t, op.Type, got.Type)
	assert.JSONEq(t, string(op.Payload), string(got.Payload))
	assert.True(t, createdAt.Equal(got.CreatedAt))
	assert.Equal(t, op.Status, got.Status)
	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, "conflict detected", got.Error)
	require.NotNil(t, got.SyncedAt)
	assert.True(t, syncedAt.Equal(*got.SyncedAt))
}

func TestSQLiteRepositoryDuplicateAndUpsert(t *testing.T) {
	ctx := context.Background()
	repo := openRepository(t, filepath.Join(t.TempDir(), "queue.db"))

	op := offline.QueuedOperation{
		ID:        "1772352000000-000000001",
		Type:      offline.OperationTypeIssue,
		Payload:   json.RawMessage(`{}`),
		CreatedAt: time.Now(),
		Status:    offline.StatusPending,
	}
	require.NoError(t, repo.Add(ctx, op))
	require.ErrorIs(t, repo.Add(ctx, op), offline.ErrDuplicateKey)

	op.Status = offline.StatusFailed
	op.RetryCount = 3
	op.Error = "bad gateway"
	require.NoError(t, repo.Put(ctx, op))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, offline.StatusFailed, all[0].Status)
	assert.Equal(t, 3, all[0].RetryCount)
	assert.Nil(t, all[0].SyncedAt)
}

func TestSQLiteRepositoryDeletes(t *testing.T) {
	ctx := context.Background()
	repo := openRepository(t, filepath.Join(t.TempDir(), "queue.db"))

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i, status := range []offline.Status{offline.StatusSynced, offline.StatusPending, offline.StatusSynced} {
		require.NoError(t, repo.Add(ctx, offline.QueuedOperation{
			ID:        string(rune('a' + i)),
			Type:      offline.OperationTypeIssue,
			Payload:   json.RawMessage(`{}`),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			Status:    status,
		}))
	}

	require.NoError(t, repo.DeleteByIndex(ctx, offline.StatusSynced))
	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "b", all[0].ID)

	require.NoError(t, repo.DeleteByKey(ctx, "b"))
	require.NoError(t, repo.DeleteByKey(ctx, "b"))
	all, err = repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSQLiteRepositorySurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "agent", "queue.db")

	sqlDB, err := db.OpenSQLite(path)
	require.NoError(t, err)
	repo, err := NewSQLite(ctx, sqlDB)
	require.NoError(t, err)
	require.NoError(t, repo.Add(ctx, offline.QueuedOperation{
		ID:        "persisted",
		Type:      offline.OperationTypeAllocation,
		Payload:   json.RawMessage(`{"order_id":"PO-1"}`),
		CreatedAt: time.Now(),
		Status:    offline.StatusPending,
	}))
	require.NoError(t, sqlDB.Close())

	reopened := openRepository(t, path)
	all, err := reopened.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "persisted", all[0].ID)

	require.NoError(t, reopened.Clear(ctx))
}
