package offline_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thread-erp-go/internal/apiclient"
	"thread-erp-go/internal/offline"
)

func TestExecuteOnlineCallsServerDirectly(t *testing.T) {
	f := newFixture(t)
	f.net.setQuietly(true)

	var usedID string
	result := offline.Execute(context.Background(), f.queue, offline.Request[string]{
		Type:    offline.OperationTypeIssue,
		Payload: map[string]any{"cone_ids": []string{"C-1"}},
		Direct: func(_ context.Context, operationID string) (string, error) {
			usedID = operationID
			return "issued", nil
		},
	})

	require.NoError(t, result.Err)
	assert.True(t, result.Success)
	assert.False(t, result.Queued)
	assert.Equal(t, "issued", result.Data)
	assert.NotEmpty(t, usedID)
	assert.Empty(t, f.queue.Operations())
}

func TestExecuteQueuesOnConnectivityError(t *testing.T) {
	f := newFixture(t)
	f.net.setQuietly(true)

	var usedID string
	result := offline.Execute(context.Background(), f.queue, offline.Request[string]{
		Type:    offline.OperationTypeStockReceipt,
		Payload: map[string]any{"thread_type_id": 1, "quantity_cones": 4},
		Direct: func(_ context.Context, operationID string) (string, error) {
			usedID = operationID
			f.net.setQuietly(false)
			return "", errors.New("dial tcp 10.0.0.5:8080: connect: connection refused")
		},
	})

	require.NoError(t, result.Err)
	assert.True(t, result.Success)
	assert.True(t, result.Queued)
	require.NotNil(t, result.Operation)
	assert.Equal(t, usedID, result.Operation.ID)
	assert.Equal(t, 1, f.queue.PendingCount())
}

func TestExecuteReturnsServerRejection(t *testing.T) {
	f := newFixture(t)
	f.net.setQuietly(true)

	result := offline.Execute(context.Background(), f.queue, offline.Request[string]{
		Type:    offline.OperationTypeIssue,
		Payload: map[string]any{"cone_ids": []string{}},
		Direct: func(context.Context, string) (string, error) {
			return "", &apiclient.StatusError{StatusCode: http.StatusUnprocessableEntity, Message: "cone_ids is required"}
		},
	})

	require.Error(t, result.Err)
	assert.False(t, result.Success)
	assert.False(t, result.Queued)
	assert.Empty(t, f.queue.Operations())
}

func TestExecuteOfflineQueuesWithoutCallingServer(t *testing.T) {
	f := newFixture(t)

	called := false
	result := offline.Execute(context.Background(), f.queue, offline.Request[string]{
		Type:    offline.OperationTypeAllocation,
		Payload: map[string]any{"order_id": "PO-1", "thread_type_id": 1, "requested_meters": "1200"},
		Direct: func(context.Context, string) (string, error) {
			called = true
			return "", nil
		},
	})

	require.NoError(t, result.Err)
	assert.False(t, called)
	assert.True(t, result.Queued)
	require.NotNil(t, result.Operation)
	assert.Equal(t, offline.OperationTypeAllocation, result.Operation.Type)
}
