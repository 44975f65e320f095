package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	allocationdomain "thread-erp-go/internal/domain/allocation"
	"thread-erp-go/pkg/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return New(Config{
		BaseURL:  server.URL + "/",
		Token:    "secret",
		DeviceID: "tablet-3",
		Operator: "lan",
		Timeout:  2 * time.Second,
	}, logger.NewNop())
}

func TestSendSetsHeaders(t *testing.T) {
	var (
		gotPath   string
		gotHeader http.Header
		gotBody   string
	)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeader = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	})

	err := client.Send(context.Background(), "/api/inventory/issue", "1772352000000-abc", json.RawMessage(`{"cone_ids":["C-1"]}`))
	require.NoError(t, err)

	assert.Equal(t, "/api/inventory/issue", gotPath)
	assert.Equal(t, "Bearer secret", gotHeader.Get("Authorization"))
	assert.Equal(t, "1772352000000-abc", gotHeader.Get("Idempotency-Key"))
	assert.Equal(t, "tablet-3", gotHeader.Get("X-Device-ID"))
	assert.Equal(t, "lan", gotHeader.Get("X-Operator"))
	assert.Equal(t, "application/json", gotHeader.Get("Content-Type"))
	assert.JSONEq(t, `{"cone_ids":["C-1"]}`, gotBody)
}

func TestErrorEnvelopeDecoding(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"state_conflict","message":"cone C-1 is not available"}}`))
	})

	err := client.Send(context.Background(), "/api/inventory/issue", "op-1", json.RawMessage(`{}`))

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusConflict, statusErr.StatusCode)
	assert.Equal(t, "state_conflict", statusErr.Code)
	assert.Equal(t, "cone C-1 is not available", statusErr.Message)
	assert.True(t, IsConflict(err))
	assert.False(t, IsConnectivityError(err))
}

func TestPlainTextErrorBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	})

	err := client.Health(context.Background())

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "upstream unavailable", statusErr.Message)
	assert.False(t, IsConflict(err))
	assert.False(t, IsConnectivityError(err))
}

func TestListConflictsQuery(t *testing.T) {
	var gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"items":[{"id":4,"thread_type_id":9,"total_requested":"500","total_available":"320","shortage":"180","status":"PENDING","competing_allocations":[]}]}`))
	})

	threadTypeID := int64(9)
	conflicts, err := client.ListConflicts(context.Background(), ConflictQuery{Status: "PENDING", ThreadTypeID: &threadTypeID})
	require.NoError(t, err)

	assert.Equal(t, "status=PENDING&thread_type_id=9", gotQuery)
	require.Len(t, conflicts, 1)
	assert.Equal(t, allocationdomain.ConflictStatusPending, conflicts[0].Status)
	assert.True(t, conflicts[0].Shortage.Equal(decimal.NewFromInt(180)))
}

func TestSplitAllocationBody(t *testing.T) {
	var body map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/allocations/12/split", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"original":{"id":12,"status":"PENDING"},"created":{"id":13,"status":"PENDING"}}`))
	})

	result, err := client.SplitAllocation(context.Background(), 12, decimal.NewFromInt(40), "partial run")
	require.NoError(t, err)

	assert.Equal(t, "40", body["split_meters"])
	assert.Equal(t, "partial run", body["reason"])
	assert.Equal(t, int64(13), result.Created.ID)
}

func TestIsConnectivityError(t *testing.T) {
	unreachable := New(Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}, logger.NewNop())
	err := unreachable.Health(context.Background())
	require.Error(t, err)
	assert.True(t, IsConnectivityError(err))

	cases := []struct {
		err  error
		want bool
	}{
		{context.DeadlineExceeded, true},
		{fmt.Errorf("post: %w", context.DeadlineExceeded), true},
		{errors.New("network is unreachable"), true},
		{errors.New("failed to fetch"), true},
		{errors.New("i/o timeout"), true},
		{errors.New("validation failed"), false},
		{&StatusError{StatusCode: http.StatusServiceUnavailable, Message: "timeout upstream"}, false},
		{nil, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsConnectivityError(tc.err), "%v", tc.err)
	}
}

func TestIsConflict(t *testing.T) {
	assert.True(t, IsConflict(&StatusError{StatusCode: http.StatusConflict}))
	assert.True(t, IsConflict(errors.New("Write Conflict detected")))
	assert.False(t, IsConflict(&StatusError{StatusCode: http.StatusUnprocessableEntity, Message: "invalid"}))
	assert.False(t, IsConflict(nil))
}
