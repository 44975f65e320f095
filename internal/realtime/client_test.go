package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thread-erp-go/internal/changefeed"
	"thread-erp-go/pkg/logger"
)

type reconnectCounter struct {
	mu     sync.Mutex
	tables []string
}

func (r *reconnectCounter) ObserveReconnect(table string) {
	r.mu.Lock()
	r.tables = append(r.tables, table)
	r.mu.Unlock()
}

func (r *reconnectCounter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tables)
}

type changeSink struct {
	mu      sync.Mutex
	changes []Change
}

func (s *changeSink) add(change Change) {
	s.mu.Lock()
	s.changes = append(s.changes, change)
	s.mu.Unlock()
}

func (s *changeSink) snapshot() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Change(nil), s.changes...)
}

func startHub(t *testing.T) (*changefeed.Hub, string) {
	t.Helper()
	hub := changefeed.NewHub(changefeed.HubConfig{}, logger.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestClientReceivesFilteredChanges(t *testing.T) {
	hub, url := startHub(t)
	client := NewClient(Config{URL: url}, logger.NewNop())
	t.Cleanup(client.Close)

	sink := &changeSink{}
	name, err := client.Subscribe(context.Background(), Options{
		Table:  "thread_cones",
		Event:  changefeed.EventAll,
		Filter: "warehouse_id=eq.5",
	}, sink.add)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "public:thread_cones:*-warehouse_id=eq.5-"))

	require.Eventually(t, func() bool { return client.Status(name) == StatusConnected }, 2*time.Second, 10*time.Millisecond)

	hub.Publish(changefeed.Event{Table: "thread_cones", Type: changefeed.EventInsert, New: changefeed.Row{"id": 1, "warehouse_id": 9}})
	hub.Publish(changefeed.Event{Table: "thread_cones", Type: changefeed.EventInsert, New: changefeed.Row{"id": 2, "warehouse_id": 5}})

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	insert, ok := sink.snapshot()[0].(Insert)
	require.True(t, ok)
	id, _ := RowID(insert.New)
	assert.Equal(t, int64(2), id)
	assert.Equal(t, "public", insert.Schema)
	assert.Equal(t, "thread_cones", insert.Table)

	client.Unsubscribe(name)
	assert.Equal(t, StatusDisconnected, client.Status(name))
	assert.Empty(t, client.Channels())
}

func TestClientSendsBearerToken(t *testing.T) {
	var gotAuth string
	var mu sync.Mutex
	hub := changefeed.NewHub(changefeed.HubConfig{}, logger.NewNop(), nil)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()
		hub.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	client := NewClient(Config{URL: "ws" + strings.TrimPrefix(server.URL, "http"), Token: "secret"}, logger.NewNop())
	t.Cleanup(client.Close)

	name, err := client.Subscribe(context.Background(), Options{Table: "allocation_conflicts"}, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return client.Status(name) == StatusConnected }, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)

	observer := &reconnectCounter{}
	client := NewClient(Config{
		URL:      "ws" + strings.TrimPrefix(server.URL, "http"),
		Backoff:  Backoff{BaseDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond, MaxAttempts: 3},
		Observer: observer,
	}, logger.NewNop())
	t.Cleanup(client.Close)

	name, err := client.Subscribe(context.Background(), Options{Table: "thread_cones"}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return observer.count() == 3 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, observer.count())
	assert.Equal(t, StatusError, client.Status(name))
}

func TestClientRejectsInvalidOptions(t *testing.T) {
	client := NewClient(Config{URL: "ws://127.0.0.1:1"}, logger.NewNop())

	_, err := client.Subscribe(context.Background(), Options{}, nil)
	require.ErrorIs(t, err, ErrTableRequired)

	_, err = client.Subscribe(context.Background(), Options{Table: "thread_cones", Event: "TRUNCATE"}, nil)
	require.ErrorIs(t, err, ErrUnsupportedEvent)

	_, err = client.Subscribe(context.Background(), Options{Table: "thread_cones", Filter: "warehouse_id=gt.5"}, nil)
	require.ErrorIs(t, err, changefeed.ErrInvalidFilter)

	client.Close()
	_, err = client.Subscribe(context.Background(), Options{Table: "thread_cones"}, nil)
	require.ErrorIs(t, err, ErrClientClosed)
}
