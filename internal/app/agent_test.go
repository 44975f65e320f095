package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thread-erp-go/pkg/logger"
)

func TestNewAgentWiresControlAPI(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/health":
			_, _ = w.Write([]byte(`{"status":"ok"}`))
		default:
			_, _ = w.Write([]byte(`{"items":[]}`))
		}
	}))
	defer upstream.Close()

	t.Setenv("THREAD_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("THREAD_AGENT_SERVER_URL", upstream.URL)
	t.Setenv("THREAD_AGENT_REALTIME_ENABLED", "false")
	t.Setenv("THREAD_AGENT_REACHABILITY_PROBE_SCHEDULE", "@every 1h")

	agent, err := NewAgent(AgentOptions{Store: "memory"}, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, agent.Start(context.Background()))
	defer func() { require.NoError(t, agent.Close()) }()

	assert.Nil(t, agent.realtime)
	require.NotNil(t, agent.poller)
	assert.Equal(t, 1, agent.poller.Consumers())

	rec := httptest.NewRecorder()
	agent.HTTPServer().Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/queue/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var stats map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 0, stats["total"])

	rec = httptest.NewRecorder()
	agent.HTTPServer().Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "thread_agent_queue_operations")
}

func TestNewAgentRejectsUnknownStore(t *testing.T) {
	t.Setenv("THREAD_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	_, err := NewAgent(AgentOptions{Store: "redis"}, logger.NewNop())
	require.Error(t, err)
}
