package changefeed

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"thread-erp-go/pkg/logger"
)

func TestSubscriptionMatchesUpdateOnOldOrNew(t *testing.T) {
	filter, err := ParseFilter("warehouse_id=eq.5")
	if err != nil {
		t.Fatalf("parse filter: %v", err)
	}
	sub := Subscription{Table: "thread_cones", Event: EventAll, Filter: filter}

	moved := Event{
		Schema: DefaultSchema,
		Table:  "thread_cones",
		Type:   EventUpdate,
		Old:    Row{"id": float64(1), "warehouse_id": float64(5)},
		New:    Row{"id": float64(1), "warehouse_id": float64(7)},
	}
	if !sub.Matches(moved) {
		t.Fatalf("expected update leaving warehouse 5 to match")
	}

	other := Event{
		Schema: DefaultSchema,
		Table:  "thread_cones",
		Type:   EventUpdate,
		Old:    Row{"warehouse_id": float64(7)},
		New:    Row{"warehouse_id": float64(8)},
	}
	if sub.Matches(other) {
		t.Fatalf("expected unrelated warehouse update not to match")
	}

	deleted := Event{Schema: DefaultSchema, Table: "thread_cones", Type: EventDelete, Old: Row{"warehouse_id": float64(5)}}
	if !sub.Matches(deleted) {
		t.Fatalf("expected delete to match on old row")
	}

	insertOnly := Subscription{Table: "thread_cones", Event: EventInsert}
	if insertOnly.Matches(moved) {
		t.Fatalf("expected INSERT subscription to ignore updates")
	}
}

func TestParseFilterRejectsUnsupportedOperator(t *testing.T) {
	if _, err := ParseFilter("warehouse_id=gt.5"); err == nil {
		t.Fatalf("expected error for gt operator")
	}
	filter, err := ParseFilter("")
	if err != nil || filter != nil {
		t.Fatalf("expected nil filter for empty input, got %v %v", filter, err)
	}
}

func TestRecorderFlushStampsEvents(t *testing.T) {
	var recorder Recorder
	recorder.Insert("allocation_conflicts", map[string]any{"id": 3})

	sink := &captureSink{}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	recorder.Flush(sink, now)

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	if sink.events[0].Schema != DefaultSchema || !sink.events[0].CommitTimestamp.Equal(now) {
		t.Fatalf("unexpected event metadata: %+v", sink.events[0])
	}

	recorder.Flush(sink, now)
	if len(sink.events) != 1 {
		t.Fatalf("expected flush to reset recorder")
	}
}

func TestHubDeliversMatchingChanges(t *testing.T) {
	hub := NewHub(HubConfig{PingInterval: time.Second}, logger.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(hub)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(ClientFrame{Type: FrameSubscribe, ID: "sub-1", Table: "thread_cones", Event: EventAll, Filter: "warehouse_id=eq.5"}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack ServerFrame
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Type != FrameSubscribed || ack.ID != "sub-1" {
		t.Fatalf("expected subscribed ack, got %+v", ack)
	}

	hub.Publish(Event{Table: "thread_cones", Type: EventInsert, New: Row{"warehouse_id": 9}})
	hub.Publish(Event{Table: "thread_cones", Type: EventInsert, New: Row{"warehouse_id": 5, "id": 42}})

	var change ServerFrame
	if err := conn.ReadJSON(&change); err != nil {
		t.Fatalf("read change: %v", err)
	}
	if change.Type != FrameChange || change.Payload == nil {
		t.Fatalf("expected change frame, got %+v", change)
	}
	if change.Payload.New["id"] != float64(42) {
		t.Fatalf("expected filtered insert for id 42, got %v", change.Payload.New)
	}
}

func TestHubRejectsSubscriptionWithoutTable(t *testing.T) {
	hub := NewHub(HubConfig{}, logger.NewNop(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	server := httptest.NewServer(hub)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(ClientFrame{Type: FrameSubscribe, ID: "bad"}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame ServerFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read: %v", err)
	}
	if frame.Type != FrameError {
		t.Fatalf("expected error frame, got %+v", frame)
	}
}

type captureSink struct {
	events []Event
}

func (c *captureSink) Publish(event Event) {
	c.events = append(c.events, event)
}
