package changefeed

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"thread-erp-go/pkg/logger"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	defaultSendBuffer   = 64
	eventsBuffer        = 256
)

type HubConfig struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
	SendBuffer   int
	CheckOrigin  func(r *http.Request) bool
}

// Observer receives hub activity for metrics.
type Observer interface {
	ObserveRealtimeEvent(table, event string)
	SetRealtimeClients(count int)
}

type noopObserver struct{}

func (noopObserver) ObserveRealtimeEvent(string, string) {}
func (noopObserver) SetRealtimeClients(int)              {}

// Hub fans committed row changes out to websocket subscribers.
type Hub struct {
	cfg      HubConfig
	log      logger.Logger
	observer Observer
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	events  chan Event
}

func NewHub(cfg HubConfig, log logger.Logger, observer Observer) *Hub {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if observer == nil {
		observer = noopObserver{}
	}

	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Hub{
		cfg:      cfg,
		log:      log,
		observer: observer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[*client]struct{}),
		events:  make(chan Event, eventsBuffer),
	}
}

// Publish never blocks the caller; events are dropped when the hub is saturated.
func (h *Hub) Publish(event Event) {
	select {
	case h.events <- event:
	default:
		h.log.Warn("changefeed: event dropped", "table", event.Table, "event", event.Type)
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case event := <-h.events:
			h.dispatch(event)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.BusinessError("changefeed: upgrade failed", err, "remote_addr", r.RemoteAddr)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan ServerFrame, h.cfg.SendBuffer),
		subs: make(map[string]Subscription),
		done: make(chan struct{}),
	}
	h.register(c)

	go c.writePump()
	c.readPump()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	h.observer.SetRealtimeClients(count)
	h.log.Debug("changefeed: client connected", "clients", count)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		c.close()
		h.observer.SetRealtimeClients(count)
		h.log.Debug("changefeed: client disconnected", "clients", count)
	}
}

func (h *Hub) dispatch(event Event) {
	if event.Schema == "" {
		event.Schema = DefaultSchema
	}
	if event.CommitTimestamp.IsZero() {
		event.CommitTimestamp = time.Now().UTC()
	}
	h.observer.ObserveRealtimeEvent(event.Table, string(event.Type))

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		for _, id := range c.matching(event) {
			payload := event
			if !c.enqueue(ServerFrame{Type: FrameChange, ID: id, Payload: &payload}) {
				h.log.Warn("changefeed: slow client dropped", "subscription", id)
				h.unregister(c)
				break
			}
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		c.close()
	}
	h.observer.SetRealtimeClients(0)
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan ServerFrame

	mu   sync.Mutex
	subs map[string]Subscription

	closeOnce sync.Once
	done      chan struct{}
}

func (c *client) matching(event Event) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []string
	for id, sub := range c.subs {
		if sub.Matches(event) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (c *client) enqueue(frame ServerFrame) bool {
	select {
	case <-c.done:
		return true
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *client) readPump() {
	defer c.hub.unregister(c)

	pongWait := c.hub.cfg.PingInterval * 2
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame ClientFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.BusinessError("changefeed: read failed", err)
			}
			return
		}
		c.handle(frame)
	}
}

func (c *client) handle(frame ClientFrame) {
	switch frame.Type {
	case FrameSubscribe:
		sub, err := subscriptionFromFrame(frame)
		if err != nil {
			c.enqueue(ServerFrame{Type: FrameError, ID: frame.ID, Message: err.Error()})
			return
		}
		c.mu.Lock()
		c.subs[frame.ID] = sub
		c.mu.Unlock()
		c.enqueue(ServerFrame{Type: FrameSubscribed, ID: frame.ID})

	case FrameUnsubscribe:
		c.mu.Lock()
		delete(c.subs, frame.ID)
		c.mu.Unlock()
		c.enqueue(ServerFrame{Type: FrameUnsubscribed, ID: frame.ID})

	default:
		c.enqueue(ServerFrame{Type: FrameError, ID: frame.ID, Message: "unsupported frame type"})
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.hub.unregister(c)
	}()

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func subscriptionFromFrame(frame ClientFrame) (Subscription, error) {
	if strings.TrimSpace(frame.ID) == "" {
		return Subscription{}, errors.New("subscription id is required")
	}
	table := strings.TrimSpace(frame.Table)
	if table == "" {
		return Subscription{}, errors.New("table is required")
	}

	event := frame.Event
	if event == "" {
		event = EventAll
	}
	if !event.Valid() {
		return Subscription{}, errors.New("unsupported event type")
	}

	filter, err := ParseFilter(frame.Filter)
	if err != nil {
		return Subscription{}, err
	}

	schema := strings.TrimSpace(frame.Schema)
	if schema == "" {
		schema = DefaultSchema
	}

	return Subscription{Schema: schema, Table: table, Event: event, Filter: filter}, nil
}
