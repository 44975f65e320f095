package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"thread-erp-go/internal/changefeed"
	"thread-erp-go/pkg/logger"
)

var (
	ErrTableRequired      = errors.New("table is required")
	ErrUnsupportedEvent   = errors.New("unsupported event type")
	ErrClientClosed       = errors.New("realtime client closed")
	ErrSubscriptionFailed = errors.New("subscription rejected")
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

type Options struct {
	Schema string
	Table  string
	Event  changefeed.EventType
	Filter string
}

func (o Options) normalized() (Options, error) {
	o.Schema = strings.TrimSpace(o.Schema)
	if o.Schema == "" {
		o.Schema = changefeed.DefaultSchema
	}
	o.Table = strings.TrimSpace(o.Table)
	if o.Table == "" {
		return o, ErrTableRequired
	}
	if o.Event == "" {
		o.Event = changefeed.EventAll
	}
	if !o.Event.Valid() {
		return o, fmt.Errorf("%w: %q", ErrUnsupportedEvent, o.Event)
	}
	if _, err := changefeed.ParseFilter(o.Filter); err != nil {
		return o, err
	}
	return o, nil
}

type Callback func(Change)

// Observer counts reconnect attempts per table.
type Observer interface {
	ObserveReconnect(table string)
}

type noopObserver struct{}

func (noopObserver) ObserveReconnect(string) {}

type Config struct {
	URL              string
	Token            string
	Backoff          Backoff
	HandshakeTimeout time.Duration
	Observer         Observer
}

// Client keeps one websocket per subscribed channel and reconnects it with
// exponential backoff until the attempts run out.
type Client struct {
	url      string
	header   http.Header
	backoff  Backoff
	dialer   *websocket.Dialer
	observer Observer
	log      logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	channels map[string]*channel
	closed   bool
}

type channel struct {
	name     string
	opts     Options
	callback Callback
	cancel   context.CancelFunc
	done     chan struct{}

	mu     sync.RWMutex
	status Status
}

func (ch *channel) setStatus(status Status) {
	ch.mu.Lock()
	ch.status = status
	ch.mu.Unlock()
}

func (ch *channel) getStatus() Status {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.status
}

func NewClient(cfg Config, log logger.Logger) *Client {
	header := http.Header{}
	if token := strings.TrimSpace(cfg.Token); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	handshake := cfg.HandshakeTimeout
	if handshake <= 0 {
		handshake = 10 * time.Second
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}

	return &Client{
		url:      cfg.URL,
		header:   header,
		backoff:  cfg.Backoff.withDefaults(),
		dialer:   &websocket.Dialer{Proxy: http.ProxyFromEnvironment, HandshakeTimeout: handshake},
		observer: observer,
		log:      log,
		now:      time.Now,
		channels: make(map[string]*channel),
	}
}

// ChannelName is schema:table:event-filter-ts.
func ChannelName(opts Options, now time.Time) string {
	filter := opts.Filter
	if filter == "" {
		filter = "all"
	}
	return fmt.Sprintf("%s:%s:%s-%s-%s", opts.Schema, opts.Table, opts.Event, filter, strconv.FormatInt(now.UnixMilli(), 10))
}

// Subscribe opens a channel and returns its name. The connection is made in
// the background; Status reports its progress.
func (c *Client) Subscribe(ctx context.Context, opts Options, callback Callback) (string, error) {
	opts, err := opts.normalized()
	if err != nil {
		return "", err
	}
	if callback == nil {
		callback = func(Change) {}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClientClosed
	}

	name := ChannelName(opts, c.now())
	for suffix := 1; c.channels[name] != nil; suffix++ {
		name = ChannelName(opts, c.now()) + "-" + strconv.Itoa(suffix)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	ch := &channel{
		name:     name,
		opts:     opts,
		callback: callback,
		cancel:   cancel,
		done:     make(chan struct{}),
		status:   StatusConnecting,
	}
	c.channels[name] = ch

	go c.run(runCtx, ch)

	c.log.Info("realtime: subscribing", "channel", name, "table", opts.Table, "event", opts.Event, "filter", opts.Filter)
	return name, nil
}

// Status reports a channel's connection state; unknown names are disconnected.
func (c *Client) Status(name string) Status {
	c.mu.Lock()
	ch := c.channels[name]
	c.mu.Unlock()
	if ch == nil {
		return StatusDisconnected
	}
	return ch.getStatus()
}

func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.channels))
	for name := range c.channels {
		names = append(names, name)
	}
	return names
}

func (c *Client) Unsubscribe(name string) {
	c.mu.Lock()
	ch := c.channels[name]
	delete(c.channels, name)
	c.mu.Unlock()

	if ch == nil {
		return
	}
	ch.cancel()
	<-ch.done
	c.log.Info("realtime: unsubscribed", "channel", name)
}

func (c *Client) UnsubscribeAll() {
	for _, name := range c.Channels() {
		c.Unsubscribe(name)
	}
}

// Close drops every channel and refuses new subscriptions.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.UnsubscribeAll()
}

func (c *Client) run(ctx context.Context, ch *channel) {
	defer close(ch.done)

	attempt := 0
	for {
		ch.setStatus(StatusConnecting)
		err := c.session(ctx, ch, func() { attempt = 0 })
		if ctx.Err() != nil {
			ch.setStatus(StatusDisconnected)
			return
		}

		ch.setStatus(StatusError)
		delay, ok := c.backoff.NextDelay(attempt)
		if !ok {
			c.log.Error("realtime: giving up on channel", "channel", ch.name, "attempts", attempt, "err", err)
			return
		}
		attempt++
		c.observer.ObserveReconnect(ch.opts.Table)
		c.log.Warn("realtime: channel dropped, reconnecting",
			"channel", ch.name,
			"attempt", attempt,
			"delay_ms", delay.Milliseconds(),
			"err", err,
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			ch.setStatus(StatusDisconnected)
			return
		case <-timer.C:
		}
	}
}

// session dials, subscribes and pumps frames until the connection ends.
func (c *Client) session(ctx context.Context, ch *channel, onSubscribed func()) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", c.url, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()

	subscribe := changefeed.ClientFrame{
		Type:   changefeed.FrameSubscribe,
		ID:     ch.name,
		Schema: ch.opts.Schema,
		Table:  ch.opts.Table,
		Event:  ch.opts.Event,
		Filter: ch.opts.Filter,
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	for {
		var frame changefeed.ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		if frame.ID != "" && frame.ID != ch.name {
			continue
		}

		switch frame.Type {
		case changefeed.FrameSubscribed:
			ch.setStatus(StatusConnected)
			onSubscribed()
			c.log.Debug("realtime: channel connected", "channel", ch.name)
		case changefeed.FrameChange:
			if frame.Payload == nil {
				continue
			}
			change, err := DecodeChange(*frame.Payload)
			if err != nil {
				c.log.Warn("realtime: skipping event", "channel", ch.name, "err", err)
				continue
			}
			ch.callback(change)
		case changefeed.FrameError:
			return fmt.Errorf("%w: %s", ErrSubscriptionFailed, frame.Message)
		}
	}
}
