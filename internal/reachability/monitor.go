// Package reachability tracks whether the warehouse API can be reached.
package reachability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"thread-erp-go/pkg/logger"
)

const (
	DefaultSchedule = "@every 5s"
	defaultTimeout  = 3 * time.Second
)

type Prober interface {
	Health(ctx context.Context) error
}

type Options struct {
	// Schedule is a robfig/cron expression such as "@every 5s".
	Schedule      string
	Timeout       time.Duration
	InitialOnline bool
}

// Monitor probes the server on a cron schedule and notifies subscribers on
// online/offline transitions only.
type Monitor struct {
	prober  Prober
	timeout time.Duration
	log     logger.Logger

	cron    *cron.Cron
	entryID cron.EntryID

	mu          sync.Mutex
	online      bool
	subscribers map[int]func(bool)
	nextID      int
}

func New(prober Prober, opts Options, log logger.Logger) (*Monitor, error) {
	if opts.Schedule == "" {
		opts.Schedule = DefaultSchedule
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}

	m := &Monitor{
		prober:      prober,
		timeout:     opts.Timeout,
		log:         log,
		cron:        cron.New(),
		online:      opts.InitialOnline,
		subscribers: make(map[int]func(bool)),
	}

	id, err := m.cron.AddFunc(opts.Schedule, func() {
		m.Check(context.Background())
	})
	if err != nil {
		return nil, fmt.Errorf("schedule reachability probe %q: %w", opts.Schedule, err)
	}
	m.entryID = id

	return m, nil
}

// Start runs one probe immediately and then follows the schedule.
func (m *Monitor) Start() {
	m.log.Info("reachability: starting")
	go m.Check(context.Background())
	m.cron.Start()
}

func (m *Monitor) Stop() {
	ctx := m.cron.Stop()
	<-ctx.Done()
	m.log.Info("reachability: stopped")
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Check probes the server once and returns the resulting state.
func (m *Monitor) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.prober.Health(probeCtx)
	if err != nil {
		m.log.Debug("reachability: probe failed", "err", err)
	}
	m.SetOnline(err == nil)
	return err == nil
}

// SetOnline forces the state; subscribers run only when it changes.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	subscribers := make([]func(bool), 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subscribers = append(subscribers, fn)
	}
	m.mu.Unlock()

	if online {
		m.log.Info("reachability: online")
	} else {
		m.log.Warn("reachability: offline")
	}

	for _, fn := range subscribers {
		fn(online)
	}
}

func (m *Monitor) Subscribe(fn func(online bool)) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			m.mu.Unlock()
		})
	}
}
