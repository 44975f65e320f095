package realtime

import (
	"context"
	"sync"
	"time"

	"thread-erp-go/pkg/logger"
)

const DefaultPollInterval = 30 * time.Second

// Handle identifies one consumer of a Poller. The zero Handle is never issued.
type Handle uint64

// Poller runs fn on an interval while at least one consumer holds a handle.
// The first StartPolling launches the ticker and the last StopPolling stops it.
type Poller struct {
	interval time.Duration
	fn       func(ctx context.Context)
	log      logger.Logger

	mu      sync.Mutex
	next    Handle
	handles map[Handle]struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewPoller(interval time.Duration, fn func(ctx context.Context), log logger.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		interval: interval,
		fn:       fn,
		log:      log,
		handles:  make(map[Handle]struct{}),
	}
}

func (p *Poller) StartPolling() Handle {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.next++
	handle := p.next
	p.handles[handle] = struct{}{}

	if len(p.handles) == 1 {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		p.done = make(chan struct{})
		go p.loop(ctx, p.done)
		p.log.Debug("realtime.poller: started", "interval_ms", p.interval.Milliseconds())
	}
	return handle
}

// StopPolling releases a handle. Releasing a handle twice is a no-op.
func (p *Poller) StopPolling(handle Handle) {
	p.mu.Lock()
	if _, ok := p.handles[handle]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.handles, handle)
	if len(p.handles) > 0 {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	cancel()
	<-done
	p.log.Debug("realtime.poller: stopped")
}

func (p *Poller) Consumers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handles)
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	p.fn(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.fn(ctx)
		}
	}
}
