package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"thread-erp-go/pkg/logger"
)

const DefaultDebounce = 100 * time.Millisecond

// Filters scope a view by column equality, e.g. {"warehouse_id": "5"}.
type Filters map[string]string

func (f Filters) matches(row Row) bool {
	if row == nil {
		return false
	}
	for column, want := range f {
		value, ok := row[column]
		if !ok || value == nil || fmt.Sprint(value) != want {
			return false
		}
	}
	return true
}

// Relevant decides whether a change affects a view scoped by filters.
// Updates count when either side matches so rows moving in or out of scope
// are seen.
func Relevant(filters Filters, change Change) bool {
	if len(filters) == 0 {
		return true
	}
	before, after := change.Rows()
	switch change.(type) {
	case Insert:
		return filters.matches(after)
	case Delete:
		return filters.matches(before)
	default:
		return filters.matches(before) || filters.matches(after)
	}
}

type RefreshFunc func(ctx context.Context) error

type DetailFunc func(ctx context.Context, id int64) error

type CoordinatorConfig struct {
	Name     string
	Debounce time.Duration
	Refresh  RefreshFunc
	Detail   DetailFunc

	// DetailColumn names the row column compared with the selected detail id.
	// Defaults to "id".
	DetailColumn string
}

// Coordinator coalesces bursts of relevant changes into one refresh.
type Coordinator struct {
	name     string
	debounce time.Duration
	refresh  RefreshFunc
	detail   DetailFunc
	column   string
	log      logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	filters    Filters
	selected   *int64
	detailDue  bool
	timer      *time.Timer
	generation uint64
	stopped    bool
	inflight   sync.WaitGroup
}

func NewCoordinator(cfg CoordinatorConfig, log logger.Logger) *Coordinator {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	refresh := cfg.Refresh
	if refresh == nil {
		refresh = func(context.Context) error { return nil }
	}
	column := cfg.DetailColumn
	if column == "" {
		column = "id"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		name:     cfg.Name,
		debounce: debounce,
		refresh:  refresh,
		detail:   cfg.Detail,
		column:   column,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *Coordinator) SetFilters(filters Filters) {
	copied := make(Filters, len(filters))
	for column, value := range filters {
		copied[column] = value
	}
	c.mu.Lock()
	c.filters = copied
	c.mu.Unlock()
}

func (c *Coordinator) Filters() Filters {
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := make(Filters, len(c.filters))
	for column, value := range c.filters {
		copied[column] = value
	}
	return copied
}

// SelectDetail sets the open drill-down row, or clears it with nil, and
// cancels any pending refresh.
func (c *Coordinator) SelectDetail(id *int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelTimerLocked()
	c.detailDue = false
	if id == nil {
		c.selected = nil
		return
	}
	selected := *id
	c.selected = &selected
}

// Handle is a Callback for Client.Subscribe.
func (c *Coordinator) Handle(change Change) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped || !Relevant(c.filters, change) {
		return
	}
	if c.selected != nil {
		if id, ok := changedValue(change, c.column); ok && id == *c.selected {
			c.detailDue = true
		}
	}

	c.cancelTimerLocked()
	generation := c.generation
	c.timer = time.AfterFunc(c.debounce, func() { c.fire(generation) })
}

// Stop cancels pending refreshes and waits for a running one.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.cancelTimerLocked()
	c.mu.Unlock()

	c.cancel()
	c.inflight.Wait()
}

func (c *Coordinator) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++
}

func (c *Coordinator) fire(generation uint64) {
	c.mu.Lock()
	if c.stopped || generation != c.generation {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	detailDue := c.detailDue
	c.detailDue = false
	var selected int64
	if c.selected != nil {
		selected = *c.selected
	}
	c.inflight.Add(1)
	c.mu.Unlock()
	defer c.inflight.Done()

	if err := c.refresh(c.ctx); err != nil {
		c.log.BusinessError("realtime.refresh: list refresh failed", err, "view", c.name)
	}
	if detailDue && c.detail != nil {
		if err := c.detail(c.ctx, selected); err != nil {
			c.log.BusinessError("realtime.refresh: detail refresh failed", err, "view", c.name, "id", selected)
		}
	}
}
