// Package conflicts mirrors the server's allocation conflicts for the shop
// floor and dispatches resolutions. All shortage arithmetic stays on the server.
package conflicts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"thread-erp-go/internal/apiclient"
	"thread-erp-go/internal/changefeed"
	allocationdomain "thread-erp-go/internal/domain/allocation"
	"thread-erp-go/internal/realtime"
	"thread-erp-go/pkg/logger"
)

// API is the slice of the warehouse client the board needs.
type API interface {
	ListConflicts(ctx context.Context, query apiclient.ConflictQuery) ([]allocationdomain.Conflict, error)
	UpdateAllocationPriority(ctx context.Context, allocationID int64, priority allocationdomain.Priority) (*allocationdomain.Allocation, error)
	CancelAllocation(ctx context.Context, allocationID int64, reason string) (*allocationdomain.Allocation, error)
	SplitAllocation(ctx context.Context, allocationID int64, splitMeters decimal.Decimal, reason string) (*allocationdomain.SplitResult, error)
	EscalateConflict(ctx context.Context, conflictID int64, notes string) (*allocationdomain.Conflict, error)
}

type Subscriber interface {
	Subscribe(ctx context.Context, opts realtime.Options, callback realtime.Callback) (string, error)
	Unsubscribe(name string)
}

type Filter struct {
	Status       *allocationdomain.ConflictStatus
	ThreadTypeID *int64
}

func (f Filter) query() apiclient.ConflictQuery {
	query := apiclient.ConflictQuery{ThreadTypeID: f.ThreadTypeID}
	if f.Status != nil {
		query.Status = string(*f.Status)
	}
	return query
}

// Notice is raised when the feed reports a new conflict.
type Notice struct {
	ConflictID   int64
	ThreadTypeID int64
	Shortage     string
}

type Options struct {
	Debounce time.Duration
	OnNotice func(Notice)
}

type Board struct {
	api      API
	log      logger.Logger
	debounce time.Duration
	onNotice func(Notice)

	mu        sync.RWMutex
	filter    Filter
	conflicts []allocationdomain.Conflict
	selected  *int64
	loading   bool
	lastError string
	fetchedAt *time.Time

	realtimeMu  sync.Mutex
	subscriber  Subscriber
	channels    []string
	coordinator *realtime.Coordinator
}

func NewBoard(api API, log logger.Logger) *Board {
	return NewBoardWithOptions(api, log, Options{})
}

func NewBoardWithOptions(api API, log logger.Logger, opts Options) *Board {
	return &Board{
		api:      api,
		log:      log,
		debounce: opts.Debounce,
		onNotice: opts.OnNotice,
	}
}

// Fetch replaces the cached list with the server's view for filter.
func (b *Board) Fetch(ctx context.Context, filter Filter) error {
	b.mu.Lock()
	b.filter = filter
	b.loading = true
	b.mu.Unlock()

	startedAt := time.Now()
	conflicts, err := b.api.ListConflicts(ctx, filter.query())

	b.mu.Lock()
	defer b.mu.Unlock()
	b.loading = false
	if err != nil {
		b.lastError = err.Error()
		b.log.BusinessError("conflicts.fetch: failed", err)
		return err
	}
	fetchedAt := time.Now().UTC()
	b.conflicts = conflicts
	b.lastError = ""
	b.fetchedAt = &fetchedAt

	b.log.Debug("conflicts.fetch: loaded", "count", len(conflicts), "duration_ms", time.Since(startedAt).Milliseconds())
	return nil
}

// Refresh fetches again with the last filter.
func (b *Board) Refresh(ctx context.Context) error {
	b.mu.RLock()
	filter := b.filter
	b.mu.RUnlock()
	return b.Fetch(ctx, filter)
}

func (b *Board) Conflicts() []allocationdomain.Conflict {
	return b.withStatus(nil)
}

func (b *Board) Pending() []allocationdomain.Conflict {
	status := allocationdomain.ConflictStatusPending
	return b.withStatus(&status)
}

func (b *Board) Resolved() []allocationdomain.Conflict {
	status := allocationdomain.ConflictStatusResolved
	return b.withStatus(&status)
}

func (b *Board) Escalated() []allocationdomain.Conflict {
	status := allocationdomain.ConflictStatusEscalated
	return b.withStatus(&status)
}

// TotalShortage sums the shortage of pending conflicts as reported by the server.
func (b *Board) TotalShortage() decimal.Decimal {
	total := decimal.Zero
	for _, conflict := range b.Pending() {
		total = total.Add(conflict.Shortage)
	}
	return total
}

func (b *Board) Loading() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loading
}

func (b *Board) LastError() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastError
}

func (b *Board) FetchedAt() *time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.fetchedAt == nil {
		return nil
	}
	value := *b.fetchedAt
	return &value
}

// Select opens one conflict for detail, or clears the selection with nil.
func (b *Board) Select(id *int64) {
	b.mu.Lock()
	if id == nil {
		b.selected = nil
	} else {
		selected := *id
		b.selected = &selected
	}
	b.mu.Unlock()

	b.realtimeMu.Lock()
	coordinator := b.coordinator
	b.realtimeMu.Unlock()
	if coordinator != nil {
		coordinator.SelectDetail(id)
	}
}

func (b *Board) Selected() (allocationdomain.Conflict, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.selected == nil {
		return allocationdomain.Conflict{}, false
	}
	return b.findLocked(*b.selected)
}

func (b *Board) Get(id int64) (allocationdomain.Conflict, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.findLocked(id)
}

// Resolve validates and dispatches a resolution, then refetches the list.
func (b *Board) Resolve(ctx context.Context, req ResolveRequest) error {
	var competing []allocationdomain.Allocation
	if conflict, ok := b.Get(req.ConflictID); ok {
		competing = conflict.CompetingAllocations
	}
	if err := ValidateResolution(req, competing); err != nil {
		return err
	}

	var err error
	switch req.ResolutionType {
	case ResolutionPriority:
		_, err = b.api.UpdateAllocationPriority(ctx, req.AllocationID, req.NewPriority)
	case ResolutionCancel:
		_, err = b.api.CancelAllocation(ctx, req.AllocationID, req.Notes)
	case ResolutionSplit:
		_, err = b.api.SplitAllocation(ctx, req.AllocationID, req.SplitQuantity, req.Notes)
	case ResolutionEscalate:
		_, err = b.api.EscalateConflict(ctx, req.ConflictID, req.Notes)
	}
	if err != nil {
		b.log.BusinessError("conflicts.resolve: failed", err,
			"conflict_id", req.ConflictID,
			"resolution", req.ResolutionType,
			"allocation_id", req.AllocationID,
		)
		return fmt.Errorf("resolve conflict %d: %w", req.ConflictID, err)
	}

	b.log.Info("conflicts.resolve: applied",
		"conflict_id", req.ConflictID,
		"resolution", req.ResolutionType,
		"allocation_id", req.AllocationID,
	)

	if err := b.Refresh(ctx); err != nil {
		b.log.Warn("conflicts.resolve: refetch failed", "conflict_id", req.ConflictID, "err", err)
	}
	return nil
}

// EnableRealtime refreshes the board from allocation_conflicts inserts and
// updates. Calling it again replaces the previous subscriptions.
func (b *Board) EnableRealtime(ctx context.Context, subscriber Subscriber) error {
	b.DisableRealtime()

	coordinator := realtime.NewCoordinator(realtime.CoordinatorConfig{
		Name:     allocationdomain.TableConflicts,
		Debounce: b.debounce,
		Refresh:  b.Refresh,
	}, b.log)

	b.mu.RLock()
	if b.selected != nil {
		selected := *b.selected
		coordinator.SelectDetail(&selected)
	}
	b.mu.RUnlock()

	inserts, err := subscriber.Subscribe(ctx, realtime.Options{
		Table: allocationdomain.TableConflicts,
		Event: changefeed.EventInsert,
	}, func(change realtime.Change) {
		b.notice(change)
		coordinator.Handle(change)
	})
	if err != nil {
		coordinator.Stop()
		return fmt.Errorf("subscribe conflict inserts: %w", err)
	}

	updates, err := subscriber.Subscribe(ctx, realtime.Options{
		Table: allocationdomain.TableConflicts,
		Event: changefeed.EventUpdate,
	}, coordinator.Handle)
	if err != nil {
		subscriber.Unsubscribe(inserts)
		coordinator.Stop()
		return fmt.Errorf("subscribe conflict updates: %w", err)
	}

	b.realtimeMu.Lock()
	b.subscriber = subscriber
	b.channels = []string{inserts, updates}
	b.coordinator = coordinator
	b.realtimeMu.Unlock()
	return nil
}

func (b *Board) DisableRealtime() {
	b.realtimeMu.Lock()
	subscriber, channels, coordinator := b.subscriber, b.channels, b.coordinator
	b.subscriber, b.channels, b.coordinator = nil, nil, nil
	b.realtimeMu.Unlock()

	for _, name := range channels {
		subscriber.Unsubscribe(name)
	}
	if coordinator != nil {
		coordinator.Stop()
	}
}

func (b *Board) notice(change realtime.Change) {
	insert, ok := change.(realtime.Insert)
	if !ok {
		return
	}
	notice := Notice{Shortage: fmt.Sprint(insert.New["shortage"])}
	notice.ConflictID, _ = realtime.RowID(insert.New)
	notice.ThreadTypeID, _ = realtime.RowInt(insert.New, "thread_type_id")

	b.log.Warn("conflicts: new allocation conflict",
		"conflict_id", notice.ConflictID,
		"thread_type_id", notice.ThreadTypeID,
		"shortage", notice.Shortage,
	)
	if b.onNotice != nil {
		b.onNotice(notice)
	}
}

func (b *Board) withStatus(status *allocationdomain.ConflictStatus) []allocationdomain.Conflict {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]allocationdomain.Conflict, 0, len(b.conflicts))
	for _, conflict := range b.conflicts {
		if status == nil || conflict.Status == *status {
			result = append(result, conflict)
		}
	}
	return result
}

func (b *Board) findLocked(id int64) (allocationdomain.Conflict, bool) {
	for _, conflict := range b.conflicts {
		if conflict.ID == id {
			return conflict, true
		}
	}
	return allocationdomain.Conflict{}, false
}
