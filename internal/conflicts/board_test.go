package conflicts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thread-erp-go/internal/apiclient"
	"thread-erp-go/internal/changefeed"
	allocationdomain "thread-erp-go/internal/domain/allocation"
	"thread-erp-go/internal/realtime"
	"thread-erp-go/pkg/logger"
)

type fakeAPI struct {
	mu        sync.Mutex
	conflicts []allocationdomain.Conflict
	queries   []apiclient.ConflictQuery
	calls     []string
	err       error
	onSplit   func(allocationID int64, meters decimal.Decimal)
}

func (f *fakeAPI) ListConflicts(_ context.Context, query apiclient.ConflictQuery) ([]allocationdomain.Conflict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return append([]allocationdomain.Conflict(nil), f.conflicts...), nil
}

func (f *fakeAPI) UpdateAllocationPriority(_ context.Context, allocationID int64, priority allocationdomain.Priority) (*allocationdomain.Allocation, error) {
	f.record("priority")
	return &allocationdomain.Allocation{ID: allocationID, Priority: priority}, f.err
}

func (f *fakeAPI) CancelAllocation(_ context.Context, allocationID int64, _ string) (*allocationdomain.Allocation, error) {
	f.record("cancel")
	return &allocationdomain.Allocation{ID: allocationID, Status: allocationdomain.StatusCancelled}, f.err
}

func (f *fakeAPI) SplitAllocation(_ context.Context, allocationID int64, meters decimal.Decimal, _ string) (*allocationdomain.SplitResult, error) {
	f.record("split")
	if f.err == nil && f.onSplit != nil {
		f.onSplit(allocationID, meters)
	}
	return &allocationdomain.SplitResult{}, f.err
}

func (f *fakeAPI) EscalateConflict(_ context.Context, conflictID int64, _ string) (*allocationdomain.Conflict, error) {
	f.record("escalate")
	return &allocationdomain.Conflict{ID: conflictID, Status: allocationdomain.ConflictStatusEscalated}, f.err
}

func (f *fakeAPI) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeAPI) listCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func sampleConflicts() []allocationdomain.Conflict {
	return []allocationdomain.Conflict{
		{
			ID:             1,
			ThreadTypeID:   9,
			TotalRequested: decimal.NewFromInt(500),
			TotalAvailable: decimal.NewFromInt(320),
			Shortage:       decimal.NewFromInt(180),
			Status:         allocationdomain.ConflictStatusPending,
			CompetingAllocations: []allocationdomain.Allocation{
				{ID: 11, RequestedMeters: decimal.NewFromInt(100), AllocatedMeters: decimal.NewFromInt(60), Status: allocationdomain.StatusSoft},
				{ID: 12, RequestedMeters: decimal.NewFromInt(400), Status: allocationdomain.StatusPending},
			},
		},
		{ID: 2, ThreadTypeID: 4, Shortage: decimal.NewFromInt(20), Status: allocationdomain.ConflictStatusPending},
		{ID: 3, ThreadTypeID: 5, Shortage: decimal.Zero, Status: allocationdomain.ConflictStatusResolved},
		{ID: 4, ThreadTypeID: 6, Shortage: decimal.NewFromInt(7), Status: allocationdomain.ConflictStatusEscalated},
	}
}

func TestFetchAndViews(t *testing.T) {
	api := &fakeAPI{conflicts: sampleConflicts()}
	board := NewBoard(api, logger.NewNop())

	status := allocationdomain.ConflictStatusPending
	threadType := int64(9)
	require.NoError(t, board.Fetch(context.Background(), Filter{Status: &status, ThreadTypeID: &threadType}))

	assert.Equal(t, apiclient.ConflictQuery{Status: "PENDING", ThreadTypeID: &threadType}, api.queries[0])
	assert.Len(t, board.Conflicts(), 4)
	assert.Len(t, board.Pending(), 2)
	assert.Len(t, board.Resolved(), 1)
	assert.Len(t, board.Escalated(), 1)
	assert.True(t, board.TotalShortage().Equal(decimal.NewFromInt(200)))
	assert.NotNil(t, board.FetchedAt())
	assert.False(t, board.Loading())

	_, ok := board.Selected()
	assert.False(t, ok)
	id := int64(2)
	board.Select(&id)
	selected, ok := board.Selected()
	require.True(t, ok)
	assert.Equal(t, int64(4), selected.ThreadTypeID)
}

func TestValidateResolution(t *testing.T) {
	competing := sampleConflicts()[0].CompetingAllocations

	cases := []struct {
		name string
		req  ResolveRequest
		want error
	}{
		{"missing conflict", ResolveRequest{ResolutionType: ResolutionEscalate}, ErrConflictRequired},
		{"escalate", ResolveRequest{ConflictID: 1, ResolutionType: ResolutionEscalate}, nil},
		{"priority without allocation", ResolveRequest{ConflictID: 1, ResolutionType: ResolutionPriority, NewPriority: allocationdomain.PriorityHigh}, ErrAllocationRequired},
		{"priority without level", ResolveRequest{ConflictID: 1, ResolutionType: ResolutionPriority, AllocationID: 11}, ErrPriorityRequired},
		{"priority", ResolveRequest{ConflictID: 1, ResolutionType: ResolutionPriority, AllocationID: 11, NewPriority: allocationdomain.PriorityUrgent}, nil},
		{"cancel without allocation", ResolveRequest{ConflictID: 1, ResolutionType: ResolutionCancel}, ErrAllocationRequired},
		{"split zero", ResolveRequest{ConflictID: 1, ResolutionType: ResolutionSplit, AllocationID: 11}, ErrInvalidSplitQuantity},
		{"split whole", ResolveRequest{ConflictID: 1, ResolutionType: ResolutionSplit, AllocationID: 11, SplitQuantity: decimal.NewFromInt(100)}, ErrInvalidSplitQuantity},
		{"split part", ResolveRequest{ConflictID: 1, ResolutionType: ResolutionSplit, AllocationID: 11, SplitQuantity: decimal.NewFromInt(40)}, nil},
		{"unknown", ResolveRequest{ConflictID: 1, ResolutionType: "merge"}, ErrUnsupportedResolution},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateResolution(tc.req, competing)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestResolveDispatchesAndRefetches(t *testing.T) {
	api := &fakeAPI{conflicts: sampleConflicts()}
	board := NewBoard(api, logger.NewNop())
	require.NoError(t, board.Fetch(context.Background(), Filter{}))

	requests := []ResolveRequest{
		{ConflictID: 1, ResolutionType: ResolutionPriority, AllocationID: 12, NewPriority: allocationdomain.PriorityHigh},
		{ConflictID: 1, ResolutionType: ResolutionCancel, AllocationID: 12, Notes: "order dropped"},
		{ConflictID: 1, ResolutionType: ResolutionSplit, AllocationID: 12, SplitQuantity: decimal.NewFromInt(150)},
		{ConflictID: 2, ResolutionType: ResolutionEscalate, Notes: "needs purchasing"},
	}
	for _, req := range requests {
		require.NoError(t, board.Resolve(context.Background(), req))
	}

	assert.Equal(t, []string{"priority", "cancel", "split", "escalate"}, api.calls)
	assert.Equal(t, 1+len(requests), api.listCalls())
}

func TestResolveRejectsInvalidRequestWithoutCallingServer(t *testing.T) {
	api := &fakeAPI{conflicts: sampleConflicts()}
	board := NewBoard(api, logger.NewNop())
	require.NoError(t, board.Fetch(context.Background(), Filter{}))

	err := board.Resolve(context.Background(), ResolveRequest{
		ConflictID:     1,
		ResolutionType: ResolutionSplit,
		AllocationID:   11,
		SplitQuantity:  decimal.NewFromInt(120),
	})

	require.ErrorIs(t, err, ErrInvalidSplitQuantity)
	assert.Empty(t, api.calls)
	assert.Equal(t, 1, api.listCalls())
}

func TestResolveServerFailureSkipsRefetch(t *testing.T) {
	api := &fakeAPI{conflicts: sampleConflicts(), err: &apiclient.StatusError{StatusCode: 404, Message: "allocation not found"}}
	board := NewBoard(api, logger.NewNop())
	require.NoError(t, board.Fetch(context.Background(), Filter{}))

	err := board.Resolve(context.Background(), ResolveRequest{ConflictID: 1, ResolutionType: ResolutionCancel, AllocationID: 99})

	var statusErr *apiclient.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 1, api.listCalls())
}

func TestSplitReleasesAllocationToPendingPool(t *testing.T) {
	api := &fakeAPI{conflicts: sampleConflicts()}
	api.onSplit = func(allocationID int64, meters decimal.Decimal) {
		conflict := &api.conflicts[0]
		for i := range conflict.CompetingAllocations {
			original := &conflict.CompetingAllocations[i]
			if original.ID != allocationID {
				continue
			}
			original.RequestedMeters = original.RequestedMeters.Sub(meters)
			original.AllocatedMeters = decimal.Zero
			original.Status = allocationdomain.StatusPending
			conflict.CompetingAllocations = append(conflict.CompetingAllocations, allocationdomain.Allocation{
				ID:              13,
				RequestedMeters: meters,
				Status:          allocationdomain.StatusPending,
			})
			return
		}
	}
	board := NewBoard(api, logger.NewNop())
	require.NoError(t, board.Fetch(context.Background(), Filter{}))

	require.NoError(t, board.Resolve(context.Background(), ResolveRequest{
		ConflictID:     1,
		ResolutionType: ResolutionSplit,
		AllocationID:   11,
		SplitQuantity:  decimal.NewFromInt(40),
	}))

	conflict, ok := board.Get(1)
	require.True(t, ok)
	pending := 0
	for _, allocation := range conflict.CompetingAllocations {
		if allocation.ID == 11 || allocation.ID == 13 {
			assert.Equal(t, allocationdomain.StatusPending, allocation.Status)
			assert.True(t, allocation.AllocatedMeters.IsZero())
			pending++
		}
	}
	assert.Equal(t, 2, pending)
}

type fakeSubscriber struct {
	mu           sync.Mutex
	callbacks    map[string]realtime.Callback
	options      map[string]realtime.Options
	unsubscribed []string
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{callbacks: make(map[string]realtime.Callback), options: make(map[string]realtime.Options)}
}

func (s *fakeSubscriber) Subscribe(_ context.Context, opts realtime.Options, callback realtime.Callback) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := string(opts.Event)
	s.callbacks[name] = callback
	s.options[name] = opts
	return name, nil
}

func (s *fakeSubscriber) Unsubscribe(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.callbacks, name)
	s.unsubscribed = append(s.unsubscribed, name)
}

func (s *fakeSubscriber) emit(name string, change realtime.Change) {
	s.mu.Lock()
	callback := s.callbacks[name]
	s.mu.Unlock()
	callback(change)
}

func TestEnableRealtimeRefreshesOnInsertAndUpdate(t *testing.T) {
	api := &fakeAPI{conflicts: sampleConflicts()}
	var notices []Notice
	var noticesMu sync.Mutex
	board := NewBoardWithOptions(api, logger.NewNop(), Options{
		Debounce: 20 * time.Millisecond,
		OnNotice: func(n Notice) {
			noticesMu.Lock()
			notices = append(notices, n)
			noticesMu.Unlock()
		},
	})
	require.NoError(t, board.Fetch(context.Background(), Filter{}))

	subscriber := newFakeSubscriber()
	require.NoError(t, board.EnableRealtime(context.Background(), subscriber))
	t.Cleanup(board.DisableRealtime)

	assert.Equal(t, allocationdomain.TableConflicts, subscriber.options["INSERT"].Table)
	assert.Equal(t, changefeed.EventUpdate, subscriber.options["UPDATE"].Event)

	subscriber.emit("INSERT", realtime.Insert{New: realtime.Row{"id": float64(5), "thread_type_id": float64(9), "shortage": "75"}})
	subscriber.emit("UPDATE", realtime.Update{Old: realtime.Row{"id": float64(1)}, New: realtime.Row{"id": float64(1)}})

	require.Eventually(t, func() bool { return api.listCalls() == 2 }, time.Second, 5*time.Millisecond)

	noticesMu.Lock()
	require.Len(t, notices, 1)
	assert.Equal(t, Notice{ConflictID: 5, ThreadTypeID: 9, Shortage: "75"}, notices[0])
	noticesMu.Unlock()

	board.DisableRealtime()
	assert.ElementsMatch(t, []string{"INSERT", "UPDATE"}, subscriber.unsubscribed)
}
