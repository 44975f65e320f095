package offline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"thread-erp-go/pkg/logger"
)

// Sender delivers one queued operation to the server.
type Sender interface {
	Send(ctx context.Context, endpoint, operationID string, payload json.RawMessage) error
}

type Reachability interface {
	Online() bool
	Subscribe(fn func(online bool)) (cancel func())
}

type Observer interface {
	ObserveSyncPass(success, failed, conflicts int, duration time.Duration)
	SetQueueDepth(status string, n int)
}

type noopObserver struct{}

func (noopObserver) ObserveSyncPass(int, int, int, time.Duration) {}
func (noopObserver) SetQueueDepth(string, int)                    {}

type Options struct {
	Observer Observer
	Now      func() time.Time
	NewID    func(now time.Time) string
}

// Queue mirrors the store in memory. Every mutation writes the store first.
type Queue struct {
	store  Store
	sender Sender
	net    Reachability
	log    logger.Logger

	observer Observer
	now      func() time.Time
	newID    func(now time.Time) string

	mu          sync.RWMutex
	operations  []QueuedOperation
	syncing     bool
	lastSyncAt  *time.Time
	lastError   string
	initialized bool
	unsubscribe func()

	baseCtx context.Context
	wg      sync.WaitGroup
}

func NewQueue(store Store, sender Sender, net Reachability, log logger.Logger) *Queue {
	return NewQueueWithOptions(store, sender, net, log, Options{})
}

func NewQueueWithOptions(store Store, sender Sender, net Reachability, log logger.Logger, opts Options) *Queue {
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = NewOperationID
	}
	return &Queue{
		store:    store,
		sender:   sender,
		net:      net,
		log:      log,
		observer: opts.Observer,
		now:      opts.Now,
		newID:    opts.NewID,
		baseCtx:  context.Background(),
	}
}

// NewOperationID returns "<unix-millis>-<random>".
func NewOperationID(now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + random
}

// Initialize loads the store and subscribes to reachability changes once.
// Operations left in syncing by an interrupted pass go back to pending.
func (q *Queue) Initialize(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.initialized {
		return nil
	}

	operations, err := q.store.GetAll(ctx)
	if err != nil {
		q.lastError = ErrLocalDatabase.Error()
		q.log.InternalError("offline.initialize: load failed", err)
		return fmt.Errorf("%w: %w", ErrLocalDatabase, err)
	}

	for i := range operations {
		if operations[i].Status != StatusSyncing {
			continue
		}
		operations[i].Status = StatusPending
		if err := q.store.Put(ctx, operations[i]); err != nil {
			return fmt.Errorf("%w: %w", ErrLocalDatabase, err)
		}
	}

	q.operations = operations
	q.baseCtx = context.WithoutCancel(ctx)
	q.unsubscribe = q.net.Subscribe(q.handleReachability)
	q.initialized = true
	q.reportDepthLocked()

	q.log.Info("offline.initialize: loaded", "operations", len(operations))
	return nil
}

// Close detaches from reachability and waits for background syncs.
func (q *Queue) Close() {
	q.mu.Lock()
	unsubscribe := q.unsubscribe
	q.unsubscribe = nil
	q.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	q.wg.Wait()
}

func (q *Queue) handleReachability(online bool) {
	if !online {
		q.log.Info("offline: connection lost, queueing locally")
		return
	}
	if pending := q.PendingCount(); pending > 0 {
		q.log.Info("offline: connection restored, syncing", "pending", pending)
		q.triggerSync()
	}
}

func (q *Queue) triggerSync() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		if _, err := q.Sync(q.baseCtx); err != nil {
			q.log.InternalError("offline.sync: background pass failed", err)
		}
	}()
}

func (q *Queue) Enqueue(ctx context.Context, operationType OperationType, payload any) (QueuedOperation, error) {
	return q.enqueue(ctx, q.newID(q.now()), operationType, payload)
}

func (q *Queue) enqueue(ctx context.Context, id string, operationType OperationType, payload any) (QueuedOperation, error) {
	if !operationType.Valid() {
		return QueuedOperation{}, fmt.Errorf("%w: %q", ErrUnsupportedOperation, operationType)
	}
	encoded, err := encodePayload(payload)
	if err != nil {
		return QueuedOperation{}, err
	}

	op := QueuedOperation{
		ID:        id,
		Type:      operationType,
		Payload:   encoded,
		CreatedAt: q.now().UTC(),
		Status:    StatusPending,
	}

	if err := q.store.Add(ctx, op); err != nil {
		q.log.InternalError("offline.enqueue: store add failed", err, "operation_id", op.ID, "type", op.Type)
		return QueuedOperation{}, fmt.Errorf("%w: %w", ErrLocalDatabase, err)
	}

	q.mu.Lock()
	q.replaceLocked(op)
	shouldSync := !q.syncing
	q.reportDepthLocked()
	q.mu.Unlock()

	q.log.Info("offline.enqueue: queued", "operation_id", op.ID, "type", op.Type)

	if shouldSync && q.net.Online() {
		q.triggerSync()
	}
	return op, nil
}

// Dequeue removes one operation. Unknown ids are ignored.
func (q *Queue) Dequeue(ctx context.Context, id string) error {
	if err := q.store.DeleteByKey(ctx, id); err != nil {
		q.log.InternalError("offline.dequeue: store delete failed", err, "operation_id", id)
		return fmt.Errorf("%w: %w", ErrLocalDatabase, err)
	}

	q.mu.Lock()
	q.operations = removeOperation(q.operations, id)
	q.reportDepthLocked()
	q.mu.Unlock()
	return nil
}

func (q *Queue) ClearSynced(ctx context.Context) error {
	if err := q.store.DeleteByIndex(ctx, StatusSynced); err != nil {
		return fmt.Errorf("%w: %w", ErrLocalDatabase, err)
	}

	q.mu.Lock()
	kept := q.operations[:0]
	for _, op := range q.operations {
		if op.Status != StatusSynced {
			kept = append(kept, op)
		}
	}
	q.operations = kept
	q.reportDepthLocked()
	q.mu.Unlock()
	return nil
}

func (q *Queue) ClearAll(ctx context.Context) error {
	if err := q.store.Clear(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrLocalDatabase, err)
	}

	q.mu.Lock()
	q.operations = nil
	q.reportDepthLocked()
	q.mu.Unlock()
	return nil
}

func (q *Queue) Operations() []QueuedOperation {
	return q.filter(func(QueuedOperation) bool { return true })
}

func (q *Queue) Get(id string) (QueuedOperation, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	for _, op := range q.operations {
		if op.ID == id {
			return op.clone(), true
		}
	}
	return QueuedOperation{}, false
}

func (q *Queue) Pending() []QueuedOperation {
	return q.withStatus(StatusPending)
}

func (q *Queue) Failed() []QueuedOperation {
	return q.withStatus(StatusFailed)
}

func (q *Queue) Conflicts() []QueuedOperation {
	return q.withStatus(StatusConflict)
}

func (q *Queue) PendingCount() int {
	return q.count(StatusPending)
}

func (q *Queue) HasPending() bool {
	return q.PendingCount() > 0
}

func (q *Queue) HasConflicts() bool {
	return q.count(StatusConflict) > 0
}

func (q *Queue) Online() bool {
	return q.net.Online()
}

func (q *Queue) Syncing() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.syncing
}

func (q *Queue) LastSyncAt() *time.Time {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.lastSyncAt == nil {
		return nil
	}
	value := *q.lastSyncAt
	return &value
}

func (q *Queue) LastError() string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.lastError
}

func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := Stats{
		Total:      len(q.operations),
		Online:     q.net.Online(),
		InProgress: q.syncing,
		LastError:  q.lastError,
	}
	if q.lastSyncAt != nil {
		value := *q.lastSyncAt
		stats.LastSyncAt = &value
	}
	for _, op := range q.operations {
		switch op.Status {
		case StatusPending:
			stats.Pending++
		case StatusSyncing:
			stats.Syncing++
		case StatusSynced:
			stats.Synced++
		case StatusFailed:
			stats.Failed++
		case StatusConflict:
			stats.Conflicts++
		}
	}
	return stats
}

func (q *Queue) withStatus(status Status) []QueuedOperation {
	return q.filter(func(op QueuedOperation) bool { return op.Status == status })
}

func (q *Queue) filter(keep func(QueuedOperation) bool) []QueuedOperation {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]QueuedOperation, 0, len(q.operations))
	for _, op := range q.operations {
		if keep(op) {
			result = append(result, op.clone())
		}
	}
	return result
}

func (q *Queue) count(status Status) int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	n := 0
	for _, op := range q.operations {
		if op.Status == status {
			n++
		}
	}
	return n
}

// replaceLocked swaps the in-memory copy of op. Callers hold q.mu.
func (q *Queue) replaceLocked(op QueuedOperation) {
	for i := range q.operations {
		if q.operations[i].ID == op.ID {
			q.operations[i] = op.clone()
			return
		}
	}
	q.operations = append(q.operations, op.clone())
}

func (q *Queue) reportDepthLocked() {
	counts := make(map[Status]int, len(allStatuses))
	for _, op := range q.operations {
		counts[op.Status]++
	}
	for _, status := range allStatuses {
		q.observer.SetQueueDepth(string(status), counts[status])
	}
}

func removeOperation(operations []QueuedOperation, id string) []QueuedOperation {
	for i := range operations {
		if operations[i].ID == id {
			return append(operations[:i], operations[i+1:]...)
		}
	}
	return operations
}

func encodePayload(payload any) (json.RawMessage, error) {
	var encoded []byte
	switch value := payload.(type) {
	case json.RawMessage:
		encoded = value
	case []byte:
		encoded = value
	default:
		marshaled, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		encoded = marshaled
	}

	trimmed := bytes.TrimSpace(encoded)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, ErrInvalidPayload
	}
	return append(json.RawMessage(nil), trimmed...), nil
}
