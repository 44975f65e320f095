package inmemory

import (
	"context"
	"sort"
	"sync"

	"thread-erp-go/internal/offline"
)

// QueueStore keeps queued operations in process memory.
type QueueStore struct {
	mu    sync.RWMutex
	items map[string]offline.QueuedOperation
}

func NewQueueStore() *QueueStore {
	return &QueueStore{
		items: make(map[string]offline.QueuedOperation),
	}
}

func (s *QueueStore) GetAll(ctx context.Context) ([]offline.QueuedOperation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	result := make([]offline.QueuedOperation, 0, len(s.items))
	for _, op := range s.items {
		result = append(result, copyOperation(op))
	}
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (s *QueueStore) Add(ctx context.Context, op offline.QueuedOperation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[op.ID]; ok {
		return offline.ErrDuplicateKey
	}
	s.items[op.ID] = copyOperation(op)
	return nil
}

func (s *QueueStore) Put(ctx context.Context, op offline.QueuedOperation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.items[op.ID] = copyOperation(op)
	s.mu.Unlock()
	return nil
}

func (s *QueueStore) DeleteByKey(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
	return nil
}

func (s *QueueStore) DeleteByIndex(ctx context.Context, status offline.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	for id, op := range s.items {
		if op.Status == status {
			delete(s.items, id)
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *QueueStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.items = make(map[string]offline.QueuedOperation)
	s.mu.Unlock()
	return nil
}

func copyOperation(op offline.QueuedOperation) offline.QueuedOperation {
	copied := op
	if op.Payload != nil {
		copied.Payload = append([]byte(nil), op.Payload...)
	}
	if op.SyncedAt != nil {
		syncedAt := *op.SyncedAt
		copied.SyncedAt = &syncedAt
	}
	return copied
}
