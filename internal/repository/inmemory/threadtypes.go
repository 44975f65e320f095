package inmemory

import (
	"sync"
	"time"

	inventorydomain "thread-erp-go/internal/domain/inventory"
)

type ThreadTypeCache struct {
	mu    sync.RWMutex
	items map[int64]threadTypeItem
}

type threadTypeItem struct {
	value     inventorydomain.ThreadType
	expiresAt time.Time
}

func NewThreadTypeCache() *ThreadTypeCache {
	return &ThreadTypeCache{
		items: make(map[int64]threadTypeItem),
	}
}

func (c *ThreadTypeCache) Get(id int64) (*inventorydomain.ThreadType, bool) {
	now := time.Now()

	c.mu.RLock()
	item, ok := c.items[id]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if !item.expiresAt.After(now) {
		c.mu.Lock()
		item, ok = c.items[id]
		if ok && !item.expiresAt.After(now) {
			delete(c.items, id)
		}
		c.mu.Unlock()
		return nil, false
	}

	value := item.value
	return &value, true
}

func (c *ThreadTypeCache) Set(id int64, threadType *inventorydomain.ThreadType, ttl time.Duration) {
	if threadType == nil || ttl <= 0 {
		c.Delete(id)
		return
	}

	c.mu.Lock()
	c.items[id] = threadTypeItem{
		value:     *threadType,
		expiresAt: time.Now().Add(ttl),
	}
	c.mu.Unlock()
}

func (c *ThreadTypeCache) Delete(id int64) {
	c.mu.Lock()
	delete(c.items, id)
	c.mu.Unlock()
}

func (c *ThreadTypeCache) Clear() {
	c.mu.Lock()
	c.items = make(map[int64]threadTypeItem)
	c.mu.Unlock()
}
