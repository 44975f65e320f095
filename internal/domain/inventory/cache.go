package inventory

import "time"

type ThreadTypeCache interface {
	Get(id int64) (*ThreadType, bool)
	Set(id int64, threadType *ThreadType, ttl time.Duration)
	Delete(id int64)
	Clear()
}

type noopCache struct{}

func (noopCache) Get(int64) (*ThreadType, bool) {
	return nil, false
}

func (noopCache) Set(int64, *ThreadType, time.Duration) {}

func (noopCache) Delete(int64) {}

func (noopCache) Clear() {}
