package inmemory

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	inventorydomain "thread-erp-go/internal/domain/inventory"
)

func TestThreadTypeCacheExpiry(t *testing.T) {
	cache := NewThreadTypeCache()
	threadType := &inventorydomain.ThreadType{ID: 3, Code: "T-40", MetersPerGram: decimal.NewFromInt(20)}

	cache.Set(3, threadType, time.Minute)
	got, ok := cache.Get(3)
	if !ok || got.Code != "T-40" {
		t.Fatalf("expected cached thread type, got %+v", got)
	}

	got.Code = "mutated"
	again, _ := cache.Get(3)
	if again.Code != "T-40" {
		t.Fatalf("expected cache to hand out copies, got %s", again.Code)
	}

	cache.Set(4, threadType, -time.Second)
	if _, ok := cache.Get(4); ok {
		t.Fatalf("expected non-positive ttl not to cache")
	}

	cache.Set(5, threadType, time.Nanosecond)
	time.Sleep(time.Millisecond)
	if _, ok := cache.Get(5); ok {
		t.Fatalf("expected expired entry to be dropped")
	}

	cache.Clear()
	if _, ok := cache.Get(3); ok {
		t.Fatalf("expected empty cache after Clear")
	}
}
