package cache

import (
	"testing"
	"time"
)

func TestGetFreshDropsStale(t *testing.T) {
	c := New[string]()
	now := time.Now()

	c.Set("k", "v", now.Add(time.Minute))

	if v, ok := c.GetFresh("k", now); !ok || v != "v" {
		t.Fatalf("expected fresh hit, got %q ok=%v", v, ok)
	}
	if _, ok := c.GetFresh("k", now.Add(2*time.Minute)); ok {
		t.Fatal("expected stale miss")
	}
	if c.Len() != 0 {
		t.Errorf("stale read must evict, len = %d", c.Len())
	}
}

func TestPruneThrottled(t *testing.T) {
	c := New[int]()
	now := time.Now()

	c.Set("a", 1, now.Add(-time.Minute))
	c.Set("b", 2, now.Add(time.Hour))

	c.Prune(now)
	if c.Len() != 1 {
		t.Fatalf("first prune must drop the expired entry, len = %d", c.Len())
	}

	// Another expired entry appears; a prune inside the throttle window is a
	// no-op, one after the window sweeps it.
	c.Set("c", 3, now.Add(-time.Minute))
	c.Prune(now.Add(500 * time.Millisecond))
	if c.Len() != 2 {
		t.Fatalf("throttled prune must not sweep, len = %d", c.Len())
	}
	c.Prune(now.Add(2 * time.Second))
	if c.Len() != 1 {
		t.Fatalf("post-throttle prune must sweep, len = %d", c.Len())
	}
}

func TestTrimEvictsOldest(t *testing.T) {
	c := New[int]()
	exp := time.Now().Add(time.Hour)

	c.Set("a", 1, exp)
	c.Set("b", 2, exp)
	c.Set("c", 3, exp)
	// Touching "a" via Set moves it to the front.
	c.Set("a", 1, exp)

	c.Trim(2)
	if c.Len() != 2 {
		t.Fatalf("expected 2 entries after trim, got %d", c.Len())
	}
	if _, ok := c.GetFresh("b", time.Now()); ok {
		t.Error("expected oldest entry b evicted")
	}
	if _, ok := c.GetFresh("a", time.Now()); !ok {
		t.Error("expected refreshed entry a kept")
	}
}

func TestClear(t *testing.T) {
	c := New[int]()
	c.Set("a", 1, time.Now().Add(time.Hour))
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("expected empty cache, len = %d", c.Len())
	}
}
