package state

import (
	"strings"
	"testing"
	"time"
)

func TestStoreExpiry(t *testing.T) {
	s := NewStore()
	now := time.Now()

	s.Save("scope", "k", "v", now.Add(time.Minute), 0)

	if _, ok := s.Load("scope", "k", now); !ok {
		t.Fatal("expected entry before expiry")
	}
	if _, ok := s.Load("scope", "k", now.Add(2*time.Minute)); ok {
		t.Fatal("expected entry to be gone after expiry")
	}
	// The stale read must have dropped the entry.
	if s.Len("scope") != 0 {
		t.Errorf("expected empty scope, got %d entries", s.Len("scope"))
	}
}

func TestStoreLRUCap(t *testing.T) {
	s := NewStore()
	now := time.Now()
	exp := now.Add(time.Hour)

	s.Save("scope", "a", 1, exp, 3)
	s.Save("scope", "b", 2, exp, 3)
	s.Save("scope", "c", 3, exp, 3)
	// Re-save "a" so it becomes most recent; "b" should be evicted next.
	s.Save("scope", "a", 1, exp, 3)
	s.Save("scope", "d", 4, exp, 3)

	if _, ok := s.Load("scope", "b", now); ok {
		t.Error("expected oldest entry b to be evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if _, ok := s.Load("scope", k, now); !ok {
			t.Errorf("expected entry %q to survive", k)
		}
	}
}

func TestStoreScopesAreIsolated(t *testing.T) {
	s := NewStore()
	now := time.Now()
	exp := now.Add(time.Hour)

	s.Save("one", "k", 1, exp, 0)
	s.Save("two", "k", 2, exp, 0)
	s.Delete("one", "k")

	if _, ok := s.Load("one", "k", now); ok {
		t.Error("expected deletion in scope one")
	}
	if v, ok := s.Load("two", "k", now); !ok || v.(int) != 2 {
		t.Error("expected scope two untouched")
	}
}

func TestDedupeRefreshOnHit(t *testing.T) {
	s := NewStore()
	d := NewDedupe(s)
	now := time.Now()
	d.now = func() time.Time { return now }

	if d.IsDuplicate("key", time.Minute) {
		t.Fatal("first call must reserve, not report duplicate")
	}
	if !d.IsDuplicate("key", time.Minute) {
		t.Fatal("second call within TTL must report duplicate")
	}

	// The hit refreshed the reservation, so 50s later it is still held even
	// though the original reservation would have lapsed.
	now = now.Add(50 * time.Second)
	if !d.IsDuplicate("key", time.Minute) {
		t.Fatal("refreshed reservation must still suppress")
	}

	now = now.Add(2 * time.Minute)
	if d.IsDuplicate("key", time.Minute) {
		t.Fatal("expired reservation must allow a new run")
	}
}

func TestDedupeClear(t *testing.T) {
	s := NewStore()
	d := NewDedupe(s)

	if d.IsDuplicate("key", time.Minute) {
		t.Fatal("first call must reserve")
	}
	d.Clear("key")
	if d.IsDuplicate("key", time.Minute) {
		t.Fatal("cleared reservation must allow a retry")
	}
}

func TestDedupeBlankKeyFailsOpen(t *testing.T) {
	d := NewDedupe(NewStore())
	if d.IsDuplicate("", time.Minute) {
		t.Error("blank key must never be a duplicate")
	}
	if d.IsDuplicate("", time.Minute) {
		t.Error("blank key must never be a duplicate on repeat either")
	}
}

func TestCanonicalKey(t *testing.T) {
	cases := []struct {
		parts []string
		want  string
	}{
		{[]string{"GitHub", "Org/Repo", "42", "Alice", "/ask"}, "github-org-repo-42-alice-ask"},
		{[]string{"a  b", "c"}, "a-b-c"},
		{[]string{"///"}, "rate-limit-key"},
		{[]string{""}, "rate-limit-key"},
	}
	for _, tc := range cases {
		if got := CanonicalKey(tc.parts...); got != tc.want {
			t.Errorf("CanonicalKey(%v) = %q, want %q", tc.parts, got, tc.want)
		}
	}

	if got := CanonicalKey(strings.Repeat("a", 200)); len(got) > 80 {
		t.Errorf("canonical key not capped: len %d", len(got))
	}
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	s := NewStore()
	r := NewRateLimiter(s)
	now := time.Now()
	r.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if r.IsLimited("user", 3, time.Hour) {
			t.Fatalf("call %d must be allowed", i+1)
		}
	}
	if !r.IsLimited("user", 3, time.Hour) {
		t.Fatal("fourth call within window must be limited")
	}

	// Slide the window: the first sample ages out, one slot frees up.
	now = now.Add(61 * time.Minute)
	if r.IsLimited("user", 3, time.Hour) {
		t.Fatal("call after window slide must be allowed")
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	r := NewRateLimiter(NewStore())
	if r.IsLimited("user", 0, time.Hour) {
		t.Error("limit 0 must disable the gate")
	}
	if r.IsLimited("user", 3, 0) {
		t.Error("window 0 must disable the gate")
	}
}
