package state

import "time"

const dedupeScope = "dedupe"

// Dedupe answers "has this fingerprint been seen inside the TTL?" on top of
// a Store. A hit refreshes the entry so a rapid repeat stays suppressed.
type Dedupe struct {
	store *Store
	now   func() time.Time
}

// NewDedupe creates a Dedupe over the given store.
func NewDedupe(store *Store) *Dedupe {
	return &Dedupe{store: store, now: time.Now}
}

// IsDuplicate reserves the key when it is new and reports whether it was
// already reserved. Blank keys fail open.
func (d *Dedupe) IsDuplicate(key string, ttl time.Duration) bool {
	if key == "" || ttl <= 0 {
		return false
	}
	now := d.now()
	_, seen := d.store.Load(dedupeScope, key, now)
	// Refresh on both paths: a hit extends suppression, a miss reserves.
	d.store.Save(dedupeScope, key, struct{}{}, now.Add(ttl), 0)
	return seen
}

// Clear retracts a reservation so a failed downstream call can be retried.
func (d *Dedupe) Clear(key string) {
	if key == "" {
		return
	}
	d.store.Delete(dedupeScope, key)
}
