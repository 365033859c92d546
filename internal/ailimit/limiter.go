package ailimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrDraining is the stable sentinel handed to queued acquirers when the
// limiter shuts down. Callers branch on it.
var ErrDraining = errors.New("ai limiter is shutting down")

// Limiter bounds concurrent provider calls with a weighted semaphore and
// supports drain-on-shutdown: queued acquirers are released with ErrDraining
// and Drain waits for active calls to finish.
type Limiter struct {
	sem *semaphore.Weighted

	mu        sync.Mutex
	cond      *sync.Cond
	active    int
	maxActive int
	draining  bool

	shutdownCtx context.Context
	shutdown    context.CancelFunc
}

// New creates a Limiter with the given capacity (minimum 1).
func New(capacity int) *Limiter {
	if capacity <= 0 {
		capacity = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Limiter{
		sem:         semaphore.NewWeighted(int64(capacity)),
		shutdownCtx: ctx,
		shutdown:    cancel,
	}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Acquire takes one slot, blocking until one is free, the caller context is
// done, or the limiter drains. The returned release function must be called
// on every exit path.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	l.mu.Lock()
	if l.draining {
		l.mu.Unlock()
		return nil, ErrDraining
	}
	l.mu.Unlock()

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(l.shutdownCtx, cancel)
	defer stop()

	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		if l.isDraining() {
			return nil, ErrDraining
		}
		return nil, ctx.Err()
	}
	if l.isDraining() {
		l.sem.Release(1)
		return nil, ErrDraining
	}

	l.mu.Lock()
	l.active++
	if l.active > l.maxActive {
		l.maxActive = l.active
	}
	l.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			l.mu.Lock()
			l.active--
			l.cond.Broadcast()
			l.mu.Unlock()
			l.sem.Release(1)
		})
	}
	return release, nil
}

// Drain flips the shutdown flag, wakes queued acquirers with ErrDraining,
// and waits up to timeout for active calls to finish. Returns true iff no
// call was still active at the deadline.
func (l *Limiter) Drain(timeout time.Duration) bool {
	l.mu.Lock()
	l.draining = true
	l.mu.Unlock()
	l.shutdown()

	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		l.mu.Lock()
		l.cond.Broadcast()
		l.mu.Unlock()
	})
	defer timer.Stop()

	l.mu.Lock()
	defer l.mu.Unlock()
	for l.active > 0 && time.Now().Before(deadline) {
		l.cond.Wait()
	}
	return l.active == 0
}

// Active reports the number of in-flight calls.
func (l *Limiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

// MaxActive reports the high-water mark of concurrent calls; tests use it to
// prove the bound.
func (l *Limiter) MaxActive() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxActive
}

func (l *Limiter) isDraining() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.draining
}
