package displaylock

import (
	"context"
	"sync"
	"time"

	"github.com/ddcctl-project/ddcctl/internal/ddcerr"
)

// Display owns the serialization lock for one physical display
// ("at most one in-flight DDC/CI exchange per display
// at a time"). The zero value is ready to use.
type Display struct {
	mu mutex
}

// Lock blocks until the display's lock is acquired, ctx is cancelled,
// or timeout elapses, whichever comes first. On success it returns an
// unlock function the caller must call exactly once. On failure it
// returns ddcerr.Cancelled (ctx) or ddcerr.DisplayBusy (timeout).
func (d *Display) Lock(ctx context.Context, timeout time.Duration) (func(), error) {
	acquired := make(chan struct{})
	go func() {
		d.mu.Lock()
		close(acquired)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-acquired:
		return d.mu.Unlock, nil
	case <-ctx.Done():
		releaseWhenAcquired(acquired, &d.mu)
		return nil, ddcerr.Wrap(ddcerr.Cancelled, "displaylock.Lock", "context cancelled waiting for display lock", ctx.Err())
	case <-timer.C:
		releaseWhenAcquired(acquired, &d.mu)
		return nil, ddcerr.New(ddcerr.DisplayBusy, "displaylock.Lock", "timed out waiting for display lock")
	}
}

// releaseWhenAcquired unblocks the caller immediately while making
// sure the mutex, once the background Lock() call finally succeeds,
// is released rather than held forever by an abandoned acquisition.
func releaseWhenAcquired(acquired <-chan struct{}, mu *mutex) {
	go func() {
		<-acquired
		mu.Unlock()
	}()
}

// TryLock acquires the lock only if it is immediately free, without
// blocking, so a caller can see that a display is busy without
// joining its wait queue.
func (d *Display) TryLock() (func(), bool) {
	if d.mu.TryLock() {
		return d.mu.Unlock, true
	}
	return nil, false
}

var _ sync.Locker = (*mutex)(nil)
