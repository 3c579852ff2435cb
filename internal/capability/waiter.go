package capability

import (
	"context"
	"sync"
	"time"
)

type waiterResult struct {
	entry    Entry
	timedOut bool
}

// Waiter is a one-shot receiver for a single conversation's next interaction callback.
type Waiter struct {
	key   string
	ch    chan waiterResult // buffered(1), written once
	once  sync.Once
	timer *time.Timer
}

func (w *Waiter) finish(r waiterResult) bool {
	fired := false
	w.once.Do(func() {
		if w.timer != nil {
			w.timer.Stop()
		}
		w.ch <- r
		fired = true
	})
	return fired
}

// Wait blocks until the waiter is resolved, times out, is superseded, or ctx ends.
// Context cancellation is reported as timedOut.
func (w *Waiter) Wait(ctx context.Context) (Entry, bool) {
	select {
	case r := <-w.ch:
		return r.entry, r.timedOut
	case <-ctx.Done():
		return Entry{}, true
	}
}

// Waiters keeps at most one live Waiter per conversation key.
type Waiters struct {
	mu      sync.Mutex
	pending map[string]*Waiter
}

// NewWaiters creates an empty registry.
func NewWaiters() *Waiters {
	return &Waiters{pending: make(map[string]*Waiter)}
}

// Register arms a waiter for key that times out after timeout.
// Any waiter already registered for key is resolved as timed out first.
func (r *Waiters) Register(key string, timeout time.Duration) *Waiter {
	w := &Waiter{key: key, ch: make(chan waiterResult, 1)}

	r.mu.Lock()
	if old, ok := r.pending[key]; ok {
		old.finish(waiterResult{timedOut: true})
	}
	r.pending[key] = w
	w.timer = time.AfterFunc(timeout, func() {
		r.expire(w)
	})
	r.mu.Unlock()

	return w
}

// Await registers a waiter for key and blocks for its outcome.
func (r *Waiters) Await(ctx context.Context, key string, timeout time.Duration) (Entry, bool) {
	w := r.Register(key, timeout)
	defer r.remove(w)
	return w.Wait(ctx)
}

// Resolve hands entry to the live waiter for key. It reports whether a waiter took it.
func (r *Waiters) Resolve(key string, entry Entry) bool {
	r.mu.Lock()
	w, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	return w.finish(waiterResult{entry: entry})
}

// Pending reports whether a live waiter exists for key.
func (r *Waiters) Pending(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	return ok
}

// Len counts live waiters.
func (r *Waiters) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Waiters) expire(w *Waiter) {
	r.remove(w)
	w.finish(waiterResult{timedOut: true})
}

// remove drops w only if it is still the registered waiter for its key.
func (r *Waiters) remove(w *Waiter) {
	r.mu.Lock()
	if cur, ok := r.pending[w.key]; ok && cur == w {
		delete(r.pending, w.key)
	}
	r.mu.Unlock()
	w.finish(waiterResult{timedOut: true})
}

// Cancel releases w early, resolving it as timed out if nothing else has.
func (r *Waiters) Cancel(w *Waiter) {
	r.remove(w)
}
