package capability

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache() (*Cache, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewCache(0)
	c.now = clk.Now
	return c, clk
}

func TestCache_ExpiresExactlyAtTTL(t *testing.T) {
	c, clk := newTestCache()
	c.Put("g1", Entry{Token: "T1", BoundID: "G1", AcquiredAt: clk.Now()})

	clk.Advance(DefaultTTL - time.Millisecond)
	if e, ok := c.Get("g1"); !ok || e.Token != "T1" {
		t.Fatalf("Get before TTL = %+v, %v", e, ok)
	}

	clk.Advance(time.Millisecond)
	if _, ok := c.Get("g1"); ok {
		t.Fatal("entry still valid at now-acquiredAt == TTL")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not evicted, Len = %d", c.Len())
	}
}

func TestCache_PutOverwritesAndStampsKey(t *testing.T) {
	c, _ := newTestCache()
	c.Put("g1", Entry{Token: "T1"})
	c.Put("g1", Entry{Token: "T2", ConversationKey: "other"})

	e, ok := c.Get("g1")
	if !ok || e.Token != "T2" || e.ConversationKey != "g1" {
		t.Errorf("Get = %+v, %v", e, ok)
	}
	if e.AcquiredAt.IsZero() {
		t.Error("AcquiredAt not stamped")
	}
}

func TestCache_InvalidateAbsentIsNoop(t *testing.T) {
	c, _ := newTestCache()
	c.Invalidate("missing")
	c.Put("g1", Entry{Token: "T1"})
	c.Invalidate("g1")
	c.Invalidate("g1")
	if _, ok := c.Get("g1"); ok {
		t.Error("entry survived Invalidate")
	}
}

func TestCache_SnapshotSkipsExpired(t *testing.T) {
	c, clk := newTestCache()
	c.Put("old", Entry{Token: "A"})
	clk.Advance(200 * time.Second)
	c.Put("new", Entry{Token: "B"})
	clk.Advance(100 * time.Second)

	snap := c.Snapshot()
	if len(snap) != 1 || snap[0].ConversationKey != "new" {
		t.Errorf("Snapshot = %+v", snap)
	}
}

func TestWaiters_ResolveDeliversEntry(t *testing.T) {
	r := NewWaiters()
	w := r.Register("g1", time.Second)
	if !r.Resolve("g1", Entry{Token: "T2"}) {
		t.Fatal("Resolve found no waiter")
	}
	e, timedOut := w.Wait(context.Background())
	if timedOut || e.Token != "T2" {
		t.Errorf("Wait = %+v, timedOut=%v", e, timedOut)
	}
	if r.Len() != 0 {
		t.Errorf("waiter not removed, Len = %d", r.Len())
	}
}

func TestWaiters_ResolveWithoutWaiterIsDropped(t *testing.T) {
	r := NewWaiters()
	if r.Resolve("nobody", Entry{Token: "T"}) {
		t.Error("Resolve reported a recipient for an absent key")
	}
}

func TestWaiters_TimesOut(t *testing.T) {
	r := NewWaiters()
	start := time.Now()
	_, timedOut := r.Await(context.Background(), "g1", 30*time.Millisecond)
	if !timedOut {
		t.Fatal("expected timeout")
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("returned before the deadline")
	}
	if r.Pending("g1") {
		t.Error("timed-out waiter still registered")
	}
}

func TestWaiters_SecondRegistrationSupersedesFirst(t *testing.T) {
	r := NewWaiters()
	first := r.Register("g1", time.Minute)
	second := r.Register("g1", time.Minute)

	// The first waiter is already finished by the time Register returns.
	select {
	case res := <-first.ch:
		if !res.timedOut {
			t.Error("superseded waiter not reported as timed out")
		}
	default:
		t.Fatal("superseded waiter was not resolved before the second was armed")
	}

	r.Resolve("g1", Entry{Token: "T3"})
	e, timedOut := second.Wait(context.Background())
	if timedOut || e.Token != "T3" {
		t.Errorf("second Wait = %+v, %v", e, timedOut)
	}
}

func TestWaiters_LateTimerDoesNotEvictSuccessor(t *testing.T) {
	r := NewWaiters()
	first := r.Register("g1", 10*time.Millisecond)
	first.finish(waiterResult{timedOut: true})
	r.remove(first)
	second := r.Register("g1", time.Minute)

	time.Sleep(30 * time.Millisecond)
	if !r.Pending("g1") {
		t.Fatal("stale timer removed the newer waiter")
	}
	r.Resolve("g1", Entry{Token: "ok"})
	if e, _ := second.Wait(context.Background()); e.Token != "ok" {
		t.Errorf("token = %q", e.Token)
	}
}

func TestWaiters_ContextCancel(t *testing.T) {
	r := NewWaiters()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool)
	go func() {
		_, timedOut := r.Await(ctx, "g1", time.Minute)
		done <- timedOut
	}()
	for !r.Pending("g1") {
		time.Sleep(time.Millisecond)
	}
	cancel()
	select {
	case timedOut := <-done:
		if !timedOut {
			t.Error("cancelled Await should report timedOut")
		}
	case <-time.After(time.Second):
		t.Fatal("Await ignored context cancellation")
	}
	if r.Pending("g1") {
		t.Error("cancelled waiter still registered")
	}
}

func TestWaiters_ConcurrentResolveFiresOnce(t *testing.T) {
	r := NewWaiters()
	w := r.Register("g1", time.Minute)
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Resolve("g1", Entry{Token: "T"}) {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if accepted != 1 {
		t.Errorf("accepted = %d, want 1", accepted)
	}
	if _, timedOut := w.Wait(context.Background()); timedOut {
		t.Error("waiter reported timeout after resolve")
	}
}
