package bus

import (
	"context"
	"testing"
	"time"

	"github.com/nextlevelbuilder/qqrelay/internal/qqbot"
)

func TestEventBus_PreservesOrder(t *testing.T) {
	b := New(16)
	got := make(chan string, 16)
	b.Subscribe("test", func(_ context.Context, ev qqbot.Event) {
		got <- ev.(*qqbot.MessageEvent).ID
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	for _, id := range []string{"a", "b", "c"} {
		b.HandleEvent(ctx, &qqbot.MessageEvent{ID: id})
	}
	for _, want := range []string{"a", "b", "c"} {
		select {
		case id := <-got:
			if id != want {
				t.Fatalf("got %s, want %s", id, want)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestEventBus_DropsDuplicates(t *testing.T) {
	b := New(16)
	ctx := context.Background()
	b.HandleEvent(ctx, &qqbot.InteractionEvent{ID: "e1"})
	b.HandleEvent(ctx, &qqbot.InteractionEvent{ID: "e1"})
	b.HandleEvent(ctx, &qqbot.MessageEvent{ID: "e1"})
	if b.Depth() != 2 {
		t.Errorf("Depth = %d, want 2 (same id across kinds is distinct)", b.Depth())
	}
}

func TestEventBus_UnknownEventsNotDeduped(t *testing.T) {
	b := New(16)
	ctx := context.Background()
	b.HandleEvent(ctx, &qqbot.UnknownEvent{Type: "X"})
	b.HandleEvent(ctx, &qqbot.UnknownEvent{Type: "X"})
	if b.Depth() != 2 {
		t.Errorf("Depth = %d, want 2", b.Depth())
	}
}

func TestEventBus_FullQueueRespectsContext(t *testing.T) {
	b := New(1)
	b.HandleEvent(context.Background(), &qqbot.MessageEvent{ID: "1"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	done := make(chan struct{})
	go func() {
		b.HandleEvent(ctx, &qqbot.MessageEvent{ID: "2"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandleEvent blocked past context deadline")
	}
}

func TestEventBus_ConsumerPanicIsContained(t *testing.T) {
	b := New(4)
	after := make(chan struct{}, 1)
	b.Subscribe("boom", func(context.Context, qqbot.Event) { panic("boom") })
	b.Subscribe("next", func(context.Context, qqbot.Event) { after <- struct{}{} })
	b.deliver(context.Background(), &qqbot.MessageEvent{ID: "x"})
	select {
	case <-after:
	default:
		t.Fatal("second consumer not called after first panicked")
	}
}

func TestDedupeCache_Expires(t *testing.T) {
	d := NewDedupeCache(20*time.Millisecond, 10)
	if d.IsDuplicate("k") {
		t.Fatal("first sighting reported duplicate")
	}
	if !d.IsDuplicate("k") {
		t.Fatal("second sighting not reported duplicate")
	}
	time.Sleep(60 * time.Millisecond)
	if d.IsDuplicate("k") {
		t.Error("entry did not expire")
	}
	if d.IsDuplicate("") || d.IsDuplicate("") {
		t.Error("empty key treated as duplicate")
	}
}
