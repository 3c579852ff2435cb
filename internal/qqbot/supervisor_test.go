package qqbot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestSupervisor_ParksAfterExhaustionUntilRestart(t *testing.T) {
	fg := newFakeGateway(t, func(n int, conn *websocket.Conn) {})

	var mu sync.Mutex
	var delays []time.Duration
	gw := NewGateway(&staticToken{}, fg.url(), nil, GatewayOptions{MaxRetries: 2})
	gw.sleep = noSleep(&delays, &mu)
	sup := NewSupervisor(gw)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	waitFor := func(cond func() bool) {
		t.Helper()
		deadline := time.Now().Add(3 * time.Second)
		for !cond() {
			if time.Now().After(deadline) {
				t.Fatal("condition not met in time")
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	waitFor(func() bool { return sup.Fatal() != nil })
	if fg.dials.Load() != 2 {
		t.Errorf("dials before restart = %d, want 2", fg.dials.Load())
	}

	sup.Restart()
	waitFor(func() bool { return fg.dials.Load() >= 4 && sup.Fatal() != nil })

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not exit on cancel")
	}
}
