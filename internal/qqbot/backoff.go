package qqbot

import (
	"context"
	"time"
)

const (
	reconnectStep     = 2 * time.Second
	reconnectMaxDelay = 30 * time.Second
)

// ReconnectDelay is the wait before reconnect attempt n (1-indexed): min(n*2s, 30s).
func ReconnectDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(attempt) * reconnectStep
	if d > reconnectMaxDelay {
		d = reconnectMaxDelay
	}
	return d
}

// sleepOrStop waits d. It returns false if ctx or stop ended the wait early.
func sleepOrStop(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	}
}
