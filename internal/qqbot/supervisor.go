package qqbot

import (
	"context"
	"log/slog"
	"sync"
)

// Supervisor runs a Gateway and parks it after a fatal stop until Restart is called.
type Supervisor struct {
	gw      *Gateway
	restart chan struct{}

	mu    sync.Mutex
	fatal error
}

// NewSupervisor wraps gw.
func NewSupervisor(gw *Gateway) *Supervisor {
	return &Supervisor{gw: gw, restart: make(chan struct{}, 1)}
}

// Gateway returns the supervised client.
func (s *Supervisor) Gateway() *Gateway { return s.gw }

// Run blocks until ctx ends.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		err := s.gw.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if err == nil {
			// Stopped for a restart.
			s.drain()
			continue
		}

		s.mu.Lock()
		s.fatal = err
		s.mu.Unlock()
		slog.Error("qqbot gateway stopped; waiting for explicit restart", "error", err)

		select {
		case <-ctx.Done():
			return nil
		case <-s.restart:
		}
		s.mu.Lock()
		s.fatal = nil
		s.mu.Unlock()
		slog.Info("qqbot gateway restarting")
	}
}

// Restart stops the current session (if any) and starts a fresh one.
func (s *Supervisor) Restart() {
	select {
	case s.restart <- struct{}{}:
	default:
	}
	s.gw.Stop()
}

// Fatal returns the error that parked the gateway, or nil while it is running.
func (s *Supervisor) Fatal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Status is the gateway status, flagged fatal while parked.
func (s *Supervisor) Status() GatewayStatus {
	st := s.gw.Status()
	if err := s.Fatal(); err != nil {
		st.Fatal = true
		st.LastError = err.Error()
	}
	return st
}

func (s *Supervisor) drain() {
	select {
	case <-s.restart:
	default:
	}
}
