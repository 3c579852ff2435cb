// Package http serves the relay's control API: deliveries, bindings, gateway
// status and restart, health and metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/qqrelay/internal/delivery"
	"github.com/nextlevelbuilder/qqrelay/internal/qqbot"
	"github.com/nextlevelbuilder/qqrelay/internal/store"
	"github.com/nextlevelbuilder/qqrelay/pkg/protocol"
)

const (
	maxBodyBytes    = 8 << 20
	shutdownTimeout = 5 * time.Second
)

// Deliverer runs deliveries and reports on them.
type Deliverer interface {
	Deliver(ctx context.Context, req delivery.Request) (delivery.Result, error)
	Lookup(id string) (delivery.Result, bool)
	Stats() delivery.Stats
}

// GatewayControl exposes the supervised gateway.
type GatewayControl interface {
	Status() qqbot.GatewayStatus
	Restart()
}

// Deps are the server's collaborators. Metrics may be nil.
type Deps struct {
	Delivery     Deliverer
	Bindings     store.BindingStore
	Gateway      GatewayControl
	Metrics      http.Handler
	Token        string
	RateLimitRPM int
	Version      string
}

// Server is the HTTP control API.
type Server struct {
	deps    Deps
	limiter *RateLimiter
	started time.Time
}

// NewServer creates a server.
func NewServer(deps Deps) *Server {
	return &Server{
		deps:    deps,
		limiter: NewRateLimiter(deps.RateLimitRPM, 0),
		started: time.Now(),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}

	mux.Handle("POST /v1/deliveries", s.protect(s.handleDeliver))
	mux.Handle("GET /v1/deliveries/{id}", s.protect(s.handleDeliveryStatus))
	mux.Handle("GET /v1/status", s.protect(s.handleStatus))
	mux.Handle("POST /v1/gateway/restart", s.protect(s.handleRestart))
	mux.Handle("GET /v1/bindings", s.protect(s.handleListBindings))
	mux.Handle("GET /v1/bindings/{key}", s.protect(s.handleGetBinding))
	mux.Handle("PUT /v1/bindings/{key}", s.protect(s.handlePutBinding))
	mux.Handle("DELETE /v1/bindings/{key}", s.protect(s.handleDeleteBinding))
	return mux
}

// protect applies bearer auth and per-client rate limiting.
func (s *Server) protect(fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tokenMatch(extractBearerToken(r), s.deps.Token) {
			writeError(w, http.StatusUnauthorized, protocol.ErrUnauthorized, "invalid token")
			return
		}
		if !s.limiter.Allow(clientKey(r)) {
			writeError(w, http.StatusTooManyRequests, protocol.ErrResourceExhausted, "rate limit exceeded")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		fn(w, r)
	})
}

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("http: listening", "addr", ln.Addr().String(), "auth", s.deps.Token != "")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("http: write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]protocol.ErrorShape{"error": {Code: code, Message: msg}})
}
