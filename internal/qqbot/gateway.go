package qqbot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/qqrelay/pkg/protocol"
)

const (
	DefaultMaxRetries = 10
	writeTimeout      = 10 * time.Second
)

// State is the gateway session state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateAwaitingHello
	StateIdentifying
	StateReady
	StateResuming
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateIdentifying:
		return "identifying"
	case StateReady:
		return "ready"
	case StateResuming:
		return "resuming"
	default:
		return "disconnected"
	}
}

var (
	// ErrReconnectExhausted is returned by Run once MaxRetries consecutive sessions have dropped.
	ErrReconnectExhausted = errors.New("qqbot gateway: reconnect attempts exhausted")
	ErrAlreadyRunning     = errors.New("qqbot gateway: already running")

	errReconnectRequested = errors.New("server requested reconnect")
	errInvalidSession     = errors.New("server invalidated session")
)

// FatalError is a close code the gateway must not retry (bot offline or banned).
type FatalError struct {
	Code int
	Text string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("qqbot gateway: fatal close %d: %s", e.Code, e.Text)
}

// Close codes with special handling.
const (
	closeInvalidToken   = 4004
	closeInvalidSession = 4006
	closeInvalidSeq     = 4007
	closeBotOffline     = 4914
	closeBotBanned      = 4915
)

// Handler receives classified dispatches in arrival order. It runs on the read
// loop, so implementations should hand work off quickly.
type Handler interface {
	HandleEvent(ctx context.Context, ev Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev Event)

func (f HandlerFunc) HandleEvent(ctx context.Context, ev Event) { f(ctx, ev) }

// GatewayURLSource resolves the WebSocket endpoint.
type GatewayURLSource interface {
	GatewayURL(ctx context.Context) (string, error)
}

// Observer is told about state transitions and reconnect attempts.
type Observer interface {
	SetGatewayState(state int)
	ObserveReconnect()
}

// GatewayOptions tunes a Gateway.
type GatewayOptions struct {
	Intents    int
	Shard      [2]int
	MaxRetries int
	Resume     bool
	Observer   Observer // optional
}

// GatewayStatus is a point-in-time view for status endpoints.
type GatewayStatus struct {
	State      string `json:"state"`
	SessionID  string `json:"session_id,omitempty"`
	Sequence   int64  `json:"sequence"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`
	Fatal      bool   `json:"fatal,omitempty"`
}

// Gateway owns one WebSocket connection to the bot gateway: it authenticates,
// heartbeats, reconnects with linear backoff and forwards dispatches to a Handler.
type Gateway struct {
	tokens  TokenSource
	urls    GatewayURLSource
	handler Handler
	opts    GatewayOptions
	dialer  *websocket.Dialer
	sleep   func(ctx context.Context, stop <-chan struct{}, d time.Duration) bool

	mu        sync.Mutex
	state     State
	sessionID string
	seq       int64
	hasSeq    bool
	interval  time.Duration
	retry     int
	lastErr   error
	conn      *websocket.Conn
	stopCh    chan struct{}
	stopped   bool
	running   bool

	writeMu sync.Mutex
}

// NewGateway creates a gateway client. Zero options get defaults.
func NewGateway(tokens TokenSource, urls GatewayURLSource, handler Handler, opts GatewayOptions) *Gateway {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Shard == [2]int{} {
		opts.Shard = [2]int{0, 1}
	}
	if opts.Intents == 0 {
		opts.Intents = protocol.BuildIntents(protocol.DefaultIntents)
	}
	return &Gateway{
		tokens:  tokens,
		urls:    urls,
		handler: handler,
		opts:    opts,
		dialer:  websocket.DefaultDialer,
		sleep:   sleepOrStop,
	}
}

// Run connects and keeps the session alive until ctx ends, Stop is called,
// a fatal close code arrives, or reconnects are exhausted. Run may be called
// again after it returns.
func (g *Gateway) Run(ctx context.Context) error {
	g.mu.Lock()
	if g.running {
		g.mu.Unlock()
		return ErrAlreadyRunning
	}
	g.running = true
	g.stopped = false
	g.stopCh = make(chan struct{})
	g.retry = 0
	g.lastErr = nil
	stopCh := g.stopCh
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.running = false
		g.mu.Unlock()
		g.setState(StateDisconnected)
	}()

	for {
		err := g.session(ctx, stopCh)
		if g.isStopped() {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var fatal *FatalError
		if errors.As(err, &fatal) {
			g.setLastErr(err)
			slog.Error("qqbot gateway: fatal close, not reconnecting", "code", fatal.Code, "reason", fatal.Text)
			return err
		}

		g.mu.Lock()
		g.retry++
		attempt := g.retry
		g.lastErr = err
		if !g.opts.Resume {
			g.sessionID, g.seq, g.hasSeq = "", 0, false
		}
		g.mu.Unlock()

		if attempt >= g.opts.MaxRetries {
			slog.Error("qqbot gateway: reconnect attempts exhausted", "attempts", attempt, "error", err)
			return fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, attempt, err)
		}

		if g.opts.Observer != nil {
			g.opts.Observer.ObserveReconnect()
		}
		delay := ReconnectDelay(attempt)
		slog.Warn("qqbot gateway: disconnected, reconnecting", "error", err, "attempt", attempt, "delay", delay)
		if !g.sleep(ctx, stopCh, delay) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}
	}
}

// Stop closes the connection and ends Run. Safe to call more than once.
func (g *Gateway) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped || !g.running {
		return
	}
	g.stopped = true
	close(g.stopCh)
	if g.conn != nil {
		g.conn.Close()
	}
}

// State returns the current session state.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// SessionID returns the id from the last READY, if any.
func (g *Gateway) SessionID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessionID
}

// Sequence returns the last dispatch sequence and whether one has been seen.
func (g *Gateway) Sequence() (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq, g.hasSeq
}

// RetryCount returns consecutive failed sessions since the last READY/RESUMED.
func (g *Gateway) RetryCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.retry
}

// Status snapshots the session for reporting.
func (g *Gateway) Status() GatewayStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := GatewayStatus{
		State:      g.state.String(),
		SessionID:  g.sessionID,
		Sequence:   g.seq,
		RetryCount: g.retry,
	}
	if g.lastErr != nil {
		st.LastError = g.lastErr.Error()
	}
	return st
}

// session runs one connection from token lookup to close.
func (g *Gateway) session(ctx context.Context, stopCh <-chan struct{}) error {
	g.setState(StateConnecting)

	token, err := g.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("token: %w", err)
	}
	url, err := g.urls.GatewayURL(ctx)
	if err != nil {
		return fmt.Errorf("gateway url: %w", err)
	}

	conn, _, err := g.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		conn.Close()
		return nil
	}
	g.conn = conn
	g.state = StateAwaitingHello
	g.mu.Unlock()
	g.notifyState(StateAwaitingHello)

	slog.Info("qqbot gateway: connected")

	done := make(chan struct{})
	defer func() {
		close(done)
		g.mu.Lock()
		g.conn = nil
		g.state = StateDisconnected
		g.mu.Unlock()
		g.notifyState(StateDisconnected)
		conn.Close()
	}()
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stopCh:
			conn.Close()
		case <-done:
		}
	}()

	hbReset := make(chan struct{}, 1)
	hbStarted := false

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return g.classifyClose(err)
		}
		frame, err := protocol.ParseFrame(data)
		if err != nil {
			slog.Warn("qqbot gateway: malformed frame", "error", err)
			continue
		}

		switch frame.Op {
		case protocol.OpHello:
			var hello protocol.HelloPayload
			if err := json.Unmarshal(frame.D, &hello); err != nil || hello.HeartbeatInterval <= 0 {
				return fmt.Errorf("bad hello: %s", frame.D)
			}
			interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
			g.mu.Lock()
			g.interval = interval
			g.mu.Unlock()
			if !hbStarted {
				hbStarted = true
				go g.heartbeatLoop(conn, interval, hbReset, done)
			}
			if err := g.authenticate(conn, token); err != nil {
				return err
			}

		case protocol.OpDispatch:
			if frame.S != nil {
				g.mu.Lock()
				g.seq, g.hasSeq = *frame.S, true
				g.mu.Unlock()
				poke(hbReset)
			}
			g.dispatch(ctx, frame)

		case protocol.OpHeartbeatAck:
			poke(hbReset)

		case protocol.OpHeartbeat:
			if err := g.sendHeartbeat(conn); err != nil {
				return err
			}

		case protocol.OpReconnect:
			slog.Info("qqbot gateway: server requested reconnect")
			return errReconnectRequested

		case protocol.OpInvalidSession:
			g.clearSession()
			return errInvalidSession

		default:
			slog.Debug("qqbot gateway: unhandled op", "op", frame.Op)
		}
	}
}

func (g *Gateway) authenticate(conn *websocket.Conn, token string) error {
	g.mu.Lock()
	sessionID, seq, hasSeq := g.sessionID, g.seq, g.hasSeq
	g.mu.Unlock()

	if g.opts.Resume && sessionID != "" && hasSeq {
		data, err := protocol.NewFrame(protocol.OpResume, protocol.ResumePayload{
			Token:     "QQBot " + token,
			SessionID: sessionID,
			Seq:       seq,
		})
		if err != nil {
			return err
		}
		g.setState(StateResuming)
		slog.Info("qqbot gateway: resuming", "session_id", sessionID, "seq", seq)
		return g.write(conn, data)
	}

	data, err := protocol.NewFrame(protocol.OpIdentify, protocol.IdentifyPayload{
		Token:   "QQBot " + token,
		Intents: g.opts.Intents,
		Shard:   g.opts.Shard,
		Properties: map[string]string{
			"$os":      runtime.GOOS,
			"$browser": "qqrelay",
			"$device":  "qqrelay",
		},
	})
	if err != nil {
		return err
	}
	if err := g.write(conn, data); err != nil {
		return err
	}
	g.setState(StateIdentifying)
	return nil
}

func (g *Gateway) dispatch(ctx context.Context, frame *protocol.Frame) {
	switch frame.T {
	case protocol.EventReady:
		var ready protocol.ReadyPayload
		if err := json.Unmarshal(frame.D, &ready); err != nil {
			slog.Warn("qqbot gateway: bad READY payload", "error", err)
		}
		g.mu.Lock()
		g.sessionID = ready.SessionID
		g.state = StateReady
		g.retry = 0
		g.mu.Unlock()
		g.notifyState(StateReady)
		slog.Info("qqbot gateway: ready", "session_id", ready.SessionID, "bot", ready.User.Username)

	case protocol.EventResumed:
		g.mu.Lock()
		g.state = StateReady
		g.retry = 0
		g.mu.Unlock()
		g.notifyState(StateReady)
		slog.Info("qqbot gateway: resumed")

	default:
		if g.handler != nil {
			g.handler.HandleEvent(ctx, DecodeEvent(frame.T, frame.D))
		}
	}
}

func (g *Gateway) heartbeatLoop(conn *websocket.Conn, interval time.Duration, reset <-chan struct{}, done <-chan struct{}) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-done:
			return
		case <-reset:
			timer.Reset(interval)
		case <-timer.C:
			if err := g.sendHeartbeat(conn); err != nil {
				slog.Warn("qqbot gateway: heartbeat failed", "error", err)
				conn.Close()
				return
			}
			timer.Reset(interval)
		}
	}
}

func (g *Gateway) sendHeartbeat(conn *websocket.Conn) error {
	g.mu.Lock()
	var seq *int64
	if g.hasSeq {
		s := g.seq
		seq = &s
	}
	g.mu.Unlock()

	data, err := protocol.NewHeartbeat(seq)
	if err != nil {
		return err
	}
	return g.write(conn, data)
}

func (g *Gateway) write(conn *websocket.Conn, data []byte) error {
	g.writeMu.Lock()
	defer g.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (g *Gateway) classifyClose(err error) error {
	var ce *websocket.CloseError
	if !errors.As(err, &ce) {
		return err
	}
	switch ce.Code {
	case closeBotOffline, closeBotBanned:
		return &FatalError{Code: ce.Code, Text: ce.Text}
	case closeInvalidToken:
		if inv, ok := g.tokens.(interface{ Invalidate() }); ok {
			inv.Invalidate()
		}
	case closeInvalidSession, closeInvalidSeq:
		g.clearSession()
	}
	return fmt.Errorf("closed: %w", err)
}

func (g *Gateway) clearSession() {
	g.mu.Lock()
	g.sessionID, g.seq, g.hasSeq = "", 0, false
	g.mu.Unlock()
}

func (g *Gateway) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
	g.notifyState(s)
}

func (g *Gateway) notifyState(s State) {
	if g.opts.Observer != nil {
		g.opts.Observer.SetGatewayState(int(s))
	}
}

func (g *Gateway) setLastErr(err error) {
	g.mu.Lock()
	g.lastErr = err
	g.mu.Unlock()
}

func (g *Gateway) isStopped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stopped
}

func poke(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
