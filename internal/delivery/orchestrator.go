// Package delivery posts content through a borrowed bot capability, trying the
// cached capability, then a button press, then an in-band wake prompt.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/qqrelay/internal/capability"
	"github.com/nextlevelbuilder/qqrelay/internal/host"
	"github.com/nextlevelbuilder/qqrelay/internal/metrics"
	"github.com/nextlevelbuilder/qqrelay/internal/qqbot"
	"github.com/nextlevelbuilder/qqrelay/internal/store"
)

var (
	// ErrExhausted means every tier was tried and none could deliver.
	ErrExhausted = errors.New("delivery: all tiers exhausted")
	// ErrNoCapability is recorded when a parked delivery expires unanswered.
	ErrNoCapability = errors.New("delivery: no capability acquired before expiry")
	// ErrContentRejected means the provider refused the content itself, so no
	// other capability would get it through.
	ErrContentRejected = errors.New("delivery: content rejected")
)

// Status of a delivery.
type Status string

const (
	StatusDelivered Status = "delivered"
	StatusPending   Status = "pending"
	StatusFailed    Status = "failed"
	// StatusPartial means some parts of the content were posted and a later
	// part was refused. It is final; retrying would repeat the posted parts.
	StatusPartial Status = "partial"
)

// Tier names the path that produced a result.
type Tier string

const (
	TierNone   Tier = "none"
	TierCached Tier = "cached"
	TierButton Tier = "button"
	TierWake   Tier = "wake"
)

const (
	DefaultButtonTimeout = 10 * time.Second
	DefaultWakePrompt    = "{mention} {code}"

	completeTimeout = 30 * time.Second
	ackTimeout      = 5 * time.Second
	resultTTL       = 10 * time.Minute
	resultMax       = 4096
	tracerName      = "github.com/nextlevelbuilder/qqrelay/internal/delivery"
)

// Messenger is the subset of the official bot API the orchestrator needs.
type Messenger interface {
	SendMessage(ctx context.Context, entry capability.Entry, msg qqbot.OutboundMessage) (*qqbot.SendResult, error)
	UploadMedia(ctx context.Context, chat capability.ChatType, boundID string, fileType int, data []byte, url string) (string, error)
	AckInteraction(ctx context.Context, interactionID string) error
}

// WakeOptions controls the in-band wake prompt.
type WakeOptions struct {
	Enabled bool
	// MentionTarget is the official bot's account number, mentioned in the prompt.
	MentionTarget string
	// TrustedSender is the openid whose reply may complete a wake. Wakes are
	// not started while it is empty.
	TrustedSender string
	// Prompt template; {mention} and {code} are substituted.
	Prompt string
}

// Options configures an Orchestrator.
type Options struct {
	ButtonTimeout  time.Duration
	PendingTTL     time.Duration
	FallbackToHost bool
	KeyboardID     string
	Wake           WakeOptions
}

// Request asks for content to be posted into a conversation.
type Request struct {
	ID              string  `json:"id,omitempty"`
	ConversationKey string  `json:"conversation_key"`
	Content         Content `json:"content"`
	// Fallback is posted verbatim through the host when every tier fails.
	// Empty uses the content's plain text.
	Fallback string `json:"fallback,omitempty"`
}

// Result is the outcome of Deliver, and later of a parked wake.
type Result struct {
	ID              string    `json:"id"`
	ConversationKey string    `json:"conversation_key"`
	Status          Status    `json:"status"`
	Tier            Tier      `json:"tier"`
	VerifyCode      string    `json:"verify_code,omitempty"`
	MessageID       string    `json:"message_id,omitempty"`
	FallbackSent    bool      `json:"fallback_sent,omitempty"`
	Error           string    `json:"error,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	err error
}

// partialError is a multi-part send that failed after an earlier part was posted.
type partialError struct {
	lastID string
	err    error
}

func (e *partialError) Error() string { return "delivery: partially sent: " + e.err.Error() }
func (e *partialError) Unwrap() error { return e.err }

// Stats is a point-in-time view of the orchestrator's shared state.
type Stats struct {
	Capabilities int `json:"capabilities"`
	Waiters      int `json:"waiters"`
	PendingWakes int `json:"pending_wakes"`
}

// Orchestrator runs the three-tier delivery and consumes gateway events.
type Orchestrator struct {
	api      Messenger
	host     host.Host
	bindings store.BindingStore
	cache    *capability.Cache
	waiters  *capability.Waiters
	pending  *PendingSet
	results  *expirable.LRU[string, Result]
	metrics  *metrics.Metrics
	tracer   trace.Tracer

	mu   sync.RWMutex
	opts Options

	wg  sync.WaitGroup
	now func() time.Time
}

// New wires an orchestrator. h may be nil, which disables the button and wake tiers.
func New(api Messenger, h host.Host, bindings store.BindingStore, cache *capability.Cache, waiters *capability.Waiters, m *metrics.Metrics, opts Options) *Orchestrator {
	if opts.ButtonTimeout <= 0 {
		opts.ButtonTimeout = DefaultButtonTimeout
	}
	if opts.Wake.Prompt == "" {
		opts.Wake.Prompt = DefaultWakePrompt
	}
	return &Orchestrator{
		api:      api,
		host:     h,
		bindings: bindings,
		cache:    cache,
		waiters:  waiters,
		pending:  NewPendingSet(opts.PendingTTL),
		results:  expirable.NewLRU[string, Result](resultMax, nil, resultTTL),
		metrics:  m,
		tracer:   otel.Tracer(tracerName),
		opts:     opts,
		now:      time.Now,
	}
}

// UpdateWake swaps the wake settings of a running orchestrator.
func (o *Orchestrator) UpdateWake(w WakeOptions) {
	if w.Prompt == "" {
		w.Prompt = DefaultWakePrompt
	}
	o.mu.Lock()
	o.opts.Wake = w
	o.mu.Unlock()
	slog.Info("delivery: wake settings updated", "enabled", w.Enabled, "trusted_sender", w.TrustedSender != "")
}

func (o *Orchestrator) options() Options {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.opts
}

// Lookup returns the latest known result for a delivery id.
func (o *Orchestrator) Lookup(id string) (Result, bool) {
	return o.results.Get(id)
}

// Stats reports cache, waiter and pending counts.
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Capabilities: len(o.cache.Snapshot()),
		Waiters:      o.waiters.Len(),
		PendingWakes: o.pending.Len(),
	}
}

// Deliver posts req.Content, returning Delivered, Partial, Pending (wake prompt
// sent), or Failed with ErrExhausted or an ErrContentRejected error.
func (o *Orchestrator) Deliver(ctx context.Context, req Request) (Result, error) {
	key, err := host.CanonicalKey(req.ConversationKey)
	if err != nil {
		return Result{}, err
	}
	req.ConversationKey = key
	if err := req.Content.Validate(); err != nil {
		return Result{}, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	start := o.now()
	ctx, span := o.tracer.Start(ctx, "delivery.deliver", trace.WithAttributes(
		attribute.String("delivery.id", req.ID),
		attribute.String("conversation.key", req.ConversationKey),
	))
	defer span.End()

	res := o.deliver(ctx, req)
	res.ID = req.ID
	res.ConversationKey = req.ConversationKey
	res.CreatedAt = start
	res.UpdatedAt = o.now()
	o.results.Add(res.ID, res)

	span.SetAttributes(attribute.String("delivery.status", string(res.Status)), attribute.String("delivery.tier", string(res.Tier)))
	o.metrics.ObserveDelivery(string(res.Status), string(res.Tier), o.now().Sub(start))
	o.metrics.SetPending(o.pending.Len())

	if res.Status == StatusFailed {
		err := res.err
		if err == nil {
			err = ErrExhausted
		}
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	return res, nil
}

func (o *Orchestrator) deliver(ctx context.Context, req Request) Result {
	key := req.ConversationKey
	opts := o.options()

	if res, done := o.tryCached(ctx, key, req.Content, opts); done {
		return res
	}
	if res, done := o.tryButton(ctx, key, req.Content, opts); done {
		return res
	}
	if code, ok := o.tryWake(ctx, req, opts); ok {
		return Result{Status: StatusPending, Tier: TierWake, VerifyCode: code}
	}

	res := Result{Status: StatusFailed, Tier: TierNone, Error: ErrExhausted.Error()}
	if opts.FallbackToHost && o.host != nil {
		text := req.Fallback
		if text == "" {
			text = req.Content.PlainText()
		}
		if text != "" {
			if err := o.host.SendOwnChannelMessage(ctx, key, text); err != nil {
				slog.Warn("delivery: host fallback failed", "key", key, "error", err)
			} else {
				res.FallbackSent = true
			}
		}
	}
	slog.Warn("delivery: exhausted", "key", key, "fallback_sent", res.FallbackSent)
	return res
}

func (o *Orchestrator) tryCached(ctx context.Context, key string, c Content, opts Options) (Result, bool) {
	entry, ok := o.cache.Get(key)
	if !ok {
		o.metrics.ObserveTier(string(TierCached), "miss")
		return Result{}, false
	}

	ctx, span := o.tracer.Start(ctx, "delivery.tier.cached")
	defer span.End()

	id, err := o.sendContent(ctx, entry, c, opts)
	if err == nil {
		o.metrics.ObserveTier(string(TierCached), "ok")
	} else {
		span.RecordError(err)
		o.metrics.ObserveTier(string(TierCached), failureLabel(err))
		slog.Info("delivery: cached send failed", "key", key, "error", err)
	}
	return o.settle(TierCached, key, id, err)
}

func (o *Orchestrator) tryButton(ctx context.Context, key string, c Content, opts Options) (Result, bool) {
	if o.host == nil || o.bindings == nil {
		return Result{}, false
	}
	b, err := o.bindings.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrBindingNotFound) {
			slog.Warn("delivery: binding lookup failed", "key", key, "error", err)
		}
		o.metrics.ObserveTier(string(TierButton), "unbound")
		return Result{}, false
	}

	ctx, span := o.tracer.Start(ctx, "delivery.tier.button")
	defer span.End()

	w := o.waiters.Register(key, opts.ButtonTimeout)
	if err := o.host.ClickButton(ctx, *b); err != nil {
		o.waiters.Cancel(w)
		span.RecordError(err)
		o.metrics.ObserveTier(string(TierButton), "click_error")
		slog.Warn("delivery: button click failed", "key", key, "error", err)
		return Result{}, false
	}

	entry, timedOut := w.Wait(ctx)
	if timedOut {
		o.waiters.Cancel(w)
		o.metrics.ObserveTier(string(TierButton), "timeout")
		slog.Info("delivery: no interaction after button click", "key", key, "timeout", opts.ButtonTimeout)
		return Result{}, false
	}

	id, err := o.sendContent(ctx, entry, c, opts)
	if err == nil {
		o.metrics.ObserveTier(string(TierButton), "ok")
	} else {
		span.RecordError(err)
		o.metrics.ObserveTier(string(TierButton), failureLabel(err))
		slog.Warn("delivery: send after button failed", "key", key, "error", err)
	}
	return o.settle(TierButton, key, id, err)
}

// settle turns the outcome of a tier's send into a final result. It returns
// false when the next tier should be tried.
func (o *Orchestrator) settle(tier Tier, key, id string, err error) (Result, bool) {
	var partial *partialError
	switch {
	case err == nil:
		return Result{Status: StatusDelivered, Tier: tier, MessageID: id}, true
	case errors.Is(err, ErrContentRejected):
		return Result{Status: StatusFailed, Tier: tier, Error: err.Error(), err: err}, true
	case errors.As(err, &partial):
		if qqbot.IsCapabilityError(partial.err) {
			o.cache.Invalidate(key)
		}
		return Result{Status: StatusPartial, Tier: tier, MessageID: partial.lastID, Error: err.Error()}, true
	case qqbot.IsCapabilityError(err):
		o.cache.Invalidate(key)
	}
	return Result{}, false
}

// rejectsCapability reports whether err means the capability used for a send
// can no longer be used.
func rejectsCapability(err error) bool {
	return !errors.Is(err, ErrContentRejected) && qqbot.IsCapabilityError(err)
}

func failureLabel(err error) string {
	var partial *partialError
	switch {
	case errors.Is(err, ErrContentRejected):
		return "content_rejected"
	case errors.As(err, &partial):
		return "partial"
	case qqbot.IsCapabilityError(err):
		return "rejected"
	}
	return "error"
}

func (o *Orchestrator) tryWake(ctx context.Context, req Request, opts Options) (string, bool) {
	if o.host == nil || !opts.Wake.Enabled {
		return "", false
	}
	if opts.Wake.TrustedSender == "" {
		slog.Warn("delivery: wake skipped, no trusted sender configured", "key", req.ConversationKey)
		return "", false
	}
	ctx, span := o.tracer.Start(ctx, "delivery.tier.wake")
	defer span.End()

	o.expire(o.pending.GC())
	pd, err := o.pending.Add(req.ID, req.ConversationKey, req.Content)
	if err != nil {
		span.RecordError(err)
		slog.Error("delivery: could not park delivery", "key", req.ConversationKey, "error", err)
		return "", false
	}

	text := wakePrompt(opts.Wake, pd.VerifyCode)
	if err := o.host.SendOwnChannelMessage(ctx, req.ConversationKey, text); err != nil {
		o.pending.Take(pd.VerifyCode)
		span.RecordError(err)
		o.metrics.ObserveTier(string(TierWake), "error")
		slog.Warn("delivery: wake prompt failed", "key", req.ConversationKey, "error", err)
		return "", false
	}
	o.metrics.ObserveTier(string(TierWake), "prompted")
	slog.Info("delivery: wake prompt sent", "key", req.ConversationKey, "id", req.ID)
	return pd.VerifyCode, true
}

func wakePrompt(w WakeOptions, code string) string {
	mention := ""
	if w.MentionTarget != "" {
		mention = fmt.Sprintf("[CQ:at,qq=%s]", w.MentionTarget)
	}
	prompt := w.Prompt
	if !strings.Contains(prompt, "{code}") {
		prompt += " {code}"
	}
	text := strings.NewReplacer("{mention}", mention, "{code}", code).Replace(prompt)
	return strings.TrimSpace(text)
}

// sendContent posts c with entry's capability and returns the last message id.
// A failure after an earlier part was posted is a *partialError; a refused
// upload wraps ErrContentRejected.
func (o *Orchestrator) sendContent(ctx context.Context, entry capability.Entry, c Content, opts Options) (string, error) {
	var lastID string
	posted := false
	caption := c.Text

	if c.Media != nil {
		info, err := o.uploadMedia(ctx, entry, c.Media)
		if err != nil {
			return "", err
		}
		res, err := o.api.SendMessage(ctx, entry, qqbot.OutboundMessage{FileInfo: info, Content: caption})
		if err != nil {
			return "", err
		}
		lastID = res.ID
		posted = true
		caption = ""
	}

	var msg qqbot.OutboundMessage
	switch {
	case c.Markdown != "":
		kb := c.KeyboardID
		if kb == "" {
			kb = opts.KeyboardID
		}
		msg = qqbot.OutboundMessage{Markdown: PrepareMarkdown(c.Markdown), KeyboardID: kb}
	case caption != "":
		msg = qqbot.OutboundMessage{Content: caption}
	default:
		return lastID, nil
	}
	res, err := o.api.SendMessage(ctx, entry, msg)
	if err != nil {
		if posted {
			return lastID, &partialError{lastID: lastID, err: err}
		}
		return "", err
	}
	return res.ID, nil
}

func (o *Orchestrator) uploadMedia(ctx context.Context, entry capability.Entry, m *Media) (string, error) {
	ft, err := fileType(m.Type)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrContentRejected, err)
	}
	data := m.Data
	if m.Type == MediaImage && len(data) > 0 {
		if shrunk, err := shrinkImage(data); err != nil {
			slog.Warn("delivery: image not resized", "error", err)
		} else {
			data = shrunk
		}
	}
	info, err := o.api.UploadMedia(ctx, entry.ChatType, entry.BoundID, ft, data, m.URL)
	if err != nil && qqbot.IsCapabilityError(err) {
		// Uploads authenticate with the app token, so a refusal is about the file.
		return "", fmt.Errorf("%w: %w", ErrContentRejected, err)
	}
	return info, err
}

// Sweep drops expired parked deliveries and marks them failed.
func (o *Orchestrator) Sweep() {
	o.expire(o.pending.GC())
	o.metrics.SetPending(o.pending.Len())
}

// Run sweeps parked deliveries periodically until ctx ends, then waits for
// in-flight completions.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			o.wg.Wait()
			return nil
		case <-ticker.C:
			o.Sweep()
		}
	}
}

// Wait blocks until background completions and acks have finished.
func (o *Orchestrator) Wait() { o.wg.Wait() }

func (o *Orchestrator) expire(dropped []*PendingDelivery) {
	for _, pd := range dropped {
		slog.Info("delivery: wake expired unanswered", "key", pd.ConversationKey, "id", pd.ID)
		o.finish(pd.ID, func(r *Result) {
			r.Status = StatusFailed
			r.Error = ErrNoCapability.Error()
		})
	}
}

func (o *Orchestrator) finish(id string, update func(*Result)) {
	r, ok := o.results.Get(id)
	if !ok {
		return
	}
	update(&r)
	r.UpdatedAt = o.now()
	o.results.Add(id, r)
	o.metrics.ObserveDelivery(string(r.Status), string(r.Tier), r.UpdatedAt.Sub(r.CreatedAt))
}
