package delivery

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/qqrelay/internal/capability"
	"github.com/nextlevelbuilder/qqrelay/internal/host"
	"github.com/nextlevelbuilder/qqrelay/internal/qqbot"
	"github.com/nextlevelbuilder/qqrelay/internal/store"
)

// HandleEvent consumes one gateway dispatch. It is meant to run on the single
// bus consumer; network calls it triggers run in the background.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev qqbot.Event) {
	o.metrics.ObserveEvent(ev.EventType())
	switch e := ev.(type) {
	case *qqbot.InteractionEvent:
		o.onInteraction(ctx, e)
	case *qqbot.MessageEvent:
		o.onMessage(ctx, e)
	default:
		slog.Debug("delivery: ignoring event", "type", ev.EventType())
	}
}

func (o *Orchestrator) onInteraction(ctx context.Context, e *qqbot.InteractionEvent) {
	o.background(func() {
		actx, cancel := context.WithTimeout(context.Background(), ackTimeout)
		defer cancel()
		if err := o.api.AckInteraction(actx, e.ID); err != nil {
			slog.Debug("delivery: interaction ack failed", "id", e.ID, "error", err)
		}
	})

	boundID := e.BoundID()
	if boundID == "" || o.bindings == nil {
		return
	}
	b, err := o.bindings.FindByBoundID(ctx, boundID)
	if errors.Is(err, store.ErrBindingNotFound) {
		b, err = o.bindings.FindByAction(ctx, e.ButtonID, e.ButtonData)
	}
	if err != nil {
		if !errors.Is(err, store.ErrBindingNotFound) {
			slog.Warn("delivery: binding lookup failed", "bound_id", boundID, "error", err)
		} else {
			slog.Debug("delivery: interaction for unbound conversation", "bound_id", boundID, "button", e.ButtonID)
		}
		return
	}
	key := b.ConversationKey
	o.learnBoundID(ctx, b, boundID)

	entry := capability.Entry{
		Token:    e.ID,
		Kind:     capability.KindEventID,
		BoundID:  boundID,
		ChatType: e.ChatType,
	}
	o.cache.Put(key, entry)
	entry, _ = o.cache.Get(key)
	resolved := o.waiters.Resolve(key, entry)
	slog.Debug("delivery: capability acquired from interaction", "key", key, "waiter", resolved)
}

func (o *Orchestrator) onMessage(ctx context.Context, e *qqbot.MessageEvent) {
	code := strings.TrimSpace(e.Content)
	if code == "" {
		return
	}
	wake := o.options().Wake
	if wake.TrustedSender == "" || e.AuthorID != wake.TrustedSender {
		return
	}

	if pd, ok := o.pending.Peek(code); ok && !o.fromConversation(ctx, pd.ConversationKey, e) {
		slog.Warn("delivery: wake code posted outside its conversation", "key", pd.ConversationKey, "bound_id", e.BoundID())
		return
	}
	pd, ok := o.pending.Take(code)
	if !ok {
		if pd != nil {
			o.expire([]*PendingDelivery{pd})
			o.metrics.SetPending(o.pending.Len())
		}
		return
	}
	o.metrics.SetPending(o.pending.Len())

	entry := capability.Entry{
		ConversationKey: pd.ConversationKey,
		Token:           e.ID,
		Kind:            capability.KindMsgID,
		BoundID:         e.BoundID(),
		ChatType:        e.ChatType,
	}
	o.background(func() { o.complete(pd, entry) })
}

// fromConversation reports whether e can belong to the conversation key. A
// bound id already known from a binding or a cached capability must match.
func (o *Orchestrator) fromConversation(ctx context.Context, key string, e *qqbot.MessageEvent) bool {
	kind, _, err := host.ParseKey(key)
	if err != nil {
		return false
	}
	if (kind == host.KindGroup) != (e.ChatType == capability.ChatGroup) {
		return false
	}
	if cached, ok := o.cache.Get(key); ok && cached.BoundID != "" && cached.BoundID != e.BoundID() {
		return false
	}
	if o.bindings == nil {
		return true
	}
	b, err := o.bindings.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrBindingNotFound) {
			slog.Warn("delivery: binding lookup failed", "key", key, "error", err)
			return false
		}
		return true
	}
	return b.BoundID == "" || b.BoundID == e.BoundID()
}

func (o *Orchestrator) complete(pd *PendingDelivery, entry capability.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), completeTimeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "delivery.wake.complete")
	defer span.End()

	id, err := o.sendContent(ctx, entry, pd.Content, o.options())
	if !rejectsCapability(err) {
		o.cache.Put(pd.ConversationKey, entry)
	}
	if err != nil {
		span.RecordError(err)
		slog.Warn("delivery: wake completion send failed", "key", pd.ConversationKey, "id", pd.ID, "error", err)
		var partial *partialError
		status := StatusFailed
		if errors.As(err, &partial) {
			status = StatusPartial
		}
		o.finish(pd.ID, func(r *Result) {
			r.Status = status
			r.MessageID = id
			r.Error = err.Error()
		})
		return
	}
	slog.Info("delivery: wake completed", "key", pd.ConversationKey, "id", pd.ID)
	o.finish(pd.ID, func(r *Result) {
		r.Status = StatusDelivered
		r.MessageID = id
		r.Error = ""
	})
}

func (o *Orchestrator) learnBoundID(ctx context.Context, b *store.ButtonBinding, boundID string) {
	if boundID == "" || b.BoundID == boundID {
		return
	}
	updated := *b
	updated.BoundID = boundID
	updated.UpdatedAt = o.now()
	if err := o.bindings.Put(ctx, updated); err != nil {
		slog.Warn("delivery: could not record bound id", "key", b.ConversationKey, "error", err)
		return
	}
	slog.Info("delivery: learned bound id", "key", b.ConversationKey)
}

func (o *Orchestrator) background(fn func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn()
	}()
}
