// Package storetest runs the same behavioral checks against every BindingStore backend.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/qqrelay/internal/store"
)

// Run exercises s. s must start empty.
func Run(t *testing.T, s store.BindingStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("get_missing", func(t *testing.T) {
		if _, err := s.Get(ctx, "group:none"); !errors.Is(err, store.ErrBindingNotFound) {
			t.Errorf("Get missing = %v, want ErrBindingNotFound", err)
		}
	})

	t.Run("put_get", func(t *testing.T) {
		b := store.ButtonBinding{ConversationKey: "group:1", ActionID: "btn-1", ActionPayload: "wake"}
		if err := s.Put(ctx, b); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := s.Get(ctx, "group:1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ActionID != "btn-1" || got.ActionPayload != "wake" || got.BoundID != "" {
			t.Errorf("Get = %+v", got)
		}
		if got.UpdatedAt.IsZero() {
			t.Error("UpdatedAt not set")
		}
	})

	t.Run("put_replaces", func(t *testing.T) {
		b := store.ButtonBinding{ConversationKey: "group:1", ActionID: "btn-1", ActionPayload: "wake", BoundID: "G1", UpdatedAt: time.Now().UTC()}
		if err := s.Put(ctx, b); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := s.Get(ctx, "group:1")
		if err != nil || got.BoundID != "G1" {
			t.Errorf("Get after replace = %+v, %v", got, err)
		}
	})

	t.Run("find_by_bound_id", func(t *testing.T) {
		got, err := s.FindByBoundID(ctx, "G1")
		if err != nil || got.ConversationKey != "group:1" {
			t.Errorf("FindByBoundID = %+v, %v", got, err)
		}
		if _, err := s.FindByBoundID(ctx, "nope"); !errors.Is(err, store.ErrBindingNotFound) {
			t.Errorf("FindByBoundID missing = %v", err)
		}
		if _, err := s.FindByBoundID(ctx, ""); !errors.Is(err, store.ErrBindingNotFound) {
			t.Errorf("FindByBoundID empty = %v", err)
		}
	})

	t.Run("find_by_action", func(t *testing.T) {
		if err := s.Put(ctx, store.ButtonBinding{ConversationKey: "group:2", ActionID: "btn-2", ActionPayload: "p2"}); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, err := s.FindByAction(ctx, "btn-2", "p2")
		if err != nil || got.ConversationKey != "group:2" {
			t.Errorf("FindByAction = %+v, %v", got, err)
		}
		if _, err := s.FindByAction(ctx, "btn-2", "other"); !errors.Is(err, store.ErrBindingNotFound) {
			t.Errorf("FindByAction payload mismatch = %v", err)
		}
	})

	t.Run("list_sorted", func(t *testing.T) {
		list, err := s.List(ctx)
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(list) != 2 || list[0].ConversationKey != "group:1" || list[1].ConversationKey != "group:2" {
			t.Errorf("List = %+v", list)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := s.Delete(ctx, "group:2"); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := s.Get(ctx, "group:2"); !errors.Is(err, store.ErrBindingNotFound) {
			t.Errorf("Get after delete = %v", err)
		}
		if err := s.Delete(ctx, "group:2"); !errors.Is(err, store.ErrBindingNotFound) {
			t.Errorf("Delete missing = %v", err)
		}
	})

	t.Run("rejects_invalid", func(t *testing.T) {
		if err := s.Put(ctx, store.ButtonBinding{ConversationKey: "group:3"}); err == nil {
			t.Error("Put without action_id should fail")
		}
	})
}
