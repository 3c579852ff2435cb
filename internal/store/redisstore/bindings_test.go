package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/qqrelay/internal/store"
	"github.com/nextlevelbuilder/qqrelay/internal/store/storetest"
)

func setupMiniredis(t *testing.T) *BindingStore {
	t.Helper()
	mr := miniredis.RunT(t)
	s := NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test:")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBindingStore_Conformance(t *testing.T) {
	storetest.Run(t, setupMiniredis(t))
}

func TestBindingStore_RebindMovesBoundIndex(t *testing.T) {
	s := setupMiniredis(t)
	ctx := context.Background()

	s.Put(ctx, store.ButtonBinding{ConversationKey: "group:1", ActionID: "b", BoundID: "G-old"})
	s.Put(ctx, store.ButtonBinding{ConversationKey: "group:1", ActionID: "b", BoundID: "G-new"})

	if _, err := s.FindByBoundID(ctx, "G-old"); err != store.ErrBindingNotFound {
		t.Errorf("stale bound index still resolves: %v", err)
	}
	got, err := s.FindByBoundID(ctx, "G-new")
	if err != nil || got.ConversationKey != "group:1" {
		t.Errorf("FindByBoundID = %+v, %v", got, err)
	}
}

func TestNew_RequiresAddr(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Error("expected error for empty addr")
	}
}
