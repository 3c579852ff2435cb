// Package redisstore stores ButtonBindings in Redis so several relay instances can share them.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/qqrelay/internal/store"
)

// Config holds connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // default "qqrelay:binding:"
}

// BindingStore keeps bindings as JSON in one hash, plus two lookup hashes
// (bound id -> key, action -> key).
type BindingStore struct {
	client *redis.Client
	prefix string
}

// New connects and pings.
func New(ctx context.Context, cfg Config) (*BindingStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewFromClient(client, cfg.Prefix), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client, prefix string) *BindingStore {
	if prefix == "" {
		prefix = "qqrelay:binding:"
	}
	return &BindingStore{client: client, prefix: prefix}
}

func (s *BindingStore) allKey() string    { return s.prefix + "all" }
func (s *BindingStore) boundKey() string  { return s.prefix + "by-bound" }
func (s *BindingStore) actionKey() string { return s.prefix + "by-action" }

func actionField(actionID, payload string) string { return actionID + "\x00" + payload }

func (s *BindingStore) Get(ctx context.Context, key string) (*store.ButtonBinding, error) {
	raw, err := s.client.HGet(ctx, s.allKey(), key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrBindingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get binding: %w", err)
	}
	var b store.ButtonBinding
	if err := json.Unmarshal([]byte(raw), &b); err != nil {
		return nil, fmt.Errorf("decode binding %s: %w", key, err)
	}
	return &b, nil
}

func (s *BindingStore) Put(ctx context.Context, b store.ButtonBinding) error {
	if err := store.ValidateBinding(b); err != nil {
		return err
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}

	prev, err := s.Get(ctx, b.ConversationKey)
	if err != nil && !errors.Is(err, store.ErrBindingNotFound) {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if prev != nil {
			s.dropIndexes(ctx, p, prev)
		}
		p.HSet(ctx, s.allKey(), b.ConversationKey, data)
		if b.BoundID != "" {
			p.HSet(ctx, s.boundKey(), b.BoundID, b.ConversationKey)
		}
		p.HSet(ctx, s.actionKey(), actionField(b.ActionID, b.ActionPayload), b.ConversationKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put binding: %w", err)
	}
	return nil
}

func (s *BindingStore) Delete(ctx context.Context, key string) error {
	prev, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		s.dropIndexes(ctx, p, prev)
		p.HDel(ctx, s.allKey(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete binding: %w", err)
	}
	return nil
}

// dropIndexes queues removal of prev's lookup entries (only where they still point at prev).
func (s *BindingStore) dropIndexes(ctx context.Context, p redis.Pipeliner, prev *store.ButtonBinding) {
	if prev.BoundID != "" {
		if cur, _ := s.client.HGet(ctx, s.boundKey(), prev.BoundID).Result(); cur == prev.ConversationKey {
			p.HDel(ctx, s.boundKey(), prev.BoundID)
		}
	}
	field := actionField(prev.ActionID, prev.ActionPayload)
	if cur, _ := s.client.HGet(ctx, s.actionKey(), field).Result(); cur == prev.ConversationKey {
		p.HDel(ctx, s.actionKey(), field)
	}
}

func (s *BindingStore) FindByBoundID(ctx context.Context, boundID string) (*store.ButtonBinding, error) {
	if boundID == "" {
		return nil, store.ErrBindingNotFound
	}
	return s.lookup(ctx, s.boundKey(), boundID)
}

func (s *BindingStore) FindByAction(ctx context.Context, actionID, payload string) (*store.ButtonBinding, error) {
	return s.lookup(ctx, s.actionKey(), actionField(actionID, payload))
}

func (s *BindingStore) lookup(ctx context.Context, index, field string) (*store.ButtonBinding, error) {
	key, err := s.client.HGet(ctx, index, field).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrBindingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis lookup binding: %w", err)
	}
	return s.Get(ctx, key)
}

func (s *BindingStore) List(ctx context.Context) ([]store.ButtonBinding, error) {
	all, err := s.client.HGetAll(ctx, s.allKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list bindings: %w", err)
	}
	out := make([]store.ButtonBinding, 0, len(all))
	for key, raw := range all {
		var b store.ButtonBinding
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, fmt.Errorf("decode binding %s: %w", key, err)
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationKey < out[j].ConversationKey })
	return out, nil
}

func (s *BindingStore) Close() error { return s.client.Close() }
