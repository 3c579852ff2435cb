// Package file stores ButtonBindings in a single JSON file for standalone installs.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/qqrelay/internal/store"
)

type fileData struct {
	Bindings []store.ButtonBinding `json:"bindings"`
}

// BindingStore keeps bindings in memory and rewrites the file on every change.
type BindingStore struct {
	path string

	mu       sync.Mutex
	bindings map[string]store.ButtonBinding
}

// NewBindingStore loads path if it exists. A missing file starts empty.
func NewBindingStore(path string) (*BindingStore, error) {
	s := &BindingStore{path: path, bindings: make(map[string]store.ButtonBinding)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read bindings: %w", err)
	}
	var fd fileData
	if err := json.Unmarshal(data, &fd); err != nil {
		return nil, fmt.Errorf("parse bindings %s: %w", path, err)
	}
	for _, b := range fd.Bindings {
		s.bindings[b.ConversationKey] = b
	}
	slog.Info("bindings loaded", "path", path, "count", len(s.bindings))
	return s, nil
}

func (s *BindingStore) Get(_ context.Context, key string) (*store.ButtonBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[key]
	if !ok {
		return nil, store.ErrBindingNotFound
	}
	return &b, nil
}

func (s *BindingStore) Put(_ context.Context, b store.ButtonBinding) error {
	if err := store.ValidateBinding(b); err != nil {
		return err
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.bindings[b.ConversationKey]
	s.bindings[b.ConversationKey] = b
	if err := s.save(); err != nil {
		if had {
			s.bindings[b.ConversationKey] = prev
		} else {
			delete(s.bindings, b.ConversationKey)
		}
		return err
	}
	return nil
}

func (s *BindingStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.bindings[key]
	if !ok {
		return store.ErrBindingNotFound
	}
	delete(s.bindings, key)
	if err := s.save(); err != nil {
		s.bindings[key] = prev
		return err
	}
	return nil
}

func (s *BindingStore) FindByBoundID(_ context.Context, boundID string) (*store.ButtonBinding, error) {
	if boundID == "" {
		return nil, store.ErrBindingNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bindings {
		if b.BoundID == boundID {
			return &b, nil
		}
	}
	return nil, store.ErrBindingNotFound
}

func (s *BindingStore) FindByAction(_ context.Context, actionID, payload string) (*store.ButtonBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var match *store.ButtonBinding
	for _, b := range s.bindings {
		if b.ActionID != actionID || b.ActionPayload != payload {
			continue
		}
		if match == nil || b.UpdatedAt.After(match.UpdatedAt) {
			b := b
			match = &b
		}
	}
	if match == nil {
		return nil, store.ErrBindingNotFound
	}
	return match, nil
}

func (s *BindingStore) List(_ context.Context) ([]store.ButtonBinding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sorted(), nil
}

func (s *BindingStore) Close() error { return nil }

func (s *BindingStore) sorted() []store.ButtonBinding {
	out := make([]store.ButtonBinding, 0, len(s.bindings))
	for _, b := range s.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationKey < out[j].ConversationKey })
	return out
}

// save writes atomically via a temp file. Caller holds mu.
func (s *BindingStore) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create bindings dir: %w", err)
	}
	data, err := json.MarshalIndent(fileData{Bindings: s.sorted()}, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write bindings: %w", err)
	}
	return os.Rename(tmp, s.path)
}
