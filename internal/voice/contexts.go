package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/parlancelabs/parlance/internal/store"
)

// ContextStore owns context lifetime and the active-context pointer. Every
// mutation is written through to the durable store; a write failure keeps the
// in-memory state and is surfaced as a PersistWarning.
type ContextStore struct {
	mu       sync.Mutex
	contexts []*Context
	active   string
	kv       *store.KV
	log      *slog.Logger
}

// NewContextStore loads persisted contexts from kv. A nil kv yields an
// in-memory-only store, used by tests.
func NewContextStore(ctx context.Context, kv *store.KV, log *slog.Logger) (*ContextStore, error) {
	s := &ContextStore{kv: kv, log: log.With(slog.String("component", "context-store"))}
	if kv == nil {
		return s, nil
	}
	data, err := kv.Get(ctx, store.KeyContexts)
	if errors.Is(err, store.ErrKeyNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load contexts: %w", err)
	}
	var loaded []*Context
	if err := json.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("decode contexts: %w", err)
	}
	s.contexts = loaded
	return s, nil
}

// Create makes a new empty context and marks it active.
func (s *ContextStore) Create(ctx context.Context, name string) (Context, error) {
	if name == "" {
		return Context{}, fmt.Errorf("context: %w", ErrInvalidName)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.find(name) != nil {
		return Context{}, fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	c := &Context{Name: name}
	s.contexts = append(s.contexts, c)
	s.active = name
	return c.clone(), s.persist(ctx)
}

// SetActive points the active-context reference at name.
func (s *ContextStore) SetActive(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.find(name) == nil {
		return fmt.Errorf("%w: context %q", ErrNotFound, name)
	}
	s.active = name
	return nil
}

// Delete removes name if present, clearing the active pointer when it pointed
// there. Deleting an absent context is a no-op.
func (s *ContextStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, c := range s.contexts {
		if c.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	s.contexts = append(s.contexts[:idx], s.contexts[idx+1:]...)
	if s.active == name {
		s.active = ""
	}
	return s.persist(ctx)
}

// AppendSegment appends seg to the named context and returns the updated
// snapshot so callers can refresh any cached view.
func (s *ContextStore) AppendSegment(ctx context.Context, name string, seg Segment) (Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.find(name)
	if c == nil {
		return Context{}, fmt.Errorf("%w: context %q", ErrNotFound, name)
	}
	c.Segments = append(c.Segments, seg)
	return c.clone(), s.persist(ctx)
}

// Active returns the active context snapshot, or false when none is active.
func (s *ContextStore) Active() (Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == "" {
		return Context{}, false
	}
	c := s.find(s.active)
	if c == nil {
		return Context{}, false
	}
	return c.clone(), true
}

// Get returns the named context snapshot.
func (s *ContextStore) Get(name string) (Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.find(name)
	if c == nil {
		return Context{}, fmt.Errorf("%w: context %q", ErrNotFound, name)
	}
	return c.clone(), nil
}

// Has reports whether a context named name exists.
func (s *ContextStore) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.find(name) != nil
}

// List returns snapshots of all contexts in creation order.
func (s *ContextStore) List() []Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Context, 0, len(s.contexts))
	for _, c := range s.contexts {
		out = append(out, c.clone())
	}
	return out
}

func (s *ContextStore) find(name string) *Context {
	for _, c := range s.contexts {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// persist serializes all contexts under the fixed key. Callers hold s.mu.
func (s *ContextStore) persist(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	data, err := json.Marshal(s.contexts)
	if err != nil {
		return &PersistWarning{Err: err}
	}
	if err := s.kv.Put(ctx, store.KeyContexts, data); err != nil {
		s.log.Warn("context write-through failed", slog.String("error", err.Error()))
		return &PersistWarning{Err: err}
	}
	return nil
}
