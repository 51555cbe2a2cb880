package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/parlancelabs/parlance/internal/store"
)

// ContextResolver answers whether a named context currently exists. The
// session store holds only weak references to contexts, so loading a session
// checks the live context store without ever extending a context's lifetime.
type ContextResolver interface {
	Has(name string) bool
}

// SessionStore owns saved generation-settings snapshots. Sessions are
// append-only and distinguished by id, never deduplicated by name.
type SessionStore struct {
	mu       sync.Mutex
	sessions []Session
	kv       *store.KV
	log      *slog.Logger
	clock    func() time.Time
}

// NewSessionStore loads persisted sessions from kv. A nil kv yields an
// in-memory-only store.
func NewSessionStore(ctx context.Context, kv *store.KV, log *slog.Logger) (*SessionStore, error) {
	s := &SessionStore{
		kv:    kv,
		log:   log.With(slog.String("component", "session-store")),
		clock: time.Now,
	}
	if kv == nil {
		return s, nil
	}
	data, err := kv.Get(ctx, store.KeySessions)
	if errors.Is(err, store.ErrKeyNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	if err := json.Unmarshal(data, &s.sessions); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return s, nil
}

// Save snapshots sess, minting its id and timestamp, and returns the stored
// copy.
func (s *SessionStore) Save(ctx context.Context, sess Session) (Session, error) {
	if sess.Name == "" {
		return Session{}, fmt.Errorf("session: %w", ErrInvalidName)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.ID = uuid.NewString()
	sess.CreatedAt = s.clock().UTC()
	s.sessions = append(s.sessions, sess)
	return sess, s.persist(ctx)
}

// List returns all sessions in save order.
func (s *SessionStore) List() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Session(nil), s.sessions...)
}

// Load returns the session by id with its context name resolved against the
// live context store. A dangling context reference degrades to "no context";
// it is never an error.
func (s *SessionStore) Load(id string, contexts ContextResolver) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.ID != id {
			continue
		}
		if sess.ContextName != "" && (contexts == nil || !contexts.Has(sess.ContextName)) {
			s.log.Warn("session references deleted context",
				slog.String("session_id", id),
				slog.String("context", sess.ContextName))
			sess.ContextName = ""
		}
		return sess, nil
	}
	return Session{}, fmt.Errorf("%w: session %q", ErrNotFound, id)
}

// Delete removes the session by id.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sess := range s.sessions {
		if sess.ID == id {
			s.sessions = append(s.sessions[:i], s.sessions[i+1:]...)
			return s.persist(ctx)
		}
	}
	return fmt.Errorf("%w: session %q", ErrNotFound, id)
}

func (s *SessionStore) persist(ctx context.Context) error {
	if s.kv == nil {
		return nil
	}
	data, err := json.Marshal(s.sessions)
	if err != nil {
		return &PersistWarning{Err: err}
	}
	if err := s.kv.Put(ctx, store.KeySessions, data); err != nil {
		s.log.Warn("session write-through failed", slog.String("error", err.Error()))
		return &PersistWarning{Err: err}
	}
	return nil
}
