package voice

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/parlancelabs/parlance/internal/config"
	"github.com/parlancelabs/parlance/internal/store"
)

func newSessionStore(t *testing.T) *SessionStore {
	t.Helper()
	s, err := NewSessionStore(context.Background(), nil, newLogger())
	if err != nil {
		t.Fatalf("new session store: %v", err)
	}
	return s
}

func TestSaveRequiresName(t *testing.T) {
	s := newSessionStore(t)
	if _, err := s.Save(context.Background(), Session{}); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestSaveDoesNotDeduplicateByName(t *testing.T) {
	s := newSessionStore(t)
	s.clock = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	first, err := s.Save(ctx, Session{Name: "take", Text: "hello", Speaker: 0})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	second, err := s.Save(ctx, Session{Name: "take", Text: "hello again", Speaker: 1})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("expected distinct ids for same-named sessions")
	}
	if len(s.List()) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(s.List()))
	}
	if !first.CreatedAt.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected timestamp: %v", first.CreatedAt)
	}
}

func TestLoadResolvesDanglingContext(t *testing.T) {
	s := newSessionStore(t)
	contexts := newContextStore(t)
	ctx := context.Background()
	contexts.Create(ctx, "live")

	saved, err := s.Save(ctx, Session{
		Name:             "snap",
		Text:             "some text",
		Speaker:          1,
		MaxAudioLengthMS: 8000,
		Temperature:      0.8,
		TopK:             40,
		ContextName:      "Deleted",
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := s.Load(saved.ID, contexts)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ContextName != "" {
		t.Fatalf("expected dangling context cleared, got %q", loaded.ContextName)
	}
	// Settings restore fully.
	if loaded.Text != "some text" || loaded.Speaker != 1 || loaded.MaxAudioLengthMS != 8000 ||
		loaded.Temperature != 0.8 || loaded.TopK != 40 {
		t.Fatalf("settings not restored: %+v", loaded)
	}
	// The live context store is untouched.
	if active, ok := contexts.Active(); !ok || active.Name != "live" {
		t.Fatal("active context should be unchanged by session load")
	}
}

func TestLoadResolvesLiveContext(t *testing.T) {
	s := newSessionStore(t)
	contexts := newContextStore(t)
	ctx := context.Background()
	contexts.Create(ctx, "live")

	saved, _ := s.Save(ctx, Session{Name: "snap", ContextName: "live"})
	loaded, err := s.Load(saved.ID, contexts)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ContextName != "live" {
		t.Fatalf("expected context name kept, got %q", loaded.ContextName)
	}
}

func TestDeleteSession(t *testing.T) {
	s := newSessionStore(t)
	ctx := context.Background()
	saved, _ := s.Save(ctx, Session{Name: "gone"})

	if err := s.Delete(ctx, saved.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Load(saved.ID, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Delete(ctx, saved.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSessionPersistFailureKeepsMutation(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{Path: filepath.Join(t.TempDir(), "parlance.db")}
	kv, err := store.Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}

	s, err := NewSessionStore(ctx, kv, newLogger())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	kv.Close()

	saved, err := s.Save(ctx, Session{Name: "snap", Text: "hi"})
	if !IsPersistWarning(err) {
		t.Fatalf("expected PersistWarning, got %v", err)
	}
	if saved.ID == "" {
		t.Fatal("warning save must still mint the session")
	}
	loaded, err := s.Load(saved.ID, nil)
	if err != nil || loaded.Text != "hi" {
		t.Fatalf("mutation rolled back: %+v %v", loaded, err)
	}

	if err := s.Delete(ctx, saved.ID); !IsPersistWarning(err) {
		t.Fatalf("expected PersistWarning on delete, got %v", err)
	}
	if len(s.List()) != 0 {
		t.Fatal("delete rolled back after warning")
	}
}
