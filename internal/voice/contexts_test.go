package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/parlancelabs/parlance/internal/config"
	"github.com/parlancelabs/parlance/internal/store"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newContextStore(t *testing.T) *ContextStore {
	t.Helper()
	s, err := NewContextStore(context.Background(), nil, newLogger())
	if err != nil {
		t.Fatalf("new context store: %v", err)
	}
	return s
}

func TestCreateActivatesAndRejectsDuplicates(t *testing.T) {
	s := newContextStore(t)
	ctx := context.Background()

	created, err := s.Create(ctx, "alpha")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Name != "alpha" || len(created.Segments) != 0 {
		t.Fatalf("unexpected context: %+v", created)
	}
	if active, ok := s.Active(); !ok || active.Name != "alpha" {
		t.Fatalf("expected alpha active, got %v %v", active, ok)
	}

	if _, err := s.AppendSegment(ctx, "alpha", Segment{Speaker: 0, Text: "hi"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := s.Create(ctx, "alpha"); !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}
	// Failed create must not disturb the existing context.
	existing, err := s.Get("alpha")
	if err != nil || len(existing.Segments) != 1 {
		t.Fatalf("existing context modified: %+v %v", existing, err)
	}
}

func TestCreateEmptyNameRejected(t *testing.T) {
	s := newContextStore(t)
	if _, err := s.Create(context.Background(), ""); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestAppendOrderAndLength(t *testing.T) {
	s := newContextStore(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, "conv"); err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 5; i++ {
		updated, err := s.AppendSegment(ctx, "conv", Segment{Speaker: i % 2, Text: fmt.Sprintf("line %d", i)})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if len(updated.Segments) != i+1 {
			t.Fatalf("expected %d segments, got %d", i+1, len(updated.Segments))
		}
	}
	final, _ := s.Get("conv")
	for i, seg := range final.Segments {
		if seg.Text != fmt.Sprintf("line %d", i) {
			t.Fatalf("segment %d out of order: %q", i, seg.Text)
		}
	}
}

func TestAppendToMissingContext(t *testing.T) {
	s := newContextStore(t)
	if _, err := s.AppendSegment(context.Background(), "ghost", Segment{Text: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteClearsActivePointer(t *testing.T) {
	s := newContextStore(t)
	ctx := context.Background()
	s.Create(ctx, "a")
	s.Create(ctx, "b") // b is now active

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete non-active: %v", err)
	}
	if active, ok := s.Active(); !ok || active.Name != "b" {
		t.Fatalf("active pointer disturbed by deleting non-active context")
	}

	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("delete active: %v", err)
	}
	if _, ok := s.Active(); ok {
		t.Fatal("expected active pointer cleared")
	}

	// Idempotent: deleting an absent name is not an error.
	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}

func TestSetActive(t *testing.T) {
	s := newContextStore(t)
	ctx := context.Background()
	s.Create(ctx, "a")
	s.Create(ctx, "b")

	if err := s.SetActive("a"); err != nil {
		t.Fatalf("set active: %v", err)
	}
	if active, _ := s.Active(); active.Name != "a" {
		t.Fatalf("expected a active, got %q", active.Name)
	}
	if err := s.SetActive("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestContextsSurviveReload(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{Path: filepath.Join(t.TempDir(), "parlance.db")}
	kv, err := store.Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}

	s, err := NewContextStore(ctx, kv, newLogger())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	s.Create(ctx, "kept")
	s.AppendSegment(ctx, "kept", Segment{Speaker: 1, Text: "hello", AudioRef: "abc.wav"})
	kv.Close()

	kv2, err := store.Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("reopen kv: %v", err)
	}
	defer kv2.Close()
	reloaded, err := NewContextStore(ctx, kv2, newLogger())
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	got, err := reloaded.Get("kept")
	if err != nil {
		t.Fatalf("get after reload: %v", err)
	}
	if len(got.Segments) != 1 || got.Segments[0].AudioRef != "abc.wav" {
		t.Fatalf("unexpected reloaded context: %+v", got)
	}
	// The active pointer is process state, not persisted.
	if _, ok := reloaded.Active(); ok {
		t.Fatal("active pointer should not survive reload")
	}
}

func TestContextPersistFailureKeepsMutation(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{Path: filepath.Join(t.TempDir(), "parlance.db")}
	kv, err := store.Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}

	s, err := NewContextStore(ctx, kv, newLogger())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := s.Create(ctx, "kept"); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Kill the write path; mutations must stand in memory and come back
	// as warnings, never roll back.
	kv.Close()

	if _, err := s.Create(ctx, "later"); !IsPersistWarning(err) {
		t.Fatalf("expected PersistWarning, got %v", err)
	}
	if got, err := s.Get("later"); err != nil || got.Name != "later" {
		t.Fatalf("mutation rolled back: %+v %v", got, err)
	}

	updated, err := s.AppendSegment(ctx, "kept", Segment{Speaker: 1, Text: "hello"})
	if !IsPersistWarning(err) {
		t.Fatalf("expected PersistWarning, got %v", err)
	}
	if len(updated.Segments) != 1 {
		t.Fatalf("append rolled back: %+v", updated)
	}
	if got, _ := s.Get("kept"); len(got.Segments) != 1 || got.Segments[0].Text != "hello" {
		t.Fatalf("segment not visible after warning: %+v", got)
	}

	if err := s.Delete(ctx, "later"); !IsPersistWarning(err) {
		t.Fatalf("expected PersistWarning, got %v", err)
	}
	if _, err := s.Get("later"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete rolled back: %v", err)
	}
}
