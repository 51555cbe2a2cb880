package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parlancelabs/parlance/internal/transcribe"
	"github.com/parlancelabs/parlance/internal/voice"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type failingTranscriber struct{}

func (failingTranscriber) Transcribe(context.Context, string) (string, error) {
	return "", errors.New("backend exploded")
}

func newIngestor(t *testing.T, tr transcribe.Transcriber) (*Ingestor, *voice.ContextStore, string) {
	t.Helper()
	dir := t.TempDir()
	contexts, err := voice.NewContextStore(context.Background(), nil, newLogger())
	if err != nil {
		t.Fatalf("context store: %v", err)
	}
	return New(tr, contexts, dir, newLogger()), contexts, dir
}

func TestSaveClipMintsLocalReference(t *testing.T) {
	ing, _, dir := newIngestor(t, transcribe.NewMockTranscriber())

	ref, path, err := ing.SaveClip(bytes.NewReader([]byte("clip-bytes")), "recording.wav")
	if err != nil {
		t.Fatalf("save clip: %v", err)
	}
	if !strings.HasPrefix(ref, "clip_") || !strings.HasSuffix(ref, ".wav") {
		t.Fatalf("unexpected reference %q", ref)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("clip stored outside artifact dir: %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "clip-bytes" {
		t.Fatalf("clip content mismatch: %q %v", data, err)
	}
}

func TestTranscribeFailureDiscardsClip(t *testing.T) {
	ing, _, _ := newIngestor(t, failingTranscriber{})

	ref, path, err := ing.SaveClip(bytes.NewReader([]byte("x")), "a.wav")
	if err != nil {
		t.Fatalf("save clip: %v", err)
	}
	_ = ref

	if _, err := ing.Transcribe(context.Background(), path); err == nil {
		t.Fatal("expected transcription error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("failed clip should be discarded")
	}
}

func TestCommitAppendsSegment(t *testing.T) {
	ing, contexts, _ := newIngestor(t, transcribe.NewMockTranscriber())
	ctx := context.Background()
	contexts.Create(ctx, "conv")

	updated, err := ing.Commit(ctx, "conv", 1, "edited transcript", "clip_abc.wav")
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if len(updated.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(updated.Segments))
	}
	seg := updated.Segments[0]
	if seg.Speaker != 1 || seg.Text != "edited transcript" || seg.AudioRef != "clip_abc.wav" {
		t.Fatalf("unexpected segment: %+v", seg)
	}
}

func TestCommitRejections(t *testing.T) {
	ing, contexts, _ := newIngestor(t, transcribe.NewMockTranscriber())
	ctx := context.Background()
	contexts.Create(ctx, "conv")

	if _, err := ing.Commit(ctx, "conv", 0, "  ", "a.wav"); err == nil {
		t.Fatal("expected empty-text rejection")
	}
	if _, err := ing.Commit(ctx, "ghost", 0, "text", "a.wav"); !errors.Is(err, voice.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := ing.Commit(ctx, "conv", 0, "text", "../escape.wav"); err != nil {
		// basename is honored, traversal segments are not
		t.Fatalf("basename-resolvable ref should commit: %v", err)
	}
}
