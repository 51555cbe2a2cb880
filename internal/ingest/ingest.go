package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/parlancelabs/parlance/internal/audiocache"
	"github.com/parlancelabs/parlance/internal/transcribe"
	"github.com/parlancelabs/parlance/internal/voice"
)

// Ingestor is the linear context-audio pipeline: a locally available clip is
// transcribed once, the user edits and confirms the text, and a segment is
// appended to the chosen context. It never touches the synthesis backend or
// the cache's remote-fetch paths.
type Ingestor struct {
	transcriber transcribe.Transcriber
	contexts    *voice.ContextStore
	artifactDir string
	log         *slog.Logger
}

func New(transcriber transcribe.Transcriber, contexts *voice.ContextStore, artifactDir string, log *slog.Logger) *Ingestor {
	return &Ingestor{
		transcriber: transcriber,
		contexts:    contexts,
		artifactDir: artifactDir,
		log:         log.With(slog.String("component", "ingest")),
	}
}

// SaveClip copies an uploaded or recorded clip into the artifact directory
// under a minted name, so its reference is locally resolvable. Returns the
// reference and the absolute path.
func (i *Ingestor) SaveClip(r io.Reader, originalName string) (string, string, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	if ext == "" {
		ext = ".wav"
	}
	ref := "clip_" + uuid.NewString() + ext
	path := filepath.Join(i.artifactDir, ref)

	file, err := os.Create(path)
	if err != nil {
		return "", "", fmt.Errorf("save clip: %w", err)
	}
	defer file.Close()
	if _, err := io.Copy(file, r); err != nil {
		os.Remove(path)
		return "", "", fmt.Errorf("save clip: %w", err)
	}
	return ref, path, nil
}

// Transcribe runs the single transcription attempt for the clip. On failure
// the clip is discarded and the error reported; there is no retry.
func (i *Ingestor) Transcribe(ctx context.Context, clipPath string) (string, error) {
	text, err := i.transcriber.Transcribe(ctx, clipPath)
	if err != nil {
		i.log.Warn("transcription failed, discarding clip",
			slog.String("clip", clipPath), slog.String("error", err.Error()))
		os.Remove(clipPath)
		return "", fmt.Errorf("transcribe clip: %w", err)
	}
	return text, nil
}

// Commit appends the confirmed segment to the named context. Text is the
// user-confirmed (possibly edited) transcript.
func (i *Ingestor) Commit(ctx context.Context, contextName string, speaker int, text, audioRef string) (voice.Context, error) {
	if strings.TrimSpace(text) == "" {
		return voice.Context{}, fmt.Errorf("segment text must not be empty")
	}
	if _, err := audiocache.SanitizeFilename(audioRef); err != nil {
		return voice.Context{}, fmt.Errorf("commit segment: %w", err)
	}
	return i.contexts.AppendSegment(ctx, contextName, voice.Segment{
		Speaker:  speaker,
		Text:     text,
		AudioRef: audioRef,
	})
}
