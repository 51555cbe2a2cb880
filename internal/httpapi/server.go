package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/parlancelabs/parlance/internal/audiocache"
	"github.com/parlancelabs/parlance/internal/bus"
	"github.com/parlancelabs/parlance/internal/generate"
	"github.com/parlancelabs/parlance/internal/ingest"
	"github.com/parlancelabs/parlance/internal/voice"
)

// Noticer publishes transient, dismissible user-facing notifications. Every
// failure and non-fatal warning is reported this way; none terminates the
// session.
type Noticer interface {
	Notice(level, message string)
}

// Server exposes the UI-facing API: context and session management,
// generation, ingestion, and the artifact retrieval surface.
type Server struct {
	contexts    *voice.ContextStore
	sessions    *voice.SessionStore
	orch        *generate.Orchestrator
	ingestor    *ingest.Ingestor
	cache       *audiocache.Cache
	artifactDir string
	bus         *bus.Client
	noticer     Noticer
	log         *slog.Logger
}

func New(contexts *voice.ContextStore, sessions *voice.SessionStore, orch *generate.Orchestrator,
	ingestor *ingest.Ingestor, cache *audiocache.Cache, artifactDir string, busClient *bus.Client,
	noticer Noticer, log *slog.Logger) *Server {

	return &Server{
		contexts:    contexts,
		sessions:    sessions,
		orch:        orch,
		ingestor:    ingestor,
		cache:       cache,
		artifactDir: artifactDir,
		bus:         busClient,
		noticer:     noticer,
		log:         log.With(slog.String("component", "httpapi")),
	}
}

// Register mounts all routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/contexts", s.handleListContexts)
	mux.HandleFunc("POST /api/contexts", s.handleCreateContext)
	mux.HandleFunc("POST /api/contexts/{name}/activate", s.handleActivateContext)
	mux.HandleFunc("DELETE /api/contexts/{name}", s.handleDeleteContext)
	mux.HandleFunc("POST /api/contexts/{name}/segments", s.handleAppendSegment)

	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleSaveSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleLoadSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)

	mux.HandleFunc("POST /api/generate", s.handleGenerate)
	mux.HandleFunc("POST /api/transcribe", s.handleTranscribe)
	mux.HandleFunc("GET /api/waveform/{ref}", s.handleWaveform)

	// Artifact retrieval surface: direct path by generated identifier and
	// proxied path by sanitized basename.
	mux.Handle("GET /audio/", http.StripPrefix("/audio/", http.FileServer(http.Dir(s.artifactDir))))
	mux.HandleFunc("GET /api/audio-file/{filename}", s.handleAudioFile)
	mux.HandleFunc("HEAD /api/audio-file/{filename}", s.handleAudioFile)

	mux.HandleFunc("GET /ws", s.handleNotifications)
}

type contextResponse struct {
	Context voice.Context `json:"context"`
	Active  string        `json:"activeContext,omitempty"`
	Warning string        `json:"warning,omitempty"`
}

func (s *Server) handleListContexts(w http.ResponseWriter, r *http.Request) {
	active := ""
	if a, ok := s.contexts.Active(); ok {
		active = a.Name
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"contexts":      s.contexts.List(),
		"activeContext": active,
	})
}

func (s *Server) handleCreateContext(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	created, err := s.contexts.Create(r.Context(), body.Name)
	if err != nil && !voice.IsPersistWarning(err) {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, contextResponse{
		Context: created,
		Active:  created.Name,
		Warning: s.warnText(err),
	})
}

func (s *Server) handleActivateContext(w http.ResponseWriter, r *http.Request) {
	if err := s.contexts.SetActive(r.PathValue("name")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"activeContext": r.PathValue("name")})
}

func (s *Server) handleDeleteContext(w http.ResponseWriter, r *http.Request) {
	err := s.contexts.Delete(r.Context(), r.PathValue("name"))
	if err != nil && !voice.IsPersistWarning(err) {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": r.PathValue("name"), "warning": s.warnText(err)})
}

func (s *Server) handleAppendSegment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Speaker  int    `json:"speakerId"`
		Text     string `json:"text"`
		AudioRef string `json:"audioRef"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	updated, err := s.ingestor.Commit(r.Context(), r.PathValue("name"), body.Speaker, body.Text, body.AudioRef)
	if err != nil && !voice.IsPersistWarning(err) {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contextResponse{Context: updated, Warning: s.warnText(err)})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	var sess voice.Session
	if err := json.NewDecoder(r.Body).Decode(&sess); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	saved, err := s.sessions.Save(r.Context(), sess)
	if err != nil && !voice.IsPersistWarning(err) {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"session": saved, "warning": s.warnText(err)})
}

func (s *Server) handleLoadSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Load(r.PathValue("id"), s.contexts)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	err := s.sessions.Delete(r.Context(), r.PathValue("id"))
	if err != nil && !voice.IsPersistWarning(err) {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"deleted": r.PathValue("id"), "warning": s.warnText(err)})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text             string  `json:"text"`
		Speaker          int     `json:"speakerId"`
		MaxAudioLengthMS int     `json:"maxAudioLengthMs"`
		Temperature      float64 `json:"temperature"`
		TopK             int     `json:"topK"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	result, err := s.orch.Generate(r.Context(), generate.Request{
		Text:             body.Text,
		Speaker:          body.Speaker,
		MaxAudioLengthMS: body.MaxAudioLengthMS,
		Temperature:      body.Temperature,
		TopK:             body.TopK,
	})
	if err != nil {
		s.notice("error", err.Error())
		switch {
		case errors.Is(err, generate.ErrValidation):
			writeError(w, http.StatusBadRequest, err)
		case errors.Is(err, generate.ErrBusy):
			writeError(w, http.StatusConflict, err)
		default:
			// Backend and artifact failures abort the request; the
			// UI shows them as dismissible notices.
			writeError(w, http.StatusBadGateway, err)
		}
		return
	}
	for _, warning := range result.Warnings {
		s.notice("warning", warning)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"requestId":  result.RequestID,
		"audioRef":   result.AudioRef,
		"audioUrl":   "/audio/" + result.AudioRef,
		"sampleRate": result.Clip.SampleRate,
		"samples":    result.Clip.Samples,
		"degraded":   result.Degraded,
		"warnings":   result.Warnings,
		"context":    result.Context,
	})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("missing audio upload: %w", err))
		return
	}
	defer file.Close()

	ref, path, err := s.ingestor.SaveClip(file, header.Filename)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	text, err := s.ingestor.Transcribe(r.Context(), path)
	if err != nil {
		s.notice("error", err.Error())
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text, "audioRef": ref})
}

func (s *Server) handleWaveform(w http.ResponseWriter, r *http.Request) {
	clip, err := s.cache.Resolve(r.Context(), r.PathValue("ref"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"audioRef":   clip.Ref,
		"sampleRate": clip.SampleRate,
		"samples":    clip.Samples,
		"degraded":   clip.Degraded(),
	})
}

// handleAudioFile is the proxied retrieval path: only the basename of the
// requested filename is honored, so traversal input cannot escape the
// artifact directory.
func (s *Server) handleAudioFile(w http.ResponseWriter, r *http.Request) {
	name, err := audiocache.SanitizeFilename(r.PathValue("filename"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	path := filepath.Join(s.artifactDir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, fmt.Errorf("artifact %q not found", name))
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, path)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, voice.ErrDuplicateName):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, voice.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, voice.ErrInvalidName):
		writeError(w, http.StatusBadRequest, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// warnText reports a persistence warning as a notice and returns its text for
// the response body.
func (s *Server) warnText(err error) string {
	if err == nil {
		return ""
	}
	s.notice("warning", err.Error())
	return err.Error()
}

func (s *Server) notice(level, message string) {
	if s.noticer != nil {
		s.noticer.Notice(level, message)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
