package generate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/parlancelabs/parlance/internal/audiocache"
	"github.com/parlancelabs/parlance/internal/config"
	"github.com/parlancelabs/parlance/internal/synth"
	"github.com/parlancelabs/parlance/internal/voice"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// State names one stage of the generation request lifecycle.
type State string

const (
	StateIdle               State = "idle"
	StateBuildingPayload    State = "building_payload"
	StateAwaitingBackend    State = "awaiting_backend"
	StateValidatingArtifact State = "validating_artifact"
	StateResolvingAudio     State = "resolving_audio"
	StateComplete           State = "complete"
	StateErrored            State = "errored"
)

// Notifier receives lifecycle transitions for relaying to the UI. Detail is
// a human-readable note (warning text, error summary), empty for clean
// transitions.
type Notifier interface {
	RequestState(requestID string, state State, detail string)
}

// Request carries one user-initiated synthesis request. Zero parameter
// values fall back to configured defaults.
type Request struct {
	Text             string
	Speaker          int
	MaxAudioLengthMS int
	Temperature      float64
	TopK             int
}

// Result is the terminal outcome of a completed request.
type Result struct {
	RequestID string
	AudioRef  string
	Clip      audiocache.Clip
	// Degraded marks that visualization used a fallback; playback through
	// AudioRef may still work.
	Degraded bool
	Warnings []string
	// Context is the updated active context after the new segment was
	// appended, when one was active.
	Context *voice.Context
}

// Orchestrator drives synthesis requests through the fixed state machine:
// BuildingPayload, AwaitingBackend, ValidatingArtifact, ResolvingAudio,
// Complete, with Errored reachable from every non-terminal state. At most
// one request is in flight at a time.
type Orchestrator struct {
	cfg        config.SynthesisConfig
	artifacts  config.ArtifactsConfig
	synth      synth.Synthesizer
	cache      *audiocache.Cache
	contexts   *voice.ContextStore
	notifier   Notifier
	log        *slog.Logger
	tracer     trace.Tracer
	requests   metric.Int64Counter
	duration   metric.Float64Histogram
	busy       atomic.Bool
	retryDelay time.Duration
	sleep      func(time.Duration)
}

func New(cfg config.SynthesisConfig, artifacts config.ArtifactsConfig, synthesizer synth.Synthesizer,
	cache *audiocache.Cache, contexts *voice.ContextStore, notifier Notifier, log *slog.Logger) *Orchestrator {

	o := &Orchestrator{
		cfg:        cfg,
		artifacts:  artifacts,
		synth:      synthesizer,
		cache:      cache,
		contexts:   contexts,
		notifier:   notifier,
		log:        log.With(slog.String("component", "generate")),
		tracer:     otel.Tracer("github.com/parlancelabs/parlance/generate"),
		retryDelay: time.Duration(artifacts.RetryDelayMS) * time.Millisecond,
		sleep:      time.Sleep,
	}

	meter := otel.Meter("github.com/parlancelabs/parlance/generate")
	var err error
	o.requests, err = meter.Int64Counter("parlance.generate.requests",
		metric.WithDescription("Generation requests by terminal state"))
	if err != nil {
		o.log.Warn("failed to initialize request counter", slog.String("error", err.Error()))
	}
	o.duration, err = meter.Float64Histogram("parlance.generate.duration_seconds",
		metric.WithDescription("End-to-end generation request duration"))
	if err != nil {
		o.log.Warn("failed to initialize duration histogram", slog.String("error", err.Error()))
	}
	return o
}

// Generate runs one request end to end. Data-model errors and ErrBusy are
// returned synchronously with no side effects; backend and artifact errors
// abort the request without mutating context state; retrieval degradation
// downgrades the result but still completes it.
func (o *Orchestrator) Generate(ctx context.Context, req Request) (Result, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return Result{}, ErrBusy
	}
	defer o.busy.Store(false)

	requestID := uuid.NewString()
	started := time.Now()
	ctx, span := o.tracer.Start(ctx, "generate.request",
		trace.WithAttributes(attribute.String("request.id", requestID)))
	defer span.End()

	result, err := o.run(ctx, requestID, req)
	terminal := StateComplete
	if err != nil {
		terminal = StateErrored
		o.transition(requestID, StateErrored, err.Error())
	}
	if o.requests != nil {
		o.requests.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(terminal))))
	}
	if o.duration != nil {
		o.duration.Record(ctx, time.Since(started).Seconds())
	}
	return result, err
}

func (o *Orchestrator) run(ctx context.Context, requestID string, req Request) (Result, error) {
	// BuildingPayload
	o.transition(requestID, StateBuildingPayload, "")
	if strings.TrimSpace(req.Text) == "" {
		return Result{}, fmt.Errorf("%w: text must not be empty", ErrValidation)
	}
	applyDefaults(&req, o.cfg)

	var payload []synth.ContextSegment
	active, hasActive := o.contexts.Active()
	if hasActive {
		for _, seg := range active.Segments {
			if seg.AudioRef == "" {
				// The backend conditions on audio; reference-less
				// segments are skipped, matching its own behavior.
				continue
			}
			name, err := audiocache.SanitizeFilename(seg.AudioRef)
			if err != nil {
				o.log.Warn("skipping segment with unusable audio reference",
					slog.String("ref", seg.AudioRef))
				continue
			}
			payload = append(payload, synth.ContextSegment{
				Text:      seg.Text,
				Speaker:   seg.Speaker,
				AudioPath: filepath.Join(o.artifacts.Dir, name),
			})
		}
	}

	audioRef := requestID + ".wav"
	outputPath := filepath.Join(o.artifacts.Dir, audioRef)
	var warnings []string

	// AwaitingBackend: exactly one invocation, no backend-level retry.
	o.transition(requestID, StateAwaitingBackend, "")
	diag, synthErr := o.synth.Synthesize(ctx, synth.Request{
		Text:             req.Text,
		Speaker:          req.Speaker,
		Context:          payload,
		MaxAudioLengthMS: req.MaxAudioLengthMS,
		Temperature:      req.Temperature,
		TopK:             req.TopK,
		OutputPath:       outputPath,
	})
	if synthErr != nil {
		// A non-zero exit with a usable artifact is
		// success-with-warnings: known benign backend warnings must not
		// block usable output.
		if info, statErr := os.Stat(outputPath); statErr == nil && info.Size() > 0 {
			warning := fmt.Sprintf("backend reported an error but produced output: %v", synthErr)
			warnings = append(warnings, warning)
			o.log.Warn("backend exit treated as success-with-warnings",
				slog.String("request_id", requestID),
				slog.String("error", synthErr.Error()))
		} else {
			return Result{}, &BackendError{Stdout: diag.Stdout, Stderr: diag.Stderr, Err: synthErr}
		}
	}

	// ValidatingArtifact: independent of what the backend claimed.
	o.transition(requestID, StateValidatingArtifact, "")
	if err := validateArtifact(outputPath); err != nil {
		return Result{}, err
	}

	// ResolvingAudio: failure here degrades visualization, never the
	// request. Exactly one retry after a short delay.
	o.transition(requestID, StateResolvingAudio, "")
	clip, resolveErr := o.cache.Resolve(ctx, audioRef)
	if resolveErr != nil || clip.Degraded() {
		o.sleep(o.retryDelay)
		if refreshed, err := o.cache.Refresh(ctx, audioRef); err == nil {
			clip = refreshed
		}
	}
	degraded := clip.Degraded() || clip.Ref == ""
	if degraded {
		warnings = append(warnings, "waveform retrieval degraded; playback may still work")
		o.notify(requestID, StateResolvingAudio, "visualization degraded")
	}

	result := Result{
		RequestID: requestID,
		AudioRef:  audioRef,
		Clip:      clip,
		Degraded:  degraded,
		Warnings:  warnings,
	}

	// Complete: append to the active context, if any.
	if hasActive {
		updated, err := o.contexts.AppendSegment(ctx, active.Name, voice.Segment{
			Speaker:  req.Speaker,
			Text:     req.Text,
			AudioRef: audioRef,
		})
		if err != nil {
			if voice.IsPersistWarning(err) {
				result.Warnings = append(result.Warnings, err.Error())
			} else {
				// The context vanished mid-request (deleted while we
				// were awaiting the backend). The artifact stands on
				// its own.
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("active context unavailable, segment not appended: %v", err))
			}
		}
		if updated.Name != "" {
			result.Context = &updated
		}
	}

	o.transition(requestID, StateComplete, "")
	return result, nil
}

func applyDefaults(req *Request, cfg config.SynthesisConfig) {
	if req.MaxAudioLengthMS <= 0 {
		req.MaxAudioLengthMS = cfg.MaxAudioLengthMS
	}
	if req.Temperature <= 0 {
		req.Temperature = cfg.Temperature
	}
	if req.TopK <= 0 {
		req.TopK = cfg.TopK
	}
}

// validateArtifact confirms the file exists, is non-empty, and begins with a
// RIFF/WAVE container signature.
func validateArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &ArtifactInvalidError{Path: path, Reason: "missing"}
	}
	if info.Size() == 0 {
		return &ArtifactInvalidError{Path: path, Reason: "empty"}
	}
	file, err := os.Open(path)
	if err != nil {
		return &ArtifactInvalidError{Path: path, Reason: fmt.Sprintf("unreadable: %v", err)}
	}
	defer file.Close()

	header := make([]byte, 12)
	if _, err := io.ReadFull(file, header); err != nil {
		return &ArtifactInvalidError{Path: path, Reason: "truncated header"}
	}
	if string(header[:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return &ArtifactInvalidError{Path: path, Reason: "not a RIFF/WAVE container"}
	}
	return nil
}

func (o *Orchestrator) transition(requestID string, state State, detail string) {
	o.log.Debug("request state",
		slog.String("request_id", requestID),
		slog.String("state", string(state)))
	o.notify(requestID, state, detail)
}

func (o *Orchestrator) notify(requestID string, state State, detail string) {
	if o.notifier != nil {
		o.notifier.RequestState(requestID, state, detail)
	}
}
