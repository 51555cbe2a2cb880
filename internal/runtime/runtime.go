package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parlancelabs/parlance/internal/audiocache"
	"github.com/parlancelabs/parlance/internal/bus"
	"github.com/parlancelabs/parlance/internal/config"
	"github.com/parlancelabs/parlance/internal/generate"
	"github.com/parlancelabs/parlance/internal/httpapi"
	"github.com/parlancelabs/parlance/internal/ingest"
	"github.com/parlancelabs/parlance/internal/natsserver"
	"github.com/parlancelabs/parlance/internal/notify"
	"github.com/parlancelabs/parlance/internal/store"
	"github.com/parlancelabs/parlance/internal/synth"
	"github.com/parlancelabs/parlance/internal/transcribe"
	"github.com/parlancelabs/parlance/internal/voice"
)

// Runtime assembles the studio: persistence, synthesis and transcription
// backends, the generation orchestrator, the artifact cache, the notification
// bus, and the HTTP surface that ties them together.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up every component and blocks until ctx is cancelled, then
// shuts everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := os.MkdirAll(r.cfg.Artifacts.Dir, 0o755); err != nil {
		return fmt.Errorf("create artifact directory: %w", err)
	}

	var embedded *natsserver.EmbeddedServer
	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		defer embedded.Shutdown()

		busClient, err = bus.Connect(ctx, r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("connect to bus: %w", err)
		}
		defer busClient.Close()
	}

	kv, err := store.Open(ctx, r.cfg.Store, r.logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer kv.Close()

	contexts, err := voice.NewContextStore(ctx, kv, r.logger)
	if err != nil {
		return fmt.Errorf("load contexts: %w", err)
	}
	sessions, err := voice.NewSessionStore(ctx, kv, r.logger)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	synthesizer, err := newSynthesizer(r.cfg.Synthesis)
	if err != nil {
		return fmt.Errorf("configure synthesis backend: %w", err)
	}
	transcriber, err := newTranscriber(r.cfg.Transcription)
	if err != nil {
		return fmt.Errorf("configure transcription backend: %w", err)
	}

	cache := audiocache.New(r.cfg.Artifacts, r.cfg.Synthesis.SampleRate, r.logger)
	notifier := notify.NewBusNotifier(busClient, r.logger)
	orch := generate.New(r.cfg.Synthesis, r.cfg.Artifacts, synthesizer, cache, contexts, notifier, r.logger)
	ingestor := ingest.New(transcriber, contexts, r.cfg.Artifacts.Dir, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	api := httpapi.New(contexts, sessions, orch, ingestor, cache, r.cfg.Artifacts.Dir, busClient, notifier, r.logger)
	api.Register(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("synthesis", r.cfg.Synthesis.Mode),
		slog.String("transcription", r.cfg.Transcription.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func newSynthesizer(cfg config.SynthesisConfig) (synth.Synthesizer, error) {
	if cfg.Mode == "exec" {
		return synth.NewExecSynth(cfg)
	}
	return synth.NewMockSynth(cfg.SampleRate), nil
}

func newTranscriber(cfg config.TranscriptionConfig) (transcribe.Transcriber, error) {
	if cfg.Mode == "exec" {
		return transcribe.NewExecTranscriber(cfg)
	}
	return transcribe.NewMockTranscriber(), nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
