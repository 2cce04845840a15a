// Package runtime assembles the booth: telemetry, bus, camera, face
// locator, gallery, the conversation services and the UI bridge, in that
// order. Start blocks until the context dies, then unwinds everything in
// reverse.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/boothworks/booth-core/internal/bus"
	"github.com/boothworks/booth-core/internal/camera"
	"github.com/boothworks/booth-core/internal/config"
	"github.com/boothworks/booth-core/internal/detect"
	"github.com/boothworks/booth-core/internal/gallery"
	"github.com/boothworks/booth-core/internal/interaction"
	"github.com/boothworks/booth-core/internal/listen"
	"github.com/boothworks/booth-core/internal/natsserver"
	"github.com/boothworks/booth-core/internal/phrases"
	"github.com/boothworks/booth-core/internal/present"
	"github.com/boothworks/booth-core/internal/speech"
	"github.com/boothworks/booth-core/internal/vision"
)

// probeBudget bounds the startup camera check.
const probeBudget = 10 * time.Second

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
	health      []func() bool
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if r.cfg.Bus.Embedded {
		embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		defer embedded.Shutdown()
	}

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}
	defer busClient.Close()

	catalog, err := phrases.Load(r.cfg.Interaction.PhrasesPath)
	if err != nil {
		return fmt.Errorf("load phrases: %w", err)
	}

	// no camera, no booth: this is the one device the product cannot
	// degrade around
	source, err := camera.New(r.cfg.Camera)
	if err != nil {
		return fmt.Errorf("configure camera: %w", err)
	}
	probeCtx, cancelProbe := context.WithTimeout(ctx, probeBudget)
	err = camera.Probe(probeCtx, source)
	cancelProbe()
	if err != nil {
		return fmt.Errorf("camera probe: %w", err)
	}

	locator, err := vision.New(r.cfg.Detector)
	if err != nil {
		return fmt.Errorf("configure face locator: %w", err)
	}

	store, err := gallery.Open(ctx, r.cfg.Gallery, r.logger)
	if err != nil {
		return fmt.Errorf("open gallery: %w", err)
	}
	defer store.Close()

	synth, player := r.speechBackends()
	speechSvc := speech.NewService(ctx, r.cfg.Speech, busClient, synth, player, r.logger)
	if err := speechSvc.Start(); err != nil {
		return fmt.Errorf("start speech service: %w", err)
	}
	defer speechSvc.Close()

	capturer, recognizer := r.listenBackends()
	listenSvc := listen.NewService(ctx, r.cfg.Listen, busClient, capturer, recognizer, r.logger)
	if err := listenSvc.Start(); err != nil {
		return fmt.Errorf("start listen service: %w", err)
	}
	defer listenSvc.Close()

	gallerySvc := gallery.NewService(ctx, r.cfg.Gallery, busClient, store, source, r.logger)
	if err := gallerySvc.Start(); err != nil {
		return fmt.Errorf("start gallery service: %w", err)
	}
	defer gallerySvc.Close()

	interactionSvc := interaction.NewService(ctx, r.cfg.Interaction, busClient, catalog, r.logger)
	if err := interactionSvc.Start(); err != nil {
		return fmt.Errorf("start interaction service: %w", err)
	}
	defer interactionSvc.Close()

	presentSvc := present.NewService(ctx, busClient, interactionSvc, store, r.logger)
	if err := presentSvc.Start(); err != nil {
		return fmt.Errorf("start presentation bridge: %w", err)
	}
	defer presentSvc.Close()

	poller := detect.NewPoller(ctx, r.cfg.Detector, source, locator, busClient, interactionSvc.Idle, r.logger)
	if err := poller.Start(); err != nil {
		return fmt.Errorf("start detection poller: %w", err)
	}
	defer poller.Close()

	r.health = []func() bool{
		busClient.Healthy,
		speechSvc.Healthy,
		listenSvc.Healthy,
		gallerySvc.Healthy,
		interactionSvc.Healthy,
		presentSvc.Healthy,
		poller.Healthy,
	}

	mux := chi.NewRouter()
	mux.Use(chimiddleware.RequestID)
	mux.Use(chimiddleware.Recoverer)
	mux.Get("/healthz", r.handleHealth)
	mux.Get("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	mux.Mount("/v1", presentSvc.Routes())

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
	r.logger.Info("booth runtime started",
		slog.String("addr", addr),
		slog.String("camera_mode", r.cfg.Camera.Mode),
		slog.String("detector_mode", r.cfg.Detector.Mode),
		slog.String("speech_mode", r.cfg.Speech.Mode),
		slog.String("listen_mode", r.cfg.Listen.Mode))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("booth runtime stopping")
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

// speechBackends builds the configured synthesizer and player. A backend
// that cannot be built leaves the booth voiceless, not stopped: the speech
// service completes every turn instantly in that case.
func (r *Runtime) speechBackends() (speech.Synthesizer, speech.Player) {
	cfg := r.cfg.Speech
	switch cfg.Mode {
	case "exec":
		synth, err := speech.NewExecSynth(cfg.Command, cfg.Voice, cfg.SampleRate, cfg.Channels)
		if err != nil {
			r.logger.Warn("speech synthesizer unavailable", slog.String("error", err.Error()))
			return nil, nil
		}
		if cfg.PlayerCommand == "" {
			return synth, speech.NewDiscardPlayer()
		}
		player, err := speech.NewExecPlayer(cfg.PlayerCommand)
		if err != nil {
			r.logger.Warn("speech player unavailable", slog.String("error", err.Error()))
			return nil, nil
		}
		return synth, player
	default:
		return speech.NewMockSynth(cfg.SampleRate, cfg.Channels, cfg.ChunkDurationMS), speech.NewDiscardPlayer()
	}
}

// listenBackends builds the microphone capturer and recognizer. Failure
// puts the listen service in degraded mode: every request fails fast and
// the machine routes visitors to a polite farewell.
func (r *Runtime) listenBackends() (listen.Capturer, listen.Recognizer) {
	cfg := r.cfg.Listen
	switch cfg.Mode {
	case "exec":
		capturer, err := listen.NewExecCapturer(cfg)
		if err != nil {
			r.logger.Warn("microphone capture unavailable", slog.String("error", err.Error()))
			return nil, nil
		}
		recognizer, err := listen.NewExecRecognizer(cfg)
		if err != nil {
			r.logger.Warn("speech recognizer unavailable", slog.String("error", err.Error()))
			return nil, nil
		}
		return capturer, recognizer
	default:
		return listen.NewMockCapturer(cfg), listen.NewMockRecognizer(cfg.MockTranscript)
	}
}

func (r *Runtime) healthy() bool {
	for _, check := range r.health {
		if !check() {
			return false
		}
	}
	return true
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
