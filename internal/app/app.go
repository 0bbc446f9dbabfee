// Package app wires all Voxgate subsystems into a running gateway.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until the context is cancelled, and Shutdown tears
// everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithOrchestrator). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voxline/voxgate/internal/config"
	"github.com/voxline/voxgate/internal/gateway"
	"github.com/voxline/voxgate/internal/health"
	"github.com/voxline/voxgate/internal/observe"
	"github.com/voxline/voxgate/internal/orchestrate"
	"github.com/voxline/voxgate/internal/resilience"
	"github.com/voxline/voxgate/internal/session"
	"github.com/voxline/voxgate/pkg/asr"
	"github.com/voxline/voxgate/pkg/audio"
	"github.com/voxline/voxgate/pkg/memory"
	"github.com/voxline/voxgate/pkg/memory/postgres"
	"github.com/voxline/voxgate/pkg/tts"
)

// shutdownGrace bounds the HTTP server drain during Shutdown.
const shutdownGrace = 10 * time.Second

// Providers holds the external providers the gateway runs on. Populated by
// main.go via the config registry.
type Providers struct {
	ASR asr.Provider
	TTS tts.Provider

	// Orchestrator handles turns. Nil selects the built-in LLM router
	// configured by cfg.LLM.
	Orchestrator orchestrate.Orchestrator
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers

	registry *session.Registry
	srv      *http.Server
	metrics  *observe.Metrics

	store memory.Store

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a transcript store instead of connecting from config.
func WithStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithOrchestrator injects a turn orchestrator, overriding both
// providers.Orchestrator and the built-in router.
func WithOrchestrator(o orchestrate.Orchestrator) Option {
	return func(a *App) { a.providers.Orchestrator = o }
}

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: telemetry providers, the
// transcript store connection, playback and orchestrator assembly, and the
// HTTP routing table.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── Telemetry ────────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "voxgate",
	})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.closers = append(a.closers, shutdownOTel)
	a.metrics = observe.DefaultMetrics()

	// ── Transcript store ─────────────────────────────────────────────────────
	if a.store == nil && cfg.Memory.PostgresDSN != "" {
		pg, err := postgres.New(ctx, cfg.Memory.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("app: connect transcript store: %w", err)
		}
		a.store = pg
		a.closers = append(a.closers, func(context.Context) error {
			pg.Close()
			return nil
		})
		slog.Info("transcript store connected")
	}

	// ── Provider failover ────────────────────────────────────────────────────
	reg := config.NewRegistry()
	RegisterBuiltinProviders(reg)

	asrProvider := providers.ASR
	if fb := cfg.ASR.Fallback; fb != nil {
		fallback, err := reg.CreateASR(*fb)
		if err != nil {
			return nil, fmt.Errorf("app: create fallback recognizer: %w", err)
		}
		group := resilience.NewRecognizer(asrProvider, cfg.ASR.Provider, resilience.GroupConfig{})
		group.AddFallback(fb.Provider, fallback)
		asrProvider = group
		slog.Info("recognizer failover enabled", "primary", cfg.ASR.Provider, "fallback", fb.Provider)
	}

	ttsProvider := providers.TTS
	if fb := cfg.TTS.Fallback; fb != nil {
		fallback, err := reg.CreateTTS("openai", *fb)
		if err != nil {
			return nil, fmt.Errorf("app: create fallback synthesis provider: %w", err)
		}
		group := resilience.NewSpeech(ttsProvider, "openai", resilience.GroupConfig{})
		group.AddFallback("openai-fallback", fallback)
		ttsProvider = group
		slog.Info("synthesis failover enabled")
	}

	// ── Playback and orchestrator ────────────────────────────────────────────
	playback := orchestrate.NewPlayback(ttsProvider, tts.Voice{
		ID:       cfg.TTS.Voice,
		Language: cfg.Session.Language,
	},
		orchestrate.WithPlaybackMetrics(a.metrics),
		orchestrate.WithOutputFormat(audio.Format{
			SampleRate: cfg.ASR.SampleRate,
			Channels:   cfg.ASR.Channels,
		}),
	)

	orch := providers.Orchestrator
	if orch == nil {
		backend, err := reg.CreateLLM(cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("app: create llm backend: %w", err)
		}

		routerOpts := []orchestrate.RouterOption{
			orchestrate.WithReplyLanguage(cfg.Session.Language),
		}
		if cfg.LLM.SystemPrompt != "" {
			routerOpts = append(routerOpts, orchestrate.WithSystemPrompt(cfg.LLM.SystemPrompt))
		}
		if cfg.LLM.Temperature != 0 {
			routerOpts = append(routerOpts, orchestrate.WithTemperature(cfg.LLM.Temperature))
		}
		if cfg.Memory.HistoryWindow > 0 {
			routerOpts = append(routerOpts, orchestrate.WithHistoryWindow(cfg.Memory.HistoryWindow.Std()))
		}
		orch = orchestrate.NewRouter(backend, cfg.LLM.Model, playback, routerOpts...)
		slog.Info("using built-in llm router", "provider", cfg.LLM.Provider, "model", cfg.LLM.Model)
	}

	// ── Session registry and gateway ─────────────────────────────────────────
	a.registry = session.NewRegistry(a.metrics, slog.Default())

	gw, err := gateway.New(gateway.Config{
		Registry:     a.registry,
		ASR:          asrProvider,
		ASRConfig:    asrConfig(cfg),
		Orchestrator: orch,
		Playback:     playback,
		Store:        a.store,
		Greeting:     cfg.Session.Greeting,
		Vocabulary:   cfg.Session.Vocabulary,
		VoiceCall:    cfg.Session.VoiceCall,
		Metrics:      a.metrics,
	})
	if err != nil {
		return nil, err
	}

	// ── HTTP routes ──────────────────────────────────────────────────────────
	// The media WebSocket route stays outside the telemetry middleware; the
	// upgrade needs the raw ResponseWriter and the session carries its own
	// instrumentation.
	api := http.NewServeMux()
	health.New(a.registry).Register(api)
	api.Handle("GET /metrics", promhttp.Handler())

	mux := http.NewServeMux()
	gw.Register(mux)
	mux.Handle("/", observe.Middleware(a.metrics)(api))

	a.srv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// Registry exposes the session registry, primarily for tests.
func (a *App) Registry() *session.Registry { return a.registry }

// Run serves HTTP and processes background deregistrations until ctx is
// cancelled, then returns after Shutdown completes.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		err := a.registry.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown drains the HTTP server and closes all subsystems in reverse
// construction order. Idempotent.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error
		if err := a.srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}

// asrConfig maps the file config onto the recognizer session config.
func asrConfig(cfg *config.Config) asr.Config {
	return asr.Config{
		SampleRate:         cfg.ASR.SampleRate,
		Channels:           cfg.ASR.Channels,
		Language:           cfg.Session.Language,
		CandidateLanguages: cfg.ASR.CandidateLanguages,
	}
}
