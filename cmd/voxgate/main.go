// Command voxgate is the main entry point for the Voxgate voice gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/voxline/voxgate/internal/app"
	"github.com/voxline/voxgate/internal/config"
)

// logLevel is shared with the config watcher so log verbosity can be
// hot-reloaded.
var logLevel = new(slog.LevelVar)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch-config", false, "reload hot-reloadable config fields on file change")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxgate: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxgate: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("voxgate starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	app.RegisterBuiltinProviders(reg)

	asrProvider, err := reg.CreateASR(cfg.ASR)
	if err != nil {
		slog.Error("failed to create recognizer", "provider", cfg.ASR.Provider, "err", err)
		return 1
	}
	slog.Info("provider created", "kind", "asr", "name", cfg.ASR.Provider)

	ttsProvider, err := reg.CreateTTS("openai", cfg.TTS)
	if err != nil {
		slog.Error("failed to create synthesis provider", "err", err)
		return 1
	}
	slog.Info("provider created", "kind", "tts", "name", "openai", "voice", cfg.TTS.Voice)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg, &app.Providers{
		ASR: asrProvider,
		TTS: ttsProvider,
	})
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config watcher (optional) ─────────────────────────────────────────────
	if *watch {
		watcher, err := config.NewWatcher(*configPath, applyConfigChange)
		if err != nil {
			slog.Error("failed to start config watcher", "err", err)
			return 1
		}
		defer watcher.Stop()
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	slog.Info("goodbye")
	return 0
}

// applyConfigChange applies hot-reloadable config fields. Everything else
// needs a restart and is only reported.
func applyConfigChange(old, new *config.Config) {
	d := config.Diff(old, new)
	if !d.Changed() {
		slog.Info("config changed but no hot-reloadable fields differ; restart to apply")
		return
	}
	if d.LogLevelChanged {
		logLevel.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level updated", "level", d.NewLogLevel)
	}
	if d.GreetingChanged || d.SystemPromptChanged || d.TemperatureChanged {
		slog.Info("greeting/prompt changes apply to new sessions only after restart")
	}
}

// slogLevel maps the config log level onto slog's levels.
func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
