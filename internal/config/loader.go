package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per concern.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr": {"azure", "whisper"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields that have a sensible default.
func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.ASR.SampleRate == 0 {
		cfg.ASR.SampleRate = 16000
	}
	if cfg.ASR.Channels == 0 {
		cfg.ASR.Channels = 1
	}
	if cfg.Session.Language == "" {
		cfg.Session.Language = "en-US"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
		}
	}

	// Recognizer
	errs = append(errs, validateASR("asr", &cfg.ASR)...)
	if fb := cfg.ASR.Fallback; fb != nil {
		if fb.Fallback != nil {
			errs = append(errs, fmt.Errorf("asr.fallback.fallback: only one level of failover is supported"))
		}
		errs = append(errs, validateASR("asr.fallback", fb)...)
	}
	if cfg.ASR.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("asr.sample_rate %d is invalid", cfg.ASR.SampleRate))
	}

	// Synthesis is needed even for text-only calls: greetings and system
	// messages always play as audio.
	errs = append(errs, validateTTS("tts", &cfg.TTS)...)
	if fb := cfg.TTS.Fallback; fb != nil {
		if fb.Fallback != nil {
			errs = append(errs, fmt.Errorf("tts.fallback.fallback: only one level of failover is supported"))
		}
		errs = append(errs, validateTTS("tts.fallback", fb)...)
	}

	// Default orchestrator
	validateProviderName("llm", cfg.LLM.Provider)
	if cfg.LLM.Provider != "" && cfg.LLM.Model == "" {
		errs = append(errs, fmt.Errorf("llm.model is required when llm.provider is set"))
	}
	if cfg.LLM.Provider == "" {
		slog.Warn("no llm provider configured; the gateway requires an embedded orchestrator")
	}

	// Memory
	if cfg.Memory.PostgresDSN == "" {
		slog.Warn("memory.postgres_dsn is empty; transcripts will not be persisted")
	}
	if cfg.Memory.HistoryWindow < 0 {
		errs = append(errs, fmt.Errorf("memory.history_window must not be negative"))
	}

	return errors.Join(errs...)
}

// validateASR checks one recognizer block. prefix names the block in error
// messages ("asr" or "asr.fallback").
func validateASR(prefix string, cfg *ASRConfig) []error {
	var errs []error
	validateProviderName("asr", cfg.Provider)
	switch cfg.Provider {
	case "":
		errs = append(errs, fmt.Errorf("%s.provider is required", prefix))
	case "azure":
		if cfg.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required when %s.provider is azure", prefix, prefix))
		}
		if cfg.Region == "" {
			errs = append(errs, fmt.Errorf("%s.region is required when %s.provider is azure", prefix, prefix))
		}
	case "whisper":
		if cfg.ModelPath == "" {
			errs = append(errs, fmt.Errorf("%s.model_path is required when %s.provider is whisper", prefix, prefix))
		}
	}
	return errs
}

// validateTTS checks one synthesis block.
func validateTTS(prefix string, cfg *TTSConfig) []error {
	var errs []error
	if cfg.APIKey == "" {
		errs = append(errs, fmt.Errorf("%s.api_key is required", prefix))
	}
	if cfg.RequestTimeout < 0 {
		errs = append(errs, fmt.Errorf("%s.request_timeout must not be negative", prefix))
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
