package app

import (
	"log/slog"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"
	oai "github.com/openai/openai-go"

	"github.com/voxline/voxgate/internal/config"
	"github.com/voxline/voxgate/pkg/asr"
	"github.com/voxline/voxgate/pkg/asr/azure"
	"github.com/voxline/voxgate/pkg/asr/whisper"
	"github.com/voxline/voxgate/pkg/tts"
	oaitts "github.com/voxline/voxgate/pkg/tts/openai"
)

// builtinProviders maps provider kinds to the implementations that ship with
// Voxgate. Used for startup logging.
var builtinProviders = map[string][]string{
	"asr": {"azure", "whisper"},
	"tts": {"openai"},
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// RegisterBuiltinProviders wires all built-in provider factories into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── Recognizers ──────────────────────────────────────────────────────────

	reg.RegisterASR("azure", func(cfg config.ASRConfig) (asr.Provider, error) {
		return azure.New(cfg.APIKey, cfg.Region)
	})

	reg.RegisterASR("whisper", func(cfg config.ASRConfig) (asr.Provider, error) {
		return whisper.New(cfg.ModelPath)
	})

	// ── Synthesis ────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(cfg config.TTSConfig) (tts.Provider, error) {
		var opts []oaitts.Option
		if cfg.Model != "" {
			opts = append(opts, oaitts.WithModel(oai.SpeechModel(cfg.Model)))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(cfg.BaseURL))
		}
		if cfg.RequestTimeout > 0 {
			opts = append(opts, oaitts.WithRequestTimeout(cfg.RequestTimeout.Std()))
		}
		return oaitts.New(cfg.APIKey, opts...)
	})

	// ── LLM backends ─────────────────────────────────────────────────────────
	// ollama is a local server; it uses BaseURL for the address, not an API
	// key. Everything else shares the key + optional base URL pattern.

	for _, name := range builtinProviders["llm"] {
		providerName := name
		reg.RegisterLLM(providerName, func(cfg config.LLMConfig) (anyllmlib.Provider, error) {
			var opts []anyllmlib.Option
			if cfg.APIKey != "" && providerName != "ollama" {
				opts = append(opts, anyllmlib.WithAPIKey(cfg.APIKey))
			}
			if cfg.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(cfg.BaseURL))
			}
			return newLLMBackend(providerName, opts...)
		})
	}

	// Debug log of all registered providers.
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// newLLMBackend creates the underlying any-llm provider for the given name.
func newLLMBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, config.ErrProviderNotRegistered
	}
}
