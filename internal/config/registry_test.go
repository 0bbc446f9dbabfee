package config

import (
	"errors"
	"testing"

	"github.com/voxline/voxgate/pkg/asr"
	asrmock "github.com/voxline/voxgate/pkg/asr/mock"
	"github.com/voxline/voxgate/pkg/tts"
	ttsmock "github.com/voxline/voxgate/pkg/tts/mock"
)

func TestRegistry_CreateASR(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	want := &asrmock.Provider{}
	var gotCfg ASRConfig
	reg.RegisterASR("azure", func(cfg ASRConfig) (asr.Provider, error) {
		gotCfg = cfg
		return want, nil
	})

	p, err := reg.CreateASR(ASRConfig{Provider: "azure", Region: "westeurope"})
	if err != nil {
		t.Fatalf("CreateASR() = %v", err)
	}
	if p != want {
		t.Error("CreateASR() returned a different provider")
	}
	if gotCfg.Region != "westeurope" {
		t.Errorf("factory config = %+v", gotCfg)
	}
}

func TestRegistry_CreateTTS(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	want := &ttsmock.Provider{}
	reg.RegisterTTS("openai", func(TTSConfig) (tts.Provider, error) { return want, nil })

	p, err := reg.CreateTTS("openai", TTSConfig{APIKey: "sk-123"})
	if err != nil {
		t.Fatalf("CreateTTS() = %v", err)
	}
	if p != want {
		t.Error("CreateTTS() returned a different provider")
	}
}

func TestRegistry_UnregisteredProvider(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()

	if _, err := reg.CreateASR(ASRConfig{Provider: "nope"}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateASR() = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateTTS("nope", TTSConfig{}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateTTS() = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := reg.CreateLLM(LLMConfig{Provider: "nope"}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateLLM() = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistry_FactoryErrorPropagates(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	boom := errors.New("bad credentials")
	reg.RegisterASR("azure", func(ASRConfig) (asr.Provider, error) { return nil, boom })

	if _, err := reg.CreateASR(ASRConfig{Provider: "azure"}); !errors.Is(err, boom) {
		t.Errorf("CreateASR() = %v, want the factory error", err)
	}
}

func TestRegistry_ReRegisterOverwrites(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	first := &asrmock.Provider{}
	second := &asrmock.Provider{}
	reg.RegisterASR("azure", func(ASRConfig) (asr.Provider, error) { return first, nil })
	reg.RegisterASR("azure", func(ASRConfig) (asr.Provider, error) { return second, nil })

	p, err := reg.CreateASR(ASRConfig{Provider: "azure"})
	if err != nil {
		t.Fatalf("CreateASR() = %v", err)
	}
	if p != second {
		t.Error("CreateASR() did not use the latest registration")
	}
}
