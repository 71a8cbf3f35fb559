// Package providers wires the built-in provider implementations into a
// [config.Registry] and assembles the configured providers, with their
// fallback chains, for the server and client binaries.
package providers

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/echo/internal/config"
	"github.com/MrWong99/echo/internal/resilience"
	"github.com/MrWong99/echo/pkg/provider/llm"
	"github.com/MrWong99/echo/pkg/provider/llm/anyllm"
	llmopenai "github.com/MrWong99/echo/pkg/provider/llm/openai"
	"github.com/MrWong99/echo/pkg/provider/stt"
	sttopenai "github.com/MrWong99/echo/pkg/provider/stt/openai"
	"github.com/MrWong99/echo/pkg/provider/stt/whisper"
	"github.com/MrWong99/echo/pkg/provider/tts"
	"github.com/MrWong99/echo/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/MrWong99/echo/pkg/provider/tts/openai"
	"github.com/MrWong99/echo/pkg/provider/vad"
	"github.com/MrWong99/echo/pkg/provider/vad/energy"
)

// GroqBaseURL is Groq's OpenAI-compatible endpoint.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// Builtin lists the provider names [RegisterBuiltins] installs, per kind.
var Builtin = map[string][]string{
	"stt": {"groq", "openai", "whisper"},
	"llm": {"groq", "openai", "anthropic", "gemini", "deepseek", "mistral", "ollama", "llamacpp"},
	"tts": {"openai", "elevenlabs"},
	"vad": {"energy"},
}

// RegisterBuiltins installs every built-in factory into reg.
func RegisterBuiltins(reg *config.Registry) {
	// ── STT ───────────────────────────────────────────────────────────────────
	// groq and openai share the OpenAI transcription API.
	reg.RegisterSTT("groq", func(e config.ProviderEntry) (stt.Provider, error) {
		return newOpenAISTT(e, GroqBaseURL)
	})
	reg.RegisterSTT("openai", func(e config.ProviderEntry) (stt.Provider, error) {
		return newOpenAISTT(e, "")
	})
	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if lang := config.OptString(e.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(e.BaseURL, opts...)
	})

	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(e.BaseURL))
		}
		if org := config.OptString(e.Options, "organization"); org != "" {
			opts = append(opts, llmopenai.WithOrganization(org))
		}
		if d := optDuration(e.Options, "timeout"); d > 0 {
			opts = append(opts, llmopenai.WithTimeout(d))
		}
		return llmopenai.New(e.APIKey, e.Model, opts...)
	})
	for _, name := range []string{"groq", "anthropic", "gemini", "deepseek", "mistral"} {
		reg.RegisterLLM(name, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(name, e.Model, opts...)
		})
	}
	// Local servers take an address, not a key.
	for _, name := range []string{"ollama", "llamacpp"} {
		reg.RegisterLLM(name, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(name, e.Model, opts...)
		})
	}

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("openai", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if e.Model != "" {
			opts = append(opts, ttsopenai.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(e.BaseURL))
		}
		if v := config.OptString(e.Options, "voice"); v != "" {
			opts = append(opts, ttsopenai.WithDefaultVoice(v))
		}
		if enc := config.OptString(e.Options, "encoding"); enc != "" {
			opts = append(opts, ttsopenai.WithEncoding(tts.Encoding(enc)))
		}
		if s := config.OptFloat(e.Options, "speed", 0); s != 0 {
			opts = append(opts, ttsopenai.WithSpeed(s))
		}
		if d := optDuration(e.Options, "timeout"); d > 0 {
			opts = append(opts, ttsopenai.WithTimeout(d))
		}
		return ttsopenai.New(e.APIKey, opts...)
	})
	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(e.BaseURL))
		}
		if f := config.OptString(e.Options, "output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		if v := config.OptString(e.Options, "voice"); v != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(v))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})

	// ── VAD ───────────────────────────────────────────────────────────────────
	reg.RegisterVAD("energy", func(e config.ProviderEntry) (vad.Engine, error) {
		return energy.New(energy.WithRelease(config.OptInt(e.Options, "release", 0))), nil
	})

	for kind, names := range Builtin {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

func newOpenAISTT(e config.ProviderEntry, defaultBase string) (stt.Provider, error) {
	var opts []sttopenai.Option
	base := e.BaseURL
	if base == "" {
		base = defaultBase
	}
	if base != "" {
		opts = append(opts, sttopenai.WithBaseURL(base))
	}
	if d := optDuration(e.Options, "timeout"); d > 0 {
		opts = append(opts, sttopenai.WithTimeout(d))
	}
	return sttopenai.New(e.APIKey, e.Model, opts...)
}

// optDuration reads a duration option written either as a Go duration string
// ("20s") or as whole seconds.
func optDuration(opts map[string]any, key string) time.Duration {
	if s := config.OptString(opts, key); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			slog.Warn("ignoring malformed duration option", "key", key, "value", s)
			return 0
		}
		return d
	}
	if n := config.OptInt(opts, key, 0); n > 0 {
		return time.Duration(n) * time.Second
	}
	return 0
}

func fallbackConfig(r config.ResilienceConfig, name string) resilience.FallbackConfig {
	return resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  r.MaxFailures,
		ResetTimeout: r.ResetTimeout,
	}}
}

// BuildSTT creates the configured STT provider. When fallbacks are declared
// the result is a [resilience.STTFallback] trying them in order.
func BuildSTT(reg *config.Registry, p config.ProvidersConfig) (stt.Provider, error) {
	primary, err := create("stt", p.STT, reg.CreateSTT)
	if err != nil || len(p.STT.Fallbacks) == 0 {
		return primary, err
	}
	fb := resilience.NewSTTFallback(primary, p.STT.Name, fallbackConfig(p.Resilience, "stt"))
	for _, e := range p.STT.Fallbacks {
		alt, err := create("stt", e, reg.CreateSTT)
		if err != nil {
			return nil, err
		}
		fb.AddFallback(e.Name, alt)
	}
	return fb, nil
}

// BuildLLM creates the configured LLM provider, wrapped in a
// [resilience.LLMFallback] when fallbacks are declared.
func BuildLLM(reg *config.Registry, p config.ProvidersConfig) (llm.Provider, error) {
	primary, err := create("llm", p.LLM, reg.CreateLLM)
	if err != nil || len(p.LLM.Fallbacks) == 0 {
		return primary, err
	}
	fb := resilience.NewLLMFallback(primary, p.LLM.Name, fallbackConfig(p.Resilience, "llm"))
	for _, e := range p.LLM.Fallbacks {
		alt, err := create("llm", e, reg.CreateLLM)
		if err != nil {
			return nil, err
		}
		fb.AddFallback(e.Name, alt)
	}
	return fb, nil
}

// BuildTTS creates the configured TTS provider, wrapped in a
// [resilience.TTSFallback] when fallbacks are declared. Each fallback speaks
// with its own "voice" option because voice identifiers are vendor specific.
func BuildTTS(reg *config.Registry, p config.ProvidersConfig) (tts.Provider, error) {
	primary, err := create("tts", p.TTS, reg.CreateTTS)
	if err != nil || len(p.TTS.Fallbacks) == 0 {
		return primary, err
	}
	fb := resilience.NewTTSFallback(primary, p.TTS.Name, fallbackConfig(p.Resilience, "tts"))
	for _, e := range p.TTS.Fallbacks {
		alt, err := create("tts", e, reg.CreateTTS)
		if err != nil {
			return nil, err
		}
		fb.AddFallback(e.Name, alt, config.OptString(e.Options, "voice"))
	}
	return fb, nil
}

// NewVADSession creates the configured classifier engine and opens a
// session for frames of the given rate and duration. The "mode" option
// selects aggressiveness (default 3) and "threshold" overrides it.
func NewVADSession(reg *config.Registry, e config.ProviderEntry, sampleRate, frameMs int) (vad.SessionHandle, error) {
	eng, err := create("vad", e, reg.CreateVAD)
	if err != nil {
		return nil, err
	}
	sess, err := eng.NewSession(vad.Config{
		SampleRate:  sampleRate,
		FrameSizeMs: frameMs,
		Mode:        config.OptInt(e.Options, "mode", 3),
		Threshold:   config.OptFloat(e.Options, "threshold", 0),
	})
	if err != nil {
		return nil, fmt.Errorf("providers: open vad session: %w", err)
	}
	return sess, nil
}

func create[T any](kind string, e config.ProviderEntry, fn func(config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	if e.Name == "" {
		return zero, fmt.Errorf("providers: no %s provider configured", kind)
	}
	p, err := fn(e)
	if err != nil {
		if errors.Is(err, config.ErrProviderNotRegistered) {
			return zero, err
		}
		return zero, fmt.Errorf("providers: create %s provider %q: %w", kind, e.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", e.Name, "model", e.Model)
	return p, nil
}
