package providers_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrWong99/echo/internal/config"
	"github.com/MrWong99/echo/internal/providers"
	"github.com/MrWong99/echo/pkg/provider/llm"
	llmmock "github.com/MrWong99/echo/pkg/provider/llm/mock"
	"github.com/MrWong99/echo/pkg/provider/stt"
	sttmock "github.com/MrWong99/echo/pkg/provider/stt/mock"
	"github.com/MrWong99/echo/pkg/provider/tts"
	ttsmock "github.com/MrWong99/echo/pkg/provider/tts/mock"
)

func TestRegisterBuiltins_Names(t *testing.T) {
	reg := config.NewRegistry()
	providers.RegisterBuiltins(reg)

	for kind, want := range providers.Builtin {
		got := reg.Names(kind)
		assert.ElementsMatch(t, want, got, "kind %s", kind)
	}
}

func TestRegisterBuiltins_CreatesHostedProviders(t *testing.T) {
	reg := config.NewRegistry()
	providers.RegisterBuiltins(reg)

	_, err := reg.CreateSTT(config.ProviderEntry{Name: "groq", APIKey: "gsk", Model: "whisper-large-v3"})
	require.NoError(t, err)
	_, err = reg.CreateSTT(config.ProviderEntry{Name: "whisper", BaseURL: "http://localhost:8080"})
	require.NoError(t, err)
	_, err = reg.CreateLLM(config.ProviderEntry{Name: "openai", APIKey: "sk", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	_, err = reg.CreateTTS(config.ProviderEntry{Name: "openai", APIKey: "sk", Options: map[string]any{"speed": 1.25}})
	require.NoError(t, err)
	_, err = reg.CreateTTS(config.ProviderEntry{Name: "elevenlabs", APIKey: "xi"})
	require.NoError(t, err)
}

func TestRegisterBuiltins_RejectsBadEntries(t *testing.T) {
	reg := config.NewRegistry()
	providers.RegisterBuiltins(reg)

	tests := []struct {
		name string
		fn   func() error
	}{
		{"stt without key", func() error {
			_, err := reg.CreateSTT(config.ProviderEntry{Name: "openai", Model: "whisper-1"})
			return err
		}},
		{"whisper without url", func() error {
			_, err := reg.CreateSTT(config.ProviderEntry{Name: "whisper"})
			return err
		}},
		{"tts bad encoding", func() error {
			_, err := reg.CreateTTS(config.ProviderEntry{Name: "openai", APIKey: "sk", Options: map[string]any{"encoding": "ogg"}})
			return err
		}},
		{"elevenlabs non-pcm output", func() error {
			_, err := reg.CreateTTS(config.ProviderEntry{Name: "elevenlabs", APIKey: "xi", Options: map[string]any{"output_format": "mp3_44100"}})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.fn())
		})
	}
}

func TestBuildSTT_FallsBackInOrder(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("rate limited")}
	backup := &sttmock.Provider{Result: stt.Transcript{Text: "hello"}}

	reg := config.NewRegistry()
	reg.RegisterSTT("primary", func(config.ProviderEntry) (stt.Provider, error) { return primary, nil })
	reg.RegisterSTT("backup", func(config.ProviderEntry) (stt.Provider, error) { return backup, nil })

	p, err := providers.BuildSTT(reg, config.ProvidersConfig{
		STT: config.ProviderEntry{Name: "primary", Fallbacks: []config.ProviderEntry{{Name: "backup"}}},
	})
	require.NoError(t, err)

	got, err := p.Transcribe(context.Background(), stt.Request{Audio: bytes.NewReader([]byte("RIFF"))})
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Text)
	require.Len(t, backup.Calls, 1)
	assert.Equal(t, []byte("RIFF"), backup.Calls[0].Audio, "fallback must see the full audio")
}

func TestBuildLLM_WithoutFallbacksReturnsPrimary(t *testing.T) {
	primary := &llmmock.Provider{}
	reg := config.NewRegistry()
	reg.RegisterLLM("only", func(config.ProviderEntry) (llm.Provider, error) { return primary, nil })

	p, err := providers.BuildLLM(reg, config.ProvidersConfig{LLM: config.ProviderEntry{Name: "only"}})
	require.NoError(t, err)
	assert.Same(t, primary, p)
}

func TestBuildTTS_FallbackUsesOwnVoice(t *testing.T) {
	primary := &ttsmock.Provider{Err: errors.New("down")}
	backup := &ttsmock.Provider{Speech: &tts.Speech{Data: []byte{1, 2}, Encoding: tts.EncodingPCM}}

	reg := config.NewRegistry()
	reg.RegisterTTS("a", func(config.ProviderEntry) (tts.Provider, error) { return primary, nil })
	reg.RegisterTTS("b", func(config.ProviderEntry) (tts.Provider, error) { return backup, nil })

	p, err := providers.BuildTTS(reg, config.ProvidersConfig{
		TTS: config.ProviderEntry{Name: "a", Fallbacks: []config.ProviderEntry{
			{Name: "b", Options: map[string]any{"voice": "rachel"}},
		}},
	})
	require.NoError(t, err)

	_, err = p.Synthesize(context.Background(), "hi", "alloy")
	require.NoError(t, err)
	require.Len(t, backup.Calls, 1)
	assert.Equal(t, "rachel", backup.Calls[0].Voice)
}

func TestBuild_UnknownProvider(t *testing.T) {
	reg := config.NewRegistry()
	_, err := providers.BuildLLM(reg, config.ProvidersConfig{LLM: config.ProviderEntry{Name: "nope"}})
	assert.ErrorIs(t, err, config.ErrProviderNotRegistered)

	_, err = providers.BuildSTT(reg, config.ProvidersConfig{})
	assert.Error(t, err, "empty provider name must fail")
}

func TestNewVADSession_Energy(t *testing.T) {
	reg := config.NewRegistry()
	providers.RegisterBuiltins(reg)

	sess, err := providers.NewVADSession(reg, config.ProviderEntry{Name: "energy", Options: map[string]any{"mode": 3}}, 48000, 30)
	require.NoError(t, err)
	defer sess.Close()

	ev, err := sess.ProcessFrame(make([]byte, 48000*30/1000*2))
	require.NoError(t, err)
	assert.False(t, ev.Speech, "digital silence is not speech")

	_, err = providers.NewVADSession(reg, config.ProviderEntry{Name: "energy", Options: map[string]any{"mode": 9}}, 48000, 30)
	assert.Error(t, err)
}
