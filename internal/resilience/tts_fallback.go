package resilience

import (
	"context"

	"github.com/MrWong99/echo/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with failover across backends.
//
// Voices are provider-specific, so a fallback speaks with the voice given to
// AddFallback rather than the caller's.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend. An empty voice selects the backend
// default.
func (f *TTSFallback) AddFallback(name string, p tts.Provider, voice string) {
	f.group.AddFallback(name, fixedVoice{p: p, voice: voice})
}

// Synthesize returns the first successful synthesis.
func (f *TTSFallback) Synthesize(ctx context.Context, text, voice string) (*tts.Speech, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Provider) (*tts.Speech, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// fixedVoice ignores the requested voice in favour of its own.
type fixedVoice struct {
	p     tts.Provider
	voice string
}

func (v fixedVoice) Synthesize(ctx context.Context, text, _ string) (*tts.Speech, error) {
	return v.p.Synthesize(ctx, text, v.voice)
}
