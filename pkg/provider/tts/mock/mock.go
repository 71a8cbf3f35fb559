// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    Speech: &tts.Speech{Data: pcm, Encoding: tts.EncodingPCM, Format: f},
//	}
//	sp, _ := p.Synthesize(ctx, "hello", "en-US-AriaNeural")
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/echo/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the voice passed to Synthesize.
	Voice string
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Speech is returned by Synthesize when Err is nil. A nil Speech yields an
	// empty PCM payload.
	Speech *tts.Speech

	// Err, if non-nil, is returned from Synthesize.
	Err error

	// Calls records every Synthesize invocation in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns Speech, Err.
func (p *Provider) Synthesize(ctx context.Context, text, voice string) (*tts.Speech, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, SynthesizeCall{Text: text, Voice: voice})
	if p.Err != nil {
		return nil, p.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.Speech == nil {
		return &tts.Speech{Encoding: tts.EncodingPCM}, nil
	}
	out := *p.Speech
	return &out, nil
}

// CallCount returns the number of Synthesize calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ tts.Provider = (*Provider)(nil)
