// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Result: stt.Transcript{Text: "hello"}}
//	tr, _ := p.Transcribe(ctx, stt.Request{Audio: r})
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/echo/pkg/provider/stt"
)

// Call records a single invocation of Provider.Transcribe.
type Call struct {
	// Req is the request passed to Transcribe, with Audio consumed.
	Req stt.Request

	// Audio holds the bytes read from Req.Audio.
	Audio []byte
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned from Transcribe when Err is nil.
	Result stt.Transcript

	// Err, if non-nil, is returned from Transcribe.
	Err error

	// OnTranscribe, when set, runs after the audio has been read and before
	// the result is returned. Tests use it to observe side effects (such as a
	// scratch file still existing) while the call is in flight.
	OnTranscribe func(req stt.Request)

	// Calls records every Transcribe invocation in order.
	Calls []Call
}

// Transcribe reads the request audio, records the call, and returns Result, Err.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	var data []byte
	if req.Audio != nil {
		b, err := io.ReadAll(req.Audio)
		if err != nil {
			return stt.Transcript{}, err
		}
		data = b
	}

	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Req: req, Audio: data})
	hook, res, err := p.OnTranscribe, p.Result, p.Err
	p.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	return res, err
}

// CallCount returns the number of Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ stt.Provider = (*Provider)(nil)
