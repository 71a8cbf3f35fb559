package resilience

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/MrWong99/echo/pkg/provider/stt"
)

// STTFallback implements [stt.Provider] with failover across backends.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) {
	f.group.AddFallback(name, p)
}

// Transcribe buffers the request audio once so each attempt reads it from
// the start.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	var data []byte
	if req.Audio != nil {
		b, err := io.ReadAll(req.Audio)
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("stt fallback: read audio: %w", err)
		}
		data = b
	}
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p stt.Provider) (stt.Transcript, error) {
		attempt := req
		attempt.Audio = bytes.NewReader(data)
		return p.Transcribe(ctx, attempt)
	})
}
