// Package audio defines the PCM types, container helpers and device
// interfaces used by the Echo client and server.
//
// The two device abstractions are:
//
//   - [Source], a blocking reader of fixed-size capture frames (microphone).
//   - [Sink], a blocking PCM renderer (speaker).
//
// Concrete implementations live in audio/device (miniaudio via malgo) and
// audio/mock (tests). The interfaces are intentionally narrow so the client
// pipeline stays decoupled from any audio backend.
package audio

import (
	"context"
	"errors"
)

// ErrDeviceClosed is returned by [Source.ReadFrame] and [Sink.Play] once the
// underlying device has been closed or stopped.
var ErrDeviceClosed = errors.New("audio: device closed")

// Source delivers captured audio frames.
//
// Implementations must be safe for one reader goroutine concurrent with a
// Close call from another goroutine.
type Source interface {
	// ReadFrame blocks until the next frame is captured, ctx is cancelled, or
	// the device fails. Every returned frame has exactly the configured frame
	// size. Device failures are surfaced as errors and are not retried.
	ReadFrame(ctx context.Context) (Frame, error)

	// Format returns the layout of the frames produced by ReadFrame.
	Format() Format

	// Close stops capture and releases the device. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// Sink renders PCM audio on an output device.
type Sink interface {
	// Play renders pcm (in the sink's Format) and blocks until playback has
	// finished or ctx is cancelled.
	Play(ctx context.Context, pcm []byte) error

	// Format returns the PCM layout Play expects.
	Format() Format

	// Close releases the device. Calling Close more than once is safe.
	Close() error
}
