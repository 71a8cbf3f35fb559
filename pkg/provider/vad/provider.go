// Package vad defines the Engine interface for frame classifiers.
//
// A classifier labels each fixed-duration PCM frame as speech or non-speech.
// Engines hand out per-stream sessions so that any smoothing state stays
// local to one audio stream.
//
// Classification is synchronous: ProcessFrame returns immediately, which lets
// the client pipeline call it inline for every captured frame.
//
// Implementations must be safe for concurrent use across different sessions.
// A single SessionHandle must not be shared across goroutines unless the
// implementation documents otherwise.
package vad

import "fmt"

// Config holds the parameters for a classifier session.
type Config struct {
	// SampleRate is the audio sample rate in Hz. Must match the PCM frames
	// passed to ProcessFrame.
	SampleRate int

	// FrameSizeMs is the duration of each frame in milliseconds. ProcessFrame
	// rejects frames of any other size.
	FrameSizeMs int

	// Mode is the aggressiveness level in [0, 3]. Higher modes are stricter
	// about what counts as speech and so filter more background noise.
	Mode int

	// Threshold, when positive, overrides the threshold the engine would derive
	// from Mode. Its scale is engine specific.
	Threshold float64
}

// FrameBytes returns the expected byte length of one mono 16-bit frame.
func (c Config) FrameBytes() int {
	return c.SampleRate * c.FrameSizeMs / 1000 * 2
}

// Validate checks the parts of the config every engine depends on.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("vad: sample rate must be positive, got %d", c.SampleRate)
	}
	if c.FrameSizeMs <= 0 {
		return fmt.Errorf("vad: frame size must be positive, got %d ms", c.FrameSizeMs)
	}
	if c.Mode < 0 || c.Mode > 3 {
		return fmt.Errorf("vad: mode must be in [0, 3], got %d", c.Mode)
	}
	if c.Threshold < 0 {
		return fmt.Errorf("vad: threshold must not be negative, got %v", c.Threshold)
	}
	return nil
}

// Event is the classification of a single frame.
type Event struct {
	// Speech reports whether the frame contains speech.
	Speech bool

	// Probability is the engine's confidence score in [0, 1].
	Probability float64
}

// SessionHandle is an active classifier session for one audio stream.
type SessionHandle interface {
	// ProcessFrame classifies one frame of raw little-endian mono PCM at the
	// configured rate and frame size. A wrong frame size or an engine failure
	// is returned as an error.
	ProcessFrame(frame []byte) (Event, error)

	// Reset clears accumulated detection state without closing the session.
	Reset()

	// Close releases the session. Calling Close more than once is safe.
	Close() error
}

// Engine is the factory for classifier sessions.
type Engine interface {
	// NewSession creates a session ready to accept frames. It returns an error
	// when the configuration is unsupported.
	NewSession(cfg Config) (SessionHandle, error)
}
