// Package energy implements a frame classifier that labels frames by their
// RMS amplitude.
//
// The four aggressiveness modes mirror the WebRTC VAD levels: mode 0 accepts
// quiet speech and more background noise, mode 3 requires clearly voiced
// input. A short release counter keeps a frame or two of decaying speech
// labelled as speech so word endings do not flicker.
package energy

import (
	"errors"
	"fmt"

	"github.com/MrWong99/echo/pkg/audio"
	"github.com/MrWong99/echo/pkg/provider/vad"
)

// ModeThresholds are the RMS levels (normalised to [0, 1]) at or above which a
// frame counts as speech, indexed by mode.
var ModeThresholds = [4]float64{0.004, 0.008, 0.015, 0.025}

// Option configures an [Engine].
type Option func(*Engine)

// WithRelease sets how many frames below threshold are still labelled speech
// after a speech frame. Zero disables smoothing.
func WithRelease(frames int) Option {
	return func(e *Engine) { e.release = frames }
}

// Engine is the energy classifier factory.
type Engine struct {
	release int
}

// New returns a classifier engine. By default no release smoothing is
// applied, so every frame is judged on its own energy.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, o := range opts {
		o(e)
	}
	return e
}

// NewSession implements [vad.Engine].
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = ModeThresholds[cfg.Mode]
	}
	return &session{
		frameBytes: cfg.FrameBytes(),
		threshold:  threshold,
		release:    e.release,
	}, nil
}

var errClosed = errors.New("energy: session closed")

type session struct {
	frameBytes int
	threshold  float64
	release    int

	hold   int
	closed bool
}

func (s *session) ProcessFrame(frame []byte) (vad.Event, error) {
	if s.closed {
		return vad.Event{}, errClosed
	}
	if len(frame) != s.frameBytes {
		return vad.Event{}, fmt.Errorf("energy: frame is %d bytes, want %d", len(frame), s.frameBytes)
	}
	rms := audio.RMS(frame)
	p := min(rms/(2*s.threshold), 1)

	if rms >= s.threshold {
		s.hold = s.release
		return vad.Event{Speech: true, Probability: p}, nil
	}
	if s.hold > 0 {
		s.hold--
		return vad.Event{Speech: true, Probability: p}, nil
	}
	return vad.Event{Probability: p}, nil
}

func (s *session) Reset() { s.hold = 0 }

func (s *session) Close() error {
	s.closed = true
	return nil
}

var _ vad.Engine = (*Engine)(nil)
