// Package playback speaks assistant replies through the output device.
//
// [Speaker.Speak] is fire-and-forget from the caller's point of view: every
// failure is logged and swallowed so the client always returns to listening.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/echo/internal/observe"
	"github.com/MrWong99/echo/internal/scratch"
	"github.com/MrWong99/echo/pkg/audio"
	"github.com/MrWong99/echo/pkg/provider/tts"
)

// Config configures a [Speaker].
type Config struct {
	// Voice is passed to every synthesis call. Empty selects the provider
	// default.
	Voice string

	// ScratchDir holds the transient payload file. Empty uses the OS temp dir.
	ScratchDir string

	// ProviderName labels metrics. Default: "tts".
	ProviderName string
}

// Option configures a [Speaker].
type Option func(*Speaker)

// WithMetrics records to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Speaker) { s.metrics = m }
}

// Speaker renders text through a TTS provider onto an audio sink.
// Calls are serialised by the caller; a Speaker plays one reply at a time.
type Speaker struct {
	tts      tts.Provider
	sink     audio.Sink
	cfg      Config
	metrics  *observe.Metrics
	speaking atomic.Bool
}

// New creates a Speaker.
func New(p tts.Provider, sink audio.Sink, cfg Config, opts ...Option) *Speaker {
	if cfg.ProviderName == "" {
		cfg.ProviderName = "tts"
	}
	s := &Speaker{tts: p, sink: sink, cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Speaking reports whether a reply is being synthesised or played.
func (s *Speaker) Speaking() bool { return s.speaking.Load() }

// Speak synthesises text and plays it to completion. Empty text is a no-op.
// Errors are logged, never returned.
func (s *Speaker) Speak(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.speaking.Store(true)
	defer s.speaking.Store(false)

	if err := s.speak(ctx, text); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Debug("playback cancelled")
			return
		}
		slog.Warn("playback failed", "err", err, "chars", len(text))
	}
}

func (s *Speaker) speak(ctx context.Context, text string) error {
	start := time.Now()
	speech, err := s.tts.Synthesize(ctx, text, s.cfg.Voice)
	s.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, s.cfg.ProviderName, "tts", observe.StatusError)
		s.metrics.RecordProviderError(ctx, s.cfg.ProviderName, "tts")
		return fmt.Errorf("synthesize: %w", err)
	}
	s.metrics.RecordProviderRequest(ctx, s.cfg.ProviderName, "tts", observe.StatusOK)
	if len(speech.Data) == 0 {
		return errors.New("synthesize: empty payload")
	}

	return scratch.WithFile(s.cfg.ScratchDir, "echo-reply-*"+speech.Encoding.Ext(), speech.Data, func(path string) error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		pcm, format, err := Decode(f, speech.Encoding, speech.Format)
		if err != nil {
			return err
		}
		return s.play(ctx, pcm, format)
	})
}

// PlayFile plays a local .wav or .mp3 file, such as the welcome prompt.
func (s *Speaker) PlayFile(ctx context.Context, path string) error {
	pcm, format, err := DecodeFile(path)
	if err != nil {
		return err
	}
	s.speaking.Store(true)
	defer s.speaking.Store(false)
	return s.play(ctx, pcm, format)
}

func (s *Speaker) play(ctx context.Context, pcm []byte, from audio.Format) error {
	out, err := audio.Convert(pcm, from, s.sink.Format())
	if err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	if len(out) == 0 {
		return nil
	}
	if err := s.sink.Play(ctx, out); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	return nil
}
