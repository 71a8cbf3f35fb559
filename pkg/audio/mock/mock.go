// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Sink] for use in unit tests.
//
// Both mocks are safe for concurrent use. They record calls so tests can
// assert on them, and expose exported fields that control return values.
//
// Typical usage:
//
//	src := &mock.Source{Frames: frames, FormatResult: audio.Format{SampleRate: 48000, Channels: 1}}
//	sink := &mock.Sink{FormatResult: audio.Format{SampleRate: 48000, Channels: 2}}
package mock

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/MrWong99/echo/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock [audio.Source] that replays a fixed list of frames.
type Source struct {
	mu sync.Mutex

	// Frames are returned by ReadFrame in order.
	Frames []audio.Frame

	// FormatResult is returned by Format.
	FormatResult audio.Format

	// Err is returned by ReadFrame once Frames are exhausted. When nil,
	// ReadFrame blocks until ctx is cancelled or Close is called, which
	// mimics a live microphone that has simply gone quiet.
	Err error

	// Interval, when positive, delays each ReadFrame to emulate real-time
	// capture.
	Interval time.Duration

	// CloseError is returned by Close.
	CloseError error

	// CallCountReadFrame records how many times ReadFrame was called.
	CallCountReadFrame int

	// CallCountClose records how many times Close was called.
	CallCountClose int

	next   int
	closed chan struct{}
	once   sync.Once
}

func (s *Source) done() chan struct{} {
	s.once.Do(func() { s.closed = make(chan struct{}) })
	return s.closed
}

// ReadFrame implements [audio.Source].
func (s *Source) ReadFrame(ctx context.Context) (audio.Frame, error) {
	done := s.done()

	s.mu.Lock()
	s.CallCountReadFrame++
	interval := s.Interval
	s.mu.Unlock()

	if interval > 0 {
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return audio.Frame{}, ctx.Err()
		case <-done:
			return audio.Frame{}, audio.ErrDeviceClosed
		}
	}

	s.mu.Lock()
	if s.next < len(s.Frames) {
		f := s.Frames[s.next]
		s.next++
		s.mu.Unlock()
		return f, nil
	}
	err := s.Err
	s.mu.Unlock()

	if err != nil {
		return audio.Frame{}, err
	}
	select {
	case <-ctx.Done():
		return audio.Frame{}, ctx.Err()
	case <-done:
		return audio.Frame{}, audio.ErrDeviceClosed
	}
}

// Remaining returns how many scripted frames have not been read yet.
func (s *Source) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames) - s.next
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FormatResult
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	done := s.done()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	select {
	case <-done:
	default:
		close(done)
	}
	return s.CloseError
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock [audio.Sink] that records every buffer passed to Play.
type Sink struct {
	mu sync.Mutex

	// FormatResult is returned by Format.
	FormatResult audio.Format

	// PlayError is returned by Play.
	PlayError error

	// PlayDelay, when positive, makes Play block for that long (or until ctx
	// is cancelled).
	PlayDelay time.Duration

	// OnPlay, when set, is invoked at the start of every Play call.
	OnPlay func(pcm []byte)

	// Played holds a copy of every buffer passed to Play, in call order.
	Played [][]byte

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Play implements [audio.Sink].
func (s *Sink) Play(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	s.Played = append(s.Played, append([]byte(nil), pcm...))
	delay, err, hook := s.PlayDelay, s.PlayError, s.OnPlay
	s.mu.Unlock()

	if hook != nil {
		hook(pcm)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// PlayCount returns how many times Play was called.
func (s *Sink) PlayCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Played)
}

// Format implements [audio.Sink].
func (s *Sink) Format() audio.Format {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FormatResult
}

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

var (
	_ audio.Source = (*Source)(nil)
	_ audio.Sink   = (*Sink)(nil)
	_ io.Closer    = (*Sink)(nil)
)
