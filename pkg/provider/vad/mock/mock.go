// Package mock provides test doubles for the vad package interfaces.
//
// Use Engine to verify that sessions are created with the expected Config.
// Use Session to script speech labels and inspect the frames that were
// submitted for classification.
//
// Example:
//
//	sess := &mock.Session{Labels: []bool{true, true, false}}
//	eng := &mock.Engine{Session: sess}
//	handle, _ := eng.NewSession(cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/echo/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil, a new default Session is
	// returned.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned from NewSession.
	NewSessionErr error

	// NewSessionCalls records the Config of every NewSession call.
	NewSessionCalls []vad.Config
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Session is a mock implementation of vad.SessionHandle.
//
// ProcessFrame returns the next value from Labels; once Labels is exhausted
// it returns Default. When Classify is set it takes precedence over both.
type Session struct {
	mu sync.Mutex

	// Labels is the scripted sequence of speech labels.
	Labels []bool

	// Default is the label returned after Labels is exhausted.
	Default bool

	// Classify, when set, decides the label from the frame contents.
	Classify func(frame []byte) bool

	// ProcessFrameErr, if non-nil, is returned from every ProcessFrame call.
	ProcessFrameErr error

	// ErrAfter, when positive, makes ProcessFrame return ProcessFrameErr only
	// once that many frames have been classified successfully.
	ErrAfter int

	// Frames records a copy of every frame passed to ProcessFrame.
	Frames [][]byte

	// ResetCallCount is the number of times Reset was called.
	ResetCallCount int

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	next int
}

// ProcessFrame records the frame and returns the next scripted label.
func (s *Session) ProcessFrame(frame []byte) (vad.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ProcessFrameErr != nil && len(s.Frames) >= s.ErrAfter {
		return vad.Event{}, s.ProcessFrameErr
	}
	s.Frames = append(s.Frames, append([]byte(nil), frame...))

	speech := s.Default
	switch {
	case s.Classify != nil:
		speech = s.Classify(frame)
	case s.next < len(s.Labels):
		speech = s.Labels[s.next]
		s.next++
	}
	p := 0.0
	if speech {
		p = 1
	}
	return vad.Event{Speech: speech, Probability: p}, nil
}

// FrameCount returns how many frames were classified.
func (s *Session) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}

// Reset increments ResetCallCount.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCallCount++
}

// Close increments CloseCallCount.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	return nil
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)
