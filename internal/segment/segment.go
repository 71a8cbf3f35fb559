// Package segment turns a stream of classified audio frames into utterances.
//
// The Segmenter is a two-state machine. In [StateIdle] non-speech frames are
// dropped and the first speech frame opens a new utterance. In
// [StateRecording] every frame is buffered; speech frames reset the silence
// counter and non-speech frames advance it. Once the counter exceeds the
// configured hangover the buffered frames are emitted as one [Utterance] and
// the machine returns to idle.
//
// Any speech frame inside the hangover window restarts the count, so short
// pauses stay inside one utterance.
//
// A Segmenter is not safe for concurrent use. It performs no I/O and never
// fails.
package segment

import (
	"bytes"
	"fmt"
	"time"

	"github.com/MrWong99/echo/pkg/audio"
)

// State is the segmenter's current mode.
type State int

const (
	// StateIdle waits for the first speech frame.
	StateIdle State = iota

	// StateRecording buffers frames until the hangover is exceeded.
	StateRecording
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config parameterises a Segmenter.
type Config struct {
	// SilenceFrames is the hangover threshold. An utterance is emitted on the
	// non-speech frame that takes the silence counter above this value, so
	// SilenceFrames+1 non-speech frames are needed to close it. The reference
	// deployment uses 25 (750 ms of 30 ms frames).
	SilenceFrames int

	// MaxFrames caps the utterance length. When the buffer reaches MaxFrames
	// the utterance is emitted early with Forced set. Zero disables the cap.
	MaxFrames int
}

// FramesFor derives frame counts from durations. hangover and maxLen are
// rounded down to whole frames; a zero maxLen yields zero (unlimited).
func FramesFor(frame, hangover, maxLen time.Duration) Config {
	if frame <= 0 {
		return Config{}
	}
	return Config{
		SilenceFrames: int(hangover / frame),
		MaxFrames:     int(maxLen / frame),
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.SilenceFrames < 0 {
		return fmt.Errorf("segment: silence frames must not be negative, got %d", c.SilenceFrames)
	}
	if c.MaxFrames < 0 {
		return fmt.Errorf("segment: max frames must not be negative, got %d", c.MaxFrames)
	}
	return nil
}

// Utterance is one contiguous span of speech closed by the hangover (or the
// length cap). Frames runs from the first speech frame through the frame that
// closed the utterance, including the trailing silence.
type Utterance struct {
	// Frames are the buffered frames in capture order.
	Frames []audio.Frame

	// SpeechFrames counts the frames that were classified as speech. Always
	// at least one.
	SpeechFrames int

	// Forced is set when the utterance was cut at the length cap rather than
	// closed by silence.
	Forced bool
}

// Len returns the number of frames.
func (u Utterance) Len() int { return len(u.Frames) }

// Format returns the format of the first frame, or the zero Format for an
// empty utterance.
func (u Utterance) Format() audio.Format {
	if len(u.Frames) == 0 {
		return audio.Format{}
	}
	return u.Frames[0].Format
}

// Duration returns the total audio duration.
func (u Utterance) Duration() time.Duration {
	var d time.Duration
	for _, f := range u.Frames {
		d += f.Duration()
	}
	return d
}

// PCM concatenates the frame payloads in order.
func (u Utterance) PCM() []byte {
	n := 0
	for _, f := range u.Frames {
		n += len(f.Data)
	}
	var buf bytes.Buffer
	buf.Grow(n)
	for _, f := range u.Frames {
		buf.Write(f.Data)
	}
	return buf.Bytes()
}

// Segmenter is the utterance state machine.
type Segmenter struct {
	cfg Config

	state   State
	buf     []audio.Frame
	speech  int
	silence int
}

// New returns a Segmenter in [StateIdle]. Negative values in cfg are treated
// as zero.
func New(cfg Config) *Segmenter {
	cfg.SilenceFrames = max(cfg.SilenceFrames, 0)
	cfg.MaxFrames = max(cfg.MaxFrames, 0)
	return &Segmenter{cfg: cfg}
}

// Push feeds one classified frame. It returns the completed utterance and
// true when this frame closed one; otherwise it returns false.
func (s *Segmenter) Push(f audio.Frame, speech bool) (Utterance, bool) {
	if s.state == StateIdle {
		if !speech {
			return Utterance{}, false
		}
		s.state = StateRecording
		s.buf = []audio.Frame{f}
		s.speech = 1
		s.silence = 0
		return s.capped()
	}

	s.buf = append(s.buf, f)
	if speech {
		s.speech++
		s.silence = 0
	} else {
		s.silence++
		if s.silence > s.cfg.SilenceFrames {
			return s.emit(false), true
		}
	}
	return s.capped()
}

func (s *Segmenter) capped() (Utterance, bool) {
	if s.cfg.MaxFrames > 0 && len(s.buf) >= s.cfg.MaxFrames {
		return s.emit(true), true
	}
	return Utterance{}, false
}

func (s *Segmenter) emit(forced bool) Utterance {
	u := Utterance{Frames: s.buf, SpeechFrames: s.speech, Forced: forced}
	s.state = StateIdle
	s.buf = nil
	s.speech = 0
	s.silence = 0
	return u
}

// State returns the current mode.
func (s *Segmenter) State() State { return s.state }

// Buffered returns how many frames are held for the open utterance.
func (s *Segmenter) Buffered() int { return len(s.buf) }

// Reset discards any open utterance and returns to [StateIdle].
func (s *Segmenter) Reset() {
	s.state = StateIdle
	s.buf = nil
	s.speech = 0
	s.silence = 0
}
