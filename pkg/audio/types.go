package audio

import (
	"fmt"
	"time"
)

// BytesPerSample is fixed: every PCM buffer in Echo is 16-bit signed
// little-endian.
const BytesPerSample = 2

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "48000Hz mono".
func (f Format) String() string {
	return formatString(f.SampleRate, f.Channels)
}

// Validate reports whether f describes a usable PCM layout.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("audio: sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("audio: channel count must be positive, got %d", f.Channels)
	}
	return nil
}

// BytesPerMs returns the number of PCM bytes covering one millisecond.
func (f Format) BytesPerMs() int {
	return f.SampleRate * f.Channels * BytesPerSample / 1000
}

// FrameBytes returns the byte length of a frame lasting frameMs milliseconds.
func (f Format) FrameBytes(frameMs int) int {
	return f.SampleRate * frameMs / 1000 * f.Channels * BytesPerSample
}

// Duration returns the playback duration of n PCM bytes in this format.
func (f Format) Duration(n int) time.Duration {
	perSec := f.SampleRate * f.Channels * BytesPerSample
	if perSec <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(perSec))
}

// Frame is a fixed-duration block of captured PCM audio. Frames are treated
// as immutable once they leave the capture device: consumers must not modify
// Data.
type Frame struct {
	// Data holds the raw 16-bit little-endian PCM samples.
	Data []byte

	// Format is the layout of Data.
	Format Format

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	return f.Format.Duration(len(f.Data))
}
