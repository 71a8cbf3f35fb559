// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider turns one reply text into one encoded audio payload in a
// fixed voice. The payload may be MP3, WAV or raw PCM depending on the
// backend; [Speech] records which so the playback layer can decode it.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/echo/pkg/audio"
)

// Encoding identifies the container of a synthesised payload.
type Encoding string

const (
	EncodingMP3 Encoding = "mp3"
	EncodingWAV Encoding = "wav"
	EncodingPCM Encoding = "pcm"
)

// Ext returns the file extension (with dot) used for scratch files.
func (e Encoding) Ext() string {
	switch e {
	case EncodingMP3:
		return ".mp3"
	case EncodingWAV:
		return ".wav"
	default:
		return ".pcm"
	}
}

// Speech is a synthesised utterance.
type Speech struct {
	// Data is the encoded audio payload.
	Data []byte

	// Encoding is the container of Data.
	Encoding Encoding

	// Format describes raw PCM payloads. For MP3 and WAV the container carries
	// its own format and this field may be zero.
	Format audio.Format
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text in the given voice and returns the complete
	// payload. voice is a provider-specific identifier; an empty voice selects
	// the provider default.
	//
	// Returns an error if the backend rejects the request, the connection
	// fails, or ctx is cancelled.
	Synthesize(ctx context.Context, text, voice string) (*Speech, error)
}
