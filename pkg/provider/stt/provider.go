// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider receives one complete recorded utterance (a WAV file) and
// returns its transcript. There is no streaming or partial transcription:
// every request carries the whole utterance and blocks until the backend has
// committed to a result.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"io"
)

// Request describes a single transcription call.
type Request struct {
	// Audio is the encoded audio file. Providers read it to EOF and do not
	// close it.
	Audio io.Reader

	// Filename is the name reported to the backend (e.g., "input.wav"). Some
	// backends infer the container from its extension.
	Filename string

	// ContentType is the MIME type of Audio (e.g., "audio/wav").
	ContentType string

	// Language is the ISO-639-1 language hint (e.g., "en"). Empty lets the
	// provider auto-detect.
	Language string

	// Temperature is the sampling temperature. Zero gives deterministic
	// decoding on backends that honour it.
	Temperature float64
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe uploads the request audio and returns the recognised text.
	// A silent or unintelligible utterance yields a Transcript with empty (or
	// whitespace-only) text and a nil error; callers decide how to treat it.
	//
	// Returns an error on transport failure, a non-success backend response,
	// or when ctx is cancelled.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}
