package stt

import "time"

// Transcript is the result of one transcription request.
type Transcript struct {
	// Text is the transcribed speech content, as returned by the backend.
	Text string

	// Language is the detected or requested language, when reported.
	Language string

	// Duration is the audio length reported by the backend. Zero if unknown.
	Duration time.Duration
}
