// Package stt defines the Transcriber interface for speech-to-text backends.
//
// Unlike continuously streaming recognizers, transcription here is
// utterance-scoped: the voice activity detector delimits a complete spoken
// utterance as raw PCM, and the whole buffer is submitted in one call. That
// matches the turn model — nothing downstream can act before the utterance is
// complete — and lets a hosted recognizer and a local fallback share one
// interface.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout indicates that the transcription backend did not answer within
// the configured deadline. Callers holding a local fallback should retry
// against it; without one the turn fails spoken-error-first, not silently.
var ErrTimeout = errors.New("stt: transcription timed out")

// Utterance is one complete spoken segment as delimited by the voice activity
// detector: raw 16-bit little-endian signed PCM.
type Utterance struct {
	// PCM is the raw audio. Length should be even (two bytes per sample).
	PCM []byte

	// SampleRate is the sample rate in Hz, e.g. 16000.
	SampleRate int

	// Channels is the channel count; 1 for the capture path.
	Channels int
}

// Duration returns the audio duration represented by the PCM buffer.
// It returns 0 for malformed (zero-rate or zero-channel) utterances.
func (u Utterance) Duration() time.Duration {
	if u.SampleRate <= 0 || u.Channels <= 0 {
		return 0
	}
	samples := len(u.PCM) / (2 * u.Channels)
	return time.Duration(samples) * time.Second / time.Duration(u.SampleRate)
}

// Transcriber is the abstraction over any speech-to-text backend.
//
// Transcribe returns the recognized text for the utterance, trimmed of
// leading and trailing whitespace. An utterance the backend hears as silence
// yields an empty string and a nil error — absence of speech is not a
// failure. Implementations must respect ctx cancellation promptly: a
// cancelled transcription belongs to an abandoned turn and its result will be
// discarded.
type Transcriber interface {
	Transcribe(ctx context.Context, utterance Utterance) (string, error)
}
