// Package tts defines the Synthesizer interface for text-to-speech backends.
//
// The primary entry point is SynthesizeStream, which accepts a channel of
// text fragments and returns a channel of raw PCM audio bytes as they become
// available. That shape lets the response streamer pipe sentence fragments
// from the language model straight into synthesis, so the user hears the
// first sentence while later ones are still being generated.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Voice selects the synthesis voice and delivery speed.
type Voice struct {
	// ID is the provider-specific voice identifier (e.g., "alloy").
	ID string

	// Speed is a playback-rate multiplier; 0 means the provider default.
	// Blind users routinely run assistive speech faster than sighted
	// defaults, so this is a first-class knob.
	Speed float64
}

// Synthesizer is the abstraction over any TTS backend.
type Synthesizer interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits raw 16-bit PCM chunks as they are
	// synthesised, in fragment order.
	//
	// The returned audio channel is closed by the implementation when the
	// text channel closes and all synthesis has drained, or when ctx is
	// cancelled. The caller must drain the audio channel to avoid blocking
	// the implementation's internal goroutines.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// during synthesis are signalled by closing the audio channel early;
	// callers should check ctx.Err() to distinguish cancellation from
	// provider failure.
	SynthesizeStream(ctx context.Context, text <-chan string, voice Voice) (<-chan []byte, error)

	// SampleRate returns the sample rate in Hz of the PCM this synthesizer
	// emits, constant for the lifetime of the instance.
	SampleRate() int
}
