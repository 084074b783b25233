// Package audio holds the PCM plumbing shared by the capture and playback
// paths: frame types, format normalization, peak measurement for voice
// activity detection, WAV encoding for hosted recognizers, and channel
// helpers.
//
// All PCM in this package is 16-bit little-endian signed unless a function
// says otherwise.
package audio

import "time"

// Frame represents a single frame of audio flowing through the pipeline.
// Frames are the atomic unit of transport — received from the capture
// stream, measured by the voice activity detector, and buffered into
// utterances.
type Frame struct {
	// Data is the PCM payload.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for the capture path, 24000 for
	// synthesized playback).
	SampleRate int

	// Channels: 1 for mono capture, 2 for stereo sources that will be
	// downmixed.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the audio duration represented by the frame's PCM payload,
// or 0 for malformed frames.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when the data from a streaming channel
// is no longer needed (e.g., synthesized audio after a barge-in).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
