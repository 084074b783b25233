// Package mock provides a test double for the tts.Synthesizer interface.
//
// The mock maps each consumed text fragment to one deterministic PCM chunk,
// so streaming tests can assert both ordering and fragment-to-audio
// correspondence without a live synthesis backend.
package mock

import (
	"context"
	"sync"

	"github.com/visionaid-ai/visionaid/pkg/provider/tts"
)

// Ensure Synthesizer implements tts.Synthesizer at compile time.
var _ tts.Synthesizer = (*Synthesizer)(nil)

// Synthesizer is a configurable mock implementation of tts.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned by SynthesizeStream before any
	// fragment is consumed.
	StartErr error

	// ChunkFor, when non-nil, maps a text fragment to the PCM chunk emitted
	// for it. When nil, the fragment's bytes are emitted verbatim, which
	// keeps assertions trivial.
	ChunkFor func(fragment string) []byte

	// SampleRateValue is returned by SampleRate; defaults to 24000 when 0.
	SampleRateValue int

	// fragments records every text fragment consumed, in order.
	fragments []string

	// voices records the voice passed to each SynthesizeStream call.
	voices []tts.Voice
}

// SynthesizeStream implements tts.Synthesizer.
func (m *Synthesizer) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.Voice) (<-chan []byte, error) {
	m.mu.Lock()
	startErr := m.StartErr
	m.voices = append(m.voices, voice)
	m.mu.Unlock()
	if startErr != nil {
		return nil, startErr
	}

	out := make(chan []byte, 8)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case fragment, ok := <-text:
				if !ok {
					return
				}
				m.mu.Lock()
				m.fragments = append(m.fragments, fragment)
				chunkFor := m.ChunkFor
				m.mu.Unlock()

				chunk := []byte(fragment)
				if chunkFor != nil {
					chunk = chunkFor(fragment)
				}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// SampleRate implements tts.Synthesizer.
func (m *Synthesizer) SampleRate() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SampleRateValue == 0 {
		return 24000
	}
	return m.SampleRateValue
}

// Fragments returns a copy of every text fragment consumed so far.
func (m *Synthesizer) Fragments() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.fragments))
	copy(out, m.fragments)
	return out
}

// Voices returns a copy of the voice passed to each stream start.
func (m *Synthesizer) Voices() []tts.Voice {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tts.Voice, len(m.voices))
	copy(out, m.voices)
	return out
}

// Reset clears all recorded state without altering configuration.
func (m *Synthesizer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fragments = nil
	m.voices = nil
}
