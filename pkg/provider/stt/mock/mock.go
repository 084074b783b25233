// Package mock provides a test double for the stt.Transcriber interface.
package mock

import (
	"context"
	"sync"

	"github.com/visionaid-ai/visionaid/pkg/provider/stt"
)

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Utterance is the audio passed to Transcribe.
	Utterance stt.Utterance
}

// Transcriber is a configurable mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by Transcribe when TranscribeFunc is nil.
	Result string

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// TranscribeFunc, when non-nil, fully controls the Transcribe result and
	// takes precedence over Result and Err. Useful for context-sensitive
	// behavior such as blocking until cancellation.
	TranscribeFunc func(ctx context.Context, utterance stt.Utterance) (string, error)

	// calls records every invocation in order.
	calls []TranscribeCall
}

// Transcribe records the call and returns the configured result.
func (m *Transcriber) Transcribe(ctx context.Context, utterance stt.Utterance) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, TranscribeCall{Utterance: utterance})
	fn := m.TranscribeFunc
	result, err := m.Result, m.Err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, utterance)
	}
	return result, err
}

// Calls returns a copy of every recorded invocation.
func (m *Transcriber) Calls() []TranscribeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TranscribeCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times Transcribe was invoked.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears all recorded calls without altering response configuration.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
