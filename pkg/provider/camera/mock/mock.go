// Package mock provides a test double for the camera.Grabber interface.
package mock

import (
	"context"
	"sync"

	"github.com/visionaid-ai/visionaid/pkg/provider/camera"
)

// Ensure Grabber implements camera.Grabber at compile time.
var _ camera.Grabber = (*Grabber)(nil)

// Grabber is a configurable mock implementation of camera.Grabber.
type Grabber struct {
	mu sync.Mutex

	// Frame is returned by Capture when Err is nil.
	Frame camera.Frame

	// Err, if non-nil, is returned as the error from Capture.
	Err error

	// captures counts Capture invocations.
	captures int
}

// Capture records the call and returns the configured frame or error.
func (m *Grabber) Capture(_ context.Context) (camera.Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures++
	if m.Err != nil {
		return camera.Frame{}, m.Err
	}
	return m.Frame, nil
}

// CallCount returns how many times Capture was invoked.
func (m *Grabber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captures
}

// Reset clears recorded state without altering configuration.
func (m *Grabber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures = 0
}
