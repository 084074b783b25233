// Package mock provides a test double for the llm.Generator interface.
package mock

import (
	"context"
	"sync"

	"github.com/visionaid-ai/visionaid/pkg/provider/llm"
)

// Ensure Generator implements llm.Generator at compile time.
var _ llm.Generator = (*Generator)(nil)

// Generator is a configurable mock implementation of llm.Generator.
//
// By default it streams Chunks one by one and finishes with FinishReason
// "stop". StreamFunc takes full control when channel-level choreography is
// needed (e.g., blocking mid-stream until cancellation).
type Generator struct {
	mu sync.Mutex

	// Chunks are streamed in order for each GenerateStream call.
	Chunks []llm.Chunk

	// StartErr, if non-nil, is returned by GenerateStream before any chunk
	// is emitted.
	StartErr error

	// StreamFunc, when non-nil, fully controls the stream and takes
	// precedence over Chunks and StartErr.
	StreamFunc func(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error)

	// requests records every request passed to GenerateStream, in order.
	requests []llm.Request
}

// GenerateStream implements llm.Generator.
func (m *Generator) GenerateStream(ctx context.Context, req llm.Request) (<-chan llm.Chunk, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	fn := m.StreamFunc
	startErr := m.StartErr
	chunks := make([]llm.Chunk, len(m.Chunks))
	copy(chunks, m.Chunks)
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if startErr != nil {
		return nil, startErr
	}

	ch := make(chan llm.Chunk, len(chunks)+1)
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
		select {
		case ch <- llm.Chunk{FinishReason: "stop"}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

// Requests returns a copy of every recorded request.
func (m *Generator) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns how many times GenerateStream was invoked.
func (m *Generator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Reset clears all recorded requests without altering configuration.
func (m *Generator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
}
