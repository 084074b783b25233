// Package llm defines the Generator interface for the language model that
// answers user turns.
//
// A Generator wraps a multimodal chat model API and exposes a single
// streaming operation shaped for the turn pipeline: one fully assembled
// request in, incremental text chunks out. Conversation assembly (memory
// excerpts, camera frame, instructions) happens upstream in the turn
// assembler; the Generator only translates the request to its backend's wire
// format.
//
// Implementations must be safe for concurrent use and must close their chunk
// channel promptly on ctx cancellation — a cancelled stream is a barge-in,
// and every token generated after it is wasted money and wasted latency.
package llm

import "context"

// Request carries everything the model needs to produce a response for one
// turn.
type Request struct {
	// Instructions is the system prompt.
	Instructions string

	// UserText is the fully composed user message: transcript plus any
	// formatted memory excerpts.
	UserText string

	// ImageJPEG is an optional camera frame as raw JPEG bytes. Empty when
	// the turn needs no visual grounding; implementations then send a
	// text-only request.
	ImageJPEG []byte

	// Temperature controls output randomness; 0 means provider default.
	Temperature float64

	// MaxTokens caps completion length; 0 means provider default.
	MaxTokens int
}

// Chunk is a single fragment emitted by a streaming generation.
type Chunk struct {
	// Text is the incremental text content. May be empty on the final chunk.
	Text string

	// FinishReason is set on the final chunk: "stop" for a natural end,
	// "length" when MaxTokens was reached, "" otherwise.
	FinishReason string

	// Err is non-nil on the last chunk of a stream that failed mid-flight.
	Err error
}

// Generator is the abstraction over any chat-completion backend.
type Generator interface {
	// GenerateStream sends req to the model and returns a read-only channel
	// that emits Chunk values as they arrive. The channel is closed by the
	// implementation when generation finishes, fails, or ctx is cancelled.
	//
	// Callers must drain the channel to avoid goroutine leaks. The initial
	// error return is non-nil only for failures that prevent the stream from
	// starting; mid-stream failures arrive as a final Chunk with Err set.
	// The returned channel is never nil when error is nil.
	GenerateStream(ctx context.Context, req Request) (<-chan Chunk, error)
}
