// Package embeddings defines the Provider interface for vector embedding
// backends.
//
// An embeddings provider maps text strings to dense float32 vectors. The
// memory layer uses these vectors both when appending a completed interaction
// and when retrieving semantically similar past interactions for a new
// utterance. Both paths must go through the same Provider instance: mixing
// vectors from different models in one similarity computation produces
// meaningless rankings.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider instance share the same
// dimensionality (returned by Dimensions), which must match the dimension the
// memory store was created with.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Returns a
	// float32 slice of length Dimensions() or an error if the request fails
	// or ctx is cancelled. Text is passed through verbatim; callers own any
	// model-specific formatting.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the fixed length of every embedding vector produced
	// by this provider, constant for the lifetime of the instance.
	Dimensions() int

	// ModelID returns the provider-specific model identifier
	// (e.g., "text-embedding-3-small"), useful for logging and for asserting
	// consistent model usage across the append and query paths.
	ModelID() string
}
