// Package memory defines the semantic memory store used by the VisionAid
// orchestrator: an append-only log of completed interaction turns, each paired
// with a fixed-length embedding vector, answering top-k cosine-similarity
// queries over the stored history.
//
// Two backends implement [Store]:
//
//   - inmem: a deterministic brute-force linear scan with no durability,
//     used when persistence is disabled.
//   - postgres: a pgx/pgvector-backed store whose similarity query is an
//     exact full-table scan, giving the same determinism with durability
//     across restarts.
//
// Both are approximate-free on purpose: follow-up queries ("and on the
// left?") depend on exact, reproducible recall of the immediately preceding
// turn, and personal interaction history stays in the thousands of records —
// well within linear-scan budgets.
//
// Every implementation must be safe for concurrent use, and an in-progress
// [Store.Append] must never be observable as a partially-indexed record by a
// concurrent [Store.Query].
package memory

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrPersistence indicates that a record could not be written durably.
// Memory is best-effort, not a safety gate: callers log the error and let the
// turn complete; the memory entry for that turn is lost.
var ErrPersistence = errors.New("memory: persistence failure")

// ErrDimensionMismatch indicates that an embedding's length does not match
// the store's configured dimension.
var ErrDimensionMismatch = errors.New("memory: embedding dimension mismatch")

// InteractionRecord is one completed turn: the user's final transcript, the
// assistant's final answer, and the embedding used for semantic retrieval.
//
// Records are immutable once persisted; corrections are new records. The
// record log is append-only — no record is ever deleted by normal operation.
type InteractionRecord struct {
	// ID is unique and monotonically assigned by the store.
	ID int64

	// QueryText is the final user transcript for the turn.
	QueryText string

	// ResponseText is the final generated answer.
	ResponseText string

	// ImageRef is an opaque reference to the captured camera frame
	// (e.g., a file path). Empty when the turn had no visual grounding.
	ImageRef string

	// Embedding is the fixed-length vector representing the semantic content
	// of QueryText (and ResponseText, when assistant storage is enabled).
	Embedding []float32

	// CreatedAt is set once by the store and never changes.
	CreatedAt time.Time
}

// Result pairs a retrieved record with its cosine similarity to the query
// embedding. Higher Similarity values indicate closer semantic content.
type Result struct {
	Record     InteractionRecord
	Similarity float64
}

// Store is the narrow interface the orchestrator retrieves conversational
// grounding through. The similarity algorithm behind Query (linear scan,
// cosine similarity) can be swapped for an indexed structure without touching
// the orchestrator.
type Store interface {
	// Append writes record durably and updates the similarity index,
	// returning the assigned record ID. CreatedAt and ID are assigned by the
	// store; values supplied by the caller are ignored. A write failure
	// surfaces as an error wrapping [ErrPersistence] — never silently.
	Append(ctx context.Context, record InteractionRecord) (int64, error)

	// Query returns up to k records ranked by descending cosine similarity
	// between their stored embedding and the given embedding, excluding any
	// with similarity below minSimilarity. Ties are broken by recency (more
	// recent record first). An empty store yields an empty slice, never an
	// error.
	Query(ctx context.Context, embedding []float32, k int, minSimilarity float64) ([]Result, error)

	// Close flushes and releases underlying storage handles. It must be safe
	// to call on every exit path, including error paths, and more than once.
	Close() error
}

// CosineSimilarity returns the cosine of the angle between a and b, in
// [-1, 1]. It returns 0 when either vector has zero magnitude or the lengths
// differ, so degenerate inputs rank below any real match.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
