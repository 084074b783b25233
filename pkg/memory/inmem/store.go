// Package inmem provides an in-process memory.Store with no durability.
//
// It is the backend used when persistence is disabled: records live only for
// the lifetime of the process and queries are exact brute-force scans over
// the record log. Ranking is fully deterministic, which keeps retrieval
// behavior identical to the postgres backend minus durability.
package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/visionaid-ai/visionaid/pkg/memory"
)

// Ensure Store implements the memory.Store interface.
var _ memory.Store = (*Store)(nil)

// Store is an append-only, in-process record log with linear-scan retrieval.
// It is safe for concurrent use.
type Store struct {
	dimensions int

	mu      sync.RWMutex
	nextID  int64
	records []memory.InteractionRecord
}

// New constructs an empty Store expecting embeddings of the given dimension.
func New(dimensions int) (*Store, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("inmem: dimensions must be positive, got %d", dimensions)
	}
	return &Store{dimensions: dimensions, nextID: 1}, nil
}

// Append implements memory.Store.
func (s *Store) Append(ctx context.Context, record memory.InteractionRecord) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if len(record.Embedding) != s.dimensions {
		return 0, fmt.Errorf("inmem: append: %w: got %d, want %d",
			memory.ErrDimensionMismatch, len(record.Embedding), s.dimensions)
	}

	// Copy the embedding so later caller mutations cannot rewrite history.
	emb := make([]float32, len(record.Embedding))
	copy(emb, record.Embedding)
	record.Embedding = emb

	s.mu.Lock()
	defer s.mu.Unlock()
	record.ID = s.nextID
	s.nextID++
	record.CreatedAt = time.Now().UTC()
	s.records = append(s.records, record)
	return record.ID, nil
}

// Query implements memory.Store.
func (s *Store) Query(ctx context.Context, embedding []float32, k int, minSimilarity float64) ([]memory.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []memory.Result{}, nil
	}
	if len(embedding) != s.dimensions {
		return nil, fmt.Errorf("inmem: query: %w: got %d, want %d",
			memory.ErrDimensionMismatch, len(embedding), s.dimensions)
	}

	s.mu.RLock()
	matches := make([]memory.Result, 0, len(s.records))
	for _, rec := range s.records {
		sim := memory.CosineSimilarity(embedding, rec.Embedding)
		if sim < minSimilarity {
			continue
		}
		// Return a fresh embedding slice, matching the append-side copy:
		// callers must not be able to mutate stored history.
		rec.Embedding = append([]float32(nil), rec.Embedding...)
		matches = append(matches, memory.Result{Record: rec, Similarity: sim})
	}
	s.mu.RUnlock()

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		// Equal similarity: more recent record wins. IDs are assigned
		// monotonically so they order identically to CreatedAt.
		return matches[i].Record.ID > matches[j].Record.ID
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close implements memory.Store. It is a no-op and always safe to call.
func (s *Store) Close() error {
	return nil
}
