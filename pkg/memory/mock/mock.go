// Package mock provides an in-memory test double for [memory.Store].
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent use
// via an internal [sync.Mutex].
//
// Typical usage:
//
//	store := &mock.Store{}
//	store.QueryResult = []memory.Result{{Record: rec, Similarity: 0.9}}
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Query"); got != 1 {
//	    t.Errorf("expected 1 Query call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/visionaid-ai/visionaid/pkg/memory"
)

// Ensure Store implements the memory.Store interface.
var _ memory.Store = (*Store)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable test double for [memory.Store].
// All exported *Err fields default to nil (success); QueryResult defaults to
// nil (empty non-nil slice returned).
type Store struct {
	mu sync.Mutex

	// calls records every method invocation in order.
	calls []Call

	// appended holds every record passed to [Store.Append], with IDs and
	// timestamps assigned as a real store would.
	appended []memory.InteractionRecord

	// AppendErr is returned by [Store.Append] when non-nil.
	AppendErr error

	// QueryResult is returned by [Store.Query].
	// When nil, Query returns an empty non-nil slice.
	QueryResult []memory.Result

	// QueryErr is returned by [Store.Query] when non-nil.
	QueryErr error

	// CloseErr is returned by [Store.Close] when non-nil.
	CloseErr error
}

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Appended returns a copy of every record successfully passed to Append.
func (m *Store) Appended() []memory.InteractionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]memory.InteractionRecord, len(m.appended))
	copy(out, m.appended)
	return out
}

// Reset clears all recorded calls and appended records without altering
// response configuration.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.appended = nil
}

// Append implements [memory.Store].
func (m *Store) Append(_ context.Context, record memory.InteractionRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Append", Args: []any{record}})
	if m.AppendErr != nil {
		return 0, m.AppendErr
	}
	record.ID = int64(len(m.appended) + 1)
	record.CreatedAt = time.Now().UTC()
	m.appended = append(m.appended, record)
	return record.ID, nil
}

// Query implements [memory.Store].
func (m *Store) Query(_ context.Context, embedding []float32, k int, minSimilarity float64) ([]memory.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Query", Args: []any{embedding, k, minSimilarity}})
	if m.QueryResult == nil {
		return []memory.Result{}, m.QueryErr
	}
	out := make([]memory.Result, len(m.QueryResult))
	copy(out, m.QueryResult)
	return out, m.QueryErr
}

// Close implements [memory.Store].
func (m *Store) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Close"})
	return m.CloseErr
}
