// Package postgres provides a PostgreSQL-backed implementation of
// [memory.Store] using pgvector for embedding storage.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Similarity queries are exact full-table scans ordered by cosine distance.
// No approximate index (hnsw/ivfflat) is created on purpose: retrieval must
// be deterministic so that repeating a query over an unchanged store yields
// the same ranking, and per-user interaction history is small enough that a
// sequential scan stays well under the retrieval latency budget.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	id, _ := store.Append(ctx, record)
//	results, _ := store.Query(ctx, queryEmbedding, 3, 0.75)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlInteractions returns the interactions DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlInteractions(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS interactions (
    id            BIGSERIAL    PRIMARY KEY,
    query_text    TEXT         NOT NULL,
    response_text TEXT         NOT NULL,
    image_ref     TEXT         NOT NULL DEFAULT '',
    embedding     vector(%d)   NOT NULL,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_interactions_created_at
    ON interactions (created_at);
`, embeddingDimensions)
}

// Migrate creates or ensures the required table and extension exist. It is
// idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT EXISTS) and
// safe to call on every application start.
//
// embeddingDimensions must match the embedding model configured for the
// deployment (e.g., 1536 for OpenAI text-embedding-3-small). Changing this
// value after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if _, err := pool.Exec(ctx, ddlInteractions(embeddingDimensions)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}
