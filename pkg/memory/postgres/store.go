package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/visionaid-ai/visionaid/pkg/memory"
)

// Ensure Store implements the memory.Store interface.
var _ memory.Store = (*Store)(nil)

// Store is a PostgreSQL-backed [memory.Store]. It holds a single
// [pgxpool.Pool] and is safe for concurrent use.
type Store struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure the interactions table exists.
//
// embeddingDimensions must match the output dimension of the embedding model
// used to produce [memory.InteractionRecord.Embedding] values.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	if embeddingDimensions <= 0 {
		return nil, fmt.Errorf("postgres store: dimensions must be positive, got %d", embeddingDimensions)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool, dimensions: embeddingDimensions}, nil
}

// Append implements memory.Store. The database assigns both the record ID and
// the creation timestamp, so concurrent appenders never race on ordering.
func (s *Store) Append(ctx context.Context, record memory.InteractionRecord) (int64, error) {
	if len(record.Embedding) != s.dimensions {
		return 0, fmt.Errorf("postgres store: append: %w: got %d, want %d",
			memory.ErrDimensionMismatch, len(record.Embedding), s.dimensions)
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO interactions (query_text, response_text, image_ref, embedding)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		record.QueryText,
		record.ResponseText,
		record.ImageRef,
		pgvector.NewVector(record.Embedding),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres store: append: %w: %w", memory.ErrPersistence, err)
	}
	return id, nil
}

// Query implements memory.Store. The <=> operator is cosine distance, so
// similarity is 1 - distance. Without any approximate index on the embedding
// column this is an exact scan with a total, deterministic ordering.
func (s *Store) Query(ctx context.Context, embedding []float32, k int, minSimilarity float64) ([]memory.Result, error) {
	if k <= 0 {
		return []memory.Result{}, nil
	}
	if len(embedding) != s.dimensions {
		return nil, fmt.Errorf("postgres store: query: %w: got %d, want %d",
			memory.ErrDimensionMismatch, len(embedding), s.dimensions)
	}

	vec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx, `
		SELECT id, query_text, response_text, image_ref, embedding, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM interactions
		WHERE 1 - (embedding <=> $1) >= $2
		ORDER BY embedding <=> $1 ASC, created_at DESC, id DESC
		LIMIT $3`,
		vec, minSimilarity, k,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres store: query: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Result, error) {
		var r memory.Result
		var emb pgvector.Vector
		if err := row.Scan(
			&r.Record.ID,
			&r.Record.QueryText,
			&r.Record.ResponseText,
			&r.Record.ImageRef,
			&emb,
			&r.Record.CreatedAt,
			&r.Similarity,
		); err != nil {
			return memory.Result{}, err
		}
		r.Record.Embedding = emb.Slice()
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: query: collect rows: %w", err)
	}
	if results == nil {
		results = []memory.Result{}
	}
	return results, nil
}

// Len returns the total number of stored records.
func (s *Store) Len(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM interactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres store: count: %w", err)
	}
	return n, nil
}

// Truncate removes every stored record. The record log is append-only during
// normal operation; this exists for test isolation and operator resets only.
func (s *Store) Truncate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `TRUNCATE interactions RESTART IDENTITY`); err != nil {
		return fmt.Errorf("postgres store: truncate: %w", err)
	}
	return nil
}

// Close implements memory.Store. It releases all connections held by the
// underlying pool and is safe to call more than once.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
