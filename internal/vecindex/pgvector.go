package vecindex

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// PGVector implements Index on Postgres with the pgvector extension.
// The metadata store and the vector index can share one database while
// remaining independent stores with no cross-store transaction; the
// gallery's ordered-write discipline is what keeps them consistent.
type PGVector struct {
	pool *pgxpool.Pool
	dim  int
}

// NewPGVector creates the pgvector-backed index, enabling the extension
// and creating the vectors table with an HNSW cosine index.
func NewPGVector(ctx context.Context, pool *pgxpool.Pool, dim int) (*PGVector, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive, got %d", dim)
	}
	p := &PGVector{pool: pool, dim: dim}
	if err := p.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return p, nil
}

func (p *PGVector) migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS image_vectors (
			id         TEXT PRIMARY KEY,
			embedding  vector(%d) NOT NULL
		);

		CREATE INDEX IF NOT EXISTS image_vectors_embedding_idx
			ON image_vectors USING hnsw (embedding vector_cosine_ops);
	`, p.dim))
	return err
}

func (p *PGVector) Upsert(ctx context.Context, id string, vector []float32) error {
	if len(vector) != p.dim {
		return fmt.Errorf("upsert %s: vector has %d dimensions, index expects %d", id, len(vector), p.dim)
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO image_vectors (id, embedding)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding
	`, id, pgvector.NewVector(vector))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", id, err)
	}
	return nil
}

func (p *PGVector) Delete(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM image_vectors WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func (p *PGVector) Has(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM image_vectors WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has %s: %w", id, err)
	}
	return exists, nil
}

func (p *PGVector) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		return nil, nil
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, 1 - (embedding <=> $1) AS score
		FROM image_vectors
		ORDER BY embedding <=> $1
		LIMIT $2
	`, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Score); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (p *PGVector) Count(ctx context.Context) (int, error) {
	var count int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM image_vectors`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return count, nil
}

// Close is a no-op; the pgx pool is owned and closed by the caller,
// typically shared with the Postgres metadata store.
func (p *PGVector) Close() error { return nil }

var _ Index = (*PGVector)(nil)
