package meta

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"imagesearch/internal/models"
)

// Postgres is a Store implementation backed by a Postgres table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates the store and runs the schema migration.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool) (*Postgres, error) {
	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS images (
			id             TEXT PRIMARY KEY,
			filename       TEXT NOT NULL,
			content_type   TEXT NOT NULL,
			size           BIGINT NOT NULL,
			checksum       TEXT NOT NULL UNIQUE,
			status         TEXT NOT NULL,
			uploaded_at    TIMESTAMPTZ NOT NULL,
			trashed_at     TIMESTAMPTZ,
			original_ref   TEXT NOT NULL,
			thumbnail_ref  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS images_status_uploaded_idx
			ON images (status, uploaded_at DESC);
	`)
	return err
}

func (p *Postgres) Insert(ctx context.Context, rec *models.ImageRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO images (id, filename, content_type, size, checksum,
		                    status, uploaded_at, trashed_at, original_ref, thumbnail_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, rec.ID, rec.Filename, rec.ContentType, rec.Size, rec.Checksum,
		rec.Status, rec.UploadedAt, rec.TrashedAt, rec.OriginalRef, rec.ThumbnailRef)
	// 23505 is unique_violation; the only unique column besides the
	// primary key is checksum.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("insert %s: checksum %s: %w", rec.ID, rec.Checksum, models.ErrDuplicateImage)
	}
	if err != nil {
		return fmt.Errorf("insert %s: %w", rec.ID, err)
	}
	return nil
}

const recordColumns = `id, filename, content_type, size, checksum,
	status, uploaded_at, trashed_at, original_ref, thumbnail_ref`

func scanRecord(row pgx.Row) (*models.ImageRecord, error) {
	var rec models.ImageRecord
	err := row.Scan(&rec.ID, &rec.Filename, &rec.ContentType, &rec.Size,
		&rec.Checksum, &rec.Status, &rec.UploadedAt, &rec.TrashedAt,
		&rec.OriginalRef, &rec.ThumbnailRef)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*models.ImageRecord, error) {
	rec, err := scanRecord(p.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM images WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("get %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return rec, nil
}

func (p *Postgres) FindByChecksum(ctx context.Context, checksum string) (*models.ImageRecord, error) {
	rec, err := scanRecord(p.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM images WHERE checksum = $1`, checksum))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("checksum %s: %w", checksum, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find by checksum: %w", err)
	}
	return rec, nil
}

func (p *Postgres) UpdateStatus(ctx context.Context, id string, from, to models.Status, trashedAt *time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE images
		SET status = $1, trashed_at = $2
		WHERE id = $3 AND status = $4
	`, to, trashedAt, id, from)
	if err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// The conditional write matched nothing: either the id is gone or
	// another operation changed the status first.
	var exists bool
	if err := p.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM images WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("update %s: %w", id, models.ErrNotFound)
	}
	return fmt.Errorf("update %s: expected status %s: %w", id, from, models.ErrConcurrentModification)
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM images WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, f ListFilter) ([]*models.ImageRecord, error) {
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var rows pgx.Rows
	var err error
	if f.Status != "" {
		rows, err = p.pool.Query(ctx, `
			SELECT `+recordColumns+` FROM images
			WHERE status = $1
			ORDER BY uploaded_at DESC
			OFFSET $2 LIMIT $3
		`, f.Status, offset, limit)
	} else {
		rows, err = p.pool.Query(ctx, `
			SELECT `+recordColumns+` FROM images
			ORDER BY uploaded_at DESC
			OFFSET $1 LIMIT $2
		`, offset, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	defer rows.Close()

	var out []*models.ImageRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

var _ Store = (*Postgres)(nil)
