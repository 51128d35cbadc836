// Package storage persists harvest results in PostgreSQL and keeps scrape
// marks in Redis.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"gallery/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned by status queries for unknown elements.
var ErrNotFound = errors.New("storage: not found")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS gallery_elements (
	url          TEXT PRIMARY KEY,
	element_id   TEXT NOT NULL,
	run_id       UUID NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	download_url TEXT NOT NULL DEFAULT '',
	has_picture  BOOLEAN NOT NULL DEFAULT FALSE,
	description  JSONB NOT NULL DEFAULT '{}',
	search_tags  JSONB NOT NULL DEFAULT '{}',
	object_data  JSONB NOT NULL DEFAULT '{}',
	related_work JSONB NOT NULL DEFAULT '{}',
	status       TEXT NOT NULL,
	fail_reason  TEXT NOT NULL DEFAULT '',
	scraped_at   TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS gallery_elements_run_id ON gallery_elements (run_id);
`

const upsertSQL = `
INSERT INTO gallery_elements (url, element_id, run_id, title, download_url, has_picture,
	description, search_tags, object_data, related_work, status, fail_reason, scraped_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (url) DO UPDATE SET
	element_id = EXCLUDED.element_id, run_id = EXCLUDED.run_id, title = EXCLUDED.title,
	download_url = EXCLUDED.download_url, has_picture = EXCLUDED.has_picture,
	description = EXCLUDED.description, search_tags = EXCLUDED.search_tags,
	object_data = EXCLUDED.object_data, related_work = EXCLUDED.related_work,
	status = EXCLUDED.status, fail_reason = EXCLUDED.fail_reason,
	scraped_at = EXCLUDED.scraped_at, updated_at = NOW()`

// PostgresStore handles interactions with the PostgreSQL database.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

// Migrate creates the element table when it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// SaveRecord upserts one element record keyed by its page URL.
func (s *PostgresStore) SaveRecord(ctx context.Context, rec *domain.ElementRecord) error {
	args, err := recordArgs(rec)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, upsertSQL, args...); err != nil {
		return fmt.Errorf("save %s: %w", rec.URL, err)
	}
	return nil
}

// GetElementStatus retrieves the stored status of an element page.
func (s *PostgresStore) GetElementStatus(ctx context.Context, url string) (*domain.ElementStatusResponse, error) {
	var status domain.ElementStatusResponse
	err := s.db.QueryRow(ctx,
		`SELECT url, element_id, status, fail_reason, updated_at FROM gallery_elements WHERE url = $1`,
		url,
	).Scan(&status.URL, &status.ElementID, &status.Status, &status.FailReason, &status.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &status, nil
}

func recordArgs(rec *domain.ElementRecord) ([]any, error) {
	maps := make([][]byte, 0, 4)
	for _, p := range []domain.Pairs{rec.Description, rec.SearchTags, rec.ObjectData, rec.RelatedWork} {
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", rec.URL, err)
		}
		maps = append(maps, b)
	}
	return []any{
		rec.URL, rec.ID, rec.RunID, rec.Title, rec.DownloadURL, rec.HasPicture,
		maps[0], maps[1], maps[2], maps[3],
		rec.Status, rec.FailReason, rec.ScrapedAt,
	}, nil
}
