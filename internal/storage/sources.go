// Package storage holds the sqlx repositories for feed sources and items.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"reddot-watch/ingestor/internal/database"
	"reddot-watch/ingestor/internal/models"
)

// SourceRepository reads and maintains the feed_sources table.
type SourceRepository struct {
	db *database.DB
}

// NewSourceRepository creates a new repository instance.
func NewSourceRepository(db *database.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// ActiveSources returns every active source ordered by name.
func (r *SourceRepository) ActiveSources(ctx context.Context) ([]models.FeedSource, error) {
	var sources []models.FeedSource
	err := r.db.SelectContext(ctx, &sources,
		`SELECT * FROM feed_sources WHERE active = 1 ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load active sources: %w", err)
	}
	return sources, nil
}

// All returns every source, active or not, ordered by id.
func (r *SourceRepository) All(ctx context.Context) ([]models.FeedSource, error) {
	var sources []models.FeedSource
	if err := r.db.SelectContext(ctx, &sources, `SELECT * FROM feed_sources ORDER BY id ASC`); err != nil {
		return nil, fmt.Errorf("failed to load sources: %w", err)
	}
	return sources, nil
}

// MarkFetched advances last_fetched_at to now, but only if it still holds
// prev, the value read when the run enumerated the source. It reports whether
// the row was updated; false means another run got there first.
// note is stored as last_error (empty clears it).
func (r *SourceRepository) MarkFetched(ctx context.Context, id int64, prev sql.NullTime, now time.Time, note string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE feed_sources
		SET last_fetched_at = ?, failures_count = 0, last_error = ?, updated_at = ?
		WHERE id = ? AND last_fetched_at IS ?`,
		now.UTC(), nullString(note), now.UTC(), id, prev)
	if err != nil {
		return false, fmt.Errorf("failed to update last_fetched_at for source %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for source %d: %w", id, err)
	}
	return n == 1, nil
}

// RecordFailure notes a failed fetch. last_fetched_at is left alone so the
// source stays due on the next run.
func (r *SourceRepository) RecordFailure(ctx context.Context, id int64, cause string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE feed_sources
		SET failures_count = failures_count + 1, last_error = ?, updated_at = ?
		WHERE id = ?`,
		cause, now.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record failure for source %d: %w", id, err)
	}
	return nil
}

// Upsert inserts a source or updates the configuration of the source with
// the same URL. Bookkeeping columns are never touched. It reports whether a
// new row was created.
func (r *SourceRepository) Upsert(ctx context.Context, src *models.FeedSource) (bool, error) {
	var existing int
	if err := r.db.GetContext(ctx, &existing, `SELECT COUNT(*) FROM feed_sources WHERE url = ?`, src.URL); err != nil {
		return false, fmt.Errorf("failed to look up source %s: %w", src.URL, err)
	}

	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO feed_sources (name, url, country_code, country_name, category, fetch_interval_minutes, active, created_at, updated_at)
		VALUES (:name, :url, :country_code, :country_name, :category, :fetch_interval_minutes, :active, :created_at, :updated_at)
		ON CONFLICT(url) DO UPDATE SET
			name = excluded.name,
			country_code = excluded.country_code,
			country_name = excluded.country_name,
			category = excluded.category,
			fetch_interval_minutes = excluded.fetch_interval_minutes,
			active = excluded.active,
			updated_at = excluded.updated_at`, src)
	if err != nil {
		return false, fmt.Errorf("failed to upsert source %s: %w", src.URL, err)
	}
	return existing == 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
