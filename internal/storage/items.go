package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"reddot-watch/ingestor/internal/database"
	"reddot-watch/ingestor/internal/feed"
	"reddot-watch/ingestor/internal/models"
)

// ItemQuery filters and pages a listing of stored items, newest first.
// When BeforeID is non-zero the page starts strictly after (BeforePublished, BeforeID).
type ItemQuery struct {
	CountryCode     string
	SourceName      string
	Limit           int
	BeforePublished time.Time
	BeforeID        int64
}

// ItemRepository reads and writes the feed_items table.
type ItemRepository struct {
	db *database.DB
}

// NewItemRepository creates a new repository instance.
func NewItemRepository(db *database.DB) *ItemRepository {
	return &ItemRepository{db: db}
}

// InsertIgnore stores item unless an item with the same guid already exists,
// in which case the stored row is left untouched. It reports whether a row was inserted.
func (r *ItemRepository) InsertIgnore(ctx context.Context, item feed.Item) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO feed_items (guid, title, link, description, published_at, source_id, source_name,
			image_url, author, country_code, country_name, category, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guid) DO NOTHING`,
		item.GUID, item.Title, item.Link, item.Description, item.PublishedAt.UTC(), item.SourceID, item.SourceName,
		nullString(item.ImageURL), nullString(item.Author), nullString(item.CountryCode),
		nullString(item.CountryName), nullString(item.Category), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to insert item %s: %w", item.GUID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for %s: %w", item.GUID, err)
	}
	if n == 0 {
		log.Debug().Str("guid", item.GUID).Str("source", item.SourceName).Msg("Duplicate guid detected")
	}
	return n > 0, nil
}

// FetchItems lists items newest first.
func (r *ItemRepository) FetchItems(ctx context.Context, q ItemQuery) ([]models.FeedItem, error) {
	var (
		where []string
		args  []any
	)
	if q.CountryCode != "" {
		where = append(where, "country_code = ?")
		args = append(args, strings.ToUpper(q.CountryCode))
	}
	if q.SourceName != "" {
		where = append(where, "source_name = ?")
		args = append(args, q.SourceName)
	}
	if q.BeforeID != 0 {
		where = append(where, "(published_at < ? OR (published_at = ? AND id < ?))")
		args = append(args, q.BeforePublished.UTC(), q.BeforePublished.UTC(), q.BeforeID)
	}

	query := `SELECT * FROM feed_items`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY published_at DESC, id DESC LIMIT ?`
	args = append(args, q.Limit)

	items := []models.FeedItem{}
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return items, nil
}

// PurgeOlderThan deletes items ingested before cutoff.
func (r *ItemRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	log.Info().Time("cutoff", cutoff).Msg("Purging old items from feed_items")

	res, err := r.db.ExecContext(ctx, `DELETE FROM feed_items WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to execute purge command on feed_items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		log.Warn().Err(err).Msg("Could not get RowsAffected after purging feed_items")
		return 0, nil
	}
	return n, nil
}
