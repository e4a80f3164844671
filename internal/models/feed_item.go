package models

import (
	"database/sql"
	"time"
)

// FeedItem represents a row in the feed_items table.
// Source fields are copied at ingestion time; SourceID is informational only.
type FeedItem struct {
	ID          int64          `db:"id"`
	GUID        string         `db:"guid"`
	Title       string         `db:"title"`
	Link        string         `db:"link"`
	Description string         `db:"description"`
	PublishedAt time.Time      `db:"published_at"`
	SourceID    int64          `db:"source_id"`
	SourceName  string         `db:"source_name"`
	ImageURL    sql.NullString `db:"image_url"`
	Author      sql.NullString `db:"author"`
	CountryCode sql.NullString `db:"country_code"`
	CountryName sql.NullString `db:"country_name"`
	Category    sql.NullString `db:"category"`
	CreatedAt   time.Time      `db:"created_at"`
}
