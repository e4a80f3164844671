package models

import (
	"database/sql"
	"time"
)

// FeedSource represents a row in the 'feed_sources' table
type FeedSource struct {
	ID                   int64          `db:"id"`
	Name                 string         `db:"name"`
	URL                  string         `db:"url"`
	CountryCode          sql.NullString `db:"country_code"`
	CountryName          sql.NullString `db:"country_name"`
	Category             sql.NullString `db:"category"`
	FetchIntervalMinutes int            `db:"fetch_interval_minutes"`
	LastFetchedAt        sql.NullTime   `db:"last_fetched_at"`
	Active               bool           `db:"active"`
	FailuresCount        int            `db:"failures_count"`
	LastError            sql.NullString `db:"last_error"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

// DefaultFetchIntervalMinutes is used when a source is registered without an interval.
const DefaultFetchIntervalMinutes = 60

// NewFeedSource creates a new FeedSource with default values
func NewFeedSource() *FeedSource {
	now := time.Now().UTC()
	return &FeedSource{
		FetchIntervalMinutes: DefaultFetchIntervalMinutes,
		Active:               true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}
