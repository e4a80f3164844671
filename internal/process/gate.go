package process

import (
	"time"

	"reddot-watch/ingestor/internal/models"
)

// IsDue reports whether src should be fetched at now. A source never fetched
// is always due; otherwise it is due once the whole minutes elapsed since the
// last fetch reach its interval.
func IsDue(src models.FeedSource, now time.Time) bool {
	if !src.LastFetchedAt.Valid {
		return true
	}
	elapsed := int(now.Sub(src.LastFetchedAt.Time) / time.Minute)
	return elapsed >= src.FetchIntervalMinutes
}
