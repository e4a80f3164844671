package process

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"

	"reddot-watch/ingestor/internal/models"
)

// SourceRegistry enumerates sources and records fetch bookkeeping.
type SourceRegistry interface {
	ActiveSources(ctx context.Context) ([]models.FeedSource, error)
	MarkFetched(ctx context.Context, id int64, prev sql.NullTime, now time.Time, note string) (bool, error)
	RecordFailure(ctx context.Context, id int64, cause string, now time.Time) error
}

const maxNoteLength = 1000

// Bookkeeper moves a source's last_fetched_at forward once its document was retrieved.
type Bookkeeper struct {
	registry SourceRegistry
	timeout  time.Duration
	now      func() time.Time
}

func NewBookkeeper(registry SourceRegistry, timeout time.Duration, now func() time.Time) *Bookkeeper {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &Bookkeeper{registry: registry, timeout: timeout, now: now}
}

// Advance sets last_fetched_at to now if it still holds the value src was read
// with. Losing that race to a concurrent run is logged and is not an error.
// The update runs even if ctx is already done: the fetch it records happened.
func (b *Bookkeeper) Advance(ctx context.Context, src models.FeedSource, note string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()

	updated, err := b.registry.MarkFetched(ctx, src.ID, src.LastFetchedAt, b.now(), truncate(note, maxNoteLength))
	if err != nil {
		return err
	}
	if !updated {
		log.Warn().
			Int64("source_id", src.ID).
			Str("source", src.Name).
			Msg("last_fetched_at already moved by a concurrent run, leaving it")
	}
	return nil
}

// Failed records a fetch failure without touching last_fetched_at.
func (b *Bookkeeper) Failed(ctx context.Context, src models.FeedSource, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
	defer cancel()
	return b.registry.RecordFailure(ctx, src.ID, truncate(cause.Error(), maxNoteLength), b.now())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
