package process

import (
	"context"
	"errors"

	"reddot-watch/ingestor/internal/feed"
)

// ItemStore persists items keyed by guid, ignoring guids it already holds.
type ItemStore interface {
	InsertIgnore(ctx context.Context, item feed.Item) (bool, error)
}

// WriteResult counts what happened to a batch of items.
type WriteResult struct {
	Added      int
	Duplicates int
	Failed     int
}

// Writer stores the items of one source.
type Writer struct {
	store ItemStore
}

func NewWriter(store ItemStore) *Writer {
	return &Writer{store: store}
}

// Write attempts every item independently. Items whose guid is already stored
// are left unchanged and not counted as added. Failed writes are returned as
// joined *PersistError values; they do not stop the remaining items.
func (w *Writer) Write(ctx context.Context, items []feed.Item) (WriteResult, error) {
	var (
		res  WriteResult
		errs []error
	)
	for _, item := range items {
		added, err := w.store.InsertIgnore(ctx, item)
		switch {
		case err != nil:
			res.Failed++
			errs = append(errs, &PersistError{GUID: item.GUID, Err: err})
		case added:
			res.Added++
		default:
			res.Duplicates++
		}
	}
	return res, errors.Join(errs...)
}
