package process

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"reddot-watch/ingestor/internal/feed"
	"reddot-watch/ingestor/internal/fetch"
	"reddot-watch/ingestor/internal/models"
)

type fakeRegistry struct {
	mu       sync.Mutex
	sources  []models.FeedSource
	failures map[int64][]string
	notes    map[int64]string
	err      error
}

func newFakeRegistry(sources ...models.FeedSource) *fakeRegistry {
	return &fakeRegistry{
		sources:  sources,
		failures: make(map[int64][]string),
		notes:    make(map[int64]string),
	}
}

func (r *fakeRegistry) ActiveSources(ctx context.Context) ([]models.FeedSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	var out []models.FeedSource
	for _, s := range r.sources {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeRegistry) MarkFetched(ctx context.Context, id int64, prev sql.NullTime, now time.Time, note string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.sources {
		s := &r.sources[i]
		if s.ID != id {
			continue
		}
		if s.LastFetchedAt.Valid != prev.Valid || (prev.Valid && !s.LastFetchedAt.Time.Equal(prev.Time)) {
			return false, nil
		}
		s.LastFetchedAt = sql.NullTime{Time: now, Valid: true}
		r.notes[id] = note
		return true, nil
	}
	return false, nil
}

func (r *fakeRegistry) RecordFailure(ctx context.Context, id int64, cause string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[id] = append(r.failures[id], cause)
	return nil
}

func (r *fakeRegistry) lastFetched(id int64) sql.NullTime {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sources {
		if s.ID == id {
			return s.LastFetchedAt
		}
	}
	return sql.NullTime{}
}

type fakeStore struct {
	mu    sync.Mutex
	items map[string]feed.Item
	fail  map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[string]feed.Item), fail: make(map[string]bool)}
}

func (s *fakeStore) InsertIgnore(ctx context.Context, item feed.Item) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[item.GUID] {
		return false, errors.New("disk full")
	}
	if _, ok := s.items[item.GUID]; ok {
		return false, nil
	}
	s.items[item.GUID] = item
	return true, nil
}

func (s *fakeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// fakeFetcher serves canned bodies by URL and counts calls.
type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{bodies: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if err, ok := f.errs[url]; ok {
		return nil, err
	}
	body, ok := f.bodies[url]
	if !ok {
		return nil, &fetch.Error{URL: url, StatusCode: 404}
	}
	return []byte(body), nil
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func source(id int64, name string) models.FeedSource {
	return models.FeedSource{
		ID:                   id,
		Name:                 name,
		URL:                  fmt.Sprintf("https://%s.example/rss", strings.ToLower(name)),
		CountryCode:          sql.NullString{String: "GH", Valid: true},
		FetchIntervalMinutes: 60,
		Active:               true,
	}
}

func rssWithItems(prefix string, n int) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0"?><rss version="2.0"><channel><title>` + prefix + `</title>`)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, `<item><title>%s %d</title><link>https://%s.example/%d</link><description>&lt;p&gt;body %d&lt;/p&gt;</description></item>`,
			prefix, i, prefix, i, i)
	}
	b.WriteString(`</channel></rss>`)
	return b.String()
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func toItems(prefix string, n int) []feed.Item {
	items := make([]feed.Item, n)
	for i := range items {
		items[i] = feed.Item{
			GUID:       fmt.Sprintf("%s-%d", prefix, i),
			Title:      fmt.Sprintf("%s %d", prefix, i),
			SourceName: prefix,
		}
	}
	return items
}
