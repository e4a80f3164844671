package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddot-watch/ingestor/internal/database"
	"reddot-watch/ingestor/internal/feed"
	"reddot-watch/ingestor/internal/models"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func addSource(t *testing.T, repo *SourceRepository, name, url string, active bool) models.FeedSource {
	t.Helper()
	src := models.NewFeedSource()
	src.Name = name
	src.URL = url
	src.Active = active
	src.CountryCode = sql.NullString{String: "NG", Valid: true}
	created, err := repo.Upsert(context.Background(), src)
	require.NoError(t, err)
	require.True(t, created)

	all, err := repo.All(context.Background())
	require.NoError(t, err)
	for _, s := range all {
		if s.URL == url {
			return s
		}
	}
	t.Fatalf("source %s not stored", url)
	return models.FeedSource{}
}

func TestActiveSourcesOrderedByName(t *testing.T) {
	repo := NewSourceRepository(newTestDB(t))
	addSource(t, repo, "Zeta", "https://z.example/rss", true)
	addSource(t, repo, "Alpha", "https://a.example/rss", true)
	addSource(t, repo, "Hidden", "https://h.example/rss", false)

	sources, err := repo.ActiveSources(context.Background())
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "Alpha", sources[0].Name)
	assert.Equal(t, "Zeta", sources[1].Name)
	assert.False(t, sources[0].LastFetchedAt.Valid)
	assert.Equal(t, models.DefaultFetchIntervalMinutes, sources[0].FetchIntervalMinutes)
}

func TestUpsertUpdatesConfigOnly(t *testing.T) {
	ctx := context.Background()
	repo := NewSourceRepository(newTestDB(t))
	src := addSource(t, repo, "Daily", "https://d.example/rss", true)

	now := time.Now().UTC()
	ok, err := repo.MarkFetched(ctx, src.ID, src.LastFetchedAt, now, "")
	require.NoError(t, err)
	require.True(t, ok)

	changed := models.NewFeedSource()
	changed.Name = "Daily Renamed"
	changed.URL = src.URL
	changed.FetchIntervalMinutes = 30
	created, err := repo.Upsert(ctx, changed)
	require.NoError(t, err)
	assert.False(t, created)

	all, err := repo.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "Daily Renamed", all[0].Name)
	assert.Equal(t, 30, all[0].FetchIntervalMinutes)
	assert.True(t, all[0].LastFetchedAt.Valid, "bookkeeping survives re-import")
}

func TestMarkFetchedCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	repo := NewSourceRepository(newTestDB(t))
	src := addSource(t, repo, "CAS", "https://cas.example/rss", true)

	first := time.Date(2025, 1, 1, 10, 0, 0, 123456789, time.UTC)
	ok, err := repo.MarkFetched(ctx, src.ID, sql.NullTime{}, first, "")
	require.NoError(t, err)
	assert.True(t, ok)

	// A second run that also read NULL loses the race.
	ok, err = repo.MarkFetched(ctx, src.ID, sql.NullTime{}, first.Add(time.Minute), "")
	require.NoError(t, err)
	assert.False(t, ok)

	// A run that read the stored value wins.
	sources, err := repo.ActiveSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	require.True(t, sources[0].LastFetchedAt.Valid)
	assert.True(t, first.Equal(sources[0].LastFetchedAt.Time))

	ok, err = repo.MarkFetched(ctx, src.ID, sources[0].LastFetchedAt, first.Add(time.Hour), "parse feed: malformed rss")
	require.NoError(t, err)
	assert.True(t, ok)

	sources, err = repo.ActiveSources(ctx)
	require.NoError(t, err)
	assert.True(t, first.Add(time.Hour).Equal(sources[0].LastFetchedAt.Time))
	assert.Equal(t, "parse feed: malformed rss", sources[0].LastError.String)
}

func TestRecordFailureKeepsSourceDue(t *testing.T) {
	ctx := context.Background()
	repo := NewSourceRepository(newTestDB(t))
	src := addSource(t, repo, "Flaky", "https://flaky.example/rss", true)

	require.NoError(t, repo.RecordFailure(ctx, src.ID, "fetch https://flaky.example/rss: status 503", time.Now()))
	require.NoError(t, repo.RecordFailure(ctx, src.ID, "fetch https://flaky.example/rss: status 503", time.Now()))

	sources, err := repo.ActiveSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sources[0].FailuresCount)
	assert.False(t, sources[0].LastFetchedAt.Valid)
	assert.Contains(t, sources[0].LastError.String, "status 503")
}

func testItem(guid string, published time.Time) feed.Item {
	return feed.Item{
		GUID:        guid,
		Title:       "Title " + guid,
		Link:        "https://news.example.com/" + guid,
		Description: "body",
		PublishedAt: published,
		SourceID:    1,
		SourceName:  "Example",
		CountryCode: "NG",
	}
}

func TestInsertIgnore(t *testing.T) {
	ctx := context.Background()
	repo := NewItemRepository(newTestDB(t))
	published := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	added, err := repo.InsertIgnore(ctx, testItem("a", published))
	require.NoError(t, err)
	assert.True(t, added)

	dup := testItem("a", published)
	dup.Title = "Changed title"
	added, err = repo.InsertIgnore(ctx, dup)
	require.NoError(t, err)
	assert.False(t, added)

	items, err := repo.FetchItems(ctx, ItemQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Title a", items[0].Title, "existing row is never overwritten")
	assert.True(t, published.Equal(items[0].PublishedAt))
	assert.False(t, items[0].ImageURL.Valid)
}

func TestFetchItemsFiltersAndPages(t *testing.T) {
	ctx := context.Background()
	repo := NewItemRepository(newTestDB(t))
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := repo.InsertIgnore(ctx, testItem(fmt.Sprintf("ng-%d", i), base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}
	other := testItem("ke-0", base.Add(10*time.Hour))
	other.CountryCode = "KE"
	other.SourceName = "Nairobi Daily"
	_, err := repo.InsertIgnore(ctx, other)
	require.NoError(t, err)

	page, err := repo.FetchItems(ctx, ItemQuery{CountryCode: "ng", Limit: 3})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "ng-4", page[0].GUID)
	assert.Equal(t, "ng-2", page[2].GUID)

	last := page[len(page)-1]
	next, err := repo.FetchItems(ctx, ItemQuery{CountryCode: "NG", Limit: 3, BeforePublished: last.PublishedAt, BeforeID: last.ID})
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.Equal(t, "ng-1", next[0].GUID)
	assert.Equal(t, "ng-0", next[1].GUID)

	bySource, err := repo.FetchItems(ctx, ItemQuery{SourceName: "Nairobi Daily", Limit: 10})
	require.NoError(t, err)
	require.Len(t, bySource, 1)
	assert.Equal(t, "ke-0", bySource[0].GUID)
}

func TestPurgeOlderThan(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewItemRepository(db)

	_, err := repo.InsertIgnore(ctx, testItem("old", time.Now()))
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE feed_items SET created_at = ? WHERE guid = 'old'`, time.Now().UTC().AddDate(0, 0, -10))
	require.NoError(t, err)
	_, err = repo.InsertIgnore(ctx, testItem("fresh", time.Now()))
	require.NoError(t, err)

	n, err := repo.PurgeOlderThan(ctx, time.Now().AddDate(0, 0, -3))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	items, err := repo.FetchItems(ctx, ItemQuery{Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "fresh", items[0].GUID)
}
