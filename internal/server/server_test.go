package server

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reddot-watch/ingestor/internal/models"
	"reddot-watch/ingestor/internal/process"
	"reddot-watch/ingestor/internal/server/pagination"
	"reddot-watch/ingestor/internal/storage"
)

type fakeRunner struct {
	mu     sync.Mutex
	calls  int
	report *process.RunReport
	err    error
}

func (f *fakeRunner) Run(context.Context) (*process.RunReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.report, f.err
}

type fakeItems struct {
	rows []models.FeedItem
	got  storage.ItemQuery
	err  error
}

func (f *fakeItems) FetchItems(_ context.Context, q storage.ItemQuery) ([]models.FeedItem, error) {
	f.got = q
	if f.err != nil {
		return nil, f.err
	}
	if len(f.rows) > q.Limit {
		return f.rows[:q.Limit], nil
	}
	return f.rows, nil
}

type fakeSources []models.FeedSource

func (f fakeSources) All(context.Context) ([]models.FeedSource, error) { return f, nil }

type fakeHealth struct{ err error }

func (f fakeHealth) Check(context.Context) error { return f.err }

var stamp = time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC)

func newTestHandler(opts Options) http.Handler {
	if opts.Secrets == nil {
		opts.Secrets = []string{"cron-secret", "service-key"}
	}
	return NewHandler(opts, zerolog.Nop())
}

func do(h http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRefreshRejectsMissingOrWrongCredentials(t *testing.T) {
	runner := &fakeRunner{report: &process.RunReport{}}
	h := newTestHandler(Options{Runner: runner})

	for name, header := range map[string]map[string]string{
		"none":         nil,
		"wrong bearer": {"Authorization": "Bearer nope"},
		"basic scheme": {"Authorization": "Basic cron-secret"},
		"wrong key":    {"X-API-Key": "nope"},
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(h, http.MethodPost, "/v1/refresh", header)
			require.Equal(t, http.StatusUnauthorized, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, false, body["success"])
			assert.Equal(t, process.ErrUnauthorized.Error(), body["error"])
			assert.NotEmpty(t, body["timestamp"])
		})
	}
	assert.Zero(t, runner.calls)
}

func TestRefreshAcceptsEitherCredential(t *testing.T) {
	runner := &fakeRunner{report: &process.RunReport{
		RunID:            "cvq0000000000000000g",
		Timestamp:        stamp,
		SourcesProcessed: 4,
		ItemsAdded:       7,
		Errors:           []string{"Broken Feed: parse: no items"},
	}}
	h := newTestHandler(Options{Runner: runner})

	cases := []struct {
		method string
		header map[string]string
	}{
		{http.MethodPost, map[string]string{"Authorization": "Bearer cron-secret"}},
		{http.MethodPost, map[string]string{"X-API-Key": "service-key"}},
		{http.MethodGet, map[string]string{"Authorization": "Bearer service-key"}},
	}
	for _, c := range cases {
		rec := do(h, c.method, "/v1/refresh", c.header)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var body struct {
			Success          bool      `json:"success"`
			ItemsAdded       int       `json:"itemsAdded"`
			SourcesProcessed int       `json:"sourcesProcessed"`
			Errors           []string  `json:"errors"`
			Timestamp        time.Time `json:"timestamp"`
			RunID            string    `json:"runId"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.Success)
		assert.Equal(t, 7, body.ItemsAdded)
		assert.Equal(t, 4, body.SourcesProcessed)
		assert.Equal(t, []string{"Broken Feed: parse: no items"}, body.Errors)
		assert.True(t, stamp.Equal(body.Timestamp))
		assert.Equal(t, "cvq0000000000000000g", body.RunID)
	}
	assert.Equal(t, 3, runner.calls)
}

func TestRefreshOmitsEmptyErrors(t *testing.T) {
	h := newTestHandler(Options{Runner: &fakeRunner{report: &process.RunReport{Timestamp: stamp}}})

	rec := do(h, http.MethodPost, "/v1/refresh", map[string]string{"X-API-Key": "cron-secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"errors"`)
}

func TestRefreshFatalErrorIs500(t *testing.T) {
	runner := &fakeRunner{err: &process.RegistryError{Err: errors.New("database is locked")}}
	h := newTestHandler(Options{Runner: runner})

	rec := do(h, http.MethodPost, "/v1/refresh", map[string]string{"Authorization": "Bearer cron-secret"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "database is locked")
}

func TestRefreshDisabledWithoutRunner(t *testing.T) {
	h := newTestHandler(Options{})

	rec := do(h, http.MethodPost, "/v1/refresh", map[string]string{"Authorization": "Bearer cron-secret"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmptySecretNeverAuthorizes(t *testing.T) {
	runner := &fakeRunner{report: &process.RunReport{}}
	h := NewHandler(Options{Runner: runner, Secrets: []string{"", ""}}, zerolog.Nop())

	rec := do(h, http.MethodPost, "/v1/refresh", map[string]string{"X-API-Key": ""})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = do(h, http.MethodPost, "/v1/refresh", map[string]string{"Authorization": "Bearer "})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Zero(t, runner.calls)
}

func itemRows(n int) []models.FeedItem {
	rows := make([]models.FeedItem, n)
	for i := range rows {
		rows[i] = models.FeedItem{
			ID:          int64(100 - i),
			GUID:        "guid-" + string(rune('a'+i)),
			Title:       "Story",
			Link:        "https://news.example/story",
			PublishedAt: stamp.Add(-time.Duration(i) * time.Hour),
			SourceName:  "Daily Example",
			CountryCode: sql.NullString{String: "NG", Valid: true},
		}
	}
	return rows
}

func TestItemsDefaultsAndPaging(t *testing.T) {
	items := &fakeItems{rows: itemRows(3)}
	h := newTestHandler(Options{Items: items})

	rec := do(h, http.MethodGet, "/v1/items?limit=2&country=ng&source=Daily%20Example", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, 3, items.got.Limit)
	assert.Equal(t, "ng", items.got.CountryCode)
	assert.Equal(t, "Daily Example", items.got.SourceName)
	assert.Zero(t, items.got.BeforeID)

	var body struct {
		Items []struct {
			ID       int64   `json:"id"`
			ImageURL *string `json:"image_url"`
			Country  *string `json:"country_code"`
		} `json:"items"`
		NextCursor *string `json:"next_cursor"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 2)
	assert.Nil(t, body.Items[0].ImageURL)
	require.NotNil(t, body.Items[0].Country)
	assert.Equal(t, "NG", *body.Items[0].Country)
	require.NotNil(t, body.NextCursor)

	cursor, err := pagination.DecodeCursor(*body.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, int64(99), cursor.ID)
	assert.True(t, stamp.Add(-time.Hour).Equal(cursor.PublishedAt))

	rec = do(h, http.MethodGet, "/v1/items?cursor="+*body.NextCursor, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(99), items.got.BeforeID)
	assert.Equal(t, 21, items.got.Limit)
}

func TestItemsLastPageHasNoCursor(t *testing.T) {
	h := newTestHandler(Options{Items: &fakeItems{rows: itemRows(2)}})

	rec := do(h, http.MethodGet, "/v1/items", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "next_cursor")
}

func TestItemsRejectsBadParameters(t *testing.T) {
	h := newTestHandler(Options{Items: &fakeItems{}})

	for _, q := range []string{"limit=0", "limit=101", "limit=ten", "cursor=%21%21"} {
		rec := do(h, http.MethodGet, "/v1/items?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestItemsRepositoryError(t *testing.T) {
	h := newTestHandler(Options{Items: &fakeItems{err: errors.New("disk I/O error")}})

	rec := do(h, http.MethodGet, "/v1/items", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealth(t *testing.T) {
	rec := do(newTestHandler(Options{Health: fakeHealth{}}), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = do(newTestHandler(Options{Health: fakeHealth{err: errors.New("closed")}}), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(newTestHandler(Options{}), http.MethodPost, "/health", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestExportSources(t *testing.T) {
	sources := fakeSources{
		{
			Name: "Daily Example", URL: "https://daily.example/rss",
			CountryCode:          sql.NullString{String: "NG", Valid: true},
			FetchIntervalMinutes: 30, Active: true,
			LastFetchedAt: sql.NullTime{Time: stamp, Valid: true},
		},
		{Name: "Quiet", URL: "https://quiet.example/atom", FetchIntervalMinutes: 60, FailuresCount: 2,
			LastError: sql.NullString{String: "status 503", Valid: true}},
	}
	h := newTestHandler(Options{Sources: sources})

	rec := do(h, http.MethodGet, "/v1/sources", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(h, http.MethodGet, "/v1/sources", map[string]string{"X-API-Key": "service-key"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))

	records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, exportHeader, records[0])
	assert.Equal(t, []string{
		"https://daily.example/rss", "Daily Example", "NG", "", "", "30", "true",
		"2025-04-01T09:30:00Z", "0", "",
	}, records[1])
	assert.Equal(t, "false", records[2][6])
	assert.Equal(t, "status 503", records[2][9])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "ingestor_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	rec := do(newTestHandler(Options{Gatherer: reg}), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ingestor_test_total 1")

	rec = do(newTestHandler(Options{}), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
