package importsources

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"reddot-watch/ingestor/internal/models"
)

// SourceStore persists imported sources.
type SourceStore interface {
	Upsert(ctx context.Context, src *models.FeedSource) (bool, error)
}

// Entry is one source as written in a CSV row or YAML list element.
type Entry struct {
	URL                  string `yaml:"url"`
	Name                 string `yaml:"name"`
	CountryCode          string `yaml:"country_code"`
	CountryName          string `yaml:"country_name"`
	Category             string `yaml:"category"`
	FetchIntervalMinutes int    `yaml:"fetch_interval_minutes"`
	Active               *bool  `yaml:"active"`
}

// Summary counts what an import did. Errors holds one line per rejected entry.
type Summary struct {
	Created int
	Updated int
	Errors  []string
}

// Importer handles the source import process
type Importer struct {
	store  SourceStore
	client *http.Client
}

// NewImporter creates a new source importer
func NewImporter(store SourceStore) *Importer {
	return &Importer{store: store, client: &http.Client{Timeout: 30 * time.Second}}
}

// Import reads sources from a local file or an http(s) URL. Files ending in
// .yaml or .yml are read as YAML, anything else as CSV.
func (i *Importer) Import(ctx context.Context, location string) (Summary, error) {
	log.Info().Str("location", location).Msg("Starting source import")

	r, err := i.open(ctx, location)
	if err != nil {
		return Summary{}, err
	}
	defer r.Close()

	var summary Summary
	switch strings.ToLower(filepath.Ext(pathOf(location))) {
	case ".yaml", ".yml":
		summary, err = i.ImportYAML(ctx, r)
	default:
		summary, err = i.ImportCSV(ctx, r)
	}
	if err != nil {
		return summary, fmt.Errorf("failed to import sources: %w", err)
	}

	log.Info().
		Int("created", summary.Created).
		Int("updated", summary.Updated).
		Int("errors", len(summary.Errors)).
		Msg("Import summary")
	return summary, nil
}

func pathOf(location string) string {
	if u, err := url.Parse(location); err == nil && u.Scheme != "" {
		return u.Path
	}
	return location
}

func (i *Importer) open(ctx context.Context, location string) (io.ReadCloser, error) {
	if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
		f, err := os.Open(location)
		if err != nil {
			return nil, fmt.Errorf("source file not found: %w", err)
		}
		return f, nil
	}

	log.Debug().Str("url", location).Msg("Downloading source list")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download source list: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to download source list: HTTP status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// ImportCSV reads a CSV whose header names at least the url column. Known
// columns are url, name, country_code, country_name, category,
// fetch_interval_minutes and active; others are ignored.
func (i *Importer) ImportCSV(ctx context.Context, data io.Reader) (Summary, error) {
	reader := csv.NewReader(data)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return Summary{}, fmt.Errorf("failed to read CSV header: %w", err)
	}
	log.Debug().Strs("header", header).Msg("CSV header read")

	urlIdx := findColumnIndex(header, "url")
	if urlIdx < 0 {
		return Summary{}, errors.New("required column 'url' not found in CSV header")
	}
	nameIdx := findColumnIndex(header, "name")
	countryCodeIdx := findColumnIndex(header, "country_code")
	countryNameIdx := findColumnIndex(header, "country_name")
	categoryIdx := findColumnIndex(header, "category")
	intervalIdx := findColumnIndex(header, "fetch_interval_minutes")
	activeIdx := findColumnIndex(header, "active")

	var summary Summary
	lineCount := 1 // Header was already read
	for {
		lineCount++
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn().Err(err).Int("line", lineCount).Msg("Error reading CSV line")
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", lineCount, err))
			continue
		}
		if len(record) == 0 || (len(record) == 1 && record[0] == "") {
			continue
		}

		entry := Entry{
			URL:         safeGetValue(record, urlIdx),
			Name:        safeGetValue(record, nameIdx),
			CountryCode: safeGetValue(record, countryCodeIdx),
			CountryName: safeGetValue(record, countryNameIdx),
			Category:    safeGetValue(record, categoryIdx),
		}
		if v := safeGetValue(record, intervalIdx); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: invalid fetch_interval_minutes %q", lineCount, v))
				continue
			}
			entry.FetchIntervalMinutes = n
		}
		if v := safeGetValue(record, activeIdx); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: invalid active %q", lineCount, v))
				continue
			}
			entry.Active = &b
		}

		if err := i.upsert(ctx, entry, &summary); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("line %d: %v", lineCount, err))
		}
	}
	return summary, nil
}

// ImportYAML reads a YAML list of entries.
func (i *Importer) ImportYAML(ctx context.Context, data io.Reader) (Summary, error) {
	var entries []Entry
	if err := yaml.NewDecoder(data).Decode(&entries); err != nil && !errors.Is(err, io.EOF) {
		return Summary{}, fmt.Errorf("failed to decode YAML: %w", err)
	}

	var summary Summary
	for n, entry := range entries {
		if err := i.upsert(ctx, entry, &summary); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("entry %d: %v", n+1, err))
		}
	}
	return summary, nil
}

func (i *Importer) upsert(ctx context.Context, entry Entry, summary *Summary) error {
	src, err := entry.toSource()
	if err != nil {
		return err
	}

	logger := log.With().Str("url", src.URL).Str("name", src.Name).Logger()
	created, err := i.store.Upsert(ctx, src)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to store source")
		return err
	}
	if created {
		summary.Created++
		logger.Debug().Msg("Source created")
	} else {
		summary.Updated++
		logger.Debug().Msg("Source updated")
	}
	return nil
}

func (e Entry) toSource() (*models.FeedSource, error) {
	raw := strings.TrimSpace(e.URL)
	if raw == "" {
		return nil, errors.New("empty URL")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid URL %q", raw)
	}
	if e.FetchIntervalMinutes < 0 {
		return nil, fmt.Errorf("fetch_interval_minutes must be positive, got %d", e.FetchIntervalMinutes)
	}

	src := models.NewFeedSource()
	src.URL = raw
	src.Name = strings.TrimSpace(e.Name)
	if src.Name == "" {
		src.Name = u.Host
	}
	src.CountryCode = nullString(strings.ToUpper(strings.TrimSpace(e.CountryCode)))
	src.CountryName = nullString(strings.TrimSpace(e.CountryName))
	src.Category = nullString(strings.TrimSpace(e.Category))
	if e.FetchIntervalMinutes > 0 {
		src.FetchIntervalMinutes = e.FetchIntervalMinutes
	}
	if e.Active != nil {
		src.Active = *e.Active
	}
	return src, nil
}

func findColumnIndex(header []string, columnName string) int {
	for i, col := range header {
		if strings.EqualFold(strings.TrimSpace(col), columnName) {
			return i
		}
	}
	return -1
}

// safeGetValue returns the trimmed value at index, or "" when the row is short.
func safeGetValue(record []string, index int) string {
	if index >= 0 && index < len(record) {
		return strings.TrimSpace(record[index])
	}
	return ""
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
