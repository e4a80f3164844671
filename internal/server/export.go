package server

import (
	"context"
	"database/sql"
	"encoding/csv"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"reddot-watch/ingestor/internal/models"
)

// SourceLister returns every registered source.
type SourceLister interface {
	All(ctx context.Context) ([]models.FeedSource, error)
}

// exportHeader starts with the importer's columns so an export can be fed
// back through `ingestor import`.
var exportHeader = []string{
	"url", "name", "country_code", "country_name", "category", "fetch_interval_minutes", "active",
	"last_fetched_at", "failures_count", "last_error",
}

// exportSourcesHandler returns a handler that exports all sources as a CSV file
func exportSourcesHandler(repo SourceLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)
		log.Debug().Msg("Export sources request received")

		sources, err := repo.All(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to query sources")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", "attachment; filename=sources.csv")

		csvWriter := csv.NewWriter(w)
		if err := csvWriter.Write(exportHeader); err != nil {
			log.Error().Err(err).Msg("Failed to write CSV header")
			http.Error(w, "Error generating CSV", http.StatusInternalServerError)
			return
		}

		for _, src := range sources {
			record := []string{
				src.URL,
				src.Name,
				nullStringValue(src.CountryCode),
				nullStringValue(src.CountryName),
				nullStringValue(src.Category),
				strconv.Itoa(src.FetchIntervalMinutes),
				strconv.FormatBool(src.Active),
				nullTimeValue(src.LastFetchedAt),
				strconv.Itoa(src.FailuresCount),
				nullStringValue(src.LastError),
			}
			if err := csvWriter.Write(record); err != nil {
				log.Error().Err(err).Msg("Failed to write CSV record")
				return
			}
		}

		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			log.Error().Err(err).Msg("Error flushing CSV data")
			return
		}

		log.Info().Int("source_count", len(sources)).Msg("Exported sources as CSV")
	}
}

// nullStringValue returns the string value of a sql.NullString or an empty string if not valid
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

func nullTimeValue(nt sql.NullTime) string {
	if nt.Valid {
		return nt.Time.UTC().Format(time.RFC3339)
	}
	return ""
}
