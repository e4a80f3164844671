package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"
	"golang.org/x/sync/singleflight"

	"reddot-watch/ingestor/internal/process"
)

// Runner executes one ingestion run.
type Runner interface {
	Run(ctx context.Context) (*process.RunReport, error)
}

type refreshResponse struct {
	Success          bool      `json:"success"`
	ItemsAdded       int       `json:"itemsAdded"`
	SourcesProcessed int       `json:"sourcesProcessed"`
	Errors           []string  `json:"errors,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
	RunID            string    `json:"runId"`
}

// ErrorResponse is the body of every failed trigger call.
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// RefreshHandler triggers ingestion runs. Calls arriving while a run is in
// progress wait for that run and receive its report.
type RefreshHandler struct {
	runner Runner
	group  singleflight.Group
	now    func() time.Time
}

// NewRefreshHandler creates a new handler instance.
func NewRefreshHandler(runner Runner) *RefreshHandler {
	return &RefreshHandler{runner: runner, now: time.Now}
}

// Refresh runs the orchestrator and reports the outcome as JSON.
func (h *RefreshHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	// the run outlives a disconnected client; it has its own deadline
	ctx := context.WithoutCancel(r.Context())
	v, err, shared := h.group.Do("refresh", func() (any, error) {
		return h.runner.Run(ctx)
	})
	if err != nil {
		log.Error().Err(err).Bool("shared", shared).Msg("Refresh run failed")
		WriteError(w, r, http.StatusInternalServerError, err.Error(), h.now())
		return
	}

	report := v.(*process.RunReport)
	log.Info().
		Str("run_id", report.RunID).
		Bool("shared", shared).
		Int("items_added", report.ItemsAdded).
		Int("sources_processed", report.SourcesProcessed).
		Int("errors", len(report.Errors)).
		Msg("Refresh completed")

	writeJSON(w, r, http.StatusOK, refreshResponse{
		Success:          true,
		ItemsAdded:       report.ItemsAdded,
		SourcesProcessed: report.SourcesProcessed,
		Errors:           report.Errors,
		Timestamp:        report.Timestamp,
		RunID:            report.RunID,
	})
}

// WriteError writes the trigger error envelope.
func WriteError(w http.ResponseWriter, r *http.Request, status int, msg string, now time.Time) {
	writeJSON(w, r, status, ErrorResponse{Success: false, Error: msg, Timestamp: now.UTC()})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	log := hlog.FromRequest(r)

	jsonBytes, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling JSON response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(jsonBytes); err != nil {
		log.Error().Err(err).Msg("Error writing JSON response body to client")
	}
}
