package process

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
)

// RunReport is the outcome of one run. It is owned by the goroutine driving
// the run and only returned once the run is over.
type RunReport struct {
	RunID            string        `json:"runId"`
	StartedAt        time.Time     `json:"startedAt"`
	Timestamp        time.Time     `json:"timestamp"`
	Duration         time.Duration `json:"-"`
	SourcesProcessed int           `json:"sourcesProcessed"`
	SourcesDue       int           `json:"sourcesDue"`
	SourcesSkipped   int           `json:"sourcesSkipped"`
	SourcesFailed    int           `json:"sourcesFailed"`
	ItemsAdded       int           `json:"itemsAdded"`
	Errors           []string      `json:"errors,omitempty"`
}

func newReport(start time.Time) *RunReport {
	return &RunReport{
		RunID:     xid.NewWithTime(start).String(),
		StartedAt: start.UTC(),
	}
}

// sourceResult is what one worker hands back for one source.
type sourceResult struct {
	id    int64
	name  string
	added int
	err   error
}

func (r *RunReport) add(res sourceResult) {
	r.ItemsAdded += res.added
	if res.err != nil {
		r.fail(res.name, res.err)
	}
}

func (r *RunReport) fail(source string, err error) {
	r.SourcesFailed++
	// joined errors are flattened to keep one line per source
	msg := strings.ReplaceAll(err.Error(), "\n", "; ")
	r.Errors = append(r.Errors, fmt.Sprintf("%s: %s", source, msg))
}

func (r *RunReport) finish(end time.Time) {
	r.Timestamp = end.UTC()
	r.Duration = end.Sub(r.StartedAt)
}
