// Package process runs ingestion: it decides which sources are due, retrieves
// and parses their documents, stores new items and keeps per-source bookkeeping.
package process

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reddot-watch/ingestor/internal/feed"
	"reddot-watch/ingestor/internal/fetch"
	"reddot-watch/ingestor/internal/metrics"
	"reddot-watch/ingestor/internal/models"
)

const (
	defaultRunTimeout         = 5 * time.Minute
	defaultBookkeepingTimeout = 15 * time.Second
)

// Options tunes an Orchestrator. Zero values fall back to defaults.
type Options struct {
	WorkerCount        int
	RunTimeout         time.Duration
	BookkeepingTimeout time.Duration
	Metrics            *metrics.Metrics
	Now                func() time.Time
}

// Orchestrator runs ingestion passes over the active sources.
type Orchestrator struct {
	registry SourceRegistry
	fetcher  fetch.Fetcher
	writer   *Writer
	books    *Bookkeeper
	metrics  *metrics.Metrics
	now      func() time.Time

	WorkerCount int
	runTimeout  time.Duration

	// ids of sources being processed by any run of this orchestrator
	inflight sync.Map
}

// NewOrchestrator wires the registry, item store and fetcher into a runner.
func NewOrchestrator(registry SourceRegistry, items ItemStore, fetcher fetch.Fetcher, opts Options) (*Orchestrator, error) {
	if registry == nil {
		return nil, fmt.Errorf("source registry cannot be nil")
	}
	if items == nil {
		return nil, fmt.Errorf("item store cannot be nil")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher cannot be nil")
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = runtime.NumCPU()
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = defaultRunTimeout
	}
	if opts.BookkeepingTimeout <= 0 {
		opts.BookkeepingTimeout = defaultBookkeepingTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Orchestrator{
		registry:    registry,
		fetcher:     fetcher,
		writer:      NewWriter(items),
		books:       NewBookkeeper(registry, opts.BookkeepingTimeout, opts.Now),
		metrics:     opts.Metrics,
		now:         opts.Now,
		WorkerCount: opts.WorkerCount,
		runTimeout:  opts.RunTimeout,
	}, nil
}

// Run performs one pass over all active sources and returns its report.
//
// Only a failure to enumerate sources is returned as an error. Every other
// failure is attributed to its source in the report. Sources still queued or
// in flight when the run deadline passes are reported as timed out.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	start := o.now()
	report := newReport(start)
	logger := log.With().Str("run_id", report.RunID).Logger()

	runCtx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	sources, err := o.registry.ActiveSources(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("Critical error loading sources")
		o.metrics.ObserveRun(o.now().Sub(start), true)
		return nil, &RegistryError{Err: err}
	}
	report.SourcesProcessed = len(sources)

	var due []models.FeedSource
	for _, src := range sources {
		if !IsDue(src, start) {
			report.SourcesSkipped++
			o.metrics.ObserveSource(metrics.OutcomeSkipped)
			continue
		}
		if _, busy := o.inflight.LoadOrStore(src.ID, struct{}{}); busy {
			logger.Info().Int64("source_id", src.ID).Str("source", src.Name).Msg("Source already in flight in another run, skipping")
			report.SourcesSkipped++
			o.metrics.ObserveSource(metrics.OutcomeBusy)
			continue
		}
		due = append(due, src)
	}
	report.SourcesDue = len(due)

	logger.Info().
		Int("active", len(sources)).
		Int("due", len(due)).
		Int("worker_count", o.WorkerCount).
		Msg("Starting run")

	o.dispatch(runCtx, logger, due, report)

	report.finish(o.now())
	o.metrics.ObserveRun(report.Duration, false)

	logger.Info().
		Int("items_added", report.ItemsAdded).
		Int("sources_processed", report.SourcesProcessed).
		Int("sources_skipped", report.SourcesSkipped).
		Int("sources_failed", report.SourcesFailed).
		Dur("duration", report.Duration).
		Msg("Run finished")

	return report, nil
}

// dispatch fans due sources out to the worker pool and folds results into
// report until every source answered or ctx is done.
func (o *Orchestrator) dispatch(ctx context.Context, logger zerolog.Logger, due []models.FeedSource, report *RunReport) {
	if len(due) == 0 {
		return
	}

	queue := make(chan models.FeedSource)
	// buffered so workers never block on a collector that stopped listening
	results := make(chan sourceResult, len(due))

	var wg sync.WaitGroup
	workers := min(o.WorkerCount, len(due))
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go o.worker(ctx, &wg, queue, results)
	}

	go func() {
		defer close(queue)
		for i, src := range due {
			select {
			case queue <- src:
			case <-ctx.Done():
				// never handed out, nobody else will release them
				for _, rest := range due[i:] {
					o.inflight.Delete(rest.ID)
				}
				return
			}
		}
	}()

	pending := make(map[int64]string, len(due))
	for _, src := range due {
		pending[src.ID] = src.Name
	}

	for len(pending) > 0 {
		select {
		case res := <-results:
			delete(pending, res.id)
			report.add(res)
		case <-ctx.Done():
			o.abandon(ctx, logger, due, pending, results, report)
			return
		}
	}

	wg.Wait()
}

// abandon ends a run cut short by ctx. Results already buffered are counted
// first; whatever is still pending is reported as timed out or cancelled.
func (o *Orchestrator) abandon(ctx context.Context, logger zerolog.Logger, due []models.FeedSource, pending map[int64]string, results <-chan sourceResult, report *RunReport) {
drain:
	for len(pending) > 0 {
		select {
		case res := <-results:
			delete(pending, res.id)
			report.add(res)
		default:
			break drain
		}
	}
	if len(pending) == 0 {
		return
	}

	reason := "timed out"
	outcome := metrics.OutcomeTimedOut
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = "cancelled"
	}
	logger.Warn().
		Err(ctx.Err()).
		Int("unfinished", len(pending)).
		Msg("Run deadline reached before all sources finished")
	for _, src := range due {
		if name, ok := pending[src.ID]; ok {
			report.fail(name, errors.New(reason))
			o.metrics.ObserveSource(outcome)
		}
	}
}

func (o *Orchestrator) worker(ctx context.Context, wg *sync.WaitGroup, queue <-chan models.FeedSource, results chan<- sourceResult) {
	defer wg.Done()
	for src := range queue {
		res := o.processSource(ctx, src)
		o.inflight.Delete(src.ID)
		results <- res
	}
}

// processSource runs fetch, parse, write and bookkeeping for one source.
// Stages are sequential; any failure ends the source with an error in the result.
func (o *Orchestrator) processSource(ctx context.Context, src models.FeedSource) sourceResult {
	res := sourceResult{id: src.ID, name: src.Name}
	logger := log.With().Int64("source_id", src.ID).Str("source", src.Name).Logger()
	logger.Debug().Str("url", src.URL).Msg("Processing source")

	fetchStart := o.now()
	body, err := o.fetcher.Fetch(ctx, src.URL)
	o.metrics.ObserveFetch(o.now().Sub(fetchStart))
	if err != nil {
		var ferr *fetch.Error
		if !errors.As(err, &ferr) {
			err = &fetch.Error{URL: src.URL, Err: err}
		}
		logger.Warn().Err(err).Msg("Fetch failed, source stays due")
		if bkErr := o.books.Failed(ctx, src, err); bkErr != nil {
			logger.Error().Err(bkErr).Msg("Failed to record fetch failure")
		}
		o.metrics.ObserveSource(metrics.OutcomeFetchFailed)
		res.err = err
		return res
	}

	doc, err := feed.Parse(body)
	if err != nil {
		logger.Warn().Err(err).Int("bytes", len(body)).Msg("Parse failed")
		if bkErr := o.books.Advance(ctx, src, err.Error()); bkErr != nil {
			logger.Error().Err(bkErr).Msg("Failed to update last_fetched_at")
			err = errors.Join(err, fmt.Errorf("bookkeeping: %w", bkErr))
		}
		o.metrics.ObserveSource(metrics.OutcomeParseFailed)
		res.err = err
		return res
	}

	items, invalid := doc.Items(toFeedSource(src), o.now())
	for _, e := range invalid {
		logger.Debug().Err(e).Msg("Skipping invalid element")
	}

	written, writeErr := o.writer.Write(ctx, items)
	res.added = written.Added
	o.metrics.ObserveItems(written.Added, written.Duplicates, len(invalid), written.Failed)

	note := ""
	if writeErr != nil {
		logger.Error().Err(writeErr).Int("failed", written.Failed).Msg("Some items could not be stored")
		note = writeErr.Error()
		res.err = writeErr
	}
	if bkErr := o.books.Advance(ctx, src, note); bkErr != nil {
		logger.Error().Err(bkErr).Msg("Failed to update last_fetched_at")
		res.err = errors.Join(res.err, fmt.Errorf("bookkeeping: %w", bkErr))
	}

	o.metrics.ObserveSource(metrics.OutcomeDone)
	logger.Info().
		Str("format", doc.Kind.String()).
		Int("parsed", len(items)).
		Int("added", written.Added).
		Int("duplicates", written.Duplicates).
		Msg("Source processed")
	return res
}

func toFeedSource(src models.FeedSource) feed.Source {
	return feed.Source{
		ID:          src.ID,
		Name:        src.Name,
		URL:         src.URL,
		CountryCode: src.CountryCode.String,
		CountryName: src.CountryName.String,
		Category:    src.Category.String,
	}
}
