package pagination

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/Sternrassler/lemana-scraper/pkg/catalog"
	"github.com/Sternrassler/lemana-scraper/pkg/checkpoint"
	"github.com/Sternrassler/lemana-scraper/pkg/client"
	"github.com/Sternrassler/lemana-scraper/pkg/export"
	"github.com/Sternrassler/lemana-scraper/pkg/ratelimit"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for scrape progress.
var (
	pagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lemana_pages_total",
		Help: "Total catalogue pages fetched",
	})

	rowsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lemana_rows_written_total",
		Help: "Total rows written to the output file",
	})

	duplicatesSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lemana_duplicates_skipped_total",
		Help: "Total items skipped because their id was already written",
	})

	timeoutRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lemana_timeout_retries_total",
		Help: "Total timeout retries spent",
	})

	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lemana_runs_total",
		Help: "Total scrapes by outcome",
	}, []string{"outcome"})

	catalogItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lemana_catalog_items",
		Help: "Item count last reported by the search API",
	})
)

// Searcher fetches one page of search results.
type Searcher interface {
	Search(ctx context.Context, req client.SearchRequest) (*client.SearchResponse, error)
}

// CheckpointStore persists the resume point of a failed run.
type CheckpointStore interface {
	Save(cp checkpoint.Checkpoint) error
}

// Driver runs scrapes one page at a time.
type Driver struct {
	searcher    Searcher
	tracker     *ratelimit.Tracker
	checkpoints CheckpointStore
	config      Config
	logger      zerolog.Logger

	sleep    func(ctx context.Context, d time.Duration) error
	jitter   func(max time.Duration) time.Duration
	now      func() time.Time
	newRunID func() string
}

// NewDriver creates a driver. A nil tracker uses an in-memory rate limit
// store with the default thresholds.
func NewDriver(searcher Searcher, tracker *ratelimit.Tracker, checkpoints CheckpointStore, cfg Config, logger zerolog.Logger) *Driver {
	if tracker == nil {
		tracker = ratelimit.NewTracker(nil, ratelimit.DefaultConfig(), logger)
	}
	if checkpoints == nil {
		checkpoints = checkpoint.NewFileStore("")
	}
	return &Driver{
		searcher:    searcher,
		tracker:     tracker,
		checkpoints: checkpoints,
		config:      cfg,
		logger:      logger,
		sleep:       sleepContext,
		jitter:      randomJitter,
		now:         time.Now,
		newRunID:    uuid.NewString,
	}
}

// Scrape fetches every page of a category starting at params.StartPage and
// writes the rows to the configured output, which is recreated first.
//
// The returned error only reports invalid params or an output file that
// cannot be created. Failures after the first request are handled here and
// described by the Result.
func (d *Driver) Scrape(ctx context.Context, params Params) (*Result, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scrape params: %w", err)
	}

	writer, err := export.NewCSVWriter(d.config.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("open output: %w", err)
	}

	r := &run{
		Driver: d,
		params: params,
		writer: writer,
		result: &Result{RunID: d.newRunID(), LastPage: params.StartPage},
	}
	r.logger = d.logger.With().
		Str("run_id", r.result.RunID).
		Str("category", params.Category).
		Int("region_id", params.RegionID).
		Logger()

	if d.config.DedupeWindow > 0 {
		seen, err := lru.New[string, struct{}](d.config.DedupeWindow)
		if err != nil {
			writer.Close()
			return nil, fmt.Errorf("create dedupe window: %w", err)
		}
		r.seen = seen
	}

	started := d.now()
	r.logger.Info().
		Int("start_page", params.StartPage).
		Int("timeout_retries", params.TimeoutRetries).
		Str("output", writer.Path()).
		Msg("Starting scrape")

	r.loop(ctx)

	if err := writer.Close(); err != nil {
		r.logger.Error().Err(err).Msg("Failed to close output")
	}

	res := r.result
	res.Duration = d.now().Sub(started)
	runsTotal.WithLabelValues(string(res.Outcome)).Inc()

	r.logger.Info().
		Str("outcome", string(res.Outcome)).
		Int("pages", res.Pages).
		Int("rows", res.Rows).
		Int("last_page", res.LastPage).
		Dur("duration", res.Duration).
		Msg("Scrape finished")

	return res, nil
}

// run is the state of one Scrape call.
type run struct {
	*Driver
	params Params
	writer *export.CSVWriter
	seen   *lru.Cache[string, struct{}]
	result *Result
	logger zerolog.Logger
}

func (r *run) loop(ctx context.Context) {
	template := client.NewSearchRequest(r.params.Category, r.params.RegionID, r.params.Options)
	page := r.params.StartPage
	retriesLeft := r.params.TimeoutRetries

	// A previous run may have left the window exhausted.
	if wait := r.tracker.Pending(ctx); wait > 0 {
		r.logger.Warn().Dur("cooldown", wait).Msg("Waiting for rate limit reset before first request")
		if err := r.sleep(ctx, wait); err != nil {
			r.fail(page, interrupted(err))
			return
		}
	}

	for {
		offset := client.Offset(page)
		r.result.LastPage = page

		resp, err := r.searcher.Search(ctx, template.WithOffset(offset))
		if err != nil {
			if client.ClassOf(err).Retryable() && retriesLeft > 0 && ctx.Err() == nil {
				retriesLeft--
				r.result.Retries++
				timeoutRetriesTotal.Inc()
				r.logger.Warn().
					Err(err).
					Int("page", page).
					Int("retries_left", retriesLeft).
					Dur("cooldown", r.config.TimeoutCooldown).
					Msg("Request timed out, retrying same page")

				if err := r.sleep(ctx, r.config.TimeoutCooldown); err != nil {
					r.fail(page, interrupted(err))
					return
				}
				continue
			}
			r.fail(page, err)
			return
		}

		r.result.Pages++
		r.result.Total = resp.Total
		pagesTotal.Inc()
		catalogItems.Set(float64(resp.Total))
		cooldown := r.tracker.Observe(ctx, resp.RateLimit)

		// The catalogue shrank below this page while we were scraping.
		if offset > resp.Total {
			r.logger.Info().
				Int("page", page).
				Int("offset", offset).
				Int("total", resp.Total).
				Msg("Offset beyond item count, catalogue exhausted")
			r.result.Outcome = OutcomeDone
			return
		}

		rows := r.normalize(resp.Items)
		if err := r.writer.Write(rows); err != nil {
			r.fail(page, fmt.Errorf("write rows for page %d: %w", page, err))
			return
		}
		r.result.Rows += len(rows)
		rowsWrittenTotal.Add(float64(len(rows)))

		r.logger.Info().
			Int("page", page).
			Int("offset", offset).
			Int("total", resp.Total).
			Int("items", len(resp.Items)).
			Int("rows", len(rows)).
			Float64("progress_pct", progress(offset+len(resp.Items), resp.Total)).
			Int("rate_limit_remaining", resp.RateLimit.Remaining).
			Dur("reset_in", resp.RateLimit.ResetIn).
			Msg("Page written")

		if client.Offset(page+1) >= resp.Total {
			r.result.Outcome = OutcomeDone
			return
		}
		page++

		if cooldown > 0 {
			if err := r.sleep(ctx, cooldown); err != nil {
				r.fail(page, interrupted(err))
				return
			}
		}
		if err := r.sleep(ctx, r.jitter(r.config.MaxJitter)); err != nil {
			r.fail(page, interrupted(err))
			return
		}
	}
}

// normalize maps items to rows, dropping ids already written when the
// dedupe window is enabled.
func (r *run) normalize(items []catalog.Item) []catalog.Row {
	if r.seen == nil {
		return catalog.NewRows(items)
	}

	rows := make([]catalog.Row, 0, len(items))
	for _, item := range items {
		if item.ID != "" {
			if found, _ := r.seen.ContainsOrAdd(string(item.ID), struct{}{}); found {
				r.result.Duplicates++
				duplicatesSkippedTotal.Inc()
				r.logger.Debug().Str("id", string(item.ID)).Msg("Skipping duplicate item")
				continue
			}
		}
		rows = append(rows, catalog.NewRow(item))
	}
	return rows
}

// fail ends the run. Resumable failures leave a checkpoint at page.
func (r *run) fail(page int, err error) {
	class := client.ClassOf(err)
	status := client.StatusCodeOf(err)

	r.result.LastPage = page
	r.result.ErrorClass = class
	r.result.Err = err
	r.result.Outcome = OutcomeAborted

	r.logger.Error().
		Err(err).
		Str("error_class", string(class)).
		Int("status_code", status).
		Int("page", page).
		Msg("Scrape stopped")

	if !class.Resumable() {
		return
	}

	cp := checkpoint.Checkpoint{
		Version:    checkpoint.Version,
		RunID:      r.result.RunID,
		Time:       r.now(),
		StatusCode: status,
		Reason:     err.Error(),
		LastPage:   page,
		Category:   r.params.Category,
		RegionID:   r.params.RegionID,
	}
	if err := r.checkpoints.Save(cp); err != nil {
		r.logger.Error().Err(err).Int("last_page", page).Msg("Failed to write checkpoint")
		return
	}

	r.result.Outcome = OutcomeCheckpointed
	r.logger.Info().Int("last_page", page).Msg("Checkpoint created")
}

// interrupted wraps a cancelled sleep as a transport failure so the run
// leaves a checkpoint.
func interrupted(err error) error {
	return &client.Error{Class: client.ErrorClassTransport, Message: "interrupted", Err: err}
}

func progress(done, total int) float64 {
	if total <= 0 {
		return 100
	}
	pct := float64(done) / float64(total) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
