// Package metrics exposes the scraper's Prometheus metrics over HTTP.
// All metrics are defined in their respective packages (client, ratelimit,
// pagination) and registered via promauto on the default registry.
//
// Search Metrics (pkg/client):
//   - lemana_search_requests_total{status} (Counter): Search requests by HTTP status
//   - lemana_search_request_duration_seconds (Histogram): Search request duration
//   - lemana_search_errors_total{class} (Counter): Failures by class (malformed_response, timeout, http_status, transport, unknown)
//
// Rate Limit Metrics (pkg/ratelimit):
//   - lemana_rate_limit_remaining (Gauge): Calls remaining in the current window
//   - lemana_rate_limit_cooldowns_total (Counter): Cooldowns triggered by a low rate limit
//   - lemana_rate_limit_cooldown_seconds (Histogram): Cooldown lengths
//
// Scrape Metrics (pkg/pagination):
//   - lemana_pages_total (Counter): Pages fetched
//   - lemana_rows_written_total (Counter): Rows written to the output file
//   - lemana_duplicates_skipped_total (Counter): Items dropped by the dedupe window
//   - lemana_timeout_retries_total (Counter): Timeout retries spent
//   - lemana_runs_total{outcome} (Counter): Scrapes by outcome (done, checkpointed, aborted)
//   - lemana_catalog_items (Gauge): Item count last reported by the API
//
// Example Prometheus Queries:
//
//	# Scrape throughput
//	rate(lemana_rows_written_total[5m])
//
//	# Window close to exhaustion
//	lemana_rate_limit_remaining < 5000
//
//	# P95 search latency
//	histogram_quantile(0.95, rate(lemana_search_request_duration_seconds_bucket[5m]))
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the Prometheus registry every scraper metric lives in.
var Registry = prometheus.DefaultRegisterer

// Handler returns the mux serving /metrics and /health.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler)
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// Serve runs the metrics server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	}
}
