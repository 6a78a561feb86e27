package ratelimit

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for rate limit tracking.
var (
	rateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "lemana_rate_limit_remaining",
		Help: "Calls remaining in the current search API rate limit window",
	})

	rateLimitCooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lemana_rate_limit_cooldowns_total",
		Help: "Total number of cooldowns triggered by a low rate limit",
	})

	rateLimitCooldownSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lemana_rate_limit_cooldown_seconds",
		Help:    "Length of rate limit cooldowns in seconds",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1800, 3600},
	})
)

// Config holds tracker thresholds.
type Config struct {
	// Threshold triggers a cooldown when fewer calls than this remain.
	Threshold int

	// Pad is added to the reset window when cooling down.
	Pad time.Duration
}

// DefaultConfig returns the thresholds the search API is scraped with.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		Pad:       DefaultPad,
	}
}

// Tracker records rate limit observations and computes cooldowns.
type Tracker struct {
	store  Store
	config Config
	logger zerolog.Logger
	now    func() time.Time
}

// NewTracker creates a tracker backed by store. A nil store keeps state in memory.
func NewTracker(store Store, cfg Config, logger zerolog.Logger) *Tracker {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Tracker{
		store:  store,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Observe stores a fresh observation and returns how long the caller has to
// wait before the next request. Zero means no cooldown is needed.
// Store failures are logged; they never block the scrape.
func (t *Tracker) Observe(ctx context.Context, state State) time.Duration {
	if err := t.store.Save(ctx, state); err != nil {
		t.logger.Warn().Err(err).Msg("Failed to persist rate limit state")
	}

	rateLimitRemaining.Set(float64(state.Remaining))

	if !state.Exhausted(t.config.Threshold) {
		t.logger.Debug().
			Int("rate_limit_remaining", state.Remaining).
			Dur("reset_in", state.ResetIn).
			Msg("Rate limit state updated")
		return 0
	}

	cooldown := state.Cooldown(t.config.Pad)
	rateLimitCooldownsTotal.Inc()
	rateLimitCooldownSeconds.Observe(cooldown.Seconds())

	t.logger.Warn().
		Int("rate_limit_remaining", state.Remaining).
		Int("threshold", t.config.Threshold).
		Dur("cooldown", cooldown).
		Msg("Rate limit low - cooling down until reset")

	return cooldown
}

// Pending returns the wait still owed to a window that a previous run left
// exhausted. Returns 0 when no state is stored, the window has recovered, or
// it has already reset.
func (t *Tracker) Pending(ctx context.Context) time.Duration {
	state, err := t.store.Load(ctx)
	if err != nil {
		t.logger.Warn().Err(err).Msg("Failed to load rate limit state")
		return 0
	}
	if state == nil || !state.Exhausted(t.config.Threshold) {
		return 0
	}

	left := state.TimeUntilReset(t.now())
	if left == 0 {
		return 0
	}

	wait := left + t.config.Pad
	t.logger.Info().
		Int("rate_limit_remaining", state.Remaining).
		Time("reset_at", state.ResetAt()).
		Dur("wait", wait).
		Msg("Previous run left the rate limit exhausted")
	return wait
}
