package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/lemana-scraper/pkg/checkpoint"
	"github.com/Sternrassler/lemana-scraper/pkg/client"
	"github.com/Sternrassler/lemana-scraper/pkg/config"
	"github.com/Sternrassler/lemana-scraper/pkg/logging"
	"github.com/Sternrassler/lemana-scraper/pkg/metrics"
	"github.com/Sternrassler/lemana-scraper/pkg/pagination"
	"github.com/Sternrassler/lemana-scraper/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultCategory = "keramogranit"
	defaultRegion   = 506
)

type options struct {
	configPath     string
	category       string
	region         int
	startPage      int
	resume         bool
	timeoutRetries int
	output         string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:])
	stop()
	os.Exit(code)
}

func parseFlags(args []string) (options, error) {
	var opts options

	fs := flag.NewFlagSet("lemana-scraper", flag.ContinueOnError)
	fs.StringVar(&opts.configPath, "config", "", "path to a .env file (default: CONFIG_PATH, then ./"+config.DefaultFile+")")
	fs.StringVar(&opts.category, "category", defaultCategory, "catalogue category slug")
	fs.IntVar(&opts.region, "region", defaultRegion, "region id")
	fs.IntVar(&opts.startPage, "start-page", 1, "first page to fetch")
	fs.BoolVar(&opts.resume, "resume", false, "start from the page recorded in the checkpoint file")
	fs.IntVar(&opts.timeoutRetries, "timeout-retries", -1, "timeout retry budget (default: TIMEOUT_RETRIES)")
	fs.StringVar(&opts.output, "output", "", "output file (default: OUTPUT_FILE)")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, nil
}

func run(ctx context.Context, args []string) int {
	opts, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger := logging.Setup(logging.DefaultConfig())

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}
	logger = logging.Setup(cfg.LoggingConfig())

	if opts.output != "" {
		cfg.Scrape.OutputFile = opts.output
	}

	params := pagination.Params{
		Category:       opts.category,
		RegionID:       opts.region,
		Options:        cfg.SearchOptions(),
		StartPage:      opts.startPage,
		TimeoutRetries: cfg.Scrape.TimeoutRetries,
	}
	if opts.timeoutRetries >= 0 {
		params.TimeoutRetries = opts.timeoutRetries
	}

	checkpoints := checkpoint.NewFileStore(cfg.Scrape.CheckpointFile)
	if opts.resume {
		if err := applyCheckpoint(checkpoints, &params, logger); err != nil {
			logger.Error().Err(err).Str("path", checkpoints.Path).Msg("Cannot resume")
			return 1
		}
	}

	if cfg.Metrics.Addr != "" {
		metricsCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := metrics.Serve(metricsCtx, cfg.Metrics.Addr, logging.NewLogger("metrics")); err != nil {
				logger.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	store, closeStore := rateLimitStore(ctx, cfg.Redis.URL, logger)
	defer closeStore()

	searchClient, err := client.New(cfg.ClientConfig(), logging.NewLogger("client"))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create search client")
		return 1
	}

	tracker := ratelimit.NewTracker(store, cfg.TrackerConfig(), logging.NewLogger("ratelimit"))
	driver := pagination.NewDriver(searchClient, tracker, checkpoints, cfg.DriverConfig(), logging.NewLogger("pagination"))

	res, err := driver.Scrape(ctx, params)
	if err != nil {
		logger.Error().Err(err).Msg("Scrape did not start")
		return 1
	}
	return exitCode(res.Outcome)
}

// applyCheckpoint moves params to the page a previous run stopped at. A
// missing checkpoint starts from params as given.
func applyCheckpoint(store *checkpoint.FileStore, params *pagination.Params, logger zerolog.Logger) error {
	cp, err := store.Load()
	if errors.Is(err, checkpoint.ErrNotFound) {
		logger.Warn().Str("path", store.Path).Msg("No checkpoint found, starting from the requested page")
		return nil
	}
	if err != nil {
		return err
	}

	if cp.Category != "" && cp.Category != params.Category {
		return fmt.Errorf("checkpoint is for category %q, not %q", cp.Category, params.Category)
	}
	if cp.RegionID != 0 && cp.RegionID != params.RegionID {
		return fmt.Errorf("checkpoint is for region %d, not %d", cp.RegionID, params.RegionID)
	}

	params.StartPage = cp.LastPage
	logger.Info().
		Int("last_page", cp.LastPage).
		Str("reason", cp.Reason).
		Int("status_code", cp.StatusCode).
		Time("checkpoint_time", cp.Time).
		Msg("Resuming from checkpoint")
	return nil
}

// rateLimitStore connects to Redis when url is set. An unreachable Redis
// falls back to memory.
func rateLimitStore(ctx context.Context, url string, logger zerolog.Logger) (ratelimit.Store, func()) {
	noop := func() {}
	if url == "" {
		return ratelimit.NewMemoryStore(), noop
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.Warn().Err(err).Msg("Invalid REDIS_URL, keeping rate limit state in memory")
		return ratelimit.NewMemoryStore(), noop
	}

	redisClient := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		redisClient.Close()
		logger.Warn().Err(err).Str("addr", opts.Addr).Msg("Redis unreachable, keeping rate limit state in memory")
		return ratelimit.NewMemoryStore(), noop
	}

	logger.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	return ratelimit.NewRedisStore(redisClient), func() { redisClient.Close() }
}

func exitCode(outcome pagination.Outcome) int {
	if outcome == pagination.OutcomeDone {
		return 0
	}
	return 1
}
