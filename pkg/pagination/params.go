package pagination

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/lemana-scraper/pkg/client"
)

// Outcome is how a scrape ended.
type Outcome string

const (
	// OutcomeDone means the catalogue was exhausted.
	OutcomeDone Outcome = "done"

	// OutcomeCheckpointed means the run failed and left a checkpoint.
	OutcomeCheckpointed Outcome = "checkpointed"

	// OutcomeAborted means the run failed without a checkpoint.
	OutcomeAborted Outcome = "aborted"
)

// Config holds driver settings shared by every scrape.
type Config struct {
	// OutputPath is recreated at the start of every scrape.
	OutputPath string

	// TimeoutCooldown is slept before retrying a timed out page.
	TimeoutCooldown time.Duration

	// MaxJitter bounds the random pause between pages.
	MaxJitter time.Duration

	// DedupeWindow is the number of recent article ids remembered to skip
	// items repeated across pages. 0 disables it.
	DedupeWindow int
}

// DefaultConfig returns the pacing the search API is scraped with.
func DefaultConfig() Config {
	return Config{
		OutputPath:      "lemana_positions.csv",
		TimeoutCooldown: 20 * time.Second,
		MaxJitter:       10 * time.Second,
		DedupeWindow:    0,
	}
}

// Params describe one scrape.
type Params struct {
	Category       string
	RegionID       int
	Options        client.SearchOptions
	StartPage      int
	TimeoutRetries int
}

// DefaultParams starts at page 1 with three timeout retries.
func DefaultParams(category string, regionID int) Params {
	return Params{
		Category:       category,
		RegionID:       regionID,
		Options:        client.DefaultSearchOptions(),
		StartPage:      1,
		TimeoutRetries: 3,
	}
}

// Validate checks the scrape inputs.
func (p Params) Validate() error {
	if strings.TrimSpace(p.Category) == "" {
		return fmt.Errorf("category cannot be empty")
	}
	if p.RegionID <= 0 {
		return fmt.Errorf("region id must be positive (got %d)", p.RegionID)
	}
	if p.StartPage < 1 {
		return fmt.Errorf("start page must be >= 1 (got %d)", p.StartPage)
	}
	if p.TimeoutRetries < 0 {
		return fmt.Errorf("timeout retries cannot be negative (got %d)", p.TimeoutRetries)
	}
	return nil
}

// Result summarizes a finished scrape.
type Result struct {
	RunID   string
	Outcome Outcome

	// Pages counts successfully fetched pages.
	Pages int

	// Rows counts rows written to the output.
	Rows int

	// Duplicates counts items skipped by the dedupe window.
	Duplicates int

	// Retries counts timeout retries spent.
	Retries int

	// LastPage is the page being worked on when the run ended.
	LastPage int

	// Total is the last item count reported by the API.
	Total int

	// ErrorClass and Err describe the terminal failure, if any.
	ErrorClass client.ErrorClass
	Err        error

	Duration time.Duration
}
