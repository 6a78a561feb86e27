// Package ratelimit tracks the search API rate limit window.
// It reads the RateLimit-Remaining and RateLimit-Reset response headers and
// decides how long the scraper has to cool down before the next request.
package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Response headers carrying the rate limit window.
const (
	HeaderRemaining = "RateLimit-Remaining"
	HeaderReset     = "RateLimit-Reset"
)

// Defaults for cooldown decisions.
const (
	// DefaultThreshold triggers a cooldown when fewer calls than this remain.
	DefaultThreshold = 5000

	// DefaultPad is added on top of the reset window when cooling down.
	DefaultPad = 10 * time.Second
)

// ErrMissingHeader is returned when a required rate limit header is absent.
var ErrMissingHeader = errors.New("rate limit header missing")

// State is one observation of the remote rate limit window.
type State struct {
	// Remaining is the number of calls left in the current window.
	Remaining int `json:"remaining"`

	// ResetIn is the time until the window resets, as reported by the API.
	ResetIn time.Duration `json:"reset_in"`

	// ObservedAt is when the headers were received.
	ObservedAt time.Time `json:"observed_at"`
}

// ResetAt returns the absolute time the window resets.
func (s State) ResetAt() time.Time {
	return s.ObservedAt.Add(s.ResetIn)
}

// Exhausted reports whether fewer than threshold calls remain.
func (s State) Exhausted(threshold int) bool {
	return s.Remaining < threshold
}

// Cooldown returns how long to wait after this observation: the reset window
// plus pad.
func (s State) Cooldown(pad time.Duration) time.Duration {
	return s.ResetIn + pad
}

// TimeUntilReset returns the time left until ResetAt measured from now.
// Returns 0 if the reset time has already passed.
func (s State) TimeUntilReset(now time.Time) time.Duration {
	d := s.ResetAt().Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ParseHeaders reads both rate limit headers. Both are required.
func ParseHeaders(headers http.Header, now time.Time) (State, error) {
	remaining, err := intHeader(headers, HeaderRemaining)
	if err != nil {
		return State{}, err
	}

	resetSeconds, err := intHeader(headers, HeaderReset)
	if err != nil {
		return State{}, err
	}

	return State{
		Remaining:  remaining,
		ResetIn:    time.Duration(resetSeconds) * time.Second,
		ObservedAt: now,
	}, nil
}

func intHeader(headers http.Header, name string) (int, error) {
	raw := strings.TrimSpace(headers.Get(name))
	if raw == "" {
		return 0, fmt.Errorf("%w: %s", ErrMissingHeader, name)
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s header: %w", name, err)
	}
	return value, nil
}
