// Package client provides the HTTP client for the Lemana Pro mobile search
// API: request construction, identity headers, body decoding, rate limit
// header parsing and failure classification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/lemana-scraper/pkg/catalog"
	"github.com/Sternrassler/lemana-scraper/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// DefaultEndpoint is the mobile search endpoint.
const DefaultEndpoint = "https://mobile.api-lmn.ru/mobile/v2/search"

// maxErrorSnippet bounds how much of an error body ends up in logs.
const maxErrorSnippet = 256

// Prometheus metrics for search requests.
var (
	searchRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lemana_search_requests_total",
		Help: "Total search requests by HTTP status",
	}, []string{"status"})

	searchRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lemana_search_request_duration_seconds",
		Help:    "Search request duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	searchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lemana_search_errors_total",
		Help: "Total search errors by class",
	}, []string{"class"})
)

// staticHeaders mimic the mobile application.
var staticHeaders = map[string]string{
	"Ab-Test-Option":        "opt1",
	"User-Agent":            "ktor-client",
	"Plp-Srp-View":          "mixed",
	"Pdp-Content-Ab-Option": "all",
	"Accept-Language":       "ru",
	"Accept-Charset":        "UTF-8",
	"Accept":                "application/json",
	"Content-Type":          "application/json; charset=UTF-8",
	"Accept-Encoding":       "gzip, deflate, br",
}

// Identity carries the credentials and client identity headers.
type Identity struct {
	APIKey          string
	MobilePlatform  string
	UserID          string
	AppVersion      string
	MobileVersion   string
	MobileVersionOS string
	MobileBuild     string
}

// Headers returns the identity as request headers.
func (i Identity) Headers() map[string]string {
	return map[string]string{
		"Apikey":            i.APIKey,
		"Mobile-Platform":   i.MobilePlatform,
		"User_id":           i.UserID,
		"App_version":       i.AppVersion,
		"Mobile-Version":    i.MobileVersion,
		"Mobile-Version-Os": i.MobileVersionOS,
		"Mobile-Build":      i.MobileBuild,
	}
}

// Validate ensures every identity header has a value.
func (i Identity) Validate() error {
	for name, value := range i.Headers() {
		if value == "" {
			return fmt.Errorf("identity header %s is required", name)
		}
	}
	return nil
}

// Config holds the client configuration.
type Config struct {
	// Endpoint is the search URL. Defaults to DefaultEndpoint.
	Endpoint string

	// Identity headers sent with every request (REQUIRED).
	Identity Identity

	// Timeout bounds one request including reading its body.
	Timeout time.Duration

	// HTTPClient overrides the underlying client (for testing).
	HTTPClient *http.Client
}

// DefaultConfig returns a configuration for the production endpoint.
func DefaultConfig(identity Identity) Config {
	return Config{
		Endpoint: DefaultEndpoint,
		Identity: identity,
		Timeout:  30 * time.Second,
	}
}

// SearchResponse is one decoded page.
type SearchResponse struct {
	Items      []catalog.Item
	Total      int
	RateLimit  ratelimit.State
	StatusCode int
}

type searchBody struct {
	Items      []catalog.Item `json:"items"`
	ItemsCount *int           `json:"items_cnt"`
}

// Client issues search requests.
type Client struct {
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
	headers    http.Header
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a new search client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if err := cfg.Identity.Validate(); err != nil {
		return nil, err
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive (got %s)", cfg.Timeout)
	}

	headers := http.Header{}
	for name, value := range staticHeaders {
		headers.Set(name, value)
	}
	for name, value := range cfg.Identity.Headers() {
		headers.Set(name, value)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		httpClient: httpClient,
		endpoint:   cfg.Endpoint,
		timeout:    cfg.Timeout,
		headers:    headers,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Search posts one search request and decodes the page. Every failure is an
// *Error carrying its ErrorClass.
func (c *Client) Search(ctx context.Context, search SearchRequest) (resp *SearchResponse, err error) {
	startTime := time.Now()
	defer func() {
		searchRequestDuration.Observe(time.Since(startTime).Seconds())
		if err != nil {
			searchErrorsTotal.WithLabelValues(string(ClassOf(err))).Inc()
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			resp = nil
			err = &Error{Class: ErrorClassUnknown, Message: "panic while handling response", Err: fmt.Errorf("%v", r)}
		}
	}()

	payload, err := json.Marshal(search)
	if err != nil {
		return nil, &Error{Class: ErrorClassUnknown, Message: "encode search body", Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Class: ErrorClassUnknown, Message: "create request", Err: err}
	}
	req.Header = c.headers.Clone()

	c.logger.Debug().
		Int("offset", search.LimitFrom).
		RawJSON("body", payload).
		Msg("Executing search request")

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		searchRequestsTotal.WithLabelValues("network_error").Inc()
		return nil, classifyTransport(ctx, err, 0, "send request")
	}
	defer httpResp.Body.Close()

	status := httpResp.StatusCode
	searchRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, classifyTransport(ctx, err, status, "read body")
	}

	body, err := decodeBody(httpResp.Header.Get("Content-Encoding"), raw)
	if err != nil {
		return nil, &Error{Class: ErrorClassMalformed, StatusCode: status, Message: "decode body", Err: err}
	}

	if status < 200 || status > 299 {
		return nil, &Error{
			Class:      ErrorClassHTTPStatus,
			StatusCode: status,
			Message:    fmt.Sprintf("%s: %s", httpResp.Status, snippet(body)),
		}
	}

	state, err := ratelimit.ParseHeaders(httpResp.Header, c.now())
	if err != nil {
		return nil, &Error{Class: ErrorClassMalformed, StatusCode: status, Message: "rate limit headers", Err: err}
	}

	var decoded searchBody
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, &Error{Class: ErrorClassMalformed, StatusCode: status, Message: "decode json", Err: err}
	}
	if decoded.ItemsCount == nil {
		return nil, &Error{Class: ErrorClassMalformed, StatusCode: status, Message: "items_cnt missing"}
	}

	return &SearchResponse{
		Items:      decoded.Items,
		Total:      *decoded.ItemsCount,
		RateLimit:  state,
		StatusCode: status,
	}, nil
}

// classifyTransport separates our own request deadline from every other
// round-trip failure. Cancellation of the caller's context is a transport
// failure, not a timeout.
func classifyTransport(parent context.Context, err error, status int, message string) *Error {
	class := ErrorClassTransport
	if parent.Err() == nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			class = ErrorClassTimeout
		}
	}
	return &Error{Class: class, StatusCode: status, Message: message, Err: err}
}

func snippet(body []byte) string {
	if len(body) > maxErrorSnippet {
		return string(body[:maxErrorSnippet]) + "..."
	}
	return string(body)
}
