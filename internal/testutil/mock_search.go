// Package testutil provides testing utilities for the search API client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// SearchPath is the path the mock serves searches on.
const SearchPath = "/mobile/v2/search"

// MockSearchResponse defines a scripted response for one request.
type MockSearchResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockSearch is a mock search API serving a generated catalogue.
// Every item is named after its position so tests can predict rows.
type MockSearch struct {
	server *httptest.Server
	mu     sync.Mutex

	total     int
	remaining int
	reset     int
	scripted  map[int][]MockSearchResponse

	// Tracking
	RequestCount      int
	Offsets           []int
	LastRequestHeader http.Header
}

type searchBody struct {
	LimitCount int    `json:"limitCount"`
	LimitFrom  int    `json:"limitFrom"`
	RegionsID  int    `json:"regionsId"`
	SitePath   string `json:"sitePath"`
}

// NewMockSearch creates a mock search API holding total items with a
// generous rate limit.
func NewMockSearch(total int) *MockSearch {
	mock := &MockSearch{
		total:     total,
		remaining: 90000,
		reset:     3600,
		scripted:  make(map[int][]MockSearchResponse),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(SearchPath, mock.handle)
	mock.server = httptest.NewServer(mux)

	return mock
}

// URL returns the search endpoint of the mock server.
func (m *MockSearch) URL() string {
	return m.server.URL + SearchPath
}

// Close shuts down the mock server.
func (m *MockSearch) Close() {
	m.server.Close()
}

// SetTotal changes the catalogue size reported from the next request on.
func (m *MockSearch) SetTotal(total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = total
}

// SetRateLimit changes the rate limit headers of generated pages.
func (m *MockSearch) SetRateLimit(remaining, resetSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remaining = remaining
	m.reset = resetSeconds
}

// Script queues one-shot responses for requests at offset. Queued responses
// are served in order before the generated page.
func (m *MockSearch) Script(offset int, responses ...MockSearchResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripted[offset] = append(m.scripted[offset], responses...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockSearch) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

// GetOffsets returns the limitFrom of every request in arrival order.
func (m *MockSearch) GetOffsets() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.Offsets...)
}

func (m *MockSearch) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var body searchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"bad request body"}`, http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.RequestCount++
	m.Offsets = append(m.Offsets, body.LimitFrom)
	m.LastRequestHeader = r.Header.Clone()

	var scripted *MockSearchResponse
	if queue := m.scripted[body.LimitFrom]; len(queue) > 0 {
		scripted = &queue[0]
		m.scripted[body.LimitFrom] = queue[1:]
	}
	total, remaining, reset := m.total, m.remaining, m.reset
	m.mu.Unlock()

	if scripted != nil {
		writeScripted(w, r, *scripted)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("RateLimit-Reset", strconv.Itoa(reset))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(Page(body.LimitFrom, body.LimitCount, total)))
}

func writeScripted(w http.ResponseWriter, r *http.Request, resp MockSearchResponse) {
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// ItemID returns the article id the mock assigns to position i.
func ItemID(i int) string {
	return fmt.Sprintf("A%05d", i)
}

// Page renders the search body for items [offset, offset+limit) of a
// catalogue holding total items.
func Page(offset, limit, total int) string {
	type price struct {
		Type  string `json:"type"`
		Price int    `json:"price"`
	}
	type item struct {
		Articul string  `json:"articul"`
		Name    string  `json:"displayedName"`
		Brand   string  `json:"brand"`
		Prices  []price `json:"prices"`
	}

	items := []item{}
	for i := offset; i < offset+limit && i < total; i++ {
		prices := []price{{Type: "displayMain", Price: 100 + i}}
		if i%2 == 1 {
			prices = append(prices, price{Type: "displayOld", Price: 150 + i})
		}
		items = append(items, item{
			Articul: ItemID(i),
			Name:    fmt.Sprintf("Item %d", i),
			Brand:   "Brand",
			Prices:  prices,
		})
	}

	raw, _ := json.Marshal(map[string]any{"items_cnt": total, "items": items})
	return string(raw)
}

// NewPageResponse creates a 200 response carrying a rendered page.
func NewPageResponse(offset, limit, total, remaining, resetSeconds int) MockSearchResponse {
	return MockSearchResponse{
		StatusCode: http.StatusOK,
		Body:       Page(offset, limit, total),
		Headers: map[string]string{
			"RateLimit-Remaining": strconv.Itoa(remaining),
			"RateLimit-Reset":     strconv.Itoa(resetSeconds),
			"Content-Type":        "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockSearchResponse {
	return MockSearchResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewMalformedResponse creates a 200 response whose body is not JSON.
func NewMalformedResponse() MockSearchResponse {
	return MockSearchResponse{
		StatusCode: http.StatusOK,
		Body:       `<html>maintenance</html>`,
		Headers: map[string]string{
			"RateLimit-Remaining": "90000",
			"RateLimit-Reset":     "3600",
			"Content-Type":        "text/html",
		},
	}
}

// NewSlowResponse creates a response that stalls for delay before a 200.
// Pair it with a shorter client timeout to provoke a timeout.
func NewSlowResponse(delay time.Duration) MockSearchResponse {
	resp := NewPageResponse(0, 0, 0, 90000, 3600)
	resp.Delay = delay
	return resp
}
