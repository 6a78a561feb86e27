package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/jarcoal/httpmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEndpoint = "http://search.test/mobile/v2/search"

func testIdentity() Identity {
	return Identity{
		APIKey:          "key-123",
		MobilePlatform:  "android",
		UserID:          "user-1",
		AppVersion:      "5.12.0",
		MobileVersion:   "5.12.0",
		MobileVersionOS: "14",
		MobileBuild:     "51200",
	}
}

func newTestClient(t *testing.T, responder httpmock.Responder) (*Client, *httpmock.MockTransport) {
	t.Helper()

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodPost, testEndpoint, responder)

	cfg := DefaultConfig(testIdentity())
	cfg.Endpoint = testEndpoint
	cfg.Timeout = 200 * time.Millisecond
	cfg.HTTPClient = &http.Client{Transport: transport}

	c, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	return c, transport
}

func pageResponder(status int, body []byte, headers map[string]string) httpmock.Responder {
	return func(req *http.Request) (*http.Response, error) {
		resp := httpmock.NewBytesResponse(status, body)
		for k, v := range headers {
			resp.Header.Set(k, v)
		}
		return resp, nil
	}
}

func rateLimitHeaders(remaining, reset string) map[string]string {
	return map[string]string{
		"RateLimit-Remaining": remaining,
		"RateLimit-Reset":     reset,
		"Content-Type":        "application/json",
	}
}

const onePage = `{"items_cnt":45,"items":[
	{"articul":"X1","displayedName":"Tile A","brand":"B","prices":[{"type":"displayMain","price":100}]},
	{"articul":82001,"displayedName":"Tile B","brand":"C","prices":[{"type":"displayMain","price":80},{"type":"displayOld","price":95}]}
]}`

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestSearch_Success(t *testing.T) {
	var captured SearchRequest
	var capturedHeader http.Header

	c, transport := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		capturedHeader = req.Header.Clone()
		raw, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &captured))
		return pageResponder(http.StatusOK, []byte(onePage), rateLimitHeaders("90000", "3600"))(req)
	})

	search := NewSearchRequest("keramogranit", 506, DefaultSearchOptions()).WithOffset(30)
	resp, err := c.Search(context.Background(), search)
	require.NoError(t, err)

	assert.Equal(t, 1, transport.GetTotalCallCount())
	assert.Equal(t, 45, resp.Total)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "X1", string(resp.Items[0].ID))
	assert.Equal(t, "82001", string(resp.Items[1].ID))
	assert.Equal(t, 90000, resp.RateLimit.Remaining)
	assert.Equal(t, time.Hour, resp.RateLimit.ResetIn)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, search, captured)
	assert.Equal(t, "key-123", capturedHeader.Get("Apikey"))
	assert.Equal(t, "user-1", capturedHeader.Get("User_id"))
	assert.Equal(t, "5.12.0", capturedHeader.Get("App_version"))
	assert.Equal(t, "14", capturedHeader.Get("Mobile-Version-Os"))
	assert.Equal(t, "ktor-client", capturedHeader.Get("User-Agent"))
	assert.Equal(t, "gzip, deflate, br", capturedHeader.Get("Accept-Encoding"))
	assert.Equal(t, "application/json; charset=UTF-8", capturedHeader.Get("Content-Type"))
}

func TestSearch_WireBody(t *testing.T) {
	search := NewSearchRequest("keramogranit", 506, SearchOptions{OnlyAvailable: true, ShowFacets: true})

	raw, err := json.Marshal(search.WithOffset(60))
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"familyId": "",
		"limitCount": 30,
		"limitFrom": 60,
		"regionsId": 506,
		"availability": true,
		"showProducts": true,
		"showFacets": true,
		"showServices": false,
		"sitePath": "/catalogue/keramogranit/"
	}`, string(raw))
	assert.Equal(t, 0, search.LimitFrom, "template must not change")
}

func TestSearch_EncodedBodies(t *testing.T) {
	var brBody bytes.Buffer
	bw := brotli.NewWriter(&brBody)
	_, _ = bw.Write([]byte(onePage))
	require.NoError(t, bw.Close())

	var gzBody bytes.Buffer
	gw := gzip.NewWriter(&gzBody)
	_, _ = gw.Write([]byte(onePage))
	require.NoError(t, gw.Close())

	tests := []struct {
		name     string
		encoding string
		body     []byte
	}{
		{name: "brotli", encoding: "br", body: brBody.Bytes()},
		{name: "gzip", encoding: "gzip", body: gzBody.Bytes()},
		{name: "identity", encoding: "", body: []byte(onePage)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers := rateLimitHeaders("90000", "60")
			if tt.encoding != "" {
				headers["Content-Encoding"] = tt.encoding
			}
			c, _ := newTestClient(t, pageResponder(http.StatusOK, tt.body, headers))

			resp, err := c.Search(context.Background(), NewSearchRequest("plitka", 34, DefaultSearchOptions()))
			require.NoError(t, err)
			assert.Len(t, resp.Items, 2)
		})
	}
}

func TestSearch_Failures(t *testing.T) {
	tests := []struct {
		name       string
		responder  httpmock.Responder
		wantClass  ErrorClass
		wantStatus int
	}{
		{
			name:       "server error",
			responder:  pageResponder(http.StatusInternalServerError, []byte(`{"error":"boom"}`), nil),
			wantClass:  ErrorClassHTTPStatus,
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "forbidden",
			responder:  pageResponder(http.StatusForbidden, []byte(`denied`), rateLimitHeaders("0", "60")),
			wantClass:  ErrorClassHTTPStatus,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "invalid json",
			responder:  pageResponder(http.StatusOK, []byte(`{"items_cnt":`), rateLimitHeaders("100", "60")),
			wantClass:  ErrorClassMalformed,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing items_cnt",
			responder:  pageResponder(http.StatusOK, []byte(`{"items":[]}`), rateLimitHeaders("100", "60")),
			wantClass:  ErrorClassMalformed,
			wantStatus: http.StatusOK,
		},
		{
			name:       "missing rate limit headers",
			responder:  pageResponder(http.StatusOK, []byte(onePage), map[string]string{"Content-Type": "application/json"}),
			wantClass:  ErrorClassMalformed,
			wantStatus: http.StatusOK,
		},
		{
			name:       "unsupported encoding",
			responder:  pageResponder(http.StatusOK, []byte(onePage), map[string]string{"Content-Encoding": "zstd"}),
			wantClass:  ErrorClassMalformed,
			wantStatus: http.StatusOK,
		},
		{
			name:      "network timeout",
			responder: httpmock.NewErrorResponder(timeoutError{}),
			wantClass: ErrorClassTimeout,
		},
		{
			name:      "connection refused",
			responder: httpmock.NewErrorResponder(errors.New("dial tcp: connection refused")),
			wantClass: ErrorClassTransport,
		},
		{
			name: "request deadline",
			responder: func(req *http.Request) (*http.Response, error) {
				<-req.Context().Done()
				return nil, req.Context().Err()
			},
			wantClass: ErrorClassTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, tt.responder)

			resp, err := c.Search(context.Background(), NewSearchRequest("plitka", 34, DefaultSearchOptions()))
			require.Error(t, err)
			assert.Nil(t, resp)

			var searchErr *Error
			require.True(t, errors.As(err, &searchErr), "error %v is not *Error", err)
			assert.Equal(t, tt.wantClass, searchErr.Class)
			assert.Equal(t, tt.wantStatus, StatusCodeOf(err))
		})
	}
}

func TestSearch_EmptyItemsIsValid(t *testing.T) {
	c, _ := newTestClient(t, pageResponder(http.StatusOK, []byte(`{"items_cnt":0}`), rateLimitHeaders("100", "60")))

	resp, err := c.Search(context.Background(), NewSearchRequest("plitka", 34, DefaultSearchOptions()))
	require.NoError(t, err)
	assert.Empty(t, resp.Items)
	assert.Zero(t, resp.Total)
}

func TestSearch_CancelledContextIsTransport(t *testing.T) {
	c, _ := newTestClient(t, func(req *http.Request) (*http.Response, error) {
		<-req.Context().Done()
		return nil, req.Context().Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Search(ctx, NewSearchRequest("plitka", 34, DefaultSearchOptions()))
	assert.Equal(t, ErrorClassTransport, ClassOf(err))
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing api key", mutate: func(c *Config) { c.Identity.APIKey = "" }, errorMsg: "Apikey"},
		{name: "missing build", mutate: func(c *Config) { c.Identity.MobileBuild = "" }, errorMsg: "Mobile-Build"},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }, errorMsg: "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(testIdentity())
			tt.mutate(&cfg)

			_, err := New(cfg, zerolog.Nop())
			if tt.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorMsg)
		})
	}
}

func TestOffset(t *testing.T) {
	assert.Equal(t, 0, Offset(1))
	assert.Equal(t, 30, Offset(2))
	assert.Equal(t, 60, Offset(3))
}
