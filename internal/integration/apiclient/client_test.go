package apiclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/areahub/internal/platform"
)

func fastRetry() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2,
	}
}

func TestGetRetriesTransportFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "abc", r.Header.Get("Client-Id"))
		assert.Equal(t, "7", r.URL.Query().Get("user_id"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "42"})
	}))
	defer srv.Close()

	c := New(srv.URL+"/", nil)
	c.Header = http.Header{"Client-Id": []string{"abc"}}
	c.Retry = fastRetry()

	var out struct{ ID string }
	err := c.Get(context.Background(), "/streams", url.Values{"user_id": {"7"}}, "tok", &out)
	require.NoError(t, err)
	assert.Equal(t, "42", out.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	c.Retry = fastRetry()

	err := c.Get(context.Background(), "x", nil, "tok", nil)
	require.Error(t, err)
	assert.Equal(t, platform.KindTransport, platform.KindOf(err))
	assert.Equal(t, int32(3), calls.Load())

	var pe *platform.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
}

func TestPostIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	c.Retry = fastRetry()

	err := c.Post(context.Background(), "send", "tok", map[string]string{"a": "b"}, nil)
	assert.Equal(t, platform.KindTransport, platform.KindOf(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestUpstreamErrorCarriesPlatformMessage(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found."}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	c.Retry = fastRetry()

	err := c.Get(context.Background(), "history", nil, "tok", nil)
	var pe *platform.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, platform.KindUpstream, pe.Kind)
	assert.Equal(t, http.StatusNotFound, pe.StatusCode)
	assert.Equal(t, "Requested entity was not found.", pe.Message)
	assert.Equal(t, int32(1), calls.Load(), "upstream errors are not retried")
}

func TestMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	var out map[string]any
	err := New(srv.URL, nil).Get(context.Background(), "x", nil, "", &out)
	assert.Equal(t, platform.KindUpstream, platform.KindOf(err))
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	c.Retry = &RetryConfig{MaxAttempts: 5, InitialBackoff: time.Minute, MaxBackoff: time.Minute, BackoffFactor: 2}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.Get(ctx, "x", nil, "", nil)
	assert.Equal(t, platform.KindTransport, platform.KindOf(err))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"google shape", `{"error":{"code":400,"message":"Invalid To header"}}`, "Invalid To header"},
		{"helix shape", `{"error":"Bad Request","status":400,"message":"The parameter \"title\" was malformed"}`, `The parameter "title" was malformed`},
		{"flat error", `{"error":"invalid_request"}`, "invalid_request"},
		{"plain text", "  upstream exploded \n", "upstream exploded"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorMessage([]byte(tt.body)))
		})
	}
}

func TestRetryConfigValidate(t *testing.T) {
	require.NoError(t, DefaultRetryConfig().Validate())
	assert.Error(t, (&RetryConfig{MaxAttempts: 0}).Validate())
	assert.Error(t, (&RetryConfig{MaxAttempts: 1, InitialBackoff: time.Second, MaxBackoff: time.Millisecond, BackoffFactor: 2}).Validate())
	assert.Error(t, (&RetryConfig{MaxAttempts: 1, BackoffFactor: 0.5}).Validate())
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))

	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	assert.Greater(t, parseRetryAfter(future), 50*time.Minute)
}

func TestBackoffHonorsRetryAfterUpToCap(t *testing.T) {
	c := &RetryConfig{MaxAttempts: 3, InitialBackoff: 10 * time.Millisecond, MaxBackoff: time.Second, BackoffFactor: 2}

	d := c.backoff(1, 0)
	assert.GreaterOrEqual(t, d, 10*time.Millisecond)
	assert.Less(t, d, 120*time.Millisecond)

	d = c.backoff(1, time.Hour)
	assert.GreaterOrEqual(t, d, time.Second)
	assert.Less(t, d, 1200*time.Millisecond)
}
