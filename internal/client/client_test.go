package client

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/pagecapture/internal/capture"
)

func testClient(t *testing.T, url string) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = url
	cfg.Timeout = 5 * time.Second
	cfg.RetryWaitMin = time.Millisecond
	cfg.RetryWaitMax = 5 * time.Millisecond
	return New(cfg, zaptest.NewLogger(t))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	b, _ := sonic.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func TestCaptureRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		body, _ := io.ReadAll(r.Body)
		var spec capture.JobSpec
		assert.NoError(t, sonic.Unmarshal(body, &spec))
		assert.Equal(t, "https://example.test/", spec.URL)
		assert.Equal(t, 100, spec.SleepMillis)
		assert.Equal(t, "pagecapture-client/1.0", r.Header.Get("User-Agent"))

		writeJSON(w, http.StatusOK, []capture.Result{{
			ID:                "job_1",
			LastRedirectedURL: "https://example.test/final",
			Cookies:           []capture.Cookie{{Name: "sid", Value: "1"}},
		}})
	}))
	defer srv.Close()

	res, err := testClient(t, srv.URL).Capture(context.Background(), capture.JobSpec{
		URL:         "https://example.test/",
		SleepMillis: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, "job_1", res.ID)
	assert.Equal(t, "https://example.test/final", res.LastRedirectedURL)
	assert.Equal(t, "sid", res.Cookies[0].Name)
}

func TestCaptureRetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "example.test", "body replayed on retry")
		if calls.Add(1) < 3 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "capture pool is closed"})
			return
		}
		writeJSON(w, http.StatusOK, []capture.Result{{ID: "job_3"}})
	}))
	defer srv.Close()

	res, err := testClient(t, srv.URL).Capture(context.Background(), capture.JobSpec{URL: "https://example.test/"})
	require.NoError(t, err)
	assert.Equal(t, "job_3", res.ID)
	assert.EqualValues(t, 3, calls.Load())
}

func TestCaptureGivesUpWithLastResponse(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "capture pool is closed"})
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Capture(context.Background(), capture.JobSpec{URL: "https://example.test/"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr), err)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
	assert.Equal(t, "capture pool is closed", apiErr.Message)
	assert.True(t, IsRetryable(err))
	assert.EqualValues(t, DefaultConfig().RetryMax+1, calls.Load())
}

func TestCaptureFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "navigation error: navigate: net::ERR_NAME_NOT_RESOLVED"})
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Capture(context.Background(), capture.JobSpec{URL: "https://nope.test/"})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Contains(t, apiErr.Message, "ERR_NAME_NOT_RESOLVED")
	assert.False(t, IsRetryable(err))
	assert.EqualValues(t, 1, calls.Load())
}

func TestCaptureUnexpectedShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []capture.Result{})
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).Capture(context.Background(), capture.JobSpec{URL: "https://example.test/"})
	assert.ErrorContains(t, err, "expected 1 result")
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy", "pool": map[string]int{"size": 2}})
	}))
	defer srv.Close()

	body, err := testClient(t, srv.URL).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", body["status"])
}

func TestCheckRetry(t *testing.T) {
	ctx := context.Background()
	for status, want := range map[int]bool{
		http.StatusOK:                  false,
		http.StatusBadRequest:          false,
		http.StatusTooManyRequests:     true,
		http.StatusBadGateway:          false,
		http.StatusServiceUnavailable:  true,
		http.StatusGatewayTimeout:      false,
		http.StatusInternalServerError: false,
	} {
		got, err := CheckRetry(ctx, &http.Response{StatusCode: status}, nil)
		assert.NoError(t, err)
		assert.Equal(t, want, got, "status %d", status)
	}

	got, _ := CheckRetry(ctx, nil, errors.New("connection refused"))
	assert.True(t, got)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	got, err := CheckRetry(cancelled, nil, errors.New("connection refused"))
	assert.False(t, got)
	assert.ErrorIs(t, err, context.Canceled)
}
