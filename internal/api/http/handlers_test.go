package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/pagecapture/internal/api/middleware"
	"github.com/GriffinCanCode/pagecapture/internal/capture"
	"github.com/GriffinCanCode/pagecapture/internal/har"
	"github.com/GriffinCanCode/pagecapture/internal/infrastructure/monitoring"
)

type mockPool struct {
	mock.Mock
}

func (m *mockPool) Submit(ctx context.Context, spec capture.JobSpec) (*capture.Result, error) {
	args := m.Called(ctx, spec)
	res, _ := args.Get(0).(*capture.Result)
	return res, args.Error(1)
}

func (m *mockPool) Stats() map[string]interface{} {
	return m.Called().Get(0).(map[string]interface{})
}

func setupRouter(t *testing.T, pool Submitter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.BodyLimit(1 << 10))
	NewHandlers(pool, monitoring.NewMetrics(prometheus.NewRegistry()), zaptest.NewLogger(t)).Register(r)
	return r
}

func post(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCaptureReturnsArray(t *testing.T) {
	pool := &mockPool{}
	want := capture.JobSpec{
		URL:         "https://example.test/",
		UserAgent:   "bot/1.0",
		Referer:     "https://ref.test/",
		SleepMillis: 250,
		Cookies:     []capture.Cookie{{Name: "sid", Value: "1", Domain: "example.test"}},
	}
	pool.On("Submit", mock.Anything, want).Return(&capture.Result{
		ID:                "job_1",
		LastRedirectedURL: "https://example.test/final",
		UserAgent:         "bot/1.0",
		PNG:               "iVBORw0KGgo=",
		HTML:              "<html></html>",
		Cookies:           []capture.Cookie{},
		HAR:               &har.HAR{Log: har.Log{Version: "1.2"}},
	}, nil)

	w := post(setupRouter(t, pool), `{
		"url": "https://example.test/",
		"useragent": "bot/1.0",
		"referer": "https://ref.test/",
		"sleep": 250,
		"cookies": [{"name": "sid", "value": "1", "domain": "example.test"}]
	}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	var got []map[string]interface{}
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "https://example.test/final", got[0]["last_redirected_url"])
	assert.Equal(t, "bot/1.0", got[0]["useragent"])
	assert.Equal(t, "iVBORw0KGgo=", got[0]["png"])
	assert.NotNil(t, got[0]["har"])
	assert.NotContains(t, got[0], "har_error")
	pool.AssertExpectations(t)
}

func TestCaptureArchiveFailureStillSucceeds(t *testing.T) {
	pool := &mockPool{}
	pool.On("Submit", mock.Anything, mock.Anything).Return(&capture.Result{
		LastRedirectedURL: "https://example.test/",
		Cookies:           []capture.Cookie{},
		HARError:          "archive_build: no entries",
	}, nil)

	w := post(setupRouter(t, pool), `{"url":"https://example.test/"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var got []map[string]interface{}
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &got))
	assert.Nil(t, got[0]["har"])
	assert.Equal(t, "archive_build: no entries", got[0]["har_error"])
}

func TestCaptureErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &capture.Error{Kind: capture.KindValidation, Err: errors.New("url is required")}, http.StatusBadRequest},
		{"navigation", &capture.Error{Kind: capture.KindNavigation, Op: "navigate", Err: errors.New("net::ERR_NAME_NOT_RESOLVED")}, http.StatusBadGateway},
		{"protocol", &capture.Error{Kind: capture.KindProtocol, Op: "screenshot", Err: errors.New("target closed")}, http.StatusBadGateway},
		{"pool closed", capture.ErrPoolClosed, http.StatusServiceUnavailable},
		{"deadline", &capture.Error{Kind: capture.KindNavigation, Op: "navigate", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout},
		{"client gone", context.Canceled, StatusClientClosedRequest},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := &mockPool{}
			pool.On("Submit", mock.Anything, mock.Anything).Return(nil, tt.err)

			w := post(setupRouter(t, pool), `{"url":"https://example.test/"}`)
			assert.Equal(t, tt.status, w.Code)

			var body map[string]string
			require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.err.Error(), body["error"])
		})
	}
}

func TestCaptureBadBody(t *testing.T) {
	pool := &mockPool{}
	r := setupRouter(t, pool)

	w := post(r, `{"url":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid JSON body")

	w = post(r, fmt.Sprintf(`{"url":"https://example.test/","referer":%q}`, strings.Repeat("a", 2<<10)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	pool.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything)
}

func TestHealth(t *testing.T) {
	for _, closed := range []bool{false, true} {
		pool := &mockPool{}
		pool.On("Stats").Return(map[string]interface{}{"size": 2, "available": 1, "closed": closed})

		w := httptest.NewRecorder()
		setupRouter(t, pool).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		var body map[string]interface{}
		require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &body))
		if closed {
			assert.Equal(t, http.StatusServiceUnavailable, w.Code)
			assert.Equal(t, "closed", body["status"])
		} else {
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "healthy", body["status"])
		}
		assert.EqualValues(t, 2, body["pool"].(map[string]interface{})["size"])
	}
}

func TestStats(t *testing.T) {
	pool := &mockPool{}
	pool.On("Stats").Return(map[string]interface{}{"size": 2})

	w := httptest.NewRecorder()
	setupRouter(t, pool).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stats", bytes.NewReader(nil)))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "metrics")
	assert.Contains(t, body["metrics"], "jobs_succeeded")
}
