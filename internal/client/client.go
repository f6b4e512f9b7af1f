package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pagecapture/internal/capture"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	// Timeout bounds a whole call, retries included
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	UserAgent    string
}

// DefaultConfig targets a local server.
func DefaultConfig() Config {
	return Config{
		BaseURL:      "http://localhost:3000",
		Timeout:      3 * time.Minute,
		RetryMax:     3,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 10 * time.Second,
		UserAgent:    "pagecapture-client/1.0",
	}
}

// Client talks to a pagecapture server.
type Client struct {
	resty *resty.Client
}

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("capture server returned %d: %s", e.Status, e.Message)
}

type errorBody struct {
	Error string `json:"error"`
}

// New creates a client. Retries happen in the transport: connection
// failures, 429 and 503 are retried; capture failures (502, 504) are not.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = cfg.RetryWaitMin
	retryClient.RetryWaitMax = cfg.RetryWaitMax
	retryClient.CheckRetry = CheckRetry
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	retryClient.Logger = leveledLogger{logger.Sugar()}

	r := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetTransport(&retryablehttp.RoundTripper{Client: retryClient})
	r.JSONMarshal = sonic.Marshal
	r.JSONUnmarshal = sonic.Unmarshal

	return &Client{resty: r}
}

// CheckRetry retries transport errors and the statuses a busy or
// restarting server answers with.
func CheckRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true, nil
	}
	return false, nil
}

// Capture submits spec and returns the single result.
func (c *Client) Capture(ctx context.Context, spec capture.JobSpec) (*capture.Result, error) {
	var results []capture.Result
	resp, err := c.resty.R().
		SetContext(ctx).
		SetBody(spec).
		SetResult(&results).
		SetError(&errorBody{}).
		Post("/")
	if err != nil {
		return nil, fmt.Errorf("capture request: %w", err)
	}
	if err := apiError(resp); err != nil {
		return nil, err
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("capture response: expected 1 result, got %d", len(results))
	}
	return &results[0], nil
}

// Health fetches the server's pool stats.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	var body map[string]interface{}
	resp, err := c.resty.R().
		SetContext(ctx).
		SetResult(&body).
		SetError(&body).
		Get("/health")
	if err != nil {
		return nil, fmt.Errorf("health request: %w", err)
	}
	if resp.IsError() {
		state, _ := body["status"].(string)
		return body, &APIError{Status: resp.StatusCode(), Message: state}
	}
	return body, nil
}

func apiError(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	msg := resp.Status()
	if e, ok := resp.Error().(*errorBody); ok && e.Error != "" {
		msg = e.Error
	}
	return &APIError{Status: resp.StatusCode(), Message: msg}
}

// IsRetryable reports whether err is worth resubmitting later.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusServiceUnavailable || apiErr.Status == http.StatusTooManyRequests
	}
	return false
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
