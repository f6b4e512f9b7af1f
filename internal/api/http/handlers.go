package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pagecapture/internal/capture"
	"github.com/GriffinCanCode/pagecapture/internal/infrastructure/monitoring"
)

// StatusClientClosedRequest is returned when the caller disconnects
// before the capture finishes.
const StatusClientClosedRequest = 499

// Submitter runs capture jobs.
type Submitter interface {
	Submit(ctx context.Context, spec capture.JobSpec) (*capture.Result, error)
	Stats() map[string]interface{}
}

// Handlers serves the capture API.
type Handlers struct {
	pool    Submitter
	metrics *monitoring.Metrics
	logger  *zap.Logger
	started time.Time
}

// NewHandlers creates the API handlers. metrics may be nil.
func NewHandlers(pool Submitter, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		pool:    pool,
		metrics: metrics,
		logger:  logger,
		started: time.Now(),
	}
}

// Register mounts the routes on r.
func (h *Handlers) Register(r gin.IRoutes) {
	r.POST("/", h.Capture)
	r.GET("/health", h.Health)
	r.GET("/stats", h.Stats)
}

// Capture decodes a JobSpec, runs it and answers with a one-element array
// holding the result.
func (h *Handlers) Capture(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(c, http.StatusRequestEntityTooLarge, err)
			return
		}
		h.fail(c, http.StatusBadRequest, err)
		return
	}

	var spec capture.JobSpec
	if err := sonic.Unmarshal(body, &spec); err != nil {
		h.fail(c, http.StatusBadRequest, errors.New("invalid JSON body: "+err.Error()))
		return
	}

	res, err := h.pool.Submit(c.Request.Context(), spec)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Warn("capture failed",
				zap.String("url", spec.URL),
				zap.Int("status", status),
				zap.Error(err),
			)
		}
		h.fail(c, status, err)
		return
	}

	out, err := sonic.Marshal([]*capture.Result{res})
	if err != nil {
		h.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", out)
}

// Health reports pool occupancy; 503 once the pool is closed.
func (h *Handlers) Health(c *gin.Context) {
	stats := h.pool.Stats()
	status := http.StatusOK
	state := "healthy"
	if closed, _ := stats["closed"].(bool); closed {
		status = http.StatusServiceUnavailable
		state = "closed"
	}
	c.JSON(status, gin.H{
		"status": state,
		"pool":   stats,
	})
}

// Stats returns a JSON summary of the service counters.
func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"pool":      h.pool.Stats(),
		"metrics":   h.metrics.Snapshot(),
	})
}

func (h *Handlers) fail(c *gin.Context, status int, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, capture.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, capture.ErrPoolClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	case errors.Is(err, capture.ErrNavigation), errors.Is(err, capture.ErrProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
