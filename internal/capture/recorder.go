package capture

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pagecapture/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pagecapture/internal/netlog"
)

// RecorderConfig bounds the recorder's own protocol calls.
type RecorderConfig struct {
	EnableTimeout time.Duration
	BodyTimeout   time.Duration
}

// Recorder captures the watched protocol events of one page into an ordered
// trace and, for every finished response with a body, appends a synthesized
// Network.getResponseBody event carrying the base64 body.
//
// The listener never blocks on protocol round-trips: body fetches run on
// their own goroutines.
type Recorder struct {
	page    Page
	cfg     RecorderConfig
	logger  *zap.Logger
	metrics *monitoring.Metrics

	// fetchCtx outlives Detach so in-flight fetches can finish
	fetchCtx context.Context

	trace netlog.Trace

	mu       sync.Mutex
	detached bool
	cancel   func()
	inflight sync.WaitGroup
}

// Attach enables network and page notifications on page and starts
// recording. ctx bounds the enable call and every body fetch.
func Attach(ctx context.Context, page Page, cfg RecorderConfig, logger *zap.Logger, metrics *monitoring.Metrics) (*Recorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	enableCtx := ctx
	if cfg.EnableTimeout > 0 {
		var cancel context.CancelFunc
		enableCtx, cancel = context.WithTimeout(ctx, cfg.EnableTimeout)
		defer cancel()
	}
	if err := page.EnableEvents(enableCtx); err != nil {
		return nil, protocolError("enable events", err)
	}

	r := &Recorder{
		page:     page,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		fetchCtx: ctx,
	}
	r.cancel = page.Listen(r.handle)
	return r, nil
}

func (r *Recorder) handle(ev interface{}) {
	e, ok := netlog.FromCDP(ev)
	if !ok {
		return
	}

	r.mu.Lock()
	if r.detached {
		r.mu.Unlock()
		return
	}
	r.trace.Append(e)

	finished, fetch := ev.(*network.EventLoadingFinished)
	fetch = fetch && finished.EncodedDataLength > 0
	if fetch {
		// Add under mu so Wait after Detach observes every started fetch
		r.inflight.Add(1)
	}
	r.mu.Unlock()

	if fetch {
		go r.fetchBody(finished.RequestID)
	}
}

func (r *Recorder) fetchBody(id network.RequestID) {
	defer r.inflight.Done()

	ctx := r.fetchCtx
	if r.cfg.BodyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.BodyTimeout)
		defer cancel()
	}

	body, encoded, err := r.page.GetResponseBody(ctx, id)
	if err != nil {
		// Redirects, evicted resources and cancelled requests have no body
		r.logger.Debug("response body unavailable",
			zap.String("request_id", string(id)),
			zap.Error(err),
		)
		r.metrics.RecordBodyFetch("error")
		return
	}

	if !encoded {
		body = base64.StdEncoding.EncodeToString([]byte(body))
	}

	r.trace.Append(netlog.Event{
		Method: netlog.MethodGetResponseBody,
		Params: &netlog.ResponseBody{
			RequestID:     id,
			Body:          body,
			Base64Encoded: true,
		},
	})
	r.metrics.RecordBodyFetch("ok")
}

// Detach stops recording new protocol events. Body fetches already started
// still complete and land in the trace. Detach is idempotent.
func (r *Recorder) Detach() {
	r.mu.Lock()
	if r.detached {
		r.mu.Unlock()
		return
	}
	r.detached = true
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Wait blocks until every started body fetch has finished or ctx is done.
// Call it after Detach.
func (r *Recorder) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events returns a snapshot of the trace in arrival order.
func (r *Recorder) Events() []netlog.Event {
	return r.trace.Events()
}
