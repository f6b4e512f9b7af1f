package capture

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pagecapture/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pagecapture/internal/infrastructure/tracing"
)

// RunnerConfig bounds each step of a job.
type RunnerConfig struct {
	StepTimeout       time.Duration
	NavigationTimeout time.Duration
	BodyTimeout       time.Duration
	MaxSleep          time.Duration
	// SetAllCookies applies every provided cookie; false applies only the
	// first one and logs how many were dropped.
	SetAllCookies bool
}

// DefaultRunnerConfig returns production step bounds
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		StepTimeout:       15 * time.Second,
		NavigationTimeout: 45 * time.Second,
		BodyTimeout:       10 * time.Second,
		MaxSleep:          30 * time.Second,
		SetAllCookies:     true,
	}
}

// Runner drives one page of a loaned execution context through a job.
type Runner struct {
	cfg     RunnerConfig
	builder ArchiveBuilder
	logger  *zap.Logger
	metrics *monitoring.Metrics
	tracer  *tracing.Tracer
}

// NewRunner creates a runner. metrics and tracer may be nil.
func NewRunner(cfg RunnerConfig, builder ArchiveBuilder, logger *zap.Logger, metrics *monitoring.Metrics, tracer *tracing.Tracer) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:     cfg,
		builder: builder,
		logger:  logger,
		metrics: metrics,
		tracer:  tracer,
	}
}

// Run executes spec on a fresh page of ec. The page is always closed before
// Run returns. An archive that cannot be built does not fail the job; the
// result then carries HARError instead of HAR.
func (r *Runner) Run(ctx context.Context, ec ExecutionContext, spec JobSpec) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	log := r.logger.With(
		zap.String("job_id", JobIDFrom(ctx)),
		zap.String("context_id", ec.ID()),
		zap.String("url", spec.URL),
	)

	var page Page
	err := r.step(ctx, "open_page", r.cfg.StepTimeout, func(ctx context.Context) error {
		var err error
		page, err = ec.NewPage(ctx)
		return protocolError("open page", err)
	})
	if err != nil {
		return nil, err
	}

	pageClosed := false
	defer func() {
		if !pageClosed {
			r.closePage(ctx, page, log)
		}
	}()

	if err := r.applyPreconditions(ctx, page, spec, log); err != nil {
		return nil, err
	}

	rec, err := Attach(ctx, page, RecorderConfig{
		EnableTimeout: r.cfg.StepTimeout,
		BodyTimeout:   r.cfg.BodyTimeout,
	}, log, r.metrics)
	if err != nil {
		return nil, err
	}

	detached := false
	defer func() {
		if !detached {
			rec.Detach()
			r.settle(ctx, rec, log)
		}
	}()

	result := &Result{
		ID:        JobIDFrom(ctx),
		UserAgent: spec.UserAgent,
	}

	var nav *Navigation
	err = r.step(ctx, "navigate", r.cfg.NavigationTimeout, func(ctx context.Context) error {
		var err error
		nav, err = page.Navigate(ctx, spec.URL)
		return navigationError("navigate", err)
	})
	if err != nil {
		return nil, err
	}
	result.LastRedirectedURL = lastRedirectedURL(spec.URL, nav)

	if d := r.sleepFor(spec); d > 0 {
		err = r.step(ctx, "sleep", 0, func(ctx context.Context) error {
			return sleep(ctx, d)
		})
		if err != nil {
			return nil, err
		}
	}

	err = r.step(ctx, "screenshot", r.cfg.StepTimeout, func(ctx context.Context) error {
		png, err := page.Screenshot(ctx)
		if err != nil {
			return protocolError("screenshot", err)
		}
		result.PNG = base64.StdEncoding.EncodeToString(png)
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = r.step(ctx, "content", r.cfg.StepTimeout, func(ctx context.Context) error {
		var err error
		result.HTML, err = page.Content(ctx)
		return protocolError("content", err)
	})
	if err != nil {
		return nil, err
	}

	err = r.step(ctx, "cookies", r.cfg.StepTimeout, func(ctx context.Context) error {
		var err error
		result.Cookies, err = page.Cookies(ctx)
		return protocolError("cookies", err)
	})
	if err != nil {
		return nil, err
	}
	if result.Cookies == nil {
		result.Cookies = []Cookie{}
	}

	rec.Detach()
	detached = true
	r.settle(ctx, rec, log)

	r.closePage(ctx, page, log)
	pageClosed = true

	r.buildArchive(ctx, spec.URL, result, rec, log)
	return result, nil
}

func (r *Runner) applyPreconditions(ctx context.Context, page Page, spec JobSpec, log *zap.Logger) error {
	if cookies := r.cookiesFor(spec, log); len(cookies) > 0 {
		err := r.step(ctx, "set_cookies", r.cfg.StepTimeout, func(ctx context.Context) error {
			return protocolError("set cookies", page.SetCookies(ctx, cookies))
		})
		if err != nil {
			return err
		}
	}

	if spec.UserAgent != "" {
		err := r.step(ctx, "set_user_agent", r.cfg.StepTimeout, func(ctx context.Context) error {
			return protocolError("set user agent", page.SetUserAgent(ctx, spec.UserAgent))
		})
		if err != nil {
			return err
		}
	}

	if spec.Referer != "" {
		headers := map[string]string{"referer": spec.Referer}
		err := r.step(ctx, "set_extra_headers", r.cfg.StepTimeout, func(ctx context.Context) error {
			return protocolError("set extra headers", page.SetExtraHeaders(ctx, headers))
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// cookiesFor applies the cookie policy and fills in the job url for
// descriptors that name neither a url nor a domain.
func (r *Runner) cookiesFor(spec JobSpec, log *zap.Logger) []Cookie {
	if len(spec.Cookies) == 0 {
		return nil
	}

	src := spec.Cookies
	if !r.cfg.SetAllCookies && len(src) > 1 {
		log.Warn("applying first cookie only", zap.Int("dropped", len(src)-1))
		src = src[:1]
	}

	out := make([]Cookie, len(src))
	for i, c := range src {
		if c.URL == "" && c.Domain == "" {
			c.URL = spec.URL
		}
		out[i] = c
	}
	return out
}

func (r *Runner) sleepFor(spec JobSpec) time.Duration {
	d := time.Duration(spec.SleepMillis) * time.Millisecond
	if r.cfg.MaxSleep > 0 && d > r.cfg.MaxSleep {
		return r.cfg.MaxSleep
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settle waits for in-flight body fetches, bounded by BodyTimeout
func (r *Runner) settle(ctx context.Context, rec *Recorder, log *zap.Logger) {
	wctx := ctx
	if r.cfg.BodyTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, r.cfg.BodyTimeout)
		defer cancel()
	}
	if err := rec.Wait(wctx); err != nil {
		log.Warn("response body fetches did not settle", zap.Error(err))
	}
}

// closePage runs even when the job context is already done
func (r *Runner) closePage(ctx context.Context, page Page, log *zap.Logger) {
	cctx := context.WithoutCancel(ctx)
	if r.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(cctx, r.cfg.StepTimeout)
		defer cancel()
	}
	if err := page.Close(cctx); err != nil {
		log.Warn("failed to close page", zap.Error(err))
	}
}

func (r *Runner) buildArchive(ctx context.Context, pageURL string, result *Result, rec *Recorder, log *zap.Logger) {
	span, _ := r.tracer.StartSpan(ctx, "capture.build_archive")
	timer := monitoring.NewTimer(r.metrics, "build_archive")

	doc, err := r.builder.Build(pageURL, pageTitle(result.HTML), rec.Events())
	if err != nil {
		aerr := &Error{Kind: KindArchiveBuild, Op: "build archive", Err: err}
		log.Error("archive build failed", zap.Error(err))
		r.metrics.IncArchiveErrors()
		result.HARError = aerr.Error()
		span.SetError(aerr)
		timer.Stop("error")
	} else {
		result.HAR = doc
		span.SetTag("har.entries", strconv.Itoa(len(doc.Log.Entries)))
		timer.Stop("ok")
	}

	span.Finish()
	r.tracer.Submit(span)
}

// step runs fn under its own timeout, span and step histogram
func (r *Runner) step(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	span, sctx := r.tracer.StartSpan(ctx, "capture."+name)
	if id := JobIDFrom(ctx); id != "" {
		span.SetTag("job_id", id)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		sctx, cancel = context.WithTimeout(sctx, timeout)
		defer cancel()
	}

	timer := monitoring.NewTimer(r.metrics, name)
	err := fn(sctx)
	if err != nil {
		span.SetError(err)
		timer.Stop("error")
	} else {
		timer.Stop("ok")
	}

	span.Finish()
	r.tracer.Submit(span)
	return err
}

func pageTitle(html string) string {
	if html == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
