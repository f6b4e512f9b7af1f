package chrome

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pagecapture/internal/capture"
)

var ErrBrowserClosed = errors.New("browser is closed")

// Config describes how the browser process is launched
type Config struct {
	ExecPath     string
	Headless     bool
	NoSandbox    bool
	WindowWidth  int
	WindowHeight int
	UserAgent    string
	// ProbeTimeout bounds the liveness check behind ExecutionContext.Alive
	ProbeTimeout time.Duration
}

// DefaultConfig returns the stock headless launch settings
func DefaultConfig() Config {
	return Config{
		ExecPath:     "/usr/bin/chromium-browser",
		Headless:     true,
		NoSandbox:    true,
		WindowWidth:  1280,
		WindowHeight: 800,
		ProbeTimeout: 3 * time.Second,
	}
}

// Browser owns one headless browser process and hands out isolated browser
// contexts from it. It implements capture.ContextFactory. A crashed process
// is relaunched on the next NewContext call.
type Browser struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	root        context.Context
	rootCancel  context.CancelFunc
	allocCancel context.CancelFunc
	closed      bool
}

// New creates a launcher; the process starts on first use
func New(cfg Config, logger *zap.Logger) *Browser {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultConfig().ProbeTimeout
	}
	return &Browser{cfg: cfg, logger: logger}
}

func (b *Browser) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", b.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if b.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(b.cfg.ExecPath))
	}
	if b.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if b.cfg.WindowWidth > 0 && b.cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(b.cfg.WindowWidth, b.cfg.WindowHeight))
	}
	if b.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(b.cfg.UserAgent))
	}
	return opts
}

// rootContextLocked returns the live browser-level chromedp context, launching
// the process when needed. b.mu must be held.
func (b *Browser) rootContextLocked() (context.Context, error) {
	if b.closed {
		return nil, ErrBrowserClosed
	}
	if b.root != nil && b.root.Err() == nil && b.probe(b.root) == nil {
		return b.root, nil
	}
	if b.root != nil {
		b.logger.Warn("browser process lost, relaunching")
		b.shutdownLocked()
	}

	// The process lifetime is bound to Close, not to any request
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), b.allocatorOptions()...)
	root, rootCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(b.logger.Sugar().Debugf),
		chromedp.WithErrorf(b.logger.Sugar().Warnf),
	)
	if err := chromedp.Run(root); err != nil {
		rootCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	b.root, b.rootCancel, b.allocCancel = root, rootCancel, allocCancel
	b.logger.Info("browser launched",
		zap.String("exec_path", b.cfg.ExecPath),
		zap.Bool("headless", b.cfg.Headless),
	)
	return root, nil
}

func (b *Browser) shutdownLocked() {
	if b.rootCancel != nil {
		b.rootCancel()
	}
	if b.allocCancel != nil {
		b.allocCancel()
	}
	b.root, b.rootCancel, b.allocCancel = nil, nil, nil
}

// probe checks the browser-level connection with a cheap call
func (b *Browser) probe(root context.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.ProbeTimeout)
	defer cancel()
	_, err := target.GetTargets().Do(executor(ctx, root))
	return err
}

// NewContext creates an isolated browser context with its own cookie jar
func (b *Browser) NewContext(ctx context.Context, id string) (capture.ExecutionContext, error) {
	b.mu.Lock()
	root, err := b.rootContextLocked()
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	bcid, err := target.CreateBrowserContext().Do(executor(ctx, root))
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	b.logger.Debug("execution context created",
		zap.String("context_id", id),
		zap.String("browser_context_id", string(bcid)),
	)
	return &execContext{
		id:      id,
		browser: b,
		root:    root,
		bcid:    bcid,
	}, nil
}

// Close terminates the browser process
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.shutdownLocked()
	return nil
}

// executor binds ctx to the browser-level protocol connection of root
func executor(ctx context.Context, root context.Context) context.Context {
	return cdp.WithExecutor(ctx, chromedp.FromContext(root).Browser)
}

type execContext struct {
	id      string
	browser *Browser
	root    context.Context
	bcid    cdp.BrowserContextID
	closed  atomic.Bool
}

func (e *execContext) ID() string { return e.id }

func (e *execContext) NewPage(ctx context.Context) (capture.Page, error) {
	if e.closed.Load() {
		return nil, ErrBrowserClosed
	}

	tid, err := target.CreateTarget("about:blank").
		WithBrowserContextID(e.bcid).
		Do(executor(ctx, e.root))
	if err != nil {
		return nil, fmt.Errorf("create target: %w", err)
	}

	// The first Run attaches the target for the whole lifetime of the ctx it
	// gets, so it must be tabCtx itself
	tabCtx, cancel := chromedp.NewContext(e.root, chromedp.WithTargetID(tid))
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("attach target: %w", err)
	}

	return &tab{
		ctx:      tabCtx,
		cancel:   cancel,
		targetID: tid,
		logger:   e.browser.logger.With(zap.String("context_id", e.id)),
	}, nil
}

// Alive reports whether the browser connection still answers
func (e *execContext) Alive() bool {
	if e.closed.Load() || e.root.Err() != nil {
		return false
	}

	return e.browser.probe(e.root) == nil
}

func (e *execContext) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.root.Err() != nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.browser.cfg.ProbeTimeout)
	defer cancel()
	if err := target.DisposeBrowserContext(e.bcid).Do(executor(ctx, e.root)); err != nil {
		return fmt.Errorf("dispose browser context: %w", err)
	}
	return nil
}
