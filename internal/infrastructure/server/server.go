package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/pagecapture/internal/api/http"
	"github.com/GriffinCanCode/pagecapture/internal/api/middleware"
	"github.com/GriffinCanCode/pagecapture/internal/browser/chrome"
	"github.com/GriffinCanCode/pagecapture/internal/capture"
	"github.com/GriffinCanCode/pagecapture/internal/har"
	"github.com/GriffinCanCode/pagecapture/internal/infrastructure/config"
	"github.com/GriffinCanCode/pagecapture/internal/infrastructure/logging"
	"github.com/GriffinCanCode/pagecapture/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/pagecapture/internal/infrastructure/tracing"
)

// Pool is the capture pool as seen by the server.
type Pool interface {
	apihttp.Submitter
	Close() error
}

// Deps are the collaborators of a Server. Pool is required; the rest get
// defaults when nil.
type Deps struct {
	Pool     Pool
	Logger   *zap.Logger
	Registry *prometheus.Registry
	Metrics  *monitoring.Metrics
	Tracer   *tracing.Tracer
	// Closers run after the pool on shutdown, in order.
	Closers []func() error
}

// Server wraps the HTTP server and its dependencies
type Server struct {
	cfg     *config.Config
	deps    Deps
	handler http.Handler
	http    *http.Server
}

// NewServer builds the full service from cfg: logger, metrics, tracer,
// browser, capture pool and router.
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, err
	}
	logger := log.Logger

	logger.Info("Initializing pagecapture server",
		zap.String("port", cfg.Server.Port),
		zap.Int("pool_size", cfg.Pool.Size),
		zap.String("browser", cfg.Browser.ExecPath),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(reg)
	tracer := tracing.New("pagecapture", logger.Named("trace"))

	browser := chrome.New(chrome.Config{
		ExecPath:     cfg.Browser.ExecPath,
		Headless:     cfg.Browser.Headless,
		NoSandbox:    cfg.Browser.NoSandbox,
		WindowWidth:  cfg.Browser.WindowWidth,
		WindowHeight: cfg.Browser.WindowHeight,
		UserAgent:    cfg.Browser.UserAgent,
	}, logger.Named("browser"))

	harCfg := har.DefaultConfig()
	harCfg.IncludeContent = cfg.Capture.HARContent

	runner := capture.NewRunner(capture.RunnerConfig{
		StepTimeout:       cfg.Capture.StepTimeout,
		NavigationTimeout: cfg.Capture.NavigationTimeout,
		BodyTimeout:       cfg.Capture.BodyTimeout,
		MaxSleep:          cfg.Capture.MaxSleep,
		SetAllCookies:     cfg.Capture.SetAllCookies,
	}, har.NewBuilder(harCfg), logger.Named("runner"), metrics, tracer)

	pool, err := capture.NewPool(ctx, browser, runner, capture.PoolConfig{
		Size:            cfg.Pool.Size,
		JobTimeout:      cfg.Capture.JobTimeout,
		ReplaceTimeout:  cfg.Pool.ReplaceTimeout,
		ReplaceFailures: cfg.Pool.ReplaceFailures,
		ReplaceCooldown: cfg.Pool.ReplaceCooldown,
	}, logger.Named("pool"), metrics)
	if err != nil {
		browser.Close()
		tracer.Close()
		return nil, fmt.Errorf("failed to start capture pool: %w", err)
	}

	return New(cfg, Deps{
		Pool:     pool,
		Logger:   logger,
		Registry: reg,
		Metrics:  metrics,
		Tracer:   tracer,
		Closers: []func() error{
			browser.Close,
			func() error { tracer.Close(); return nil },
		},
	})
}

// New assembles the router around already-built dependencies.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Pool == nil {
		return nil, errors.New("server: pool is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetrics(deps.Registry)
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(deps.Tracer))
	router.Use(monitoring.Middleware(deps.Metrics))
	router.Use(middleware.RequestLogger(deps.Logger.Named("http")))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.BodyLimit(cfg.Server.MaxBodyBytes))

	apihttp.NewHandlers(deps.Pool, deps.Metrics, deps.Logger.Named("api")).Register(router)
	router.GET("/metrics", gin.WrapH(monitoring.Handler(deps.Registry)))

	var handler http.Handler = router
	if cfg.Server.Gzip {
		wrap, err := middleware.Compress(middleware.DefaultCompressConfig())
		if err != nil {
			return nil, err
		}
		handler = wrap(router)
	}

	return &Server{
		cfg:     cfg,
		deps:    deps,
		handler: handler,
		http: &http.Server{
			Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler: handler,
		},
	}, nil
}

// Handler returns the root handler, compression included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run starts the HTTP server and blocks until it stops. A clean Close
// makes Run return nil.
func (s *Server) Run() error {
	s.deps.Logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close stops accepting requests, drains in-flight captures and releases
// the pool and the browser.
func (s *Server) Close(ctx context.Context) error {
	s.deps.Logger.Info("Shutting down server...")

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.deps.Pool.Close(); err != nil {
		errs = append(errs, fmt.Errorf("pool close: %w", err))
	}
	for _, c := range s.deps.Closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		s.deps.Logger.Error("Shutdown finished with errors", zap.Error(err))
	} else {
		s.deps.Logger.Info("Shutdown complete")
	}
	_ = s.deps.Logger.Sync()
	return err
}
