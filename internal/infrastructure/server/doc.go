// Package server wires the capture service together.
//
// NewServer builds everything from configuration: zap logger, Prometheus
// registry, tracer, chromedp browser, capture pool and gin router. New takes
// prebuilt dependencies and is what tests use.
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(ctx, cfg)
//	go srv.Run()
//	defer srv.Close(ctx)
package server
