/*
Package monitoring provides Prometheus metrics for the capture service.

# Overview

Collectors cover HTTP traffic, capture jobs and their steps, response body
fetches, archive failures, execution context replacements and pool
occupancy. All collectors register on the Registerer passed to NewMetrics,
so tests use a private prometheus.NewRegistry().

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(monitoring.Handler(reg)))

	timer := monitoring.NewTimer(metrics, "navigate")
	// ... perform step ...
	timer.Stop("ok")
*/
package monitoring
