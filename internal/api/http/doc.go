// Package http exposes the capture pool over HTTP.
//
// Routes:
//
//	POST /        JobSpec JSON -> [Result]
//	GET  /health  pool occupancy
//	GET  /stats   counters summary
//
// Errors are returned as {"error": "..."}: 400 for bad input, 502 for
// navigation or protocol failures, 503 when the pool is closed and 504 when
// the job deadline passes.
package http
