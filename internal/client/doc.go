// Package client is a Go client for the pagecapture HTTP API, built on
// resty with a retryablehttp transport.
//
//	c := client.New(client.DefaultConfig(), logger)
//	res, err := c.Capture(ctx, capture.JobSpec{URL: "https://example.com"})
package client
