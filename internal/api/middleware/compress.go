package middleware

import (
	"fmt"
	"net/http"

	"github.com/klauspost/compress/gzhttp"
	"github.com/klauspost/compress/gzip"
)

// CompressConfig controls response compression.
type CompressConfig struct {
	// MinSize is the smallest response body that gets compressed.
	MinSize int
	Level   int
}

// DefaultCompressConfig compresses anything over 1KiB. Capture results carry
// base64 screenshots and archives, so most responses qualify.
func DefaultCompressConfig() CompressConfig {
	return CompressConfig{
		MinSize: 1024,
		Level:   gzip.DefaultCompression,
	}
}

// Compress returns an http.Handler wrapper that gzips responses for clients
// sending Accept-Encoding: gzip. It wraps the whole router rather than
// running as a gin middleware so that streamed writes are compressed too.
func Compress(cfg CompressConfig) (func(http.Handler) http.Handler, error) {
	wrap, err := gzhttp.NewWrapper(
		gzhttp.MinSize(cfg.MinSize),
		gzhttp.CompressionLevel(cfg.Level),
	)
	if err != nil {
		return nil, fmt.Errorf("gzip wrapper: %w", err)
	}
	return func(h http.Handler) http.Handler {
		return wrap(h)
	}, nil
}
