package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	"github.com/gabriel-vasile/mimetype"

	"github.com/GriffinCanCode/pagecapture/internal/capture"
)

const (
	screenshotFile = "screenshot.png"
	htmlFile       = "page.html"
	harFile        = "page.har"
	cookiesFile    = "cookies.json"
)

// writeOutputs stores the parts of res under dir and returns the paths
// written. page.har is skipped when the archive failed to build.
func writeOutputs(dir string, res *capture.Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	png, err := base64.StdEncoding.DecodeString(res.PNG)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	if len(png) > 0 {
		if mt := mimetype.Detect(png); !mt.Is("image/png") {
			return nil, fmt.Errorf("screenshot is %s, not image/png", mt.String())
		}
	}

	cookies, err := sonic.ConfigStd.MarshalIndent(res.Cookies, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode cookies: %w", err)
	}

	files := []struct {
		name string
		data []byte
	}{
		{screenshotFile, png},
		{htmlFile, []byte(res.HTML)},
		{cookiesFile, cookies},
	}
	if res.HAR != nil {
		archive, err := sonic.ConfigStd.MarshalIndent(res.HAR, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode archive: %w", err)
		}
		files = append(files, struct {
			name string
			data []byte
		}{harFile, archive})
	}

	written := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, f.data, 0o644); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}
