package chrome

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/GriffinCanCode/pagecapture/internal/capture"
	"github.com/GriffinCanCode/pagecapture/internal/har"
)

// browserPath finds a local browser binary; tests that need one are skipped
// otherwise.
func browserPath(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests skipped in short mode")
	}
	if p := os.Getenv("BROWSER_EXEC_PATH"); p != "" {
		return p
	}
	for _, name := range []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no browser binary found")
	return ""
}

func TestCaptureAgainstRealBrowser(t *testing.T) {
	path := browserPath(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "seen", Value: "yes", Path: "/"})
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<!DOCTYPE html><html><head><title>Final</title></head><body><p>done</p></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.ExecPath = path
	b := New(cfg, zaptest.NewLogger(t))
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	ec, err := b.NewContext(ctx, "ctx_test")
	require.NoError(t, err)
	defer ec.Close()
	require.True(t, ec.Alive())

	runner := capture.NewRunner(capture.DefaultRunnerConfig(), har.NewBuilder(har.DefaultConfig()), zaptest.NewLogger(t), nil, nil)
	res, err := runner.Run(ctx, ec, capture.JobSpec{
		URL:     srv.URL + "/start",
		Cookies: []capture.Cookie{{Name: "in", Value: "1"}},
	})
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/final", res.LastRedirectedURL)
	assert.Contains(t, res.HTML, "done")
	assert.True(t, strings.HasPrefix(strings.ToLower(res.HTML), "<!doctype html>"), res.HTML)
	assert.NotEmpty(t, res.PNG)

	names := map[string]bool{}
	for _, c := range res.Cookies {
		names[c.Name] = true
	}
	assert.True(t, names["in"])
	assert.True(t, names["seen"])

	require.NotNil(t, res.HAR, res.HARError)
	assert.Equal(t, "Final", res.HAR.Log.Pages[0].Title)
	require.GreaterOrEqual(t, len(res.HAR.Log.Entries), 2)
	assert.Equal(t, http.StatusFound, res.HAR.Log.Entries[0].Response.Status)
}
