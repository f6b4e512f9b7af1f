package capture

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/GriffinCanCode/pagecapture/internal/har"
)

// Cookie is a browser cookie in the puppeteer cookie shape. Input
// descriptors need a name and a value; url defaults to the job url when
// neither url nor domain is set.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	URL      string  `json:"url,omitempty"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	Size     int     `json:"size,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	Session  bool    `json:"session,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// JobSpec is one navigation-and-capture request.
type JobSpec struct {
	URL         string   `json:"url"`
	Cookies     []Cookie `json:"cookies,omitempty"`
	UserAgent   string   `json:"useragent,omitempty"`
	Referer     string   `json:"referer,omitempty"`
	SleepMillis int      `json:"sleep,omitempty"`
}

// Validate checks the spec before any execution context is touched.
func (s JobSpec) Validate() error {
	if strings.TrimSpace(s.URL) == "" {
		return validationError("url is required")
	}

	u, err := url.Parse(s.URL)
	if err != nil {
		return validationError(fmt.Sprintf("invalid url: %v", err))
	}
	if u.Scheme == "" {
		return validationError("url must be absolute")
	}

	if s.SleepMillis < 0 {
		return validationError("sleep must not be negative")
	}

	for i, c := range s.Cookies {
		if c.Name == "" {
			return validationError(fmt.Sprintf("cookies[%d]: name is required", i))
		}
	}
	return nil
}

// Result is the composite capture returned for one job. HAR is nil when the
// archive could not be built; HARError then says why.
type Result struct {
	ID                string   `json:"id"`
	LastRedirectedURL string   `json:"last_redirected_url"`
	UserAgent         string   `json:"useragent,omitempty"`
	PNG               string   `json:"png"`
	HTML              string   `json:"html"`
	Cookies           []Cookie `json:"cookies"`
	HAR               *har.HAR `json:"har"`
	HARError          string   `json:"har_error,omitempty"`
}

// Navigation describes the outcome of a page navigation. RedirectChain holds
// the url of every hop the browser was redirected to, in order; it is empty
// when no redirect happened.
type Navigation struct {
	URL           string
	Status        int
	RedirectChain []string
}

// lastRedirectedURL returns the final hop of the redirect chain, falling back
// to the requested url.
func lastRedirectedURL(requested string, nav *Navigation) string {
	if nav == nil || len(nav.RedirectChain) == 0 {
		return requested
	}
	if last := nav.RedirectChain[len(nav.RedirectChain)-1]; last != "" {
		return last
	}
	return requested
}
