package capture

import (
	"context"

	"github.com/chromedp/cdproto/network"

	"github.com/GriffinCanCode/pagecapture/internal/har"
	"github.com/GriffinCanCode/pagecapture/internal/netlog"
)

// Page is a page-level browser resource used by exactly one job.
type Page interface {
	SetCookies(ctx context.Context, cookies []Cookie) error
	SetUserAgent(ctx context.Context, userAgent string) error
	SetExtraHeaders(ctx context.Context, headers map[string]string) error

	// EnableEvents turns on page and network domain notifications.
	EnableEvents(ctx context.Context) error
	// Listen registers fn for every protocol event of the page until the
	// returned cancel func is called. fn must not block.
	Listen(fn func(ev interface{})) (cancel func())
	// GetResponseBody pulls the body of a finished request.
	GetResponseBody(ctx context.Context, id network.RequestID) (body string, base64Encoded bool, err error)

	Navigate(ctx context.Context, url string) (*Navigation, error)
	Screenshot(ctx context.Context) ([]byte, error)
	Content(ctx context.Context) (string, error)
	Cookies(ctx context.Context) ([]Cookie, error)
	Close(ctx context.Context) error
}

// ExecutionContext is an isolated browser session with its own cookie jar.
type ExecutionContext interface {
	ID() string
	NewPage(ctx context.Context) (Page, error)
	// Alive reports whether the underlying protocol connection is usable.
	Alive() bool
	Close() error
}

// ContextFactory creates execution contexts for the pool.
type ContextFactory interface {
	NewContext(ctx context.Context, id string) (ExecutionContext, error)
}

// ArchiveBuilder turns a finished event trace into an archive.
type ArchiveBuilder interface {
	Build(pageURL, title string, events []netlog.Event) (*har.HAR, error)
}

// JobRunner executes one job on a loaned execution context.
type JobRunner interface {
	Run(ctx context.Context, ec ExecutionContext, spec JobSpec) (*Result, error)
}
