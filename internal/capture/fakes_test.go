package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/mock"

	"github.com/GriffinCanCode/pagecapture/internal/har"
	"github.com/GriffinCanCode/pagecapture/internal/netlog"
)

var errBrowser = errors.New("websocket: close 1006")

type bodyReply struct {
	body    string
	encoded bool
	err     error
	// gate, when set, blocks the fetch until closed or ctx is done
	gate chan struct{}
}

// fakePage replays scripted protocol events during Navigate.
type fakePage struct {
	mu       sync.Mutex
	calls    []string
	listener func(ev interface{})
	cookies  []Cookie

	navEvents []interface{}
	nav       *Navigation
	bodies    map[network.RequestID]bodyReply
	jar       []Cookie
	html      string

	enableErr     error
	navErr        error
	screenshotErr error
	closed        atomic.Bool
	// navHook runs inside Navigate after events are emitted
	navHook func(ctx context.Context) error
}

func newFakePage() *fakePage {
	return &fakePage{
		bodies: make(map[network.RequestID]bodyReply),
		html:   "<html><head><title>Hello</title></head><body>hi</body></html>",
		jar:    []Cookie{{Name: "sid", Value: "1", Domain: "example.test"}},
	}
}

func (p *fakePage) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
}

func (p *fakePage) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePage) SetCookies(ctx context.Context, cookies []Cookie) error {
	p.record("set_cookies")
	p.mu.Lock()
	p.cookies = append([]Cookie(nil), cookies...)
	p.mu.Unlock()
	return nil
}

func (p *fakePage) SetUserAgent(ctx context.Context, userAgent string) error {
	p.record("set_user_agent")
	return nil
}

func (p *fakePage) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	p.record("set_extra_headers")
	return nil
}

func (p *fakePage) EnableEvents(ctx context.Context) error {
	p.record("enable_events")
	return p.enableErr
}

func (p *fakePage) Listen(fn func(ev interface{})) func() {
	p.mu.Lock()
	p.listener = fn
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.listener = nil
		p.mu.Unlock()
	}
}

// emit delivers ev to the current listener, if any
func (p *fakePage) emit(ev interface{}) {
	p.mu.Lock()
	fn := p.listener
	p.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (p *fakePage) GetResponseBody(ctx context.Context, id network.RequestID) (string, bool, error) {
	p.mu.Lock()
	reply, ok := p.bodies[id]
	p.mu.Unlock()
	if !ok {
		return "", false, errors.New("No resource with given identifier found")
	}
	if reply.gate != nil {
		select {
		case <-reply.gate:
		case <-ctx.Done():
			return "", false, ctx.Err()
		}
	}
	return reply.body, reply.encoded, reply.err
}

func (p *fakePage) Navigate(ctx context.Context, url string) (*Navigation, error) {
	p.record("navigate")
	for _, ev := range p.navEvents {
		p.emit(ev)
	}
	if p.navHook != nil {
		if err := p.navHook(ctx); err != nil {
			return nil, err
		}
	}
	if p.navErr != nil {
		return nil, p.navErr
	}
	if p.nav != nil {
		return p.nav, nil
	}
	return &Navigation{URL: url, Status: 200}, nil
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	p.record("screenshot")
	if p.screenshotErr != nil {
		return nil, p.screenshotErr
	}
	return []byte("\x89PNG"), nil
}

func (p *fakePage) Content(ctx context.Context) (string, error) {
	p.record("content")
	return p.html, nil
}

func (p *fakePage) Cookies(ctx context.Context) ([]Cookie, error) {
	p.record("cookies")
	return p.jar, nil
}

func (p *fakePage) Close(ctx context.Context) error {
	p.record("close")
	p.closed.Store(true)
	return nil
}

// fakeContext hands out a prepared page, or fresh ones
type fakeContext struct {
	id      string
	page    *fakePage
	pageErr error
	alive   atomic.Bool
	closed  atomic.Bool
}

func newFakeContext(id string) *fakeContext {
	ec := &fakeContext{id: id}
	ec.alive.Store(true)
	return ec
}

func (c *fakeContext) ID() string { return c.id }

func (c *fakeContext) NewPage(ctx context.Context) (Page, error) {
	if c.pageErr != nil {
		return nil, c.pageErr
	}
	if c.page != nil {
		return c.page, nil
	}
	return newFakePage(), nil
}

func (c *fakeContext) Alive() bool { return c.alive.Load() && !c.closed.Load() }

func (c *fakeContext) Close() error {
	c.closed.Store(true)
	return nil
}

// fakeFactory creates fakeContexts; failAfter > 0 makes creations beyond
// that count fail.
type fakeFactory struct {
	mu        sync.Mutex
	created   []*fakeContext
	failAfter int
	failAll   bool
}

func (f *fakeFactory) NewContext(ctx context.Context, id string) (ExecutionContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll || (f.failAfter > 0 && len(f.created) >= f.failAfter) {
		return nil, errBrowser
	}
	ec := newFakeContext(id)
	f.created = append(f.created, ec)
	return ec, nil
}

func (f *fakeFactory) Created() []*fakeContext {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeContext(nil), f.created...)
}

// runnerFunc adapts a func to JobRunner
type runnerFunc func(ctx context.Context, ec ExecutionContext, spec JobSpec) (*Result, error)

func (f runnerFunc) Run(ctx context.Context, ec ExecutionContext, spec JobSpec) (*Result, error) {
	return f(ctx, ec, spec)
}

// mockBuilder is a testify mock of ArchiveBuilder
type mockBuilder struct {
	mock.Mock
}

func (m *mockBuilder) Build(pageURL, title string, events []netlog.Event) (*har.HAR, error) {
	args := m.Called(pageURL, title, events)
	doc, _ := args.Get(0).(*har.HAR)
	return doc, args.Error(1)
}
