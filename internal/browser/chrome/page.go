package chrome

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/pagecapture/internal/capture"
)

// tab is one browser target implementing capture.Page
type tab struct {
	ctx      context.Context
	cancel   context.CancelFunc
	targetID target.ID
	logger   *zap.Logger
	once     sync.Once
}

// bind derives a context of the tab that is also cancelled when ctx is
func bind(tabCtx, ctx context.Context) (context.Context, context.CancelFunc) {
	rctx, cancel := context.WithCancel(tabCtx)
	stop := context.AfterFunc(ctx, cancel)
	return rctx, func() {
		stop()
		cancel()
	}
}

// run executes actions on the tab under ctx's deadline. When ctx ends first
// its error is returned so callers can tell timeouts from protocol errors.
func (t *tab) run(ctx context.Context, actions ...chromedp.Action) error {
	rctx, release := bind(t.ctx, ctx)
	defer release()

	err := chromedp.Run(rctx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (t *tab) SetCookies(ctx context.Context, cookies []capture.Cookie) error {
	return t.run(ctx, network.SetCookies(toCookieParams(cookies)))
}

func (t *tab) SetUserAgent(ctx context.Context, userAgent string) error {
	return t.run(ctx, emulation.SetUserAgentOverride(userAgent))
}

func (t *tab) SetExtraHeaders(ctx context.Context, headers map[string]string) error {
	h := make(network.Headers, len(headers))
	for k, v := range headers {
		h[k] = v
	}
	return t.run(ctx, network.Enable(), network.SetExtraHTTPHeaders(h))
}

func (t *tab) EnableEvents(ctx context.Context) error {
	return t.run(ctx, network.Enable(), page.Enable())
}

// Listen subscribes fn to the tab's events; cancel removes the listener
func (t *tab) Listen(fn func(ev interface{})) func() {
	lctx, cancel := context.WithCancel(t.ctx)
	chromedp.ListenTarget(lctx, fn)
	return cancel
}

// GetResponseBody keeps the protocol's base64 flag. network.GetResponseBody's
// Do decodes the body and drops it, so the command is issued directly.
func (t *tab) GetResponseBody(ctx context.Context, id network.RequestID) (string, bool, error) {
	var res network.GetResponseBodyReturns
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return cdp.Execute(ctx, network.CommandGetResponseBody, network.GetResponseBody(id), &res)
	}))
	if err != nil {
		return "", false, err
	}
	return res.Body, res.Base64encoded, nil
}

// Navigate loads url and waits for the load event. The redirect chain is
// read from main-frame document requests that carry a redirect response.
func (t *tab) Navigate(ctx context.Context, url string) (*capture.Navigation, error) {
	var (
		mu    sync.Mutex
		chain []string
	)

	lctx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	chromedp.ListenTarget(lctx, func(ev interface{}) {
		e, ok := ev.(*network.EventRequestWillBeSent)
		if !ok || e.RedirectResponse == nil || e.Request == nil {
			return
		}
		if e.Type != network.ResourceTypeDocument || e.FrameID != cdp.FrameID(t.targetID) {
			return
		}
		mu.Lock()
		chain = append(chain, e.Request.URL)
		mu.Unlock()
	})

	rctx, release := bind(t.ctx, ctx)
	defer release()

	resp, err := chromedp.RunResponse(rctx, chromedp.Navigate(url))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	nav := &capture.Navigation{URL: url}
	if resp != nil {
		nav.URL = resp.URL
		nav.Status = int(resp.Status)
	}

	mu.Lock()
	nav.RedirectChain = append([]string(nil), chain...)
	mu.Unlock()

	t.logger.Debug("navigation finished",
		zap.String("url", url),
		zap.String("final_url", nav.URL),
		zap.Int("status", nav.Status),
		zap.Int("redirects", len(nav.RedirectChain)),
	)
	return nav, nil
}

func (t *tab) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := t.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Content serializes the document node, so the doctype is kept
func (t *tab) Content(ctx context.Context) (string, error) {
	var html string
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		doc, err := dom.GetDocument().WithDepth(0).Do(ctx)
		if err != nil {
			return err
		}
		html, err = dom.GetOuterHTML().WithNodeID(doc.NodeID).Do(ctx)
		return err
	}))
	if err != nil {
		return "", err
	}
	return html, nil
}

func (t *tab) Cookies(ctx context.Context) ([]capture.Cookie, error) {
	var cookies []*network.Cookie
	err := t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return fromCookies(cookies), nil
}

// Close closes the target and releases the tab context. Safe to call twice.
func (t *tab) Close(ctx context.Context) error {
	var err error
	t.once.Do(func() {
		err = t.run(ctx, page.Close())
		t.cancel()
	})
	return err
}
