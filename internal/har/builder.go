package har

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/gabriel-vasile/mimetype"

	"github.com/GriffinCanCode/pagecapture/internal/netlog"
)

var (
	ErrEmptyTrace     = errors.New("har: empty event trace")
	ErrNoRequests     = errors.New("har: trace has no requests")
	ErrNoEntries      = errors.New("har: no request produced a response")
	ErrMalformedEvent = errors.New("har: malformed event")
)

const (
	pageID      = "page_1"
	timeLayout  = "2006-01-02T15:04:05.000Z07:00"
	harVersion  = "1.2"
	unknownTime = -1
)

// Config controls archive construction.
type Config struct {
	IncludeContent bool
	CreatorName    string
	CreatorVersion string
}

// DefaultConfig returns a config that embeds response bodies.
func DefaultConfig() Config {
	return Config{
		IncludeContent: true,
		CreatorName:    "pagecapture",
		CreatorVersion: "1.0.0",
	}
}

// Builder reconstructs a HAR document from an ordered event trace.
type Builder struct {
	cfg Config
}

// NewBuilder creates a builder.
func NewBuilder(cfg Config) *Builder {
	if cfg.CreatorName == "" {
		cfg.CreatorName = DefaultConfig().CreatorName
	}
	if cfg.CreatorVersion == "" {
		cfg.CreatorVersion = DefaultConfig().CreatorVersion
	}
	return &Builder{cfg: cfg}
}

// request tracks one hop of one request id while the trace is replayed.
type request struct {
	sent       *network.EventRequestWillBeSent
	response   *network.Response
	endTime    *cdp.MonotonicTime
	encoded    float64
	dataLength int64
	failure    string
	priority   string
	body       *netlog.ResponseBody
}

// Build replays events in order and returns the archive for pageURL. Title
// defaults to pageURL when empty.
func (b *Builder) Build(pageURL, title string, events []netlog.Event) (*HAR, error) {
	if len(events) == 0 {
		return nil, ErrEmptyTrace
	}

	var (
		order      []*request
		current    = make(map[network.RequestID]*request)
		first      *network.EventRequestWillBeSent
		domContent *cdp.MonotonicTime
		load       *cdp.MonotonicTime
	)

	for i, ev := range events {
		switch ev.Method {
		case netlog.MethodRequestWillBeSent:
			e, ok := ev.Params.(*network.EventRequestWillBeSent)
			if !ok || e.Request == nil {
				return nil, malformed(i, ev)
			}
			if first == nil {
				first = e
			}
			if prev, ok := current[e.RequestID]; ok && e.RedirectResponse != nil {
				prev.response = e.RedirectResponse
				prev.encoded = e.RedirectResponse.EncodedDataLength
				prev.endTime = e.Timestamp
			}
			r := &request{sent: e}
			current[e.RequestID] = r
			order = append(order, r)

		case netlog.MethodResponseReceived:
			e, ok := ev.Params.(*network.EventResponseReceived)
			if !ok {
				return nil, malformed(i, ev)
			}
			if r := current[e.RequestID]; r != nil {
				r.response = e.Response
			}

		case netlog.MethodDataReceived:
			e, ok := ev.Params.(*network.EventDataReceived)
			if !ok {
				return nil, malformed(i, ev)
			}
			if r := current[e.RequestID]; r != nil {
				r.dataLength += e.DataLength
			}

		case netlog.MethodLoadingFinished:
			e, ok := ev.Params.(*network.EventLoadingFinished)
			if !ok {
				return nil, malformed(i, ev)
			}
			if r := current[e.RequestID]; r != nil {
				r.endTime = e.Timestamp
				r.encoded = e.EncodedDataLength
			}

		case netlog.MethodLoadingFailed:
			e, ok := ev.Params.(*network.EventLoadingFailed)
			if !ok {
				return nil, malformed(i, ev)
			}
			if r := current[e.RequestID]; r != nil {
				r.endTime = e.Timestamp
				r.failure = e.ErrorText
			}

		case netlog.MethodResourceChangedPriority:
			e, ok := ev.Params.(*network.EventResourceChangedPriority)
			if !ok {
				return nil, malformed(i, ev)
			}
			if r := current[e.RequestID]; r != nil {
				r.priority = e.NewPriority.String()
			}

		case netlog.MethodGetResponseBody:
			e, ok := ev.Params.(*netlog.ResponseBody)
			if !ok {
				return nil, malformed(i, ev)
			}
			if r := current[e.RequestID]; r != nil {
				r.body = e
			}

		case netlog.MethodDOMContentEventFired:
			e, ok := ev.Params.(*page.EventDomContentEventFired)
			if !ok {
				return nil, malformed(i, ev)
			}
			domContent = e.Timestamp

		case netlog.MethodLoadEventFired:
			e, ok := ev.Params.(*page.EventLoadEventFired)
			if !ok {
				return nil, malformed(i, ev)
			}
			load = e.Timestamp
		}
	}

	if first == nil {
		return nil, ErrNoRequests
	}

	entries := make([]Entry, 0, len(order))
	for _, r := range order {
		if r.response == nil {
			continue
		}
		entries = append(entries, b.entry(r))
	}
	if len(entries) == 0 {
		return nil, ErrNoEntries
	}

	if title == "" {
		title = pageURL
	}

	return &HAR{
		Log: Log{
			Version: harVersion,
			Creator: Creator{Name: b.cfg.CreatorName, Version: b.cfg.CreatorVersion},
			Pages: []Page{{
				StartedDateTime: wallTime(first),
				ID:              pageID,
				Title:           title,
				PageTimings: PageTimings{
					OnContentLoad: sinceMillis(first.Timestamp, domContent),
					OnLoad:        sinceMillis(first.Timestamp, load),
				},
			}},
			Entries: entries,
		},
	}, nil
}

func malformed(index int, ev netlog.Event) error {
	return fmt.Errorf("%w: event %d (%s) has params of type %T", ErrMalformedEvent, index, ev.Method, ev.Params)
}

func (b *Builder) entry(r *request) Entry {
	req := r.sent.Request
	resp := r.response

	total := sinceMillis(r.sent.Timestamp, r.endTime)
	timings := computeTimings(resp.Timing, total)

	e := Entry{
		Pageref:         pageID,
		StartedDateTime: wallTime(r.sent),
		Time:            timings.total(),
		Request: Request{
			Method:      req.Method,
			URL:         req.URL + req.URLFragment,
			HTTPVersion: httpVersion(resp.Protocol),
			Cookies:     requestCookies(req.Headers),
			Headers:     nameValues(req.Headers),
			QueryString: queryString(req.URL),
			HeadersSize: -1,
			BodySize:    0,
		},
		Response: Response{
			Status:      int(resp.Status),
			StatusText:  statusText(resp),
			HTTPVersion: httpVersion(resp.Protocol),
			Cookies:     responseCookies(resp.Headers),
			Headers:     nameValues(resp.Headers),
			RedirectURL: headerValue(resp.Headers, "Location"),
			HeadersSize: -1,
			BodySize:    int(r.encoded),
			Content: Content{
				Size:     int(r.dataLength),
				MimeType: resp.MimeType,
			},
		},
		Timings:         timings,
		ServerIPAddress: resp.RemoteIPAddress,
		Priority:        r.priority,
		ResourceType:    r.sent.Type.String(),
		Failure:         r.failure,
	}
	if resp.ConnectionID > 0 {
		e.Connection = fmt.Sprintf("%.0f", resp.ConnectionID)
	}
	if e.Priority == "" && req.InitialPriority != "" {
		e.Priority = req.InitialPriority.String()
	}

	if r.body != nil {
		decoded, err := base64.StdEncoding.DecodeString(r.body.Body)
		if err != nil {
			e.Comment = "response body is not valid base64"
			return e
		}
		if e.Response.Content.Size == 0 {
			e.Response.Content.Size = len(decoded)
		}
		if e.Response.Content.MimeType == "" && len(decoded) > 0 {
			e.Response.Content.MimeType = mimetype.Detect(decoded).String()
		}
		if b.cfg.IncludeContent {
			e.Response.Content.Text = r.body.Body
			e.Response.Content.Encoding = "base64"
		}
	}
	if e.Response.Content.MimeType == "" {
		e.Response.Content.MimeType = "x-unknown"
	}

	return e
}

// computeTimings follows the Chrome DevTools mapping of ResourceTiming onto
// HAR phases. total is the elapsed time of the hop in milliseconds.
func computeTimings(t *network.ResourceTiming, total float64) Timings {
	if t == nil {
		receive := total
		if receive < 0 {
			receive = 0
		}
		return Timings{Blocked: -1, DNS: -1, Connect: -1, SSL: -1, Send: 0, Wait: 0, Receive: receive}
	}

	out := Timings{
		Blocked: firstNonNegative(t.DNSStart, t.ConnectStart, t.SendStart),
		DNS:     span(t.DNSStart, t.DNSEnd),
		Connect: span(t.ConnectStart, t.ConnectEnd),
		SSL:     span(t.SslStart, t.SslEnd),
		Send:    nonNegative(t.SendEnd - t.SendStart),
		Wait:    nonNegative(t.ReceiveHeadersEnd - t.SendEnd),
	}
	out.Receive = nonNegative(total - t.ReceiveHeadersEnd)
	return out
}

// total sums the phases; ssl is already included in connect.
func (t Timings) total() float64 {
	var sum float64
	for _, v := range []float64{t.Blocked, t.DNS, t.Connect, t.Send, t.Wait, t.Receive} {
		if v > 0 {
			sum += v
		}
	}
	return sum
}

func span(start, end float64) float64 {
	if start < 0 {
		return -1
	}
	return nonNegative(end - start)
}

func firstNonNegative(values ...float64) float64 {
	for _, v := range values {
		if v >= 0 {
			return v
		}
	}
	return -1
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func sinceMillis(start, end *cdp.MonotonicTime) float64 {
	if start == nil || end == nil {
		return unknownTime
	}
	return float64(end.Time().Sub(start.Time())) / float64(time.Millisecond)
}

func wallTime(e *network.EventRequestWillBeSent) string {
	if e.WallTime == nil {
		return time.Unix(0, 0).UTC().Format(timeLayout)
	}
	return e.WallTime.Time().UTC().Format(timeLayout)
}

func statusText(resp *network.Response) string {
	if resp.StatusText != "" {
		return resp.StatusText
	}
	return http.StatusText(int(resp.Status))
}

func httpVersion(protocol string) string {
	switch p := strings.ToLower(protocol); {
	case p == "":
		return "HTTP/1.1"
	case p == "h2":
		return "HTTP/2.0"
	case strings.HasPrefix(p, "h3"):
		return "HTTP/3.0"
	case strings.HasPrefix(p, "http/"):
		return strings.ToUpper(p)
	default:
		return protocol
	}
}

// nameValues flattens protocol headers, which join repeated values with a
// newline, into sorted HAR pairs.
func nameValues(h network.Headers) []NameValue {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]NameValue, 0, len(keys))
	for _, k := range keys {
		for _, v := range strings.Split(fmt.Sprint(h[k]), "\n") {
			out = append(out, NameValue{Name: k, Value: v})
		}
	}
	return out
}

func headerValue(h network.Headers, name string) string {
	for k, v := range h {
		if strings.EqualFold(k, name) {
			return fmt.Sprint(v)
		}
	}
	return ""
}

func queryString(rawURL string) []NameValue {
	out := []NameValue{}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return out
	}

	params := parsed.Query()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		for _, v := range params[k] {
			out = append(out, NameValue{Name: k, Value: v})
		}
	}
	return out
}

func requestCookies(h network.Headers) []Cookie {
	out := []Cookie{}
	raw := headerValue(h, "Cookie")
	if raw == "" {
		return out
	}

	req := http.Request{Header: http.Header{"Cookie": {raw}}}
	for _, c := range req.Cookies() {
		out = append(out, Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

func responseCookies(h network.Headers) []Cookie {
	out := []Cookie{}
	raw := headerValue(h, "Set-Cookie")
	if raw == "" {
		return out
	}

	resp := http.Response{Header: http.Header{"Set-Cookie": strings.Split(raw, "\n")}}
	for _, c := range resp.Cookies() {
		hc := Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if !c.Expires.IsZero() {
			hc.Expires = c.Expires.UTC().Format(timeLayout)
		}
		out = append(out, hc)
	}
	return out
}
