package netlog

import (
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
)

// Watched protocol methods
const (
	MethodRequestWillBeSent       = "Network.requestWillBeSent"
	MethodResponseReceived        = "Network.responseReceived"
	MethodDataReceived            = "Network.dataReceived"
	MethodLoadingFinished         = "Network.loadingFinished"
	MethodLoadingFailed           = "Network.loadingFailed"
	MethodResourceChangedPriority = "Network.resourceChangedPriority"
	MethodDOMContentEventFired    = "Page.domContentEventFired"
	MethodLoadEventFired          = "Page.loadEventFired"

	// MethodGetResponseBody is synthesized by the recorder, the protocol
	// never emits it.
	MethodGetResponseBody = "Network.getResponseBody"
)

// Event is one entry of a trace. Params holds the cdproto event struct for
// protocol events and *ResponseBody for synthesized body events.
type Event struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// ResponseBody carries a fetched response body. Body is always base64.
type ResponseBody struct {
	RequestID     network.RequestID `json:"requestId"`
	Body          string            `json:"body"`
	Base64Encoded bool              `json:"base64Encoded"`
}

// FromCDP maps a raw cdproto event to a trace event. Events outside the
// watched set report false.
func FromCDP(ev interface{}) (Event, bool) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		return Event{Method: MethodRequestWillBeSent, Params: e}, true
	case *network.EventResponseReceived:
		return Event{Method: MethodResponseReceived, Params: e}, true
	case *network.EventDataReceived:
		return Event{Method: MethodDataReceived, Params: e}, true
	case *network.EventLoadingFinished:
		return Event{Method: MethodLoadingFinished, Params: e}, true
	case *network.EventLoadingFailed:
		return Event{Method: MethodLoadingFailed, Params: e}, true
	case *network.EventResourceChangedPriority:
		return Event{Method: MethodResourceChangedPriority, Params: e}, true
	case *page.EventDomContentEventFired:
		return Event{Method: MethodDOMContentEventFired, Params: e}, true
	case *page.EventLoadEventFired:
		return Event{Method: MethodLoadEventFired, Params: e}, true
	}
	return Event{}, false
}

// Trace is an append-only, ordered event log safe for concurrent appends.
type Trace struct {
	mu     sync.Mutex
	events []Event
}

// Append adds an event at the end of the trace.
func (t *Trace) Append(e Event) {
	t.mu.Lock()
	t.events = append(t.events, e)
	t.mu.Unlock()
}

// Len returns the number of recorded events.
func (t *Trace) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

// Events returns a snapshot copy of the trace.
func (t *Trace) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}
