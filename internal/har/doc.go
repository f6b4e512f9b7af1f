/*
Package har reconstructs an HTTP Archive (HAR 1.2) document from a recorded
debugging-protocol event trace.

# Replay

Events are replayed in trace order. Each Network.requestWillBeSent opens a
hop for its request id; a repeated request id carrying a redirect response
closes the previous hop with that response. Response, data, completion,
failure and priority events attach to the open hop. Synthesized
Network.getResponseBody events attach the base64 body.

Only hops that received a response become entries. Page timings come from
Page.domContentEventFired and Page.loadEventFired relative to the first
request.

# Usage

	b := har.NewBuilder(har.DefaultConfig())
	doc, err := b.Build("https://example.com", "Example", events)
*/
package har
