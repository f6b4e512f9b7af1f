// Package netlog defines the ordered network event trace recorded for one
// capture job.
//
// Events wrap cdproto structs under their protocol method name, so a trace
// can be handed as-is to the archive builder. The only event not emitted by
// the browser is Network.getResponseBody, which the recorder appends after
// pulling a response body.
package netlog
