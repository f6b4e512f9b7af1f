/*
Package capture runs page capture jobs on a pool of isolated browser
execution contexts.

# Components

Pool owns a fixed set of ExecutionContexts. Submit queues a job in FIFO
order; a dispatcher hands the queue head to the next free context and runs
it on its own goroutine. A context observed dead is replaced through the
ContextFactory behind a circuit breaker.

Runner drives one job on one page: preconditions (cookies, user agent,
referer), recorder attach, navigation, optional sleep, screenshot, HTML,
cookie jar, archive. Every step runs under its own timeout and is traced
and timed.

Recorder subscribes to the page's protocol events and keeps the watched
ones in an ordered netlog.Trace. Finished responses with a body trigger a
Network.getResponseBody fetch on a separate goroutine; the body is appended
as a synthesized event, always base64 encoded.

# Errors

Failures are *Error values classified by Kind and matched with errors.Is
against ErrValidation, ErrNavigation, ErrProtocol and ErrArchiveBuild. An
archive failure does not fail the job: Result.HAR is nil and
Result.HARError says why.
*/
package capture
