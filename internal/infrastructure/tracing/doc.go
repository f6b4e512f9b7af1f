/*
Package tracing provides lightweight request and capture-step tracing.

Spans carry a trace id and parent span id through context.Context. Finished
spans are submitted to a buffered collector that logs them through zap; a
full buffer drops spans rather than blocking the caller.

# Usage

	tracer := tracing.New("pagecapture", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "capture.navigate")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

Trace context travels in the X-Trace-ID and X-Span-ID headers.
*/
package tracing
