package capture

import "context"

type jobIDKey struct{}

// WithJobID attaches the job id to ctx for logging and tracing.
func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, id)
}

// JobIDFrom returns the job id carried by ctx, if any.
func JobIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(jobIDKey{}).(string)
	return id
}
