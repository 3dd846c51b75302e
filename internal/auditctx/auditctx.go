// Package auditctx carries the acting user through context so audit
// records can attribute mutations without every service threading actor
// parameters explicitly.
package auditctx

import "context"

// Actor identifies the user on whose behalf an operation runs.
type Actor struct {
	UserID   string
	Username string
}

type actorContextKey struct{}

// WithActor injects actor metadata into the supplied context, returning a
// derived context that callers pass down into the service layer.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		return context.WithValue(context.Background(), actorContextKey{}, actor)
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// FromContext extracts previously stored actor metadata from the context.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
