package session

import "context"

type actorContextKey struct{}

// ContextWithActor attaches the acting identity's email to the context for
// audit enrichment.
func ContextWithActor(ctx context.Context, email string) context.Context {
	if email == "" {
		return ctx
	}
	return context.WithValue(ctx, actorContextKey{}, email)
}

// ActorFromContext extracts the acting identity's email from the context.
func ActorFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(actorContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
