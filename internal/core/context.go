package core

import "context"

type contextKey string

const ctxKeyActor contextKey = "actor"

// ContextWithActor overrides the actor recorded in ledger rows for
// operations run with ctx.
func ContextWithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ctxKeyActor, actor)
}

// ActorFromContext returns the actor set by ContextWithActor, or "".
func ActorFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyActor).(string); ok {
		return v
	}
	return ""
}
