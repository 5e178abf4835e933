package middleware

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// ActorKey is the context key for the actor recording ledger writes.
const ActorKey contextKey = "actor"

// ActorHeader carries the identity of the caller. Authentication happens
// upstream; the engine only records who acted.
const ActorHeader = "X-Actor"

// DefaultActor is used when no actor is present in the context.
const DefaultActor = "system"

// WithActor returns a copy of ctx carrying actor.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// ActorFromContext extracts the actor from the context.
// Returns DefaultActor if not found.
func ActorFromContext(ctx context.Context) string {
	actor, _ := ctx.Value(ActorKey).(string)
	if actor == "" {
		return DefaultActor
	}
	return actor
}

// Actor returns a middleware that copies the X-Actor header into the request
// context.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
			r = r.WithContext(WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
