package outbox

import "context"

// MessageScope identifies the outbox message a unit of work is acting for and
// the user the work is acting as. Handler code reads it instead of an
// HTTP-derived identity.
type MessageScope struct {
	MessageID string
	UserID    string
}

type scopeKey struct{}

// WithScope derives a context carrying the scope of one message's dispatch
// attempt. The value is immutable and lives only as long as the derived
// context, so a finished attempt cannot leak its identity into sibling work.
func WithScope(ctx context.Context, scope MessageScope) context.Context {
	return context.WithValue(ctx, scopeKey{}, scope)
}

// ScopeFrom returns the message scope of the current unit of work, if any.
func ScopeFrom(ctx context.Context) (MessageScope, bool) {
	scope, ok := ctx.Value(scopeKey{}).(MessageScope)
	return scope, ok
}
