// Package session carries an identity on a context: cmd/ctecached uses
// it to attach the configured caching user to the shutdown drain. The
// logger and metrics do not read it. It carries no cache state of its
// own.
package session

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const idKey contextKey = "session_id"

// New mints a fresh session identifier.
func New() string {
	return uuid.New().String()
}

// WithID attaches id to ctx, following the same context-carried
// identity pattern the logger uses for correlation IDs.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, idKey, id)
}

// IDFromContext returns the session identifier carried by ctx, or ""
// if none was attached.
func IDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(idKey).(string)
	return id
}
