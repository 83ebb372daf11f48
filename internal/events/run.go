package events

import (
	"context"

	"github.com/google/uuid"
)

type runIDKey struct{}

// WithRunID tags ctx with the id of the analytics run it belongs to
func WithRunID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom returns the run id carried by ctx, if any
func RunIDFrom(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(runIDKey{}).(uuid.UUID)
	return id, ok
}
