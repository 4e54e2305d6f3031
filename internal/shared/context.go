package shared

import (
	"context"
	"strconv"
)

// Actor identifies the admin performing an operation.
type Actor struct {
	ID int64
}

// Valid reports whether the actor can be attributed in logs and audit rows.
func (a Actor) Valid() bool {
	return a.ID > 0
}

// String renders the actor id.
func (a Actor) String() string {
	return strconv.FormatInt(a.ID, 10)
}

type actorContextKey struct{}

// ContextWithActor stores the actor resolved by the HTTP layer.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor; the second value is false when none was set.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
