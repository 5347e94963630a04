package gate

import (
	"context"

	"github.com/MediSynth-io/messagely/internal/policy"
)

type contextKey string

const actorContextKey contextKey = "actor"

func WithActor(ctx context.Context, actor policy.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

// ActorFrom returns the actor stored by Require, or policy.Anonymous.
func ActorFrom(ctx context.Context) policy.Actor {
	actor, ok := ctx.Value(actorContextKey).(policy.Actor)
	if !ok {
		return policy.Anonymous
	}
	return actor
}
