package stage

import "context"

// Handler is the contract the trigger dispatcher needs from a worker. E is the
// event type the worker consumes.
type Handler[E any] interface {
	Name() string
	Handle(context.Context, E) error
	HealthCheck(context.Context) Health
}
