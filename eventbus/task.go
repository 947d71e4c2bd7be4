package eventbus

import (
	"context"

	"vidbft/types"
)

// Handler reacts to the events of one task. It returns true once the task
// is complete; the task then exits and leaves the registry.
type Handler interface {
	HandleEvent(ctx context.Context, ev types.Event) (completed bool)
}

type HandlerFunc func(ctx context.Context, ev types.Event) bool

func (f HandlerFunc) HandleEvent(ctx context.Context, ev types.Event) bool {
	return f(ctx, ev)
}

// TaskHandle is what the spawner keeps of a running task.
type TaskHandle struct {
	ID       TaskID
	StreamID StreamID
	Done     <-chan struct{}
}

// Spawn subscribes h to the bus with filter and runs it on its own goroutine
// until h reports completion, the task is cancelled through the registry,
// ctx is done or the bus stops.
func Spawn(ctx context.Context, bus *EventBus, registry *Registry, name string, filter Filter, h Handler) TaskHandle {
	sub := bus.Subscribe(name, filter)
	taskCtx, cancel := context.WithCancel(ctx)
	id, done := registry.register(name, cancel)

	go func() {
		defer registry.deregister(id)
		defer bus.Unsubscribe(sub)

		for {
			ev, err := sub.Next(taskCtx)
			if err != nil {
				return
			}
			if h.HandleEvent(taskCtx, ev) {
				return
			}
		}
	}()

	return TaskHandle{
		ID:       id,
		StreamID: sub.ID(),
		Done:     done,
	}
}
