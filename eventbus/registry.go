package eventbus

import (
	"context"
	"sync"

	"github.com/tendermint/tendermint/libs/log"
)

// TaskID identifies a task in the Registry.
type TaskID uint64

type taskEntry struct {
	name   string
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry tracks every task spawned on the bus so that tasks can be
// cancelled by id, and all of them at shutdown.
type Registry struct {
	mtx    sync.Mutex
	nextID TaskID
	tasks  map[TaskID]*taskEntry
	wg     sync.WaitGroup

	logger log.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		tasks:  make(map[TaskID]*taskEntry),
		logger: log.NewNopLogger(),
	}
}

func (r *Registry) SetLogger(l log.Logger) {
	r.logger = l
}

func (r *Registry) register(name string, cancel context.CancelFunc) (TaskID, chan struct{}) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.nextID++
	entry := &taskEntry{
		name:   name,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.tasks[r.nextID] = entry
	r.wg.Add(1)
	return r.nextID, entry.done
}

// deregister is called by the task itself when it exits.
func (r *Registry) deregister(id TaskID) {
	r.mtx.Lock()
	entry, ok := r.tasks[id]
	delete(r.tasks, id)
	r.mtx.Unlock()
	if !ok {
		return
	}
	entry.cancel()
	close(entry.done)
	r.wg.Done()
	r.logger.Debug("task exited", "task", entry.name, "id", id)
}

// ShutdownTask asks task id to stop and returns without waiting. The task
// may still handle events it already dequeued.
func (r *Registry) ShutdownTask(id TaskID) bool {
	r.mtx.Lock()
	entry, ok := r.tasks[id]
	r.mtx.Unlock()
	if !ok {
		return false
	}
	r.logger.Debug("shutting down task", "task", entry.name, "id", id)
	entry.cancel()
	return true
}

// IsRunning reports whether task id has not exited yet.
func (r *Registry) IsRunning(id TaskID) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	_, ok := r.tasks[id]
	return ok
}

// Size returns the number of live tasks.
func (r *Registry) Size() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.tasks)
}

// Shutdown cancels every task and waits for all of them to exit.
func (r *Registry) Shutdown() {
	r.mtx.Lock()
	for _, entry := range r.tasks {
		entry.cancel()
	}
	r.mtx.Unlock()
	r.wg.Wait()
}
