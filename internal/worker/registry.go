package worker

import (
	"context"
	"sync"

	"github.com/cuongbtq/photo-restore/internal/domain"
)

// TaskHandler executes the runs of one task. The returned output is stored as JSON on the run.
type TaskHandler interface {
	Handle(ctx context.Context, run *domain.Run) (any, error)
}

// CrashFinalizer is implemented by handlers that clean up after a run was marked CRASHED
// outside of Handle
type CrashFinalizer interface {
	FinalizeCrashedRun(ctx context.Context, run *domain.Run) error
}

// Registry maps task names to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]TaskHandler
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]TaskHandler)}
}

// Register binds a handler to a task name, replacing any previous binding
func (r *Registry) Register(taskName string, h TaskHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskName] = h
}

// Get returns the handler of a task name
func (r *Registry) Get(taskName string) (TaskHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskName]
	return h, ok
}

// TaskNames lists the registered task names
func (r *Registry) TaskNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
