// Package worker provides the job execution runtime: a handler registry with
// per-kind concurrency caps and a polling pool that claims work from the
// persistent queue.
package worker

import (
	"context"
	"fmt"
	"sync"

	"dealgraph.org/queue"
)

// HandlerFunc executes one job. Returned errors are classified through the
// common error taxonomy: retryable kinds reschedule the job with backoff,
// everything else fails it terminally. Handlers must be idempotent, since a
// visibility timeout can hand the same job to a second worker.
type HandlerFunc func(ctx context.Context, job *queue.Job) error

type registration struct {
	handler HandlerFunc
	// slots caps concurrent executions of this kind; nil means unlimited up
	// to the pool-wide cap.
	slots chan struct{}
}

// Registry maps job kinds to handlers. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]*registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]*registration)}
}

// Register binds a handler to a job kind. maxConcurrency <= 0 means no
// per-kind cap. Registering the same kind twice is a programming error.
func (r *Registry) Register(kind string, handler HandlerFunc, maxConcurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("handler for kind %q already registered", kind)
	}
	reg := &registration{handler: handler}
	if maxConcurrency > 0 {
		reg.slots = make(chan struct{}, maxConcurrency)
	}
	r.handlers[kind] = reg
	return nil
}

// MustRegister is Register that panics, for wiring at startup.
func (r *Registry) MustRegister(kind string, handler HandlerFunc, maxConcurrency int) {
	if err := r.Register(kind, handler, maxConcurrency); err != nil {
		panic(err)
	}
}

// Kinds returns all registered job kinds.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

func (r *Registry) lookup(kind string) (*registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[kind]
	return reg, ok
}

// tryAcquire reserves a per-kind slot without blocking.
func (reg *registration) tryAcquire() bool {
	if reg.slots == nil {
		return true
	}
	select {
	case reg.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (reg *registration) release() {
	if reg.slots != nil {
		<-reg.slots
	}
}
