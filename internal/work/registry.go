package work

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/marketpulse/pulse/internal/queue"
)

// Registry maps job types to their handlers
type Registry struct {
	handlers map[queue.JobType]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty handler registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[queue.JobType]Handler)}
}

// Register sets the handler for jobType, replacing any existing one
func (r *Registry) Register(jobType queue.JobType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[jobType] = h
}

// Get returns the handler for jobType, or nil
func (r *Registry) Get(jobType queue.JobType) Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.handlers[jobType]
}

// Types returns the registered job types in sorted order
func (r *Registry) Types() []queue.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]queue.JobType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Handle dispatches job to its handler. Jobs of unregistered types fail
// permanently.
func (r *Registry) Handle(ctx context.Context, job *queue.Job) error {
	h := r.Get(job.Type)
	if h == nil {
		return queue.Permanent(fmt.Errorf("%w: %s", queue.ErrUnknownJobType, job.Type))
	}
	return h.Handle(ctx, job)
}
