package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc is a type-erased job handler. It receives the full job record
// (payload, metadata, progress hooks live on the caller side) and returns
// the result blob to persist on success.
type HandlerFunc func(ctx context.Context, j *Job) ([]byte, error)

// Registry maps job types to type-erased handler functions.
// It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a handler to a job type, replacing any previous binding.
func (r *Registry) Register(jobType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// RegisterTyped registers a handler whose payload is JSON-unmarshalled into
// T and whose result is JSON-marshalled back, the usual shape for
// generation requests.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterTyped[T, R any](r *Registry, jobType string, handler func(ctx context.Context, j *Job, payload T) (R, error)) {
	wrapped := func(ctx context.Context, j *Job) ([]byte, error) {
		var t T
		if len(j.Payload) > 0 {
			if err := json.Unmarshal(j.Payload, &t); err != nil {
				return nil, fmt.Errorf("unmarshal payload for job type %q: %w", jobType, err)
			}
		}
		res, err := handler(ctx, j, t)
		if err != nil {
			return nil, err
		}
		out, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("marshal result for job type %q: %w", jobType, err)
		}
		return out, nil
	}

	r.Register(jobType, wrapped)
}

// Get returns the handler for the given job type.
// Returns false if no handler is registered.
func (r *Registry) Get(jobType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Types returns all registered job types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
