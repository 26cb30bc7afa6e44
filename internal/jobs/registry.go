// Package jobs implements the dispatch engine: the kind handler registry,
// the batch processor, and the built-in job kind handlers.
package jobs

import (
	"context"
	"encoding/json"
	"sort"
)

// Job kinds known to this engine. New kinds are added purely by registering
// a handler; the processor never changes.
const (
	KindFireWebhook       = "fire_webhook"
	KindSend              = "send"
	KindGenerateEmbedding = "generate_embedding"
)

// Result is the business-level outcome of a handler invocation.
//
// A handler returning a Result has already performed any compensating side
// effects (marking a message failed, recording a schedule failure), so the
// job is terminal regardless of Success. Infrastructure failures are
// signalled by returning a non-nil error instead, which keeps the job
// eligible for retry.
type Result struct {
	Success bool
	Error   string
}

// HandlerFunc executes one claimed job's payload.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (Result, error)

// Registry maps job kinds to their handlers. It is populated at startup and
// read-only afterwards; no locking is needed on the dispatch path.
type Registry struct {
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds a handler to a kind, replacing any previous binding.
func (r *Registry) Register(kind string, fn HandlerFunc) {
	r.handlers[kind] = fn
}

// Handler returns the handler for kind and whether one is registered.
func (r *Registry) Handler(kind string) (HandlerFunc, bool) {
	fn, ok := r.handlers[kind]
	return fn, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
