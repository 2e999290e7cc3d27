package rpc

import (
	"context"
	"encoding/json"
)

// Request is the wire request shape: a method name plus a single params
// object carried in a one-element array.
type Request struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params,omitempty"`
}

// CallContext carries request-scoped information into method handlers.
type CallContext struct {
	Context context.Context

	// Caller is the principal named in the params; operations act on its
	// behalf.
	Caller string

	// IsAdmin is true when Caller is the configured admin principal.
	IsAdmin bool

	ClientIP string
}

// HandlerFunc executes one method. Returned errors are mapped onto the
// wire error shape by the server.
type HandlerFunc func(ctx *CallContext, params json.RawMessage) (any, error)

type method struct {
	fn        HandlerFunc
	adminOnly bool
}

// MethodRegistry maps method names to handlers.
type MethodRegistry struct {
	methods map[string]method
}

func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{methods: make(map[string]method)}
}

func (r *MethodRegistry) Register(name string, fn HandlerFunc) {
	r.methods[name] = method{fn: fn}
}

func (r *MethodRegistry) RegisterAdmin(name string, fn HandlerFunc) {
	r.methods[name] = method{fn: fn, adminOnly: true}
}

func (r *MethodRegistry) Get(name string) (method, bool) {
	m, ok := r.methods[name]
	return m, ok
}

func (r *MethodRegistry) List() []string {
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	return names
}
