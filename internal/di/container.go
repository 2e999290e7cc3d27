// Package di wires the swapd application graph: storage, core services
// and the RPC surface, built lazily from configuration.
package di

import (
	"errors"
	"sync"
)

// Container manages service registration and resolution.
type Container struct {
	mu       sync.RWMutex
	services map[string]interface{}
	builders map[string]Builder
}

// Builder creates a service instance, resolving its dependencies
// through the container.
type Builder func(c *Container) (interface{}, error)

// New creates an empty container.
func New() *Container {
	return &Container{
		services: make(map[string]interface{}),
		builders: make(map[string]Builder),
	}
}

// Register registers a ready service instance.
func (c *Container) Register(name string, service interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[name] = service
}

// RegisterBuilder registers a builder for lazy instantiation.
func (c *Container) RegisterBuilder(name string, builder Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.builders[name] = builder
}

// Get retrieves a service by name, building it on first use.
func (c *Container) Get(name string) (interface{}, error) {
	c.mu.RLock()
	service, exists := c.services[name]
	c.mu.RUnlock()

	if exists {
		return service, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have built it while we waited for the lock.
	if service, exists := c.services[name]; exists {
		return service, nil
	}

	builder, hasBuilder := c.builders[name]
	if !hasBuilder {
		return nil, errors.New("service not found: " + name)
	}

	service, err := builder(c)
	if err != nil {
		return nil, err
	}

	c.services[name] = service
	return service, nil
}

// MustGet retrieves a service or panics if it cannot be built.
func (c *Container) MustGet(name string) interface{} {
	service, err := c.Get(name)
	if err != nil {
		panic(err)
	}
	return service
}

// Built returns a service only if it has already been instantiated.
func (c *Container) Built(name string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	service, exists := c.services[name]
	return service, exists
}

// Has reports whether a service or builder is registered.
func (c *Container) Has(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, exists := c.services[name]; exists {
		return true
	}
	_, exists := c.builders[name]
	return exists
}

// Service names for type-safe access.
const (
	ServiceConfig      = "config"
	ServiceKVManager   = "storage.kv_manager"
	ServiceKVStore     = "storage.kv"
	ServiceHistory     = "storage.history"
	ServiceTokens      = "core.tokens"
	ServiceLedgers     = "core.ledgers"
	ServiceRequests    = "core.requests"
	ServiceSigner      = "crypto.signer"
	ServiceVerifier    = "crypto.verifier"
	ServiceCoordinator = "core.coordinator"
	ServiceEngine      = "core.engine"
	ServiceEventHub    = "rpc.event_hub"
	ServiceCore        = "core.service"
	ServiceRPCServer   = "rpc.server"
)
