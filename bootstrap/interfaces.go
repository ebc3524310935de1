// Package bootstrap wires a KES kernel into a runnable application: a
// dependency-ordered service lifecycle, a small DI container and the
// Application that owns the kernel, its logger and its configuration.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/najoast/kes/config"
	"github.com/najoast/kes/core"
)

// Service represents a service that can be managed by the lifecycle manager
type Service interface {
	// Start starts the service
	Start(ctx context.Context) error

	// Stop stops the service
	Stop(ctx context.Context) error

	// Health returns the health status of the service
	Health(ctx context.Context) (HealthStatus, error)

	// Name returns the service name
	Name() string
}

// HealthStatus represents the health status of a service
type HealthStatus struct {
	// State indicates whether the service is healthy
	State HealthState `json:"state"`

	// Message provides additional information about the health status
	Message string `json:"message,omitempty"`

	// LastCheck is the timestamp of the last health check
	LastCheck time.Time `json:"last_check,omitempty"`

	// Data contains additional health information
	Data map[string]any `json:"data,omitempty"`
}

// HealthState represents the health state of a service
type HealthState string

const (
	HealthUnknown   HealthState = "unknown"
	HealthStarting  HealthState = "starting"
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthCritical  HealthState = "critical"
	HealthStopping  HealthState = "stopping"
	HealthStopped   HealthState = "stopped"
)

// Container provides dependency injection capabilities
type Container interface {
	// Register registers a lazily built instance
	Register(name string, factory ServiceFactory) error

	// RegisterInstance registers a ready instance
	RegisterInstance(name string, instance any) error

	// Resolve returns the instance registered under name, building it on
	// first use
	Resolve(name string) (any, error)

	// Has checks if a name is registered
	Has(name string) bool

	// Names returns all registered names, sorted
	Names() []string
}

// ServiceFactory is a function that creates a service instance
type ServiceFactory func(container Container) (any, error)

// LifecycleManager manages the lifecycle of services
type LifecycleManager interface {
	// Register registers a service with optional dependencies
	Register(name string, service Service, deps ...string) error

	// Start starts all services in dependency order
	Start(ctx context.Context) error

	// Stop stops all services in reverse start order
	Stop(ctx context.Context) error

	// Health returns the health status of all services
	Health(ctx context.Context) (map[string]HealthStatus, error)

	// Services returns all registered service names
	Services() []string

	// Events returns a channel for lifecycle events
	Events() <-chan LifecycleEvent

	// AddListener adds a lifecycle event listener
	AddListener(listener func(LifecycleEvent))
}

// Application runs a kernel until a signal, the context, or the root
// network ends it.
type Application interface {
	// Configure applies cfg. It fails while the application runs.
	Configure(cfg *config.Config) error

	// Run starts the services and blocks until shutdown
	Run(ctx context.Context) error

	// Shutdown stops the services gracefully
	Shutdown(ctx context.Context) error

	// Kernel returns the kernel, or nil before Configure
	Kernel() *core.Kernel

	// Container returns the dependency injection container
	Container() Container

	// LifecycleManager returns the lifecycle manager
	LifecycleManager() LifecycleManager
}

// Lifecycle event types
const (
	EventServiceRegistered  = "service.registered"
	EventServiceStarting    = "service.starting"
	EventServiceStarted     = "service.started"
	EventServiceStartFailed = "service.start_failed"
	EventServiceStopping    = "service.stopping"
	EventServiceStopped     = "service.stopped"
	EventServiceStopFailed  = "service.stop_failed"
	EventLifecycleStarting  = "lifecycle.starting"
	EventLifecycleStarted   = "lifecycle.started"
	EventLifecycleStopping  = "lifecycle.stopping"
	EventLifecycleStopped   = "lifecycle.stopped"
)

// LifecycleEvent represents an event in the service lifecycle
type LifecycleEvent struct {
	Type      string         `json:"type"`
	Service   string         `json:"service,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Error     error          `json:"error,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// ApplicationError represents an error that occurred during application lifecycle
type ApplicationError struct {
	Operation string
	Service   string
	Err       error
}

func (e *ApplicationError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s failed for service %s: %v", e.Operation, e.Service, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Operation, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}
