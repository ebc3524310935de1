package bootstrap

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Container errors
var (
	ErrEmptyName          = errors.New("name cannot be empty")
	ErrAlreadyRegistered  = errors.New("already registered")
	ErrNotRegistered      = errors.New("not registered")
	ErrTypeMismatch       = errors.New("instance type mismatch")
	ErrCircularDependency = errors.New("circular dependency detected")
)

// Well-known container entries set up by the application
const (
	InstanceConfig = "config"
	InstanceLogger = "logger"
	InstanceKernel = "kernel"
)

// DefaultContainer is a map-backed Container. Factories run once; their
// result is cached.
type DefaultContainer struct {
	mu        sync.Mutex
	factories map[string]ServiceFactory
	instances map[string]any
	resolving map[string]bool
}

// NewContainer creates a new dependency injection container
func NewContainer() *DefaultContainer {
	return &DefaultContainer{
		factories: make(map[string]ServiceFactory),
		instances: make(map[string]any),
		resolving: make(map[string]bool),
	}
}

// Register registers a factory under name
func (c *DefaultContainer) Register(name string, factory ServiceFactory) error {
	if name == "" {
		return ErrEmptyName
	}
	if factory == nil {
		return fmt.Errorf("factory for %s cannot be nil", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.has(name) {
		return fmt.Errorf("%s: %w", name, ErrAlreadyRegistered)
	}
	c.factories[name] = factory
	return nil
}

// RegisterInstance registers a ready instance under name
func (c *DefaultContainer) RegisterInstance(name string, instance any) error {
	if name == "" {
		return ErrEmptyName
	}
	if instance == nil {
		return fmt.Errorf("instance %s cannot be nil", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.has(name) {
		return fmt.Errorf("%s: %w", name, ErrAlreadyRegistered)
	}
	c.instances[name] = instance
	return nil
}

// Replace sets the instance under name whether or not it exists.
func (c *DefaultContainer) Replace(name string, instance any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.factories, name)
	c.instances[name] = instance
}

// Resolve returns the instance registered under name. A factory may resolve
// other names through the container it receives.
func (c *DefaultContainer) Resolve(name string) (any, error) {
	c.mu.Lock()
	if instance, ok := c.instances[name]; ok {
		c.mu.Unlock()
		return instance, nil
	}
	factory, ok := c.factories[name]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", name, ErrNotRegistered)
	}
	if c.resolving[name] {
		c.mu.Unlock()
		return nil, fmt.Errorf("resolve %s: %w", name, ErrCircularDependency)
	}
	c.resolving[name] = true
	c.mu.Unlock()

	// The factory runs unlocked so it can resolve its own dependencies.
	instance, err := factory(c)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.resolving, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", name, err)
	}
	if existing, ok := c.instances[name]; ok {
		return existing, nil
	}
	c.instances[name] = instance
	return instance, nil
}

// Has checks if a name is registered
func (c *DefaultContainer) Has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.has(name)
}

func (c *DefaultContainer) has(name string) bool {
	_, hasFactory := c.factories[name]
	_, hasInstance := c.instances[name]
	return hasFactory || hasInstance
}

// Names returns all registered names, sorted
func (c *DefaultContainer) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.factories)+len(c.instances))
	for name := range c.instances {
		names = append(names, name)
	}
	for name := range c.factories {
		if _, ok := c.instances[name]; !ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Resolve returns the instance under name as a T.
func Resolve[T any](c Container, name string) (T, error) {
	var zero T
	instance, err := c.Resolve(name)
	if err != nil {
		return zero, err
	}
	typed, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("%s is %T, want %T: %w", name, instance, zero, ErrTypeMismatch)
	}
	return typed, nil
}
