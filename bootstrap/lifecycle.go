package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultServiceTimeout bounds each Start and Stop call.
const DefaultServiceTimeout = 30 * time.Second

// DefaultLifecycleManager implements the LifecycleManager interface
type DefaultLifecycleManager struct {
	mu sync.RWMutex

	services     map[string]Service
	dependencies map[string][]string

	// order services were started in
	startOrder []string

	started  bool
	stopping bool

	eventChan chan LifecycleEvent
	listeners []func(LifecycleEvent)

	timeout time.Duration
	log     zerolog.Logger
}

// NewLifecycleManager creates a new lifecycle manager
func NewLifecycleManager(logger zerolog.Logger) *DefaultLifecycleManager {
	return &DefaultLifecycleManager{
		services:     make(map[string]Service),
		dependencies: make(map[string][]string),
		eventChan:    make(chan LifecycleEvent, 100),
		timeout:      DefaultServiceTimeout,
		log:          logger.With().Str("component", "lifecycle").Logger(),
	}
}

// Register registers a service that starts after deps
func (lm *DefaultLifecycleManager) Register(name string, service Service, deps ...string) error {
	if name == "" {
		return ErrEmptyName
	}
	if service == nil {
		return fmt.Errorf("service %s cannot be nil", name)
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.started {
		return fmt.Errorf("cannot register service %s: lifecycle manager already started", name)
	}
	if _, exists := lm.services[name]; exists {
		return fmt.Errorf("service %s: %w", name, ErrAlreadyRegistered)
	}

	lm.services[name] = service
	lm.dependencies[name] = slices.Clone(deps)

	lm.broadcast(LifecycleEvent{
		Type:    EventServiceRegistered,
		Service: name,
		Data:    map[string]any{"dependencies": deps},
	})
	return nil
}

// Start starts all services in dependency order. If one fails, the ones
// already started are stopped again.
func (lm *DefaultLifecycleManager) Start(ctx context.Context) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if lm.started {
		return fmt.Errorf("lifecycle manager already started")
	}

	order, err := lm.calculateStartOrder()
	if err != nil {
		return &ApplicationError{Operation: "start", Err: err}
	}

	lm.broadcast(LifecycleEvent{
		Type: EventLifecycleStarting,
		Data: map[string]any{"order": order},
	})

	for _, name := range order {
		lm.broadcast(LifecycleEvent{Type: EventServiceStarting, Service: name})

		startCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := lm.services[name].Start(startCtx)
		cancel()

		if err != nil {
			lm.log.Error().Err(err).Str("service", name).Msg("service failed to start")
			lm.broadcast(LifecycleEvent{Type: EventServiceStartFailed, Service: name, Error: err})
			lm.stopStarted(ctx)
			return &ApplicationError{Operation: "start", Service: name, Err: err}
		}

		lm.startOrder = append(lm.startOrder, name)
		lm.log.Debug().Str("service", name).Msg("service started")
		lm.broadcast(LifecycleEvent{Type: EventServiceStarted, Service: name})
	}

	lm.started = true
	lm.broadcast(LifecycleEvent{Type: EventLifecycleStarted})
	return nil
}

// Stop stops all services in reverse start order and joins their errors
func (lm *DefaultLifecycleManager) Stop(ctx context.Context) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if !lm.started {
		return nil
	}
	if lm.stopping {
		return fmt.Errorf("lifecycle manager already stopping")
	}
	lm.stopping = true

	lm.broadcast(LifecycleEvent{Type: EventLifecycleStopping})
	err := lm.stopStarted(ctx)

	lm.started = false
	lm.stopping = false
	lm.broadcast(LifecycleEvent{Type: EventLifecycleStopped})
	return err
}

func (lm *DefaultLifecycleManager) stopStarted(ctx context.Context) error {
	order := slices.Clone(lm.startOrder)
	slices.Reverse(order)

	var errs []error
	for _, name := range order {
		lm.broadcast(LifecycleEvent{Type: EventServiceStopping, Service: name})

		stopCtx, cancel := context.WithTimeout(ctx, lm.timeout)
		err := lm.services[name].Stop(stopCtx)
		cancel()

		if err != nil {
			lm.log.Error().Err(err).Str("service", name).Msg("service failed to stop")
			errs = append(errs, &ApplicationError{Operation: "stop", Service: name, Err: err})
			lm.broadcast(LifecycleEvent{Type: EventServiceStopFailed, Service: name, Error: err})
			continue
		}
		lm.log.Debug().Str("service", name).Msg("service stopped")
		lm.broadcast(LifecycleEvent{Type: EventServiceStopped, Service: name})
	}
	lm.startOrder = nil
	return errors.Join(errs...)
}

// Health returns the health status of all services
func (lm *DefaultLifecycleManager) Health(ctx context.Context) (map[string]HealthStatus, error) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	health := make(map[string]HealthStatus, len(lm.services))
	for name, service := range lm.services {
		healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status, err := service.Health(healthCtx)
		cancel()

		if err != nil {
			status = HealthStatus{State: HealthUnhealthy, Message: err.Error()}
		}
		if status.LastCheck.IsZero() {
			status.LastCheck = time.Now()
		}
		health[name] = status
	}
	return health, nil
}

// Services returns all registered service names
func (lm *DefaultLifecycleManager) Services() []string {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	names := make([]string, 0, len(lm.services))
	for name := range lm.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Events returns a channel for lifecycle events. Events are dropped while
// the channel is full.
func (lm *DefaultLifecycleManager) Events() <-chan LifecycleEvent {
	return lm.eventChan
}

// AddListener adds a lifecycle event listener. Listeners run synchronously.
func (lm *DefaultLifecycleManager) AddListener(listener func(LifecycleEvent)) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.listeners = append(lm.listeners, listener)
}

// SetLogger replaces the logger
func (lm *DefaultLifecycleManager) SetLogger(logger zerolog.Logger) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.log = logger.With().Str("component", "lifecycle").Logger()
}

// SetTimeout sets the timeout for service operations
func (lm *DefaultLifecycleManager) SetTimeout(timeout time.Duration) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.timeout = timeout
}

// IsStarted returns true if the lifecycle manager has been started
func (lm *DefaultLifecycleManager) IsStarted() bool {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return lm.started
}

// GetService returns a registered service by name
func (lm *DefaultLifecycleManager) GetService(name string) (Service, bool) {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	service, ok := lm.services[name]
	return service, ok
}

// calculateStartOrder sorts services topologically (Kahn). Ties are broken
// by name so the order is stable.
func (lm *DefaultLifecycleManager) calculateStartOrder() ([]string, error) {
	inDegree := make(map[string]int, len(lm.services))
	dependents := make(map[string][]string, len(lm.services))

	for name := range lm.services {
		inDegree[name] = 0
	}
	for name, deps := range lm.dependencies {
		for _, dep := range deps {
			if _, ok := lm.services[dep]; !ok {
				return nil, fmt.Errorf("dependency %s of service %s: %w", dep, name, ErrNotRegistered)
			}
			dependents[dep] = append(dependents[dep], name)
			inDegree[name]++
		}
	}

	var ready []string
	for name, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(lm.services))
	for len(ready) > 0 {
		current := ready[0]
		ready = ready[1:]
		order = append(order, current)

		var next []string
		for _, dependent := range dependents[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				next = append(next, dependent)
			}
		}
		sort.Strings(next)
		ready = append(ready, next...)
	}

	if len(order) != len(lm.services) {
		return nil, ErrCircularDependency
	}
	return order, nil
}

// broadcast sends event to the channel and every listener. A panicking
// listener is logged and skipped.
func (lm *DefaultLifecycleManager) broadcast(event LifecycleEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case lm.eventChan <- event:
	default:
	}

	for _, listener := range lm.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					lm.log.Error().Interface("panic", r).Str("event", event.Type).Msg("lifecycle listener panicked")
				}
			}()
			listener(event)
		}()
	}
}
