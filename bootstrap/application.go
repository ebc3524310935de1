package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"reflect"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/najoast/kes/config"
	"github.com/najoast/kes/core"
	"github.com/najoast/kes/logging"
)

// Application errors
var (
	ErrNotConfigured  = errors.New("application is not configured")
	ErrAlreadyRunning = errors.New("application is already running")
)

// errRootDropped ends the run group when the kernel stops on its own.
var errRootDropped = errors.New("root network dropped")

// KernelServiceName is the lifecycle name of the kernel service
const KernelServiceName = "kernel"

var (
	_ Application      = (*DefaultApplication)(nil)
	_ Service          = (*KernelService)(nil)
	_ Container        = (*DefaultContainer)(nil)
	_ LifecycleManager = (*DefaultLifecycleManager)(nil)
)

// DefaultApplication implements Application around a single kernel
type DefaultApplication struct {
	mu sync.RWMutex

	cfg      *config.Config
	provider *config.FileProvider

	// explicit logger; when unset Configure builds one from cfg.Log
	baseLog   *zerolog.Logger
	log       zerolog.Logger
	logCloser io.Closer

	kernel     *core.Kernel
	kernelOpts []core.Option
	kernelSvc  *KernelService

	container *DefaultContainer
	lifecycle *DefaultLifecycleManager

	running bool
	signals []os.Signal
}

// NewApplication creates an unconfigured application with the kernel
// service registered.
func NewApplication() *DefaultApplication {
	app := &DefaultApplication{
		log:       zerolog.Nop(),
		container: NewContainer(),
		lifecycle: NewLifecycleManager(zerolog.Nop()),
		kernelSvc: &KernelService{log: zerolog.Nop()},
		signals:   []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
	if err := app.lifecycle.Register(KernelServiceName, app.kernelSvc); err != nil {
		panic(err)
	}
	return app
}

// Configure builds the logger and a fresh kernel from cfg
func (app *DefaultApplication) Configure(cfg *config.Config) error {
	if cfg == nil {
		return ErrNotConfigured
	}
	if err := cfg.Validate(); err != nil {
		return &ApplicationError{Operation: "configure", Err: err}
	}

	app.mu.Lock()
	defer app.mu.Unlock()

	if app.running {
		return &ApplicationError{Operation: "configure", Err: ErrAlreadyRunning}
	}

	log, closer, err := app.buildLogger(cfg)
	if err != nil {
		return &ApplicationError{Operation: "configure", Err: err}
	}

	opts, err := KernelOptions(cfg.Kernel, log)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return &ApplicationError{Operation: "configure", Err: err}
	}
	kernel := core.NewKernel(append(opts, app.kernelOpts...)...)

	if app.logCloser != nil {
		app.logCloser.Close()
	}
	app.cfg = cfg
	app.log = log
	app.logCloser = closer
	app.kernel = kernel
	app.lifecycle.SetLogger(log)
	app.kernelSvc.configure(kernel, cfg.Kernel.ShutdownTimeout, log)

	app.container.Replace(InstanceConfig, cfg)
	app.container.Replace(InstanceLogger, log)
	app.container.Replace(InstanceKernel, kernel)

	log.Debug().
		Str("version", cfg.App.Version).
		Str("environment", string(cfg.App.Environment)).
		Strs("builtins", cfg.Kernel.Builtins).
		Msg("application configured")
	return nil
}

// buildLogger returns the explicit logger, or one built from cfg. The
// closer is nil for an explicit logger.
func (app *DefaultApplication) buildLogger(cfg *config.Config) (zerolog.Logger, io.Closer, error) {
	if app.baseLog != nil {
		return app.baseLog.With().Str("app", cfg.App.Name).Logger(), nil, nil
	}
	return logging.NewGlobal(cfg.App.Name, cfg.Log)
}

// KernelOptions translates the kernel section of a config into kernel
// options logging to log.
func KernelOptions(cfg config.KernelConfig, log zerolog.Logger) ([]core.Option, error) {
	builtins, err := core.LookupBuiltins(cfg.Builtins...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidBuiltin, err)
	}
	return []core.Option{
		core.WithLogger(log),
		core.WithPhantom(cfg.Phantom),
		core.WithCycleDetection(cfg.DetectCycles),
		core.WithCallTimeout(cfg.CallTimeout),
		core.WithQueueCapacity(cfg.QueueCapacity),
		core.WithBuiltins(builtins...),
	}, nil
}

// Run starts every service, then blocks until ctx is done, a termination
// signal arrives, the config watcher fails, or the kernel stops on its own.
// The services are shut down before Run returns. A kernel that stopped on
// an uncaught exception yields a *core.FatalError.
func (app *DefaultApplication) Run(ctx context.Context) error {
	app.mu.Lock()
	if app.running {
		app.mu.Unlock()
		return ErrAlreadyRunning
	}
	if app.kernel == nil {
		app.mu.Unlock()
		return ErrNotConfigured
	}
	app.running = true
	log := app.log
	provider := app.provider
	app.mu.Unlock()

	if len(app.signals) > 0 {
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, app.signals...)
		defer stop()
	}

	if err := app.lifecycle.Start(ctx); err != nil {
		app.mu.Lock()
		app.running = false
		app.mu.Unlock()
		return err
	}
	log.Info().Msg("application started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-app.kernelSvc.Done():
			if err := app.kernelSvc.Err(); err != nil {
				return err
			}
			return errRootDropped
		case <-gctx.Done():
			return nil
		}
	})
	if provider != nil {
		g.Go(func() error {
			return provider.Watch(gctx, app.applyConfig)
		})
	}

	err := g.Wait()
	switch {
	case errors.Is(err, errRootDropped):
		log.Info().Msg("kernel stopped, shutting down")
		err = nil
	case err != nil:
		log.Error().Err(err).Msg("application failed")
	default:
		log.Info().Msg("shutdown requested")
	}

	return errors.Join(err, app.Shutdown(context.WithoutCancel(ctx)))
}

// Shutdown stops the services gracefully. The kernel gets its configured
// shutdown timeout before it is finalized by force.
func (app *DefaultApplication) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	if !app.running {
		app.mu.Unlock()
		return nil
	}
	app.running = false
	log := app.log
	app.mu.Unlock()

	err := app.lifecycle.Stop(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to stop services")
	} else {
		log.Info().Msg("application stopped")
	}
	return err
}

// Close stops the config watcher and releases the log output.
func (app *DefaultApplication) Close() error {
	app.mu.Lock()
	defer app.mu.Unlock()

	var err error
	if app.provider != nil {
		err = app.provider.Close()
	}
	if app.logCloser != nil {
		err = errors.Join(err, app.logCloser.Close())
		app.logCloser = nil
	}
	return err
}

// applyConfig hot-applies a reloaded config. Only the log level takes
// effect at once; other changes wait for a restart.
func (app *DefaultApplication) applyConfig(old, cfg *config.Config) {
	app.mu.Lock()
	app.cfg = cfg
	log := app.log
	explicit := app.baseLog != nil
	app.mu.Unlock()
	app.container.Replace(InstanceConfig, cfg)

	if old.Log.Level != cfg.Log.Level && !explicit {
		if err := logging.SetLevel(cfg.Log.Level); err != nil {
			log.Warn().Err(err).Msg("ignoring reloaded log level")
		} else {
			log.Info().Str("level", cfg.Log.Level.String()).Msg("log level changed")
		}
	}
	if !reflect.DeepEqual(old.Kernel, cfg.Kernel) {
		log.Warn().Msg("kernel settings changed, restart to apply them")
	}
}

// Config returns the current configuration
func (app *DefaultApplication) Config() *config.Config {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.cfg
}

// Logger returns the application logger
func (app *DefaultApplication) Logger() zerolog.Logger {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.log
}

// Kernel returns the kernel, or nil before Configure
func (app *DefaultApplication) Kernel() *core.Kernel {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.kernel
}

// Container returns the dependency injection container
func (app *DefaultApplication) Container() Container {
	return app.container
}

// LifecycleManager returns the lifecycle manager
func (app *DefaultApplication) LifecycleManager() LifecycleManager {
	return app.lifecycle
}

// KernelService runs a kernel loop as a managed service
type KernelService struct {
	mu     sync.Mutex
	kernel *core.Kernel
	grace  time.Duration
	log    zerolog.Logger

	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

// NewKernelService wraps k. Stop waits up to grace for a graceful finalize.
func NewKernelService(k *core.Kernel, grace time.Duration, log zerolog.Logger) *KernelService {
	s := &KernelService{}
	s.configure(k, grace, log)
	return s
}

func (s *KernelService) configure(k *core.Kernel, grace time.Duration, log zerolog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kernel = k
	s.grace = grace
	s.log = log.With().Str("service", KernelServiceName).Logger()
	s.done = nil
	s.err = nil
}

// Name returns the service name
func (s *KernelService) Name() string { return KernelServiceName }

// Start initializes the root network and runs the loop in a goroutine
func (s *KernelService) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.kernel == nil {
		return ErrNotConfigured
	}
	if s.done != nil {
		return fmt.Errorf("kernel service already started")
	}
	if stopped, _ := s.kernel.Stopped(); stopped {
		return core.ErrKernelStopped
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.done = done
	s.cancel = cancel

	kernel := s.kernel
	kernel.Init(nil)
	go func() {
		defer close(done)
		err := kernel.Run(runCtx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
	}()
	return nil
}

// Stop finalizes the root network. After the grace period, or when ctx is
// done, the finalize is forced; if the loop still does not return it is
// cancelled.
func (s *KernelService) Stop(ctx context.Context) error {
	s.mu.Lock()
	kernel, done, cancel, grace := s.kernel, s.done, s.cancel, s.grace
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	defer cancel()

	select {
	case <-done:
		return nil
	default:
	}

	if grace > 0 {
		kernel.Finalize(false)
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-done:
			return nil
		case <-timer.C:
			s.log.Warn().Dur("timeout", grace).Msg("graceful finalize timed out, forcing")
		case <-ctx.Done():
		}
	}

	kernel.Finalize(true)
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		cancel()
		<-done
		return fmt.Errorf("kernel did not stop: %w", ctx.Err())
	}
}

// Done is closed once the kernel loop has returned. It is nil before Start.
func (s *KernelService) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns why the loop ended: nil for a root drop, otherwise the
// *core.FatalError it stopped with.
func (s *KernelService) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Health reports the loop state and kernel counters
func (s *KernelService) Health(ctx context.Context) (HealthStatus, error) {
	s.mu.Lock()
	kernel, done, err := s.kernel, s.done, s.err
	s.mu.Unlock()

	if kernel == nil {
		return HealthStatus{State: HealthUnknown, Message: "kernel not configured"}, nil
	}

	stats := kernel.Stats()
	status := HealthStatus{
		LastCheck: time.Now(),
		Data: map[string]any{
			"tasks_run":        stats.TasksRun,
			"tasks_pending":    stats.TasksPending,
			"tasks_cancelled":  stats.TasksCancelled,
			"messages_dropped": stats.MessagesDropped,
			"uptime":           time.Since(stats.CreatedAt).String(),
		},
	}

	switch {
	case done == nil:
		status.State = HealthStopped
		status.Message = "kernel not started"
	case isClosed(done) && err != nil:
		status.State = HealthCritical
		status.Message = err.Error()
	case isClosed(done):
		status.State = HealthStopped
		status.Message = "root network dropped"
	default:
		status.State = HealthHealthy
		status.Message = "kernel loop running"
	}
	return status, nil
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// ApplicationBuilder assembles an application
type ApplicationBuilder struct {
	app        *DefaultApplication
	cfg        *config.Config
	configFile string
	services   []func() error
}

// NewApplicationBuilder creates a new application builder
func NewApplicationBuilder() *ApplicationBuilder {
	return &ApplicationBuilder{app: NewApplication()}
}

// WithConfig uses cfg instead of loading a file
func (b *ApplicationBuilder) WithConfig(cfg *config.Config) *ApplicationBuilder {
	b.cfg = cfg
	return b
}

// WithConfigFile loads the configuration from filename and watches it for
// changes while the application runs.
func (b *ApplicationBuilder) WithConfigFile(filename string) *ApplicationBuilder {
	b.configFile = filename
	return b
}

// WithLogger uses log instead of building one from the config. The log
// level is then not hot-reloaded.
func (b *ApplicationBuilder) WithLogger(log zerolog.Logger) *ApplicationBuilder {
	b.app.baseLog = &log
	return b
}

// WithKernelOptions appends options applied after the config-derived ones
func (b *ApplicationBuilder) WithKernelOptions(opts ...core.Option) *ApplicationBuilder {
	b.app.kernelOpts = append(b.app.kernelOpts, opts...)
	return b
}

// WithSignals replaces the signals that trigger a shutdown. With none,
// only the context ends Run.
func (b *ApplicationBuilder) WithSignals(signals ...os.Signal) *ApplicationBuilder {
	b.app.signals = signals
	return b
}

// WithService registers a service. Services usually depend on
// KernelServiceName.
func (b *ApplicationBuilder) WithService(name string, service Service, deps ...string) *ApplicationBuilder {
	b.services = append(b.services, func() error {
		return b.app.lifecycle.Register(name, service, deps...)
	})
	return b
}

// WithServiceFactory registers a container factory
func (b *ApplicationBuilder) WithServiceFactory(name string, factory ServiceFactory) *ApplicationBuilder {
	b.services = append(b.services, func() error {
		return b.app.container.Register(name, factory)
	})
	return b
}

// Build loads the configuration and configures the application. Without
// WithConfig or WithConfigFile the configuration is auto-loaded.
func (b *ApplicationBuilder) Build() (*DefaultApplication, error) {
	cfg := b.cfg
	var err error
	switch {
	case cfg != nil:
	case b.configFile != "":
		cfg, err = config.NewLoader().LoadFromFile(b.configFile)
	default:
		cfg, err = config.NewLoader().AutoLoad()
	}
	if err != nil {
		return nil, &ApplicationError{Operation: "load config", Err: err}
	}

	if err := b.app.Configure(cfg); err != nil {
		return nil, err
	}

	if b.configFile != "" {
		provider, err := config.NewFileProvider(b.configFile, b.app.log)
		if err != nil {
			b.app.Close()
			return nil, &ApplicationError{Operation: "watch config", Err: err}
		}
		b.app.provider = provider
	}

	for _, register := range b.services {
		if err := register(); err != nil {
			b.app.Close()
			return nil, &ApplicationError{Operation: "register", Err: err}
		}
	}
	return b.app, nil
}
