package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ErrKernelStopped is returned when work is submitted to a stopped kernel.
var ErrKernelStopped = errors.New("kernel stopped")

type kernelOptions struct {
	logger       zerolog.Logger
	phantom      bool
	detectCycles bool
	builtins     []Builtin
	callTimeout  time.Duration
	queueCap     int
}

// Option configures a Kernel.
type Option func(*kernelOptions)

// WithLogger sets the kernel logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(o *kernelOptions) { o.logger = l }
}

// WithPhantom moves dropped nodes to the root's phantom network instead of
// releasing them in place.
func WithPhantom(enabled bool) Option {
	return func(o *kernelOptions) { o.phantom = enabled }
}

// WithCycleDetection controls whether an event may propagate into a network
// it already passed through. Enabled by default.
func WithCycleDetection(enabled bool) Option {
	return func(o *kernelOptions) { o.detectCycles = enabled }
}

// WithBuiltins replaces the builtin children of the root network.
func WithBuiltins(builtins ...Builtin) Option {
	return func(o *kernelOptions) { o.builtins = builtins }
}

// WithCallTimeout bounds Call when its context has no deadline. Zero waits
// for the context only.
func WithCallTimeout(d time.Duration) Option {
	return func(o *kernelOptions) { o.callTimeout = d }
}

// WithQueueCapacity sets the initial capacity of the task queue.
func WithQueueCapacity(n int) Option {
	return func(o *kernelOptions) { o.queueCap = n }
}

// Kernel owns the task loop and the root network. Every node task runs on
// the loop, so node and network state needs no locking.
type Kernel struct {
	mu   sync.RWMutex
	root *RootNetwork

	loop *Loop
	log  zerolog.Logger
	opts kernelOptions

	createdAt time.Time
	cancelled atomic.Uint64
	dropped   atomic.Uint64
}

// NewKernel creates a kernel with a fresh root network.
func NewKernel(opts ...Option) *Kernel {
	o := kernelOptions{
		logger:       zerolog.Nop(),
		detectCycles: true,
		builtins:     DefaultBuiltins(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	k := &Kernel{
		opts:      o,
		log:       o.logger.With().Str("component", "kernel").Logger(),
		createdAt: time.Now(),
	}
	k.loop = newLoop(k.log, o.queueCap)
	k.root = NewRootNetwork(k, o.builtins...)
	return k
}

// Root returns the current root network.
func (k *Kernel) Root() *RootNetwork {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.root
}

// SetRoot replaces the root network. Nodes of the old tree keep running.
func (k *Kernel) SetRoot(r *RootNetwork) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.root = r
}

// Logger returns the kernel logger.
func (k *Kernel) Logger() zerolog.Logger { return k.log }

// Loop returns the task loop.
func (k *Kernel) Loop() *Loop { return k.loop }

// Init sends a NodeInitializeMessage to root, or to the current root if
// root is nil.
func (k *Kernel) Init(root *RootNetwork) {
	if root == nil {
		root = k.Root()
	}
	k.log.Info().Int("builtins", root.Reserved()-1).Msg("initializing root network")
	k.schedule(root, &NodeInitializeMessage{})
}

// Finalize shuts the root network down. A graceful finalize waits for every
// child to drop itself; a forced one stops the loop right away.
func (k *Kernel) Finalize(force bool) {
	root := k.Root()
	k.log.Info().Bool("force", force).Msg("finalizing root network")
	if force {
		k.schedule(root, &NodeDropEvent{NID: 0})
		return
	}
	k.schedule(root, &NodeFinalizeMessage{})
}

// Run executes tasks until the root network drops itself, an exception
// reaches the root unhandled, or ctx is done. In the second case the
// returned error is a *FatalError.
func (k *Kernel) Run(ctx context.Context) error {
	k.log.Debug().Msg("kernel loop running")
	err := k.loop.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		k.log.Error().Err(err).Msg("kernel loop stopped")
	}
	return err
}

// Drain runs queued tasks on the calling goroutine until none are left.
func (k *Kernel) Drain() int {
	return k.loop.RunPending()
}

// Send schedules msg for target. It is safe to call from any goroutine.
func (k *Kernel) Send(target Node, msg Message) {
	k.schedule(target, msg)
}

// Do runs fn on the loop. It returns false if the kernel has stopped.
func (k *Kernel) Do(fn func()) bool {
	return k.loop.Spawn(fn)
}

// Stopped reports whether the loop has stopped, and why.
func (k *Kernel) Stopped() (bool, error) {
	return k.loop.Stopped()
}

// Stats returns a snapshot of the kernel counters.
func (k *Kernel) Stats() Stats {
	return Stats{
		TasksRun:        k.loop.TasksRun(),
		TasksPending:    k.loop.Pending(),
		TasksCancelled:  k.cancelled.Load(),
		MessagesDropped: k.dropped.Load(),
		CreatedAt:       k.createdAt,
	}
}

func (k *Kernel) schedule(target Node, msg Message) {
	if target == nil || msg == nil {
		return
	}
	if !k.loop.Spawn(func() { k.deliver(target, msg) }) {
		k.dropped.Add(1)
	}
}

func (k *Kernel) deliver(target Node, msg Message) {
	b := target.Base()
	if b.Released() {
		k.dropped.Add(1)
		k.log.Warn().
			Str("node", describeNode(target)).
			Str("message", describe(msg)).
			Msg("dropping message for released node")
		return
	}
	if b.kernel == nil {
		b.kernel = k
	}
	if err := b.dispatch(msg); err != nil {
		k.cancelled.Add(1)
		k.log.Debug().
			Str("node", describeNode(target)).
			Str("message", describe(msg)).
			Err(err).
			Msg("task cancelled")
	}
}

func (k *Kernel) fatal(exc Exception) {
	k.log.Error().
		Str("exception", exc.Kind().Name()).
		Str("source", describeNode(exc.Source())).
		Msg(exc.Error())
	k.loop.Stop(&FatalError{Exception: exc})
}

func (k *Kernel) shutdown() {
	k.log.Info().Msg("root network dropped, stopping kernel")
	k.loop.Stop(nil)
}

// replyNode collects the DataMessage answering a Call.
type replyNode struct {
	BaseNode
	ch chan any
}

var replyHandlers = NewHandlerTable(
	On(KindData, func(self *replyNode, msg *DataMessage) (any, error) {
		select {
		case self.ch <- msg.Data:
		default:
		}
		return nil, nil
	}, 0),
)

// Call sends msg to target as a ReflectMessage and waits for the value the
// handling function returns. The handler must be registered with
// HandlerReflective|HandlerSendRet. Call must not be used from a task on the
// loop itself.
//
// A target that throws instead of replying sends nothing back. Call then
// waits until ctx is done or the loop stops, in which case it returns
// ErrKernelStopped. Without a call timeout and a deadline on ctx, a throw
// that a root subscriber handles leaves Call blocked until ctx is cancelled.
func (k *Kernel) Call(ctx context.Context, target Node, msg Message) (any, error) {
	if target == nil || msg == nil {
		return nil, NewValueError("call needs a target and a message")
	}
	if k.opts.callTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, k.opts.callTimeout)
			defer cancel()
		}
	}

	reply := &replyNode{ch: make(chan any, 1)}
	reply.Setup(reply, replyHandlers)
	ref, _ := Hold(reply)

	started := k.Do(func() {
		reply.kernel = k
		if tmp := k.Root().TempNet(); tmp != nil {
			if own, ok := Hold(reply); ok {
				tmp.adopt(own)
			}
		}
		reply.Send(target, &ReflectMessage{Target: reply, Raw: msg})
	})
	if !started {
		ref.Release()
		return nil, ErrKernelStopped
	}
	defer func() {
		if !k.Do(ref.Release) {
			ref.Release()
		}
	}()

	select {
	case v := <-reply.ch:
		return v, nil
	case <-k.loop.Done():
		return nil, fmt.Errorf("call %s on %s: %w", describe(msg), describeNode(target), ErrKernelStopped)
	case <-ctx.Done():
		return nil, fmt.Errorf("call %s on %s: %w", describe(msg), describeNode(target), ctx.Err())
	}
}
