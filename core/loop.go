package core

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Loop is the single-threaded executor every node task runs on. Spawn may be
// called from any goroutine; tasks run one at a time, in spawn order, on the
// goroutine calling Run or RunPending.
type Loop struct {
	mu       sync.Mutex
	tasks    []func()
	capacity int
	stopped  bool
	cause    error

	// signal is buffered with size 1 so repeated spawns coalesce
	signal chan struct{}
	stopCh chan struct{}

	running  atomic.Bool
	tasksRun atomic.Uint64

	log zerolog.Logger
}

// DefaultQueueCapacity is the initial task queue capacity.
const DefaultQueueCapacity = 64

// NewLoop creates an idle loop.
func NewLoop(log zerolog.Logger) *Loop {
	return newLoop(log, DefaultQueueCapacity)
}

func newLoop(log zerolog.Logger, capacity int) *Loop {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Loop{
		capacity: capacity,
		tasks:    make([]func(), 0, capacity),
		signal:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		log:      log,
	}
}

// Spawn queues fn. It returns false once the loop has stopped.
func (l *Loop) Spawn(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return false
	}
	l.tasks = append(l.tasks, fn)

	select {
	case l.signal <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) next() (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped || len(l.tasks) == 0 {
		return nil, false
	}
	fn := l.tasks[0]
	l.tasks[0] = nil
	l.tasks = l.tasks[1:]
	if len(l.tasks) == 0 {
		// Reset to release the backing array of drained slices
		l.tasks = make([]func(), 0, l.capacity)
	}
	return fn, true
}

// RunPending runs queued tasks, including the ones they spawn, until the
// queue is empty or the loop stops. It returns the number of tasks run.
func (l *Loop) RunPending() int {
	if !l.running.CompareAndSwap(false, true) {
		return 0
	}
	defer l.running.Store(false)

	n := 0
	for {
		fn, ok := l.next()
		if !ok {
			return n
		}
		fn()
		l.tasksRun.Add(1)
		n++
	}
}

// Run executes tasks until Stop is called or ctx is done. It returns the
// cause passed to Stop, or ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.RunPending()

		if stopped, cause := l.Stopped(); stopped {
			return cause
		}

		select {
		case <-l.signal:
		case <-l.stopCh:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop ends the loop. Pending tasks are discarded. Only the first cause is kept.
func (l *Loop) Stop(cause error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return
	}
	l.stopped = true
	l.cause = cause
	discarded := len(l.tasks)
	l.tasks = nil
	close(l.stopCh)

	l.log.Debug().Int("discarded", discarded).Err(cause).Msg("loop stopped")
}

// Stopped reports whether Stop was called, and with which cause.
func (l *Loop) Stopped() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopped, l.cause
}

// Done returns a channel closed once the loop stops.
func (l *Loop) Done() <-chan struct{} { return l.stopCh }

// Pending returns the number of queued tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// TasksRun returns the number of tasks executed so far.
func (l *Loop) TasksRun() uint64 { return l.tasksRun.Load() }
