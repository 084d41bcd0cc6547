// Package workers provides the per-strategy serialized dispatch queue
// the Coordinator uses: a single worker goroutine draining a bounded
// task channel, with panic recovery and a per-task timeout. Every
// registered strategy gets its own Pool so its callbacks are never
// invoked concurrently with themselves, while different strategies'
// pools run independently of one another.
package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task represents a unit of work to be processed.
type Task interface {
	Execute() error
}

// TaskFunc is a function that can be used as a Task.
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// PoolConfig configures a Pool.
type PoolConfig struct {
	Name            string        // pool name, for logging
	QueueSize       int           // size of the task queue
	TaskTimeout     time.Duration // timeout for an individual task
	ShutdownTimeout time.Duration // timeout for graceful shutdown
	PanicRecovery   bool          // recover panics inside a task
}

// DefaultPoolConfig returns sensible defaults for a single-worker
// serialized dispatch queue.
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		QueueSize:       4096,
		TaskTimeout:     30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		PanicRecovery:   true,
	}
}

// Pool runs submitted tasks one at a time, in submission order, on a
// single dedicated worker goroutine. This is the serializer the
// Coordinator needs for its per-strategy callback ordering guarantee,
// not a general N-worker job pool.
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewPool constructs a Pool. The worker goroutine doesn't start until Start is called.
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the worker goroutine.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return // already running
	}

	p.logger.Info("starting serialized task queue",
		zap.String("name", p.config.Name),
		zap.Int("queue_size", p.config.QueueSize),
	)

	p.wg.Add(1)
	go p.run()
}

// run is the worker's main loop.
func (p *Pool) run() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return

		case task, ok := <-p.taskQueue:
			if !ok {
				return // queue closed
			}
			p.executeTask(task)
		}
	}
}

// executeTask runs task with a timeout and, if configured, panic recovery.
func (p *Pool) executeTask(task Task) {
	ctx, cancel := context.WithTimeout(p.ctx, p.config.TaskTimeout)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		var err error

		if p.config.PanicRecovery {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("worker recovered from panic", zap.Any("panic", r))
					err = &PanicError{Recovered: r}
				}
				done <- err
			}()
		}

		err = task.Execute()
		if !p.config.PanicRecovery {
			done <- err
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("task timed out", zap.Duration("timeout", p.config.TaskTimeout))
	}
}

// submit enqueues task without waiting for it to run.
func (p *Pool) submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}

	select {
	case p.taskQueue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait enqueues task and blocks until it has run, returning its error.
func (p *Pool) SubmitWait(task Task) error {
	done := make(chan error, 1)
	wrapper := TaskFunc(func() error {
		defer func() {
			if r := recover(); r != nil {
				done <- &PanicError{Recovered: r}
				panic(r)
			}
		}()
		err := task.Execute()
		done <- err
		return err
	})

	if err := p.submit(wrapper); err != nil {
		return err
	}

	return <-done
}

// Stop shuts down the pool: it cancels the worker's context and waits
// up to ShutdownTimeout for the worker goroutine to exit. The queue is
// not drained: a task that is executing is not awaited, and tasks still
// queued are not run.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil // already stopped
	}

	p.logger.Info("stopping serialized task queue", zap.String("name", p.config.Name))

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("serialized task queue stopped gracefully", zap.String("name", p.config.Name))
		return nil

	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("serialized task queue shutdown timed out",
			zap.String("name", p.config.Name),
			zap.Duration("timeout", p.config.ShutdownTimeout),
		)
		return ErrShutdownTimeout
	}
}

// Errors
var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "task queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError represents a pool error.
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// PanicError represents a recovered panic.
type PanicError struct {
	Recovered interface{}
}

func (e *PanicError) Error() string {
	return "panic recovered"
}
