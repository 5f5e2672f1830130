// Package workers provides a fixed-size worker pool for running independent
// jobs concurrently. Every submitted job yields exactly one Result and a failing
// or panicking job never takes down its worker.
package workers

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/anstrom/portsweep/internal/logging"
)

// Job represents a unit of work to be executed by a worker.
type Job interface {
	// Execute performs the job and returns an error if it fails.
	Execute(ctx context.Context) error
	// ID returns a unique identifier for the job.
	ID() string
	// Type returns the job type for logging.
	Type() string
}

// Result represents the result of executing a job.
type Result struct {
	Job      Job
	JobID    string
	JobType  string
	Error    error
	Duration time.Duration
	Retries  int
	// Panicked is set when the last attempt recovered from a panic.
	Panicked bool
}

// Config holds configuration for the worker pool.
type Config struct {
	// Size is the number of worker goroutines to create.
	Size int
	// QueueSize is the maximum number of jobs that can be queued.
	QueueSize int
	// MaxRetries is the maximum number of retries for failed jobs.
	MaxRetries int
	// RetryDelay is the delay between retries.
	RetryDelay time.Duration
	// Logger receives pool lifecycle logs. Defaults to the package logger.
	Logger *logging.Logger
}

// DefaultConfig returns a default worker pool configuration.
func DefaultConfig() Config {
	return Config{
		Size:       10,
		QueueSize:  100,
		MaxRetries: 0,
		RetryDelay: time.Second,
	}
}

// ErrPoolClosed is returned by Submit once the pool stops accepting jobs.
var ErrPoolClosed = stderrors.New("worker pool is closed")

// Pool manages a pool of worker goroutines for concurrent job execution.
// Callers must drain Results until it is closed.
type Pool struct {
	config  Config
	logger  *logging.Logger
	jobs    chan Job
	results chan Result
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.RWMutex
	closed bool

	startOnce sync.Once
	closeOnce sync.Once
}

// New creates a new worker pool. Jobs run under a context derived from parent.
func New(parent context.Context, config Config) *Pool {
	if config.Size <= 0 {
		config.Size = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Default()
	}

	ctx, cancel := context.WithCancel(parent)
	return &Pool{
		config:  config,
		logger:  logger.WithComponent("workers"),
		jobs:    make(chan Job, config.QueueSize),
		results: make(chan Result, config.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Calling it more than once has no effect. Once
// Close has been called and the queue is drained, Results is closed.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.logger.Debug("Starting worker pool",
			"worker_count", p.config.Size,
			"queue_size", p.config.QueueSize,
			"max_retries", p.config.MaxRetries)

		for i := 0; i < p.config.Size; i++ {
			p.wg.Add(1)
			go p.run(i)
		}

		go func() {
			p.wg.Wait()
			p.cancel()
			close(p.results)
		}()
	})
}

// Submit queues a job, blocking while the queue is full. It fails when ctx is
// done, or the pool has been closed or its parent context cancelled.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job:
		p.logger.Debug("Job submitted to worker pool",
			"job_id", job.ID(),
			"job_type", job.Type())
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", p.ctx.Err())
	}
}

// Close stops accepting jobs. Queued jobs still run, and Results is closed
// after the last one finishes.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})
}

// Results returns the channel on which exactly one Result per job is delivered.
func (p *Pool) Results() <-chan Result {
	return p.results
}

func (p *Pool) run(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		p.results <- p.execute(id, job)
	}
}

// execute runs a job with retry logic.
func (p *Pool) execute(workerID int, job Job) Result {
	result := Result{Job: job, JobID: job.ID(), JobType: job.Type()}
	start := time.Now()

	for attempt := 0; ; attempt++ {
		result.Retries = attempt
		result.Panicked, result.Error = p.attempt(job)

		if result.Error == nil || attempt >= p.config.MaxRetries || p.ctx.Err() != nil {
			break
		}

		p.logger.Debug("Job failed, retrying",
			"job_id", job.ID(),
			"job_type", job.Type(),
			"attempt", attempt+1,
			"max_retries", p.config.MaxRetries,
			"error", result.Error)

		select {
		case <-time.After(p.config.RetryDelay):
		case <-p.ctx.Done():
		}
	}

	result.Duration = time.Since(start)
	if result.Error != nil {
		p.logger.Debug("Job failed",
			"job_id", job.ID(),
			"job_type", job.Type(),
			"retries", result.Retries,
			"panicked", result.Panicked,
			"worker_id", workerID,
			"error", result.Error)
	}
	return result
}

// attempt runs the job once and converts a panic into an error.
func (p *Pool) attempt(job Job) (panicked bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Job panicked",
				"job_id", job.ID(),
				"job_type", job.Type(),
				"panic", r,
				"stack", string(debug.Stack()))
			panicked = true
			err = fmt.Errorf("job %s panicked: %v", job.ID(), r)
		}
	}()

	return false, job.Execute(p.ctx)
}
