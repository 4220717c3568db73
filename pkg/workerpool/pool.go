// Package workerpool provides a bounded worker pool for fanning out jobs
// to a fixed number of goroutines with per-job retries.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrClosed is returned by Submit after Stop.
	ErrClosed = errors.New("worker pool is closed")
	// ErrQueueFull is returned by Submit when the queue has no free slot.
	ErrQueueFull = errors.New("worker pool queue is full")
)

// Handler processes one job.
type Handler[T any] func(ctx context.Context, job T) error

// Identified jobs are logged with their ID.
type Identified interface {
	JobID() string
}

// Config holds worker pool configuration
type Config struct {
	// Workers is the number of concurrent workers
	Workers int
	// QueueSize is the size of the job queue
	QueueSize int
	// MaxRetries is the number of additional attempts for a failed job
	MaxRetries int
	// RetryDelay is multiplied by the attempt number between retries
	RetryDelay time.Duration
	// GracefulShutdownTimeout bounds how long Stop waits for in-flight jobs
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns defaults sized for reminder delivery.
func DefaultConfig() Config {
	return Config{
		Workers:                 4,
		QueueSize:               256,
		MaxRetries:              2,
		RetryDelay:              500 * time.Millisecond,
		GracefulShutdownTimeout: 10 * time.Second,
	}
}

// Pool runs jobs of type T on a fixed set of workers.
type Pool[T any] struct {
	config  Config
	handler Handler[T]
	logger  *zap.Logger

	mu       sync.RWMutex
	closed   bool
	jobs     chan T
	wg       sync.WaitGroup
	onResult func(job T, err error)

	ctx    context.Context
	cancel context.CancelFunc

	submitted int64
	completed int64
	failed    int64
	retried   int64
	active    int64
}

// New creates a pool. Call Start before submitting.
func New[T any](cfg Config, fn Handler[T], logger *zap.Logger) (*Pool[T], error) {
	if fn == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.GracefulShutdownTimeout <= 0 {
		cfg.GracefulShutdownTimeout = def.GracefulShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool[T]{
		config:  cfg,
		handler: fn,
		logger:  logger,
		jobs:    make(chan T, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// OnResult registers a callback invoked after each job finishes, with the
// final error (nil on success). Must be called before Start.
func (p *Pool[T]) OnResult(fn func(job T, err error)) {
	p.onResult = fn
}

// Start launches all workers
func (p *Pool[T]) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit enqueues a job without blocking.
func (p *Pool[T]) Submit(job T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	select {
	case p.jobs <- job:
		atomic.AddInt64(&p.submitted, 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop rejects new jobs, drains the queue and waits for the workers up to
// the configured shutdown timeout. In-flight retries are cancelled on timeout.
func (p *Pool[T]) Stop() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.logger.Info("stopping worker pool")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		p.cancel()
		return nil
	case <-time.After(p.config.GracefulShutdownTimeout):
		p.cancel()
		p.logger.Warn("worker pool shutdown timed out")
		return fmt.Errorf("worker pool shutdown timed out after %s", p.config.GracefulShutdownTimeout)
	}
}

func (p *Pool[T]) worker(id int) {
	defer p.wg.Done()

	atomic.AddInt64(&p.active, 1)
	defer atomic.AddInt64(&p.active, -1)

	for job := range p.jobs {
		err := p.process(job)
		if err != nil {
			atomic.AddInt64(&p.failed, 1)
			p.logger.Error("job failed",
				zap.String("job_id", jobID(job)),
				zap.Int("worker_id", id),
				zap.Error(err))
		} else {
			atomic.AddInt64(&p.completed, 1)
		}
		if p.onResult != nil {
			p.onResult(job, err)
		}
	}
}

func (p *Pool[T]) process(job T) error {
	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if err := p.ctx.Err(); err != nil {
			return err
		}

		lastErr = p.handler(p.ctx, job)
		if lastErr == nil {
			return nil
		}
		if attempt == p.config.MaxRetries {
			break
		}

		atomic.AddInt64(&p.retried, 1)
		p.logger.Debug("retrying job",
			zap.String("job_id", jobID(job)),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))

		select {
		case <-p.ctx.Done():
			return p.ctx.Err()
		case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
		}
	}
	if p.config.MaxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("job failed after %d retries: %w", p.config.MaxRetries, lastErr)
}

func jobID(job any) string {
	if id, ok := job.(Identified); ok {
		return id.JobID()
	}
	return ""
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Submitted     int64
	Completed     int64
	Failed        int64
	Retried       int64
	ActiveWorkers int64
	QueueDepth    int
	QueueCapacity int
	Workers       int
}

// Stats returns current pool statistics
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Submitted:     atomic.LoadInt64(&p.submitted),
		Completed:     atomic.LoadInt64(&p.completed),
		Failed:        atomic.LoadInt64(&p.failed),
		Retried:       atomic.LoadInt64(&p.retried),
		ActiveWorkers: atomic.LoadInt64(&p.active),
		QueueDepth:    len(p.jobs),
		QueueCapacity: p.config.QueueSize,
		Workers:       p.config.Workers,
	}
}

// IsHealthy reports whether the queue is below 90% of capacity.
func (p *Pool[T]) IsHealthy() bool {
	s := p.Stats()
	return float64(s.QueueDepth)/float64(s.QueueCapacity) < 0.9
}
