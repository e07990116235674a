package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/examgen/internal/config"
)

// Common errors returned by queues
var (
	ErrQueueClosed = errors.New("job queue is closed")
	ErrQueueFull   = errors.New("job queue is full")
)

// DefaultMaxAttempts is used when QueueOptions.MaxAttempts is not positive.
const DefaultMaxAttempts = 3

// QueueOptions holds the delivery policy shared by every Queue implementation.
type QueueOptions struct {
	// MaxAttempts is how many times a message is delivered before it is dead-lettered.
	MaxAttempts int
	// RetryDelay is the pause before a failed message is delivered again.
	RetryDelay time.Duration
	// DeadLetter is called for messages that exhausted their attempts. Optional.
	DeadLetter DeadLetterFunc
}

// QueueOptionsFromConfig builds QueueOptions from configuration.
func QueueOptionsFromConfig(cfg config.QueueConfig, deadLetter DeadLetterFunc) QueueOptions {
	return QueueOptions{
		MaxAttempts: cfg.MaxAttempts,
		RetryDelay:  time.Duration(cfg.RetryDelaySeconds) * time.Second,
		DeadLetter:  deadLetter,
	}
}

// WithDefaults returns a copy with defaults applied.
func (o QueueOptions) WithDefaults() QueueOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	return o
}

// MemoryQueue is a buffered in-process Queue for tests and single-process
// development. Messages are lost when the process exits; the Runner's
// recovery republishes unfinished jobs on the next start.
type MemoryQueue struct {
	messages chan Message
	opts     QueueOptions
	logger   *slog.Logger

	mu      sync.RWMutex
	closed  bool
	retries sync.WaitGroup
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates a queue that buffers up to size messages.
func NewMemoryQueue(size int, opts QueueOptions, logger *slog.Logger) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryQueue{
		messages: make(chan Message, size),
		opts:     opts.WithDefaults(),
		logger:   logger.With(slog.String("component", "memory_queue")),
	}
}

// Publish adds a message to the queue. It returns ErrQueueFull instead of
// blocking when the buffer is full.
func (q *MemoryQueue) Publish(_ context.Context, msg Message) error {
	msg.Attempt = 0
	return q.push(msg)
}

func (q *MemoryQueue) push(msg Message) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.messages <- msg:
		q.logger.Debug("message enqueued",
			slog.String("job_id", msg.JobID.String()),
			slog.Int("attempt", msg.Attempt),
			slog.Int("queue_len", len(q.messages)),
			slog.Int("queue_cap", cap(q.messages)))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.messages))
	}
}

// Len returns the number of buffered messages.
func (q *MemoryQueue) Len() int {
	return len(q.messages)
}

// Consume starts workers goroutines that pass messages to handler until ctx is
// cancelled or the queue is closed.
func (q *MemoryQueue) Consume(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		q.logger.Warn("invalid worker count specified, using default",
			slog.Int("specified_count", workers),
			slog.Int("default_count", 1))
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			q.worker(ctx, id, handler)
		}(i)
	}
	wg.Wait()
	q.retries.Wait()

	if ctx.Err() != nil {
		return nil
	}
	return ErrQueueClosed
}

func (q *MemoryQueue) worker(ctx context.Context, id int, handler Handler) {
	q.logger.Debug("starting worker", slog.Int("worker_id", id))

	for {
		select {
		case <-ctx.Done():
			q.logger.Debug("stopping worker", slog.Int("worker_id", id))
			return

		case msg, ok := <-q.messages:
			if !ok {
				q.logger.Debug("queue closed, stopping worker", slog.Int("worker_id", id))
				return
			}
			msg.Attempt++
			q.deliver(ctx, msg, handler)
		}
	}
}

func (q *MemoryQueue) deliver(ctx context.Context, msg Message, handler Handler) {
	log := q.logger.With(
		slog.String("job_id", msg.JobID.String()),
		slog.Int("attempt", msg.Attempt))

	err := handler(ctx, msg)
	if err == nil {
		return
	}

	if ctx.Err() != nil {
		log.Info("handler interrupted by shutdown", slog.String("error", err.Error()))
		return
	}

	if msg.Attempt >= q.opts.MaxAttempts {
		log.Error("message exhausted its attempts", slog.String("error", err.Error()))
		if q.opts.DeadLetter != nil {
			q.opts.DeadLetter(ctx, msg, err)
		}
		return
	}

	log.Warn("handler failed, redelivering",
		slog.String("error", err.Error()),
		slog.Duration("delay", q.opts.RetryDelay))

	q.retries.Add(1)
	go func() {
		defer q.retries.Done()
		if q.opts.RetryDelay > 0 {
			t := time.NewTimer(q.opts.RetryDelay)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
		}
		if err := q.push(msg); err != nil {
			log.Error("failed to redeliver message", slog.String("error", err.Error()))
		}
	}()
}

// Close closes the queue, preventing further publishing. Buffered messages
// are still delivered to running consumers.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.messages)
		q.logger.Info("job queue closed")
	}
	return nil
}
