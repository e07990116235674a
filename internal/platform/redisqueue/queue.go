package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/examgen/internal/config"
	"github.com/phrazzld/examgen/internal/task"
	"github.com/redis/go-redis/v9"
)

const (
	fieldJobID   = "job_id"
	fieldAttempt = "attempt"

	defaultBlock     = 2 * time.Second
	defaultClaimIdle = 5 * time.Minute
	defaultMaxLen    = 10000
)

// Options configures a Queue.
type Options struct {
	Stream           string
	Group            string
	DeadLetterStream string
	// Consumer prefixes the consumer names; workers append "-<n>".
	Consumer string
	// Block bounds each XREADGROUP wait so cancellation is noticed.
	Block time.Duration
	// ClaimIdle is how long a pending message must sit before it is reclaimed.
	ClaimIdle time.Duration
	// MaxLen approximately caps the stream length on each append.
	MaxLen   int64
	Delivery task.QueueOptions
}

func (o Options) withDefaults() Options {
	if o.Consumer == "" {
		host, _ := os.Hostname()
		if host == "" {
			host = "examgen"
		}
		o.Consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if o.Block <= 0 {
		o.Block = defaultBlock
	}
	if o.ClaimIdle <= 0 {
		o.ClaimIdle = defaultClaimIdle
	}
	if o.MaxLen <= 0 {
		o.MaxLen = defaultMaxLen
	}
	o.Delivery = o.Delivery.WithDefaults()
	return o
}

// Queue is a task.Queue on Redis Streams.
type Queue struct {
	client *redis.Client
	opts   Options
	logger *slog.Logger

	groupOnce sync.Once
	groupErr  error
}

var _ task.Queue = (*Queue)(nil)

// New wraps an existing client.
func New(client *redis.Client, opts Options, logger *slog.Logger) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redisqueue: client cannot be nil")
	}
	if strings.TrimSpace(opts.Stream) == "" || strings.TrimSpace(opts.Group) == "" {
		return nil, errors.New("redisqueue: stream and group are required")
	}
	if opts.DeadLetterStream == "" {
		opts.DeadLetterStream = opts.Stream + ":dead"
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts = opts.withDefaults()
	return &Queue{
		client: client,
		opts:   opts,
		logger: logger.With(
			slog.String("component", "redis_queue"),
			slog.String("stream", opts.Stream),
		),
	}, nil
}

// NewFromConfig dials Redis with the queue configuration and verifies the
// connection.
func NewFromConfig(
	ctx context.Context,
	cfg config.QueueConfig,
	deadLetter task.DeadLetterFunc,
	logger *slog.Logger,
) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	q, err := New(client, Options{
		Stream:           cfg.Stream,
		Group:            cfg.Group,
		DeadLetterStream: cfg.DeadLetterStream,
		ClaimIdle:        time.Duration(cfg.ReclaimIdleSeconds) * time.Second,
		Delivery:         task.QueueOptionsFromConfig(cfg, deadLetter),
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return q, nil
}

// Publish appends a fresh delivery of msg to the stream.
func (q *Queue) Publish(ctx context.Context, msg task.Message) error {
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}
	msg.Attempt = 0
	if err := q.append(ctx, q.client, msg).Err(); err != nil {
		return fmt.Errorf("failed to publish job %s: %w", msg.JobID, err)
	}
	return nil
}

func (q *Queue) append(ctx context.Context, c redis.Cmdable, msg task.Message) *redis.StringCmd {
	return c.XAdd(ctx, &redis.XAddArgs{
		Stream: q.opts.Stream,
		MaxLen: q.opts.MaxLen,
		Approx: true,
		Values: map[string]any{
			fieldJobID:   msg.JobID.String(),
			fieldAttempt: msg.Attempt,
		},
	})
}

// Consume runs workers consumer loops until ctx is cancelled.
func (q *Queue) Consume(ctx context.Context, workers int, handler task.Handler) error {
	if handler == nil {
		return errors.New("redisqueue: handler cannot be nil")
	}
	if workers <= 0 {
		q.logger.Warn("invalid worker count, using 1", slog.Int("requested", workers))
		workers = 1
	}
	if err := q.ensureGroup(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		consumer := fmt.Sprintf("%s-%d", q.opts.Consumer, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.consumeLoop(ctx, consumer, handler)
		}()
	}
	wg.Wait()
	return nil
}

// Close closes the underlying client.
func (q *Queue) Close() error {
	err := q.client.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}

// Ping checks that Redis is reachable.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// ensureGroup creates the consumer group once, reading from the start of the
// stream so messages published before any worker started are not skipped.
func (q *Queue) ensureGroup(ctx context.Context) error {
	q.groupOnce.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.opts.Stream, q.opts.Group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			q.groupErr = fmt.Errorf("failed to create consumer group %s: %w", q.opts.Group, err)
		}
	})
	return q.groupErr
}

func (q *Queue) consumeLoop(ctx context.Context, consumer string, handler task.Handler) {
	log := q.logger.With(slog.String("consumer", consumer))
	log.Debug("consumer started")
	defer log.Debug("consumer stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		claimed, err := q.claimPending(ctx, consumer)
		if err != nil && ctx.Err() == nil {
			log.Warn("failed to claim pending messages", slog.String("error", err.Error()))
		}
		for _, m := range claimed {
			q.handleMessage(ctx, log, m, handler)
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.opts.Group,
			Consumer: consumer,
			Streams:  []string{q.opts.Stream, ">"},
			Count:    1,
			Block:    q.opts.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			if errors.Is(err, redis.ErrClosed) {
				return
			}
			log.Error("failed to read from stream", slog.String("error", err.Error()))
			if !sleepCtx(ctx, q.opts.Block) {
				return
			}
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				q.handleMessage(ctx, log, m, handler)
			}
		}
	}
}

func (q *Queue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.opts.Stream,
		Group:    q.opts.Group,
		Consumer: consumer,
		MinIdle:  q.opts.ClaimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return msgs, err
}

func (q *Queue) handleMessage(ctx context.Context, log *slog.Logger, m redis.XMessage, handler task.Handler) {
	msg, err := decode(m.Values)
	if err != nil {
		log.Error("dropping malformed message",
			slog.String("message_id", m.ID),
			slog.String("error", err.Error()))
		q.ackAndDelete(ctx, log, m.ID)
		return
	}
	msg.Attempt++

	handleErr := handler(ctx, msg)
	if handleErr == nil {
		q.ackAndDelete(ctx, log, m.ID)
		return
	}

	log = log.With(
		slog.String("job_id", msg.JobID.String()),
		slog.Int("attempt", msg.Attempt),
		slog.String("error", handleErr.Error()),
	)
	if ctx.Err() != nil {
		// Left pending; a consumer reclaims it after ClaimIdle.
		log.Info("delivery interrupted by shutdown")
		return
	}
	if msg.Attempt >= q.opts.Delivery.MaxAttempts {
		q.deadLetter(ctx, log, m.ID, msg, handleErr)
		return
	}

	log.Warn("delivery failed, requeueing")
	if !sleepCtx(ctx, q.opts.Delivery.RetryDelay) {
		return
	}
	if err := q.requeue(ctx, m.ID, msg); err != nil {
		log.Error("failed to requeue message", slog.String("requeue_error", err.Error()))
	}
}

// requeue re-adds msg carrying its attempt count and retires the old entry
// in one transaction.
func (q *Queue) requeue(ctx context.Context, id string, msg task.Message) error {
	pipe := q.client.TxPipeline()
	q.append(ctx, pipe, msg)
	pipe.XAck(ctx, q.opts.Stream, q.opts.Group, id)
	pipe.XDel(ctx, q.opts.Stream, id)
	_, err := pipe.Exec(ctx)
	return err
}

func (q *Queue) deadLetter(ctx context.Context, log *slog.Logger, id string, msg task.Message, cause error) {
	log.Error("delivery attempts exhausted, dead-lettering message")

	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.opts.DeadLetterStream,
		MaxLen: q.opts.MaxLen,
		Approx: true,
		Values: map[string]any{
			fieldJobID:   msg.JobID.String(),
			fieldAttempt: msg.Attempt,
			"error":      cause.Error(),
			"failed_at":  time.Now().UTC().Format(time.RFC3339),
		},
	})
	pipe.XAck(ctx, q.opts.Stream, q.opts.Group, id)
	pipe.XDel(ctx, q.opts.Stream, id)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Error("failed to move message to dead-letter stream", slog.String("dlq_error", err.Error()))
		return
	}

	if q.opts.Delivery.DeadLetter != nil {
		q.opts.Delivery.DeadLetter(ctx, msg, cause)
	}
}

func (q *Queue) ackAndDelete(ctx context.Context, log *slog.Logger, id string) {
	pipe := q.client.TxPipeline()
	pipe.XAck(ctx, q.opts.Stream, q.opts.Group, id)
	pipe.XDel(ctx, q.opts.Stream, id)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Error("failed to acknowledge message",
			slog.String("message_id", id),
			slog.String("error", err.Error()))
	}
}

func decode(values map[string]any) (task.Message, error) {
	raw, ok := values[fieldJobID].(string)
	if !ok {
		return task.Message{}, errors.New("missing job_id field")
	}
	jobID, err := uuid.Parse(raw)
	if err != nil {
		return task.Message{}, fmt.Errorf("invalid job_id %q: %w", raw, err)
	}
	msg := task.Message{JobID: jobID}
	if s, ok := values[fieldAttempt].(string); ok && s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return task.Message{}, fmt.Errorf("invalid attempt %q: %w", s, err)
		}
		msg.Attempt = n
	}
	return msg, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
