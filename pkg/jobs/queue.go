package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Message references a persisted report job awaiting processing. The record
// itself stays in the database; only the reference travels through the queue.
type Message struct {
	JobID    string    `json:"job_id"`
	Type     string    `json:"type"`
	Attempt  int       `json:"attempt"`
	Enqueued time.Time `json:"enqueued"`
}

// Handler processes a queued message.
type Handler func(context.Context, Message) error

// Publisher is the enqueue-side contract. Publish must not mutate job state;
// delivery is at-least-once and consumers are idempotent per job id.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Running() bool
}

// QueueConfig configures worker pool behaviour.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	Logger     *zap.Logger
}

// Queue is the in-process queue driver: a goroutine worker pool draining a
// buffered channel, with bounded delayed retries on handler failure.
type Queue struct {
	name    string
	handler Handler

	workers    int
	bufferSize int
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger

	msgs    chan Message
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewQueue builds a new queue with the provided handler.
func NewQueue(name string, handler Handler, cfg QueueConfig) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = cfg.Workers * 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Queue{
		name:       name,
		handler:    handler,
		workers:    cfg.Workers,
		bufferSize: cfg.BufferSize,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		msgs:       make(chan Message, cfg.BufferSize),
	}
}

// Start begins worker consumption. Safe to call once.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	q.started = true
	q.logger.Sugar().Infow("queue started", "queue", q.name, "workers", q.workers)
}

// Stop cancels workers and waits for them to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.started {
		q.mu.Unlock()
		return
	}
	q.cancel()
	q.started = false
	q.mu.Unlock()
	q.wg.Wait()
	q.logger.Sugar().Infow("queue stopped", "queue", q.name)
}

// Running reports whether the queue accepts messages.
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		return false
	}
	select {
	case <-q.ctx.Done():
		return false
	default:
		return true
	}
}

// Publish pushes a message onto the queue. Fails without side effects when
// the queue is not running, so callers can retry the publish safely.
func (q *Queue) Publish(ctx context.Context, msg Message) error {
	q.mu.Lock()
	qctx := q.ctx
	started := q.started
	q.mu.Unlock()

	if !started {
		return fmt.Errorf("queue %s not started", q.name)
	}
	if msg.Enqueued.IsZero() {
		msg.Enqueued = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-qctx.Done():
		return fmt.Errorf("queue %s stopped: %w", q.name, qctx.Err())
	case q.msgs <- msg:
		return nil
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case msg := <-q.msgs:
			if err := q.handler(q.ctx, msg); err != nil {
				q.handleFailure(msg, err)
			}
		}
	}
}

func (q *Queue) handleFailure(msg Message, err error) {
	msg.Attempt++
	if msg.Attempt > q.maxRetries {
		q.logger.Sugar().Errorw("job exceeded retries", "queue", q.name, "job_id", msg.JobID, "type", msg.Type, "error", err)
		return
	}
	q.logger.Sugar().Warnw("job failed, retrying", "queue", q.name, "job_id", msg.JobID, "type", msg.Type, "attempt", msg.Attempt, "error", err)

	go func(m Message) {
		timer := time.NewTimer(q.retryDelay)
		defer timer.Stop()
		select {
		case <-q.ctx.Done():
			return
		case <-timer.C:
			if err := q.Publish(q.ctx, m); err != nil {
				q.logger.Sugar().Errorw("failed to requeue job", "queue", q.name, "job_id", m.JobID, "error", err)
			}
		}
	}(msg)
}
