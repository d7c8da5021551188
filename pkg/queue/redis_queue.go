package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a durable FIFO job queue on a Redis list. Workers move jobs
// to a processing list before handling them (BLMOVE), so a crashed worker
// leaves its in-flight jobs recoverable: delivery is at-least-once.
type RedisQueue struct {
	client *redis.Client
	name   string
	opts   Options

	m *metrics
}

func NewRedisQueue(client *redis.Client, name string, opts Options) (*RedisQueue, error) {
	if client == nil {
		return nil, invalidConfig("client is required")
	}
	if name == "" {
		return nil, invalidConfig("name is required")
	}

	opts.setDefaults()

	return &RedisQueue{
		client: client,
		name:   name,
		opts:   opts,
		m:      getMetrics(),
	}, nil
}

func (q *RedisQueue) waitingKey() string    { return q.name }
func (q *RedisQueue) processingKey() string { return q.name + ":processing" }
func (q *RedisQueue) deadKey() string       { return q.name + ":dead" }

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	raw, err := newEnvelope(job).encode()
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.waitingKey(), raw).Err(); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	q.m.enqueueTotal.WithLabelValues(q.name, job.Event).Inc()
	return nil
}

// Process runs Options.Concurrency workers until ctx is cancelled. Jobs left
// on the processing list by a previous run are requeued first.
func (q *RedisQueue) Process(ctx context.Context, handler Handler) error {
	if handler == nil {
		return invalidConfig("handler is required")
	}

	if err := q.requeueStale(ctx); err != nil {
		q.opts.Logger.WithError(err).Warn("queue: requeue of stale jobs failed")
	}

	var wg sync.WaitGroup
	for i := 0; i < q.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.workerLoop(ctx, handler)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *RedisQueue) workerLoop(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		raw, err := q.client.BLMove(ctx, q.waitingKey(), q.processingKey(), "LEFT", "RIGHT", q.opts.PollTimeout).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			q.opts.Logger.WithError(err).Warn("queue: blocking pop failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(q.opts.PollTimeout):
			}
			continue
		}

		q.processOne(ctx, handler, raw)
	}
}

func (q *RedisQueue) processOne(ctx context.Context, handler Handler, raw string) {
	e, err := decodeEnvelope(raw)
	if err != nil {
		// Undecodable payloads can never succeed; park them on the dead list.
		q.opts.Logger.WithError(err).Error("queue: dropping undecodable job")
		q.moveTo(ctx, q.deadKey(), raw, raw)
		return
	}
	e.Attempts++

	start := time.Now()
	handlerErr := handler(ctx, e.Job)
	latency := time.Since(start)

	if handlerErr == nil {
		q.recordDispatch(e.Job.Event, "success", latency)
		if err := q.client.LRem(ctx, q.processingKey(), 1, raw).Err(); err != nil {
			q.opts.Logger.WithError(err).Warn("queue: ack failed")
		}
		return
	}

	q.recordDispatch(e.Job.Event, "failure", latency)
	q.opts.Logger.WithError(handlerErr).WithFields(logFields(q.name, e)).Warn("queue: job handler failed")

	updated, err := encodeWithAttempts(e)
	if err != nil {
		q.opts.Logger.WithError(err).Error("queue: re-encode failed")
		return
	}

	if e.Attempts >= q.opts.MaxAttempts {
		q.m.deadTotal.WithLabelValues(q.name, e.Job.Event).Inc()
		q.moveTo(ctx, q.deadKey(), raw, updated)
		return
	}

	select {
	case <-ctx.Done():
	case <-time.After(q.opts.RetryDelay):
	}
	q.moveTo(ctx, q.waitingKey(), raw, updated)
}

// moveTo atomically replaces a processing entry with its updated form on the
// destination list.
func (q *RedisQueue) moveTo(ctx context.Context, dest, raw, updated string) {
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, dest, updated)
	pipe.LRem(ctx, q.processingKey(), 1, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		q.opts.Logger.WithError(err).Warn("queue: move failed")
	}
}

func (q *RedisQueue) requeueStale(ctx context.Context) error {
	stale, err := q.client.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		return err
	}
	for _, raw := range stale {
		q.moveTo(ctx, q.waitingKey(), raw, raw)
	}
	return nil
}

func (q *RedisQueue) recordDispatch(event, result string, latency time.Duration) {
	q.m.dispatchTotal.WithLabelValues(q.name, event, result).Inc()
	q.m.dispatchLatency.WithLabelValues(q.name, event, result).Observe(latency.Seconds())
}

func encodeWithAttempts(e envelope) (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func logFields(queue string, e envelope) map[string]any {
	return map[string]any{
		"queue":    queue,
		"job_id":   e.ID,
		"event":    e.Job.Event,
		"user_id":  e.Job.UserID,
		"attempts": e.Attempts,
	}
}
