package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var ErrInvalidConfig = errors.New("invalid queue configuration")

func invalidConfig(msg string, args ...any) error {
	return fmt.Errorf("%w: "+msg, append([]any{ErrInvalidConfig}, args...)...)
}

// Job is the unit placed on the dispatch queue. Payload carries the
// event-specific body, e.g. {"unseenCount":1}.
type Job struct {
	Event   string          `json:"event"`
	UserID  string          `json:"userId"`
	Payload json.RawMessage `json:"payload"`
}

// Handler processes one job. A returned error is re-raised to the queue so
// its retry bookkeeping governs redelivery; handlers must not swallow
// delivery failures.
type Handler func(ctx context.Context, job Job) error

// Queue is a durable, named job queue with at-least-once delivery.
// Implementations must not assume anything about the handler beyond the
// Handler contract; consumers must be idempotent.
type Queue interface {
	// Enqueue appends a job to the queue in FIFO order.
	Enqueue(ctx context.Context, job Job) error
	// Process blocks, pulling jobs with the configured worker concurrency
	// until ctx is cancelled.
	Process(ctx context.Context, handler Handler) error
}

// envelope is the wire form of a queued job, carrying redelivery state.
type envelope struct {
	ID       string `json:"id"`
	Attempts int    `json:"attempts"`
	Job      Job    `json:"job"`
}

func newEnvelope(job Job) envelope {
	return envelope{
		ID:  uuid.New().String(),
		Job: job,
	}
}

func (e envelope) encode() (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("queue encode: %w", err)
	}
	return string(raw), nil
}

func decodeEnvelope(raw string) (envelope, error) {
	var e envelope
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return envelope{}, fmt.Errorf("queue decode: %w", err)
	}
	return e, nil
}
