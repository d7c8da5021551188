package queue

import (
	"time"

	"github.com/sirupsen/logrus"
)

type Options struct {
	// Concurrency is the number of worker goroutines Process runs.
	Concurrency int
	// PollTimeout bounds each blocking pop so workers notice cancellation.
	PollTimeout time.Duration
	// MaxAttempts is the redelivery ceiling before a job goes to the dead list.
	MaxAttempts int
	// RetryDelay is slept before a failed job becomes visible again.
	RetryDelay time.Duration

	Logger *logrus.Entry
}

func (o *Options) setDefaults() {
	if o.Concurrency == 0 {
		o.Concurrency = 5
	}
	if o.PollTimeout == 0 {
		o.PollTimeout = 5 * time.Second
	}
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 25
	}
	if o.RetryDelay == 0 {
		o.RetryDelay = 1 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logrusNop()
	}
}

func logrusNop() *logrus.Entry {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(logger)
}
