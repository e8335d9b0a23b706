package work

import (
	"context"
	"time"

	"github.com/marketpulse/pulse/internal/queue"
)

// Defaults used when Config fields are zero
const (
	DefaultPollInterval = 5 * time.Second
	DefaultErrorBackoff = 30 * time.Second
	DefaultJobTimeout   = 5 * time.Minute
)

// Handler executes one job. Returning nil completes the job.
type Handler interface {
	Handle(ctx context.Context, job *queue.Job) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, job *queue.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job *queue.Job) error {
	return f(ctx, job)
}

// Typed decodes the job payload into P before calling fn. Payload decode
// errors are permanent.
func Typed[P queue.Payload](fn func(ctx context.Context, job *queue.Job, payload P) error) Handler {
	return HandlerFunc(func(ctx context.Context, job *queue.Job) error {
		payload, err := queue.Decode[P](job)
		if err != nil {
			return err
		}
		return fn(ctx, job, payload)
	})
}

// Queue is the part of the queue service a processor needs
type Queue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	CompleteAttempt(ctx context.Context, id string, attempt int) error
	FailAttempt(ctx context.Context, id string, attempt int, cause error) error
}

// Config controls processor pacing
type Config struct {
	// PollInterval is the sleep between claims while the queue is empty
	PollInterval time.Duration
	// ErrorBackoff is the sleep after the queue itself returned an error
	ErrorBackoff time.Duration
	// JobTimeout bounds a single handler invocation
	JobTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = DefaultErrorBackoff
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	return c
}
