package work

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marketpulse/pulse/internal/queue"
	"github.com/marketpulse/pulse/internal/telemetry"
	"github.com/rs/zerolog"
)

// reportTimeout bounds the Complete/Fail call after a handler returns
const reportTimeout = 10 * time.Second

// Processor claims and executes jobs one at a time
type Processor struct {
	id       string
	queue    Queue
	handler  Handler
	cfg      Config
	metrics  *telemetry.Metrics
	log      zerolog.Logger
	busy     atomic.Bool
	handled  atomic.Int64
	trigger  chan struct{}
	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewProcessor creates a processor that runs jobs from q through handler
func NewProcessor(id string, q Queue, handler Handler, cfg Config, metrics *telemetry.Metrics, log zerolog.Logger) *Processor {
	return &Processor{
		id:      id,
		queue:   q,
		handler: handler,
		cfg:     cfg.withDefaults(),
		metrics: metrics,
		log:     log.With().Str("component", "worker").Str("worker_id", id).Logger(),
		trigger: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Run starts the processor loop. This blocks until Stop() is called.
func (p *Processor) Run() {
	defer close(p.stopped)

	p.log.Debug().Msg("Worker started")
	for {
		select {
		case <-p.stop:
			p.log.Debug().Msg("Worker stopped")
			return
		default:
		}

		job, err := p.claim()
		if err != nil {
			p.log.Error().Err(err).Dur("backoff", p.cfg.ErrorBackoff).Msg("Failed to claim job")
			if !p.wait(p.cfg.ErrorBackoff) {
				return
			}
			continue
		}
		if job == nil {
			if !p.wait(p.cfg.PollInterval) {
				return
			}
			continue
		}

		p.execute(job)
	}
}

// Stop stops the processor after the job in flight, if any, has been reported
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	<-p.stopped
}

// Trigger wakes up the processor to check for work.
// This is non-blocking and can be called from any goroutine.
func (p *Processor) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
		// Trigger already pending
	}
}

// Busy reports whether a job is executing
func (p *Processor) Busy() bool {
	return p.busy.Load()
}

// Handled returns the number of jobs this processor has run
func (p *Processor) Handled() int64 {
	return p.handled.Load()
}

// wait sleeps for d or until triggered. Returns false when stopping.
func (p *Processor) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-p.stop:
		return false
	case <-p.trigger:
		return true
	case <-timer.C:
		return true
	}
}

func (p *Processor) claim() (*queue.Job, error) {
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	return p.queue.Dequeue(ctx)
}

// execute runs job through the handler and reports the outcome
func (p *Processor) execute(job *queue.Job) {
	p.busy.Store(true)
	defer p.busy.Store(false)
	defer p.handled.Add(1)

	log := p.log.With().
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Int("attempt", job.Attempts).
		Logger()
	log.Debug().Msg("Processing job")

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.JobTimeout)
	start := time.Now()
	err := p.invoke(ctx, job)
	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
	cancel()
	took := time.Since(start)

	p.metrics.HandlerFinished(context.Background(), string(job.Type), took, err == nil)

	reportCtx, reportCancel := context.WithTimeout(context.Background(), reportTimeout)
	defer reportCancel()

	if err == nil {
		log.Info().Dur("took", took).Msg("Job completed")
		if err := p.queue.CompleteAttempt(reportCtx, job.ID, job.Attempts); err != nil {
			log.Error().Err(err).Msg("Failed to mark job completed")
		}
		return
	}

	if timedOut {
		err = fmt.Errorf("timed out after %s: %w", p.cfg.JobTimeout, err)
	}
	log.Warn().Err(err).Dur("took", took).Bool("permanent", queue.IsPermanent(err)).Msg("Job failed")
	if err := p.queue.FailAttempt(reportCtx, job.ID, job.Attempts, err); err != nil {
		log.Error().Err(err).Msg("Failed to record job failure")
	}
}

// invoke calls the handler, turning a panic into a permanent failure
func (p *Processor) invoke(ctx context.Context, job *queue.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = queue.Permanent(fmt.Errorf("handler panicked: %v", r))
		}
	}()
	return p.handler.Handle(ctx, job)
}
