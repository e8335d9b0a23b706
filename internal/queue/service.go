package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marketpulse/pulse/internal/events"
	"github.com/marketpulse/pulse/internal/telemetry"
	"github.com/marketpulse/pulse/internal/utils"
	"github.com/rs/zerolog"
)

const (
	// jobExpiry sets the informational expires_at column
	jobExpiry = 24 * time.Hour
	// maxErrorMessage bounds stored failure reasons
	maxErrorMessage = 2000
)

// Config holds retry policy defaults
type Config struct {
	MaxAttempts int
	Backoff     Backoff
}

// Service is the queue API used by producers, workers and operators
type Service struct {
	store       *Store
	maxAttempts int
	backoff     Backoff
	now         func() time.Time
	bus         *events.Bus
	metrics     *telemetry.Metrics
	notifier    Notifier
	log         zerolog.Logger
}

// Option customizes a Service
type Option func(*Service)

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithEventBus publishes job lifecycle events to bus
func WithEventBus(bus *events.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithMetrics records queue metrics
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithNotifier wakes idle workers after each enqueue
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// NewService creates the queue service
func NewService(store *Store, cfg Config, log zerolog.Logger, opts ...Option) *Service {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff()
	}

	s := &Service{
		store:       store,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.Backoff,
		now:         time.Now,
		log:         log.With().Str("component", "queue").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnqueueOption adjusts a single enqueue
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	dedupeKey   string
	maxAttempts int
	at          *time.Time
}

// WithDedupeKey rejects the enqueue with ErrDuplicate while another job with
// key is pending, processing or waiting to retry
func WithDedupeKey(key string) EnqueueOption {
	return func(o *enqueueOptions) { o.dedupeKey = key }
}

// WithMaxAttempts overrides the default attempt ceiling
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) { o.maxAttempts = n }
}

// At schedules the job for an absolute time instead of now+delay
func At(t time.Time) EnqueueOption {
	return func(o *enqueueOptions) { o.at = &t }
}

// Enqueue inserts a pending job eligible at now+delay and returns its id
func (s *Service) Enqueue(ctx context.Context, payload Payload, priority int, delay time.Duration, opts ...EnqueueOption) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("%w: nil payload", ErrInvalidPayload)
	}
	if err := ValidatePayload(payload); err != nil {
		return "", err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s payload: %w", payload.JobType(), err)
	}

	return s.enqueue(ctx, payload.JobType(), raw, priority, delay, opts...)
}

// EnqueueUnique is Enqueue with a dedupe key
func (s *Service) EnqueueUnique(ctx context.Context, key string, payload Payload, priority int, delay time.Duration, opts ...EnqueueOption) (string, error) {
	return s.Enqueue(ctx, payload, priority, delay, append(opts, WithDedupeKey(key))...)
}

// EnqueueRaw validates raw JSON against jobType's payload before enqueueing.
// Used by the admin API and CLI.
func (s *Service) EnqueueRaw(ctx context.Context, jobType JobType, raw json.RawMessage, priority int, delay time.Duration, opts ...EnqueueOption) (string, error) {
	payload, err := ParsePayload(jobType, raw)
	if err != nil {
		return "", err
	}
	return s.Enqueue(ctx, payload, priority, delay, opts...)
}

func (s *Service) enqueue(ctx context.Context, jobType JobType, raw []byte, priority int, delay time.Duration, opts ...EnqueueOption) (string, error) {
	o := enqueueOptions{maxAttempts: s.maxAttempts}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxAttempts < 1 {
		o.maxAttempts = 1
	}
	if delay < 0 {
		delay = 0
	}

	now := s.now()
	scheduledAt := now.Add(delay)
	if o.at != nil {
		scheduledAt = *o.at
	}
	expiresAt := now.Add(jobExpiry)

	job := &Job{
		ID:          uuid.New().String(),
		Type:        jobType,
		Payload:     raw,
		Priority:    priority,
		Status:      StatusPending,
		MaxAttempts: o.maxAttempts,
		DedupeKey:   o.dedupeKey,
		ScheduledAt: scheduledAt,
		ExpiresAt:   &expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	inserted, err := s.store.Insert(ctx, job)
	if err != nil {
		return "", err
	}
	if !inserted {
		s.log.Debug().
			Str("job_type", string(jobType)).
			Str("dedupe_key", o.dedupeKey).
			Msg("Skipped enqueue, active job holds dedupe key")
		return "", fmt.Errorf("%w: %s", ErrDuplicate, o.dedupeKey)
	}

	s.log.Debug().
		Str("job_id", job.ID).
		Str("job_type", string(jobType)).
		Int("priority", priority).
		Time("scheduled_at", scheduledAt).
		Msg("Job enqueued")

	s.metrics.JobEnqueued(ctx, string(jobType))
	s.bus.Emit("queue", &events.JobStatusData{
		JobID:       job.ID,
		JobType:     string(jobType),
		Status:      "enqueued",
		Priority:    priority,
		ScheduledAt: scheduledAt,
	})

	if s.notifier != nil && !scheduledAt.After(now) {
		if err := s.notifier.Notify(ctx); err != nil {
			s.log.Warn().Err(err).Msg("Failed to notify workers")
		}
	}

	return job.ID, nil
}

// Dequeue claims the next eligible job, or returns nil, nil when none is due.
// Two concurrent calls never return the same job.
func (s *Service) Dequeue(ctx context.Context) (*Job, error) {
	now := s.now()

	job, err := s.store.Claim(ctx, now)
	if err != nil || job == nil {
		return nil, err
	}

	s.metrics.JobClaimed(ctx, string(job.Type), now.Sub(job.ScheduledAt))
	s.bus.Emit("queue", &events.JobStatusData{
		JobID:    job.ID,
		JobType:  string(job.Type),
		Status:   "started",
		Priority: job.Priority,
		Attempts: job.Attempts,
	})

	return job, nil
}

// Complete marks a job completed. Unknown or already terminal jobs are left
// untouched with a warning.
func (s *Service) Complete(ctx context.Context, id string) error {
	return s.complete(ctx, id, anyAttempt, false)
}

// CompleteAttempt completes the job only while attempt is its current
// processing claim. Workers report through it so that a claim the reaper reset
// and handed to another worker is left alone.
func (s *Service) CompleteAttempt(ctx context.Context, id string, attempt int) error {
	return s.complete(ctx, id, attempt, true)
}

func (s *Service) complete(ctx context.Context, id string, attempt int, claimed bool) error {
	job, err := s.store.MarkCompleted(ctx, id, attempt, claimed, s.now())
	if err != nil {
		return err
	}
	if job == nil {
		s.warnNoop(ctx, id, "complete", attempt)
		return nil
	}

	s.metrics.JobCompleted(ctx, string(job.Type))
	s.bus.Emit("queue", &events.JobStatusData{
		JobID:    id,
		JobType:  string(job.Type),
		Status:   "completed",
		Priority: job.Priority,
		Attempts: job.Attempts,
	})
	return nil
}

// Fail records a failed attempt. Transient failures with attempts left move
// to retry after the backoff delay; permanent errors and exhausted jobs fail.
// Unknown or already terminal jobs are left untouched with a warning.
func (s *Service) Fail(ctx context.Context, id string, cause error) error {
	return s.fail(ctx, id, anyAttempt, false, cause)
}

// FailAttempt is Fail restricted to the processing claim with attempt, like
// CompleteAttempt
func (s *Service) FailAttempt(ctx context.Context, id string, attempt int, cause error) error {
	return s.fail(ctx, id, attempt, true, cause)
}

func (s *Service) fail(ctx context.Context, id string, attempt int, claimed bool, cause error) error {
	job, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		s.warnNoop(ctx, id, "fail", attempt)
		return nil
	}
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		s.warnNoop(ctx, id, "fail", attempt)
		return nil
	}
	if claimed && (job.Status != StatusProcessing || job.Attempts != attempt) {
		s.warnNoop(ctx, id, "fail", attempt)
		return nil
	}

	message := "unknown error"
	if cause != nil {
		message = cause.Error()
	}
	message = utils.Truncate(message, maxErrorMessage)

	now := s.now()
	data := &events.JobStatusData{
		JobID:    id,
		JobType:  string(job.Type),
		Priority: job.Priority,
		Attempts: job.Attempts,
		Error:    message,
	}

	if !IsPermanent(cause) && job.Attempts < job.MaxAttempts {
		delay := s.backoff.Delay(job.Attempts)
		next := now.Add(delay)

		ok, err := s.store.MarkRetry(ctx, id, job.Attempts, claimed, message, next, now)
		if err != nil {
			return err
		}
		if !ok {
			s.warnNoop(ctx, id, "retry", attempt)
			return nil
		}

		s.log.Warn().
			Str("job_id", id).
			Str("job_type", string(job.Type)).
			Int("attempts", job.Attempts).
			Dur("backoff", delay).
			Str("error", message).
			Msg("Job failed, scheduled retry")

		s.metrics.JobRetried(ctx, string(job.Type))
		data.Status = "retrying"
		data.ScheduledAt = next
		s.bus.Emit("queue", data)
		return nil
	}

	ok, err := s.store.MarkFailed(ctx, id, job.Attempts, claimed, message, now)
	if err != nil {
		return err
	}
	if !ok {
		s.warnNoop(ctx, id, "fail", attempt)
		return nil
	}

	s.log.Error().
		Str("job_id", id).
		Str("job_type", string(job.Type)).
		Int("attempts", job.Attempts).
		Bool("permanent", IsPermanent(cause)).
		Str("error", message).
		Msg("Job failed permanently")

	s.metrics.JobFailed(ctx, string(job.Type))
	data.Status = "failed"
	s.bus.Emit("queue", data)
	return nil
}

func (s *Service) warnNoop(ctx context.Context, id, op string, attempt int) {
	ev := s.log.Warn().Str("job_id", id).Str("op", op)
	if attempt != anyAttempt {
		ev = ev.Int("reported_attempt", attempt)
	}

	job, err := s.store.Get(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		ev.Msg("Ignoring report for unknown job")
	case err != nil:
		ev.Err(err).Msg("Ignoring report, job state could not be read")
	default:
		ev.Str("status", string(job.Status)).Int("attempts", job.Attempts).
			Msg("Ignoring report, job already moved on")
	}
}

// Get returns one job
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(ctx, id)
}

// List returns jobs matching filter
func (s *Service) List(ctx context.Context, filter Filter) ([]Job, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("unknown status %q", filter.Status)
	}
	return s.store.List(ctx, filter)
}

// Stats returns job counts per status
func (s *Service) Stats(ctx context.Context) (map[Status]int, error) {
	return s.store.CountByStatus(ctx)
}

// RescheduleRetries makes every waiting retry job eligible now
func (s *Service) RescheduleRetries(ctx context.Context) (int64, error) {
	n, err := s.store.RescheduleRetries(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info().Int64("count", n).Msg("Rescheduled retry jobs to now")
		if s.notifier != nil {
			_ = s.notifier.Notify(ctx)
		}
	}
	return n, nil
}

// ResetStuck recovers jobs that have been processing for longer than olderThan
func (s *Service) ResetStuck(ctx context.Context, olderThan time.Duration) (ResetResult, error) {
	now := s.now()

	res, err := s.store.ResetStuck(ctx, now.Add(-olderThan), now)
	if err != nil {
		return res, err
	}

	if res.Requeued > 0 || res.Failed > 0 {
		s.log.Warn().
			Int64("requeued", res.Requeued).
			Int64("failed", res.Failed).
			Dur("older_than", olderThan).
			Msg("Reset stuck processing jobs")

		s.metrics.JobsReset(ctx, res.Requeued+res.Failed)
		s.bus.Emit("queue", &events.JobsResetData{Requeued: res.Requeued, Failed: res.Failed})
		if res.Requeued > 0 && s.notifier != nil {
			_ = s.notifier.Notify(ctx)
		}
	}
	return res, nil
}

// HasActive reports whether a pending, processing or retry job holds key
func (s *Service) HasActive(ctx context.Context, key string) (bool, error) {
	return s.store.ExistsByDedupeKey(ctx, key, StatusPending, StatusProcessing, StatusRetry)
}

// HasAny reports whether any job, in any status, was enqueued with key
func (s *Service) HasAny(ctx context.Context, key string) (bool, error) {
	return s.store.ExistsByDedupeKey(ctx, key)
}

// ListTerminalBefore returns finished jobs older than cutoff, oldest first
func (s *Service) ListTerminalBefore(ctx context.Context, cutoff time.Time, limit int) ([]Job, error) {
	return s.store.ListTerminalBefore(ctx, cutoff, limit)
}

// DeleteTerminal removes archived jobs
func (s *Service) DeleteTerminal(ctx context.Context, ids []string) (int64, error) {
	return s.store.DeleteTerminal(ctx, ids)
}

// Now returns the service clock
func (s *Service) Now() time.Time {
	return s.now()
}
