package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/marketpulse/pulse/internal/events"
	testutil "github.com/marketpulse/pulse/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, opts ...Option) (*Service, *testutil.Clock) {
	t.Helper()

	db, cleanup := testutil.NewTestDB(t, "queue")
	t.Cleanup(cleanup)

	clock := testutil.NewClock(epoch)
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	svc := NewService(NewStore(db), Config{MaxAttempts: 3, Backoff: DefaultBackoff()}, zerolog.Nop(), opts...)
	return svc, clock
}

func TestEnqueue_InsertsPendingJob(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, ContentProcessPayload{ContentID: "c-1"}, PriorityDefault, 0)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, JobTypeContentProcess, job.Type)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, PriorityDefault, job.Priority)
	assert.True(t, job.ScheduledAt.Equal(epoch))
	assert.JSONEq(t, `{"content_id":"c-1"}`, string(job.Payload))
	require.NotNil(t, job.ExpiresAt)
	assert.True(t, job.ExpiresAt.Equal(epoch.Add(24*time.Hour)))
}

func TestEnqueue_RejectsInvalidPayload(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Enqueue(context.Background(), DailyAnalysisPayload{Date: "yesterday"}, PriorityAnalysis, 0)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = svc.EnqueueRaw(context.Background(), "bogus", []byte(`{}`), PriorityDefault, 0)
	assert.ErrorIs(t, err, ErrUnknownJobType)
}

func TestDequeue_EmptyReturnsNil(t *testing.T) {
	svc, _ := newTestService(t)

	job, err := svc.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestDequeue_ClaimsAndStamps(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, ContentProcessPayload{ContentID: "c-1"}, PriorityDefault, 0)
	require.NoError(t, err)

	clock.Advance(time.Second)
	job, err := svc.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.Equal(t, id, job.ID)
	assert.Equal(t, StatusProcessing, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.StartedAt)
	assert.True(t, job.StartedAt.Equal(epoch.Add(time.Second)))

	// A processing job is not claimable again
	again, err := svc.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestDequeue_PriorityThenScheduleOrder(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	low, err := svc.Enqueue(ctx, ContentProcessPayload{ContentID: "low"}, PriorityDefault, 0)
	require.NoError(t, err)
	clock.Advance(time.Second)
	high, err := svc.Enqueue(ctx, DailyAnalysisPayload{Date: "2024-01-01"}, PriorityAnalysis, 0)
	require.NoError(t, err)
	clock.Advance(time.Second)
	mid, err := svc.Enqueue(ctx, GeneratePredictionsPayload{AnalysisDate: "2024-01-01"}, PriorityPredictions, 0)
	require.NoError(t, err)
	clock.Advance(time.Second)
	low2, err := svc.Enqueue(ctx, ContentProcessPayload{ContentID: "low2"}, PriorityDefault, 0)
	require.NoError(t, err)

	var order []string
	for i := 0; i < 4; i++ {
		job, err := svc.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)
		order = append(order, job.ID)
	}

	assert.Equal(t, []string{high, mid, low, low2}, order)
}

func TestDequeue_FutureJobNotEligible(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, GeneratePredictionsPayload{AnalysisDate: "2024-01-01"}, PriorityPredictions, 600*time.Second)
	require.NoError(t, err)

	job, err := svc.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)

	clock.Advance(599 * time.Second)
	job, err = svc.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)

	clock.Advance(time.Second)
	job, err = svc.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
}

func TestDequeue_AbsoluteSchedule(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	due := epoch.AddDate(0, 1, 0)
	_, err := svc.Enqueue(ctx, PredictionComparisonPayload{PredictionID: "p-1"}, PriorityComparison, 0, At(due))
	require.NoError(t, err)

	clock.Set(due.Add(-time.Millisecond))
	job, err := svc.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)

	clock.Set(due)
	job, err = svc.Dequeue(ctx)
	require.NoError(t, err)
	assert.NotNil(t, job)
}

func TestDequeue_MutualExclusion(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Enqueue(ctx, ContentProcessPayload{ContentID: "only"}, PriorityDefault, 0)
	require.NoError(t, err)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []*Job
		errs    []error
		start   = make(chan struct{})
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			job, err := svc.Dequeue(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
			}
			if job != nil {
				claimed = append(claimed, job)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Empty(t, errs)
	require.Len(t, claimed, 1)
	assert.Equal(t, 1, claimed[0].Attempts)
}

func TestDequeue_ConcurrentWorkersClaimEachJobOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const jobs = 20
	for i := 0; i < jobs; i++ {
		_, err := svc.Enqueue(ctx, ContentProcessPayload{ContentID: "c"}, PriorityDefault, 0)
		require.NoError(t, err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := svc.Dequeue(ctx)
				if err != nil || job == nil {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, jobs)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}

func TestFail_AttemptMonotonicity(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, ContentProcessPayload{ContentID: "c"}, PriorityDefault, 0, WithMaxAttempts(5))
	require.NoError(t, err)

	for k := 1; k <= 4; k++ {
		job, err := svc.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, job, "claim %d", k)
		assert.Equal(t, id, job.ID)
		assert.Equal(t, k, job.Attempts)

		require.NoError(t, svc.Fail(ctx, id, errors.New("llm timeout")))

		stored, err := svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusRetry, stored.Status)
		assert.Equal(t, k, stored.Attempts)

		clock.Advance(2 * time.Hour)
	}
}

func TestFail_BackoffGrowthUntilFailed(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, ContentProcessPayload{ContentID: "c"}, PriorityDefault, 0)
	require.NoError(t, err)

	var delays []time.Duration
	for attempt := 1; attempt <= 3; attempt++ {
		job, err := svc.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, job)

		failedAt := clock.Now()
		require.NoError(t, svc.Fail(ctx, id, errors.New("boom")))

		stored, err := svc.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "boom", stored.ErrorMessage)

		if attempt < 3 {
			assert.Equal(t, StatusRetry, stored.Status)
			delays = append(delays, stored.ScheduledAt.Sub(failedAt))

			// Not eligible before the backoff elapses
			early, err := svc.Dequeue(ctx)
			require.NoError(t, err)
			assert.Nil(t, early)

			clock.Set(stored.ScheduledAt)
			continue
		}

		assert.Equal(t, StatusFailed, stored.Status)
		require.NotNil(t, stored.CompletedAt)
	}

	assert.Equal(t, []time.Duration{time.Minute, 2 * time.Minute}, delays)

	// Further reports cannot reopen a failed job
	require.NoError(t, svc.Fail(ctx, id, errors.New("again")))
	require.NoError(t, svc.Complete(ctx, id))
	stored, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, "boom", stored.ErrorMessage)
	assert.Equal(t, 3, stored.Attempts)
}

func TestFail_PermanentErrorSkipsRetry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, ContentProcessPayload{ContentID: "c"}, PriorityDefault, 0)
	require.NoError(t, err)
	_, err = svc.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.Fail(ctx, id, Permanent(ErrUnknownJobType)))

	job, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Contains(t, job.ErrorMessage, "unknown job type")
}

func TestComplete_TerminalFinality(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, ContentProcessPayload{ContentID: "c"}, PriorityDefault, 0)
	require.NoError(t, err)
	_, err = svc.Dequeue(ctx)
	require.NoError(t, err)

	clock.Advance(time.Second)
	require.NoError(t, svc.Complete(ctx, id))

	job, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
	completedAt := *job.CompletedAt

	clock.Advance(time.Minute)
	require.NoError(t, svc.Fail(ctx, id, errors.New("late failure")))
	require.NoError(t, svc.Complete(ctx, id))

	job, err = svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Empty(t, job.ErrorMessage)
	assert.True(t, job.CompletedAt.Equal(completedAt))

	// Completed jobs are never claimed again
	again, err := svc.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestCompleteAndFail_UnknownJobIsNoop(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	assert.NoError(t, svc.Complete(ctx, "missing"))
	assert.NoError(t, svc.Fail(ctx, "missing", errors.New("x")))

	_, err := svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEnqueue_DedupeKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	key := "daily-analysis:2024-01-01"

	first, err := svc.EnqueueUnique(ctx, key, DailyAnalysisPayload{Date: "2024-01-01"}, PriorityAnalysis, 0)
	require.NoError(t, err)

	_, err = svc.EnqueueUnique(ctx, key, DailyAnalysisPayload{Date: "2024-01-01"}, PriorityAnalysis, 0)
	assert.ErrorIs(t, err, ErrDuplicate)

	active, err := svc.HasActive(ctx, key)
	require.NoError(t, err)
	assert.True(t, active)

	// Still held while processing
	_, err = svc.Dequeue(ctx)
	require.NoError(t, err)
	_, err = svc.EnqueueUnique(ctx, key, DailyAnalysisPayload{Date: "2024-01-01"}, PriorityAnalysis, 0)
	assert.ErrorIs(t, err, ErrDuplicate)

	// Released once terminal
	require.NoError(t, svc.Complete(ctx, first))
	active, err = svc.HasActive(ctx, key)
	require.NoError(t, err)
	assert.False(t, active)

	second, err := svc.EnqueueUnique(ctx, key, DailyAnalysisPayload{Date: "2024-01-01"}, PriorityAnalysis, 0)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	seen, err := svc.HasAny(ctx, key)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestResetStuck(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	retryable, err := svc.Enqueue(ctx, ContentProcessPayload{ContentID: "a"}, PriorityAnalysis, 0)
	require.NoError(t, err)
	exhausted, err := svc.Enqueue(ctx, ContentProcessPayload{ContentID: "b"}, PriorityDefault, 0, WithMaxAttempts(1))
	require.NoError(t, err)

	_, err = svc.Dequeue(ctx)
	require.NoError(t, err)
	_, err = svc.Dequeue(ctx)
	require.NoError(t, err)

	clock.Advance(5 * time.Minute)
	fresh, err := svc.Enqueue(ctx, ContentProcessPayload{ContentID: "c"}, PriorityDefault, 0)
	require.NoError(t, err)
	_, err = svc.Dequeue(ctx)
	require.NoError(t, err)

	clock.Advance(6 * time.Minute)
	res, err := svc.ResetStuck(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ResetResult{Requeued: 1, Failed: 1}, res)

	job, err := svc.Get(ctx, retryable)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Nil(t, job.StartedAt)

	job, err = svc.Get(ctx, exhausted)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "stuck in processing", job.ErrorMessage)

	job, err = svc.Get(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, job.Status)

	// The requeued job can be claimed again and its attempts keep counting
	again, err := svc.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, retryable, again.ID)
	assert.Equal(t, 2, again.Attempts)
}

func TestRescheduleRetries(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, ContentProcessPayload{ContentID: "c"}, PriorityDefault, 0)
	require.NoError(t, err)
	_, err = svc.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Fail(ctx, id, errors.New("transient")))

	job, err := svc.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, job, "retry is still backing off")

	n, err := svc.RescheduleRetries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	job, err = svc.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, 2, job.Attempts)
}

func TestListAndStats(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Enqueue(ctx, ContentProcessPayload{ContentID: "c"}, PriorityDefault, 0)
		require.NoError(t, err)
		clock.Advance(time.Second)
	}
	_, err := svc.Enqueue(ctx, DailyAnalysisPayload{Date: "2024-01-01"}, PriorityAnalysis, 0)
	require.NoError(t, err)

	claimed, err := svc.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Complete(ctx, claimed.ID))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats[StatusPending])
	assert.Equal(t, 1, stats[StatusCompleted])
	assert.Equal(t, 0, stats[StatusFailed])

	pending, err := svc.List(ctx, Filter{Status: StatusPending, Type: JobTypeContentProcess})
	require.NoError(t, err)
	assert.Len(t, pending, 3)
	assert.True(t, pending[0].CreatedAt.After(pending[2].CreatedAt), "newest first")

	limited, err := svc.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	_, err = svc.List(ctx, Filter{Status: "stuck"})
	assert.Error(t, err)
}

func TestTerminalArchiveHelpers(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	done, err := svc.Enqueue(ctx, ContentProcessPayload{ContentID: "c"}, PriorityDefault, 0)
	require.NoError(t, err)
	_, err = svc.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Complete(ctx, done))

	open, err := svc.Enqueue(ctx, ContentProcessPayload{ContentID: "d"}, PriorityDefault, 0)
	require.NoError(t, err)

	clock.Advance(48 * time.Hour)
	old, err := svc.ListTerminalBefore(ctx, clock.Now().Add(-24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, done, old[0].ID)

	n, err := svc.DeleteTerminal(ctx, []string{done, open})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "non-terminal jobs are never deleted")

	_, err = svc.Get(ctx, open)
	assert.NoError(t, err)
}

func TestReport_StaleClaimIsIgnored(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, ContentProcessPayload{ContentID: "c"}, PriorityDefault, 0)
	require.NoError(t, err)

	first, err := svc.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.Attempts)

	clock.Advance(11 * time.Minute)
	_, err = svc.ResetStuck(ctx, 10*time.Minute)
	require.NoError(t, err)

	second, err := svc.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, 2, second.Attempts)

	// The first worker finally reports on a claim it no longer holds
	require.NoError(t, svc.FailAttempt(ctx, id, first.Attempts, errors.New("llm timeout")))
	require.NoError(t, svc.CompleteAttempt(ctx, id, first.Attempts))

	job, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, job.Status)
	assert.Equal(t, 2, job.Attempts)
	assert.NotContains(t, job.ErrorMessage, "llm timeout")

	other, err := svc.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, other, "a job held by a live worker must not be claimable")

	require.NoError(t, svc.CompleteAttempt(ctx, id, second.Attempts))
	job, err = svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, job.Status)
}

func TestFailAttempt_CurrentClaimSchedulesRetry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, ContentProcessPayload{ContentID: "c"}, PriorityDefault, 0)
	require.NoError(t, err)
	claimed, err := svc.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.FailAttempt(ctx, id, claimed.Attempts, errors.New("llm timeout")))

	job, err := svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusRetry, job.Status)
	assert.Equal(t, "llm timeout", job.ErrorMessage)
}

func TestCompleteAttempt_EmitsCompletedEvent(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	var completed []*events.JobStatusData
	bus.Subscribe(events.JobCompleted, func(e *events.Event) {
		completed = append(completed, e.Data.(*events.JobStatusData))
	})

	svc, _ := newTestService(t, WithEventBus(bus))
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, DailyAnalysisPayload{Date: "2024-01-01"}, PriorityAnalysis, 0)
	require.NoError(t, err)
	claimed, err := svc.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, svc.CompleteAttempt(ctx, id, claimed.Attempts))
	require.NoError(t, svc.CompleteAttempt(ctx, id, claimed.Attempts))

	require.Len(t, completed, 1)
	assert.Equal(t, string(JobTypeDailyAnalysis), completed[0].JobType)
	assert.Equal(t, PriorityAnalysis, completed[0].Priority)
	assert.Equal(t, 1, completed[0].Attempts)
}

func TestService_EmitsLifecycleEvents(t *testing.T) {
	bus := events.NewBus(zerolog.Nop())
	var (
		mu   sync.Mutex
		seen []events.EventType
	)
	bus.SubscribeAll(func(e *events.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Type)
	})

	svc, _ := newTestService(t, WithEventBus(bus))
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, ContentProcessPayload{ContentID: "c"}, PriorityDefault, 0, WithMaxAttempts(2))
	require.NoError(t, err)
	_, err = svc.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Fail(ctx, id, errors.New("x")))
	_, err = svc.RescheduleRetries(ctx)
	require.NoError(t, err)
	_, err = svc.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.Fail(ctx, id, errors.New("x")))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []events.EventType{
		events.JobEnqueued,
		events.JobStarted,
		events.JobRetrying,
		events.JobStarted,
		events.JobFailed,
	}, seen)
}

func TestService_NotifiesOnImmediateEnqueue(t *testing.T) {
	notifier := NewMemoryNotifier()
	svc, _ := newTestService(t, WithNotifier(notifier))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wake, err := notifier.Subscribe(ctx)
	require.NoError(t, err)

	_, err = svc.Enqueue(ctx, ContentProcessPayload{ContentID: "later"}, PriorityDefault, time.Hour)
	require.NoError(t, err)
	select {
	case <-wake:
		t.Fatal("delayed jobs should not wake workers")
	default:
	}

	_, err = svc.Enqueue(ctx, ContentProcessPayload{ContentID: "now"}, PriorityDefault, 0)
	require.NoError(t, err)
	select {
	case <-wake:
	case <-time.After(time.Second):
		t.Fatal("expected wake-up")
	}
}
