package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marketpulse/pulse/internal/analysis"
	"github.com/marketpulse/pulse/internal/content"
	"github.com/marketpulse/pulse/internal/events"
	"github.com/marketpulse/pulse/internal/horizon"
	"github.com/marketpulse/pulse/internal/llm"
	"github.com/marketpulse/pulse/internal/pipeline"
	"github.com/marketpulse/pulse/internal/predictions"
	"github.com/marketpulse/pulse/internal/queue"
	testutil "github.com/marketpulse/pulse/internal/testing"
	"github.com/marketpulse/pulse/internal/work"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC)

// fakeLLM answers by system prompt
type fakeLLM struct {
	mu       sync.Mutex
	calls    map[string]int
	analysis string
	preds    string
	compare  string
	err      error
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		calls:    make(map[string]int),
		analysis: `{"market_sentiment":"Bullish","key_themes":["rates"," ","earnings"],"overall_summary":"risk on","confidence_score":1.4}`,
		preds:    "```json\n" + `{"predictions":[{"prediction_text":"SPX higher","time_horizon":"1_week","confidence":0.6},{"prediction_text":"bad","time_horizon":"2_weeks"},{"prediction_text":"yields lower","time_horizon":"3_months","confidence":0.4}]}` + "\n```",
		compare:  `{"accuracy_score":0.75,"outcome_summary":"mostly right"}`,
	}
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return "", f.err
	}
	switch req.System {
	case summarizeSystem:
		f.calls["summarize"]++
		return "  summary of " + strings.SplitN(req.Prompt, "\n", 3)[1] + "  ", nil
	case analysisSystem:
		f.calls["analysis"]++
		return f.analysis, nil
	case predictionsSystem:
		f.calls["predictions"]++
		return f.preds, nil
	case comparisonSystem:
		f.calls["comparison"]++
		return f.compare, nil
	}
	return "", fmt.Errorf("unexpected prompt")
}

func (f *fakeLLM) count(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[kind]
}

type env struct {
	queue    *queue.Service
	content  *content.Repository
	analyses *analysis.Repository
	preds    *predictions.Repository
	registry *work.Registry
	handlers *Handlers
	llm      *fakeLLM
	clock    *testutil.Clock
}

func newEnv(t *testing.T) *env {
	t.Helper()

	db, cleanup := testutil.NewTestDB(t, "jobs")
	t.Cleanup(cleanup)

	clock := testutil.NewClock(start)
	bus := events.NewBus(zerolog.Nop())
	q := queue.NewService(queue.NewStore(db), queue.Config{MaxAttempts: 3}, zerolog.Nop(), queue.WithClock(clock.Now))
	contentRepo := content.NewRepository(db, zerolog.Nop())
	analysisRepo := analysis.NewRepository(db, zerolog.Nop())
	predRepo := predictions.NewRepository(db, zerolog.Nop())
	fake := newFakeLLM()

	h := New(Deps{
		Content:     contentRepo,
		Analyses:    analysisRepo,
		Predictions: predRepo,
		LLM:         fake,
		Trigger:     pipeline.NewTrigger(contentRepo, analysisRepo, q, pipeline.DefaultConfig(), clock.Now, bus, zerolog.Nop()),
		Horizon:     horizon.NewScheduler(q, predRepo, bus, 100, zerolog.Nop()),
		Bus:         bus,
		Now:         clock.Now,
		Log:         zerolog.Nop(),
	})
	reg := work.NewRegistry()
	h.Register(reg)

	return &env{queue: q, content: contentRepo, analyses: analysisRepo, preds: predRepo, registry: reg, handlers: h, llm: fake, clock: clock}
}

// runNext claims one job and reports the handler outcome like a worker would
func (e *env) runNext(t *testing.T) (*queue.Job, error) {
	t.Helper()
	ctx := context.Background()

	job, err := e.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job, "expected an eligible job")

	herr := e.registry.Handle(ctx, job)
	if herr == nil {
		require.NoError(t, e.queue.Complete(ctx, job.ID))
	} else {
		require.NoError(t, e.queue.Fail(ctx, job.ID, herr))
	}
	return job, herr
}

func (e *env) ingest(t *testing.T, title string) string {
	t.Helper()
	item := &content.Item{Source: "wire", Title: title, Body: "body of " + title, CreatedAt: e.clock.Now()}
	require.NoError(t, e.content.Create(context.Background(), item))
	_, err := e.queue.Enqueue(context.Background(), queue.ContentProcessPayload{ContentID: item.ID}, queue.PriorityDefault, 0)
	require.NoError(t, err)
	return item.ID
}

func TestRegister_AllJobTypes(t *testing.T) {
	e := newEnv(t)
	assert.ElementsMatch(t, queue.KnownTypes(), e.registry.Types())
}

func TestEndToEnd_ContentTriggersAnalysisAndPredictions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		e.ingest(t, fmt.Sprintf("headline %d", i))
	}

	// Content jobs run first at the default priority once nothing more urgent is queued;
	// the analysis job jumps the line as soon as it is enqueued
	var order []queue.JobType
	for i := 0; i < 7; i++ {
		job, err := e.runNext(t)
		require.NoError(t, err)
		order = append(order, job.Type)
	}
	assert.Equal(t, queue.JobTypeDailyAnalysis, order[5], "analysis runs right after the fifth content item")
	assert.Equal(t, 6, e.llm.count("summarize"))
	assert.Equal(t, 1, e.llm.count("analysis"))

	analysisJobs, err := e.queue.List(ctx, queue.Filter{Type: queue.JobTypeDailyAnalysis})
	require.NoError(t, err)
	require.Len(t, analysisJobs, 1)
	assert.Equal(t, queue.PriorityAnalysis, analysisJobs[0].Priority)

	predJobs, err := e.queue.List(ctx, queue.Filter{Type: queue.JobTypeGeneratePredictions})
	require.NoError(t, err)
	require.Len(t, predJobs, 1)
	assert.Equal(t, queue.PriorityPredictions, predJobs[0].Priority)
	assert.Equal(t, queue.StatusPending, predJobs[0].Status)
	assert.InDelta(t, 600, predJobs[0].ScheduledAt.Sub(predJobs[0].CreatedAt).Seconds(), 1)

	a, err := e.analyses.GetByDate(ctx, "2024-01-01")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, analysis.SentimentBullish, a.MarketSentiment)
	assert.Equal(t, []string{"rates", "earnings"}, a.KeyThemes)
	assert.Equal(t, 1.0, a.ConfidenceScore)
	assert.GreaterOrEqual(t, a.SourcesAnalyzed, 5)

	// Predictions are held back until the delay elapses
	none, err := e.queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	e.clock.Advance(10 * time.Minute)
	job, err := e.runNext(t)
	require.NoError(t, err)
	assert.Equal(t, queue.JobTypeGeneratePredictions, job.Type)

	stored, err := e.preds.ListByAnalysisDate(ctx, "2024-01-01", time.Time{})
	require.NoError(t, err)
	require.Len(t, stored, 2, "the prediction with an unknown horizon is dropped")

	comparisons, err := e.queue.List(ctx, queue.Filter{Type: queue.JobTypePredictionComparison})
	require.NoError(t, err)
	assert.Len(t, comparisons, 2)

	// One week later the 1_week comparison becomes due
	e.clock.Advance(7 * 24 * time.Hour)
	job, err = e.runNext(t)
	require.NoError(t, err)
	assert.Equal(t, queue.JobTypePredictionComparison, job.Type)

	acc, err := e.preds.AccuracyByHorizon(ctx)
	require.NoError(t, err)
	require.Len(t, acc, 1)
	assert.Equal(t, predictions.HorizonWeek, acc[0].Horizon)
	assert.InDelta(t, 0.75, acc[0].Mean, 1e-9)

	none, err = e.queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, none, "the 3_months comparison is not due yet")
}

func TestProcessContent_MissingItemIsPermanent(t *testing.T) {
	e := newEnv(t)

	_, err := e.queue.Enqueue(context.Background(), queue.ContentProcessPayload{ContentID: "gone"}, queue.PriorityDefault, 0)
	require.NoError(t, err)

	job, herr := e.runNext(t)
	assert.True(t, queue.IsPermanent(herr))

	stored, err := e.queue.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, stored.Status)
}

func TestProcessContent_AlreadyProcessedSkipsLLM(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	id := e.ingest(t, "headline")
	require.NoError(t, e.content.MarkProcessed(ctx, id, "done", e.clock.Now()))

	_, err := e.runNext(t)
	require.NoError(t, err)
	assert.Equal(t, 0, e.llm.count("summarize"))
}

func TestProcessContent_RejectedRequestIsPermanent(t *testing.T) {
	e := newEnv(t)
	e.ingest(t, "headline")
	e.llm.err = fmt.Errorf("%w: status 400: context too long", llm.ErrRejected)

	_, herr := e.runNext(t)
	require.Error(t, herr)
	assert.True(t, queue.IsPermanent(herr))
}

func TestProcessContent_TransientLLMErrorRetries(t *testing.T) {
	e := newEnv(t)
	e.ingest(t, "headline")
	e.llm.err = errors.New("llm provider returned 503: overloaded")

	job, herr := e.runNext(t)
	require.Error(t, herr)
	assert.False(t, queue.IsPermanent(herr))

	stored, err := e.queue.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusRetry, stored.Status)
}

func TestDailyAnalysis_NoContentIsPermanent(t *testing.T) {
	e := newEnv(t)
	job := &queue.Job{Type: queue.JobTypeDailyAnalysis, Payload: []byte(`{"date":"2024-01-01"}`)}

	err := e.registry.Handle(context.Background(), job)
	assert.True(t, queue.IsPermanent(err))
}

func TestDailyAnalysis_InvalidJSONIsTransient(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	item := &content.Item{Source: "wire", Title: "t"}
	require.NoError(t, e.content.Create(ctx, item))
	require.NoError(t, e.content.MarkProcessed(ctx, item.ID, "s", e.clock.Now()))
	e.llm.analysis = "Sorry, I can't do that."

	err := e.registry.Handle(ctx, &queue.Job{Type: queue.JobTypeDailyAnalysis, Payload: []byte(`{"date":"2024-01-01"}`)})
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrInvalidJSON)
	assert.False(t, queue.IsPermanent(err))
}

func TestGeneratePredictions_MissingAnalysisIsTransient(t *testing.T) {
	e := newEnv(t)

	err := e.registry.Handle(context.Background(), &queue.Job{Type: queue.JobTypeGeneratePredictions, Payload: []byte(`{"analysis_date":"2024-01-01"}`)})
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))
	assert.Equal(t, 0, e.llm.count("predictions"))
}

func TestGeneratePredictions_Idempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.analyses.Upsert(ctx, &analysis.Analysis{Date: "2024-01-01", MarketSentiment: "neutral"}, e.clock.Now()))

	job := &queue.Job{Type: queue.JobTypeGeneratePredictions, Payload: []byte(`{"analysis_date":"2024-01-01"}`)}
	require.NoError(t, e.registry.Handle(ctx, job))
	require.NoError(t, e.registry.Handle(ctx, job))

	assert.Equal(t, 1, e.llm.count("predictions"))
	stored, err := e.preds.ListByAnalysisDate(ctx, "2024-01-01", time.Time{})
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	// A regenerated analysis gets fresh predictions
	e.clock.Advance(time.Hour)
	require.NoError(t, e.analyses.Upsert(ctx, &analysis.Analysis{Date: "2024-01-01", MarketSentiment: "bearish"}, e.clock.Now()))
	require.NoError(t, e.registry.Handle(ctx, job))
	assert.Equal(t, 2, e.llm.count("predictions"))
}

func TestComparePrediction(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	p := &predictions.Prediction{AnalysisDate: "2024-01-01", Text: "SPX higher", Horizon: predictions.HorizonWeek}
	require.NoError(t, e.preds.CreateBatch(ctx, []*predictions.Prediction{p}, e.clock.Now()))
	job := &queue.Job{Type: queue.JobTypePredictionComparison, Payload: []byte(fmt.Sprintf(`{"prediction_id":%q}`, p.ID))}

	// Without any analysis there is nothing to compare against yet
	err := e.registry.Handle(ctx, job)
	require.Error(t, err)
	assert.False(t, queue.IsPermanent(err))

	require.NoError(t, e.analyses.Upsert(ctx, &analysis.Analysis{Date: "2024-01-08", MarketSentiment: "bullish", OverallSummary: "rally"}, e.clock.Now()))
	require.NoError(t, e.registry.Handle(ctx, job))
	require.NoError(t, e.registry.Handle(ctx, job))
	assert.Equal(t, 1, e.llm.count("comparison"))

	c, err := e.preds.GetComparison(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.InDelta(t, 0.75, c.AccuracyScore, 1e-9)

	missing := &queue.Job{Type: queue.JobTypePredictionComparison, Payload: []byte(`{"prediction_id":"gone"}`)}
	assert.True(t, queue.IsPermanent(e.registry.Handle(ctx, missing)))
}

func TestComparePrediction_MissingScoreIsTransient(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.llm.compare = `{"outcome_summary":"unclear"}`

	p := &predictions.Prediction{AnalysisDate: "2024-01-01", Text: "x", Horizon: predictions.HorizonWeek}
	require.NoError(t, e.preds.CreateBatch(ctx, []*predictions.Prediction{p}, e.clock.Now()))
	require.NoError(t, e.analyses.Upsert(ctx, &analysis.Analysis{Date: "2024-01-01", MarketSentiment: "neutral"}, e.clock.Now()))

	err := e.registry.Handle(ctx, &queue.Job{Type: queue.JobTypePredictionComparison, Payload: []byte(fmt.Sprintf(`{"prediction_id":%q}`, p.ID))})
	assert.ErrorIs(t, err, llm.ErrInvalidJSON)
	assert.False(t, queue.IsPermanent(err))
}
