package predictions

import (
	"context"
	"testing"
	"time"

	testutil "github.com/marketpulse/pulse/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	db, cleanup := testutil.NewTestDB(t, "predictions")
	t.Cleanup(cleanup)
	return NewRepository(db, zerolog.Nop())
}

func TestCreateBatchAndGet(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	preds := []*Prediction{
		{AnalysisDate: "2024-01-01", Text: "S&P 500 above 4800", Horizon: HorizonWeek, Confidence: 0.6},
		{AnalysisDate: "2024-01-01", Text: "10y yield below 4%", Horizon: HorizonThreeMonths, Confidence: 0.5},
	}
	require.NoError(t, repo.CreateBatch(ctx, preds, day))

	got, err := repo.Get(ctx, preds[1].ID)
	require.NoError(t, err)
	assert.Equal(t, HorizonThreeMonths, got.Horizon)
	assert.True(t, got.CreatedAt.Equal(day))

	list, err := repo.ListByAnalysisDate(ctx, "2024-01-01", day)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = repo.ListByAnalysisDate(ctx, "2024-01-01", day.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateBatch_InvalidHorizonStoresNothing(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	err := repo.CreateBatch(ctx, []*Prediction{
		{AnalysisDate: "2024-01-01", Text: "ok", Horizon: HorizonWeek},
		{AnalysisDate: "2024-01-01", Text: "bad", Horizon: "2_weeks"},
	}, day)
	assert.ErrorIs(t, err, ErrInvalidHorizon)

	list, err := repo.ListByAnalysisDate(ctx, "2024-01-01", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRecordComparison_Idempotent(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	p := &Prediction{AnalysisDate: "2024-01-01", Text: "x", Horizon: HorizonWeek, Confidence: 0.5}
	require.NoError(t, repo.CreateBatch(ctx, []*Prediction{p}, day))

	inserted, err := repo.RecordComparison(ctx, &Comparison{PredictionID: p.ID, AccuracyScore: 0.8, OutcomeSummary: "mostly right", ComparedAt: day.AddDate(0, 0, 7)})
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.RecordComparison(ctx, &Comparison{PredictionID: p.ID, AccuracyScore: 0.1, ComparedAt: day.AddDate(0, 0, 8)})
	require.NoError(t, err)
	assert.False(t, inserted)

	c, err := repo.GetComparison(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.InDelta(t, 0.8, c.AccuracyScore, 1e-9)
	assert.Equal(t, "mostly right", c.OutcomeSummary)

	_, err = repo.RecordComparison(ctx, &Comparison{PredictionID: p.ID, AccuracyScore: 1.5})
	assert.Error(t, err)

	none, err := repo.GetComparison(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestListUncompared(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	old := &Prediction{AnalysisDate: "2024-01-01", Text: "old", Horizon: HorizonWeek}
	compared := &Prediction{AnalysisDate: "2024-01-01", Text: "compared", Horizon: HorizonWeek}
	yearly := &Prediction{AnalysisDate: "2024-01-01", Text: "yearly", Horizon: HorizonYear}
	recent := &Prediction{AnalysisDate: "2024-01-09", Text: "recent", Horizon: HorizonWeek, CreatedAt: day.AddDate(0, 0, 8)}
	require.NoError(t, repo.CreateBatch(ctx, []*Prediction{old, compared, yearly, recent}, day))

	_, err := repo.RecordComparison(ctx, &Comparison{PredictionID: compared.ID, AccuracyScore: 0.5, ComparedAt: day})
	require.NoError(t, err)

	list, err := repo.ListUncompared(ctx, UncomparedQuery{
		CreatedBefore: map[Horizon]time.Time{HorizonWeek: day.AddDate(0, 0, 7)},
		Limit:         10,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, old.ID, list[0].ID)

	none, err := repo.ListUncompared(ctx, UncomparedQuery{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListUncompared_Pages(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	var preds []*Prediction
	for i := 0; i < 5; i++ {
		preds = append(preds, &Prediction{AnalysisDate: "2024-01-01", Text: "p", Horizon: HorizonWeek})
	}
	// Same created_at for all rows, so the id breaks ties
	require.NoError(t, repo.CreateBatch(ctx, preds, day))

	q := UncomparedQuery{
		CreatedBefore: map[Horizon]time.Time{HorizonWeek: day.Add(time.Hour)},
		Limit:         2,
	}
	seen := map[string]bool{}
	pages := 0
	for {
		page, err := repo.ListUncompared(ctx, q)
		require.NoError(t, err)
		pages++
		for _, p := range page {
			assert.False(t, seen[p.ID], "row returned twice")
			seen[p.ID] = true
		}
		if len(page) < q.Limit {
			break
		}
		last := page[len(page)-1]
		q.AfterCreated, q.AfterID = last.CreatedAt, last.ID
	}

	assert.Len(t, seen, 5)
	assert.Equal(t, 3, pages)
}

func TestAccuracyByHorizon(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	scores := map[Horizon][]float64{
		HorizonWeek:  {0.2, 0.4, 0.6},
		HorizonMonth: {0.9},
	}
	for h, values := range scores {
		for _, v := range values {
			p := &Prediction{AnalysisDate: "2024-01-01", Text: "p", Horizon: h}
			require.NoError(t, repo.CreateBatch(ctx, []*Prediction{p}, day))
			_, err := repo.RecordComparison(ctx, &Comparison{PredictionID: p.ID, AccuracyScore: v, ComparedAt: day})
			require.NoError(t, err)
		}
	}

	acc, err := repo.AccuracyByHorizon(ctx)
	require.NoError(t, err)
	require.Len(t, acc, 2)

	assert.Equal(t, HorizonWeek, acc[0].Horizon)
	assert.Equal(t, 3, acc[0].Count)
	assert.InDelta(t, 0.4, acc[0].Mean, 1e-9)
	assert.InDelta(t, 0.2, acc[0].StdDev, 1e-9)
	assert.InDelta(t, 0.2, acc[0].Min, 1e-9)
	assert.InDelta(t, 0.6, acc[0].Max, 1e-9)

	assert.Equal(t, HorizonMonth, acc[1].Horizon)
	assert.Equal(t, 0.0, acc[1].StdDev)
}

func TestSummarizeEmpty(t *testing.T) {
	assert.Equal(t, Accuracy{Horizon: HorizonYear}, Summarize(HorizonYear, nil))
}
