package di

import (
	"context"
	"testing"
	"time"

	"github.com/marketpulse/pulse/internal/config"
	"github.com/marketpulse/pulse/internal/content"
	"github.com/marketpulse/pulse/internal/llm"
	"github.com/marketpulse/pulse/internal/queue"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	t.Setenv("PULSE_DATA_DIR", t.TempDir())
	t.Setenv("PULSE_WORKER_COUNT", "2")
	t.Setenv("PULSE_WORKER_POLL_INTERVAL", "20ms")
	t.Setenv("PULSE_ARCHIVE_BUCKET", "")
	t.Setenv("PULSE_REDIS_URL", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

func TestWire(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	summaries := llm.ClientFunc(func(ctx context.Context, req llm.Request) (string, error) {
		return "Markets rallied.", nil
	})

	container, err := Wire(ctx, cfg, zerolog.Nop(), WithLLM(summaries))
	require.NoError(t, err)
	t.Cleanup(func() { container.Close(context.Background()) })

	assert.NotNil(t, container.DB)
	assert.NotNil(t, container.Queue)
	assert.NotNil(t, container.Trigger)
	assert.NotNil(t, container.Horizon)
	assert.NotNil(t, container.WorkerPool)
	assert.Nil(t, container.Archiver)
	assert.IsType(t, &queue.MemoryNotifier{}, container.Notifier)
	assert.ElementsMatch(t, queue.KnownTypes(), container.Registry.Types())

	names := make([]string, 0)
	for _, e := range container.Scheduler.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"horizon_sweep", "stuck_reaper", "wal_checkpoint"}, names)

	require.NoError(t, container.Start(ctx))

	item := &content.Item{Source: "wire", Title: "Stocks up"}
	require.NoError(t, container.ContentRepo.Create(ctx, item))
	id, err := container.Queue.Enqueue(ctx, queue.ContentProcessPayload{ContentID: item.ID}, queue.PriorityDefault, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := container.Queue.Get(ctx, id)
		return err == nil && job.Status == queue.StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	got, err := container.ContentRepo.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, content.StatusProcessed, got.Status)
	assert.Equal(t, "Markets rallied.", got.Summary)
}

func TestWire_NoWorkers(t *testing.T) {
	cfg := testConfig(t)
	cfg.Worker.Count = 0

	container, err := Wire(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close(context.Background())

	assert.Nil(t, container.WorkerPool)
	assert.NotNil(t, container.LLM)
	require.NoError(t, container.Start(context.Background()))
}

func TestWire_BadRedisURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisURL = "not-a-url"

	_, err := Wire(context.Background(), cfg, zerolog.Nop())
	assert.Error(t, err)
}
