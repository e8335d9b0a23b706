package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marketpulse/pulse/internal/queue"
	testutil "github.com/marketpulse/pulse/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func (m *memoryUploader) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	if m.err != nil {
		return m.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[key] = data
	return nil
}

func decodeObject(t *testing.T, data []byte) []queue.Job {
	t.Helper()

	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer gz.Close()

	var jobs []queue.Job
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		var job queue.Job
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &job))
		jobs = append(jobs, job)
	}
	require.NoError(t, scanner.Err())
	return jobs
}

var epoch = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*queue.Service, *testutil.Clock) {
	t.Helper()

	db, cleanup := testutil.NewTestDB(t, "archive")
	t.Cleanup(cleanup)

	clock := testutil.NewClock(epoch)
	q := queue.NewService(queue.NewStore(db), queue.Config{MaxAttempts: 1}, zerolog.Nop(), queue.WithClock(clock.Now))
	return q, clock
}

func finish(t *testing.T, q *queue.Service, fail bool) string {
	t.Helper()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, queue.ContentProcessPayload{ContentID: "c"}, queue.PriorityDefault, 0)
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)
	if fail {
		require.NoError(t, q.Fail(ctx, id, errors.New("boom")))
	} else {
		require.NoError(t, q.Complete(ctx, id))
	}
	return id
}

func TestArchiver_ExportsAndDeletesExpiredJobs(t *testing.T) {
	q, clock := setup(t)
	ctx := context.Background()

	completed := finish(t, q, false)
	failed := finish(t, q, true)

	clock.Advance(10 * 24 * time.Hour)
	recent := finish(t, q, false)
	pending, err := q.Enqueue(ctx, queue.ContentProcessPayload{ContentID: "p"}, queue.PriorityDefault, 0)
	require.NoError(t, err)

	up := &memoryUploader{}
	a := New(q, up, Config{Prefix: "jobs", Retention: 7 * 24 * time.Hour, BatchSize: 10}, clock.Now, zerolog.Nop())

	result, err := a.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Archived)
	require.Len(t, result.Objects, 1)
	assert.True(t, strings.HasPrefix(result.Objects[0], "jobs/2024/03/11/jobs-"))
	assert.True(t, strings.HasSuffix(result.Objects[0], ".jsonl.gz"))

	archived := decodeObject(t, up.objects[result.Objects[0]])
	require.Len(t, archived, 2)
	assert.ElementsMatch(t, []string{completed, failed}, []string{archived[0].ID, archived[1].ID})

	_, err = q.Get(ctx, completed)
	assert.ErrorIs(t, err, queue.ErrNotFound)
	_, err = q.Get(ctx, failed)
	assert.ErrorIs(t, err, queue.ErrNotFound)

	for _, id := range []string{recent, pending} {
		_, err := q.Get(ctx, id)
		assert.NoError(t, err, id)
	}
}

func TestArchiver_SplitsIntoBatches(t *testing.T) {
	q, clock := setup(t)
	for i := 0; i < 5; i++ {
		finish(t, q, false)
	}
	clock.Advance(48 * time.Hour)

	up := &memoryUploader{}
	a := New(q, up, Config{Retention: 24 * time.Hour, BatchSize: 2}, clock.Now, zerolog.Nop())

	result, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Archived)
	assert.Len(t, result.Objects, 3)
	assert.Len(t, up.objects, 3)
}

func TestArchiver_UploadFailureKeepsJobs(t *testing.T) {
	q, clock := setup(t)
	id := finish(t, q, false)
	clock.Advance(48 * time.Hour)

	a := New(q, &memoryUploader{err: errors.New("bucket unreachable")}, Config{Retention: time.Hour}, clock.Now, zerolog.Nop())

	_, err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket unreachable")

	job, err := q.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, queue.StatusCompleted, job.Status)
}

func TestArchiver_NothingToDo(t *testing.T) {
	q, clock := setup(t)
	finish(t, q, false)

	up := &memoryUploader{}
	result, err := New(q, up, Config{Retention: time.Hour}, clock.Now, zerolog.Nop()).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Archived)
	assert.Empty(t, up.objects)
}
