package jobs

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests exercise the kv-store worker loop against a real Redis.
// They skip unless TEST_KV_URL points at a disposable instance. Queue
// names are unique per test so runs never interfere.
func redisTestBackend(t *testing.T) *redisBackend {
	t.Helper()
	url := os.Getenv("TEST_KV_URL")
	if url == "" {
		t.Skip("TEST_KV_URL not set")
	}

	b, err := newRedisBackend(url, 1)
	require.NoError(t, err)
	t.Cleanup(func() { b.close() })
	return b
}

func TestRedisWorkerRetriesThenCompletes(t *testing.T) {
	b := redisTestBackend(t)
	task := "scan-" + uuid.New().String()
	ctx := context.Background()

	var attempts, completed, failed int32
	w, err := b.newWorker(task, func(ctx context.Context, job *Job) error {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return errors.New("transient failure")
		}
		return nil
	}, WorkerEvents{
		OnCompleted: func(*Job) { atomic.AddInt32(&completed, 1) },
		OnFailed:    func(*Job, error) { atomic.AddInt32(&failed, 1) },
	})
	require.NoError(t, err)
	defer w.Close()

	q, err := b.newQueue(task)
	require.NoError(t, err)
	_, err = q.Add(ctx, map[string]string{"batch": "b1"}, Options{MaxAttempts: 3})
	require.NoError(t, err)

	// First attempt fails, the retry lands in the delayed zset with a 1s
	// backoff and is promoted on the next cycle.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&completed) == 1
	}, 15*time.Second, 100*time.Millisecond, "retried job must complete")

	assert.EqualValues(t, 2, atomic.LoadInt32(&attempts))
	assert.EqualValues(t, 0, atomic.LoadInt32(&failed), "a retried success must not emit failed")
}

func TestRedisWorkerReleasesDedupKeyWhenExhausted(t *testing.T) {
	b := redisTestBackend(t)
	task := "scan-" + uuid.New().String()
	ctx := context.Background()

	var failed int32
	w, err := b.newWorker(task, func(context.Context, *Job) error {
		return errors.New("permanent failure")
	}, WorkerEvents{
		OnFailed: func(*Job, error) { atomic.AddInt32(&failed, 1) },
	})
	require.NoError(t, err)
	defer w.Close()

	q, err := b.newQueue(task)
	require.NoError(t, err)
	job1, err := q.Add(ctx, map[string]string{"batch": "b1"}, Options{MaxAttempts: 1, Key: "nightly"})
	require.NoError(t, err)

	// OnFailed fires after the dedup key is released.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&failed) == 1
	}, 15*time.Second, 100*time.Millisecond, "exactly one terminal failed event")

	job2, err := q.Add(ctx, map[string]string{"batch": "b2"}, Options{MaxAttempts: 1, Key: "nightly"})
	require.NoError(t, err)
	assert.NotEqual(t, job1.ID, job2.ID, "a fresh live job replaces the dead one")
}

func TestRedisQueueDedupCollapsesDuplicateAdds(t *testing.T) {
	b := redisTestBackend(t)
	task := "scan-" + uuid.New().String()
	ctx := context.Background()

	q, err := b.newQueue(task)
	require.NoError(t, err)

	job1, err := q.Add(ctx, map[string]string{"batch": "b1"}, Options{Key: "once"})
	require.NoError(t, err)
	job2, err := q.Add(ctx, map[string]string{"batch": "b1"}, Options{Key: "once"})
	require.NoError(t, err)

	assert.Equal(t, job1.ID, job2.ID, "at most one live job per key")

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Waiting)
}
