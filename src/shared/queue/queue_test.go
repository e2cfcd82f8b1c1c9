package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testQueue(t *testing.T) (*Queue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "test"), rdb
}

// immediate retries: zero backoff so the pump re-delivers right away.
func immediatePolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, Backoff: []time.Duration{0}}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestEnqueuePushesToReadyList(t *testing.T) {
	q, rdb := testQueue(t)

	id, err := q.Enqueue(context.Background(), "noop", map[string]int{"n": 1}, DefaultPolicy)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	n, err := rdb.LLen(context.Background(), "test:ready").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestWorkerProcessesJob(t *testing.T) {
	q, _ := testQueue(t)

	var got atomic.Int64
	q.Handle("count", func(ctx context.Context, raw json.RawMessage) error {
		var pl struct {
			N int64 `json:"n"`
		}
		if err := json.Unmarshal(raw, &pl); err != nil {
			return Abort(err)
		}
		got.Add(pl.N)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx, 2)

	_, err := q.Enqueue(ctx, "count", map[string]int{"n": 7}, DefaultPolicy)
	require.NoError(t, err)

	waitFor(t, func() bool { return got.Load() == 7 })
}

func TestRetryThenSucceed(t *testing.T) {
	q, _ := testQueue(t)

	var calls atomic.Int64
	q.Handle("flaky", func(ctx context.Context, raw json.RawMessage) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx, 1)

	_, err := q.Enqueue(ctx, "flaky", struct{}{}, immediatePolicy(5))
	require.NoError(t, err)

	waitFor(t, func() bool { return calls.Load() == 3 })
}

func TestExhaustedRetriesLandOnDeadList(t *testing.T) {
	q, _ := testQueue(t)

	var calls atomic.Int64
	q.Handle("doomed", func(ctx context.Context, raw json.RawMessage) error {
		calls.Add(1)
		return errors.New("always fails")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx, 1)

	_, err := q.Enqueue(ctx, "doomed", struct{}{}, immediatePolicy(3))
	require.NoError(t, err)

	waitFor(t, func() bool {
		jobs, err := q.DeadJobs(ctx, 10)
		return err == nil && len(jobs) == 1
	})

	assert.EqualValues(t, 3, calls.Load())

	jobs, err := q.DeadJobs(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "doomed", jobs[0].Type)
	assert.Equal(t, "always fails", jobs[0].LastError)
	assert.Equal(t, 3, jobs[0].Attempt)
}

func TestAbortSkipsRetries(t *testing.T) {
	q, _ := testQueue(t)

	var calls atomic.Int64
	q.Handle("fatal", func(ctx context.Context, raw json.RawMessage) error {
		calls.Add(1)
		return Abort(errors.New("bad payload"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx, 1)

	_, err := q.Enqueue(ctx, "fatal", struct{}{}, immediatePolicy(5))
	require.NoError(t, err)

	waitFor(t, func() bool {
		jobs, err := q.DeadJobs(ctx, 10)
		return err == nil && len(jobs) == 1
	})
	assert.EqualValues(t, 1, calls.Load())
}

func TestUnknownJobTypeIsBuried(t *testing.T) {
	q, _ := testQueue(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx, 1)

	_, err := q.Enqueue(ctx, "mystery", struct{}{}, DefaultPolicy)
	require.NoError(t, err)

	waitFor(t, func() bool {
		jobs, err := q.DeadJobs(ctx, 10)
		return err == nil && len(jobs) == 1
	})
}

func TestIsAbort(t *testing.T) {
	assert.True(t, IsAbort(Abort(errors.New("x"))))
	assert.True(t, IsAbort(Abort(errors.New("x"))))
	assert.False(t, IsAbort(errors.New("x")))
	assert.NoError(t, Abort(nil))
}
