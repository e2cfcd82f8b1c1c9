// Package queue is a small durable job queue on Redis. Jobs are JSON blobs
// on a ready list; failed jobs are parked on a scheduled zset until their
// backoff expires; jobs that exhaust their retry budget land on a dead list
// where operators can inspect them.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const pumpInterval = 500 * time.Millisecond

// RetryPolicy bounds how often a failing job is retried. Backoff holds the
// delay before each retry; the last entry repeats when attempts outnumber
// entries.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

// DefaultPolicy mirrors the posting retry budget: five tries with
// lengthening gaps.
var DefaultPolicy = RetryPolicy{
	MaxAttempts: 5,
	Backoff: []time.Duration{
		30 * time.Second,
		time.Minute,
		2 * time.Minute,
		5 * time.Minute,
		10 * time.Minute,
	},
}

// Job is the unit of work carried through Redis.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"max_attempts"`
	BackoffSecs []int64         `json:"backoff_secs"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// Handler processes one job payload. Returning an error retries the job
// under its policy unless the error is wrapped with Abort.
type Handler func(ctx context.Context, payload json.RawMessage) error

// Enqueuer is the part of the queue that submits work. Components that only
// fan out jobs depend on this rather than on the full queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload any, policy RetryPolicy) (string, error)
}

type abortError struct{ err error }

func (a abortError) Error() string { return a.err.Error() }
func (a abortError) Unwrap() error { return a.err }

// Abort marks err as permanent: the job goes straight to the dead list
// without further retries.
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return abortError{err: err}
}

// IsAbort reports whether err carries an Abort marker.
func IsAbort(err error) bool {
	var a abortError
	return errors.As(err, &a)
}

type Queue struct {
	rdb      *redis.Client
	name     string
	handlers map[string]Handler
	mu       sync.RWMutex
}

func New(rdb *redis.Client, name string) *Queue {
	return &Queue{
		rdb:      rdb,
		name:     name,
		handlers: make(map[string]Handler),
	}
}

func (q *Queue) readyKey() string     { return q.name + ":ready" }
func (q *Queue) scheduledKey() string { return q.name + ":scheduled" }
func (q *Queue) deadKey() string      { return q.name + ":dead" }

// Handle registers the handler for a job type. Must be called before Run.
func (q *Queue) Handle(jobType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = h
}

// Enqueue submits one job. Submission never blocks on the job's execution.
func (q *Queue) Enqueue(ctx context.Context, jobType string, payload any, policy RetryPolicy) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s payload: %w", jobType, err)
	}

	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	backoff := make([]int64, 0, len(policy.Backoff))
	for _, d := range policy.Backoff {
		backoff = append(backoff, int64(d.Seconds()))
	}

	job := Job{
		ID:          uuid.NewString(),
		Type:        jobType,
		Payload:     raw,
		MaxAttempts: policy.MaxAttempts,
		BackoffSecs: backoff,
		EnqueuedAt:  time.Now().UTC(),
	}

	blob, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	if err := q.rdb.LPush(ctx, q.readyKey(), blob).Err(); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	return job.ID, nil
}

// Run consumes jobs with the given number of workers until ctx is done.
func (q *Queue) Run(ctx context.Context, workers int) {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		q.pumpScheduled(ctx)
	}()

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.workerLoop(ctx)
		}()
	}

	wg.Wait()
}

func (q *Queue) workerLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		res, err := q.rdb.BRPop(ctx, 2*time.Second, q.readyKey()).Result()
		if err != nil {
			if err == redis.Nil || errors.Is(err, context.Canceled) {
				continue
			}
			log.Printf("queue %s: pop: %v", q.name, err)
			time.Sleep(time.Second)
			continue
		}
		if len(res) < 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			log.Printf("queue %s: bad job blob: %v", q.name, err)
			continue
		}
		q.process(ctx, job)
	}
}

func (q *Queue) process(ctx context.Context, job Job) {
	q.mu.RLock()
	handler, ok := q.handlers[job.Type]
	q.mu.RUnlock()

	if !ok {
		log.Printf("queue %s: no handler for job type %q, burying %s", q.name, job.Type, job.ID)
		q.bury(ctx, job, fmt.Errorf("no handler registered"))
		return
	}

	err := handler(ctx, job.Payload)
	if err == nil {
		return
	}

	job.Attempt++
	job.LastError = err.Error()

	if IsAbort(err) {
		log.Printf("queue %s: job %s (%s) failed permanently: %v", q.name, job.ID, job.Type, err)
		q.bury(ctx, job, err)
		return
	}

	if job.Attempt >= job.MaxAttempts {
		log.Printf("queue %s: job %s (%s) exhausted %d attempts: %v", q.name, job.ID, job.Type, job.Attempt, err)
		q.bury(ctx, job, err)
		return
	}

	delay := q.backoffFor(job)
	log.Printf("queue %s: job %s (%s) attempt %d/%d failed, retrying in %s: %v",
		q.name, job.ID, job.Type, job.Attempt, job.MaxAttempts, delay, err)

	blob, merr := json.Marshal(job)
	if merr != nil {
		log.Printf("queue %s: marshal retry job %s: %v", q.name, job.ID, merr)
		return
	}
	due := float64(time.Now().Add(delay).Unix())
	if zerr := q.rdb.ZAdd(ctx, q.scheduledKey(), redis.Z{Score: due, Member: blob}).Err(); zerr != nil {
		log.Printf("queue %s: schedule retry for %s: %v", q.name, job.ID, zerr)
	}
}

func (q *Queue) backoffFor(job Job) time.Duration {
	if len(job.BackoffSecs) == 0 {
		return 30 * time.Second
	}
	idx := job.Attempt - 1
	if idx >= len(job.BackoffSecs) {
		idx = len(job.BackoffSecs) - 1
	}
	return time.Duration(job.BackoffSecs[idx]) * time.Second
}

func (q *Queue) bury(ctx context.Context, job Job, cause error) {
	job.LastError = cause.Error()
	blob, err := json.Marshal(job)
	if err != nil {
		log.Printf("queue %s: marshal dead job %s: %v", q.name, job.ID, err)
		return
	}
	if err := q.rdb.LPush(ctx, q.deadKey(), blob).Err(); err != nil {
		log.Printf("queue %s: bury %s: %v", q.name, job.ID, err)
	}
}

// pumpScheduled moves due retries from the scheduled zset to the ready
// list. ZRem before LPush so concurrent pumps cannot double-deliver.
func (q *Queue) pumpScheduled(ctx context.Context) {
	ticker := time.NewTicker(pumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := fmt.Sprintf("%d", time.Now().Unix())
			members, err := q.rdb.ZRangeByScore(ctx, q.scheduledKey(), &redis.ZRangeBy{
				Min: "-inf", Max: now, Count: 100,
			}).Result()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Printf("queue %s: pump: %v", q.name, err)
				}
				continue
			}
			for _, m := range members {
				removed, err := q.rdb.ZRem(ctx, q.scheduledKey(), m).Result()
				if err != nil || removed == 0 {
					continue
				}
				if err := q.rdb.LPush(ctx, q.readyKey(), m).Err(); err != nil {
					log.Printf("queue %s: pump push: %v", q.name, err)
				}
			}
		}
	}
}

// DeadJobs returns up to n jobs from the dead-letter list, newest first.
func (q *Queue) DeadJobs(ctx context.Context, n int64) ([]Job, error) {
	blobs, err := q.rdb.LRange(ctx, q.deadKey(), 0, n-1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(blobs))
	for _, b := range blobs {
		var job Job
		if err := json.Unmarshal([]byte(b), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
