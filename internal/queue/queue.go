package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"k8s.io/apimachinery/pkg/util/wait"

	pipelineerrors "github.com/korrelate/triangulate/internal/errors"
)

func jobKey(id string) string           { return "job:" + id }
func readyKey(queue string) string      { return "queue:" + queue + ":ready" }
func activeKey(queue string) string     { return "queue:" + queue + ":active" }
func deadLetterKey(queue string) string { return "queue:" + queue + ":dead-letter" }
func pendingChildrenKey(id string) string { return jobKey(id) + ":pending_children" }
func childrenKey(id string) string      { return jobKey(id) + ":children" }

// Queue is a Redis-backed implementation of the job queue contract.
type Queue struct {
	rdb           *redis.Client
	defaultMax    int
	backoffBase   time.Duration
	jobTimeout    time.Duration
}

func New(rdb *redis.Client, defaultMaxAttempts int, backoffBase, jobTimeout time.Duration) *Queue {
	return &Queue{
		rdb:         rdb,
		defaultMax:  defaultMaxAttempts,
		backoffBase: backoffBase,
		jobTimeout:  jobTimeout,
	}
}

// NewJobOptions configures Enqueue.
type NewJobOptions struct {
	ID          string // optional; generated if empty. A repeated ID makes Enqueue idempotent.
	RunID       string
	Queue       string
	Type        JobType
	Payload     any
	Paused      bool
	ParentID    string
	MaxAttempts int
	Delay       time.Duration
}

// Enqueue creates a job row and, unless Paused, makes it immediately
// deliverable. A job created with a ParentID is linked as a child: the
// parent's pending-children counter is incremented so Ack can later gate
// the parent on every child completing.
func (q *Queue) Enqueue(ctx context.Context, opts NewJobOptions) (*Job, error) {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	} else if existing, err := q.Get(ctx, id); err == nil {
		// A caller-supplied id (e.g. the outbox publisher's idempotency
		// key) that already names a job means this Enqueue is a
		// redelivery of an already-published event: return the existing
		// job instead of recreating it.
		return existing, nil
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = q.defaultMax
	}
	payload, err := json.Marshal(opts.Payload)
	if err != nil {
		return nil, pipelineerrors.NewInvalidPayloadError("job payload is not JSON-serializable").WithDetails(err.Error())
	}

	now := time.Now().UTC()
	status := StatusWaiting
	if opts.Paused {
		status = StatusCreated
	}

	job := &Job{
		ID:          id,
		Queue:       opts.Queue,
		Type:        opts.Type,
		Payload:     payload,
		Status:      status,
		MaxAttempts: maxAttempts,
		ParentID:    opts.ParentID,
		RunID:       opts.RunID,
		CreatedAt:   now,
		AvailableAt: now.Add(opts.Delay),
	}

	if err := q.save(ctx, job); err != nil {
		return nil, err
	}

	if opts.ParentID != "" {
		if err := q.rdb.Incr(ctx, pendingChildrenKey(opts.ParentID)).Err(); err != nil {
			return nil, pipelineerrors.NewTransientError("queue increment pending children", err)
		}
		if err := q.rdb.SAdd(ctx, childrenKey(opts.ParentID), id).Err(); err != nil {
			return nil, pipelineerrors.NewTransientError("queue track child", err)
		}
	}

	if !opts.Paused {
		if err := q.makeReady(ctx, job); err != nil {
			return nil, err
		}
	}
	return job, nil
}

func (q *Queue) makeReady(ctx context.Context, job *Job) error {
	job.Status = StatusWaiting
	if err := q.save(ctx, job); err != nil {
		return err
	}
	score := float64(job.AvailableAt.Unix())
	if err := q.rdb.ZAdd(ctx, readyKey(job.Queue), redis.Z{Score: score, Member: job.ID}).Err(); err != nil {
		return pipelineerrors.NewTransientError("queue make ready", err)
	}
	return nil
}

func (q *Queue) save(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return pipelineerrors.NewInternal(err)
	}
	if err := q.rdb.Set(ctx, jobKey(job.ID), data, 0).Err(); err != nil {
		return pipelineerrors.NewTransientError("queue save job", err)
	}
	return nil
}

// Resume moves every paused (StatusCreated) job in ids onto the
// deliverable ready set. Scout calls this once the manifest is durably
// written (spec.md §4.1 steps 4-6: "pause-resume... makes the manifest an
// appearing-atomic precondition").
func (q *Queue) Resume(ctx context.Context, ids []string) error {
	for _, id := range ids {
		job, err := q.Get(ctx, id)
		if err != nil {
			return err
		}
		if job.Status != StatusCreated {
			continue
		}
		if err := q.makeReady(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// Get loads a job by id.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	data, err := q.rdb.Get(ctx, jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, pipelineerrors.NewNotFoundError(fmt.Sprintf("job %q", id))
	}
	if err != nil {
		return nil, pipelineerrors.NewTransientError("queue get job", err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, pipelineerrors.NewInvariantViolationError("corrupt job record").WithDetails(err.Error())
	}
	return &job, nil
}

// Dequeue pops the next deliverable job from queueName whose
// AvailableAt has elapsed, marking it active with a visibility deadline
// of q.jobTimeout. Returns (nil, nil) if nothing is ready.
func (q *Queue) Dequeue(ctx context.Context, queueName string) (*Job, error) {
	now := time.Now().UTC()
	ids, err := q.rdb.ZRangeByScore(ctx, readyKey(queueName), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.Unix()), Count: 1,
	}).Result()
	if err != nil {
		return nil, pipelineerrors.NewTransientError("queue dequeue", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	id := ids[0]

	removed, err := q.rdb.ZRem(ctx, readyKey(queueName), id).Result()
	if err != nil {
		return nil, pipelineerrors.NewTransientError("queue dequeue remove", err)
	}
	if removed == 0 {
		// another worker raced us to this job
		return nil, nil
	}

	job, err := q.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Status = StatusActive
	if err := q.save(ctx, job); err != nil {
		return nil, err
	}
	deadline := now.Add(q.jobTimeout)
	if err := q.rdb.ZAdd(ctx, activeKey(queueName), redis.Z{Score: float64(deadline.Unix()), Member: id}).Err(); err != nil {
		return nil, pipelineerrors.NewTransientError("queue track active job", err)
	}
	return job, nil
}

// Ack marks job completed and, if it has a parent, decrements the
// parent's pending-children counter; when it reaches zero the parent
// transitions from waiting-children to active-eligible (spec.md §4.8).
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	job.Status = StatusCompleted
	if err := q.save(ctx, job); err != nil {
		return err
	}
	if err := q.rdb.ZRem(ctx, activeKey(job.Queue), job.ID).Err(); err != nil {
		return pipelineerrors.NewTransientError("queue ack remove active", err)
	}
	if job.ParentID != "" {
		return q.completeChild(ctx, job.ParentID)
	}
	return nil
}

func (q *Queue) completeChild(ctx context.Context, parentID string) error {
	remaining, err := q.rdb.Decr(ctx, pendingChildrenKey(parentID)).Result()
	if err != nil {
		return pipelineerrors.NewTransientError("queue decrement pending children", err)
	}
	if remaining > 0 {
		return nil
	}
	parent, err := q.Get(ctx, parentID)
	if err != nil {
		return err
	}
	if parent.Status == StatusDeadLetter || parent.Status == StatusFailed {
		return nil
	}
	return q.makeReady(ctx, parent)
}

// Fail records a failed attempt. If attempts remain, the job is
// redelivered after an exponential backoff; otherwise it is
// dead-lettered and, per spec.md §4.8, any parent is dead-lettered too.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) error {
	job.Attempt++
	job.LastError = cause.Error()
	if err := q.rdb.ZRem(ctx, activeKey(job.Queue), job.ID).Err(); err != nil {
		return pipelineerrors.NewTransientError("queue fail remove active", err)
	}

	if job.Attempt < job.MaxAttempts {
		delay := q.backoffFor(job.Attempt, job.MaxAttempts)
		job.Status = StatusWaiting
		job.AvailableAt = time.Now().UTC().Add(delay)
		if err := q.save(ctx, job); err != nil {
			return err
		}
		if err := q.rdb.ZAdd(ctx, readyKey(job.Queue), redis.Z{
			Score: float64(job.AvailableAt.Unix()), Member: job.ID,
		}).Err(); err != nil {
			return pipelineerrors.NewTransientError("queue reschedule", err)
		}
		return nil
	}

	return q.deadLetter(ctx, job)
}

func (q *Queue) deadLetter(ctx context.Context, job *Job) error {
	job.Status = StatusDeadLetter
	if err := q.save(ctx, job); err != nil {
		return err
	}
	if err := q.rdb.SAdd(ctx, deadLetterKey(job.Queue), job.ID).Err(); err != nil {
		return pipelineerrors.NewTransientError("queue dead-letter", err)
	}
	if job.ParentID != "" {
		parent, err := q.Get(ctx, job.ParentID)
		if err != nil {
			return err
		}
		if parent.Status == StatusDeadLetter {
			return nil
		}
		parent.LastError = fmt.Sprintf("child job %s was dead-lettered", job.ID)
		return q.deadLetter(ctx, parent)
	}
	return nil
}

// DeadLetters returns every job currently dead-lettered on queueName, for
// the operator "failed-jobs" view (spec.md §7).
func (q *Queue) DeadLetters(ctx context.Context, queueName string) ([]*Job, error) {
	ids, err := q.rdb.SMembers(ctx, deadLetterKey(queueName)).Result()
	if err != nil {
		return nil, pipelineerrors.NewTransientError("queue list dead letters", err)
	}
	jobs := make([]*Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.Get(ctx, id)
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// ReapExpired finds active jobs whose visibility deadline has elapsed
// without an Ack and fails them, triggering the normal retry/dead-letter
// path (spec.md §5 "Cancellation and timeouts").
func (q *Queue) ReapExpired(ctx context.Context, queueName string) (int, error) {
	now := time.Now().UTC()
	ids, err := q.rdb.ZRangeByScore(ctx, activeKey(queueName), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return 0, pipelineerrors.NewTransientError("queue reap expired", err)
	}
	n := 0
	for _, id := range ids {
		job, err := q.Get(ctx, id)
		if err != nil {
			continue
		}
		if err := q.Fail(ctx, job, pipelineerrors.NewTimeoutError(fmt.Sprintf("job %s exceeded its timeout", id))); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// PendingChildren returns how many of parentID's children have not yet
// completed.
func (q *Queue) PendingChildren(ctx context.Context, parentID string) (int, error) {
	v, err := q.rdb.Get(ctx, pendingChildrenKey(parentID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, pipelineerrors.NewTransientError("queue read pending children", err)
	}
	return v, nil
}

// backoffSchedule builds the exponential backoff used by Fail, grounded
// on k8s.io/apimachinery/pkg/util/wait's Backoff shape.
func backoffSchedule(base time.Duration, maxAttempts int) wait.Backoff {
	return wait.Backoff{
		Duration: base,
		Factor:   2.0,
		Steps:    maxAttempts,
	}
}

// backoffFor computes the redelivery delay for the given attempt by
// stepping a fresh wait.Backoff schedule attempt times: Step() returns
// base on the first call and multiplies by Factor on each subsequent
// call, so the Nth call yields base*2^(N-1), the same curve every
// attempt observes across retries of the same job.
func (q *Queue) backoffFor(attempt, maxAttempts int) time.Duration {
	backoff := backoffSchedule(q.backoffBase, maxAttempts)
	var delay time.Duration
	for i := 0; i < attempt; i++ {
		delay = backoff.Step()
	}
	return delay
}
