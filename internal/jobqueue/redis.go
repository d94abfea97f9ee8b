package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	r "github.com/redis/go-redis/v9"

	"github.com/aodunsi/docpipeline/constants"
	"github.com/aodunsi/docpipeline/internal/entity"
)

const (
	queueKey  = "document_processing_queue"
	jobPrefix = "doc_job:"
)

// RedisQueue is the durable backend: job ids live in a sorted set scored by
// priority, job records in keyed entries with a bounded TTL so storage growth
// stays bounded.
type RedisQueue struct {
	rdb    *r.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisQueue(rdb *r.Client, ttl time.Duration, logger *slog.Logger) *RedisQueue {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{rdb: rdb, ttl: ttl, logger: logger}
}

func (q *RedisQueue) jobKey(id string) string { return jobPrefix + id }

func (q *RedisQueue) saveJob(ctx context.Context, j *entity.Job) error {
	j.UpdatedAt = time.Now().UTC()
	b, err := marshalJob(j)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return q.rdb.Set(ctx, q.jobKey(j.ID), b, q.ttl).Err()
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobType string, payload entity.JobPayload, priority, maxRetries int) (string, error) {
	now := time.Now().UTC()
	job := &entity.Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Payload:    payload,
		Status:     constants.JobPending,
		Priority:   priority,
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := q.saveJob(ctx, job); err != nil {
		return "", fmt.Errorf("store job record: %w", err)
	}
	if err := q.rdb.ZAdd(ctx, queueKey, r.Z{Score: float64(priority), Member: job.ID}).Err(); err != nil {
		return "", fmt.Errorf("add to queue: %w", err)
	}
	q.logger.Info("job enqueued", "job_id", job.ID, "type", jobType, "priority", priority)
	return job.ID, nil
}

// Dequeue pops the highest-score member; ZPOPMAX removes atomically, so two
// consumers can never claim the same job id. Ids whose record expired or was
// cancelled are skipped.
func (q *RedisQueue) Dequeue(ctx context.Context) (*entity.Job, error) {
	for {
		popped, err := q.rdb.ZPopMax(ctx, queueKey, 1).Result()
		if err != nil {
			return nil, fmt.Errorf("pop queue: %w", err)
		}
		if len(popped) == 0 {
			return nil, nil
		}
		id, _ := popped[0].Member.(string)
		job, err := q.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job == nil {
			q.logger.Warn("queued job record missing, skipping", "job_id", id)
			continue
		}
		if job.Status != constants.JobPending {
			q.logger.Debug("skipping non-pending job", "job_id", id, "status", job.Status)
			continue
		}
		job.Status = constants.JobProcessing
		if err := q.saveJob(ctx, job); err != nil {
			return nil, fmt.Errorf("mark processing: %w", err)
		}
		return job, nil
	}
}

func (q *RedisQueue) Get(ctx context.Context, jobID string) (*entity.Job, error) {
	b, err := q.rdb.Get(ctx, q.jobKey(jobID)).Bytes()
	if errors.Is(err, r.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return unmarshalJob(b)
}

func (q *RedisQueue) UpdateStatus(ctx context.Context, jobID string, status constants.JobStatus, errMsg string, result json.RawMessage) error {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("job %s: not found", jobID)
	}
	job.Status = status
	if errMsg != "" {
		job.ErrorMessage = errMsg
	}
	if result != nil {
		job.Result = result
	}
	return q.saveJob(ctx, job)
}

func (q *RedisQueue) Retry(ctx context.Context, jobID, errMsg string) (bool, error) {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, fmt.Errorf("job %s: not found", jobID)
	}
	if errMsg != "" {
		job.ErrorMessage = errMsg
	}
	if job.RetryCount >= job.MaxRetries {
		job.Status = constants.JobFailed
		if err := q.saveJob(ctx, job); err != nil {
			return false, err
		}
		q.logger.Warn("job retries exhausted", "job_id", jobID, "retry_count", job.RetryCount)
		return false, nil
	}
	job.RetryCount++
	// Requeued at reduced priority so retries do not starve fresh jobs.
	job.Priority--
	job.Status = constants.JobPending
	if err := q.saveJob(ctx, job); err != nil {
		return false, err
	}
	if err := q.rdb.ZAdd(ctx, queueKey, r.Z{Score: float64(job.Priority), Member: job.ID}).Err(); err != nil {
		return false, fmt.Errorf("requeue: %w", err)
	}
	q.logger.Info("job requeued for retry", "job_id", jobID, "retry_count", job.RetryCount, "priority", job.Priority)
	return true, nil
}

func (q *RedisQueue) Cancel(ctx context.Context, jobID string) (bool, error) {
	job, err := q.Get(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job == nil || job.Status != constants.JobPending {
		return false, nil
	}
	if err := q.rdb.ZRem(ctx, queueKey, jobID).Err(); err != nil {
		return false, fmt.Errorf("remove from queue: %w", err)
	}
	job.Status = constants.JobCancelled
	if err := q.saveJob(ctx, job); err != nil {
		return false, err
	}
	return true, nil
}

// Ping reports whether the Redis backend is reachable.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}
