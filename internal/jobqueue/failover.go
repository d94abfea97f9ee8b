package jobqueue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/aodunsi/docpipeline/constants"
	"github.com/aodunsi/docpipeline/internal/entity"
)

// FailoverQueue fronts a durable backend with the in-process fallback so
// Enqueue always succeeds even while Redis is down. Reads consult the primary
// first, then the fallback; jobs parked in the fallback are served from there
// until they drain.
type FailoverQueue struct {
	primary  Queue
	fallback Queue
	logger   *slog.Logger
}

func NewFailoverQueue(primary, fallback Queue, logger *slog.Logger) *FailoverQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverQueue{primary: primary, fallback: fallback, logger: logger}
}

func (q *FailoverQueue) Enqueue(ctx context.Context, jobType string, payload entity.JobPayload, priority, maxRetries int) (string, error) {
	id, err := q.primary.Enqueue(ctx, jobType, payload, priority, maxRetries)
	if err == nil {
		return id, nil
	}
	q.logger.Warn("durable queue unavailable, enqueueing in-process", "error", err)
	return q.fallback.Enqueue(ctx, jobType, payload, priority, maxRetries)
}

func (q *FailoverQueue) Dequeue(ctx context.Context) (*entity.Job, error) {
	job, err := q.primary.Dequeue(ctx)
	if err != nil {
		q.logger.Warn("durable queue dequeue failed, trying in-process", "error", err)
		return q.fallback.Dequeue(ctx)
	}
	if job != nil {
		return job, nil
	}
	return q.fallback.Dequeue(ctx)
}

func (q *FailoverQueue) Get(ctx context.Context, jobID string) (*entity.Job, error) {
	job, err := q.primary.Get(ctx, jobID)
	if err == nil && job != nil {
		return job, nil
	}
	if err != nil {
		q.logger.Warn("durable queue get failed, trying in-process", "job_id", jobID, "error", err)
	}
	return q.fallback.Get(ctx, jobID)
}

func (q *FailoverQueue) UpdateStatus(ctx context.Context, jobID string, status constants.JobStatus, errMsg string, result json.RawMessage) error {
	if err := q.primary.UpdateStatus(ctx, jobID, status, errMsg, result); err == nil {
		return nil
	}
	return q.fallback.UpdateStatus(ctx, jobID, status, errMsg, result)
}

func (q *FailoverQueue) Retry(ctx context.Context, jobID, errMsg string) (bool, error) {
	if job, err := q.primary.Get(ctx, jobID); err == nil && job != nil {
		return q.primary.Retry(ctx, jobID, errMsg)
	}
	return q.fallback.Retry(ctx, jobID, errMsg)
}

func (q *FailoverQueue) Cancel(ctx context.Context, jobID string) (bool, error) {
	if job, err := q.primary.Get(ctx, jobID); err == nil && job != nil {
		return q.primary.Cancel(ctx, jobID)
	}
	return q.fallback.Cancel(ctx, jobID)
}
