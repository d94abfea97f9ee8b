package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aodunsi/docpipeline/constants"
	"github.com/aodunsi/docpipeline/internal/entity"
)

// MemoryQueue is the in-process fallback backend. It implements the exact
// Queue contract, including the atomic claim on Dequeue, so callers never need
// to know which backend is active.
type MemoryQueue struct {
	logger *slog.Logger

	mu    sync.Mutex
	jobs  map[string]*entity.Job
	order map[string]int64 // insertion sequence, breaks priority ties FIFO
	seq   int64
}

func NewMemoryQueue(logger *slog.Logger) *MemoryQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryQueue{
		logger: logger,
		jobs:   make(map[string]*entity.Job),
		order:  make(map[string]int64),
	}
}

func cloneJob(j *entity.Job) *entity.Job {
	cp := *j
	if j.Payload.Metadata != nil {
		cp.Payload.Metadata = make(map[string]any, len(j.Payload.Metadata))
		for k, v := range j.Payload.Metadata {
			cp.Payload.Metadata[k] = v
		}
	}
	return &cp
}

func (q *MemoryQueue) Enqueue(_ context.Context, jobType string, payload entity.JobPayload, priority, maxRetries int) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

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
	q.seq++
	q.jobs[job.ID] = job
	q.order[job.ID] = q.seq
	q.logger.Info("job enqueued in-process", "job_id", job.ID, "type", jobType, "priority", priority)
	return job.ID, nil
}

func (q *MemoryQueue) Dequeue(_ context.Context) (*entity.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var best *entity.Job
	for _, j := range q.jobs {
		if j.Status != constants.JobPending {
			continue
		}
		if best == nil ||
			j.Priority > best.Priority ||
			(j.Priority == best.Priority && q.order[j.ID] < q.order[best.ID]) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = constants.JobProcessing
	best.UpdatedAt = time.Now().UTC()
	return cloneJob(best), nil
}

func (q *MemoryQueue) Get(_ context.Context, jobID string) (*entity.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return nil, nil
	}
	return cloneJob(j), nil
}

func (q *MemoryQueue) UpdateStatus(_ context.Context, jobID string, status constants.JobStatus, errMsg string, result json.RawMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: not found", jobID)
	}
	j.Status = status
	if errMsg != "" {
		j.ErrorMessage = errMsg
	}
	if result != nil {
		j.Result = result
	}
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, jobID, errMsg string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok {
		return false, fmt.Errorf("job %s: not found", jobID)
	}
	if errMsg != "" {
		j.ErrorMessage = errMsg
	}
	if j.RetryCount >= j.MaxRetries {
		j.Status = constants.JobFailed
		j.UpdatedAt = time.Now().UTC()
		q.logger.Warn("job retries exhausted", "job_id", jobID, "retry_count", j.RetryCount)
		return false, nil
	}
	j.RetryCount++
	j.Priority--
	j.Status = constants.JobPending
	j.UpdatedAt = time.Now().UTC()
	q.seq++
	q.order[jobID] = q.seq
	return true, nil
}

func (q *MemoryQueue) Cancel(_ context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[jobID]
	if !ok || j.Status != constants.JobPending {
		return false, nil
	}
	j.Status = constants.JobCancelled
	j.UpdatedAt = time.Now().UTC()
	return true, nil
}
