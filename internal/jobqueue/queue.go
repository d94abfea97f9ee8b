// Package jobqueue provides the durable priority queue for document
// processing jobs. Two backends implement the same contract: a Redis-backed
// queue (sorted set ordered by priority plus per-job records with a bounded
// TTL) and an in-process queue used when Redis is unreachable. Callers depend
// only on the Queue interface; the backends are interchangeable.
package jobqueue

import (
	"context"
	"encoding/json"

	"github.com/aodunsi/docpipeline/constants"
	"github.com/aodunsi/docpipeline/internal/entity"
)

// JobTypeProcessDocument is the only job type the pipeline consumer handles.
const JobTypeProcessDocument = "process_document"

// Queue is the job queue contract shared by every backend.
type Queue interface {
	// Enqueue registers a new pending job and returns its id.
	Enqueue(ctx context.Context, jobType string, payload entity.JobPayload, priority, maxRetries int) (string, error)
	// Dequeue claims the highest-priority pending job, atomically marking it
	// processing so no other consumer can claim it. Returns (nil, nil) when
	// nothing is pending.
	Dequeue(ctx context.Context) (*entity.Job, error)
	// Get returns a job by id, or (nil, nil) if unknown or expired.
	Get(ctx context.Context, jobID string) (*entity.Job, error)
	// UpdateStatus overwrites the job's status and optional error/result.
	UpdateStatus(ctx context.Context, jobID string, status constants.JobStatus, errMsg string, result json.RawMessage) error
	// Retry increments retry_count and records errMsg on the job. If retries
	// remain the job is re-marked pending at slightly lower priority and true
	// is returned; otherwise the job is terminally failed and false is
	// returned. The error is written in the same step as the requeue so no
	// later status write can race a worker that already claimed the job again.
	Retry(ctx context.Context, jobID, errMsg string) (bool, error)
	// Cancel marks a job cancelled if it has not been claimed yet.
	Cancel(ctx context.Context, jobID string) (bool, error)
}

func marshalJob(j *entity.Job) ([]byte, error) { return json.Marshal(j) }

func unmarshalJob(b []byte) (*entity.Job, error) {
	var j entity.Job
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, err
	}
	return &j, nil
}
