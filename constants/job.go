package constants

// JobStatus is the canonical status for queued processing jobs.
type JobStatus string

// Stable values (serialized into the job record as-is).
const (
	JobPending    JobStatus = "pending"    // enqueued, claimable
	JobQueued     JobStatus = "queued"     // accepted but not yet claimable
	JobProcessing JobStatus = "processing" // claimed by a consumer
	JobCompleted  JobStatus = "completed"  // terminal success
	JobFailed     JobStatus = "failed"     // terminal failure (retries exhausted)
	JobRetrying   JobStatus = "retrying"   // transiently marked while re-enqueueing
	JobCancelled  JobStatus = "cancelled"  // terminal; only reachable before a claim
)

// Terminal reports whether no further transitions are allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}
