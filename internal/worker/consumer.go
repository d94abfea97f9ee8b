// Package worker consumes document processing jobs from the queue and hands
// them to the pipeline orchestrator.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aodunsi/docpipeline/constants"
	"github.com/aodunsi/docpipeline/internal/common"
	"github.com/aodunsi/docpipeline/internal/jobqueue"
	"github.com/aodunsi/docpipeline/internal/pipeline"
)

// Runner is the orchestrator surface the consumer needs.
type Runner interface {
	Run(ctx context.Context, documentID uuid.UUID) error
}

var _ Runner = (*pipeline.Orchestrator)(nil)

// Consumer polls the job queue with a pool of workers. A failed run requeues
// the job until its retries are exhausted, at which point the job is
// terminally failed.
type Consumer struct {
	queue   jobqueue.Queue
	runner  Runner
	logger  *slog.Logger
	workers int
	poll    time.Duration
	timeout time.Duration

	wg   sync.WaitGroup
	once sync.Once
	stop context.CancelFunc
}

type Option func(*Consumer)

func WithWorkers(n int) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.workers = n
		}
	}
}

func WithPollDelay(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.poll = d
		}
	}
}

func WithJobTimeout(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewConsumer(queue jobqueue.Queue, runner Runner, logger *slog.Logger, opts ...Option) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{
		queue:   queue,
		runner:  runner,
		logger:  logger,
		workers: 4,
		poll:    1 * time.Second,
		timeout: 3 * time.Minute,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start launches the worker pool. Workers exit when ctx is cancelled or
// Shutdown is called.
func (c *Consumer) Start(ctx context.Context) {
	c.once.Do(func() {
		ctx, c.stop = context.WithCancel(ctx)
		for i := 0; i < c.workers; i++ {
			c.wg.Add(1)
			go func(workerID int) {
				defer c.wg.Done()
				c.logger.Info("worker started", "worker_id", workerID)
				c.loop(ctx, workerID)
				c.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (c *Consumer) loop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := c.queue.Dequeue(ctx)
		if err != nil {
			c.logger.Error("dequeue failed", "worker_id", workerID, "error", err)
			c.sleep(ctx)
			continue
		}
		if job == nil {
			c.sleep(ctx)
			continue
		}
		c.handle(ctx, workerID, job.ID, job.Payload.DocumentID)
	}
}

func (c *Consumer) sleep(ctx context.Context) {
	select {
	case <-time.After(c.poll):
	case <-ctx.Done():
	}
}

func (c *Consumer) handle(ctx context.Context, workerID int, jobID, documentID string) {
	log := c.logger.With("worker_id", workerID, "job_id", jobID, "document_id", documentID)

	docID, err := uuid.Parse(documentID)
	if err != nil {
		log.Error("job carries malformed document id, failing permanently", "error", err)
		msg := common.SanitizeErrorMessage(err, "dequeue")
		if uerr := c.queue.UpdateStatus(ctx, jobID, constants.JobFailed, msg, nil); uerr != nil {
			log.Error("failed to fail job", "error", uerr)
		}
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	err = c.runner.Run(runCtx, docID)
	cancel()

	if err == nil {
		result, _ := json.Marshal(map[string]string{"document_id": documentID, "status": "completed"})
		if uerr := c.queue.UpdateStatus(ctx, jobID, constants.JobCompleted, "", result); uerr != nil {
			log.Error("failed to mark job completed", "error", uerr)
		}
		log.Info("job completed")
		return
	}

	log.Error("job processing failed", "error", err)
	msg := common.SanitizeErrorMessage(err, "pipeline")
	// Retry records the error and requeues in one step; writing the job
	// record afterwards could clobber a worker that already claimed it.
	requeued, rerr := c.queue.Retry(ctx, jobID, msg)
	if rerr != nil {
		log.Error("failed to requeue job", "error", rerr)
		return
	}
	if requeued {
		log.Info("job requeued for retry")
	} else {
		log.Warn("job retries exhausted, terminally failed")
	}
}

// Shutdown stops the workers and waits for in-flight jobs up to ctx's
// deadline.
func (c *Consumer) Shutdown(ctx context.Context) {
	if c.stop != nil {
		c.stop()
	}
	done := make(chan struct{})
	go func() { defer close(done); c.wg.Wait() }()
	select {
	case <-done:
		c.logger.Info("all workers drained")
	case <-ctx.Done():
		c.logger.Warn("shutdown timed out waiting for workers")
	}
}
