package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/vidora/vidora/internal/db"
	"github.com/vidora/vidora/internal/jobs"
	"github.com/vidora/vidora/internal/models"
	"github.com/vidora/vidora/internal/queue"
)

const (
	pollInitialDelay = 5 * time.Second
	pollMaxDelay     = 20 * time.Second
	pollBackoff      = 1.5
)

// Worker drains reconcile tasks from Redis and drives each generation job to
// a terminal state by polling the reconciler with backoff. Jobs reach terminal
// states even without a worker (client polls reconcile too); the worker just
// makes sure abandoned jobs still complete, fail, or time out.
type Worker struct {
	queue      *queue.Queue
	reconciler *jobs.Reconciler
	now        func() time.Time
}

func New(q *queue.Queue, reconciler *jobs.Reconciler) *Worker {
	return &Worker{
		queue:      q,
		reconciler: reconciler,
		now:        time.Now,
	}
}

// Start runs the worker loops until the context is cancelled.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	log.Printf("[Worker] Started with concurrency: %d", concurrency)

	for i := 0; i < concurrency; i++ {
		go w.processQueue(ctx)
	}

	<-ctx.Done()
	log.Println("[Worker] Shutting down...")
}

func (w *Worker) processQueue(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			task, err := w.queue.Dequeue(ctx, queue.QueueReconcileJob, 5*time.Second)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("[Worker] Error dequeuing: %v", err)
				time.Sleep(time.Second)
				continue
			}

			if task == nil {
				continue // No task available, retry
			}

			w.driveJob(ctx, task)
		}
	}
}

// driveJob polls one job until it reaches a terminal state. The poll interval
// backs off from 5s toward 20s; the loop is bounded by the job timeout plus
// slack, after which the timeout path in the reconciler will have fired.
func (w *Worker) driveJob(ctx context.Context, task *queue.Task) {
	log.Printf("[Worker] Reconciling job %s", task.JobID)

	deadline := w.now().Add(models.JobTimeout + time.Minute)
	delay := pollInitialDelay

	for {
		job, err := w.reconciler.CheckStatus(ctx, task.JobID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				log.Printf("[Worker] Job %s no longer exists, dropping task", task.JobID)
				return
			}
			// Transient provider or database error. Keep polling; the
			// reconciler never fails a job on a poll error.
			log.Printf("[Worker] Poll for job %s failed: %v", task.JobID, err)
		} else if job.Status.Terminal() {
			log.Printf("[Worker] Job %s finished with status %s", task.JobID, job.Status)
			return
		}

		if w.now().After(deadline) {
			log.Printf("[Worker] Giving up on job %s after timeout window", task.JobID)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay = time.Duration(float64(delay) * pollBackoff)
		if delay > pollMaxDelay {
			delay = pollMaxDelay
		}
	}
}
