// Package worker provides the background worker pool draining the
// notification job queue. Workers pull desk event jobs and run the slow
// fan-out work: activity feed notifications, transcript mail, and chat
// summarization. Failures requeue the job up to a retry cap.
package worker

import (
	"context"
	"fmt"
	"time"

	desk "github.com/ejazhussain/espc2025-sub000/common"
	redisq "github.com/ejazhussain/espc2025-sub000/queue/redis"
)

// maxRetries caps how often a failed job goes back on the queue.
const maxRetries = 3

// Queue defines the job queue operations the pool depends on.
type Queue interface {
	Dequeue(queueName string, timeout time.Duration) (*redisq.Job, error)
	Enqueue(job redisq.Job) error
	MarkProcessing(jobID string, deadline time.Time) error
	CompleteJob(jobID string) error
	FailJob(job *redisq.Job, requeue bool) error
}

// JobProcessor defines the interface for processing jobs.
type JobProcessor interface {
	Process(ctx context.Context, job *redisq.Job) error
	Timeout(job *redisq.Job) time.Duration
}

// Pool manages a pool of workers that process jobs from queues.
type Pool struct {
	workers   []*Worker
	queue     Queue
	processor JobProcessor
}

// Worker represents a single worker that processes jobs from a queue.
type Worker struct {
	id        int
	queueName string
	queue     Queue
	processor JobProcessor
	stopChan  chan struct{}
}

// Config configures the worker pool.
type Config struct {
	Queues map[string]int // Queue name -> number of workers
}

// DefaultConfig runs three workers on the notification queue.
func DefaultConfig() Config {
	return Config{
		Queues: map[string]int{
			redisq.QueueNotifications: 3,
		},
	}
}

// NewPool creates a new worker pool.
func NewPool(queue Queue, processor JobProcessor, config Config) *Pool {
	pool := &Pool{
		workers:   make([]*Worker, 0),
		queue:     queue,
		processor: processor,
	}

	for queueName, workerCount := range config.Queues {
		for i := 0; i < workerCount; i++ {
			worker := &Worker{
				id:        i,
				queueName: queueName,
				queue:     queue,
				processor: processor,
				stopChan:  make(chan struct{}),
			}
			pool.workers = append(pool.workers, worker)
		}
	}

	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start() {
	desk.Logger.WithField("workers", len(p.workers)).Info("starting worker pool")

	for _, worker := range p.workers {
		go worker.Start()
	}
}

// Stop stops all workers in the pool.
func (p *Pool) Stop() {
	desk.Logger.Info("stopping worker pool")

	for _, worker := range p.workers {
		close(worker.stopChan)
	}
}

// Start runs the worker loop until the stop channel closes.
func (w *Worker) Start() {
	desk.Logger.WithField("worker", w.id).
		WithField("queue", w.queueName).
		Debug("worker started")

	for {
		select {
		case <-w.stopChan:
			desk.Logger.WithField("worker", w.id).Debug("worker stopped")
			return
		default:
			if err := w.processNext(); err != nil {
				desk.Logger.WithField("worker", w.id).
					WithError(err).
					Error("worker error")
				// Do not exit on error, continue processing
				time.Sleep(1 * time.Second)
			}
		}
	}
}

// processNext fetches and processes the next job from the queue.
func (w *Worker) processNext() error {
	// Blocking dequeue with a short timeout so stop requests are noticed.
	job, err := w.queue.Dequeue(w.queueName, 5*time.Second)
	if err != nil {
		return fmt.Errorf("failed to dequeue: %w", err)
	}

	if job == nil {
		// Timeout, no job available
		return nil
	}

	logger := desk.Logger.WithField("worker", w.id).
		WithField("job", job.ID).
		WithField("event", job.Event.Type)

	timeout := w.processor.Timeout(job)
	deadline := time.Now().Add(timeout)

	if err := w.queue.MarkProcessing(job.ID, deadline); err != nil {
		logger.WithError(err).Error("failed to mark job as processing")
		w.queue.Enqueue(*job)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := w.processor.Process(ctx, job); err != nil {
		requeue := job.RetryCount < maxRetries
		logger.WithError(err).
			WithField("requeue", requeue).
			Error("job failed")

		if failErr := w.queue.FailJob(job, requeue); failErr != nil {
			logger.WithError(failErr).Error("failed to mark job as failed")
		}
		return nil
	}

	logger.Debug("job completed")

	if err := w.queue.CompleteJob(job.ID); err != nil {
		logger.WithError(err).Error("failed to mark job as completed")
	}

	return nil
}
