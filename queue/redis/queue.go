// Package redis provides the Redis-backed pieces of the notification fan-out:
// a job queue drained by the in-process worker pool, and the realtime event
// channel the agent consoles subscribe to in place of a managed push service.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	desk "github.com/ejazhussain/espc2025-sub000/common"
)

// QueueNotifications is the queue the API enqueues fan-out jobs on and the
// worker pool drains.
const QueueNotifications = "notifications"

// Queue handles notification job operations using Redis lists.
type Queue struct {
	client *redis.Client
	ctx    context.Context
	prefix string // Key prefix for queue keys (e.g. "desk:")
}

// Job is a unit of fan-out work derived from one desk event. Jobs are
// processed out of band so a slow Graph or mail call never blocks the
// request that committed the underlying transition.
type Job struct {
	ID         string         `json:"id"`
	QueueName  string         `json:"queueName"`
	Event      desk.DeskEvent `json:"event"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
	RetryCount int            `json:"retryCount"`
}

// NewJob wraps a desk event into a job for the given queue.
func NewJob(queueName string, event desk.DeskEvent) Job {
	return Job{
		ID:         uuid.NewString(),
		QueueName:  queueName,
		Event:      event,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Config configures the Redis queue.
type Config struct {
	// RedisURL is the Redis connection URL (defaults to
	// redis://localhost:6379/0).
	RedisURL string

	// KeyPrefix is the prefix for queue keys (defaults to "desk:").
	KeyPrefix string
}

// NewQueue creates a new Redis queue client and verifies connectivity.
func NewQueue(ctx context.Context, config Config) (*Queue, error) {
	redisURL := config.RedisURL
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = "desk:"
	}

	return &Queue{
		client: client,
		ctx:    ctx,
		prefix: prefix,
	}, nil
}

// Close closes the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

// Ping verifies the Redis connection.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Enqueue adds a job to its queue.
func (q *Queue) Enqueue(job Job) error {
	jobJSON, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	queueKey := fmt.Sprintf("%s%s", q.prefix, job.QueueName)
	return q.client.RPush(q.ctx, queueKey, string(jobJSON)).Err()
}

// Dequeue removes and returns the next job from a queue, blocking up to
// timeout. A nil job with a nil error means the wait timed out.
func (q *Queue) Dequeue(queueName string, timeout time.Duration) (*Job, error) {
	queueKey := fmt.Sprintf("%s%s", q.prefix, queueName)

	// Fresh context per dequeue so an expired init-time context never
	// poisons the blocking pop.
	ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
	defer cancel()

	result, err := q.client.BLPop(ctx, timeout, queueKey).Result()
	if err == redis.Nil {
		return nil, nil // Timeout, no job available
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue: %w", err)
	}

	if len(result) < 2 {
		return nil, nil // No job
	}

	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &job, nil
}

// MarkProcessing adds a job to the processing set with a deadline.
func (q *Queue) MarkProcessing(jobID string, deadline time.Time) error {
	processingKey := fmt.Sprintf("%sprocessing", q.prefix)
	return q.client.ZAdd(q.ctx, processingKey, redis.Z{
		Score:  float64(deadline.Unix()),
		Member: jobID,
	}).Err()
}

// CompleteJob removes a job from the processing set.
func (q *Queue) CompleteJob(jobID string) error {
	processingKey := fmt.Sprintf("%sprocessing", q.prefix)
	return q.client.ZRem(q.ctx, processingKey, jobID).Err()
}

// FailJob removes a job from the processing set and optionally re-enqueues
// it with an incremented retry count.
func (q *Queue) FailJob(job *Job, requeue bool) error {
	if err := q.CompleteJob(job.ID); err != nil {
		return err
	}

	if requeue {
		retry := *job
		retry.RetryCount++
		retry.EnqueuedAt = time.Now().UTC()
		return q.Enqueue(retry)
	}

	return nil
}

// Depth returns the number of jobs waiting in a queue.
func (q *Queue) Depth(queueName string) (int, error) {
	queueKey := fmt.Sprintf("%s%s", q.prefix, queueName)
	depth, err := q.client.LLen(q.ctx, queueKey).Result()
	if err != nil {
		return 0, err
	}
	return int(depth), nil
}
