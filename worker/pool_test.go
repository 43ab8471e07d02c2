package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	desk "github.com/ejazhussain/espc2025-sub000/common"
	redisq "github.com/ejazhussain/espc2025-sub000/queue/redis"
)

// stubProcessor counts processed jobs and can fail a configurable number
// of times.
type stubProcessor struct {
	mu        sync.Mutex
	processed []string
	failures  int
	done      chan struct{}
}

func (s *stubProcessor) Process(_ context.Context, job *redisq.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--
		return errors.New("transient failure")
	}

	s.processed = append(s.processed, job.ID)
	if s.done != nil {
		select {
		case s.done <- struct{}{}:
		default:
		}
	}
	return nil
}

func (s *stubProcessor) Timeout(_ *redisq.Job) time.Duration {
	return 5 * time.Second
}

func (s *stubProcessor) processedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.processed...)
}

func testJobQueue(t *testing.T) *redisq.Queue {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	q, err := redisq.NewQueue(context.Background(), redisq.Config{RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })

	return q
}

func TestPoolProcessesJobs(t *testing.T) {
	q := testJobQueue(t)

	processor := &stubProcessor{done: make(chan struct{}, 10)}
	pool := NewPool(q, processor, Config{Queues: map[string]int{redisq.QueueNotifications: 2}})
	pool.Start()
	defer pool.Stop()

	job := redisq.NewJob(redisq.QueueNotifications, desk.DeskEvent{Type: desk.EventWorkItemCreated, WorkItemID: "wi-1"})
	require.NoError(t, q.Enqueue(job))

	select {
	case <-processor.done:
	case <-time.After(10 * time.Second):
		t.Fatal("job was not processed")
	}

	assert.Equal(t, []string{job.ID}, processor.processedIDs())

	depth, err := q.Depth(redisq.QueueNotifications)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestPoolRetriesFailedJobs(t *testing.T) {
	q := testJobQueue(t)

	processor := &stubProcessor{failures: 2, done: make(chan struct{}, 10)}
	pool := NewPool(q, processor, Config{Queues: map[string]int{redisq.QueueNotifications: 1}})
	pool.Start()
	defer pool.Stop()

	job := redisq.NewJob(redisq.QueueNotifications, desk.DeskEvent{Type: desk.EventWorkItemCreated, WorkItemID: "wi-2"})
	require.NoError(t, q.Enqueue(job))

	select {
	case <-processor.done:
	case <-time.After(15 * time.Second):
		t.Fatal("job was not retried to completion")
	}

	assert.Equal(t, []string{job.ID}, processor.processedIDs())
}
