package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	desk "github.com/ejazhussain/espc2025-sub000/common"
)

// ThreadRepository is the thread store interface consumed by the API layer.
type ThreadRepository interface {
	Create(ctx context.Context, thread *desk.Thread) (*desk.Thread, error)
	Get(ctx context.Context, id string) (*desk.Thread, error)
	ByChatID(ctx context.Context, chatID string) (*desk.Thread, error)
}

// ThreadStore persists chat thread records. Threads are written once at chat
// creation and read back by ID or by the Teams chat ID they reference, so
// the store has no conditional-update path.
type ThreadStore struct {
	backend DocumentBackend
}

// NewThreadStore creates a thread store over the given backend.
func NewThreadStore(backend DocumentBackend) *ThreadStore {
	return &ThreadStore{backend: backend}
}

// Create persists a new thread record.
func (s *ThreadStore) Create(ctx context.Context, thread *desk.Thread) (*desk.Thread, error) {
	if thread.ID == "" {
		thread.ID = desk.NewThreadID()
	}
	thread.Kind = desk.KindThread
	thread.CreatedAt = time.Now().UTC()

	rev, err := s.backend.Put(ctx, thread.ID, thread)
	if err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}
	thread.Rev = rev

	return thread, nil
}

// Get retrieves a thread by ID.
func (s *ThreadStore) Get(ctx context.Context, id string) (*desk.Thread, error) {
	raw, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var thread desk.Thread
	if err := json.Unmarshal(raw, &thread); err != nil {
		return nil, fmt.Errorf("failed to decode thread: %w", err)
	}

	return &thread, nil
}

// ByChatID looks up the thread record referencing a Teams chat.
func (s *ThreadStore) ByChatID(ctx context.Context, chatID string) (*desk.Thread, error) {
	raws, err := s.backend.Find(ctx, map[string]interface{}{
		"kind":    desk.KindThread,
		"chat_id": chatID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query threads: %w", err)
	}
	if len(raws) == 0 {
		return nil, ErrNotFound
	}

	var thread desk.Thread
	if err := json.Unmarshal(raws[0], &thread); err != nil {
		return nil, fmt.Errorf("failed to decode thread: %w", err)
	}

	return &thread, nil
}
