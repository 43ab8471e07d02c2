package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	desk "github.com/ejazhussain/espc2025-sub000/common"
)

// Protocol errors surfaced by the work item store. The API layer maps them
// onto HTTP statuses (409, 404, 422).
var (
	// ErrWorkItemClaimed reports that the item is no longer waiting: some
	// agent already holds it (or it has been closed).
	ErrWorkItemClaimed = errors.New("work item already claimed")

	// ErrInvalidTransition reports a status change the lifecycle does not
	// allow, such as closing an item that was never claimed.
	ErrInvalidTransition = errors.New("invalid work item status transition")

	// ErrNotAssigned reports that the acting agent does not hold the item.
	ErrNotAssigned = errors.New("work item assigned to another agent")
)

// maxWriteAttempts bounds the re-read/replace loop. A conflict means another
// writer committed between our read and our write; one re-read normally
// settles it, the bound just keeps a pathological hot document from spinning.
const maxWriteAttempts = 3

// WorkItemRepository is the store interface the API handlers and fan-out
// workers depend on.
type WorkItemRepository interface {
	Create(ctx context.Context, item *desk.WorkItem) (*desk.WorkItem, error)
	Get(ctx context.Context, id string) (*desk.WorkItem, error)
	List(ctx context.Context) ([]desk.WorkItem, error)
	ListByStatus(ctx context.Context, status desk.WorkItemStatus) ([]desk.WorkItem, error)
	Claim(ctx context.Context, id, agentID string) (*desk.WorkItem, error)
	CloseItem(ctx context.Context, id, agentID string) (*desk.WorkItem, error)
	AttachSummary(ctx context.Context, id, summary string) (*desk.WorkItem, error)
	AttachMeeting(ctx context.Context, id, joinURL string) (*desk.WorkItem, error)
	Delete(ctx context.Context, id, rev string) error
}

// WorkItemStore persists agent work items and implements the claim protocol
// on top of the backend's conditional replace.
type WorkItemStore struct {
	backend DocumentBackend
}

// NewWorkItemStore creates a work item store over the given backend.
func NewWorkItemStore(backend DocumentBackend) *WorkItemStore {
	return &WorkItemStore{backend: backend}
}

// Create persists a new work item in waiting status. ID, kind, timestamps
// and the initial history entry are filled in here; the stored revision is
// set on the returned item.
func (s *WorkItemStore) Create(ctx context.Context, item *desk.WorkItem) (*desk.WorkItem, error) {
	if item.ID == "" {
		item.ID = desk.NewWorkItemID()
	}
	item.Kind = desk.KindWorkItem
	item.Status = desk.StatusWaiting
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	item.History = []desk.StatusChange{{
		Status:    desk.StatusWaiting,
		Timestamp: now,
	}}

	rev, err := s.backend.Put(ctx, item.ID, item)
	if err != nil {
		return nil, fmt.Errorf("failed to create work item: %w", err)
	}
	item.Rev = rev

	return item, nil
}

// Get retrieves a work item by ID.
func (s *WorkItemStore) Get(ctx context.Context, id string) (*desk.WorkItem, error) {
	raw, err := s.backend.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var item desk.WorkItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("failed to decode work item: %w", err)
	}

	return &item, nil
}

// List returns every work item.
func (s *WorkItemStore) List(ctx context.Context) ([]desk.WorkItem, error) {
	return s.find(ctx, map[string]interface{}{
		"kind": desk.KindWorkItem,
	})
}

// ListByStatus returns the work items in the given status. The agent console
// polls this with StatusWaiting to render its queue.
func (s *WorkItemStore) ListByStatus(ctx context.Context, status desk.WorkItemStatus) ([]desk.WorkItem, error) {
	return s.find(ctx, map[string]interface{}{
		"kind":   desk.KindWorkItem,
		"status": string(status),
	})
}

// Claim atomically assigns a waiting work item to an agent.
//
// The guarantee that at most one agent wins comes from the conditional
// replace: the write carries the revision read at the top of the attempt, so
// when two agents race, the database commits exactly one and rejects the
// other with a conflict. The loser re-reads, finds the item no longer
// waiting, and receives ErrWorkItemClaimed. The loop only ever retries the
// write when the re-read still shows the item as waiting, which can happen
// when the conflicting writer was an unrelated field update.
func (s *WorkItemStore) Claim(ctx context.Context, id, agentID string) (*desk.WorkItem, error) {
	return s.update(ctx, id, func(item *desk.WorkItem) error {
		if item.Status != desk.StatusWaiting {
			return ErrWorkItemClaimed
		}
		now := time.Now().UTC()
		item.Status = desk.StatusActive
		item.AgentID = agentID
		item.ClaimedAt = &now
		item.History = append(item.History, desk.StatusChange{
			Status:    desk.StatusActive,
			AgentID:   agentID,
			Timestamp: now,
		})
		return nil
	})
}

// CloseItem transitions an active work item to closed. Only the agent who
// holds the item may close it.
func (s *WorkItemStore) CloseItem(ctx context.Context, id, agentID string) (*desk.WorkItem, error) {
	return s.update(ctx, id, func(item *desk.WorkItem) error {
		if item.Status != desk.StatusActive {
			return ErrInvalidTransition
		}
		if item.AgentID != agentID {
			return ErrNotAssigned
		}
		now := time.Now().UTC()
		item.Status = desk.StatusClosed
		item.ClosedAt = &now
		item.History = append(item.History, desk.StatusChange{
			Status:    desk.StatusClosed,
			AgentID:   agentID,
			Timestamp: now,
		})
		return nil
	})
}

// AttachSummary stores the AI-generated conversation summary on the item.
func (s *WorkItemStore) AttachSummary(ctx context.Context, id, summary string) (*desk.WorkItem, error) {
	return s.update(ctx, id, func(item *desk.WorkItem) error {
		item.Summary = summary
		return nil
	})
}

// AttachMeeting records the Teams meeting join URL on the item.
func (s *WorkItemStore) AttachMeeting(ctx context.Context, id, joinURL string) (*desk.WorkItem, error) {
	return s.update(ctx, id, func(item *desk.WorkItem) error {
		item.MeetingURL = joinURL
		return nil
	})
}

// Delete removes a work item at an exact revision.
func (s *WorkItemStore) Delete(ctx context.Context, id, rev string) error {
	return s.backend.Delete(ctx, id, rev)
}

// update runs the conditional-replace loop shared by every work item
// mutation: read the current document, apply the mutation against it, and
// write it back under the revision just read. A conflict sends the loop back
// to the read, where the mutation revalidates against the winner's state.
func (s *WorkItemStore) update(ctx context.Context, id string, mutate func(*desk.WorkItem) error) (*desk.WorkItem, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		item, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := mutate(item); err != nil {
			return nil, err
		}
		item.UpdatedAt = time.Now().UTC()

		rev, err := s.backend.Put(ctx, item.ID, item)
		if err == nil {
			item.Rev = rev
			return item, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, fmt.Errorf("failed to update work item: %w", err)
		}
	}

	return nil, ErrConflict
}

func (s *WorkItemStore) find(ctx context.Context, selector map[string]interface{}) ([]desk.WorkItem, error) {
	raws, err := s.backend.Find(ctx, selector)
	if err != nil {
		return nil, fmt.Errorf("failed to query work items: %w", err)
	}

	items := make([]desk.WorkItem, 0, len(raws))
	for _, raw := range raws {
		var item desk.WorkItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to decode work item: %w", err)
		}
		items = append(items, item)
	}

	return items, nil
}
