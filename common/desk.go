// Package common provides shared domain types and logging infrastructure for
// the support desk services. The types in this package describe the chat
// threads, agent work items, and lifecycle events that flow between the HTTP
// API, the document store, the broadcast queue, and the fan-out workers.
package common

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkItemStatus describes where a support request sits in its lifecycle.
type WorkItemStatus string

const (
	// StatusWaiting marks a request no agent has picked up yet.
	StatusWaiting WorkItemStatus = "waiting"

	// StatusActive marks a request an agent has claimed and is handling.
	StatusActive WorkItemStatus = "active"

	// StatusClosed marks a finished conversation.
	StatusClosed WorkItemStatus = "closed"
)

// ValidStatus reports whether s is one of the known work item statuses.
func ValidStatus(s WorkItemStatus) bool {
	switch s {
	case StatusWaiting, StatusActive, StatusClosed:
		return true
	}
	return false
}

// StatusChange records one transition in a work item's history.
type StatusChange struct {
	Status    WorkItemStatus `json:"status"`
	AgentID   string         `json:"agent_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// WorkItem is the queue entry an agent claims to take over a customer chat.
// The document is stored in CouchDB; Rev carries the MVCC revision that makes
// the claim protocol's conditional replace possible. A claim or close only
// succeeds when the revision read at the start of the attempt is still
// current at write time.
type WorkItem struct {
	ID            string         `json:"_id"`
	Rev           string         `json:"_rev,omitempty"`
	Kind          string         `json:"kind"`
	ThreadID      string         `json:"thread_id"`
	ChatID        string         `json:"chat_id"`
	CustomerName  string         `json:"customer_name"`
	CustomerEmail string         `json:"customer_email"`
	Topic         string         `json:"topic"`
	Status        WorkItemStatus `json:"status"`
	AgentID       string         `json:"agent_id,omitempty"`
	Summary       string         `json:"summary,omitempty"`
	MeetingURL    string         `json:"meeting_url,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	ClaimedAt     *time.Time     `json:"claimed_at,omitempty"`
	ClosedAt      *time.Time     `json:"closed_at,omitempty"`
	History       []StatusChange `json:"history,omitempty"`
}

// KindWorkItem is the document discriminator for work item documents.
// All Mango queries filter on it so thread and work item documents can share
// one database.
const KindWorkItem = "workitem"

// KindThread is the document discriminator for chat thread documents.
const KindThread = "thread"

// Thread is the persisted record of a customer chat conversation. ChatID
// references the Microsoft Teams chat carrying the actual messages.
type Thread struct {
	ID            string    `json:"_id"`
	Rev           string    `json:"_rev,omitempty"`
	Kind          string    `json:"kind"`
	ChatID        string    `json:"chat_id"`
	WorkItemID    string    `json:"work_item_id"`
	CustomerName  string    `json:"customer_name"`
	CustomerEmail string    `json:"customer_email"`
	Topic         string    `json:"topic"`
	CreatedAt     time.Time `json:"created_at"`
}

// EventType names a work item lifecycle event.
type EventType string

const (
	EventWorkItemCreated EventType = "workitem.created"
	EventWorkItemClaimed EventType = "workitem.claimed"
	EventWorkItemClosed  EventType = "workitem.closed"
)

// DeskEvent is the fan-out payload published after every work item
// transition. It travels over the RabbitMQ broadcast queue, the Redis
// realtime channel, and the internal notification job queue. Consumers treat
// delivery as best effort; the store transition it describes has already
// committed by the time the event is published.
type DeskEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	WorkItemID string    `json:"work_item_id"`
	ThreadID   string    `json:"thread_id"`
	ChatID     string    `json:"chat_id"`
	AgentID    string    `json:"agent_id,omitempty"`
	Topic      string    `json:"topic,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewDeskEvent builds an event for a work item transition with a fresh
// event ID and the current timestamp.
func NewDeskEvent(eventType EventType, item *WorkItem) DeskEvent {
	return DeskEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		WorkItemID: item.ID,
		ThreadID:   item.ThreadID,
		ChatID:     item.ChatID,
		AgentID:    item.AgentID,
		Topic:      item.Topic,
		Timestamp:  time.Now().UTC(),
	}
}

// NewWorkItemID returns a fresh work item document ID.
func NewWorkItemID() string {
	return fmt.Sprintf("wi-%s", uuid.NewString())
}

// NewThreadID returns a fresh thread document ID.
func NewThreadID() string {
	return fmt.Sprintf("th-%s", uuid.NewString())
}
