package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	desk "github.com/ejazhussain/espc2025-sub000/common"
)

// recentEventsMax caps the replay list so reconnecting consoles get a
// bounded backlog instead of the full history.
const recentEventsMax = 100

// EventBus publishes desk events to subscribed agent consoles. Live
// delivery goes over a Redis channel; a capped list keeps the most recent
// events for clients that poll or reconnect.
type EventBus struct {
	client  *redis.Client
	channel string
	listKey string
}

// NewEventBus creates an event bus on the given Redis URL and verifies
// connectivity.
func NewEventBus(ctx context.Context, redisURL, keyPrefix string) (*EventBus, error) {
	if redisURL == "" {
		redisURL = "redis://localhost:6379/0"
	}
	if keyPrefix == "" {
		keyPrefix = "desk:"
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &EventBus{
		client:  client,
		channel: keyPrefix + "events",
		listKey: keyPrefix + "events:recent",
	}, nil
}

// NewEventBusWithClient creates an event bus over an existing client.
// Used by tests and when sharing a connection with the job queue.
func NewEventBusWithClient(client *redis.Client, keyPrefix string) *EventBus {
	if keyPrefix == "" {
		keyPrefix = "desk:"
	}
	return &EventBus{
		client:  client,
		channel: keyPrefix + "events",
		listKey: keyPrefix + "events:recent",
	}
}

// Close closes the underlying Redis connection.
func (b *EventBus) Close() error {
	return b.client.Close()
}

// Publish broadcasts an event to live subscribers and appends it to the
// recent-events list, trimming the list to its cap.
func (b *EventBus) Publish(ctx context.Context, event desk.DeskEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	pipe := b.client.Pipeline()
	pipe.RPush(ctx, b.listKey, payload)
	pipe.LTrim(ctx, b.listKey, -recentEventsMax, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	return nil
}

// Recent returns up to limit of the most recently published events,
// oldest first.
func (b *EventBus) Recent(ctx context.Context, limit int) ([]desk.DeskEvent, error) {
	if limit <= 0 || limit > recentEventsMax {
		limit = recentEventsMax
	}

	raw, err := b.client.LRange(ctx, b.listKey, int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read recent events: %w", err)
	}

	events := make([]desk.DeskEvent, 0, len(raw))
	for _, entry := range raw {
		var event desk.DeskEvent
		if err := json.Unmarshal([]byte(entry), &event); err != nil {
			continue // Skip malformed entries
		}
		events = append(events, event)
	}

	return events, nil
}

// Subscribe returns a pubsub subscription for live events. The caller
// owns the subscription and must close it.
func (b *EventBus) Subscribe(ctx context.Context) *redis.PubSub {
	return b.client.Subscribe(ctx, b.channel)
}
