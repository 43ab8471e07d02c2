package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ejazhussain/espc2025-sub000/ai"
	"github.com/ejazhussain/espc2025-sub000/cloud"
	desk "github.com/ejazhussain/espc2025-sub000/common"
	"github.com/ejazhussain/espc2025-sub000/db"
	"github.com/ejazhussain/espc2025-sub000/notification"
	redisq "github.com/ejazhussain/espc2025-sub000/queue/redis"
)

// NotificationConfig carries the fan-out targets.
type NotificationConfig struct {
	// AgentIDs are the directory object IDs of agents who get an activity
	// feed entry when a new request arrives.
	AgentIDs []string

	// ConsoleURL is the agent console base URL used in activity feed deep
	// links.
	ConsoleURL string
}

// NotificationProcessor handles desk event jobs from the notification
// queue. New requests fan out to the agents' Teams activity feeds; closed
// conversations get summarized and mailed to the customer as a transcript.
type NotificationProcessor struct {
	chats      cloud.ChatProvider
	items      db.WorkItemRepository
	summarizer ai.Summarizer
	mailer     notification.Mailer
	config     NotificationConfig
}

// NewNotificationProcessor wires the processor's dependencies.
func NewNotificationProcessor(
	chats cloud.ChatProvider,
	items db.WorkItemRepository,
	summarizer ai.Summarizer,
	mailer notification.Mailer,
	config NotificationConfig,
) *NotificationProcessor {
	return &NotificationProcessor{
		chats:      chats,
		items:      items,
		summarizer: summarizer,
		mailer:     mailer,
		config:     config,
	}
}

// Timeout returns the processing deadline for a job. Closed-item jobs run
// the whole transcript pipeline and get more room.
func (p *NotificationProcessor) Timeout(job *redisq.Job) time.Duration {
	if job.Event.Type == desk.EventWorkItemClosed {
		return 2 * time.Minute
	}
	return 30 * time.Second
}

// Process dispatches one desk event job.
func (p *NotificationProcessor) Process(ctx context.Context, job *redisq.Job) error {
	switch job.Event.Type {
	case desk.EventWorkItemCreated:
		return p.notifyAgents(ctx, job.Event)
	case desk.EventWorkItemClosed:
		return p.closeOut(ctx, job.Event)
	case desk.EventWorkItemClaimed:
		// Consoles learn about claims over the realtime channel; nothing
		// to do out of band.
		return nil
	default:
		return fmt.Errorf("unknown event type %q", job.Event.Type)
	}
}

// notifyAgents posts a Teams activity feed entry to every configured agent
// so a waiting request surfaces even when no console is open.
func (p *NotificationProcessor) notifyAgents(ctx context.Context, event desk.DeskEvent) error {
	topic := "New support request"
	if event.Topic != "" {
		topic = fmt.Sprintf("New support request: %s", event.Topic)
	}
	webURL := fmt.Sprintf("%s/workitems/%s", p.config.ConsoleURL, event.WorkItemID)

	var firstErr error
	for _, agentID := range p.config.AgentIDs {
		err := p.chats.SendActivityNotification(ctx, agentID, topic,
			"A customer is waiting for an agent.", webURL)
		if err != nil {
			desk.Logger.WithField("agent", agentID).
				WithError(err).
				Error("failed to notify agent")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// closeOut runs the end-of-conversation pipeline: pull the chat history,
// summarize it, store the summary on the work item, and mail the customer
// a transcript.
func (p *NotificationProcessor) closeOut(ctx context.Context, event desk.DeskEvent) error {
	item, err := p.items.Get(ctx, event.WorkItemID)
	if err != nil {
		return fmt.Errorf("failed to load work item: %w", err)
	}

	messages, err := p.chats.ListMessages(ctx, item.ChatID)
	if err != nil {
		return fmt.Errorf("failed to load chat history: %w", err)
	}

	// Summary failures are logged but never block the transcript mail.
	if len(messages) > 0 && item.Summary == "" {
		summary, err := p.summarizer.Summarize(ctx, messages)
		if err != nil {
			desk.Logger.WithField("work_item", item.ID).
				WithError(err).
				Error("failed to summarize conversation")
		} else if updated, err := p.items.AttachSummary(ctx, item.ID, summary); err != nil {
			desk.Logger.WithField("work_item", item.ID).
				WithError(err).
				Error("failed to store summary")
		} else {
			item = updated
		}
	}

	if item.CustomerEmail == "" {
		desk.Logger.WithField("work_item", item.ID).
			Warn("no customer email, skipping transcript mail")
		return nil
	}

	html, err := notification.BuildTranscriptHTML(item, messages)
	if err != nil {
		return fmt.Errorf("failed to render transcript: %w", err)
	}

	subject := "Your support conversation transcript"
	if item.Topic != "" {
		subject = fmt.Sprintf("Your support conversation: %s", item.Topic)
	}

	if err := p.mailer.Send(ctx, item.CustomerEmail, item.CustomerName, subject, html); err != nil {
		return fmt.Errorf("failed to mail transcript: %w", err)
	}

	return nil
}
