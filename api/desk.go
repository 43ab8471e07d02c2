// Package api exposes the support desk HTTP surface: chat bootstrap for
// customers, token issuance, and the protected agent operations (work item
// listing, claim, close, messaging, meetings).
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/ejazhussain/espc2025-sub000/cloud"
	desk "github.com/ejazhussain/espc2025-sub000/common"
	"github.com/ejazhussain/espc2025-sub000/db"
	"github.com/ejazhussain/espc2025-sub000/queue"
	redisq "github.com/ejazhussain/espc2025-sub000/queue/redis"
	"github.com/ejazhussain/espc2025-sub000/security"
)

// JobQueue enqueues fan-out jobs for the worker pool.
type JobQueue interface {
	Enqueue(job redisq.Job) error
}

// Realtime publishes events to connected agent consoles and replays
// recent ones.
type Realtime interface {
	Publish(ctx context.Context, event desk.DeskEvent) error
	Recent(ctx context.Context, limit int) ([]desk.DeskEvent, error)
}

// DeskConfig carries the routing targets the handlers need.
type DeskConfig struct {
	// JWTSecret signs and verifies API tokens.
	JWTSecret string

	// AgentIDs are the directory object IDs added as members of every
	// customer chat.
	AgentIDs []string

	// OrganizerID is the directory user meetings are scheduled on behalf
	// of.
	OrganizerID string

	// TokenLifetime bounds issued tokens (defaults to 24h).
	TokenLifetime time.Duration
}

// Handlers bundles the services behind the HTTP surface.
type Handlers struct {
	Items     db.WorkItemRepository
	Threads   db.ThreadRepository
	Chats     cloud.ChatProvider
	JWT       *security.JWTService
	Broadcast queue.EventPublisher
	Realtime  Realtime
	Jobs      JobQueue
	Config    DeskConfig
}

// SetupRoutes registers the desk routes on the Echo instance. Everything
// under /api sits behind the JWT middleware.
func SetupRoutes(e *echo.Echo, h *Handlers) {
	// Public routes
	e.POST("/auth/token", h.GenerateToken)
	e.POST("/chat/start", h.StartChat)

	// Protected routes
	protected := e.Group("/api")
	protected.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey:  []byte(h.Config.JWTSecret),
		TokenLookup: "header:Authorization:Bearer ",
	}))

	protected.GET("/workitems", h.ListWorkItems)
	protected.GET("/workitems/:id", h.GetWorkItem)
	protected.POST("/workitems/:id/claim", h.ClaimWorkItem)
	protected.POST("/workitems/:id/close", h.CloseWorkItem)
	protected.GET("/threads/:id/messages", h.ListThreadMessages)
	protected.POST("/threads/:id/messages", h.PostThreadMessage)
	protected.POST("/threads/:id/meeting", h.ScheduleMeeting)
	protected.GET("/events", h.RecentEvents)
}

func (h *Handlers) tokenLifetime() time.Duration {
	if h.Config.TokenLifetime > 0 {
		return h.Config.TokenLifetime
	}
	return security.DefaultTokenLifetime
}

// bearerToken re-parses the request's bearer token with the signing
// service so handlers can read its claims. The JWT middleware has already
// verified it by the time a handler runs.
func (h *Handlers) bearerToken(c echo.Context) (jwt.Token, error) {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	raw := strings.TrimPrefix(header, "Bearer ")
	if raw == "" || raw == header {
		return nil, errors.New("missing bearer token")
	}
	return h.JWT.ValidateToken(raw)
}

// fanOut publishes a committed transition everywhere consumers listen:
// the RabbitMQ broadcast queue, the realtime channel, and the worker job
// queue. Every leg is best effort; the store transition already happened.
func (h *Handlers) fanOut(ctx context.Context, eventType desk.EventType, item *desk.WorkItem) {
	event := desk.NewDeskEvent(eventType, item)
	logger := desk.Logger.WithField("event", event.Type).WithField("work_item", item.ID)

	if h.Broadcast != nil {
		if err := h.Broadcast.PublishEvent(event); err != nil {
			logger.WithError(err).Error("failed to broadcast event")
		}
	}
	if h.Realtime != nil {
		if err := h.Realtime.Publish(ctx, event); err != nil {
			logger.WithError(err).Error("failed to publish realtime event")
		}
	}
	if h.Jobs != nil {
		if err := h.Jobs.Enqueue(redisq.NewJob(redisq.QueueNotifications, event)); err != nil {
			logger.WithError(err).Error("failed to enqueue notification job")
		}
	}
}

type TokenRequest struct {
	UserID string `json:"user_id"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// GenerateToken issues an agent console token.
func (h *Handlers) GenerateToken(c echo.Context) error {
	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	if req.UserID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "user_id is required"})
	}

	token, err := h.JWT.GenerateToken(req.UserID, h.tokenLifetime())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to generate token"})
	}

	return c.JSON(http.StatusOK, TokenResponse{Token: token})
}

type StartChatRequest struct {
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	Topic         string `json:"topic"`
}

type StartChatResponse struct {
	ThreadID   string `json:"thread_id"`
	ChatID     string `json:"chat_id"`
	WorkItemID string `json:"work_item_id"`
	Token      string `json:"token"`
}

// StartChat bootstraps a new support conversation: a Teams chat with the
// agent pool as members, a thread document, a waiting work item, and a
// thread-scoped customer token. The created event fans out so agent
// consoles see the new request immediately.
func (h *Handlers) StartChat(c echo.Context) error {
	var req StartChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	if req.CustomerName == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "customer_name is required"})
	}

	ctx := c.Request().Context()
	topic := req.Topic
	if topic == "" {
		topic = fmt.Sprintf("Support: %s", req.CustomerName)
	}

	chatID, err := h.Chats.CreateChat(ctx, h.Config.AgentIDs, topic)
	if err != nil {
		desk.Logger.WithError(err).Error("failed to create Teams chat")
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "Failed to create chat"})
	}

	greeting := fmt.Sprintf("<b>%s</b> started a support conversation: %s",
		req.CustomerName, topic)
	if _, err := h.Chats.SendMessage(ctx, chatID, greeting); err != nil {
		desk.Logger.WithError(err).Error("failed to post greeting message")
	}

	// Thread and work item reference each other, so both IDs are minted
	// up front.
	threadID := desk.NewThreadID()
	itemID := desk.NewWorkItemID()

	thread, err := h.Threads.Create(ctx, &desk.Thread{
		ID:            threadID,
		WorkItemID:    itemID,
		ChatID:        chatID,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Topic:         topic,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create thread"})
	}

	item, err := h.Items.Create(ctx, &desk.WorkItem{
		ID:            itemID,
		ThreadID:      thread.ID,
		ChatID:        chatID,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		Topic:         topic,
	})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create work item"})
	}

	token, err := h.JWT.GenerateChatToken(item.ID, req.CustomerName, thread.ID, h.tokenLifetime())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to generate token"})
	}

	h.fanOut(ctx, desk.EventWorkItemCreated, item)

	return c.JSON(http.StatusCreated, StartChatResponse{
		ThreadID:   thread.ID,
		ChatID:     chatID,
		WorkItemID: item.ID,
		Token:      token,
	})
}

// ListWorkItems returns work items, optionally filtered by status.
func (h *Handlers) ListWorkItems(c echo.Context) error {
	ctx := c.Request().Context()
	status := c.QueryParam("status")

	var items []desk.WorkItem
	var err error

	if status == "" {
		items, err = h.Items.List(ctx)
	} else {
		if !desk.ValidStatus(desk.WorkItemStatus(status)) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid status value"})
		}
		items, err = h.Items.ListByStatus(ctx, desk.WorkItemStatus(status))
	}
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve work items"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"workitems": items,
		"count":     len(items),
	})
}

// GetWorkItem returns a single work item.
func (h *Handlers) GetWorkItem(c echo.Context) error {
	item, err := h.Items.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Work item not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve work item"})
	}

	return c.JSON(http.StatusOK, item)
}

// ClaimWorkItem assigns a waiting work item to the calling agent and adds
// the agent to the customer chat. A lost claim race returns 409.
func (h *Handlers) ClaimWorkItem(c echo.Context) error {
	token, err := h.bearerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid token"})
	}
	if security.ThreadID(token) != "" {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Agent token required"})
	}

	ctx := c.Request().Context()
	agentID := token.Subject()

	item, err := h.Items.Claim(ctx, c.Param("id"), agentID)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Work item not found"})
		case errors.Is(err, db.ErrWorkItemClaimed):
			return c.JSON(http.StatusConflict, map[string]string{"error": "Work item already claimed"})
		default:
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to claim work item"})
		}
	}

	if err := h.Chats.AddMember(ctx, item.ChatID, agentID); err != nil {
		desk.Logger.WithError(err).Error("failed to add agent to chat")
	}

	notice := fmt.Sprintf("<b>%s</b> joined the conversation.", agentID)
	if _, err := h.Chats.SendMessage(ctx, item.ChatID, notice); err != nil {
		desk.Logger.WithError(err).Error("failed to post join notice")
	}

	h.fanOut(ctx, desk.EventWorkItemClaimed, item)

	return c.JSON(http.StatusOK, item)
}

// CloseWorkItem finishes an active conversation. Only the claiming agent
// may close it; the closed event triggers summary and transcript delivery.
func (h *Handlers) CloseWorkItem(c echo.Context) error {
	token, err := h.bearerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid token"})
	}
	if security.ThreadID(token) != "" {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Agent token required"})
	}

	ctx := c.Request().Context()

	item, err := h.Items.CloseItem(ctx, c.Param("id"), token.Subject())
	if err != nil {
		switch {
		case errors.Is(err, db.ErrNotFound):
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Work item not found"})
		case errors.Is(err, db.ErrNotAssigned):
			return c.JSON(http.StatusForbidden, map[string]string{"error": "Work item is assigned to another agent"})
		case errors.Is(err, db.ErrInvalidTransition):
			return c.JSON(http.StatusUnprocessableEntity, map[string]string{"error": "Work item is not active"})
		default:
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to close work item"})
		}
	}

	farewell := "This conversation has been closed. A transcript will be emailed to you."
	if _, err := h.Chats.SendMessage(ctx, item.ChatID, farewell); err != nil {
		desk.Logger.WithError(err).Error("failed to post closing message")
	}

	h.fanOut(ctx, desk.EventWorkItemClosed, item)

	return c.JSON(http.StatusOK, item)
}

// threadFor loads a thread and enforces the caller's scope: customer
// tokens only reach the thread they were minted for.
func (h *Handlers) threadFor(c echo.Context, token jwt.Token) (*desk.Thread, int, error) {
	threadID := c.Param("id")

	if scope := security.ThreadID(token); scope != "" && scope != threadID {
		return nil, http.StatusForbidden, errors.New("token is not valid for this thread")
	}

	thread, err := h.Threads.Get(c.Request().Context(), threadID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, http.StatusNotFound, errors.New("thread not found")
		}
		return nil, http.StatusInternalServerError, errors.New("failed to retrieve thread")
	}

	return thread, http.StatusOK, nil
}

// ListThreadMessages returns the Teams chat history behind a thread.
func (h *Handlers) ListThreadMessages(c echo.Context) error {
	token, err := h.bearerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid token"})
	}

	thread, code, err := h.threadFor(c, token)
	if err != nil {
		return c.JSON(code, map[string]string{"error": err.Error()})
	}

	messages, err := h.Chats.ListMessages(c.Request().Context(), thread.ChatID)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "Failed to retrieve messages"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
		"count":    len(messages),
	})
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

type PostMessageResponse struct {
	MessageID string `json:"message_id"`
}

// PostThreadMessage relays a message into the thread's Teams chat on
// behalf of the caller.
func (h *Handlers) PostThreadMessage(c echo.Context) error {
	token, err := h.bearerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid token"})
	}

	thread, code, err := h.threadFor(c, token)
	if err != nil {
		return c.JSON(code, map[string]string{"error": err.Error()})
	}

	var req PostMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if strings.TrimSpace(req.Content) == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "content is required"})
	}

	sender := token.Subject()
	if name, ok := token.Get(security.ClaimDisplayName); ok {
		if s, ok := name.(string); ok && s != "" {
			sender = s
		}
	}

	content := fmt.Sprintf("<b>%s:</b> %s", sender, req.Content)
	messageID, err := h.Chats.SendMessage(c.Request().Context(), thread.ChatID, content)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "Failed to send message"})
	}

	return c.JSON(http.StatusCreated, PostMessageResponse{MessageID: messageID})
}

type MeetingRequest struct {
	Subject string `json:"subject"`
	StartAt string `json:"start_at"` // RFC 3339; defaults to now
	Minutes int    `json:"minutes"`  // Duration; defaults to 30
}

type MeetingResponse struct {
	JoinURL string `json:"join_url"`
}

// ScheduleMeeting creates a Teams meeting for an escalation, stores the
// join URL on the work item, and posts it into the chat.
func (h *Handlers) ScheduleMeeting(c echo.Context) error {
	token, err := h.bearerToken(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid token"})
	}
	if security.ThreadID(token) != "" {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Agent token required"})
	}

	thread, code, err := h.threadFor(c, token)
	if err != nil {
		return c.JSON(code, map[string]string{"error": err.Error()})
	}

	var req MeetingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	start := time.Now().UTC()
	if req.StartAt != "" {
		start, err = time.Parse(time.RFC3339, req.StartAt)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "start_at must be RFC 3339"})
		}
	}
	minutes := req.Minutes
	if minutes <= 0 {
		minutes = 30
	}
	subject := req.Subject
	if subject == "" {
		subject = fmt.Sprintf("Support call: %s", thread.Topic)
	}

	ctx := c.Request().Context()
	joinURL, err := h.Chats.CreateOnlineMeeting(ctx, h.Config.OrganizerID, subject,
		start, start.Add(time.Duration(minutes)*time.Minute))
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "Failed to create meeting"})
	}

	if thread.WorkItemID != "" {
		if _, err := h.Items.AttachMeeting(ctx, thread.WorkItemID, joinURL); err != nil {
			desk.Logger.WithError(err).Error("failed to store meeting URL")
		}
	}

	invite := fmt.Sprintf(`A call has been scheduled: <a href="%s">join the meeting</a>`, joinURL)
	if _, err := h.Chats.SendMessage(ctx, thread.ChatID, invite); err != nil {
		desk.Logger.WithError(err).Error("failed to post meeting link")
	}

	return c.JSON(http.StatusCreated, MeetingResponse{JoinURL: joinURL})
}

// RecentEvents replays the latest desk events for consoles that poll or
// reconnect.
func (h *Handlers) RecentEvents(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	events, err := h.Realtime.Recent(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to retrieve events"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}
