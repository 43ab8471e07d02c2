package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ejazhussain/espc2025-sub000/cloud"
	desk "github.com/ejazhussain/espc2025-sub000/common"
	"github.com/ejazhussain/espc2025-sub000/db"
	redisq "github.com/ejazhussain/espc2025-sub000/queue/redis"
	"github.com/ejazhussain/espc2025-sub000/security"
)

// fakeBroadcast records events published to the broadcast queue.
type fakeBroadcast struct {
	events []desk.DeskEvent
}

func (f *fakeBroadcast) PublishEvent(event desk.DeskEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeBroadcast) Close() error { return nil }

// fakeRealtime records realtime publishes and serves canned recents.
type fakeRealtime struct {
	events []desk.DeskEvent
}

func (f *fakeRealtime) Publish(_ context.Context, event desk.DeskEvent) error {
	f.events = append(f.events, event)
	return nil
}

func (f *fakeRealtime) Recent(_ context.Context, limit int) ([]desk.DeskEvent, error) {
	if limit > 0 && limit < len(f.events) {
		return f.events[len(f.events)-limit:], nil
	}
	return f.events, nil
}

// fakeJobs records enqueued fan-out jobs.
type fakeJobs struct {
	jobs []redisq.Job
}

func (f *fakeJobs) Enqueue(job redisq.Job) error {
	f.jobs = append(f.jobs, job)
	return nil
}

type deskFixture struct {
	e         *echo.Echo
	handlers  *Handlers
	chats     *cloud.MockChatProvider
	items     *db.WorkItemStore
	threads   *db.ThreadStore
	jwt       *security.JWTService
	broadcast *fakeBroadcast
	realtime  *fakeRealtime
	jobs      *fakeJobs
}

func newDeskFixture(t *testing.T) *deskFixture {
	t.Helper()

	backend := db.NewMockBackend()
	f := &deskFixture{
		e:         echo.New(),
		chats:     cloud.NewMockChatProvider(),
		items:     db.NewWorkItemStore(backend),
		threads:   db.NewThreadStore(backend),
		jwt:       security.NewJWTService("test-secret-key"),
		broadcast: &fakeBroadcast{},
		realtime:  &fakeRealtime{},
		jobs:      &fakeJobs{},
	}

	f.handlers = &Handlers{
		Items:     f.items,
		Threads:   f.threads,
		Chats:     f.chats,
		JWT:       f.jwt,
		Broadcast: f.broadcast,
		Realtime:  f.realtime,
		Jobs:      f.jobs,
		Config: DeskConfig{
			JWTSecret:   "test-secret-key",
			AgentIDs:    []string{"agent-1", "agent-2"},
			OrganizerID: "organizer-1",
		},
	}

	return f
}

// request builds an echo context for a handler invocation.
func (f *deskFixture) request(method, target, body, token string, params ...string) (echo.Context, *httptest.ResponseRecorder) {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	c := f.e.NewContext(req, rec)

	for i := 0; i+1 < len(params); i += 2 {
		c.SetParamNames(params[i])
		c.SetParamValues(params[i+1])
	}

	return c, rec
}

func (f *deskFixture) agentToken(t *testing.T, agentID string) string {
	t.Helper()
	token, err := f.jwt.GenerateToken(agentID, time.Hour)
	require.NoError(t, err)
	return token
}

// startChat runs the bootstrap handler and returns the parsed response.
func (f *deskFixture) startChat(t *testing.T) StartChatResponse {
	t.Helper()

	c, rec := f.request(http.MethodPost, "/chat/start",
		`{"customer_name":"Alice","customer_email":"alice@example.com","topic":"VPN issues"}`, "")
	require.NoError(t, f.handlers.StartChat(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp StartChatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// TestGenerateToken_Success tests successful token generation.
func TestGenerateToken_Success(t *testing.T) {
	f := newDeskFixture(t)

	c, rec := f.request(http.MethodPost, "/auth/token", `{"user_id":"agent@contoso.com"}`, "")
	require.NoError(t, f.handlers.GenerateToken(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	token, err := f.jwt.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "agent@contoso.com", token.Subject())
}

// TestGenerateToken_EmptyUserID tests token generation with empty user ID.
func TestGenerateToken_EmptyUserID(t *testing.T) {
	f := newDeskFixture(t)

	c, rec := f.request(http.MethodPost, "/auth/token", `{"user_id":""}`, "")
	require.NoError(t, f.handlers.GenerateToken(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// TestStartChat tests the conversation bootstrap flow.
func TestStartChat(t *testing.T) {
	t.Run("creates chat, thread, work item and token", func(t *testing.T) {
		f := newDeskFixture(t)
		resp := f.startChat(t)

		assert.NotEmpty(t, resp.ThreadID)
		assert.NotEmpty(t, resp.ChatID)
		assert.NotEmpty(t, resp.WorkItemID)

		// Chat created with the agent pool as members, greeting posted.
		assert.Equal(t, []string{"agent-1", "agent-2"}, f.chats.Chats[resp.ChatID])
		require.Len(t, f.chats.Messages[resp.ChatID], 1)
		assert.Contains(t, f.chats.Messages[resp.ChatID][0].Body, "Alice")

		// Work item starts waiting and links the thread.
		item, err := f.items.Get(context.Background(), resp.WorkItemID)
		require.NoError(t, err)
		assert.Equal(t, desk.StatusWaiting, item.Status)
		assert.Equal(t, resp.ThreadID, item.ThreadID)

		// Thread links back to the work item.
		thread, err := f.threads.Get(context.Background(), resp.ThreadID)
		require.NoError(t, err)
		assert.Equal(t, resp.WorkItemID, thread.WorkItemID)

		// Customer token is scoped to the thread.
		token, err := f.jwt.ValidateToken(resp.Token)
		require.NoError(t, err)
		assert.Equal(t, resp.ThreadID, security.ThreadID(token))

		// Created event fanned out on all three legs.
		require.Len(t, f.broadcast.events, 1)
		assert.Equal(t, desk.EventWorkItemCreated, f.broadcast.events[0].Type)
		require.Len(t, f.realtime.events, 1)
		require.Len(t, f.jobs.jobs, 1)
		assert.Equal(t, resp.WorkItemID, f.jobs.jobs[0].Event.WorkItemID)
	})

	t.Run("missing customer name", func(t *testing.T) {
		f := newDeskFixture(t)

		c, rec := f.request(http.MethodPost, "/chat/start", `{"topic":"help"}`, "")
		require.NoError(t, f.handlers.StartChat(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("chat creation failure", func(t *testing.T) {
		f := newDeskFixture(t)
		f.chats.CreateChatErr = assert.AnError

		c, rec := f.request(http.MethodPost, "/chat/start", `{"customer_name":"Alice"}`, "")
		require.NoError(t, f.handlers.StartChat(c))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

// TestListWorkItems tests listing and status filtering.
func TestListWorkItems(t *testing.T) {
	f := newDeskFixture(t)
	resp := f.startChat(t)
	_, err := f.items.Claim(context.Background(), resp.WorkItemID, "bob@contoso.com")
	require.NoError(t, err)

	second := f.startChat(t)
	_ = second

	t.Run("all items", func(t *testing.T) {
		c, rec := f.request(http.MethodGet, "/api/workitems", "", f.agentToken(t, "bob@contoso.com"))
		require.NoError(t, f.handlers.ListWorkItems(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 2, body.Count)
	})

	t.Run("waiting only", func(t *testing.T) {
		c, rec := f.request(http.MethodGet, "/api/workitems?status=waiting", "", f.agentToken(t, "bob@contoso.com"))
		require.NoError(t, f.handlers.ListWorkItems(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			WorkItems []desk.WorkItem `json:"workitems"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.WorkItems, 1)
		assert.Equal(t, desk.StatusWaiting, body.WorkItems[0].Status)
	})

	t.Run("invalid status", func(t *testing.T) {
		c, rec := f.request(http.MethodGet, "/api/workitems?status=bogus", "", f.agentToken(t, "bob@contoso.com"))
		require.NoError(t, f.handlers.ListWorkItems(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// TestGetWorkItem tests single item retrieval.
func TestGetWorkItem(t *testing.T) {
	f := newDeskFixture(t)
	resp := f.startChat(t)

	t.Run("found", func(t *testing.T) {
		c, rec := f.request(http.MethodGet, "/api/workitems/"+resp.WorkItemID, "",
			f.agentToken(t, "bob@contoso.com"), "id", resp.WorkItemID)
		require.NoError(t, f.handlers.GetWorkItem(c))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("not found", func(t *testing.T) {
		c, rec := f.request(http.MethodGet, "/api/workitems/wi-missing", "",
			f.agentToken(t, "bob@contoso.com"), "id", "wi-missing")
		require.NoError(t, f.handlers.GetWorkItem(c))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

// TestClaimWorkItem tests the claim endpoint and its status mapping.
func TestClaimWorkItem(t *testing.T) {
	t.Run("successful claim", func(t *testing.T) {
		f := newDeskFixture(t)
		resp := f.startChat(t)

		c, rec := f.request(http.MethodPost, "/api/workitems/"+resp.WorkItemID+"/claim", "",
			f.agentToken(t, "bob@contoso.com"), "id", resp.WorkItemID)
		require.NoError(t, f.handlers.ClaimWorkItem(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		var item desk.WorkItem
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
		assert.Equal(t, desk.StatusActive, item.Status)
		assert.Equal(t, "bob@contoso.com", item.AgentID)

		// Agent joined the chat, the join notice posted, and the claim
		// fanned out.
		assert.Contains(t, f.chats.Chats[resp.ChatID], "bob@contoso.com")
		messages := f.chats.Messages[resp.ChatID]
		require.NotEmpty(t, messages)
		assert.Contains(t, messages[len(messages)-1].Body, "bob@contoso.com")
		last := f.broadcast.events[len(f.broadcast.events)-1]
		assert.Equal(t, desk.EventWorkItemClaimed, last.Type)
	})

	t.Run("second claim conflicts", func(t *testing.T) {
		f := newDeskFixture(t)
		resp := f.startChat(t)

		c, rec := f.request(http.MethodPost, "/api/workitems/"+resp.WorkItemID+"/claim", "",
			f.agentToken(t, "bob@contoso.com"), "id", resp.WorkItemID)
		require.NoError(t, f.handlers.ClaimWorkItem(c))
		require.Equal(t, http.StatusOK, rec.Code)

		c, rec = f.request(http.MethodPost, "/api/workitems/"+resp.WorkItemID+"/claim", "",
			f.agentToken(t, "carol@contoso.com"), "id", resp.WorkItemID)
		require.NoError(t, f.handlers.ClaimWorkItem(c))
		assert.Equal(t, http.StatusConflict, rec.Code)

		// The winner keeps the item.
		item, err := f.items.Get(context.Background(), resp.WorkItemID)
		require.NoError(t, err)
		assert.Equal(t, "bob@contoso.com", item.AgentID)
	})

	t.Run("unknown item", func(t *testing.T) {
		f := newDeskFixture(t)

		c, rec := f.request(http.MethodPost, "/api/workitems/wi-missing/claim", "",
			f.agentToken(t, "bob@contoso.com"), "id", "wi-missing")
		require.NoError(t, f.handlers.ClaimWorkItem(c))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("customer token rejected", func(t *testing.T) {
		f := newDeskFixture(t)
		resp := f.startChat(t)

		c, rec := f.request(http.MethodPost, "/api/workitems/"+resp.WorkItemID+"/claim", "",
			resp.Token, "id", resp.WorkItemID)
		require.NoError(t, f.handlers.ClaimWorkItem(c))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

// TestCloseWorkItem tests the close endpoint and its status mapping.
func TestCloseWorkItem(t *testing.T) {
	claim := func(t *testing.T, f *deskFixture, itemID, agent string) {
		t.Helper()
		_, err := f.items.Claim(context.Background(), itemID, agent)
		require.NoError(t, err)
	}

	t.Run("successful close", func(t *testing.T) {
		f := newDeskFixture(t)
		resp := f.startChat(t)
		claim(t, f, resp.WorkItemID, "bob@contoso.com")

		c, rec := f.request(http.MethodPost, "/api/workitems/"+resp.WorkItemID+"/close", "",
			f.agentToken(t, "bob@contoso.com"), "id", resp.WorkItemID)
		require.NoError(t, f.handlers.CloseWorkItem(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		var item desk.WorkItem
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
		assert.Equal(t, desk.StatusClosed, item.Status)

		// Closing message posted, and the closed event reaches the job
		// queue for transcript delivery.
		messages := f.chats.Messages[resp.ChatID]
		require.NotEmpty(t, messages)
		assert.Contains(t, messages[len(messages)-1].Body, "closed")
		last := f.jobs.jobs[len(f.jobs.jobs)-1]
		assert.Equal(t, desk.EventWorkItemClosed, last.Event.Type)
	})

	t.Run("other agent forbidden", func(t *testing.T) {
		f := newDeskFixture(t)
		resp := f.startChat(t)
		claim(t, f, resp.WorkItemID, "bob@contoso.com")

		c, rec := f.request(http.MethodPost, "/api/workitems/"+resp.WorkItemID+"/close", "",
			f.agentToken(t, "carol@contoso.com"), "id", resp.WorkItemID)
		require.NoError(t, f.handlers.CloseWorkItem(c))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("waiting item not closable", func(t *testing.T) {
		f := newDeskFixture(t)
		resp := f.startChat(t)

		c, rec := f.request(http.MethodPost, "/api/workitems/"+resp.WorkItemID+"/close", "",
			f.agentToken(t, "bob@contoso.com"), "id", resp.WorkItemID)
		require.NoError(t, f.handlers.CloseWorkItem(c))
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

// TestThreadMessages tests message relay and thread scoping.
func TestThreadMessages(t *testing.T) {
	t.Run("customer posts into own thread", func(t *testing.T) {
		f := newDeskFixture(t)
		resp := f.startChat(t)

		c, rec := f.request(http.MethodPost, "/api/threads/"+resp.ThreadID+"/messages",
			`{"content":"my VPN keeps dropping"}`, resp.Token, "id", resp.ThreadID)
		require.NoError(t, f.handlers.PostThreadMessage(c))
		assert.Equal(t, http.StatusCreated, rec.Code)

		messages := f.chats.Messages[resp.ChatID]
		require.NotEmpty(t, messages)
		assert.Contains(t, messages[len(messages)-1].Body, "<b>Alice:</b> my VPN keeps dropping")
	})

	t.Run("customer token scoped to its thread", func(t *testing.T) {
		f := newDeskFixture(t)
		first := f.startChat(t)
		second := f.startChat(t)

		c, rec := f.request(http.MethodPost, "/api/threads/"+second.ThreadID+"/messages",
			`{"content":"hi"}`, first.Token, "id", second.ThreadID)
		require.NoError(t, f.handlers.PostThreadMessage(c))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("agent reads any thread", func(t *testing.T) {
		f := newDeskFixture(t)
		resp := f.startChat(t)

		c, rec := f.request(http.MethodGet, "/api/threads/"+resp.ThreadID+"/messages", "",
			f.agentToken(t, "bob@contoso.com"), "id", resp.ThreadID)
		require.NoError(t, f.handlers.ListThreadMessages(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Count int `json:"count"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, 1, body.Count, "greeting message is visible")
	})

	t.Run("empty content rejected", func(t *testing.T) {
		f := newDeskFixture(t)
		resp := f.startChat(t)

		c, rec := f.request(http.MethodPost, "/api/threads/"+resp.ThreadID+"/messages",
			`{"content":"  "}`, resp.Token, "id", resp.ThreadID)
		require.NoError(t, f.handlers.PostThreadMessage(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown thread", func(t *testing.T) {
		f := newDeskFixture(t)

		c, rec := f.request(http.MethodGet, "/api/threads/th-missing/messages", "",
			f.agentToken(t, "bob@contoso.com"), "id", "th-missing")
		require.NoError(t, f.handlers.ListThreadMessages(c))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

// TestScheduleMeeting tests meeting creation for escalations.
func TestScheduleMeeting(t *testing.T) {
	t.Run("creates meeting and stores join URL", func(t *testing.T) {
		f := newDeskFixture(t)
		resp := f.startChat(t)
		_, err := f.items.Claim(context.Background(), resp.WorkItemID, "bob@contoso.com")
		require.NoError(t, err)

		c, rec := f.request(http.MethodPost, "/api/threads/"+resp.ThreadID+"/meeting",
			`{"subject":"Screen share","minutes":45}`, f.agentToken(t, "bob@contoso.com"), "id", resp.ThreadID)
		require.NoError(t, f.handlers.ScheduleMeeting(c))
		assert.Equal(t, http.StatusCreated, rec.Code)

		var meeting MeetingResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meeting))
		assert.Equal(t, f.chats.JoinURL, meeting.JoinURL)

		// Join URL lands on the work item and in the chat.
		item, err := f.items.Get(context.Background(), resp.WorkItemID)
		require.NoError(t, err)
		assert.Equal(t, f.chats.JoinURL, item.MeetingURL)

		messages := f.chats.Messages[resp.ChatID]
		assert.Contains(t, messages[len(messages)-1].Body, meeting.JoinURL)
		assert.Equal(t, []string{"Screen share"}, f.chats.Meetings["organizer-1"])
	})

	t.Run("customer token rejected", func(t *testing.T) {
		f := newDeskFixture(t)
		resp := f.startChat(t)

		c, rec := f.request(http.MethodPost, "/api/threads/"+resp.ThreadID+"/meeting",
			`{}`, resp.Token, "id", resp.ThreadID)
		require.NoError(t, f.handlers.ScheduleMeeting(c))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("bad start time", func(t *testing.T) {
		f := newDeskFixture(t)
		resp := f.startChat(t)

		c, rec := f.request(http.MethodPost, "/api/threads/"+resp.ThreadID+"/meeting",
			`{"start_at":"tomorrow"}`, f.agentToken(t, "bob@contoso.com"), "id", resp.ThreadID)
		require.NoError(t, f.handlers.ScheduleMeeting(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// TestRecentEvents tests the replay endpoint.
func TestRecentEvents(t *testing.T) {
	f := newDeskFixture(t)
	f.startChat(t)
	f.startChat(t)

	c, rec := f.request(http.MethodGet, "/api/events?limit=1", "", f.agentToken(t, "bob@contoso.com"))
	require.NoError(t, f.handlers.RecentEvents(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count  int              `json:"count"`
		Events []desk.DeskEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
}
