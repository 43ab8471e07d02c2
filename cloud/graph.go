// Package cloud provides the Microsoft Teams integration for the support
// desk. All customer conversations live in Teams group chats; this package
// wraps the Microsoft Graph API operations the desk needs to create those
// chats, move messages in and out of them, post activity feed notifications
// to agents, and schedule escalation meetings.
//
// Authentication uses the Azure AD client credentials flow (application
// permissions), suitable for the service-to-service calls the desk makes.
//
// Required Graph API Permissions:
//   - Chat.Create and ChatMessage.Send for conversation management
//   - Chat.Read.All for transcript retrieval
//   - TeamsActivity.Send for agent activity feed notifications
//   - OnlineMeetings.ReadWrite for escalation meeting scheduling
//
// Rate Limiting:
//
//	Microsoft Graph throttles high-volume callers. Transcript retrieval and
//	notification fan-out run on the background worker pool so a throttled
//	call delays a job, never a customer request.
package cloud

import (
	"context"
	"fmt"
	"time"

	azidentity "github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	msgraphcore "github.com/microsoftgraph/msgraph-sdk-go-core"
	"github.com/microsoftgraph/msgraph-sdk-go/chats"
	"github.com/microsoftgraph/msgraph-sdk-go/models"
	"github.com/microsoftgraph/msgraph-sdk-go/users"

	desk "github.com/ejazhussain/espc2025-sub000/common"
)

// ChatMessage is one message pulled out of a Teams chat, reduced to the
// fields the transcript and summary pipelines need.
type ChatMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatProvider is the Teams surface the API handlers and workers depend on.
// GraphClient implements it against Microsoft Graph; MockChatProvider
// implements it in memory for tests.
type ChatProvider interface {
	// CreateChat creates a group chat with the given member object IDs and
	// topic, returning the new chat ID.
	CreateChat(ctx context.Context, memberIDs []string, topic string) (string, error)

	// AddMember adds a user to an existing chat.
	AddMember(ctx context.Context, chatID string, userID string) error

	// SendMessage posts an HTML message into a chat and returns the
	// message ID.
	SendMessage(ctx context.Context, chatID string, content string) (string, error)

	// ListMessages returns all messages of a chat, oldest first.
	ListMessages(ctx context.Context, chatID string) ([]ChatMessage, error)

	// SendActivityNotification posts an entry to a user's Teams activity
	// feed pointing at webURL.
	SendActivityNotification(ctx context.Context, userID string, topic string, preview string, webURL string) error

	// CreateOnlineMeeting schedules a meeting on behalf of the organizer
	// and returns the join URL.
	CreateOnlineMeeting(ctx context.Context, organizerID string, subject string, start time.Time, end time.Time) (string, error)
}

// GraphConfig contains the Azure AD application credentials.
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// GraphClient implements ChatProvider against Microsoft Graph.
type GraphClient struct {
	client *msgraphsdk.GraphServiceClient
}

// NewGraphClient authenticates with the client credentials flow and returns
// a Graph client scoped to https://graph.microsoft.com/.default.
func NewGraphClient(config GraphConfig) (*GraphClient, error) {
	cred, err := azidentity.NewClientSecretCredential(
		config.TenantID,
		config.ClientID,
		config.ClientSecret,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create credentials: %w", err)
	}

	client, err := msgraphsdk.NewGraphServiceClientWithCredentials(
		cred,
		[]string{"https://graph.microsoft.com/.default"},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph client: %w", err)
	}

	return &GraphClient{client: client}, nil
}

// aadMember builds an aadUserConversationMember payload binding a directory
// user into a chat.
func aadMember(userID string) models.ConversationMemberable {
	member := models.NewAadUserConversationMember()
	member.SetRoles([]string{"owner"})
	member.SetAdditionalData(map[string]interface{}{
		"user@odata.bind": fmt.Sprintf("https://graph.microsoft.com/v1.0/users('%s')", userID),
	})
	return member
}

// CreateChat creates a Teams group chat containing the given members.
func (g *GraphClient) CreateChat(ctx context.Context, memberIDs []string, topic string) (string, error) {
	chatType := models.GROUP_CHATTYPE

	chat := models.NewChat()
	chat.SetChatType(&chatType)
	chat.SetTopic(&topic)

	members := make([]models.ConversationMemberable, 0, len(memberIDs))
	for _, id := range memberIDs {
		members = append(members, aadMember(id))
	}
	chat.SetMembers(members)

	created, err := g.client.Chats().Post(ctx, chat, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create chat: %w", err)
	}

	chatID := created.GetId()
	if chatID == nil {
		return "", fmt.Errorf("chat created without an ID")
	}

	desk.Logger.WithField("chat_id", *chatID).Debug("created Teams chat")
	return *chatID, nil
}

// AddMember adds a directory user to an existing chat.
func (g *GraphClient) AddMember(ctx context.Context, chatID string, userID string) error {
	_, err := g.client.Chats().ByChatId(chatID).Members().Post(ctx, aadMember(userID), nil)
	if err != nil {
		return fmt.Errorf("failed to add chat member: %w", err)
	}
	return nil
}

// SendMessage posts an HTML-bodied message into a chat.
func (g *GraphClient) SendMessage(ctx context.Context, chatID string, content string) (string, error) {
	bodyType := models.HTML_BODYTYPE

	body := models.NewItemBody()
	body.SetContentType(&bodyType)
	body.SetContent(&content)

	message := models.NewChatMessage()
	message.SetBody(body)

	sent, err := g.client.Chats().ByChatId(chatID).Messages().Post(ctx, message, nil)
	if err != nil {
		return "", fmt.Errorf("failed to send chat message: %w", err)
	}

	messageID := sent.GetId()
	if messageID == nil {
		return "", fmt.Errorf("message sent without an ID")
	}
	return *messageID, nil
}

// ListMessages retrieves the full message history of a chat, oldest first.
// Uses the SDK page iterator so long conversations are walked page by page.
func (g *GraphClient) ListMessages(ctx context.Context, chatID string) ([]ChatMessage, error) {
	opts := &chats.ItemMessagesRequestBuilderGetRequestConfiguration{
		QueryParameters: &chats.ItemMessagesRequestBuilderGetQueryParameters{
			Top: ptrInt32(50),
		},
	}

	resp, err := g.client.Chats().ByChatId(chatID).Messages().Get(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}

	iterator, err := msgraphcore.NewPageIterator[models.ChatMessageable](
		resp,
		g.client.GetAdapter(),
		models.CreateChatMessageCollectionResponseFromDiscriminatorValue,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create message iterator: %w", err)
	}

	var messages []ChatMessage
	err = iterator.Iterate(ctx, func(msg models.ChatMessageable) bool {
		messages = append(messages, reduceMessage(msg))
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate chat messages: %w", err)
	}

	// Graph returns newest first; transcripts read top to bottom.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// reduceMessage maps a Graph chat message onto the desk's transcript shape.
func reduceMessage(msg models.ChatMessageable) ChatMessage {
	var out ChatMessage

	if id := msg.GetId(); id != nil {
		out.ID = *id
	}
	if created := msg.GetCreatedDateTime(); created != nil {
		out.CreatedAt = *created
	}
	if body := msg.GetBody(); body != nil && body.GetContent() != nil {
		out.Body = *body.GetContent()
	}
	if from := msg.GetFrom(); from != nil {
		if user := from.GetUser(); user != nil && user.GetDisplayName() != nil {
			out.From = *user.GetDisplayName()
		}
	}

	return out
}

// SendActivityNotification posts an entry to a user's Teams activity feed.
// The topic renders as the feed item title and webURL is where the click
// lands, normally the agent console deep link for the work item.
func (g *GraphClient) SendActivityNotification(ctx context.Context, userID string, topic string, preview string, webURL string) error {
	source := models.TEXT_TEAMWORKACTIVITYTOPICSOURCE
	previewType := models.TEXT_BODYTYPE
	activityType := "supportRequest"

	feedTopic := models.NewTeamworkActivityTopic()
	feedTopic.SetSource(&source)
	feedTopic.SetValue(&topic)
	feedTopic.SetWebUrl(&webURL)

	previewText := models.NewItemBody()
	previewText.SetContentType(&previewType)
	previewText.SetContent(&preview)

	body := users.NewItemTeamworkSendActivityNotificationPostRequestBody()
	body.SetTopic(feedTopic)
	body.SetActivityType(&activityType)
	body.SetPreviewText(previewText)

	err := g.client.Users().ByUserId(userID).Teamwork().SendActivityNotification().Post(ctx, body, nil)
	if err != nil {
		return fmt.Errorf("failed to send activity notification: %w", err)
	}

	desk.Logger.WithField("user", userID).Debug("sent activity feed notification")
	return nil
}

// CreateOnlineMeeting schedules a Teams meeting on behalf of the organizer
// and returns the join URL.
func (g *GraphClient) CreateOnlineMeeting(ctx context.Context, organizerID string, subject string, start time.Time, end time.Time) (string, error) {
	meeting := models.NewOnlineMeeting()
	meeting.SetSubject(&subject)
	meeting.SetStartDateTime(&start)
	meeting.SetEndDateTime(&end)

	created, err := g.client.Users().ByUserId(organizerID).OnlineMeetings().Post(ctx, meeting, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create online meeting: %w", err)
	}

	joinURL := created.GetJoinWebUrl()
	if joinURL == nil {
		return "", fmt.Errorf("meeting created without a join URL")
	}
	return *joinURL, nil
}

// ptrInt32 creates a pointer to an int32 value for use with Microsoft Graph
// API query parameters, where the SDK expects pointer types for optional
// values.
func ptrInt32(i int32) *int32 {
	return &i
}
