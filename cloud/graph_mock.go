package cloud

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockChatProvider is an in-memory ChatProvider for testing. It records
// every call and supports per-method error injection.
type MockChatProvider struct {
	mu sync.Mutex

	// Chats maps chat ID to member IDs.
	Chats map[string][]string
	// Messages maps chat ID to posted messages.
	Messages map[string][]ChatMessage
	// Notifications records activity feed posts per user ID.
	Notifications map[string][]string
	// Meetings records scheduled meeting subjects per organizer.
	Meetings map[string][]string

	// JoinURL is returned from CreateOnlineMeeting.
	JoinURL string

	// Errors to return from operations
	CreateChatErr    error
	AddMemberErr     error
	SendMessageErr   error
	ListMessagesErr  error
	NotificationErr  error
	CreateMeetingErr error

	chatSeq    int
	messageSeq int
}

// NewMockChatProvider returns an empty mock provider.
func NewMockChatProvider() *MockChatProvider {
	return &MockChatProvider{
		Chats:         make(map[string][]string),
		Messages:      make(map[string][]ChatMessage),
		Notifications: make(map[string][]string),
		Meetings:      make(map[string][]string),
		JoinURL:       "https://teams.microsoft.com/l/meetup-join/mock",
	}
}

// CreateChat records a new chat and returns a generated ID.
func (m *MockChatProvider) CreateChat(_ context.Context, memberIDs []string, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateChatErr != nil {
		return "", m.CreateChatErr
	}

	m.chatSeq++
	chatID := fmt.Sprintf("chat-%d", m.chatSeq)
	m.Chats[chatID] = append([]string{}, memberIDs...)
	return chatID, nil
}

// AddMember records a member addition.
func (m *MockChatProvider) AddMember(_ context.Context, chatID string, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AddMemberErr != nil {
		return m.AddMemberErr
	}

	m.Chats[chatID] = append(m.Chats[chatID], userID)
	return nil
}

// SendMessage records a message in the chat.
func (m *MockChatProvider) SendMessage(_ context.Context, chatID string, content string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SendMessageErr != nil {
		return "", m.SendMessageErr
	}

	m.messageSeq++
	msg := ChatMessage{
		ID:        fmt.Sprintf("msg-%d", m.messageSeq),
		From:      "mock",
		Body:      content,
		CreatedAt: time.Now().UTC(),
	}
	m.Messages[chatID] = append(m.Messages[chatID], msg)
	return msg.ID, nil
}

// ListMessages returns the recorded messages for the chat.
func (m *MockChatProvider) ListMessages(_ context.Context, chatID string) ([]ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ListMessagesErr != nil {
		return nil, m.ListMessagesErr
	}

	return append([]ChatMessage{}, m.Messages[chatID]...), nil
}

// SendActivityNotification records the notification topic for the user.
func (m *MockChatProvider) SendActivityNotification(_ context.Context, userID string, topic string, _ string, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.NotificationErr != nil {
		return m.NotificationErr
	}

	m.Notifications[userID] = append(m.Notifications[userID], topic)
	return nil
}

// CreateOnlineMeeting records the meeting and returns the configured join
// URL.
func (m *MockChatProvider) CreateOnlineMeeting(_ context.Context, organizerID string, subject string, _ time.Time, _ time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateMeetingErr != nil {
		return "", m.CreateMeetingErr
	}

	m.Meetings[organizerID] = append(m.Meetings[organizerID], subject)
	return m.JoinURL, nil
}
