package ai

import (
	"context"

	"github.com/ejazhussain/espc2025-sub000/cloud"
)

// MockSummarizer is a canned Summarizer for testing.
type MockSummarizer struct {
	// Summary is returned from Summarize.
	Summary string
	// Err, when set, is returned instead.
	Err error
	// Calls counts Summarize invocations.
	Calls int
	// LastMessages holds the transcript of the most recent call.
	LastMessages []cloud.ChatMessage
}

// Summarize returns the configured summary or error.
func (m *MockSummarizer) Summarize(_ context.Context, messages []cloud.ChatMessage) (string, error) {
	m.Calls++
	m.LastMessages = messages
	if m.Err != nil {
		return "", m.Err
	}
	return m.Summary, nil
}
