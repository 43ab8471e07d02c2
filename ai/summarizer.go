// Package ai generates conversation summaries for closed work items. It
// talks to an OpenAI-compatible chat completion endpoint, either Azure
// OpenAI or api.openai.com, and turns a chat transcript into a short
// resolution summary stored on the work item.
package ai

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ejazhussain/espc2025-sub000/cloud"
)

const systemPrompt = "You are a support desk assistant. Summarize the " +
	"following customer support conversation in at most four sentences. " +
	"State the customer's problem, what the agent did, and whether the " +
	"issue was resolved."

// Summarizer produces a short summary of a chat transcript.
type Summarizer interface {
	Summarize(ctx context.Context, messages []cloud.ChatMessage) (string, error)
}

// Config configures the completion endpoint.
type Config struct {
	// APIKey authenticates against the completion endpoint.
	APIKey string

	// Model is the model or Azure deployment name (defaults to gpt-4o-mini).
	Model string

	// AzureEndpoint, when set, switches the client to Azure OpenAI at this
	// resource URL. When empty the client talks to api.openai.com, or to
	// BaseURL if that is set.
	AzureEndpoint string

	// BaseURL overrides the API base for OpenAI-compatible servers.
	BaseURL string
}

// OpenAISummarizer implements Summarizer over the chat completions API.
type OpenAISummarizer struct {
	client *openai.Client
	model  string
}

// NewOpenAISummarizer creates a summarizer for the configured endpoint.
func NewOpenAISummarizer(config Config) (*OpenAISummarizer, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	model := config.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	var clientConfig openai.ClientConfig
	switch {
	case config.AzureEndpoint != "":
		clientConfig = openai.DefaultAzureConfig(config.APIKey, config.AzureEndpoint)
	case config.BaseURL != "":
		clientConfig = openai.DefaultConfig(config.APIKey)
		clientConfig.BaseURL = config.BaseURL
	default:
		clientConfig = openai.DefaultConfig(config.APIKey)
	}

	return &OpenAISummarizer{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}, nil
}

// Summarize renders the transcript as plain text and asks the model for a
// short resolution summary.
func (s *OpenAISummarizer) Summarize(ctx context.Context, messages []cloud.ChatMessage) (string, error) {
	if len(messages) == 0 {
		return "", fmt.Errorf("no messages to summarize")
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: renderTranscript(messages),
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// renderTranscript flattens the transcript into "sender: body" lines.
func renderTranscript(messages []cloud.ChatMessage) string {
	var b strings.Builder
	for _, msg := range messages {
		from := msg.From
		if from == "" {
			from = "unknown"
		}
		b.WriteString(from)
		b.WriteString(": ")
		b.WriteString(msg.Body)
		b.WriteString("\n")
	}
	return b.String()
}
