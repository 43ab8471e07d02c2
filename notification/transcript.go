// Package notification renders and delivers conversation transcripts.
// When a work item closes, the full Teams chat history is rendered as an
// HTML document and mailed to the customer through the RapidMail API.
//
// Features:
//   - HTML transcript rendering from chat message history
//   - ZIP packaging and base64 encoding of email content
//   - Email delivery through RapidMail mailings
package notification

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	desk "github.com/ejazhussain/espc2025-sub000/common"
	"github.com/ejazhussain/espc2025-sub000/cloud"
)

const transcriptTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Support conversation transcript</title>
</head>
<body>
<h1>Support conversation: {{.Topic}}</h1>
<p>Hello {{.CustomerName}},</p>
<p>thank you for contacting support. Below is the transcript of your conversation{{if .AgentID}} with {{.AgentID}}{{end}}.</p>
{{if .Summary}}<h2>Summary</h2>
<p>{{.Summary}}</p>
{{end}}<h2>Transcript</h2>
<table>
{{range .Messages}}<tr><td><b>{{.From}}</b></td><td>{{.When}}</td><td>{{.Body}}</td></tr>
{{end}}</table>
<p>This conversation was closed on {{.ClosedAt}}.</p>
</body>
</html>
`

var transcriptTmpl = template.Must(template.New("transcript").Parse(transcriptTemplate))

type transcriptMessage struct {
	From string
	When string
	Body template.HTML
}

type transcriptData struct {
	Topic        string
	CustomerName string
	AgentID      string
	Summary      string
	ClosedAt     string
	Messages     []transcriptMessage
}

// BuildTranscriptHTML renders the chat history of a closed work item as a
// standalone HTML document. Message bodies come from Teams already as HTML
// and are embedded as-is; all other fields are escaped.
func BuildTranscriptHTML(item *desk.WorkItem, messages []cloud.ChatMessage) (string, error) {
	closedAt := time.Now().UTC()
	if item.ClosedAt != nil {
		closedAt = *item.ClosedAt
	}

	data := transcriptData{
		Topic:        item.Topic,
		CustomerName: item.CustomerName,
		AgentID:      item.AgentID,
		Summary:      item.Summary,
		ClosedAt:     closedAt.Format("2006-01-02 15:04 UTC"),
	}

	for _, msg := range messages {
		data.Messages = append(data.Messages, transcriptMessage{
			From: msg.From,
			When: msg.CreatedAt.Format("2006-01-02 15:04"),
			Body: template.HTML(msg.Body),
		})
	}

	var buf bytes.Buffer
	if err := transcriptTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render transcript: %w", err)
	}

	return buf.String(), nil
}
