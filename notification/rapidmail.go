package notification

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	desk "github.com/ejazhussain/espc2025-sub000/common"
)

// Mailer delivers a rendered HTML document to one recipient.
type Mailer interface {
	Send(ctx context.Context, toEmail, toName, subject, html string) error
}

// RapidMailConfig contains the RapidMail API settings.
type RapidMailConfig struct {
	// APIURL is the mailings endpoint (defaults to the RapidMail v3 API).
	APIURL string

	// APIUser and APIPass authenticate via HTTP basic auth.
	APIUser string
	APIPass string

	// FromName and FromEmail identify the sender.
	FromName  string
	FromEmail string
}

// RapidMailer sends transcript emails through the RapidMail mailings API.
// RapidMail expects the HTML content packaged as a base64-encoded ZIP
// archive inside the mailing payload.
type RapidMailer struct {
	config RapidMailConfig
	client *http.Client
}

// NewRapidMailer creates a mailer for the given API credentials.
func NewRapidMailer(config RapidMailConfig) *RapidMailer {
	if config.APIURL == "" {
		config.APIURL = "https://apiv3.emailsys.net/mailings"
	}
	return &RapidMailer{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// zipHTML packages the HTML document into an in-memory ZIP archive.
func zipHTML(html string) ([]byte, error) {
	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)

	writer, err := zipWriter.Create("transcript.html")
	if err != nil {
		return nil, err
	}
	if _, err := writer.Write([]byte(html)); err != nil {
		return nil, err
	}
	if err := zipWriter.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// encodeContent packages and base64-encodes the HTML document, the format
// the RapidMail API requires for mailing content.
func encodeContent(html string) (string, error) {
	zipped, err := zipHTML(html)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(zipped), nil
}

// Send creates and schedules a mailing for the recipient.
func (m *RapidMailer) Send(ctx context.Context, toEmail, toName, subject, html string) error {
	content, err := encodeContent(html)
	if err != nil {
		return fmt.Errorf("failed to encode mail content: %w", err)
	}

	payload := map[string]interface{}{
		"status": "scheduled",
		"destinations": []map[string]interface{}{
			{"email": toEmail, "firstname": toName},
		},
		"from_name":      m.config.FromName,
		"from_email":     m.config.FromEmail,
		"subject":        subject,
		"check_ecg":      "no",
		"check_robinson": "no",
		"file": map[string]string{
			"content": content,
			"type":    "application/zip",
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal mailing payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", m.config.APIURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create mailing request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(m.config.APIUser, m.config.APIPass)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send mailing: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read mailing response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return fmt.Errorf("mailing request failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	desk.Logger.WithField("to", toEmail).Debug("sent transcript mail")
	return nil
}

// MockMailer records sent mails for testing.
type MockMailer struct {
	// Sent records one entry per Send call.
	Sent []SentMail
	// Err, when set, is returned from Send.
	Err error
}

// SentMail is one recorded Send call.
type SentMail struct {
	ToEmail string
	ToName  string
	Subject string
	HTML    string
}

// Send records the mail or returns the injected error.
func (m *MockMailer) Send(_ context.Context, toEmail, toName, subject, html string) error {
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentMail{ToEmail: toEmail, ToName: toName, Subject: subject, HTML: html})
	return nil
}
