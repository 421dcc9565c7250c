// Package email delivers transactional email through the Resend API.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"saas_template/internal/utils"
)

const (
	DefaultBaseURL = "https://api.resend.com"
	DefaultFrom    = "onboarding@resend.dev"

	WelcomeSubject = "Welcome to Our App!"
)

// Config configures a Sender
type Config struct {
	APIKey     string // empty disables delivery
	BaseURL    string
	From       string
	HTTPClient *http.Client
}

// Sender sends transactional email
type Sender struct {
	apiKey     string
	baseURL    string
	from       string
	httpClient *http.Client
	logger     *utils.Logger
}

// NewSender creates a sender
func NewSender(cfg Config) *Sender {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	from := cfg.From
	if from == "" {
		from = DefaultFrom
	}
	return &Sender{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		from:       from,
		httpClient: httpClient,
		logger:     utils.NewLogger("email"),
	}
}

// Enabled reports whether an API key is configured
func (s *Sender) Enabled() bool {
	return s.apiKey != ""
}

// SendWelcome sends the welcome email. Without an API key it only logs and
// returns an empty id.
func (s *Sender) SendWelcome(ctx context.Context, to string, firstName *string) (string, error) {
	if to == "" {
		return "", fmt.Errorf("recipient is required")
	}
	if !s.Enabled() {
		s.logger.Info(fmt.Sprintf("Email sending disabled (no RESEND_API_KEY). Would have sent welcome email to %s", to))
		return "", nil
	}

	name := "there"
	if firstName != nil && *firstName != "" {
		name = *firstName
	}

	id, err := s.send(ctx, to, WelcomeSubject, WelcomeHTML(name))
	if err != nil {
		return "", err
	}
	s.logger.Info(fmt.Sprintf("Welcome email sent to %s", to), "email_id", id)
	return id, nil
}

// WelcomeHTML renders the welcome message body
func WelcomeHTML(name string) string {
	return fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h1 style="color: #333;">Welcome, %s!</h1>
  <p style="color: #666; font-size: 16px;">Thanks for signing up! We're excited to have you on board.</p>
  <p style="color: #666; font-size: 16px;">Get started by exploring the app and let us know if you have any questions.</p>
  <p style="color: #666; font-size: 14px; margin-top: 30px;">Best regards,<br/>The Team</p>
</div>`, html.EscapeString(name))
}

func (s *Sender) send(ctx context.Context, to, subject, htmlBody string) (string, error) {
	body := []byte(`{}`)
	var err error
	for _, kv := range []struct {
		path  string
		value interface{}
	}{
		{"from", s.from},
		{"to", []string{to}},
		{"subject", subject},
		{"html", htmlBody},
	} {
		if body, err = sjson.SetBytes(body, kv.path, kv.value); err != nil {
			return "", fmt.Errorf("failed to build email: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read email response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(respBody, "message").String()
		if msg == "" {
			msg = string(respBody)
		}
		return "", fmt.Errorf("email API returned %d: %s", resp.StatusCode, msg)
	}
	return gjson.GetBytes(respBody, "id").String(), nil
}
