package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

var messageTemplate = template.Must(template.New("release").Parse(
	`<blockquote class="{{if .Success}}success{{else}}warning{{end}}">` +
		`<strong>Room Release: {{.Status}}</strong><br>` +
		`<strong>System Name:</strong> {{.SystemName}}<br>` +
		`<strong>Serial:</strong> {{.Serial}}<br>` +
		`<strong>Platform:</strong> {{.Platform}}<br>` +
		`<strong>Organizer:</strong> {{.Organizer}}<br>` +
		`<strong>Start Time:</strong> {{.StartTime.Format "2006-01-02 15:04 MST"}}<br>` +
		`<strong>Decline Status:</strong> {{.Status}}` +
		`{{if .Ghost}}<br><em>Booking was never attended</em>{{end}}` +
		`{{if .TestMode}}<br><em>Test mode: no changes were made</em>{{end}}` +
		`</blockquote>`))

// RenderHTML formats msg for a Webex space.
func RenderHTML(msg Message) (string, error) {
	var buf bytes.Buffer
	if err := messageTemplate.Execute(&buf, msg); err != nil {
		return "", fmt.Errorf("failed to render message: %w", err)
	}
	return buf.String(), nil
}

// WebexChannel posts to a Webex space or person with a bot token.
type WebexChannel struct {
	client  *http.Client
	baseURL string
	roomID  string
	email   string
	logger  *slog.Logger
}

// NewWebexChannel creates a channel posting to baseURL/messages. Either
// roomID or email selects the destination.
func NewWebexChannel(ctx context.Context, baseURL, token, roomID, email string, transport *http.Client, logger *slog.Logger) *WebexChannel {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, transport)
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})

	return &WebexChannel{
		client:  oauth2.NewClient(ctx, ts),
		baseURL: strings.TrimRight(baseURL, "/"),
		roomID:  roomID,
		email:   email,
		logger:  logger,
	}
}

func (w *WebexChannel) Name() string { return "webex" }

func (w *WebexChannel) Send(ctx context.Context, msg Message) error {
	html, err := RenderHTML(msg)
	if err != nil {
		return err
	}

	body := map[string]string{"html": html}
	if w.roomID != "" {
		body["roomId"] = w.roomID
	} else {
		body["toPersonEmail"] = w.email
	}
	return postJSON(ctx, w.client, w.baseURL+"/messages", body, nil)
}

func postJSON(ctx context.Context, client *http.Client, url string, body any, headers map[string]string) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("notification rejected with status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
