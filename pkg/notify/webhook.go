package notify

import (
	"context"
	"log/slog"
	"net/http"
)

// WebhookChannel posts the message as JSON to a URL.
type WebhookChannel struct {
	client *http.Client
	url    string
	logger *slog.Logger
}

func NewWebhookChannel(url string, client *http.Client, logger *slog.Logger) *WebhookChannel {
	return &WebhookChannel{client: client, url: url, logger: logger}
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) Send(ctx context.Context, msg Message) error {
	return postJSON(ctx, w.client, w.url, msg, map[string]string{"X-Release-Id": msg.ID})
}
