// Package graph is a minimal Microsoft Graph calendar client for room
// mailboxes, authenticated with client credentials.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// ErrEventNotFound means no calendar event matched the booking.
var ErrEventNotFound = errors.New("graph: event not found")

// Options configures the Graph client.
type Options struct {
	APIURL       string // https://graph.microsoft.com/v1.0
	AuthURL      string // https://login.microsoftonline.com
	Tenant       string
	ClientID     string
	ClientSecret string
}

// Client calls the Graph calendar API on behalf of room mailboxes.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a client that fetches application tokens through
// transport and sends API calls through the same transport.
func NewClient(ctx context.Context, opts Options, transport *http.Client, logger *slog.Logger) *Client {
	conf := &clientcredentials.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", strings.TrimRight(opts.AuthURL, "/"), opts.Tenant),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, transport)

	return &Client{
		baseURL:    strings.TrimRight(opts.APIURL, "/"),
		httpClient: conf.Client(ctx),
		logger:     logger,
	}
}

// NewClientWithHTTP uses an already authenticated http.Client.
func NewClientWithHTTP(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient, logger: logger}
}

type eventPage struct {
	Value    []Event `json:"value"`
	NextLink string  `json:"@odata.nextLink"`
}

// CalendarView lists events overlapping [from, to) in the mailbox.
func (c *Client) CalendarView(ctx context.Context, mailbox string, from, to time.Time) ([]Event, error) {
	q := url.Values{}
	q.Set("startDateTime", from.UTC().Format(time.RFC3339))
	q.Set("endDateTime", to.UTC().Format(time.RFC3339))
	return c.listEvents(ctx, fmt.Sprintf("/users/%s/calendarView?%s", url.PathEscape(mailbox), q.Encode()))
}

// FindEvent returns the event in mailbox starting at start, allowing one
// minute of skew.
func (c *Client) FindEvent(ctx context.Context, mailbox string, start time.Time) (Event, error) {
	events, err := c.CalendarView(ctx, mailbox, start.Add(-time.Minute), start.Add(time.Minute))
	if err != nil {
		return Event{}, err
	}

	for _, ev := range events {
		if ev.IsCancelled {
			continue
		}
		t, err := ev.Start.Time()
		if err != nil {
			continue
		}
		if d := t.Sub(start); d >= -time.Minute && d <= time.Minute {
			return ev, nil
		}
	}
	return Event{}, fmt.Errorf("%w: %s at %s", ErrEventNotFound, mailbox, start.UTC().Format(time.RFC3339))
}

// GetEvent fetches one event.
func (c *Client) GetEvent(ctx context.Context, mailbox, id string) (Event, error) {
	var ev Event
	if err := c.do(ctx, http.MethodGet, c.eventPath(mailbox, id), nil, &ev); err != nil {
		return Event{}, fmt.Errorf("failed to get event %s: %w", id, err)
	}
	return ev, nil
}

// Instances lists occurrences and exceptions of a series in [from, to).
func (c *Client) Instances(ctx context.Context, mailbox, seriesID string, from, to time.Time) ([]Event, error) {
	q := url.Values{}
	q.Set("startDateTime", from.UTC().Format(time.RFC3339))
	q.Set("endDateTime", to.UTC().Format(time.RFC3339))
	return c.listEvents(ctx, c.eventPath(mailbox, seriesID)+"/instances?"+q.Encode())
}

// Decline declines an event as the room, notifying the organizer.
func (c *Client) Decline(ctx context.Context, mailbox, id, comment string) error {
	body := map[string]any{"comment": comment, "sendResponse": true}
	if err := c.do(ctx, http.MethodPost, c.eventPath(mailbox, id)+"/decline", body, nil); err != nil {
		return fmt.Errorf("failed to decline event %s: %w", id, err)
	}
	return nil
}

// UpdateEnd moves the end of an event.
func (c *Client) UpdateEnd(ctx context.Context, mailbox, id string, end time.Time) error {
	body := map[string]any{"end": NewDateTime(end)}
	if err := c.do(ctx, http.MethodPatch, c.eventPath(mailbox, id), body, nil); err != nil {
		return fmt.Errorf("failed to update end of event %s: %w", id, err)
	}
	return nil
}

func (c *Client) eventPath(mailbox, id string) string {
	return fmt.Sprintf("/users/%s/events/%s", url.PathEscape(mailbox), url.PathEscape(id))
}

func (c *Client) listEvents(ctx context.Context, path string) ([]Event, error) {
	var events []Event
	next := c.baseURL + path
	for next != "" {
		var page eventPage
		if err := c.doURL(ctx, http.MethodGet, next, nil, &page); err != nil {
			return nil, err
		}
		events = append(events, page.Value...)
		next = page.NextLink
	}
	return events, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	return c.doURL(ctx, method, c.baseURL+path, in, out)
}

func (c *Client) doURL(ctx context.Context, method, target string, in, out any) error {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)

	c.logger.Debug("Graph request", "method", method, "url", target)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrEventNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("graph returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
