// Package xapi talks to room devices through the Webex cloud xAPI.
package xapi

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

	"golang.org/x/oauth2"
)

// ErrNotFound is returned when a status path or command target does not
// exist on the device.
var ErrNotFound = errors.New("xapi: path not found")

// APIError is a non-2xx response from the xAPI.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("xapi: status %d: %s", e.StatusCode, e.Message)
}

// Client issues status, command, and configuration requests for any
// device the token is authorised for.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Credentials select how the client authenticates. A refresh token takes
// precedence over a static access token.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ClientID     string
	ClientSecret string
}

// NewClient creates a client against baseURL (https://webexapis.com/v1).
// transport carries the rate limit and retry policy and is also used for
// token refreshes.
func NewClient(ctx context.Context, baseURL string, creds Credentials, transport *http.Client, logger *slog.Logger) *Client {
	base := strings.TrimRight(baseURL, "/")
	ctx = context.WithValue(ctx, oauth2.HTTPClient, transport)

	var ts oauth2.TokenSource
	if creds.RefreshToken != "" {
		conf := &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  base + "/access_token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
		ts = conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken})
	} else {
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.AccessToken, TokenType: "Bearer"})
	}

	return &Client{
		baseURL:    base,
		httpClient: oauth2.NewClient(ctx, ts),
		logger:     logger,
	}
}

// NewClientWithHTTP creates a client that sends requests through an
// already authenticated http.Client.
func NewClientWithHTTP(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Status reads a status path such as "RoomAnalytics.PeoplePresence".
func (c *Client) Status(ctx context.Context, deviceID, path string) (Value, error) {
	q := url.Values{}
	q.Set("deviceId", deviceID)
	q.Set("name", path)

	var body struct {
		Result any `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, "/xapi/status?"+q.Encode(), "", nil, &body); err != nil {
		return Value{}, fmt.Errorf("status %s on %s: %w", path, deviceID, err)
	}

	v := NewValue(body.Result).Get(path)
	if !v.Exists() {
		return Value{}, fmt.Errorf("status %s on %s: %w", path, deviceID, ErrNotFound)
	}
	return v, nil
}

// Command runs an xAPI command such as "Bookings.Get" and returns its
// result document.
func (c *Client) Command(ctx context.Context, deviceID, name string, args map[string]any) (Value, error) {
	payload := map[string]any{"deviceId": deviceID}
	if len(args) > 0 {
		payload["arguments"] = args
	}

	var body struct {
		Result any `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, "/xapi/command/"+url.PathEscape(name), "application/json", payload, &body); err != nil {
		return Value{}, fmt.Errorf("command %s on %s: %w", name, deviceID, err)
	}
	return NewValue(body.Result), nil
}

// Configure sets device configuration values, keyed by dotted path
// ("HttpClient.Mode" -> "On").
func (c *Client) Configure(ctx context.Context, deviceID string, settings map[string]any) error {
	ops := make([]map[string]any, 0, len(settings))
	for path, value := range settings {
		ops = append(ops, map[string]any{
			"op":    "replace",
			"path":  path + "/sources/configured/value",
			"value": value,
		})
	}

	q := url.Values{}
	q.Set("deviceId", deviceID)
	if err := c.do(ctx, http.MethodPatch, "/deviceConfigurations?"+q.Encode(), "application/json-patch+json", ops, nil); err != nil {
		return fmt.Errorf("configure %s: %w", deviceID, err)
	}
	return nil
}

// Device binds the client to one device.
func (c *Client) Device(deviceID string) *Device {
	return &Device{client: c, id: deviceID}
}

func (c *Client) do(ctx context.Context, method, path, contentType string, in, out any) error {
	var reader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("xAPI request", "method", method, "path", path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Device is a Client bound to one device id.
type Device struct {
	client *Client
	id     string
}

// ID returns the device id.
func (d *Device) ID() string {
	return d.id
}

func (d *Device) Status(ctx context.Context, path string) (Value, error) {
	return d.client.Status(ctx, d.id, path)
}

func (d *Device) Command(ctx context.Context, name string, args map[string]any) (Value, error) {
	return d.client.Command(ctx, d.id, name, args)
}

func (d *Device) Configure(ctx context.Context, settings map[string]any) error {
	return d.client.Configure(ctx, d.id, settings)
}
