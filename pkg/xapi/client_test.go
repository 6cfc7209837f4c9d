package xapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/xapi/status", r.URL.Path)
		assert.Equal(t, "dev-1", r.URL.Query().Get("deviceId"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		switch r.URL.Query().Get("name") {
		case "RoomAnalytics.PeoplePresence":
			w.Write([]byte(`{"deviceId":"dev-1","result":{"RoomAnalytics":{"PeoplePresence":"Yes"}}}`))
		default:
			w.Write([]byte(`{"deviceId":"dev-1","result":{}}`))
		}
	}))
	defer srv.Close()

	c := NewClient(context.Background(), srv.URL, Credentials{AccessToken: "secret"}, srv.Client(), testLogger())
	dev := c.Device("dev-1")

	v, err := dev.Status(context.Background(), "RoomAnalytics.PeoplePresence")
	require.NoError(t, err)
	assert.True(t, v.Bool())

	_, err = dev.Status(context.Background(), "RoomAnalytics.Sound.Level.A")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/xapi/command/Bookings.Respond", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "dev-1", body["deviceId"])
		assert.Equal(t, map[string]any{"Type": "Decline", "MeetingId": "m-1"}, body["arguments"])

		w.Write([]byte(`{"deviceId":"dev-1","result":{"status":"OK"}}`))
	}))
	defer srv.Close()

	c := NewClientWithHTTP(srv.URL, srv.Client(), testLogger())
	v, err := c.Command(context.Background(), "dev-1", "Bookings.Respond", map[string]any{"Type": "Decline", "MeetingId": "m-1"})
	require.NoError(t, err)
	assert.Equal(t, "OK", v.Get("status").String())
}

func TestCommandError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"Booking not found"}`))
	}))
	defer srv.Close()

	c := NewClientWithHTTP(srv.URL, srv.Client(), testLogger())
	_, err := c.Command(context.Background(), "dev-1", "Bookings.Get", map[string]any{"Id": "1"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "Booking not found")
}

func TestConfigure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "application/json-patch+json", r.Header.Get("Content-Type"))

		data, _ := io.ReadAll(r.Body)
		var ops []map[string]any
		require.NoError(t, json.Unmarshal(data, &ops))
		require.Len(t, ops, 1)
		assert.Equal(t, "HttpClient.Mode/sources/configured/value", ops[0]["path"])
		assert.Equal(t, "On", ops[0]["value"])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClientWithHTTP(srv.URL, srv.Client(), testLogger())
	require.NoError(t, c.Device("dev-1").Configure(context.Background(), map[string]any{"HttpClient.Mode": "On"}))
}
