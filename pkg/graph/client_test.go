package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

var bookingStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestFindEventFollowsPages(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, `outlook.timezone="UTC"`, r.Header.Get("Prefer"))
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `{"value":[{"id":"occ-1","type":"occurrence","seriesMasterId":"master-1",
				"start":{"dateTime":"2026-03-02T09:00:00.0000000","timeZone":"UTC"},
				"end":{"dateTime":"2026-03-02T10:00:00.0000000","timeZone":"UTC"}}]}`)
			return
		}
		assert.Equal(t, "/users/room@example.com/calendarView", r.URL.Path)
		fmt.Fprintf(w, `{"value":[{"id":"other","type":"singleInstance",
			"start":{"dateTime":"2026-03-02T08:00:00.0000000","timeZone":"UTC"}}],
			"@odata.nextLink":"%s/users/room@example.com/calendarView?page=2"}`, srv.URL)
	}))
	defer srv.Close()

	c := NewClientWithHTTP(srv.URL, srv.Client(), testLogger())
	ev, err := c.FindEvent(context.Background(), "room@example.com", bookingStart)
	require.NoError(t, err)

	assert.Equal(t, "occ-1", ev.ID)
	assert.True(t, ev.InSeries())
	end, err := ev.End.Time()
	require.NoError(t, err)
	assert.Equal(t, bookingStart.Add(time.Hour), end)
}

func TestFindEventNoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"value":[]}`)
	}))
	defer srv.Close()

	c := NewClientWithHTTP(srv.URL, srv.Client(), testLogger())
	_, err := c.FindEvent(context.Background(), "room@example.com", bookingStart)
	assert.True(t, errors.Is(err, ErrEventNotFound))
}

func TestDeclineAndUpdateEnd(t *testing.T) {
	var declined, patched map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/users/room@example.com/events/ev-1/decline":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&declined))
			w.WriteHeader(http.StatusAccepted)
		case r.Method == http.MethodPatch && r.URL.Path == "/users/room@example.com/events/ev-1":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&patched))
			fmt.Fprint(w, `{}`)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := NewClientWithHTTP(srv.URL, srv.Client(), testLogger())
	require.NoError(t, c.Decline(context.Background(), "room@example.com", "ev-1", "released"))
	require.NoError(t, c.UpdateEnd(context.Background(), "room@example.com", "ev-1", bookingStart.Add(15*time.Minute)))

	assert.Equal(t, "released", declined["comment"])
	assert.Equal(t, true, declined["sendResponse"])
	assert.Equal(t, map[string]any{"dateTime": "2026-03-02T09:15:00", "timeZone": "UTC"}, patched["end"])
}

func TestGetEventNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClientWithHTTP(srv.URL, srv.Client(), testLogger())
	_, err := c.GetEvent(context.Background(), "room@example.com", "missing")
	assert.True(t, errors.Is(err, ErrEventNotFound))
}

func TestDateTimeZone(t *testing.T) {
	d := DateTimeTimeZone{DateTime: "2026-03-02T10:00:00.0000000", TimeZone: "Europe/Helsinki"}
	got, err := d.Time()
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)))

	_, err = DateTimeTimeZone{DateTime: "yesterday"}.Time()
	assert.Error(t, err)
}
