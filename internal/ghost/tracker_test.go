package ghost

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/room-release/pkg/clock"
	"github.com/saaga0h/room-release/pkg/config"
	"github.com/saaga0h/room-release/pkg/graph"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

const mailbox = "room@example.com"

// mockCalendar serves a single weekly series plus one standalone event.
type mockCalendar struct {
	events    map[string]graph.Event
	instances []graph.Event
	findErr   error
	declineFn func(id string) error

	declined []string
	updated  map[string]time.Time
}

func newMockCalendar() *mockCalendar {
	return &mockCalendar{
		events: map[string]graph.Event{
			"master-1": {
				ID:         "master-1",
				Type:       graph.EventSeriesMaster,
				Subject:    "Weekly sync",
				Organizer:  graph.Recipient{EmailAddress: graph.EmailAddress{Name: "Ada Lovelace"}},
				Recurrence: &graph.Recurrence{Pattern: graph.RecurrencePattern{Type: "weekly", Interval: 1}},
			},
		},
		updated: map[string]time.Time{},
	}
}

func (m *mockCalendar) FindEvent(ctx context.Context, mb string, start time.Time) (graph.Event, error) {
	if m.findErr != nil {
		return graph.Event{}, m.findErr
	}
	ev, ok := m.events["at:"+start.Format(time.RFC3339)]
	if !ok {
		return graph.Event{}, graph.ErrEventNotFound
	}
	return ev, nil
}

func (m *mockCalendar) GetEvent(ctx context.Context, mb, id string) (graph.Event, error) {
	ev, ok := m.events[id]
	if !ok {
		return graph.Event{}, graph.ErrEventNotFound
	}
	return ev, nil
}

func (m *mockCalendar) Instances(ctx context.Context, mb, seriesID string, from, to time.Time) ([]graph.Event, error) {
	return m.instances, nil
}

func (m *mockCalendar) Decline(ctx context.Context, mb, id, comment string) error {
	if m.declineFn != nil {
		if err := m.declineFn(id); err != nil {
			return err
		}
	}
	m.declined = append(m.declined, id)
	return nil
}

func (m *mockCalendar) UpdateEnd(ctx context.Context, mb, id string, end time.Time) error {
	m.updated[id] = end
	return nil
}

// addOccurrence registers an occurrence of master-1 starting at start.
func (m *mockCalendar) addOccurrence(id string, start time.Time) {
	m.events["at:"+start.Format(time.RFC3339)] = graph.Event{
		ID:             id,
		Type:           graph.EventOccurrence,
		SeriesMasterID: "master-1",
		Start:          graph.NewDateTime(start),
		End:            graph.NewDateTime(start.Add(time.Hour)),
	}
}

func (m *mockCalendar) addSingle(id string, start time.Time) {
	m.events["at:"+start.Format(time.RFC3339)] = graph.Event{
		ID:    id,
		Type:  graph.EventSingle,
		Start: graph.NewDateTime(start),
		End:   graph.NewDateTime(start.Add(time.Hour)),
	}
}

func testOptions() Options {
	cfg := config.NewConfig()
	cfg.GraphEnabled = true
	return NewOptions(cfg)
}

func newFileStore(t *testing.T) *FileStore {
	store, err := OpenFileStore(filepath.Join(t.TempDir(), "graph.json"))
	require.NoError(t, err)
	return store
}

var monday = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestSeriesDeclinedOnThirdStrike(t *testing.T) {
	cal := newMockCalendar()
	cal.instances = []graph.Event{
		{ID: "exc-1", Type: graph.EventException},
		{ID: "occ-9", Type: graph.EventOccurrence},
		{ID: "exc-2", Type: graph.EventException, IsCancelled: true},
	}
	store := newFileStore(t)
	clk := clock.Fake(monday)
	tracker := NewTracker(cal, store, clk, testOptions(), testLogger())
	ctx := context.Background()

	for week := 0; week < 3; week++ {
		start := monday.Add(time.Duration(week) * 7 * 24 * time.Hour)
		clk.AdvanceTo(start.Add(11 * time.Minute))
		cal.addOccurrence("occ-"+string(rune('a'+week)), start)

		out, err := tracker.Handle(ctx, Request{DeviceID: "dev-1", Mailbox: mailbox, Start: start, Ghosted: true})
		require.NoError(t, err)
		require.True(t, out.Handled)

		entries, err := store.Read(ctx, "dev-1")
		require.NoError(t, err)

		if week < 2 {
			assert.Equal(t, ActionShortened, out.Action)
			assert.True(t, out.Success)
			assert.Equal(t, week+1, entries["master-1"].Count)
			assert.Len(t, entries["master-1"].Strikes, week+1)
			assert.Equal(t, start.Add(10*time.Minute), cal.updated["occ-"+string(rune('a'+week))])
			assert.Empty(t, cal.declined)
			continue
		}

		assert.Equal(t, ActionSeriesDeclined, out.Action)
		assert.True(t, out.Success)
		assert.Equal(t, 3, out.Strikes)
		assert.Equal(t, []string{"exc-1", "master-1"}, cal.declined, "exceptions are declined before the master")
		assert.Equal(t, 0, entries["master-1"].Count)
		assert.Equal(t, "Ada Lovelace", entries["master-1"].Organizer)
		assert.Equal(t, "Weekly sync", entries["master-1"].Subject)
	}
}

func TestStrikeCountResetsAfterWindow(t *testing.T) {
	cal := newMockCalendar()
	store := newFileStore(t)
	clk := clock.Fake(monday)
	tracker := NewTracker(cal, store, clk, testOptions(), testLogger())
	ctx := context.Background()

	first := monday
	cal.addOccurrence("occ-1", first)
	_, err := tracker.Handle(ctx, Request{DeviceID: "dev-1", Mailbox: mailbox, Start: first, Ghosted: true})
	require.NoError(t, err)

	// weekly window is 8 days; the next ghost is three weeks later
	later := first.Add(21 * 24 * time.Hour)
	clk.AdvanceTo(later.Add(11 * time.Minute))
	cal.addOccurrence("occ-2", later)
	_, err = tracker.Handle(ctx, Request{DeviceID: "dev-1", Mailbox: mailbox, Start: later, Ghosted: true})
	require.NoError(t, err)

	entries, err := store.Read(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, 1, entries["master-1"].Count)
	assert.Len(t, entries["master-1"].Strikes, 1)
}

func TestFailedSeriesDeclineKeepsCount(t *testing.T) {
	cal := newMockCalendar()
	cal.declineFn = func(id string) error {
		if id == "master-1" {
			return errors.New("forbidden")
		}
		return nil
	}
	store := newFileStore(t)
	opts := testOptions()
	opts.Strikes = 1
	clk := clock.Fake(monday.Add(11 * time.Minute))
	tracker := NewTracker(cal, store, clk, opts, testLogger())

	cal.addOccurrence("occ-1", monday)
	out, err := tracker.Handle(context.Background(), Request{DeviceID: "dev-1", Mailbox: mailbox, Start: monday, Ghosted: true})
	require.NoError(t, err)

	assert.True(t, out.Handled)
	assert.False(t, out.Success)
	entries, _ := store.Read(context.Background(), "dev-1")
	assert.Equal(t, 1, entries["master-1"].Count)
}

func TestSingleGhostFallsThroughToDirectDecline(t *testing.T) {
	cal := newMockCalendar()
	cal.addSingle("single-1", monday)
	tracker := NewTracker(cal, newFileStore(t), clock.Fake(monday), testOptions(), testLogger())

	out, err := tracker.Handle(context.Background(), Request{DeviceID: "dev-1", Mailbox: mailbox, Start: monday, Ghosted: true})
	require.NoError(t, err)
	assert.False(t, out.Handled)
}

func TestEndBookingShortensInsteadOfDeclining(t *testing.T) {
	cal := newMockCalendar()
	cal.addSingle("single-1", monday)
	opts := testOptions()
	opts.EndBooking = true
	clk := clock.Fake(monday.Add(12*time.Minute + 40*time.Second))
	tracker := NewTracker(cal, newFileStore(t), clk, opts, testLogger())

	out, err := tracker.Handle(context.Background(), Request{DeviceID: "dev-1", Mailbox: mailbox, Start: monday})
	require.NoError(t, err)

	assert.True(t, out.Handled)
	assert.Equal(t, ActionShortened, out.Action)
	assert.Equal(t, monday.Add(15*time.Minute), cal.updated["single-1"])
}

func TestShortenNeverEndsBeforeStart(t *testing.T) {
	cal := newMockCalendar()
	cal.addSingle("single-1", monday)
	opts := testOptions()
	opts.EndBooking = true
	clk := clock.Fake(monday.Add(time.Minute))
	tracker := NewTracker(cal, newFileStore(t), clk, opts, testLogger())

	_, err := tracker.Handle(context.Background(), Request{DeviceID: "dev-1", Mailbox: mailbox, Start: monday})
	require.NoError(t, err)
	assert.Equal(t, monday.Add(5*time.Minute), cal.updated["single-1"])
}

func TestTestModeCountsWithoutCalendarChanges(t *testing.T) {
	cal := newMockCalendar()
	store := newFileStore(t)
	opts := testOptions()
	opts.TestMode = true
	clk := clock.Fake(monday.Add(11 * time.Minute))
	tracker := NewTracker(cal, store, clk, opts, testLogger())

	cal.addOccurrence("occ-1", monday)
	out, err := tracker.Handle(context.Background(), Request{DeviceID: "dev-1", Mailbox: mailbox, Start: monday, Ghosted: true})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Empty(t, cal.updated)
	assert.Empty(t, cal.declined)
	entries, _ := store.Read(context.Background(), "dev-1")
	assert.Equal(t, 1, entries["master-1"].Count)
}

func TestHandleSkips(t *testing.T) {
	cal := newMockCalendar()
	cal.addOccurrence("occ-1", monday)
	ctx := context.Background()

	disabled := NewTracker(cal, newFileStore(t), clock.Fake(monday), Options{}, testLogger())
	out, err := disabled.Handle(ctx, Request{DeviceID: "dev-1", Mailbox: mailbox, Start: monday, Ghosted: true})
	require.NoError(t, err)
	assert.False(t, out.Handled)

	tracker := NewTracker(cal, newFileStore(t), clock.Fake(monday), testOptions(), testLogger())

	out, err = tracker.Handle(ctx, Request{DeviceID: "dev-1", Start: monday, Ghosted: true})
	require.NoError(t, err)
	assert.False(t, out.Handled, "no mailbox")

	out, err = tracker.Handle(ctx, Request{DeviceID: "dev-1", Mailbox: mailbox, Start: monday})
	require.NoError(t, err)
	assert.False(t, out.Handled, "not ghosted")

	cal.findErr = errors.New("graph down")
	_, err = tracker.Handle(ctx, Request{DeviceID: "dev-1", Mailbox: mailbox, Start: monday, Ghosted: true})
	assert.Error(t, err)
}

func TestResetWindow(t *testing.T) {
	opts := testOptions()
	day := 24 * time.Hour

	assert.Equal(t, 4*day, opts.ResetWindow("daily"))
	assert.Equal(t, 8*day, opts.ResetWindow("weekly"))
	assert.Equal(t, 32*day, opts.ResetWindow("absoluteMonthly"))
	assert.Equal(t, 32*day, opts.ResetWindow("relativeMonthly"))
	assert.Equal(t, 367*day, opts.ResetWindow("relativeYearly"))
	assert.Equal(t, 8*day, opts.ResetWindow(""))
	assert.Equal(t, 367*day, opts.MaxWindow())
}
