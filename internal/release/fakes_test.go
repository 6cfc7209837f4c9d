package release

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/saaga0h/room-release/internal/ghost"
	"github.com/saaga0h/room-release/pkg/clock"
	"github.com/saaga0h/room-release/pkg/notify"
	"github.com/saaga0h/room-release/pkg/xapi"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func optionsWith(f func(*Options)) Options {
	o := DefaultOptions()
	f(&o)
	return o
}

type commandCall struct {
	name string
	args map[string]any
}

// fakeDevice serves status values from a map and records commands.
type fakeDevice struct {
	mu         sync.Mutex
	status     map[string]any
	statusErr  map[string]error
	responses  map[string]func(args map[string]any) (xapi.Value, error)
	commands   []commandCall
	reads      map[string]int
	configured []map[string]any
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		status:    map[string]any{},
		statusErr: map[string]error{},
		responses: map[string]func(args map[string]any) (xapi.Value, error){},
		reads:     map[string]int{},
	}
}

// newRoomDevice is an empty room with no call or presentation.
func newRoomDevice() *fakeDevice {
	d := newFakeDevice()
	d.set(PathPeoplePresence, "No")
	d.set(PathPeopleCount, "0")
	d.set(PathActiveCalls, "0")
	return d
}

func (d *fakeDevice) set(path string, v any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status[path] = v
}

func (d *fakeDevice) unset(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.status, path)
}

func (d *fakeDevice) respond(name string, fn func(args map[string]any) (xapi.Value, error)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses[name] = fn
}

func (d *fakeDevice) Status(ctx context.Context, path string) (xapi.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads[path]++
	if err := d.statusErr[path]; err != nil {
		return xapi.Value{}, err
	}
	v, ok := d.status[path]
	if !ok {
		return xapi.Value{}, xapi.ErrNotFound
	}
	return xapi.NewValue(v), nil
}

func (d *fakeDevice) Command(ctx context.Context, name string, args map[string]any) (xapi.Value, error) {
	d.mu.Lock()
	d.commands = append(d.commands, commandCall{name: name, args: args})
	fn := d.responses[name]
	d.mu.Unlock()

	if fn == nil {
		return xapi.NewValue(map[string]any{}), nil
	}
	return fn(args)
}

func (d *fakeDevice) Configure(ctx context.Context, settings map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configured = append(d.configured, settings)
	return nil
}

func (d *fakeDevice) commandsNamed(name string) []commandCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []commandCall
	for _, c := range d.commands {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func (d *fakeDevice) readCount(path string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads[path]
}

// withBooking makes the device report a current booking of the given
// length that started at start.
func (d *fakeDevice) withBooking(id string, start time.Time, length time.Duration) {
	d.set(PathAvailabilityStatus, "BookedUntil")
	d.set(PathCurrentBookingID, id)
	d.respond("Bookings.Get", func(args map[string]any) (xapi.Value, error) {
		if args["Id"] != id {
			return xapi.Value{}, &xapi.APIError{StatusCode: 404, Message: "booking not found"}
		}
		return xapi.NewValue(map[string]any{
			"Booking": map[string]any{
				"Id":        id,
				"MeetingId": "meeting-" + id,
				"Title":     "Weekly sync",
				"Organizer": map[string]any{"FirstName": "Ada", "LastName": "Lovelace"},
				"Time": map[string]any{
					"StartTime":         start.Format(time.RFC3339),
					"EndTime":           start.Add(length).Format(time.RFC3339),
					"SecondsSinceStart": "0",
					"SecondsUntilEnd":   strconv.Itoa(int(length.Seconds())),
				},
			},
		}), nil
	})
}

// withSystem makes the device pass configuration checks.
func (d *fakeDevice) withSystem(version, platform string) {
	d.set("SystemUnit.Software.Version", version)
	d.set("SystemUnit.ProductPlatform", platform)
	d.set("SystemUnit.Hardware.Module.SerialNumber", "FOC1234X")
	d.set("UserInterface.ContactInfo.Name", "Huddle 4")
}

// fakeDisplay records UI calls. A countdown that does not continue the
// previous one counts as a new start.
type fakeDisplay struct {
	mu         sync.Mutex
	prompts    int
	countdowns []int
	starts     int
	sounds     int
	clears     int
	closed     bool
}

func (d *fakeDisplay) ShowPrompt() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prompts++
}

func (d *fakeDisplay) ShowCountdown(remaining int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := len(d.countdowns); n == 0 || remaining >= d.countdowns[n-1] {
		d.starts++
	}
	d.countdowns = append(d.countdowns, remaining)
}

func (d *fakeDisplay) PlayAnnouncement() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sounds++
}

func (d *fakeDisplay) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clears++
}

func (d *fakeDisplay) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

func (d *fakeDisplay) startCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts
}

func (d *fakeDisplay) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDisplay) promptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.prompts
}

func (d *fakeDisplay) clearCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clears
}

func (d *fakeDisplay) lastCountdown() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.countdowns) == 0 {
		return -1
	}
	return d.countdowns[len(d.countdowns)-1]
}

// fakeReleaser records release requests. onRelease runs before the
// request is recorded.
type fakeReleaser struct {
	mu        sync.Mutex
	requests  []ReleaseRequest
	at        []time.Time
	clock     clock.Clock
	err       error
	onRelease func()
}

func (r *fakeReleaser) Release(ctx context.Context, req ReleaseRequest) (Result, error) {
	if r.onRelease != nil {
		r.onRelease()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.clock != nil {
		r.at = append(r.at, r.clock.Now())
	}
	if r.err != nil {
		return Result{}, r.err
	}
	return Result{DeviceID: req.DeviceID, Action: ActionDeclined, Success: true, Ghost: req.Ghost}, nil
}

func (r *fakeReleaser) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

// fakeGhosts is a GhostHandler with a canned outcome.
type fakeGhosts struct {
	enabled  bool
	outcome  ghost.Outcome
	err      error
	requests []ghost.Request
}

func (g *fakeGhosts) Enabled() bool { return g.enabled }

func (g *fakeGhosts) Handle(ctx context.Context, req ghost.Request) (ghost.Outcome, error) {
	g.requests = append(g.requests, req)
	return g.outcome, g.err
}

// fakeNotifier records dispatched messages.
type fakeNotifier struct {
	messages []notify.Message
}

func (n *fakeNotifier) Dispatch(ctx context.Context, msg notify.Message) []notify.Delivery {
	n.messages = append(n.messages, msg)
	return []notify.Delivery{{Channel: "webhook"}}
}

// fakeReporter records results.
type fakeReporter struct {
	results []Result
	err     error
}

func (r *fakeReporter) Report(ctx context.Context, res Result) error {
	r.results = append(r.results, res)
	return r.err
}

var errDeviceOffline = errors.New("device offline")
