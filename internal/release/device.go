package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/saaga0h/room-release/pkg/xapi"
)

// ErrUnsupportedDevice rejects enrollment of a device that cannot provide
// the telemetry the release logic needs.
var ErrUnsupportedDevice = errors.New("unsupported device")

// Device is the command and status channel for one device.
type Device interface {
	Status(ctx context.Context, path string) (xapi.Value, error)
	Command(ctx context.Context, name string, args map[string]any) (xapi.Value, error)
	Configure(ctx context.Context, settings map[string]any) error
}

// DeviceSource resolves a device id to its channel.
type DeviceSource func(deviceID string) Device

// SysInfo is read once when a device is enrolled.
type SysInfo struct {
	Name      string `json:"name"`
	Serial    string `json:"serial"`
	Platform  string `json:"platform"`
	Version   string `json:"version"`
	Mailbox   string `json:"mailbox,omitempty"`
	MTR       bool   `json:"mtr"`
	MoveAlert bool   `json:"move_alert"`
}

// Version is a four part RoomOS software version.
type Version [4]int

// MinVersion is the oldest RoomOS release with the required analytics.
var MinVersion = Version{11, 0, 0, 0}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)\.(\d+)`)

// ParseVersion extracts the first four part version in s, for example
// "ce11.14.1.4 a1b2c3d" or "RoomOS 11.9.1.13".
func ParseVersion(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("no version in %q", s)
	}
	var v Version
	for i := range v {
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
		}
		v[i] = n
	}
	return v, nil
}

// AtLeast reports whether v >= min.
func (v Version) AtLeast(min Version) bool {
	for i := range v {
		if v[i] != min[i] {
			return v[i] > min[i]
		}
	}
	return true
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v[0], v[1], v[2], v[3])
}

// deviceSettings are applied at enrollment so analytics are reported
// outside calls.
var deviceSettings = map[string]any{
	"HttpClient.Mode":                      "On",
	"RoomAnalytics.PeopleCountOutOfCall":   "On",
	"RoomAnalytics.PeoplePresenceDetector": "On",
}

// configureDevice reads system information, rejects unsupported software,
// and enables the analytics settings.
func configureDevice(ctx context.Context, dev Device, logger *slog.Logger) (SysInfo, error) {
	ver, err := dev.Status(ctx, "SystemUnit.Software.Version")
	if err != nil {
		return SysInfo{}, fmt.Errorf("failed to read software version: %w", err)
	}
	v, err := ParseVersion(ver.String())
	if err != nil {
		return SysInfo{}, fmt.Errorf("%w: %v", ErrUnsupportedDevice, err)
	}
	if !v.AtLeast(MinVersion) {
		return SysInfo{}, fmt.Errorf("%w: software %s is older than %s", ErrUnsupportedDevice, v, MinVersion)
	}

	info := SysInfo{
		Version:  ver.String(),
		Serial:   optionalStatus(ctx, dev, "SystemUnit.Hardware.Module.SerialNumber"),
		Platform: optionalStatus(ctx, dev, "SystemUnit.ProductPlatform"),
		Name:     optionalStatus(ctx, dev, "UserInterface.ContactInfo.Name"),
	}

	platform := strings.ToLower(info.Platform)
	info.MoveAlert = strings.Contains(platform, "desk") || strings.Contains(platform, "board")
	info.MTR = teamsInstalled(ctx, dev)

	if err := dev.Configure(ctx, deviceSettings); err != nil {
		logger.Warn("Failed to apply analytics configuration", "error", err)
	}
	return info, nil
}

func optionalStatus(ctx context.Context, dev Device, path string) string {
	v, err := dev.Status(ctx, path)
	if err != nil {
		return ""
	}
	return v.String()
}

// teamsInstalled reports whether the device runs as a Microsoft Teams Room.
func teamsInstalled(ctx context.Context, dev Device) bool {
	supported, err := dev.Status(ctx, "SystemUnit.Extensions.Microsoft.Supported")
	if err != nil || !supported.Bool() {
		return false
	}
	list, err := dev.Command(ctx, "MicrosoftTeams.List", nil)
	if err != nil {
		return false
	}
	entries := list.Get("Entry")
	if entries.Len() == 0 {
		return entries.Get("Status").String() == "Installed"
	}
	for i := 0; i < entries.Len(); i++ {
		if entries.Index(i).Get("Status").String() == "Installed" {
			return true
		}
	}
	return false
}
