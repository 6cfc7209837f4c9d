package release

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saaga0h/room-release/pkg/xapi"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{"ce11.14.1.4 a1b2c3d4e5f", Version{11, 14, 1, 4}, false},
		{"RoomOS 11.9.1.13 5d2c4b1a", Version{11, 9, 1, 13}, false},
		{"ce9.15.3.18", Version{9, 15, 3, 18}, false},
		{"unknown", Version{}, true},
		{"11.2", Version{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v, err := ParseVersion(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestVersionAtLeast(t *testing.T) {
	assert.True(t, Version{11, 0, 0, 0}.AtLeast(MinVersion))
	assert.True(t, Version{11, 0, 0, 1}.AtLeast(MinVersion))
	assert.True(t, Version{12, 0, 0, 0}.AtLeast(MinVersion))
	assert.False(t, Version{10, 99, 99, 99}.AtLeast(MinVersion))
	assert.Equal(t, "11.14.1.4", Version{11, 14, 1, 4}.String())
}

func TestConfigureDevice(t *testing.T) {
	dev := newFakeDevice()
	dev.withSystem("ce11.14.1.4 a1b2c3d", "Desk Pro")

	sys, err := configureDevice(context.Background(), dev, testLogger())
	require.NoError(t, err)

	assert.Equal(t, "Huddle 4", sys.Name)
	assert.Equal(t, "FOC1234X", sys.Serial)
	assert.Equal(t, "Desk Pro", sys.Platform)
	assert.True(t, sys.MoveAlert)
	assert.False(t, sys.MTR)

	require.Len(t, dev.configured, 1)
	assert.Equal(t, "On", dev.configured[0]["RoomAnalytics.PeopleCountOutOfCall"])
}

func TestConfigureDeviceDetectsTeams(t *testing.T) {
	dev := newFakeDevice()
	dev.withSystem("RoomOS 11.9.1.13", "Room Kit Pro")
	dev.set("SystemUnit.Extensions.Microsoft.Supported", "True")
	dev.respond("MicrosoftTeams.List", func(args map[string]any) (xapi.Value, error) {
		return xapi.NewValue(map[string]any{
			"Entry": []any{map[string]any{"Status": "Installed"}},
		}), nil
	})

	sys, err := configureDevice(context.Background(), dev, testLogger())
	require.NoError(t, err)
	assert.True(t, sys.MTR)
	assert.False(t, sys.MoveAlert)
}

func TestConfigureDeviceRejectsOldSoftware(t *testing.T) {
	dev := newFakeDevice()
	dev.withSystem("ce10.19.1.2", "Room Kit")

	_, err := configureDevice(context.Background(), dev, testLogger())
	assert.True(t, errors.Is(err, ErrUnsupportedDevice))
	assert.Empty(t, dev.configured)
}

func TestConfigureDeviceOffline(t *testing.T) {
	dev := newFakeDevice()
	dev.statusErr["SystemUnit.Software.Version"] = errDeviceOffline

	_, err := configureDevice(context.Background(), dev, testLogger())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnsupportedDevice))
}
