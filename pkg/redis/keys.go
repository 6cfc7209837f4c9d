package redis

import (
	"fmt"
	"strings"
)

const ghostKeyPrefix = "roomrelease:ghost:"

// GhostKey returns the hash of ghost strike entries for a device, one
// field per recurring series.
// Pattern: roomrelease:ghost:{device_id}
func GhostKey(deviceID string) string {
	return fmt.Sprintf("%s%s", ghostKeyPrefix, deviceID)
}

// GhostKeyPattern matches every device's ghost hash.
func GhostKeyPattern() string {
	return ghostKeyPrefix + "*"
}

// DeviceFromGhostKey extracts the device id from a ghost key.
func DeviceFromGhostKey(key string) (string, bool) {
	if !strings.HasPrefix(key, ghostKeyPrefix) {
		return "", false
	}
	return strings.TrimPrefix(key, ghostKeyPrefix), true
}
