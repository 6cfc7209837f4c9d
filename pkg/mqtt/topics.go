package mqtt

import (
	"fmt"
	"strings"
)

// Topic constants for the room release bridge
const (
	// Device telemetry bridged from the xAPI feedback channel (input)
	TopicDeviceStatus = "roomrelease/xapi/+/status/#"
	TopicDeviceEvent  = "roomrelease/xapi/+/event/#"

	// Release outcomes (output)
	TopicReleaseContextBase = "roomrelease/context/release"
)

// Kinds of device topic.
const (
	KindStatus = "status"
	KindEvent  = "event"
)

// DeviceTopic constructs a device feedback topic
// Pattern: roomrelease/xapi/{device_id}/{kind}/{path segments}
// The xAPI path "Bookings.Current.Id" maps to "Bookings/Current/Id".
func DeviceTopic(deviceID, kind, path string) string {
	return fmt.Sprintf("roomrelease/xapi/%s/%s/%s", deviceID, kind, strings.ReplaceAll(path, ".", "/"))
}

// ParseDeviceTopic splits a device feedback topic into its device id,
// kind and dotted xAPI path.
func ParseDeviceTopic(topic string) (deviceID, kind, path string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 5 || parts[0] != "roomrelease" || parts[1] != "xapi" {
		return "", "", "", false
	}
	if parts[3] != KindStatus && parts[3] != KindEvent {
		return "", "", "", false
	}
	return parts[2], parts[3], strings.Join(parts[4:], "."), true
}

// ReleaseContextTopic constructs the release context topic for a device
// Pattern: roomrelease/context/release/{device_id}
func ReleaseContextTopic(deviceID string) string {
	return fmt.Sprintf("%s/%s", TopicReleaseContextBase, deviceID)
}
