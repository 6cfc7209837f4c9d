package release

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricPaths(t *testing.T) {
	consolidated := optionsWith(func(o *Options) { o.UseRoomInUse = true })
	assert.Equal(t, []string{PathRoomInUse, PathPeopleCount}, metricPaths(consolidated, false))

	legacy := optionsWith(func(o *Options) {
		o.DetectSound = true
		o.DetectPresentation = false
	})
	assert.Equal(t, []string{PathPeoplePresence, PathPeopleCount, PathActiveCalls, PathSoundLevel}, metricPaths(legacy, false))
	assert.Contains(t, metricPaths(legacy, true), PathTeamsInCall)
	assert.NotContains(t, metricPaths(legacy, true), PathActiveCalls)
}

func TestCollectKeepsPreviousOnError(t *testing.T) {
	dev := newRoomDevice()
	dev.set(PathPeoplePresence, "Yes")
	dev.statusErr[PathActiveCalls] = errDeviceOffline

	c := NewCollector(dev, DefaultOptions(), false, testLogger())
	m := c.Collect(context.Background(), MetricsSnapshot{InCall: true, Sharing: true})

	assert.True(t, m.PeoplePresence)
	assert.True(t, m.InCall, "failed read keeps previous value")
	assert.False(t, m.Sharing, "no presentation instance means not sharing")
}
