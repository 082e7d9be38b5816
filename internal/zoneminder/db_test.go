package zoneminder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidect/zmsidecar/internal/imaging"
)

func TestParseZoneName_Basic(t *testing.T) {
	zone := parseZoneName("aidect")
	assert.Nil(t, zone.Size)
	assert.Nil(t, zone.Threshold)
	assert.Nil(t, zone.Trigger)
}

func TestParseZoneName_WithOptions(t *testing.T) {
	zone := parseZoneName("aidect Size=128 Threshold=50 MinArea=900")
	require.NotNil(t, zone.Size)
	assert.Equal(t, 128, *zone.Size)
	require.NotNil(t, zone.Threshold)
	assert.InDelta(t, 0.5, *zone.Threshold, 1e-9)
	require.NotNil(t, zone.MinArea)
	assert.Equal(t, 900, *zone.MinArea)
	assert.Nil(t, zone.Trigger)
	assert.Nil(t, zone.FPS)
}

func TestParseZoneCoords(t *testing.T) {
	shape := parseZoneCoords("123,56 899,41 687,425")
	assert.Equal(t, ZoneShape{{123, 56}, {899, 41}, {687, 425}}, shape)

	box, err := shape.BoundingBox()
	require.NoError(t, err)
	assert.Equal(t, Rect{X: 123, Y: 41, W: 776, H: 384}, box)
}

func TestBoundingBox_TooFewPoints(t *testing.T) {
	shape := ZoneShape{{0, 0}, {1, 1}}
	_, err := shape.BoundingBox()
	assert.Error(t, err)
}

func TestEffectiveDefaults(t *testing.T) {
	var zone ZoneConfig
	assert.Equal(t, defaultZoneSize, zone.EffectiveSize())
	assert.InDelta(t, defaultZoneThreshold, zone.EffectiveThreshold(), 1e-9)
	assert.Equal(t, 0, zone.EffectiveMinArea())
	assert.Equal(t, uint32(9), zone.EffectiveTriggerMonitor(9))
}

func TestEffectiveTriggerMonitor_Overridden(t *testing.T) {
	foreign := uint32(42)
	zone := ZoneConfig{Trigger: &foreign}
	assert.Equal(t, foreign, zone.EffectiveTriggerMonitor(9))
}

func TestZoneConfig_StringRoundTrip(t *testing.T) {
	size := 128
	threshold := 0.5
	trigger := uint32(7)
	fps := 2
	minArea := 900

	cases := []ZoneConfig{
		{},
		{Size: &size},
		{Size: &size, Threshold: &threshold, MinArea: &minArea},
		{Size: &size, Threshold: &threshold, Trigger: &trigger, FPS: &fps, MinArea: &minArea},
	}
	for _, zone := range cases {
		parsed := parseZoneName(zone.String())
		assert.Equal(t, zone, parsed, "parsing %q must give back the original", zone.String())
	}
}

func TestZoneConfig_Crop(t *testing.T) {
	zone := ZoneConfig{Shape: ZoneShape{{1, 0}, {2, 0}, {2, 1}}}
	img := imaging.Image{Width: 3, Height: 2, Format: imaging.None, Pixels: []byte{0, 1, 2, 3, 4, 5}}

	cropped, box, err := zone.Crop(img)
	require.NoError(t, err)
	assert.Equal(t, Rect{X: 1, Y: 0, W: 1, H: 1}, box)
	assert.Equal(t, 1, cropped.Width)
	assert.Equal(t, 1, cropped.Height)
	assert.Equal(t, []byte{1}, cropped.Pixels)
}

func TestStoredEvent_VideoPath_Deep(t *testing.T) {
	e := StoredEvent{
		ID:            42,
		MonitorID:     5,
		StartDateTime: "2022-01-27 18:45:59",
		DefaultVideo:  "event-42.mp4",
		Storage: Storage{
			Path:   "/var/lib/zm/events",
			Type:   "local",
			Scheme: SchemeDeep,
		},
	}
	path, err := e.VideoPath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/zm/events/5/2022/01/27/18/45/59/42/event-42.mp4", path)
}

func TestStoredEvent_VideoPath_Shallow(t *testing.T) {
	e := StoredEvent{
		ID:            7,
		MonitorID:     2,
		StartDateTime: "2022-01-27 18:45:59",
		DefaultVideo:  "event-7.mp4",
		Storage: Storage{
			Path:   "/var/lib/zm/events",
			Type:   "local",
			Scheme: SchemeShallow,
		},
	}
	path, err := e.VideoPath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/zm/events/2/7/event-7.mp4", path)
}

func TestStoredEvent_VideoPath_UnsupportedStorageType(t *testing.T) {
	e := StoredEvent{ID: 1, Storage: Storage{Type: "s3"}}
	_, err := e.VideoPath()
	assert.Error(t, err)
}
