package decode

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleFFprobeJSON = `{
	"streams": [
		{
			"index": 0,
			"codec_name": "h264",
			"codec_long_name": "H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10",
			"profile": "High",
			"codec_type": "video",
			"width": 1920,
			"height": 1080,
			"r_frame_rate": "100/1",
			"avg_frame_rate": "2248/74"
		}
	]
}`

func TestParseProbeOutput(t *testing.T) {
	var out probeOutput
	require.NoError(t, json.Unmarshal([]byte(sampleFFprobeJSON), &out))
	require.Len(t, out.Streams, 1)

	props := out.Streams[0]
	assert.Equal(t, "h264", props.CodecName)
	assert.Equal(t, 1920, props.Width)
	assert.Equal(t, 1080, props.Height)
	assert.Equal(t, "2248/74", props.AvgFrameRate)
}

func TestVideoProperties_FPS(t *testing.T) {
	props := VideoProperties{AvgFrameRate: "2248/74"}
	fps, err := props.FPS()
	require.NoError(t, err)
	assert.InDelta(t, 30.378378, fps, 1e-4)
}

func TestVideoProperties_FPS_Malformed(t *testing.T) {
	props := VideoProperties{AvgFrameRate: "not-a-fraction"}
	_, err := props.FPS()
	assert.Error(t, err)
}

func TestVideoProperties_String(t *testing.T) {
	props := VideoProperties{CodecName: "h264", Width: 1920, Height: 1080, AvgFrameRate: "30/1"}
	assert.Equal(t, "1920x1080 30.0 fps (h264)", props.String())
}
