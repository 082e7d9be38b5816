package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRect_AreaAndTranslate(t *testing.T) {
	r := Rect{X: 10, Y: 20, W: 60, H: 120}
	assert.Equal(t, 7200, r.Area())
	assert.Equal(t, Rect{X: 310, Y: 220, W: 60, H: 120}, r.Translate(300, 200))
}

func TestDetection_ConfidencePermille(t *testing.T) {
	d := Detection{Confidence: 0.876}
	assert.Equal(t, 876, d.ConfidencePermille())
}

func TestFilter_AppliesWhitelist(t *testing.T) {
	dets := []Detection{
		{Confidence: 0.9, ClassID: 1, BoundingBox: Rect{X: 0, Y: 0, W: 10, H: 10}},
		{Confidence: 0.9, ClassID: 99, BoundingBox: Rect{X: 0, Y: 0, W: 10, H: 10}},
	}
	out := Filter(dets, DefaultWhitelist, 0, Rect{})
	assert.Len(t, out, 1)
	assert.Equal(t, int32(1), out[0].ClassID)
}

func TestFilter_AppliesMinArea(t *testing.T) {
	dets := []Detection{
		{Confidence: 0.9, ClassID: 1, BoundingBox: Rect{X: 0, Y: 0, W: 5, H: 5}},
		{Confidence: 0.9, ClassID: 1, BoundingBox: Rect{X: 0, Y: 0, W: 60, H: 120}},
	}
	out := Filter(dets, DefaultWhitelist, 900, Rect{})
	assert.Len(t, out, 1)
	assert.Equal(t, 7200, out[0].BoundingBox.Area())
}

func TestFilter_TranslatesToFrameCoordinates(t *testing.T) {
	dets := []Detection{
		{Confidence: 0.88, ClassID: 1, BoundingBox: Rect{X: 0, Y: 0, W: 60, H: 120}},
	}
	out := Filter(dets, nil, 0, Rect{X: 300, Y: 200})
	assert.Equal(t, Rect{X: 300, Y: 200, W: 60, H: 120}, out[0].BoundingBox)
}

func TestFilter_NilWhitelistAllowsAll(t *testing.T) {
	dets := []Detection{{Confidence: 0.5, ClassID: 42, BoundingBox: Rect{W: 1, H: 1}}}
	out := Filter(dets, nil, 0, Rect{})
	assert.Len(t, out, 1)
}
