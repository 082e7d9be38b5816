package eventtracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidect/zmsidecar/internal/detect"
)

func det(conf float32) detect.Detection {
	return detect.Detection{Confidence: conf}
}

func TestTracker_FirstPushReturnsNil(t *testing.T) {
	tr := New()
	assert.Nil(t, tr.Push(det(0.5), 5))
}

func TestTracker_SameEventAccumulates(t *testing.T) {
	tr := New()
	assert.Nil(t, tr.Push(det(0.5), 5))
	assert.Nil(t, tr.Push(det(0.9), 5))
}

// TestTracker_EventCoalescing: push(A,5), push(B,5), push(C,6) with
// conf(B) > conf(A) > conf(C); the third push flushes {5, B}; a following
// clear flushes {6, C}.
func TestTracker_EventCoalescing(t *testing.T) {
	tr := New()
	a := detect.Detection{Confidence: 0.70, ClassID: 1}
	b := detect.Detection{Confidence: 0.90, ClassID: 1}
	c := detect.Detection{Confidence: 0.40, ClassID: 1}

	assert.Nil(t, tr.Push(a, 5))
	assert.Nil(t, tr.Push(b, 5))

	update := tr.Push(c, 6)
	require.NotNil(t, update)
	assert.Equal(t, uint64(5), update.EventID)
	assert.Equal(t, b, update.Detection)

	final := tr.Clear()
	require.NotNil(t, final)
	assert.Equal(t, uint64(6), final.EventID)
	assert.Equal(t, c, final.Detection)
}

func TestTracker_ClearWithNoEventReturnsNil(t *testing.T) {
	tr := New()
	assert.Nil(t, tr.Clear())
}

func TestTracker_ClearAfterFlushReturnsNil(t *testing.T) {
	tr := New()
	tr.Push(det(0.5), 1)
	tr.Clear()
	assert.Nil(t, tr.Clear())
}

func TestTracker_TieBrokenByFirstSeen(t *testing.T) {
	tr := New()
	first := detect.Detection{Confidence: 0.5001, ClassID: 1}
	second := detect.Detection{Confidence: 0.5009, ClassID: 2} // same permille (500)
	tr.Push(first, 1)
	tr.Push(second, 1)

	update := tr.Push(det(0.1), 2)
	require.NotNil(t, update)
	assert.Equal(t, first, update.Detection)
}
