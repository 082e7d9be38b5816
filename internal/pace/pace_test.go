package pace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPacemaker_FirstTickOnlyRecordsTimestamp(t *testing.T) {
	p := New(4) // 250ms interval
	start := time.Now()
	p.Tick(start)
	assert.WithinDuration(t, start, time.Now(), 5*time.Millisecond)
	assert.Equal(t, float64(0), p.CurrentFrequency())
}

// TestPacemaker_Convergence: a fixed workload duration under the target
// interval should converge the sleep toward target-workload within a
// handful of ticks. Intervals are scaled down to keep the test fast.
func TestPacemaker_Convergence(t *testing.T) {
	const target = 25 * time.Millisecond
	const workload = 10 * time.Millisecond
	p := New(float64(time.Second) / float64(target))

	now := time.Now()
	p.Tick(now)
	for i := 0; i < 15; i++ {
		now = now.Add(workload)
		tickStart := time.Now()
		p.Tick(now)
		elapsed := time.Since(tickStart)
		if i >= 9 {
			assert.InDelta(t, float64(target-workload), float64(elapsed), float64(6*time.Millisecond))
		}
	}
}

func TestPacemaker_CurrentFrequency(t *testing.T) {
	p := New(10)
	now := time.Now()
	p.Tick(now)
	now = now.Add(100 * time.Millisecond)
	p.Tick(now)
	assert.InDelta(t, 10.0, p.CurrentFrequency(), 0.5)
}

func TestPacemaker_TargetInterval(t *testing.T) {
	p := New(4)
	assert.Equal(t, 250*time.Millisecond, p.TargetInterval())
}
