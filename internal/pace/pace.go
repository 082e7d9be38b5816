// Package pace implements the Pacemaker: a cooperative per-tick sleep that
// smooths the pipeline's observed frame cadence toward a target rate.
package pace

import "time"

const movingAverageWidth = 10

// Pacemaker holds a 10-wide simple moving average of tick durations and
// reports how long to sleep so the end-to-end loop rate converges on
// targetInterval. It is purely cooperative: it never spawns a goroutine or
// blocks anything but its own caller.
type Pacemaker struct {
	targetInterval time.Duration
	samples        [movingAverageWidth]time.Duration
	count          int
	next           int
	sum            time.Duration
	lastTick       time.Time
	haveLastTick   bool
}

// New returns a Pacemaker targeting the given frame rate.
func New(fps float64) *Pacemaker {
	return &Pacemaker{targetInterval: time.Duration(float64(time.Second) / fps)}
}

// TargetInterval returns the configured target tick interval.
func (p *Pacemaker) TargetInterval() time.Duration {
	return p.targetInterval
}

// Tick records one completed iteration's duration and sleeps long enough
// that the moving average converges toward the target interval. The first
// call only records a timestamp and returns immediately — there is no
// prior interval to average yet.
func (p *Pacemaker) Tick(now time.Time) {
	if !p.haveLastTick {
		p.lastTick = now
		p.haveLastTick = true
		return
	}

	elapsed := now.Sub(p.lastTick)
	p.lastTick = now
	p.record(elapsed)

	sleep := p.targetInterval - p.average()
	if sleep > 0 {
		time.Sleep(sleep)
	}
}

func (p *Pacemaker) record(d time.Duration) {
	if p.count < movingAverageWidth {
		p.samples[p.next] = d
		p.sum += d
		p.count++
	} else {
		p.sum += d - p.samples[p.next]
		p.samples[p.next] = d
	}
	p.next = (p.next + 1) % movingAverageWidth
}

func (p *Pacemaker) average() time.Duration {
	if p.count == 0 {
		return 0
	}
	return p.sum / time.Duration(p.count)
}

// CurrentFrequency reports 1/last_tick_interval in Hz, for metrics. Returns
// 0 before the second tick.
func (p *Pacemaker) CurrentFrequency() float64 {
	if p.count == 0 {
		return 0
	}
	last := p.samples[(p.next-1+movingAverageWidth)%movingAverageWidth]
	if last <= 0 {
		return 0
	}
	return float64(time.Second) / float64(last)
}
