// Package eventtracker coalesces a run of detections that share a host
// event id into a single "best" description, the way the pipeline's
// EventTracker component does.
package eventtracker

import (
	"github.com/aidect/zmsidecar/internal/detect"
)

// UpdateEvent is the result of a flush: the host event id and the best
// detection observed while that event was current.
type UpdateEvent struct {
	EventID   uint64
	Detection detect.Detection
}

type trackedEvent struct {
	eventID    uint64
	detections []detect.Detection
}

// Tracker accumulates detections for the host's currently-open event and
// flushes a best-of summary whenever the event id changes or the caller
// clears it. It is not safe for concurrent use; the pipeline's single
// foreground loop owns it exclusively.
type Tracker struct {
	current *trackedEvent
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{}
}

// Push records a detection against eventID. If no event is currently open,
// one is started and nothing is returned. If eventID matches the open
// event, the detection is appended and nothing is returned. Otherwise the
// open event is flushed and a new one is started with this detection.
func (t *Tracker) Push(d detect.Detection, eventID uint64) *UpdateEvent {
	if t.current == nil {
		t.current = &trackedEvent{eventID: eventID, detections: []detect.Detection{d}}
		return nil
	}
	if t.current.eventID == eventID {
		t.current.detections = append(t.current.detections, d)
		return nil
	}

	update := flush(t.current)
	t.current = &trackedEvent{eventID: eventID, detections: []detect.Detection{d}}
	return &update
}

// Clear flushes the open event, if any, and returns its summary.
func (t *Tracker) Clear() *UpdateEvent {
	if t.current == nil {
		return nil
	}
	update := flush(t.current)
	t.current = nil
	return &update
}

// flush picks the detection with the highest floor(confidence*1000),
// ties broken by first-seen order (strict greater-than keeps the earliest).
func flush(ev *trackedEvent) UpdateEvent {
	best := ev.detections[0]
	bestScore := best.ConfidencePermille()
	for _, d := range ev.detections[1:] {
		if score := d.ConfidencePermille(); score > bestScore {
			best = d
			bestScore = score
		}
	}
	return UpdateEvent{EventID: ev.eventID, Detection: best}
}
