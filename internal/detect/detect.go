// Package detect defines the detector boundary this sidecar consumes and
// the core's own post-filtering of whatever a detector returns.
package detect

import (
	"github.com/aidect/zmsidecar/internal/imaging"
)

// Rect is an axis-aligned bounding box in some image's coordinate frame.
type Rect struct {
	X, Y, W, H int
}

// Area returns the rectangle's pixel area.
func (r Rect) Area() int {
	return r.W * r.H
}

// Translate shifts a rectangle by (dx, dy), used to map a detection's
// bounding box from a cropped zone's coordinate frame back to the full
// frame by adding the zone's crop offset.
func (r Rect) Translate(dx, dy int) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, W: r.W, H: r.H}
}

// Detection is one object a Detector found in a frame. ClassID is whatever
// integer label scheme the concrete detector was trained on; the core
// knows only the whitelist of ids it cares about, not their names.
type Detection struct {
	Confidence  float32
	ClassID     int32
	BoundingBox Rect
}

// ConfidencePermille returns floor(confidence*1000), the integer the
// EventTracker uses to rank detections without floating point comparison
// bugs creeping into tie-breaking.
func (d Detection) ConfidencePermille() int {
	return int(d.Confidence * 1000)
}

// Detector is the black-box object detector this sidecar drives. A call
// blocks until a result is available; implementations are expected to be
// stateful (weights loaded once at construction) and are never called
// concurrently with themselves.
type Detector interface {
	// Infer runs detection on a 24-bit RGB image and returns detections
	// whose bounding boxes are in img's own coordinate frame.
	Infer(img imaging.Image) ([]Detection, error)
}

// DefaultWhitelist is the class-id set the core post-filters detections
// against: human, car, bird, cat, dog, numbered the way the bundled
// YOLOv4-tiny/COCO weights label them (1-based, matching the detector's own
// row-to-class indexing).
var DefaultWhitelist = map[int32]bool{
	1:  true, // person
	3:  true, // car
	15: true, // bird
	16: true, // cat
	17: true, // dog
}

// classNames labels DefaultWhitelist's ids for human-readable trigger
// descriptions; an id outside this set is labelled "Object".
var classNames = map[int32]string{
	1:  "Human",
	3:  "Car",
	15: "Bird",
	16: "Cat",
	17: "Dog",
}

// ClassName returns the display name for a class id, or "Object" if unknown.
func ClassName(classID int32) string {
	if name, ok := classNames[classID]; ok {
		return name
	}
	return "Object"
}

// Filter applies the core's whitelist/MinArea post-filter to raw detector
// output and translates bounding boxes from the cropped zone's coordinate
// frame back to full-frame coordinates by adding cropOffset.
func Filter(dets []Detection, whitelist map[int32]bool, minArea int, cropOffset Rect) []Detection {
	var out []Detection
	for _, d := range dets {
		if whitelist != nil && !whitelist[d.ClassID] {
			continue
		}
		translated := d.BoundingBox.Translate(cropOffset.X, cropOffset.Y)
		if minArea > 0 && translated.Area() < minArea {
			continue
		}
		out = append(out, Detection{
			Confidence:  d.Confidence,
			ClassID:     d.ClassID,
			BoundingBox: translated,
		})
	}
	return out
}
