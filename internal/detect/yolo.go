package detect

import (
	"fmt"
	"image"
	"sort"

	"gocv.io/x/gocv"

	"github.com/aidect/zmsidecar/internal/imaging"
)

// YoloV4Tiny is a Detector backed by OpenCV's DNN module running a
// YOLOv4-tiny network. Output rows are [center_x, center_y, width, height,
// class_scores...] in the Darknet "Region" layer convention: the highest
// scoring class per row is taken as that row's detection.
type YoloV4Tiny struct {
	net                 gocv.Net
	confidenceThreshold float32
	nmsThreshold        float32
	size                int
	outNames            []string
}

// NewYoloV4Tiny loads a YOLOv4-tiny network from the given weights/config
// pair and configures the CPU or CUDA backend. size is the square input
// resolution the network was trained at (416 for the stock YOLOv4-tiny
// config).
func NewYoloV4Tiny(weightsPath, configPath string, confidenceThreshold float32, size int, useCUDA bool) (*YoloV4Tiny, error) {
	net := gocv.ReadNet(weightsPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("detect: failed to load network from %q / %q", weightsPath, configPath)
	}

	if useCUDA {
		if err := net.SetPreferableBackend(gocv.NetBackendCUDA); err != nil {
			return nil, fmt.Errorf("detect: set CUDA backend: %w", err)
		}
		if err := net.SetPreferableTarget(gocv.NetTargetCUDA); err != nil {
			return nil, fmt.Errorf("detect: set CUDA target: %w", err)
		}
	} else {
		if err := net.SetPreferableBackend(gocv.NetBackendOpenCV); err != nil {
			return nil, fmt.Errorf("detect: set OpenCV backend: %w", err)
		}
		if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
			return nil, fmt.Errorf("detect: set CPU target: %w", err)
		}
	}

	outNames := net.GetUnconnectedOutLayersNames()
	if len(outNames) == 0 {
		net.Close()
		return nil, fmt.Errorf("detect: network has no unconnected output layers")
	}

	return &YoloV4Tiny{
		net:                 net,
		confidenceThreshold: confidenceThreshold,
		nmsThreshold:        0.4,
		size:                size,
		outNames:            outNames,
	}, nil
}

// Close releases the underlying OpenCV network.
func (y *YoloV4Tiny) Close() error {
	return y.net.Close()
}

// Infer implements Detector.
func (y *YoloV4Tiny) Infer(img imaging.Image) ([]Detection, error) {
	rgb, err := imaging.ToRGB(img)
	if err != nil {
		return nil, fmt.Errorf("detect: convert to RGB: %w", err)
	}

	mat, err := gocv.NewMatFromBytes(rgb.Height, rgb.Width, gocv.MatTypeCV8UC3, rgb.Pixels)
	if err != nil {
		return nil, fmt.Errorf("detect: build input mat: %w", err)
	}
	defer mat.Close()

	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(y.size, y.size), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	y.net.SetInput(blob, "")
	outs := y.net.ForwardLayers(y.outNames)
	defer func() {
		for i := range outs {
			outs[i].Close()
		}
	}()

	var raw []Detection
	for _, out := range outs {
		raw = append(raw, decodeRows(out, rgb.Width, rgb.Height, y.confidenceThreshold)...)
	}

	return y.nonMaxSuppress(raw), nil
}

// decodeRows turns one output Mat's rows into candidate detections, keeping
// only the best-scoring class per row and dropping rows below threshold.
func decodeRows(out gocv.Mat, imageWidth, imageHeight int, confidenceThreshold float32) []Detection {
	rows := out.Rows()
	cols := out.Cols()
	if cols < 5 {
		return nil
	}

	var detections []Detection
	for i := 0; i < rows; i++ {
		centerX := out.GetFloatAt(i, 0)
		centerY := out.GetFloatAt(i, 1)
		width := out.GetFloatAt(i, 2)
		height := out.GetFloatAt(i, 3)

		bestConfidence := float32(0)
		bestClass := int32(-1)
		for c := 4; c < cols; c++ {
			score := out.GetFloatAt(i, c)
			if score > bestConfidence {
				bestConfidence = score
				bestClass = int32(c - 4 + 1) // 1-based class index
			}
		}
		if bestClass < 0 || bestConfidence < confidenceThreshold {
			continue
		}

		cx := int(centerX * float32(imageWidth))
		cy := int(centerY * float32(imageHeight))
		w := int(width * float32(imageWidth))
		h := int(height * float32(imageHeight))
		left := cx - w/2
		if left < 0 {
			left = 0
		}
		top := cy - h/2
		if top < 0 {
			top = 0
		}

		detections = append(detections, Detection{
			Confidence:  bestConfidence,
			ClassID:     bestClass,
			BoundingBox: Rect{X: left, Y: top, W: w, H: h},
		})
	}
	return detections
}

// nonMaxSuppress runs NMS independently per class id, matching the
// reference detector's behaviour of never suppressing across classes.
func (y *YoloV4Tiny) nonMaxSuppress(detections []Detection) []Detection {
	byClass := make(map[int32][]Detection)
	for _, d := range detections {
		byClass[d.ClassID] = append(byClass[d.ClassID], d)
	}

	var result []Detection
	for _, dets := range byClass {
		boxes := make([]image.Rectangle, len(dets))
		scores := make([]float32, len(dets))
		for i, d := range dets {
			boxes[i] = image.Rect(d.BoundingBox.X, d.BoundingBox.Y, d.BoundingBox.X+d.BoundingBox.W, d.BoundingBox.Y+d.BoundingBox.H)
			scores[i] = d.Confidence
		}
		indices := gocv.NMSBoxes(boxes, scores, y.confidenceThreshold, y.nmsThreshold)
		for _, idx := range indices {
			if idx >= 0 && idx < len(dets) {
				result = append(result, dets[idx])
			}
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ConfidencePermille() > result[j].ConfidencePermille()
	})
	return result
}
