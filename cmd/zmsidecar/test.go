package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aidect/zmsidecar/internal/detect"
	"github.com/aidect/zmsidecar/internal/zoneminder"
)

func newTestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test <monitor_id>",
		Short: "Grab a few frames, run the detector, and fire one test trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			monitorID, err := parseMonitorID(args[0])
			if err != nil {
				return err
			}
			return runTest(monitorID)
		},
	}

	cmd.Flags().StringVar(&weightsPath, "weights", "/etc/zm/aidect/yolov4-tiny.weights", "path to the YOLOv4-tiny weights file")
	cmd.Flags().StringVar(&netConfigPath, "net-config", "/etc/zm/aidect/yolov4-tiny.cfg", "path to the YOLOv4-tiny network config file")
	cmd.Flags().Float32Var(&confidence, "confidence", 0.5, "minimum detector confidence to keep a raw detection")
	cmd.Flags().IntVar(&inputSize, "size", 416, "square input resolution the network was trained at")
	cmd.Flags().BoolVar(&useCUDA, "cuda", false, "run inference on a CUDA backend instead of CPU")

	return cmd
}

const testFrameCount = 3

func runTest(monitorID uint32) error {
	d, err := setup()
	if err != nil {
		return err
	}
	defer d.Close()

	settings, err := d.configDB.MonitorSettings(monitorID)
	if err != nil {
		return wrapConfigError(fmt.Errorf("reading monitor settings: %w", err))
	}
	zone, err := d.configDB.Zone(monitorID)
	if err != nil {
		return wrapConfigError(fmt.Errorf("reading zone config: %w", err))
	}

	client, err := zoneminder.Connect(d.hostCfg.ShmPath(monitorID), d.layout, d.logger)
	if err != nil {
		return fmt.Errorf("connecting to monitor %d: %w", monitorID, err)
	}
	defer client.Close()

	stream, err := zoneminder.NewImageStream(client, settings.ImageBufferCount, settings.Width, settings.Height)
	if err != nil {
		return fmt.Errorf("building image stream: %w", err)
	}

	detector, err := detect.NewYoloV4Tiny(weightsPath, netConfigPath, confidence, inputSize, useCUDA)
	if err != nil {
		return fmt.Errorf("loading detector: %w", err)
	}

	var all []detect.Detection
	for i := 0; i < testFrameCount; i++ {
		img, _, err := stream.Next()
		if err != nil {
			return fmt.Errorf("reading frame %d/%d: %w", i+1, testFrameCount, err)
		}
		cropped, box, err := zone.Crop(img)
		if err != nil {
			return fmt.Errorf("cropping zone: %w", err)
		}
		raw, err := detector.Infer(cropped)
		if err != nil {
			return fmt.Errorf("running detector on frame %d/%d: %w", i+1, testFrameCount, err)
		}
		cropOffset := detect.Rect{X: box.X, Y: box.Y, W: box.W, H: box.H}
		all = append(all, detect.Filter(raw, detect.DefaultWhitelist, zone.EffectiveMinArea(), cropOffset)...)
		d.logger.Info("test frame captured", zap.Int("frame", i+1), zap.Int("detections", len(raw)))
	}

	description := fmt.Sprintf("test: %d detections across %d frames", len(all), testFrameCount)
	score := uint32(0)
	if len(all) > 0 {
		score = uint32(all[0].Confidence * 100)
		description = fmt.Sprintf("test: %s", describeDetection(all[0]))
	}

	eventID, err := client.Trigger("aidect-test", description, score)
	if err != nil {
		return fmt.Errorf("firing test trigger: %w", err)
	}
	d.logger.Info("test trigger complete", zap.Uint64("event_id", eventID), zap.String("description", description))
	return nil
}

func describeDetection(d detect.Detection) string {
	return fmt.Sprintf("%s (%.1f%%) %dx%d at %dx%d",
		detect.ClassName(d.ClassID), float64(d.Confidence)*100,
		d.BoundingBox.W, d.BoundingBox.H, d.BoundingBox.X, d.BoundingBox.Y)
}
