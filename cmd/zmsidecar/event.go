package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aidect/zmsidecar/internal/decode"
	"github.com/aidect/zmsidecar/internal/detect"
)

var eventMonitorID uint32

func newEventCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event <event_id>",
		Short: "Re-analyse a stored recording offline via ffmpeg",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventID, err := parseUint64(args[0])
			if err != nil {
				return wrapConfigErrorf("invalid event id %q: %w", args[0], err)
			}
			return runEvent(cmd.Context(), eventID)
		},
	}

	cmd.Flags().Uint32Var(&eventMonitorID, "monitor-id", 0, "monitor whose settings/zone govern re-analysis (defaults to the event's own monitor)")
	cmd.Flags().StringVar(&weightsPath, "weights", "/etc/zm/aidect/yolov4-tiny.weights", "path to the YOLOv4-tiny weights file")
	cmd.Flags().StringVar(&netConfigPath, "net-config", "/etc/zm/aidect/yolov4-tiny.cfg", "path to the YOLOv4-tiny network config file")
	cmd.Flags().Float32Var(&confidence, "confidence", 0.5, "minimum detector confidence to keep a raw detection")
	cmd.Flags().IntVar(&inputSize, "size", 416, "square input resolution the network was trained at")
	cmd.Flags().BoolVar(&useCUDA, "cuda", false, "run inference on a CUDA backend instead of CPU")

	return cmd
}

func runEvent(ctx context.Context, eventID uint64) error {
	d, err := setup()
	if err != nil {
		return err
	}
	defer d.Close()

	storedEvent, err := d.configDB.Event(eventID)
	if err != nil {
		return wrapConfigError(fmt.Errorf("reading event %d: %w", eventID, err))
	}

	monitorID := storedEvent.MonitorID
	if eventMonitorID != 0 {
		monitorID = eventMonitorID
	}

	settings, err := d.configDB.MonitorSettings(monitorID)
	if err != nil {
		return wrapConfigError(fmt.Errorf("reading monitor settings: %w", err))
	}
	zone, err := d.configDB.Zone(monitorID)
	if err != nil {
		return wrapConfigError(fmt.Errorf("reading zone config: %w", err))
	}

	videoPath, err := storedEvent.VideoPath()
	if err != nil {
		return fmt.Errorf("deriving video path for event %d: %w", eventID, err)
	}

	props, err := decode.Properties(ctx, videoPath)
	if err != nil {
		return fmt.Errorf("probing %s: %w", videoPath, err)
	}
	fps, err := props.FPS()
	if err != nil {
		return fmt.Errorf("parsing frame rate for %s: %w", videoPath, err)
	}

	detector, err := detect.NewYoloV4Tiny(weightsPath, netConfigPath, confidence, inputSize, useCUDA)
	if err != nil {
		return fmt.Errorf("loading detector: %w", err)
	}

	stream, err := decode.StreamFile(ctx, videoPath, settings.Width, settings.Height, fps)
	if err != nil {
		return fmt.Errorf("decoding %s: %w", videoPath, err)
	}
	defer stream.Close()

	var best *detect.Detection
	frames := 0
	for {
		img, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading decoded frame %d: %w", frames, err)
		}
		frames++

		cropped, box, err := zone.Crop(img)
		if err != nil {
			return fmt.Errorf("cropping zone on frame %d: %w", frames, err)
		}
		raw, err := detector.Infer(cropped)
		if err != nil {
			return fmt.Errorf("running detector on frame %d: %w", frames, err)
		}
		cropOffset := detect.Rect{X: box.X, Y: box.Y, W: box.W, H: box.H}
		for _, candidate := range detect.Filter(raw, detect.DefaultWhitelist, zone.EffectiveMinArea(), cropOffset) {
			c := candidate
			if best == nil || c.ConfidencePermille() > best.ConfidencePermille() {
				best = &c
			}
		}
	}

	d.logger.Info("re-analysis complete", zap.Uint64("event_id", eventID), zap.Int("frames", frames))
	if best == nil {
		return nil
	}

	notes := fmt.Sprintf("re-analysed: %s", describeDetection(*best))
	if err := d.configDB.UpdateEventNotes(eventID, notes); err != nil {
		d.logger.Warn("failed to update event notes", zap.Uint64("event_id", eventID), zap.Error(err))
	}
	return nil
}

func parseUint64(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(s), 10, 64)
}
