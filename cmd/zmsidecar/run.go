package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/aidect/zmsidecar/internal/detect"
	"github.com/aidect/zmsidecar/internal/metrics"
	"github.com/aidect/zmsidecar/internal/pipeline"
	"github.com/aidect/zmsidecar/internal/zoneminder"
)

var (
	instrumentationAddress string
	instrumentationPort    int

	weightsPath   string
	netConfigPath string
	confidence    float32
	inputSize     int
	useCUDA       bool
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <monitor_id>",
		Short: "Run the live detection loop for one camera",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			monitorID, err := parseMonitorID(args[0])
			if err != nil {
				return err
			}
			return runPipeline(cmd.Context(), monitorID)
		},
	}

	cmd.Flags().StringVar(&instrumentationAddress, "instrumentation-address", "0.0.0.0", "address the metrics server binds")
	cmd.Flags().IntVar(&instrumentationPort, "instrumentation-port", 9090, "port the metrics server binds")
	cmd.Flags().StringVar(&weightsPath, "weights", "/etc/zm/aidect/yolov4-tiny.weights", "path to the YOLOv4-tiny weights file")
	cmd.Flags().StringVar(&netConfigPath, "net-config", "/etc/zm/aidect/yolov4-tiny.cfg", "path to the YOLOv4-tiny network config file")
	cmd.Flags().Float32Var(&confidence, "confidence", 0.5, "minimum detector confidence to keep a raw detection")
	cmd.Flags().IntVar(&inputSize, "size", 416, "square input resolution the network was trained at")
	cmd.Flags().BoolVar(&useCUDA, "cuda", false, "run inference on a CUDA backend instead of CPU")

	return cmd
}

func runPipeline(ctx context.Context, monitorID uint32) error {
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

	triggerClient := client
	triggerMonitorID := zone.EffectiveTriggerMonitor(monitorID)
	if triggerMonitorID != monitorID {
		triggerClient, err = zoneminder.Connect(d.hostCfg.ShmPath(triggerMonitorID), d.layout, d.logger)
		if err != nil {
			return fmt.Errorf("connecting to trigger-target monitor %d: %w", triggerMonitorID, err)
		}
		defer triggerClient.Close()
	}

	detector, err := detect.NewYoloV4Tiny(weightsPath, netConfigPath, confidence, inputSize, useCUDA)
	if err != nil {
		return fmt.Errorf("loading detector: %w", err)
	}

	reg := metrics.New()
	metricsServer := metrics.NewServer(fmt.Sprintf("%s:%d", instrumentationAddress, instrumentationPort), reg, d.logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := metricsServer.Run(ctx); err != nil {
			d.logger.Error("metrics server exited", zap.Error(err))
		}
	}()

	p, err := pipeline.New(pipeline.Config{
		MonitorID:     monitorID,
		Settings:      settings,
		Zone:          zone,
		Client:        client,
		TriggerClient: triggerClient,
		ConfigDB:      d.configDB,
		Detector:      detector,
		Metrics:       reg,
		Logger:        d.logger,
	})
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	return p.Run(ctx)
}
