// Package pipeline assembles the shared-memory monitor client, the zone
// crop, the detector, the event tracker, the pacemaker and the watchdog
// into the capture -> crop -> detect -> filter -> trigger -> annotate loop
// that drives one camera's detection sidecar.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aidect/zmsidecar/internal/detect"
	"github.com/aidect/zmsidecar/internal/eventtracker"
	"github.com/aidect/zmsidecar/internal/metrics"
	"github.com/aidect/zmsidecar/internal/pace"
	"github.com/aidect/zmsidecar/internal/watchdog"
	"github.com/aidect/zmsidecar/internal/zoneminder"
)

// State is the pipeline's coarse lifecycle state, kept in its own field.
// The loop sets Recording when a tick's detections fire the trigger
// handshake and sets Running again when a tick without detections finds the
// host idle: the same points at which the EventTracker opens and flushes
// its current event.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateRecording
	StateFailed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateRecording:
		return "recording"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config supplies a Pipeline's collaborators. Client and TriggerClient may
// be the same connection (the common case, a zone with no Trigger
// override) or different ones, when a zone's detections are configured to
// extend a different monitor's event.
type Config struct {
	MonitorID     uint32
	Settings      zoneminder.MonitorSettings
	Zone          zoneminder.ZoneConfig
	Client        *zoneminder.MonitorClient
	TriggerClient *zoneminder.MonitorClient
	ConfigDB      *zoneminder.ConfigDB
	Detector      detect.Detector
	Metrics       *metrics.Registry
	Logger        *zap.Logger
}

// Pipeline runs the capture->crop->detect->filter->trigger->annotate loop
// for one camera. It owns the ImageStream, EventTracker, Pacemaker and
// Watchdog; the MonitorClient(s), ConfigDB and Detector are supplied by the
// caller and outlive the Pipeline.
type Pipeline struct {
	monitorID uint32
	client    *zoneminder.MonitorClient
	trigger   *zoneminder.MonitorClient
	configDB  *zoneminder.ConfigDB
	zone      zoneminder.ZoneConfig
	detector  detect.Detector
	stream    *zoneminder.ImageStream

	tracker   *eventtracker.Tracker
	pacer     *pace.Pacemaker
	watchdog  *watchdog.Watchdog
	metrics   *metrics.Registry
	logger    *zap.Logger
	targetFPS float64

	mu    sync.RWMutex
	state State
}

// New validates cfg and builds a Pipeline ready to Run. The target analysis
// rate is the zone's FPS override if set, else the monitor's
// AnalysisFPSLimit; at least one of the two must be configured.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("pipeline: Client is required")
	}
	if cfg.Detector == nil {
		return nil, fmt.Errorf("pipeline: Detector is required")
	}
	triggerClient := cfg.TriggerClient
	if triggerClient == nil {
		triggerClient = cfg.Client
	}

	var fps float64
	switch {
	case cfg.Zone.FPS != nil:
		fps = float64(*cfg.Zone.FPS)
	case cfg.Settings.AnalysisFPSLimit != nil:
		fps = *cfg.Settings.AnalysisFPSLimit
	default:
		return nil, fmt.Errorf("pipeline: no analysis fps configured (zone FPS or monitor AnalysisFPSLimit required)")
	}
	if fps <= 0 {
		return nil, fmt.Errorf("pipeline: analysis fps must be positive, got %v", fps)
	}

	stream, err := zoneminder.NewImageStream(cfg.Client, cfg.Settings.ImageBufferCount, cfg.Settings.Width, cfg.Settings.Height)
	if err != nil {
		return nil, fmt.Errorf("pipeline: building image stream: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := cfg.Metrics
	if reg == nil {
		reg = metrics.New()
	}

	pacer := pace.New(fps)

	return &Pipeline{
		monitorID: cfg.MonitorID,
		client:    cfg.Client,
		trigger:   triggerClient,
		configDB:  cfg.ConfigDB,
		zone:      cfg.Zone,
		detector:  cfg.Detector,
		stream:    stream,
		tracker:   eventtracker.New(),
		pacer:     pacer,
		watchdog:  watchdog.New(pacer.TargetInterval(), logger),
		metrics:   reg,
		logger:    logger,
		targetFPS: fps,
		state:     StateStarting,
	}, nil
}

// State reports the pipeline's current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Run drives the loop until ctx is cancelled or a tick returns a fatal
// error (ShmInvalid, StaleMapping, a detector failure). It owns the
// Watchdog's background goroutine for its duration and flushes any open
// tracked event before returning, so a clean shutdown still annotates
// whatever event was in progress.
func (p *Pipeline) Run(ctx context.Context) error {
	stop := make(chan struct{})
	go p.watchdog.Run(stop)
	defer close(stop)

	p.setState(StateRunning)
	p.logger.Info("pipeline started",
		zap.Uint32("monitor_id", p.monitorID),
		zap.Float64("target_fps", p.targetFPS),
		zap.Stringer("zone", p.zone))

	defer p.flushOnExit()

	for {
		select {
		case <-ctx.Done():
			p.setState(StateStopped)
			p.logger.Info("pipeline stopping", zap.Uint32("monitor_id", p.monitorID))
			return nil
		default:
		}

		if err := p.tick(); err != nil {
			p.setState(StateFailed)
			return err
		}
	}
}

func (p *Pipeline) flushOnExit() {
	if update := p.tracker.Clear(); update != nil {
		p.persist(*update)
	}
}

// tick runs exactly one iteration of the capture->crop->detect->filter->
// trigger->annotate loop. It pace-limits itself and resets the watchdog on
// every iteration, success or not having produced a detection.
func (p *Pipeline) tick() error {
	now := time.Now()

	img, state, err := p.stream.Next()
	if err != nil {
		return fmt.Errorf("pipeline: reading frame: %w", err)
	}
	p.metrics.Size.Set(float64(state.ImageSize))

	cropped, box, err := p.zone.Crop(img)
	if err != nil {
		return fmt.Errorf("pipeline: cropping zone: %w", err)
	}

	inferStart := time.Now()
	raw, err := p.detector.Infer(cropped)
	if err != nil {
		return fmt.Errorf("pipeline: detector: %w", err)
	}
	p.metrics.InferenceDuration.Observe(time.Since(inferStart).Seconds())
	p.metrics.Inferences.Inc()

	cropOffset := detect.Rect{X: box.X, Y: box.Y, W: box.W, H: box.H}
	filtered := detect.Filter(raw, detect.DefaultWhitelist, p.zone.EffectiveMinArea(), cropOffset)

	switch {
	case len(filtered) > 0:
		if err := p.onDetections(filtered); err != nil {
			return err
		}
	case state.IsIdle():
		if update := p.tracker.Clear(); update != nil {
			p.persist(*update)
		}
		p.setState(StateRunning)
	}

	p.pacer.Tick(now)
	p.metrics.ObserveTick(p.pacer.CurrentFrequency(), p.targetFPS)
	p.watchdog.Reset()
	return nil
}

// onDetections runs the trigger handshake for the tick's best detection and
// folds it into the EventTracker, persisting a description whenever that
// causes a flush (the host event id changed under us).
func (p *Pipeline) onDetections(filtered []detect.Detection) error {
	p.setState(StateRecording)

	best := bestOf(filtered)
	score := uint32(best.Confidence * 100)
	eventID, err := p.trigger.Trigger("aidect", describe(best), score)
	if err != nil {
		return fmt.Errorf("pipeline: trigger: %w", err)
	}

	if update := p.tracker.Push(best, eventID); update != nil {
		p.persist(*update)
	}
	return nil
}

// persist writes an EventTracker flush's description to the event's Notes
// column. Failures are logged, not propagated: a ConfigDB write failure is
// transient and the alarm already stands regardless of whether the
// annotation lands.
func (p *Pipeline) persist(update eventtracker.UpdateEvent) {
	if p.configDB == nil {
		return
	}
	notes := describe(update.Detection)
	if err := p.configDB.UpdateEventNotes(update.EventID, notes); err != nil {
		p.logger.Warn("failed to update event notes", zap.Uint64("event_id", update.EventID), zap.Error(err))
	}
}

// bestOf picks the highest-confidence detection, ties broken by first-seen
// order, matching EventTracker's own flush rule so a tick's trigger
// description agrees with what a later flush would report.
func bestOf(dets []detect.Detection) detect.Detection {
	best := dets[0]
	bestScore := best.ConfidencePermille()
	for _, d := range dets[1:] {
		if score := d.ConfidencePermille(); score > bestScore {
			best = d
			bestScore = score
		}
	}
	return best
}

// describe renders a detection as the one-line human-readable string the
// host's trigger_text and the event's Notes column both carry, e.g.
// "Human (88.0%) 60x120 (=7200) at 300x200".
func describe(d detect.Detection) string {
	return fmt.Sprintf("%s (%.1f%%) %dx%d (=%d) at %dx%d",
		detect.ClassName(d.ClassID), float64(d.Confidence)*100,
		d.BoundingBox.W, d.BoundingBox.H, d.BoundingBox.Area(),
		d.BoundingBox.X, d.BoundingBox.Y)
}
