// Package watchdog implements the pipeline's non-cooperative liveness
// guard: if the main loop stops resetting it, the process is terminated.
package watchdog

import (
	"time"

	"go.uber.org/zap"
)

// Exiter abstracts process termination so tests can observe an expiry
// without actually killing the test binary.
type Exiter interface {
	Exit(code int)
}

// osExiter calls os.Exit; used in production.
type osExiter struct{}

func (osExiter) Exit(code int) { osExit(code) }

// Watchdog receives reset signals on a bounded channel from the main loop.
// If none arrives within the timeout, it terminates the process. It runs
// on its own background goroutine, started by Run.
type Watchdog struct {
	reset   chan struct{}
	timeout time.Duration
	logger  *zap.Logger
	exiter  Exiter
}

// New builds a Watchdog that expires after 20x the target tick interval,
// per the pipeline's configured frame rate.
func New(targetInterval time.Duration, logger *zap.Logger) *Watchdog {
	return newWithExiter(targetInterval, logger, osExiter{})
}

func newWithExiter(targetInterval time.Duration, logger *zap.Logger, exiter Exiter) *Watchdog {
	return &Watchdog{
		reset:   make(chan struct{}, 1),
		timeout: 20 * targetInterval,
		logger:  logger,
		exiter:  exiter,
	}
}

// Reset signals the watchdog that the main loop is alive. Non-blocking: if
// the channel is full (a reset is already pending) the send is dropped,
// since a single pending reset is all the goroutine needs to observe.
func (w *Watchdog) Reset() {
	select {
	case w.reset <- struct{}{}:
	default:
	}
}

// Run blocks, watching for resets, until stop is closed. Intended to be
// launched with `go w.Run(stop)` as the pipeline's background watchdog
// task.
func (w *Watchdog) Run(stop <-chan struct{}) {
	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-w.reset:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(w.timeout)
		case <-timer.C:
			w.logger.Error("watchdog expired: main loop stalled", zap.Duration("timeout", w.timeout))
			w.exiter.Exit(1)
			return
		}
	}
}
