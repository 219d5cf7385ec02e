// Package base provides common lifecycle, statistics, and backpressure
// handling for all harvest collectors. Embed BaseCollector to get the
// Stopped/Running state machine, cumulative counters, and channel send
// policy without duplicating them per source.
package base

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/openobs/harvest/pkg/collectors"
)

const (
	// DefaultShutdownTimeout bounds Stop's wait for collection goroutines.
	DefaultShutdownTimeout = 5 * time.Second
)

// Config holds the settings shared by all collectors.
type Config struct {
	// Name identifies the collector instance, stable for its lifetime
	Name string

	// SendTimeout bounds a single push into the shared channel. Zero means
	// block until the consumer drains or the run is cancelled.
	SendTimeout time.Duration

	// ShutdownTimeout bounds Stop's wait for in-flight work
	ShutdownTimeout time.Duration

	// Logger for collector lifecycle and failures
	Logger *zap.Logger
}

// BaseCollector implements the parts of the Collector contract that are
// identical across sources: state transitions, counters, snapshots, and the
// bounded-channel send discipline. Concrete collectors embed it and drive
// StartRun/StopRun/Fail around their own resource handling.
type BaseCollector struct {
	name   string
	logger *zap.Logger

	sendTimeout     time.Duration
	shutdownTimeout time.Duration

	// mu serializes Start/Stop transitions. running is readable without it.
	mu      sync.Mutex
	running atomic.Bool
	lm      *LifecycleManager

	// startNanos is the Start time of the current run, 0 while stopped
	startNanos atomic.Int64

	// Cumulative across stop/start cycles, reset only on construction
	eventsCollected atomic.Int64
	eventsFailed    atomic.Int64
	lastError       atomic.Value // stores error

	// OpenTelemetry
	meter       metric.Meter
	eventsTotal metric.Int64Counter
	errorsTotal metric.Int64Counter
}

// NewBaseCollector creates the shared collector core. A missing logger falls
// back to zap.NewProduction; metric creation failures are logged and left
// nil, never fatal.
func NewBaseCollector(cfg Config) *BaseCollector {
	logger := cfg.Logger
	if logger == nil {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			logger = zap.NewNop()
		}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	meter := otel.Meter(cfg.Name)

	eventsTotal, err := meter.Int64Counter(
		fmt.Sprintf("%s_events_processed_total", cfg.Name),
		metric.WithDescription(fmt.Sprintf("Total events emitted by %s", cfg.Name)),
	)
	if err != nil {
		logger.Warn("Failed to create events counter", zap.Error(err))
	}

	errorsTotal, err := meter.Int64Counter(
		fmt.Sprintf("%s_errors_total", cfg.Name),
		metric.WithDescription(fmt.Sprintf("Total failed collection attempts in %s", cfg.Name)),
	)
	if err != nil {
		logger.Warn("Failed to create errors counter", zap.Error(err))
	}

	return &BaseCollector{
		name:            cfg.Name,
		logger:          logger,
		sendTimeout:     cfg.SendTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
		meter:           meter,
		eventsTotal:     eventsTotal,
		errorsTotal:     errorsTotal,
	}
}

// Name returns the collector name.
func (bc *BaseCollector) Name() string {
	return bc.name
}

// Logger returns the collector logger.
func (bc *BaseCollector) Logger() *zap.Logger {
	return bc.logger
}

// IsRunning reports whether a run is active.
func (bc *BaseCollector) IsRunning() bool {
	return bc.running.Load()
}

// StartRun executes one Stopped to Running transition. init acquires the
// source resources and launches the collection goroutines on lm, watching
// ctx for cancellation. A non-nil error from init leaves the collector
// stopped with err recorded as the last error. Transitions are serialized:
// a concurrent Start observes AlreadyRunning, a concurrent Stop waits for
// the in-progress Start to complete.
func (bc *BaseCollector) StartRun(parent context.Context, init func(ctx context.Context, lm *LifecycleManager) error) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if bc.running.Load() {
		return collectors.NewError(collectors.ErrorKindAlreadyRunning,
			fmt.Sprintf("collector %q is already running", bc.name), nil)
	}

	lm := NewLifecycleManager(parent, bc.logger)
	if err := init(lm.Context(), lm); err != nil {
		lm.cancel()
		bc.setLastError(err)
		return err
	}

	bc.lm = lm
	bc.startNanos.Store(time.Now().UnixNano())
	bc.running.Store(true)
	return nil
}

// StopRun transitions Running to Stopped: cancels the run context, invokes
// release to unblock any blocking reads or accepts, then waits for the
// collection goroutines up to the shutdown timeout. Fails with NotRunning
// when no run is active. A goroutine overshooting the grace period is logged
// but does not fail the stop; the run context is already cancelled, so it
// cannot deliver further events.
func (bc *BaseCollector) StopRun(release func()) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	if !bc.running.Load() {
		return collectors.NewError(collectors.ErrorKindNotRunning,
			fmt.Sprintf("collector %q is not running", bc.name), nil)
	}

	lm := bc.lm
	lm.cancel()
	if release != nil {
		release()
	}

	if err := lm.Stop(bc.shutdownTimeout); err != nil {
		bc.logger.Warn("collector stopped with lingering goroutines",
			zap.String("collector", bc.name), zap.Error(err))
	}

	bc.startNanos.Store(0)
	bc.running.Store(false)
	bc.logger.Info("collector stopped", zap.String("collector", bc.name))
	return nil
}

// Fail records a fatal fault and self-transitions Running to Stopped. Called
// from inside a collection goroutine when the source as a whole became
// invalid; a later Start is accepted. Callers must skip Fail when the run
// context is already cancelled: the error is then a consequence of an
// in-progress Stop, and Fail would wait on the transition lock that Stop
// holds for its full grace period.
func (bc *BaseCollector) Fail(err error) {
	bc.setLastError(err)

	bc.mu.Lock()
	defer bc.mu.Unlock()

	if !bc.running.Load() {
		return
	}

	bc.lm.cancel()
	bc.startNanos.Store(0)
	bc.running.Store(false)
	bc.logger.Error("collector failed",
		zap.String("collector", bc.name), zap.Error(err))
}

// RecordEvent counts one successfully delivered event.
func (bc *BaseCollector) RecordEvent() {
	bc.eventsCollected.Add(1)
	if bc.eventsTotal != nil {
		bc.eventsTotal.Add(context.Background(), 1)
	}
}

// RecordFailure counts one collection attempt that produced no deliverable
// event and records err as the last error. The run continues.
func (bc *BaseCollector) RecordFailure(err error) {
	bc.eventsFailed.Add(1)
	bc.setLastError(err)
	if bc.errorsTotal != nil {
		bc.errorsTotal.Add(context.Background(), 1)
	}
}

// SendEvent pushes ev into out honoring the backpressure policy. With no
// send timeout configured it blocks until the consumer drains or the run is
// cancelled. With a timeout, an expired send counts as a failed delivery.
// Cancellation during a blocked send is not a failure; the event is simply
// not delivered. Returns whether the event was delivered.
func (bc *BaseCollector) SendEvent(ctx context.Context, out chan<- collectors.Event, ev collectors.Event) bool {
	// a cancelled run never touches the channel again
	if ctx.Err() != nil {
		return false
	}

	if bc.sendTimeout <= 0 {
		select {
		case out <- ev:
			bc.RecordEvent()
			return true
		case <-ctx.Done():
			return false
		}
	}

	timer := time.NewTimer(bc.sendTimeout)
	defer timer.Stop()

	select {
	case out <- ev:
		bc.RecordEvent()
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		bc.RecordFailure(collectors.NewError(collectors.ErrorKindOther,
			"event delivery timed out: channel full", nil))
		return false
	}
}

// Stats returns the current snapshot without blocking on collection.
func (bc *BaseCollector) Stats() collectors.CollectorStats {
	var uptime time.Duration
	if start := bc.startNanos.Load(); start != 0 {
		uptime = time.Since(time.Unix(0, start))
	}

	lastErr := ""
	if e, ok := bc.lastError.Load().(error); ok && e != nil {
		lastErr = e.Error()
	}

	return collectors.CollectorStats{
		Name:            bc.name,
		EventsCollected: bc.eventsCollected.Load(),
		EventsFailed:    bc.eventsFailed.Load(),
		IsRunning:       bc.running.Load(),
		Uptime:          uptime,
		LastError:       lastErr,
	}
}

func (bc *BaseCollector) setLastError(err error) {
	if err != nil {
		bc.lastError.Store(err)
	}
}
