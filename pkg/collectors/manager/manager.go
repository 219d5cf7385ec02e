// Package manager orchestrates a set of collectors: it owns the shared
// bounded event channel, drives lifecycles, aggregates statistics, and
// restarts collectors that failed fatally.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/openobs/harvest/pkg/collectors"
)

const (
	// DefaultChannelCapacity bounds the shared event channel
	DefaultChannelCapacity = 1000

	// DefaultPollInterval is the supervision cadence
	DefaultPollInterval = 5 * time.Second
)

// Config for the collector manager.
type Config struct {
	// ChannelCapacity of the shared event channel
	ChannelCapacity int

	// PollInterval between supervision passes
	PollInterval time.Duration

	// RestartEnabled turns on automatic restart of collectors that
	// self-stopped on a fatal fault
	RestartEnabled bool

	// MaxRestartInterval caps the exponential restart backoff
	MaxRestartInterval time.Duration
}

// Manager owns a set of collector instances and the channel connecting them
// to the pipeline. Collectors are added before Start; the manager hands each
// the shared sender and treats the channel's receiving side as owned by the
// downstream consumer.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	mu          sync.Mutex
	collectors  map[string]collectors.Collector
	backoffs    map[string]*backoff.ExponentialBackOff
	nextRestart map[string]time.Time

	events chan collectors.Event

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// New creates a manager with a bounded shared channel.
func New(cfg Config, logger *zap.Logger) *Manager {
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = DefaultChannelCapacity
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		cfg:         cfg,
		logger:      logger,
		collectors:  make(map[string]collectors.Collector),
		backoffs:    make(map[string]*backoff.ExponentialBackOff),
		nextRestart: make(map[string]time.Time),
		events:      make(chan collectors.Event, cfg.ChannelCapacity),
	}
}

// Add registers a collector with the manager. Fails once the manager is
// started or when the name is already taken.
func (m *Manager) Add(c collectors.Collector) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("cannot add collector %s: manager already started", c.Name())
	}
	if _, exists := m.collectors[c.Name()]; exists {
		return fmt.Errorf("collector %s already managed", c.Name())
	}

	m.collectors[c.Name()] = c
	return nil
}

// Events returns the shared channel for the downstream consumer.
func (m *Manager) Events() <-chan collectors.Event {
	return m.events
}

// Start starts every managed collector with the shared sender and launches
// the supervision loop. A collector that fails to start is logged and left
// to the supervisor's restart policy; Start itself only fails on misuse.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("manager already started")
	}
	if m.stopped {
		// the shared channel is closed; a stopped manager is not reusable
		return fmt.Errorf("manager already stopped")
	}

	m.ctx, m.cancel = context.WithCancel(ctx)
	m.started = true

	for name, c := range m.collectors {
		m.backoffs[name] = newRestartBackoff(m.cfg.MaxRestartInterval)

		if err := c.Start(m.ctx, m.events); err != nil {
			m.logger.Error("failed to start collector",
				zap.String("collector", name), zap.Error(err))
			m.nextRestart[name] = time.Now().Add(m.backoffs[name].NextBackOff())
			continue
		}
		m.logger.Info("collector started", zap.String("collector", name))
	}

	m.wg.Add(1)
	go m.supervise()

	return nil
}

// Stop stops all collectors, waits for the supervisor, and closes the
// shared channel so the consumer can drain and finish.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager not started")
	}
	m.cancel()
	m.started = false
	m.stopped = true
	managed := make(map[string]collectors.Collector, len(m.collectors))
	for name, c := range m.collectors {
		managed[name] = c
	}
	m.mu.Unlock()

	var errs []error
	for name, c := range managed {
		if err := c.Stop(); err != nil {
			if collectors.IsMisuse(err) {
				// already self-stopped on a fatal fault
				continue
			}
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}

	m.wg.Wait()
	close(m.events)

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}
	return nil
}

// Stats returns a snapshot per managed collector.
func (m *Manager) Stats() map[string]collectors.CollectorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make(map[string]collectors.CollectorStats, len(m.collectors))
	for name, c := range m.collectors {
		stats[name] = c.Stats()
	}
	return stats
}

// IsHealthy reports whether every managed collector is running.
func (m *Manager) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.collectors {
		if !c.IsRunning() {
			return false
		}
	}
	return true
}

// supervise periodically checks for collectors that stopped on their own
// and restarts them with exponential backoff.
func (m *Manager) supervise() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.checkCollectors()
		}
	}
}

func (m *Manager) checkCollectors() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}

	for name, c := range m.collectors {
		if c.IsRunning() {
			m.backoffs[name].Reset()
			continue
		}
		if !m.cfg.RestartEnabled {
			continue
		}
		if time.Now().Before(m.nextRestart[name]) {
			continue
		}

		stats := c.Stats()
		m.logger.Warn("collector is down, restarting",
			zap.String("collector", name),
			zap.String("last_error", stats.LastError),
		)

		if err := c.Start(m.ctx, m.events); err != nil {
			if collectors.IsMisuse(err) {
				// lost a race with a concurrent start; treat as running
				continue
			}
			wait := m.backoffs[name].NextBackOff()
			m.nextRestart[name] = time.Now().Add(wait)
			m.logger.Error("collector restart failed",
				zap.String("collector", name),
				zap.Duration("next_attempt_in", wait),
				zap.Error(err),
			)
			continue
		}

		m.backoffs[name].Reset()
		m.logger.Info("collector restarted", zap.String("collector", name))
	}
}

func newRestartBackoff(maxInterval time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	if maxInterval > 0 {
		b.MaxInterval = maxInterval
	}
	b.MaxElapsedTime = 0 // retry forever
	b.Reset()
	return b
}
