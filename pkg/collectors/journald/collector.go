// Package journald implements a collector that follows the systemd journal
// and emits each new entry as an event. On platforms without the journal the
// collector constructs fine but refuses to start.
package journald

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openobs/harvest/pkg/collectors"
	"github.com/openobs/harvest/pkg/collectors/base"
)

// Config for the journald collector.
type Config struct {
	// Basic settings
	Name string

	// Matches restrict the journal stream, e.g. "_SYSTEMD_UNIT=sshd.service".
	// Empty means the full journal.
	Matches []string

	// WaitInterval bounds a single blocking wait for new journal entries
	WaitInterval time.Duration

	// Delivery
	SendTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:         "journald",
		WaitInterval: time.Second,
	}
}

// Collector reads the systemd journal from its tail.
type Collector struct {
	*base.BaseCollector
	cfg Config
}

// New creates a journald collector. Construction never opens the journal;
// reading begins only on Start.
func New(cfg Config) (*Collector, error) {
	if cfg.Name == "" {
		cfg.Name = "journald"
	}
	if cfg.WaitInterval <= 0 {
		cfg.WaitInterval = DefaultConfig().WaitInterval
	}

	return &Collector{
		BaseCollector: base.NewBaseCollector(base.Config{
			Name:            cfg.Name,
			SendTimeout:     cfg.SendTimeout,
			ShutdownTimeout: cfg.ShutdownTimeout,
			Logger:          cfg.Logger,
		}),
		cfg: cfg,
	}, nil
}

// Start opens the journal at its tail and begins following new entries.
func (c *Collector) Start(ctx context.Context, out chan<- collectors.Event) error {
	return c.StartRun(ctx, func(runCtx context.Context, lm *base.LifecycleManager) error {
		return c.startJournal(runCtx, lm, out)
	})
}

// Stop ends the run; the read goroutine closes the journal before Stop
// returns.
func (c *Collector) Stop() error {
	return c.StopRun(nil)
}

func (c *Collector) fatal(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	c.Fail(err)
}
