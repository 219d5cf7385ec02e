// Package agent assembles the collector manager and the pipeline from
// configuration and runs them as one unit.
package agent

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/openobs/harvest/pkg/collectors"
	"github.com/openobs/harvest/pkg/collectors/manager"
	"github.com/openobs/harvest/pkg/collectors/registry"
	"github.com/openobs/harvest/pkg/config"
	"github.com/openobs/harvest/pkg/pipeline"

	// collector types register themselves with the registry
	_ "github.com/openobs/harvest/pkg/collectors/file"
	_ "github.com/openobs/harvest/pkg/collectors/journald"
	_ "github.com/openobs/harvest/pkg/collectors/tcp"
)

// Agent owns the manager, the pipeline, and the sink output.
type Agent struct {
	cfg    *config.Config
	logger *zap.Logger

	manager  *manager.Manager
	pipeline *pipeline.Pipeline
	out      *os.File // nil when writing to stdout
}

// New builds an agent from configuration. Collectors are constructed
// through the registry but not started.
func New(cfg *config.Config, logger *zap.Logger) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	mgr := manager.New(manager.Config{
		ChannelCapacity: cfg.Channel.Capacity,
		RestartEnabled:  cfg.Collectors.RestartEnabled,
	}, logger.Named("manager"))

	for _, typ := range cfg.Collectors.Enabled {
		c, err := registry.Create(typ, cfg.Section(typ), logger.Named(typ))
		if err != nil {
			return nil, fmt.Errorf("failed to build collector %s: %w", typ, err)
		}
		if err := mgr.Add(c); err != nil {
			return nil, err
		}
	}

	var w io.Writer = os.Stdout
	var out *os.File
	if cfg.Pipeline.Output != "-" {
		f, err := os.OpenFile(cfg.Pipeline.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open output %s: %w", cfg.Pipeline.Output, err)
		}
		w = f
		out = f
	}

	p := pipeline.New(pipeline.Config{
		BatchSize:     cfg.Pipeline.BatchSize,
		FlushInterval: time.Duration(cfg.Pipeline.FlushInterval) * time.Second,
	}, mgr.Events(), pipeline.NewWriterSink(w), logger.Named("pipeline"))

	return &Agent{
		cfg:      cfg,
		logger:   logger,
		manager:  mgr,
		pipeline: p,
		out:      out,
	}, nil
}

// Start starts the pipeline consumer first, then the collectors, so events
// have somewhere to go from the first send.
func (a *Agent) Start(ctx context.Context) error {
	if err := a.pipeline.Start(ctx); err != nil {
		return err
	}
	if err := a.manager.Start(ctx); err != nil {
		if perr := a.pipeline.Stop(); perr != nil {
			a.logger.Warn("failed to stop pipeline after start failure", zap.Error(perr))
		}
		return err
	}

	a.logger.Info("agent started",
		zap.Strings("collectors", a.cfg.Collectors.Enabled),
		zap.Int("channel_capacity", a.cfg.Channel.Capacity),
	)
	return nil
}

// Stop stops collectors first so the shared channel closes, then stops the
// pipeline, which drains and flushes the remainder.
func (a *Agent) Stop() error {
	var errs []error
	if err := a.manager.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := a.pipeline.Stop(); err != nil {
		errs = append(errs, err)
	}
	if a.out != nil {
		if err := a.out.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during agent shutdown: %v", errs)
	}
	a.logger.Info("agent stopped",
		zap.Int64("events_forwarded", a.pipeline.EventsForwarded()))
	return nil
}

// Stats returns a snapshot per collector.
func (a *Agent) Stats() map[string]collectors.CollectorStats {
	return a.manager.Stats()
}

// IsHealthy reports whether every collector is running.
func (a *Agent) IsHealthy() bool {
	return a.manager.IsHealthy()
}

// EventsForwarded returns the number of events delivered to the sink.
func (a *Agent) EventsForwarded() int64 {
	return a.pipeline.EventsForwarded()
}
