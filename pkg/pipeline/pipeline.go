// Package pipeline drains the shared event channel into a Sink, batching
// deliveries so a slow sink exerts backpressure on collectors through the
// bounded channel instead of unbounded buffering here.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/openobs/harvest/pkg/collectors"
)

const (
	// DefaultBatchSize of a single sink write
	DefaultBatchSize = 100

	// DefaultFlushInterval bounds how long a partial batch waits
	DefaultFlushInterval = time.Second
)

// Sink receives batches of events from the pipeline. Implementations must
// be safe for concurrent use.
type Sink interface {
	// Write delivers a batch of events
	Write(ctx context.Context, events []collectors.Event) error

	// Close flushes pending state and releases resources
	Close() error
}

// Config for the pipeline consumer.
type Config struct {
	// BatchSize of a single sink write
	BatchSize int

	// FlushInterval bounds how long a partial batch waits before delivery
	FlushInterval time.Duration
}

// Pipeline is the single consumer of the shared event channel.
type Pipeline struct {
	cfg    Config
	logger *zap.Logger
	sink   Sink
	in     <-chan collectors.Event

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	eventsForwarded atomic.Int64
	writeFailures   atomic.Int64
}

// New creates a pipeline reading from in and writing to sink.
func New(cfg Config, in <-chan collectors.Event, sink Sink, logger *zap.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		cfg:    cfg,
		logger: logger,
		sink:   sink,
		in:     in,
	}
}

// Start launches the consumer goroutine.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return fmt.Errorf("pipeline already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.started = true

	go p.run(runCtx)
	return nil
}

// Stop ends consumption, flushes the partial batch, and closes the sink.
// When the producer side of the channel is closed first (the manager's
// shutdown order), all drained events are flushed before Stop returns.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return fmt.Errorf("pipeline not started")
	}
	p.started = false
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	<-done
	return p.sink.Close()
}

// EventsForwarded returns the number of events delivered to the sink.
func (p *Pipeline) EventsForwarded() int64 {
	return p.eventsForwarded.Load()
}

// WriteFailures returns the number of failed sink writes.
func (p *Pipeline) WriteFailures() int64 {
	return p.writeFailures.Load()
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)

	batch := make([]collectors.Event, 0, p.cfg.BatchSize)
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := p.sink.Write(ctx, batch); err != nil {
			p.writeFailures.Add(1)
			p.logger.Error("sink write failed",
				zap.Int("batch_size", len(batch)), zap.Error(err))
		} else {
			p.eventsForwarded.Add(int64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// drain whatever is immediately available, then flush
			for {
				select {
				case ev, ok := <-p.in:
					if !ok {
						flush()
						return
					}
					batch = append(batch, ev)
					if len(batch) >= p.cfg.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}

		case ev, ok := <-p.in:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= p.cfg.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()
		}
	}
}
