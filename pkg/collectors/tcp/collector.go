// Package tcp implements a collector that listens on a TCP address and
// turns newline-delimited records from each connection into events. Record
// content is passed through opaque; this is a collection endpoint, not a
// protocol parser.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/openobs/harvest/pkg/collectors"
	"github.com/openobs/harvest/pkg/collectors/base"
)

// Config for the TCP collector.
type Config struct {
	// Basic settings
	Name    string
	Address string

	// MaxLineBytes caps a single record; a longer record counts as a parse
	// failure and ends that connection
	MaxLineBytes int

	// Rate limiting of emitted events, disabled when RPS is zero
	RateLimitRPS   float64
	RateLimitBurst int

	// Delivery
	SendTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:           "tcp",
		MaxLineBytes:   256 * 1024,
		RateLimitRPS:   0,
		RateLimitBurst: 1000,
	}
}

// Collector accepts TCP connections and emits one event per received line.
type Collector struct {
	*base.BaseCollector
	cfg     Config
	limiter *rate.Limiter

	// listener of the current run, guarded by the base transition lock.
	// Closed whenever the run context ends, including a fatal self-stop.
	listener net.Listener
}

// New creates a TCP collector. Construction never binds the address;
// listening begins only on Start.
func New(cfg Config) (*Collector, error) {
	if cfg.Address == "" {
		return nil, collectors.NewError(collectors.ErrorKindConfig, "tcp collector requires a listen address", nil)
	}
	if cfg.Name == "" {
		cfg.Name = "tcp"
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = DefaultConfig().MaxLineBytes
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		burst := cfg.RateLimitBurst
		if burst <= 0 {
			burst = DefaultConfig().RateLimitBurst
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	return &Collector{
		BaseCollector: base.NewBaseCollector(base.Config{
			Name:            cfg.Name,
			SendTimeout:     cfg.SendTimeout,
			ShutdownTimeout: cfg.ShutdownTimeout,
			Logger:          cfg.Logger,
		}),
		cfg:     cfg,
		limiter: limiter,
	}, nil
}

// Start binds the listen address and begins accepting connections.
func (c *Collector) Start(ctx context.Context, out chan<- collectors.Event) error {
	return c.StartRun(ctx, func(runCtx context.Context, lm *base.LifecycleManager) error {
		ln, err := net.Listen("tcp", c.cfg.Address)
		if err != nil {
			return collectors.NewError(collectors.ErrorKindNetwork,
				fmt.Sprintf("failed to listen on %s", c.cfg.Address), err)
		}

		c.listener = ln
		// release the listener on any end of the run, so a fatal self-stop
		// leaves the address free for the next Start
		context.AfterFunc(runCtx, func() { ln.Close() })
		lm.Start("accept", func() { c.acceptLoop(runCtx, lm, ln, out) })

		c.Logger().Info("tcp collector started",
			zap.String("collector", c.Name()),
			zap.String("address", ln.Addr().String()),
		)
		return nil
	})
}

// Stop ends the run; the listener and open connections are closed through
// context cancellation.
func (c *Collector) Stop() error {
	return c.StopRun(nil)
}

// Addr returns the bound listen address of the current run, useful when the
// configured address uses an ephemeral port.
func (c *Collector) Addr() net.Addr {
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

func (c *Collector) acceptLoop(ctx context.Context, lm *base.LifecycleManager, ln net.Listener, out chan<- collectors.Event) {
	var retryDelay time.Duration

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}

			// transient conditions (aborted handshake, fd exhaustion) do not
			// invalidate the listener; retry with a short growing delay
			var ne net.Error
			if errors.As(err, &ne) && ne.Temporary() {
				if retryDelay == 0 {
					retryDelay = 5 * time.Millisecond
				} else {
					retryDelay *= 2
				}
				if retryDelay > time.Second {
					retryDelay = time.Second
				}
				c.RecordFailure(collectors.NewError(collectors.ErrorKindNetwork, "temporary accept failure", err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(retryDelay):
				}
				continue
			}

			c.fatal(ctx, collectors.NewError(collectors.ErrorKindNetwork, "accept failed", err))
			return
		}
		retryDelay = 0

		lm.Start("conn "+conn.RemoteAddr().String(), func() {
			c.handleConn(ctx, conn, out)
		})
	}
}

func (c *Collector) handleConn(ctx context.Context, conn net.Conn, out chan<- collectors.Event) {
	defer conn.Close()

	// unblock the read when the run is cancelled
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	remote := conn.RemoteAddr().String()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), c.cfg.MaxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
		}

		data := make([]byte, len(line))
		copy(data, line)

		c.SendEvent(ctx, out, collectors.Event{
			Timestamp: time.Now(),
			Source:    c.Name(),
			Data:      data,
			Metadata: map[string]string{
				"remote_addr": remote,
			},
		})
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		// per-connection failures are transient: the listener stays up
		if errors.Is(err, bufio.ErrTooLong) {
			c.RecordFailure(collectors.NewError(collectors.ErrorKindParse,
				fmt.Sprintf("record from %s exceeds %d bytes", remote, c.cfg.MaxLineBytes), err))
			return
		}
		c.RecordFailure(collectors.NewError(collectors.ErrorKindIo,
			fmt.Sprintf("read from %s failed", remote), err))
	}
}

func (c *Collector) fatal(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	c.Fail(err)
}
