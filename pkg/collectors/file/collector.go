// Package file implements a collector that tails a log file, emitting each
// appended line as an event. Rotation and truncation are followed; the line
// content itself is passed through opaque.
package file

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/openobs/harvest/pkg/collectors"
	"github.com/openobs/harvest/pkg/collectors/base"
)

// Config for the file collector.
type Config struct {
	// Basic settings
	Name string
	Path string

	// MaxLineBytes caps a single record; longer lines count as parse
	// failures and are discarded
	MaxLineBytes int

	// ReopenRetries and ReopenDelay control how long rotation waits for the
	// file to reappear before the run is declared failed
	ReopenRetries int
	ReopenDelay   time.Duration

	// Delivery
	SendTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Logging
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Name:          "file",
		MaxLineBytes:  256 * 1024,
		ReopenRetries: 10,
		ReopenDelay:   100 * time.Millisecond,
	}
}

// Collector tails a single file. The collection goroutine owns the file
// handle and the watcher; both are released when the run ends.
type Collector struct {
	*base.BaseCollector
	cfg Config

	file    *os.File
	watcher *fsnotify.Watcher
	offset  int64
	partial []byte
}

// New creates a file collector. Construction never opens the file;
// collection begins only on Start.
func New(cfg Config) (*Collector, error) {
	if cfg.Path == "" {
		return nil, collectors.NewError(collectors.ErrorKindConfig, "file collector requires a path", nil)
	}
	if cfg.Name == "" {
		cfg.Name = "file"
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = DefaultConfig().MaxLineBytes
	}
	if cfg.ReopenRetries <= 0 {
		cfg.ReopenRetries = DefaultConfig().ReopenRetries
	}
	if cfg.ReopenDelay <= 0 {
		cfg.ReopenDelay = DefaultConfig().ReopenDelay
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

// Start opens the file, seeks to its end, and begins tailing.
func (c *Collector) Start(ctx context.Context, out chan<- collectors.Event) error {
	return c.StartRun(ctx, func(runCtx context.Context, lm *base.LifecycleManager) error {
		f, err := os.Open(c.cfg.Path)
		if err != nil {
			return classifyOpenError(c.cfg.Path, err)
		}

		offset, err := f.Seek(0, io.SeekEnd)
		if err != nil {
			f.Close()
			return collectors.NewError(collectors.ErrorKindIo,
				fmt.Sprintf("failed to seek %s", c.cfg.Path), err)
		}

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			f.Close()
			return collectors.NewError(collectors.ErrorKindSystem, "failed to create file watcher", err)
		}
		if err := watcher.Add(c.cfg.Path); err != nil {
			f.Close()
			watcher.Close()
			return collectors.NewError(collectors.ErrorKindSystem,
				fmt.Sprintf("failed to watch %s", c.cfg.Path), err)
		}

		c.file = f
		c.watcher = watcher
		c.offset = offset
		c.partial = nil

		lm.Start("tail", func() { c.run(runCtx, out) })

		c.Logger().Info("file collector started",
			zap.String("collector", c.Name()),
			zap.String("path", c.cfg.Path),
			zap.Int64("offset", offset),
		)
		return nil
	})
}

// Stop ends the run. The tail goroutine exits on context cancellation and
// releases the file handle and watcher before Stop returns.
func (c *Collector) Stop() error {
	return c.StopRun(nil)
}

func (c *Collector) run(ctx context.Context, out chan<- collectors.Event) {
	defer func() {
		c.watcher.Close()
		c.file.Close()
	}()

	// pick up anything appended between Start and the first notification
	if err := c.readAppended(ctx, out); err != nil {
		c.fatal(ctx, err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-c.watcher.Events:
			if !ok {
				c.fatal(ctx, collectors.NewError(collectors.ErrorKindSystem, "file watcher closed", nil))
				return
			}
			if ev.Has(fsnotify.Write) {
				if err := c.readAppended(ctx, out); err != nil {
					c.fatal(ctx, err)
					return
				}
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				if err := c.reopen(ctx, out); err != nil {
					c.fatal(ctx, err)
					return
				}
			}

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			// watcher errors are transient; the file itself may still be fine
			c.RecordFailure(collectors.NewError(collectors.ErrorKindIo, "file watch error", err))
		}
	}
}

// readAppended drains new bytes from the current offset, handling
// truncation by starting over from the beginning.
func (c *Collector) readAppended(ctx context.Context, out chan<- collectors.Event) error {
	info, err := c.file.Stat()
	if err != nil {
		return collectors.NewError(collectors.ErrorKindIo,
			fmt.Sprintf("failed to stat %s", c.cfg.Path), err)
	}
	if info.Size() < c.offset {
		if _, err := c.file.Seek(0, io.SeekStart); err != nil {
			return collectors.NewError(collectors.ErrorKindIo,
				fmt.Sprintf("failed to rewind %s after truncation", c.cfg.Path), err)
		}
		c.offset = 0
		c.partial = nil
	}

	buf := make([]byte, 32*1024)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := c.file.Read(buf)
		if n > 0 {
			c.offset += int64(n)
			c.consume(ctx, out, buf[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return collectors.NewError(collectors.ErrorKindIo,
				fmt.Sprintf("failed to read %s", c.cfg.Path), err)
		}
	}
}

// consume splits chunk into lines, carrying an incomplete trailing line to
// the next read. Lines over MaxLineBytes are per-event parse failures.
func (c *Collector) consume(ctx context.Context, out chan<- collectors.Event, chunk []byte) {
	c.partial = append(c.partial, chunk...)

	for {
		idx := bytes.IndexByte(c.partial, '\n')
		if idx < 0 {
			break
		}
		line := c.partial[:idx]
		rest := make([]byte, len(c.partial)-idx-1)
		copy(rest, c.partial[idx+1:])
		c.partial = rest

		c.emitLine(ctx, out, line)
	}

	if len(c.partial) > c.cfg.MaxLineBytes {
		c.RecordFailure(collectors.NewError(collectors.ErrorKindParse,
			fmt.Sprintf("line exceeds %d bytes", c.cfg.MaxLineBytes), nil))
		c.partial = nil
	}
}

func (c *Collector) emitLine(ctx context.Context, out chan<- collectors.Event, line []byte) {
	if len(line) == 0 {
		return
	}
	if len(line) > c.cfg.MaxLineBytes {
		c.RecordFailure(collectors.NewError(collectors.ErrorKindParse,
			fmt.Sprintf("line exceeds %d bytes", c.cfg.MaxLineBytes), nil))
		return
	}

	data := make([]byte, len(line))
	copy(data, line)

	c.SendEvent(ctx, out, collectors.Event{
		Timestamp: time.Now(),
		Source:    c.Name(),
		Data:      data,
		Metadata: map[string]string{
			"path": c.cfg.Path,
		},
	})
}

// reopen follows a rotation: waits briefly for the path to reappear, then
// reads the new file from the beginning.
func (c *Collector) reopen(ctx context.Context, out chan<- collectors.Event) error {
	c.file.Close()

	var f *os.File
	var err error
	for i := 0; i < c.cfg.ReopenRetries; i++ {
		f, err = os.Open(c.cfg.Path)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.ReopenDelay):
		}
	}
	if err != nil {
		return collectors.NewError(collectors.ErrorKindIo,
			fmt.Sprintf("file %s disappeared and was not recreated", c.cfg.Path), err)
	}

	// rename drops the old watch
	if werr := c.watcher.Add(c.cfg.Path); werr != nil {
		f.Close()
		return collectors.NewError(collectors.ErrorKindSystem,
			fmt.Sprintf("failed to rewatch %s", c.cfg.Path), werr)
	}

	c.file = f
	c.offset = 0
	c.partial = nil
	c.Logger().Info("file collector reopened rotated file",
		zap.String("collector", c.Name()),
		zap.String("path", c.cfg.Path),
	)

	return c.readAppended(ctx, out)
}

// fatal declares the run failed unless the error arrived because the run is
// already being stopped.
func (c *Collector) fatal(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	c.Fail(err)
}

func classifyOpenError(path string, err error) error {
	switch {
	case os.IsNotExist(err):
		return collectors.NewError(collectors.ErrorKindConfig,
			fmt.Sprintf("file %s does not exist", path), err)
	case os.IsPermission(err):
		return collectors.NewError(collectors.ErrorKindPermission,
			fmt.Sprintf("access to %s denied", path), err)
	default:
		return collectors.NewError(collectors.ErrorKindIo,
			fmt.Sprintf("failed to open %s", path), err)
	}
}
