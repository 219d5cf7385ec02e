//go:build !linux || !cgo

package journald

import (
	"context"

	"github.com/openobs/harvest/pkg/collectors"
	"github.com/openobs/harvest/pkg/collectors/base"
)

func (c *Collector) startJournal(ctx context.Context, lm *base.LifecycleManager, out chan<- collectors.Event) error {
	return collectors.NewError(collectors.ErrorKindConfig,
		"journald collector requires linux with systemd", nil)
}
