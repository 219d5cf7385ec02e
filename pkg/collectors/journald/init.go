package journald

import (
	"go.uber.org/zap"

	"github.com/openobs/harvest/pkg/collectors"
	"github.com/openobs/harvest/pkg/collectors/registry"
)

func init() {
	registry.Register("journald", func(config map[string]interface{}, logger *zap.Logger) (collectors.Collector, error) {
		cfg := DefaultConfig()
		cfg.Name = registry.StringOption(config, "name", cfg.Name)
		cfg.Matches = registry.StringsOption(config, "matches", nil)
		cfg.WaitInterval = registry.DurationOption(config, "wait_interval", cfg.WaitInterval)
		cfg.SendTimeout = registry.DurationOption(config, "send_timeout", 0)
		cfg.ShutdownTimeout = registry.DurationOption(config, "shutdown_timeout", 0)
		cfg.Logger = logger
		return New(cfg)
	})
}
