package file

import (
	"go.uber.org/zap"

	"github.com/openobs/harvest/pkg/collectors"
	"github.com/openobs/harvest/pkg/collectors/registry"
)

func init() {
	registry.Register("file", func(config map[string]interface{}, logger *zap.Logger) (collectors.Collector, error) {
		cfg := DefaultConfig()
		cfg.Name = registry.StringOption(config, "name", cfg.Name)
		cfg.Path = registry.StringOption(config, "path", "")
		cfg.MaxLineBytes = registry.IntOption(config, "max_line_bytes", cfg.MaxLineBytes)
		cfg.SendTimeout = registry.DurationOption(config, "send_timeout", 0)
		cfg.ShutdownTimeout = registry.DurationOption(config, "shutdown_timeout", 0)
		cfg.Logger = logger
		return New(cfg)
	})
}
