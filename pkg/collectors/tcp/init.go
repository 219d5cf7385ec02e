package tcp

import (
	"go.uber.org/zap"

	"github.com/openobs/harvest/pkg/collectors"
	"github.com/openobs/harvest/pkg/collectors/registry"
)

func init() {
	registry.Register("tcp", func(config map[string]interface{}, logger *zap.Logger) (collectors.Collector, error) {
		cfg := DefaultConfig()
		cfg.Name = registry.StringOption(config, "name", cfg.Name)
		cfg.Address = registry.StringOption(config, "address", "")
		cfg.MaxLineBytes = registry.IntOption(config, "max_line_bytes", cfg.MaxLineBytes)
		cfg.RateLimitRPS = registry.FloatOption(config, "rate_limit_rps", cfg.RateLimitRPS)
		cfg.RateLimitBurst = registry.IntOption(config, "rate_limit_burst", cfg.RateLimitBurst)
		cfg.SendTimeout = registry.DurationOption(config, "send_timeout", 0)
		cfg.ShutdownTimeout = registry.DurationOption(config, "shutdown_timeout", 0)
		cfg.Logger = logger
		return New(cfg)
	})
}
