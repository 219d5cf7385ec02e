package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/openobs/harvest/pkg/collectors/registry"
	"github.com/openobs/harvest/pkg/config"
	"github.com/openobs/harvest/pkg/logging"
)

// CLI provides the command-line interface for the agent.
type CLI struct {
	cfgFile string
}

// NewCLI creates a new CLI.
func NewCLI() *CLI {
	return &CLI{}
}

// RootCmd returns the root cobra command.
func (c *CLI) RootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "harvest",
		Short: "Telemetry collection agent",
		Long: `Harvest runs a set of event collectors (file tail, TCP listener,
journald) that push into a shared bounded channel, batches the stream,
and writes it to a local sink.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "Config file (default: ./harvest.yaml, /etc/harvest/harvest.yaml)")

	rootCmd.AddCommand(c.runCmd())
	rootCmd.AddCommand(c.validateCmd())
	rootCmd.AddCommand(c.collectorsCmd())

	return rootCmd
}

func (c *CLI) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the agent",
		Long:  "Start all enabled collectors and the pipeline, and run until interrupted",
		RunE:  c.run,
	}

	cmd.Flags().StringSlice("collectors", nil, "Collector types to enable (overrides config)")
	cmd.Flags().String("output", "", "Sink output path, \"-\" for stdout (overrides config)")
	cmd.Flags().String("log-level", "", "Log level (overrides config)")

	return cmd
}

func (c *CLI) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfgFile == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			for _, typ := range cfg.Collectors.Enabled {
				if !registry.IsRegistered(typ) {
					return fmt.Errorf("configuration invalid: unknown collector type %s", typ)
				}
			}
			fmt.Println("Configuration is valid")
			return nil
		},
	}
}

func (c *CLI) collectorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collectors",
		Short: "List available collector types",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range registry.List() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

// loadConfig layers file, environment (HARVEST_*), and flags.
func (c *CLI) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if c.cfgFile != "" {
		v.SetConfigFile(c.cfgFile)
	} else {
		v.SetConfigName("harvest")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/harvest")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// a missing default config is fine, an explicit one is not
		if c.cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &config.Config{}
	decodeYAMLTags := func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }
	if err := v.Unmarshal(cfg, decodeYAMLTags); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if enabled, _ := cmd.Flags().GetStringSlice("collectors"); len(enabled) > 0 {
		cfg.Collectors.Enabled = enabled
	}
	if output, _ := cmd.Flags().GetString("output"); output != "" {
		cfg.Pipeline.Output = output
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *CLI) run(cmd *cobra.Command, args []string) error {
	cfg, err := c.loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	agent, err := New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := agent.Start(ctx); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigChan:
			logger.Info("shutting down", zap.String("signal", sig.String()))
			return agent.Stop()

		case <-ticker.C:
			c.logStatus(logger, agent)
		}
	}
}

func (c *CLI) logStatus(logger *zap.Logger, agent *Agent) {
	stats := agent.Stats()
	summary := make(map[string]interface{}, len(stats))
	for name, s := range stats {
		summary[name] = map[string]interface{}{
			"running":   s.IsRunning,
			"collected": s.EventsCollected,
			"failed":    s.EventsFailed,
		}
	}
	detail, _ := json.Marshal(summary)

	logger.Info("agent status",
		zap.Bool("healthy", agent.IsHealthy()),
		zap.Int64("events_forwarded", agent.EventsForwarded()),
		zap.ByteString("collectors", detail),
	)
}

// Execute runs the CLI.
func (c *CLI) Execute() error {
	return c.RootCmd().Execute()
}
