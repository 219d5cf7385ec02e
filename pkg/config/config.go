// Package config loads and validates the agent configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure.
type Config struct {
	// Channel configuration for the shared collector-to-pipeline channel
	Channel ChannelConfig `yaml:"channel" json:"channel"`

	// Collectors configuration, common plus per-type sections
	Collectors CollectorsConfig `yaml:"collectors" json:"collectors"`

	// Pipeline consumer settings
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ChannelConfig bounds the shared event channel.
type ChannelConfig struct {
	// Capacity of the bounded channel
	Capacity int `yaml:"capacity" json:"capacity"`

	// SendTimeout in seconds; zero means producers block until drained
	SendTimeout int `yaml:"send_timeout" json:"send_timeout"`
}

// CollectorsConfig contains configuration for all collectors.
type CollectorsConfig struct {
	// Enabled lists the collector types to run
	Enabled []string `yaml:"enabled" json:"enabled"`

	// ShutdownTimeout in seconds for a single collector stop
	ShutdownTimeout int `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// RestartEnabled turns on automatic restart of failed collectors
	RestartEnabled bool `yaml:"restart_enabled" json:"restart_enabled"`

	// Per-type sections, passed to the collector factories
	File     map[string]interface{} `yaml:"file" json:"file"`
	TCP      map[string]interface{} `yaml:"tcp" json:"tcp"`
	Journald map[string]interface{} `yaml:"journald" json:"journald"`
}

// PipelineConfig contains pipeline consumer settings.
type PipelineConfig struct {
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// FlushInterval in seconds
	FlushInterval int `yaml:"flush_interval" json:"flush_interval"`

	// Output path for the writer sink, "-" for stdout
	Output string `yaml:"output" json:"output"`
}

// LoggingConfig controls the agent logger.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Encoding string `yaml:"encoding" json:"encoding"`
}

// Load reads configuration from a file, determining the format by
// extension, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))

	config := &Config{}
	switch ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	case ".json":
		err = json.Unmarshal(data, config)
	default:
		// try YAML first, then JSON
		err = yaml.Unmarshal(data, config)
		if err != nil {
			err = json.Unmarshal(data, config)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.ApplyDefaults()
	return config, nil
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	c := &Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills missing fields with working values.
func (c *Config) ApplyDefaults() {
	if c.Channel.Capacity == 0 {
		c.Channel.Capacity = 1000
	}

	if c.Collectors.ShutdownTimeout == 0 {
		c.Collectors.ShutdownTimeout = 5
	}
	if len(c.Collectors.Enabled) == 0 {
		c.Collectors.Enabled = []string{"file"}
	}
	if c.Collectors.File == nil {
		c.Collectors.File = map[string]interface{}{}
	}
	if c.Collectors.TCP == nil {
		c.Collectors.TCP = map[string]interface{}{}
	}
	if c.Collectors.Journald == nil {
		c.Collectors.Journald = map[string]interface{}{}
	}

	if c.Pipeline.BatchSize == 0 {
		c.Pipeline.BatchSize = 100
	}
	if c.Pipeline.FlushInterval == 0 {
		c.Pipeline.FlushInterval = 1
	}
	if c.Pipeline.Output == "" {
		c.Pipeline.Output = "-"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Encoding == "" {
		c.Logging.Encoding = "json"
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Channel.Capacity <= 0 {
		return fmt.Errorf("channel.capacity must be positive")
	}
	if c.Channel.SendTimeout < 0 {
		return fmt.Errorf("channel.send_timeout cannot be negative")
	}
	if c.Collectors.ShutdownTimeout <= 0 {
		return fmt.Errorf("collectors.shutdown_timeout must be positive")
	}
	if len(c.Collectors.Enabled) == 0 {
		return fmt.Errorf("collectors.enabled cannot be empty")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be positive")
	}
	if c.Pipeline.FlushInterval <= 0 {
		return fmt.Errorf("pipeline.flush_interval must be positive")
	}
	return nil
}

// Section returns the factory configuration map for a collector type,
// with the common delivery settings merged in.
func (c *Config) Section(collectorType string) map[string]interface{} {
	var section map[string]interface{}
	switch collectorType {
	case "file":
		section = c.Collectors.File
	case "tcp":
		section = c.Collectors.TCP
	case "journald":
		section = c.Collectors.Journald
	default:
		section = map[string]interface{}{}
	}

	merged := make(map[string]interface{}, len(section)+2)
	for k, v := range section {
		merged[k] = v
	}
	if _, ok := merged["send_timeout"]; !ok && c.Channel.SendTimeout > 0 {
		merged["send_timeout"] = c.Channel.SendTimeout
	}
	if _, ok := merged["shutdown_timeout"]; !ok {
		merged["shutdown_timeout"] = c.Collectors.ShutdownTimeout
	}
	return merged
}
