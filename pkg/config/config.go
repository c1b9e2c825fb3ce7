// Tickcache uses flags and a single config file for configuration.
// A config file is stored in YAML format and contains the values that can be set via flags.

package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var configFilePath = flag.String("config_file", "tickcache.yaml", "Path to the configuration file.")

// Config is the schema of the config file. Every leaf names the flag it sets in its `flag` tag; leaves left out of
// the file are nil and keep the flag value.
type Config struct {
	Logging  *LoggingConfig  `yaml:"logging"`
	Cache    *CacheConfig    `yaml:"cache"`
	Schedule *ScheduleConfig `yaml:"schedule"`
	Admin    *AdminConfig    `yaml:"admin"`
}

type LoggingConfig struct {
	HandlerType *string `yaml:"handler_type" flag:"log_handler_type"`
	Level       *string `yaml:"level" flag:"log_level"`
}

type CacheConfig struct {
	Backend         *string `yaml:"backend" flag:"cache_backend"`
	ShardCount      *int    `yaml:"shard_count" flag:"store_shard_count"`
	DefaultCapacity *int    `yaml:"default_capacity" flag:"clock_store_default_capacity"`
	Scopes          *string `yaml:"scopes" flag:"scopes"` // Comma separated.
}

type ScheduleConfig struct {
	TickInterval *time.Duration `yaml:"tick_interval" flag:"tick_interval"`
	TickSchedule *string        `yaml:"tick_schedule" flag:"tick_schedule"` // Cron expression.
}

type AdminConfig struct {
	Address *string `yaml:"address" flag:"admin_address"`
}

// Parse decodes a YAML config. Unknown keys are rejected so that typos don't silently fall back to defaults.
func Parse(data []byte) (*Config, error) {
	conf := new(Config)
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(conf); err != nil && !errors.Is(err, io.EOF) { // An empty file is a valid config.
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return conf, nil
}

// LoadFile reads and parses the config file at `path`.
func LoadFile(path string) (*Config, error) {
	configBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(configBytes)
}

// InitFlags initializes the flags from the config file specified by the -config_file flag.
// It should be called after defining all flags and before using them.
func InitFlags() {
	flag.Parse()

	if *configFilePath == "" {
		slog.Info("Config file not specified. Skipping config initialization.")
		return
	}

	conf, err := LoadFile(*configFilePath)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("Config file does not exist.", "path", *configFilePath, "error", err)
		return
	}
	if err != nil { // If the config file cannot be loaded, we skip loading and use default flag values.
		slog.Error("Failed to load config file.", "path", *configFilePath, "error", err)
		return
	}
	if err := setConfigFlags(conf); err != nil {
		slog.Error("Failed to set flags from config file.", "error", err)
		return
	}
}
