// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

// Package config loads application configuration in three layers:
// built-in defaults, an optional YAML file, and environment variables
// with the PALISADE_ prefix (highest priority). Config is immutable
// after Load and safe for concurrent reads.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/palisade-sec/palisade/internal/alerting"
	"github.com/palisade-sec/palisade/internal/anomaly"
	"github.com/palisade-sec/palisade/internal/classifier"
	"github.com/palisade-sec/palisade/internal/csrf"
	"github.com/palisade-sec/palisade/internal/threatintel"
)

// DefaultConfigPaths lists where config files are searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/palisade/config.yaml",
	"/etc/palisade/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// envPrefix namespaces the environment variable layer.
const envPrefix = "PALISADE_"

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host            string        `json:"host" koanf:"host"`
	Port            int           `json:"port" koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `json:"read_timeout" koanf:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout" koanf:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" koanf:"shutdown_timeout"`
}

// LoggingConfig configures zerolog output.
type LoggingConfig struct {
	Level  string `json:"level" koanf:"level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	Format string `json:"format" koanf:"format" validate:"omitempty,oneof=json console"`
	Caller bool   `json:"caller" koanf:"caller"`
}

// EventLogConfig configures the in-memory log and the archive.
type EventLogConfig struct {
	MaxEntries     int `json:"max_entries" koanf:"max_entries" validate:"omitempty,min=10"`
	RecorderBuffer int `json:"recorder_buffer" koanf:"recorder_buffer" validate:"omitempty,min=1"`

	ArchiveEnabled   bool          `json:"archive_enabled" koanf:"archive_enabled"`
	ArchivePath      string        `json:"archive_path" koanf:"archive_path"`
	ArchiveRetention time.Duration `json:"archive_retention" koanf:"archive_retention"`
}

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
	EventLog EventLogConfig `koanf:"eventlog"`

	Classifier classifier.Config        `koanf:"classifier"`
	CSRF       csrf.Config              `koanf:"csrf"`
	Anomaly    anomaly.Config           `koanf:"anomaly"`
	Intel      threatintel.StaticConfig `koanf:"intel"`

	Alerting alerting.Config        `koanf:"alerting"`
	Webhook  alerting.WebhookConfig `koanf:"webhook"`
	Channel  alerting.ChannelPolicy `koanf:"channel"`
}

// defaultConfig returns the built-in defaults, applied before file and
// environment layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8484,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		EventLog: EventLogConfig{
			MaxEntries:       1000,
			RecorderBuffer:   256,
			ArchiveEnabled:   false,
			ArchivePath:      "/data/palisade/events",
			ArchiveRetention: 30 * 24 * time.Hour,
		},
		Classifier: classifier.DefaultConfig(),
		CSRF:       csrf.DefaultConfig(),
		Anomaly:    anomaly.DefaultConfig(),
		Intel:      threatintel.DefaultStaticConfig(),
		Alerting:   alerting.DefaultConfig(),
	}
}

// Load builds the configuration from defaults, an optional YAML file,
// and PALISADE_-prefixed environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// PALISADE_SERVER_PORT -> server.port
	envProvider := env.Provider(envPrefix, ".", func(name string) string {
		return strings.Replace(
			strings.ToLower(strings.TrimPrefix(name, envPrefix)), "_", ".", 1)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first readable config path, honoring the
// CONFIG_PATH override.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Validate runs tag validation plus the semantic checks the tags cannot
// express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if err := validateClock(c.Channel.QuietStart, "channel.quiet_start"); err != nil {
		return err
	}
	if err := validateClock(c.Channel.QuietEnd, "channel.quiet_end"); err != nil {
		return err
	}
	if (c.Channel.QuietStart == "") != (c.Channel.QuietEnd == "") {
		return fmt.Errorf("channel quiet hours require both start and end")
	}

	if c.Classifier.EncodingRatioThreshold < 0 || c.Classifier.EncodingRatioThreshold > 1 {
		return fmt.Errorf("classifier.encoding_ratio_threshold must be in [0,1], got %v",
			c.Classifier.EncodingRatioThreshold)
	}

	if c.EventLog.ArchiveEnabled && c.EventLog.ArchivePath == "" {
		return fmt.Errorf("eventlog.archive_path required when archive is enabled")
	}

	return nil
}

// validateClock checks an "HH:MM" string; empty is allowed.
func validateClock(value, field string) error {
	if value == "" {
		return nil
	}
	if _, err := time.Parse("15:04", value); err != nil {
		return fmt.Errorf("%s must be HH:MM, got %q", field, value)
	}
	return nil
}
