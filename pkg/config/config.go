package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/penlink/internal/connmgr"
	"github.com/srg/penlink/internal/device"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel      string        `yaml:"log_level" default:"info"`
	RetryInterval time.Duration `yaml:"retry_interval" default:"10s"`
	LinkTimeout   time.Duration `yaml:"link_timeout" default:"30s"`
	ScanTimeout   time.Duration `yaml:"scan_timeout" default:"10s"`
	StorePath     string        `yaml:"store_path"`

	// Services filters the pairing picker.
	Services []string `yaml:"services"`

	// ResumeSignals are process signals treated as "the app became visible".
	ResumeSignals []string `yaml:"resume_signals"`

	// Logind enables resume events from systemd-logind on Linux.
	Logind bool `yaml:"logind" default:"true"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.StorePath = DefaultStorePath()
	cfg.Services = []string{device.PenServiceUUID}
	cfg.ResumeSignals = []string{"SIGCONT", "SIGUSR1"}
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the
// defaults; a missing file is an error only when explicitly requested.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %s not found", path)
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values a YAML file may have set wrongly.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("retry_interval must be positive, got %s", c.RetryInterval)
	}
	if c.LinkTimeout <= 0 {
		return fmt.Errorf("link_timeout must be positive, got %s", c.LinkTimeout)
	}
	if c.ScanTimeout <= 0 {
		return fmt.Errorf("scan_timeout must be positive, got %s", c.ScanTimeout)
	}
	if c.StorePath == "" {
		return fmt.Errorf("store_path must not be empty")
	}
	if _, err := device.ValidateUUID(c.Services...); err != nil {
		return fmt.Errorf("services: %w", err)
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// ManagerOptions converts the configuration into connection manager options.
func (c *Config) ManagerOptions(logger *logrus.Logger) *connmgr.Options {
	services, err := device.ValidateUUID(c.Services...)
	if err != nil {
		services = nil
	}
	return &connmgr.Options{
		Logger:        logger,
		RetryInterval: c.RetryInterval,
		LinkTimeout:   c.LinkTimeout,
		Services:      services,
	}
}

// DefaultStorePath is state.json in the user configuration directory
// ($XDG_CONFIG_HOME/penlink on Linux).
func DefaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", ".penlink-state.json")
	}
	return filepath.Join(dir, "penlink", "state.json")
}
