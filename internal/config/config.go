// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override (DPS_SERIAL_PORT, ...)
const EnvPrefix = "DPS"

// SerialConfig selects the local serial port
type SerialConfig struct {
	Port string `mapstructure:"port"`
	Baud int    `mapstructure:"baud"`
}

// BridgeConfig selects a WebSocket serial bridge
type BridgeConfig struct {
	URL         string `mapstructure:"url"`
	Username    string `mapstructure:"username"`
	NoSSLVerify bool   `mapstructure:"noSSLVerify"`
}

// DeviceConfig tunes the protocol engine
type DeviceConfig struct {
	WriteSpacing time.Duration `mapstructure:"writeSpacing"`
	QueueDepth   int           `mapstructure:"queueDepth"`
	ReadBuffer   int           `mapstructure:"readBuffer"`
}

// ProgramConfig bounds program compilation
type ProgramConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// LumberjackConfig configures the rolling log file
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig sets log level and output
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// APIConfig configures the HTTP control surface
type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

// MetricsConfig configures Prometheus exposition
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// Config is the top-level configuration
type Config struct {
	Serial  SerialConfig  `mapstructure:"serial"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Device  DeviceConfig  `mapstructure:"device"`
	Program ProgramConfig `mapstructure:"program"`
	Logging LoggingConfig `mapstructure:"logging"`
	API     APIConfig     `mapstructure:"api"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// Load reads configuration from an optional file, DPS_* environment
// variables and whatever flags were bound to v. A missing file is not an
// error when path is empty.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("dpsctl")
		v.SetConfigType("yaml")
	}

	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults registers default values
func SetDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud", 115200)

	v.SetDefault("bridge.url", "")
	v.SetDefault("bridge.username", "")
	v.SetDefault("bridge.noSSLVerify", false)

	v.SetDefault("device.writeSpacing", 50*time.Millisecond)
	v.SetDefault("device.queueDepth", 256)
	v.SetDefault("device.readBuffer", 1024)

	v.SetDefault("program.timeout", 500*time.Millisecond)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 10)
	v.SetDefault("logging.file.maxBackups", 3)
	v.SetDefault("logging.file.maxAge", 7)
	v.SetDefault("logging.file.compress", false)

	v.SetDefault("api.addr", "127.0.0.1:8150")

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}

// Validate rejects values the engine cannot run with
func (c *Config) Validate() error {
	if c.Device.WriteSpacing < 0 {
		return fmt.Errorf("device.writeSpacing must not be negative: %s", c.Device.WriteSpacing)
	}
	if c.Device.QueueDepth <= 0 {
		return fmt.Errorf("device.queueDepth must be positive: %d", c.Device.QueueDepth)
	}
	if c.Device.ReadBuffer <= 0 {
		return fmt.Errorf("device.readBuffer must be positive: %d", c.Device.ReadBuffer)
	}
	if c.Program.Timeout <= 0 {
		return fmt.Errorf("program.timeout must be positive: %s", c.Program.Timeout)
	}
	return nil
}
