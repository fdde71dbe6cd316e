// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Thermoquad/dpsctl/internal/config"
	"github.com/Thermoquad/dpsctl/internal/logging"
)

var (
	cfgFile string

	v      = viper.New()
	cfg    *config.Config
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "dpsctl",
	Short: "DPS-150 bench power supply control",
	Long: `dpsctl - A CLI tool for monitoring and controlling FNIRSI DPS-150 bench
power supplies over USB serial.

Provides commands for live telemetry, setting voltage/current and protection
limits, running timed test programs, and an HTTP API with Prometheus metrics.

Connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

Settings can also come from a YAML file (--config, or ./dpsctl.yaml) and from
DPS_* environment variables, e.g. DPS_SERIAL_PORT=/dev/ttyACM0.

For WebSocket authentication, the password is read from the DPS_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "0.3.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default ./dpsctl.yaml)")

	// Serial connection flags
	flags.StringP("port", "p", "", "Serial port device")
	flags.IntP("baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	flags.StringP("url", "u", "", "WebSocket URL (ws:// or wss://)")
	flags.String("username", "", "Username for HTTP Basic auth")
	flags.Bool("no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Logging
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", "console", "Log format (console, json)")

	bindings := map[string]string{
		"serial.port":        "port",
		"serial.baud":        "baud",
		"bridge.url":         "url",
		"bridge.username":    "username",
		"bridge.noSSLVerify": "no-ssl-verify",
		"logging.level":      "log-level",
		"logging.format":     "log-format",
	}
	for key, flag := range bindings {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	cfg, err = config.Load(v, cfgFile)
	if err != nil {
		return err
	}

	logger, err = logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger = logger.Named(cmd.Name())
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
