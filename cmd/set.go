// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/dpsctl/pkg/dps150"
)

// setter is the part of the session controller the set commands drive
type setter interface {
	SetVoltage(ctx context.Context, volts float32) error
	SetCurrent(ctx context.Context, amps float32) error
	SetGroup(ctx context.Context, n int, volts, amps float32) error
	SetProtection(ctx context.Context, fieldID uint8, value float32) error
	SetBrightness(ctx context.Context, level uint8) error
	SetVolume(ctx context.Context, level uint8) error
	EnableOutput(ctx context.Context) error
	DisableOutput(ctx context.Context) error
	EnableMetering(ctx context.Context) error
	DisableMetering(ctx context.Context) error
}

// setting is one parsed device write
type setting struct {
	desc  string
	apply func(ctx context.Context, s setter) error
}

var protectionNames = map[string]uint8{
	"ovp": dps150.FieldIDOVP,
	"ocp": dps150.FieldIDOCP,
	"opp": dps150.FieldIDOPP,
	"otp": dps150.FieldIDOTP,
	"lvp": dps150.FieldIDLVP,
}

func parseFloat32(name, s string) (float32, error) {
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", name, s)
	}
	return float32(v), nil
}

func parseLevel(name, s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return uint8(v), nil
}

func wantArgs(field string, args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s takes %d value(s), got %d", field, n, len(args))
	}
	return nil
}

// parseSetting turns "set" arguments into a device write
func parseSetting(args []string) (setting, error) {
	if len(args) == 0 {
		return setting{}, fmt.Errorf("missing field name")
	}
	field, vals := strings.ToLower(args[0]), args[1:]

	switch field {
	case "voltage", "v":
		if err := wantArgs(field, vals, 1); err != nil {
			return setting{}, err
		}
		v, err := parseFloat32("voltage", vals[0])
		if err != nil {
			return setting{}, err
		}
		return setting{
			desc:  fmt.Sprintf("voltage set-point %.3f V", v),
			apply: func(ctx context.Context, s setter) error { return s.SetVoltage(ctx, v) },
		}, nil

	case "current", "i":
		if err := wantArgs(field, vals, 1); err != nil {
			return setting{}, err
		}
		i, err := parseFloat32("current", vals[0])
		if err != nil {
			return setting{}, err
		}
		return setting{
			desc:  fmt.Sprintf("current limit %.3f A", i),
			apply: func(ctx context.Context, s setter) error { return s.SetCurrent(ctx, i) },
		}, nil

	case "group":
		if err := wantArgs(field, vals, 3); err != nil {
			return setting{}, err
		}
		n, err := strconv.Atoi(vals[0])
		if err != nil || n < 1 || n > 6 {
			return setting{}, fmt.Errorf("invalid group %q: must be 1..6", vals[0])
		}
		v, err := parseFloat32("voltage", vals[1])
		if err != nil {
			return setting{}, err
		}
		i, err := parseFloat32("current", vals[2])
		if err != nil {
			return setting{}, err
		}
		return setting{
			desc:  fmt.Sprintf("group %d preset %.3f V / %.3f A", n, v, i),
			apply: func(ctx context.Context, s setter) error { return s.SetGroup(ctx, n, v, i) },
		}, nil

	case "brightness", "volume":
		if err := wantArgs(field, vals, 1); err != nil {
			return setting{}, err
		}
		level, err := parseLevel(field, vals[0])
		if err != nil {
			return setting{}, err
		}
		if field == "brightness" {
			return setting{
				desc:  fmt.Sprintf("brightness %d", level),
				apply: func(ctx context.Context, s setter) error { return s.SetBrightness(ctx, level) },
			}, nil
		}
		return setting{
			desc:  fmt.Sprintf("volume %d", level),
			apply: func(ctx context.Context, s setter) error { return s.SetVolume(ctx, level) },
		}, nil

	case "output", "metering":
		if err := wantArgs(field, vals, 1); err != nil {
			return setting{}, err
		}
		on, err := parseOnOff(vals[0])
		if err != nil {
			return setting{}, err
		}
		return toggleSetting(field, on), nil
	}

	if fieldID, ok := protectionNames[field]; ok {
		if err := wantArgs(field, vals, 1); err != nil {
			return setting{}, err
		}
		v, err := parseFloat32(field, vals[0])
		if err != nil {
			return setting{}, err
		}
		return setting{
			desc:  fmt.Sprintf("%s threshold %.3f", strings.ToUpper(field), v),
			apply: func(ctx context.Context, s setter) error { return s.SetProtection(ctx, fieldID, v) },
		}, nil
	}

	return setting{}, fmt.Errorf("unknown field %q (valid: %s)", field, strings.Join(settableFields(), ", "))
}

func settableFields() []string {
	names := []string{"voltage", "current", "group", "brightness", "volume", "output", "metering"}
	prot := make([]string, 0, len(protectionNames))
	for n := range protectionNames {
		prot = append(prot, n)
	}
	sort.Strings(prot)
	return append(names, prot...)
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "1", "true", "enable":
		return true, nil
	case "off", "0", "false", "disable":
		return false, nil
	}
	return false, fmt.Errorf("invalid state %q (use on or off)", s)
}

func toggleSetting(field string, on bool) setting {
	st := setting{desc: fmt.Sprintf("%s %s", field, strings.ToLower(onOff(on)))}
	switch {
	case field == "output" && on:
		st.apply = func(ctx context.Context, s setter) error { return s.EnableOutput(ctx) }
	case field == "output":
		st.apply = func(ctx context.Context, s setter) error { return s.DisableOutput(ctx) }
	case on:
		st.apply = func(ctx context.Context, s setter) error { return s.EnableMetering(ctx) }
	default:
		st.apply = func(ctx context.Context, s setter) error { return s.DisableMetering(ctx) }
	}
	return st
}

// applySetting opens a session, performs one write and closes the session
func applySetting(cmd *cobra.Command, st setting) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev, err := openDevice(ctx, nil)
	if err != nil {
		return err
	}
	defer dev.Close()

	if err := st.apply(ctx, dev.ctrl); err != nil {
		return fmt.Errorf("set %s: %w", st.desc, err)
	}
	logger.Info("device updated", zap.String("setting", st.desc))
	fmt.Printf("OK: %s\n", st.desc)
	return nil
}

var setCmd = &cobra.Command{
	Use:   "set <field> <value...>",
	Short: "Write a set-point, preset, protection threshold or preference",
	Long: `Write a single value to the power supply.

Fields:
  voltage <V>              Output voltage set-point
  current <A>              Output current limit
  group <1-6> <V> <A>      Store a voltage/current preset
  ovp|ocp|opp|otp|lvp <x>  Protection thresholds
  brightness <0-255>       Display brightness
  volume <0-255>           Beeper volume
  output on|off            Output relay
  metering on|off          Capacity/energy metering`,
	Example: `  dpsctl -p /dev/ttyACM0 set voltage 12
  dpsctl -p /dev/ttyACM0 set group 2 5 0.5
  dpsctl -p /dev/ttyACM0 set ocp 3.2`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := parseSetting(args)
		if err != nil {
			return err
		}
		return applySetting(cmd, st)
	},
}

func newToggleCmd(field, short string) *cobra.Command {
	return &cobra.Command{
		Use:       field + " on|off",
		Short:     short,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			return applySetting(cmd, toggleSetting(field, on))
		},
	}
}

func init() {
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(newToggleCmd("output", "Switch the output on or off"))
	rootCmd.AddCommand(newToggleCmd("metering", "Start or stop capacity/energy metering"))
}
