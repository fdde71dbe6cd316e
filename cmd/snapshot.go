// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/dpsctl/internal/api"
	"github.com/Thermoquad/dpsctl/internal/transport"
	"github.com/Thermoquad/dpsctl/pkg/dps150"
)

var (
	snapshotJSON    bool
	snapshotTimeout time.Duration
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Print the full device state once",
	Long: `Request a full state report from the power supply and print it.

Exit codes:
  0 - Snapshot received
  1 - Timeout reached without a snapshot
  2 - Connection error`,
	RunE: runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().BoolVar(&snapshotJSON, "json", false, "Print as JSON")
	snapshotCmd.Flags().DurationVar(&snapshotTimeout, "timeout", 3*time.Second, "Time to wait for the device")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	got := make(chan struct{}, 1)
	dev, err := openDevice(ctx, func(ev transport.Event) {
		if ev.Update != nil && ev.Frame.FieldID() == dps150.FieldIDAll {
			select {
			case got <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer dev.Close()

	if err := dev.ctrl.RequestSnapshot(ctx); err != nil {
		return err
	}

	select {
	case <-got:
	case <-dev.Done():
		return fmt.Errorf("connection closed before snapshot: %v", dev.Err())
	case <-time.After(snapshotTimeout):
		dev.Close()
		fmt.Fprintf(os.Stderr, "TIMEOUT: No snapshot received within %s\n", snapshotTimeout)
		os.Exit(1)
	case <-ctx.Done():
		return nil
	}

	view := dev.store.Snapshot()
	if snapshotJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	printState(os.Stdout, view)
	return nil
}

// printState writes a device state as aligned text
func printState(w io.Writer, view api.StateView) {
	d := view.Device
	fmt.Fprintf(w, "Model:            %s (hw %s, fw %s)\n", d.ModelName, d.HardwareVersion, d.FirmwareVersion)
	fmt.Fprintf(w, "Input Voltage:    %.2f V\n", d.InputVoltage)
	fmt.Fprintf(w, "Set-point:        %.3f V / %.3f A\n", d.SetVoltage, d.SetCurrent)
	fmt.Fprintf(w, "Output:           %s, %.3f V / %.3f A / %.3f W\n", onOff(d.OutputClosed), d.OutputVoltage, d.OutputCurrent, d.OutputPower)
	fmt.Fprintf(w, "Mode:             %s\n", d.ModeName)
	fmt.Fprintf(w, "Protection:       %s\n", dps150.FormatValue(dps150.FieldProtectionState, d.ProtectionState))
	fmt.Fprintf(w, "Temperature:      %.1f°C\n", d.Temperature)
	fmt.Fprintf(w, "Limits:           OVP %.3f V, OCP %.3f A, OPP %.2f W, OTP %.1f°C, LVP %.2f V\n",
		d.OverVoltageProtection, d.OverCurrentProtection, d.OverPowerProtection,
		d.OverTemperatureProtection, d.LowVoltageProtection)
	fmt.Fprintf(w, "Upper Limits:     %.3f V / %.3f A\n", d.UpperLimitVoltage, d.UpperLimitCurrent)
	fmt.Fprintf(w, "Metering:         %s, %.3f Ah / %.3f Wh\n", onOff(d.MeteringClosed), d.OutputCapacity, d.OutputEnergy)
	fmt.Fprintf(w, "Brightness/Vol:   %d / %d\n", d.Brightness, d.Volume)
	for i, g := range d.Groups {
		fmt.Fprintf(w, "Group %d:          %.3f V / %.3f A\n", i+1, g.SetVoltage, g.SetCurrent)
	}
}
