// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/dpsctl/internal/transport"
	"github.com/Thermoquad/dpsctl/pkg/dps150"
)

var rawLogMetering bool

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display DPS-150 frames as they arrive.

Each frame is shown with timestamp, direction, field name, checksum and its
decoded value, or a hex dump when the payload could not be decoded.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().BoolVar(&rawLogMetering, "metering", false, "Enable metering so capacity/energy frames are reported")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	quit := make(chan struct{})
	frames := make(chan transport.Event, 64)
	dev, err := openDevice(ctx, func(ev transport.Event) {
		select {
		case frames <- ev:
		case <-quit:
		}
	})
	if err != nil {
		return err
	}
	defer dev.Close()
	defer close(quit)

	fmt.Printf("dpsctl - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", dev.desc)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if rawLogMetering {
		if err := dev.ctrl.EnableMetering(ctx); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-frames:
			if ev.Disconnected {
				if ev.Err != nil {
					fmt.Printf("[ERROR] %v\n", ev.Err)
				}
				fmt.Println("Connection closed")
				return nil
			}
			fmt.Print(dps150.FormatFrame(ev.Frame))
			if ev.Err != nil {
				fmt.Printf("  [ERROR] %v\n", ev.Err)
			}
		}
	}
}
