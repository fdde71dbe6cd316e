// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	packetTestTimeout int
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid DPS-150 frame",
	Long: `Open a session and wait for a valid frame from the power supply until timeout.

Noise and frames failing the checksum are skipped. The device only starts
talking after the session open command, so this exercises the full bring-up.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error

Useful for testing cabling, baud rate and WebSocket bridges.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	fmt.Printf("dpsctl - Packet Test\n")
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)

	dev, err := openDevice(cmd.Context(), nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Connection: %s\n", dev.desc)
	fmt.Printf("Waiting for valid DPS-150 frame...\n\n")

	poll := time.NewTicker(20 * time.Millisecond)
	defer poll.Stop()
	deadline := time.After(time.Duration(packetTestTimeout) * time.Second)

	for {
		select {
		case <-poll.C:
			stats := dev.loop.Stats()
			if stats.ValidFrames == 0 {
				continue
			}
			view := dev.store.Snapshot()
			_ = dev.Close()

			fmt.Printf("SUCCESS: Received valid frame\n")
			if stats.ChecksumErrors > 0 {
				fmt.Printf("  (skipped %d frames with bad checksums)\n", stats.ChecksumErrors)
			}
			fmt.Printf("  Frames: %d valid of %d\n", stats.ValidFrames, stats.TotalFrames)
			fmt.Printf("  Bytes: %d\n", stats.BytesReceived)
			if view.Device.ModelName != "" {
				fmt.Printf("  Model: %s\n", view.Device.ModelName)
			}
			os.Exit(0)

		case <-dev.Done():
			fmt.Fprintf(os.Stderr, "Read error: %v\n", dev.Err())
			os.Exit(2)

		case <-deadline:
			_ = dev.Close()
			fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", packetTestTimeout)
			os.Exit(1)
		}
	}
}
