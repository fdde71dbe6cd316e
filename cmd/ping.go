// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/dpsctl/internal/transport"
	"github.com/Thermoquad/dpsctl/pkg/dps150"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure request/response round trips to the power supply",
	Long: `Request the input voltage field repeatedly and wait for each reply.

This is useful for verifying:
  - The serial port or WebSocket bridge passes data both ways
  - HTTP Basic authentication works
  - The configured write spacing and round-trip latency

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	replies := make(chan dps150.Update, 16)
	dev, err := openDevice(cmd.Context(), func(ev transport.Event) {
		if ev.Update != nil && ev.Frame.FieldID() == dps150.FieldIDInputVoltage {
			select {
			case replies <- ev.Update:
			default:
			}
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("dpsctl - Ping Test\n")
	fmt.Printf("Connection: %s\n", dev.desc)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0
	var totalRTT time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		// Drop replies that arrived after an earlier timeout
		for len(replies) > 0 {
			<-replies
		}

		timeout := time.Duration(pingTimeout) * time.Second
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		startTime := time.Now()
		err := dev.ctrl.RequestField(ctx, dps150.FieldIDInputVoltage)
		if err != nil {
			cancel()
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		select {
		case u := <-replies:
			rtt := time.Since(startTime)
			totalRTT += rtt
			v, _ := u.Float(dps150.FieldInputVoltage)
			fmt.Printf("reply input=%.2fV, rtt=%v\n", v, rtt.Round(time.Millisecond))
			successCount++

		case <-dev.Done():
			cancel()
			fmt.Printf("READ FAILED: %v\n", dev.Err())
			os.Exit(2)

		case <-ctx.Done():
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		}
		cancel()

		// Small delay between pings
		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}
	_ = dev.Close()

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)
	if successCount > 0 {
		fmt.Printf("average rtt=%v\n", (totalRTT / time.Duration(successCount)).Round(time.Millisecond))
	}

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
