// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/dpsctl/internal/transport"
	"github.com/Thermoquad/dpsctl/pkg/dps150"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display live telemetry from the power supply",
	Long: `Open a session with the power supply and display telemetry as it arrives.

The terminal UI shows output voltage, current and power, set-points, input
voltage, temperature, protection state and stream statistics. Protection trips
and frames that fail to decode are logged as events.

By default, only errors are logged. Use --show-all to log every update too.
Use --tui=false for plain text output with periodic statistics summaries.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Log every telemetry update (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval in text mode (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if useTUI {
		return runMonitorTUI(ctx)
	}
	return runMonitorText(ctx)
}

func runMonitorTUI(ctx context.Context) error {
	var p *tea.Program
	ready := make(chan struct{})

	dev, err := openDevice(ctx, func(ev transport.Event) {
		<-ready
		p.Send(eventMsg(ev))
	})
	if err != nil {
		return err
	}
	defer dev.Close()

	m := newMonitorModel(dev.desc, dev.store, dev.loop.Stats, showAll)
	p = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	close(ready)

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

func runMonitorText(ctx context.Context) error {
	events := make(chan transport.Event, 64)
	quit := make(chan struct{})
	dev, err := openDevice(ctx, func(ev transport.Event) {
		select {
		case events <- ev:
		case <-quit:
		}
	})
	if err != nil {
		return err
	}
	defer dev.Close()
	defer close(quit)

	fmt.Printf("dpsctl - Monitor\n")
	fmt.Printf("Connection: %s\n", dev.desc)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			stats := dev.loop.Stats()
			fmt.Print("\n" + stats.String())
			return nil

		case <-statsTicker.C:
			stats := dev.loop.Stats()
			fmt.Print(stats.String())
			fmt.Println()

		case ev := <-events:
			if ev.Disconnected {
				if ev.Err != nil {
					return fmt.Errorf("connection lost: %w", ev.Err)
				}
				fmt.Println("Connection closed")
				return nil
			}
			printEvent(ev)
		}
	}
}

// printEvent prints a telemetry event in text mode
func printEvent(ev transport.Event) {
	timestamp := ev.Frame.Timestamp().Format("15:04:05.000")

	if ev.Err != nil {
		fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %s: %v\n", timestamp, dps150.FieldIDName(ev.Frame.FieldID()), ev.Err)
		fmt.Print(dps150.FormatHex(ev.Frame.Payload()))
		fmt.Println()
		return
	}

	if p, ok := ev.Update.Protection(); ok && p != dps150.ProtectionNormal {
		fmt.Printf("[%s] \033[1;33mPROTECTION:\033[0m %s\n\n", timestamp, p)
	}
	if showAll {
		fmt.Printf("[%s] %s\n", timestamp, dps150.FieldIDName(ev.Frame.FieldID()))
		fmt.Print(dps150.FormatUpdate(ev.Update))
		fmt.Println()
	}
}
