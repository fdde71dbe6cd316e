// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/dpsctl/internal/transport"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for controlling the power supply",
	Long: `Control the power supply via an interactive terminal UI.

Features:
  - Voltage and current set-point entry
  - Output on/off
  - Real-time telemetry display
  - Statistics tracking
  - Event logging

Tab switches between the set-point inputs and the buttons. Enter sends the
focused action.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

func runControl(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	m := newControlModel(dev.desc, dev.store, dev.ctrl, dev.loop.Stats)
	p = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	close(ready)

	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
