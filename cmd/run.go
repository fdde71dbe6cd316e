// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/dpsctl/internal/program"
	"github.com/Thermoquad/dpsctl/internal/sequencer"
	"github.com/Thermoquad/dpsctl/internal/transport"
	"github.com/Thermoquad/dpsctl/pkg/dps150"
)

var (
	runDryRun bool
	runQuiet  bool
)

const seedWait = 2 * time.Second

var runCmd = &cobra.Command{
	Use:   "run <program.yaml>",
	Short: "Run a timed voltage/current program",
	Long: `Compile a YAML program and execute it against the power supply.

A program is a list of steps. Each step is one of:
  voltage: <V>        current: <A>        output: on|off      sleep: <ms>
  sweep: {field, from, to, step, dwell}
  wave:  {field, center, amplitude, divisor, count, dwell}
  repeat: {times, steps}

Sweeps and waves start from the device's current set-points when no start
value is given. Ctrl+C aborts the run; the remaining instructions are skipped.

Use --dry-run to print the compiled instructions without connecting.`,
	Example: `  dpsctl -p /dev/ttyACM0 run sweep.yaml
  dpsctl run --dry-run sine.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runProgram,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Print compiled instructions and exit")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Do not print progress")
}

func compileFile(path string, seed sequencer.Setpoints) ([]sequencer.Instruction, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Program.Timeout)
	defer cancel()
	return program.Load(ctx, f, seed)
}

func runProgram(cmd *cobra.Command, args []string) error {
	path := args[0]

	if runDryRun {
		instrs, err := compileFile(path, sequencer.Setpoints{})
		if err != nil {
			return err
		}
		for i, ins := range instrs {
			fmt.Printf("%6d  %s\n", i, ins)
		}
		fmt.Printf("%d instructions, %s of sleep\n", len(instrs), totalSleep(instrs))
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seeded := make(chan struct{}, 1)
	dev, err := openDevice(ctx, func(ev transport.Event) {
		if ev.Update != nil && ev.Update.Has(dps150.FieldSetVoltage, dps150.FieldSetCurrent) {
			select {
			case seeded <- struct{}{}:
			default:
			}
		}
	})
	if err != nil {
		return err
	}
	defer dev.Close()

	// Bring-up already asked for a snapshot; the reply may have landed
	// before events were forwarded, so ask again and take whichever arrives
	if dev.store.Snapshot().UpdatedAt.IsZero() {
		if err := dev.ctrl.RequestSnapshot(ctx); err != nil {
			return err
		}
		select {
		case <-seeded:
		case <-time.After(seedWait):
			logger.Warn("no snapshot received, sweeps start from zero")
		case <-ctx.Done():
			return nil
		}
	}

	state := dev.store.Snapshot().Device
	seed := sequencer.Setpoints{Voltage: state.SetVoltage, Current: state.SetCurrent}

	instrs, err := compileFile(path, seed)
	if err != nil {
		return err
	}

	seq := sequencer.New(dev.ctrl,
		sequencer.WithLogger(logger.Named("sequencer")),
		sequencer.WithMetrics(dev.metrics),
	)
	seq.SeedSetpoints(seed)

	fmt.Printf("dpsctl - Program Run\n")
	fmt.Printf("Connection: %s\n", dev.desc)
	fmt.Printf("Program: %s (%d instructions, %s of sleep)\n", path, len(instrs), totalSleep(instrs))
	fmt.Printf("Press Ctrl+C to abort\n\n")

	progress := func(remaining int) {
		if runQuiet {
			return
		}
		done := len(instrs) - remaining
		sp := seq.Setpoints()
		fmt.Printf("\r[%d/%d] V=%.3f I=%.3f   ", done, len(instrs), sp.Voltage, sp.Current)
	}

	// The run itself is bounded by Abort, not ctx, so a signal reports
	// as an abort rather than a cancellation
	done, err := seq.Start(context.Background(), instrs, progress)
	if err != nil {
		return err
	}

	select {
	case err = <-done:
	case <-ctx.Done():
		seq.Abort()
		err = <-done
	case <-dev.Done():
		seq.Abort()
		<-done
		err = connectionLost(dev.Err())
	}
	if !runQuiet {
		fmt.Println()
	}

	switch {
	case errors.Is(err, sequencer.ErrAborted):
		fmt.Printf("Aborted with %d instructions remaining\n", seq.Status().Remaining)
		return nil
	case err != nil:
		return err
	}

	logger.Info("program complete", zap.String("program", path), zap.Int("instructions", len(instrs)))
	fmt.Printf("Program complete\n")
	return nil
}

func connectionLost(err error) error {
	if err == nil {
		return errors.New("connection lost during run")
	}
	return fmt.Errorf("connection lost during run: %w", err)
}

func totalSleep(instrs []sequencer.Instruction) time.Duration {
	var d time.Duration
	for _, ins := range instrs {
		if ins.Op() == sequencer.OpSleep {
			d += ins.Duration()
		}
	}
	return d
}
