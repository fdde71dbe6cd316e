// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/dpsctl/internal/api"
	"github.com/Thermoquad/dpsctl/internal/metrics"
	"github.com/Thermoquad/dpsctl/internal/sequencer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve an HTTP API and Prometheus metrics for the power supply",
	Long: `Hold a session open with the power supply and expose it over HTTP.

Endpoints:
  GET    /api/state      Latest device state
  POST   /api/setpoint   {"voltage": V, "current": A}
  POST   /api/output     {"enabled": true|false}
  POST   /api/metering   {"enabled": true|false}
  POST   /api/snapshot   Request a full state report
  GET    /api/program    Program run status
  POST   /api/program    Start a YAML program (request body)
  DELETE /api/program    Abort the running program
  GET    /metrics        Prometheus metrics (unless metrics.enable=false)

The server exits when the device disconnects or on Ctrl+C.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (default from api.addr)")
	if err := v.BindPFlag("api.addr", serveCmd.Flags().Lookup("addr")); err != nil {
		panic(err)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev, err := openDevice(ctx, nil)
	if err != nil {
		return err
	}
	defer dev.Close()

	seq := sequencer.New(dev.ctrl,
		sequencer.WithLogger(logger.Named("sequencer")),
		sequencer.WithMetrics(dev.metrics),
	)

	var metricsHandler http.Handler
	if cfg.Metrics.Enable {
		metricsHandler = metrics.Handler(dev.registry)
	}

	// Program runs end with the server, not with the request that started them
	runCtx, cancelRuns := context.WithCancel(ctx)
	defer cancelRuns()

	srv := api.New(dev.store, dev.ctrl, seq, api.Options{
		Addr:           cfg.API.Addr,
		MetricsPath:    cfg.Metrics.Path,
		MetricsHandler: metricsHandler,
		ProgramTimeout: cfg.Program.Timeout,
		Logger:         logger.Named("api"),
		RunContext:     runCtx,
	})

	// Stop serving when the device goes away
	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()
	go func() {
		select {
		case <-dev.Done():
			logger.Warn("device disconnected, shutting down", zap.Error(dev.Err()))
			cancelServe()
		case <-serveCtx.Done():
		}
	}()

	fmt.Printf("dpsctl - HTTP API\n")
	fmt.Printf("Connection: %s\n", dev.desc)
	fmt.Printf("Listening: http://%s\n", cfg.API.Addr)
	if metricsHandler != nil {
		fmt.Printf("Metrics: http://%s%s\n", cfg.API.Addr, cfg.Metrics.Path)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if err := srv.Serve(serveCtx); err != nil {
		return fmt.Errorf("http api: %w", err)
	}

	seq.Abort()
	if dev.Err() != nil {
		return fmt.Errorf("device connection lost: %w", dev.Err())
	}
	return nil
}
