// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/Thermoquad/dpsctl/internal/api"
	"github.com/Thermoquad/dpsctl/internal/metrics"
	"github.com/Thermoquad/dpsctl/internal/session"
	"github.com/Thermoquad/dpsctl/internal/transport"
)

const teardownTimeout = 2 * time.Second

// device is an open, brought-up DPS-150 session
type device struct {
	desc     string
	registry *prometheus.Registry
	metrics  *metrics.Engine
	loop     *transport.Loop
	ctrl     *session.Controller
	store    *api.Store

	runDone chan struct{}
	runErr  error
}

// openDevice connects, starts the transport loop and runs the session
// bring-up. handler, if set, sees every event after bring-up succeeds, once
// the state store has applied it.
func openDevice(ctx context.Context, handler func(transport.Event)) (*device, error) {
	conn, desc, err := OpenConnection(ctx, cfg)
	if err != nil {
		return nil, err
	}

	d := &device{
		desc:     desc,
		registry: metrics.NewRegistry(),
		store:    api.NewStore(),
		runDone:  make(chan struct{}),
	}
	d.metrics = metrics.NewEngine(d.registry)

	d.loop = transport.New(conn,
		transport.WithLogger(logger.Named("transport")),
		transport.WithMetrics(d.metrics),
		transport.WithWriteSpacing(cfg.Device.WriteSpacing),
		transport.WithQueueDepth(cfg.Device.QueueDepth),
		transport.WithReadBuffer(cfg.Device.ReadBuffer),
	)

	d.ctrl, err = session.New(d.loop,
		session.WithLogger(logger.Named("session")),
		session.WithBaudRate(cfg.Serial.Baud),
	)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	var live atomic.Bool
	d.loop.Subscribe(func(ev transport.Event) {
		d.store.HandleEvent(ev)
		if ev.Disconnected {
			d.metrics.SetConnected(false)
		}
		if handler != nil && live.Load() {
			handler(ev)
		}
	})

	// The loop outlives ctx so the close command can still be sent on exit
	go func() {
		d.runErr = d.loop.Run(context.Background())
		close(d.runDone)
	}()

	if err := d.ctrl.BringUp(ctx); err != nil {
		_ = d.loop.Close()
		<-d.runDone
		return nil, fmt.Errorf("bring up %s: %w", desc, err)
	}

	d.store.SetConnected(true)
	d.metrics.SetConnected(true)
	live.Store(true)
	logger.Info("device session open", zap.String("connection", desc))
	return d, nil
}

// Done is closed when the transport loop has stopped
func (d *device) Done() <-chan struct{} {
	return d.runDone
}

// Err returns the transport loop result once Done is closed
func (d *device) Err() error {
	select {
	case <-d.runDone:
		return d.runErr
	default:
		return nil
	}
}

// Close sends the session close command and stops the loop
func (d *device) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	var errs []error
	select {
	case <-d.runDone:
		_ = d.loop.Close()
	default:
		if err := d.ctrl.Teardown(ctx); err != nil && !errors.Is(err, transport.ErrLoopClosed) {
			errs = append(errs, err)
		}
	}

	select {
	case <-d.runDone:
		errs = append(errs, d.runErr)
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("transport loop did not stop: %w", ctx.Err()))
	}

	logger.Info("device session closed", zap.String("connection", d.desc))
	return errors.Join(errs...)
}
