// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session drives the DPS-150 session lifecycle and typed set/get
// commands on top of a frame writer.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/Thermoquad/dpsctl/pkg/dps150"
)

// ErrUnsupportedBaud is returned for a baud rate the device cannot select
var ErrUnsupportedBaud = errors.New("unsupported baud rate")

// FrameWriter sends one encoded frame. *transport.Loop implements it.
type FrameWriter interface {
	Write(ctx context.Context, frame []byte) error
}

// Option configures a Controller
type Option func(*Controller)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBaudRate sets the rate announced during bring-up
func WithBaudRate(rate int) Option {
	return func(c *Controller) { c.baud = rate }
}

// Controller issues session and configuration commands
type Controller struct {
	w         FrameWriter
	logger    *zap.Logger
	baud      int
	baudIndex uint8
}

// New creates a controller. The default baud rate is 115200.
func New(w FrameWriter, opts ...Option) (*Controller, error) {
	c := &Controller{
		w:      w,
		logger: zap.NewNop(),
		baud:   115200,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.baudIndex = dps150.BaudIndex(c.baud)
	if c.baudIndex == 0 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBaud, c.baud)
	}
	return c, nil
}

// BaudRate returns the configured baud rate
func (c *Controller) BaudRate() int {
	return c.baud
}

func (c *Controller) send(ctx context.Context, what string, frame []byte) error {
	if err := c.w.Write(ctx, frame); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

// BringUp opens the session, announces the baud rate and requests the
// identity strings followed by a full snapshot. It stops at the first
// failed write.
func (c *Controller) BringUp(ctx context.Context) error {
	c.logger.Info("session bring-up", zap.Int("baud", c.baud))

	steps := []struct {
		what  string
		frame []byte
	}{
		{"open session", dps150.NewSessionCommand(dps150.SessionOpen)},
		{"set baud", dps150.NewBaudCommand(c.baudIndex)},
		{"request model name", dps150.NewGetCommand(dps150.FieldIDModelName)},
		{"request hardware version", dps150.NewGetCommand(dps150.FieldIDHardwareVersion)},
		{"request firmware version", dps150.NewGetCommand(dps150.FieldIDFirmwareVersion)},
		{"request snapshot", dps150.NewGetCommand(dps150.FieldIDAll)},
	}
	for _, s := range steps {
		if err := c.send(ctx, s.what, s.frame); err != nil {
			c.logger.Error("session bring-up failed", zap.String("step", s.what), zap.Error(err))
			return err
		}
	}
	return nil
}

// Teardown closes the session and then the writer, if it is an io.Closer.
// The writer is closed even when the close command could not be sent.
func (c *Controller) Teardown(ctx context.Context) error {
	c.logger.Info("session teardown")

	err := c.send(ctx, "close session", dps150.NewSessionCommand(dps150.SessionClose))
	if err != nil {
		c.logger.Warn("session close not sent", zap.Error(err))
	}

	if closer, ok := c.w.(io.Closer); ok {
		if cerr := closer.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close stream: %w", cerr))
		}
	}
	return err
}

// SetFloatField writes a float32 value to fieldID
func (c *Controller) SetFloatField(ctx context.Context, fieldID uint8, value float32) error {
	c.logger.Debug("set float", zap.String("field", dps150.FieldIDName(fieldID)), zap.Float32("value", value))
	return c.send(ctx, "set "+dps150.FieldIDName(fieldID), dps150.NewSetFloatCommand(fieldID, value))
}

// SetByteField writes a single byte value to fieldID
func (c *Controller) SetByteField(ctx context.Context, fieldID uint8, value uint8) error {
	c.logger.Debug("set byte", zap.String("field", dps150.FieldIDName(fieldID)), zap.Uint8("value", value))
	return c.send(ctx, "set "+dps150.FieldIDName(fieldID), dps150.NewSetByteCommand(fieldID, value))
}

// SetVoltage sets the output voltage setpoint in volts
func (c *Controller) SetVoltage(ctx context.Context, volts float32) error {
	return c.SetFloatField(ctx, dps150.FieldIDVoltageSet, volts)
}

// SetCurrent sets the output current limit in amps
func (c *Controller) SetCurrent(ctx context.Context, amps float32) error {
	return c.SetFloatField(ctx, dps150.FieldIDCurrentSet, amps)
}

// SetGroup stores a voltage/current preset in group n (1..6)
func (c *Controller) SetGroup(ctx context.Context, n int, volts, amps float32) error {
	if n < 1 || n > 6 {
		return fmt.Errorf("preset group %d out of range 1..6", n)
	}
	base := uint8(dps150.FieldIDGroup1Voltage + 2*(n-1))
	if err := c.SetFloatField(ctx, base, volts); err != nil {
		return err
	}
	return c.SetFloatField(ctx, base+1, amps)
}

// Protection thresholds accepted by SetProtection
var protectionFields = map[uint8]bool{
	dps150.FieldIDOVP: true,
	dps150.FieldIDOCP: true,
	dps150.FieldIDOPP: true,
	dps150.FieldIDOTP: true,
	dps150.FieldIDLVP: true,
}

// SetProtection sets one of the OVP/OCP/OPP/OTP/LVP thresholds
func (c *Controller) SetProtection(ctx context.Context, fieldID uint8, value float32) error {
	if !protectionFields[fieldID] {
		return fmt.Errorf("field %d is not a protection threshold", fieldID)
	}
	return c.SetFloatField(ctx, fieldID, value)
}

// SetBrightness sets the display brightness
func (c *Controller) SetBrightness(ctx context.Context, level uint8) error {
	return c.SetByteField(ctx, dps150.FieldIDBrightness, level)
}

// SetVolume sets the beeper volume
func (c *Controller) SetVolume(ctx context.Context, level uint8) error {
	return c.SetByteField(ctx, dps150.FieldIDVolume, level)
}

// EnableOutput turns the output on
func (c *Controller) EnableOutput(ctx context.Context) error {
	return c.SetByteField(ctx, dps150.FieldIDOutputEnable, 1)
}

// DisableOutput turns the output off
func (c *Controller) DisableOutput(ctx context.Context) error {
	return c.SetByteField(ctx, dps150.FieldIDOutputEnable, 0)
}

// EnableMetering starts capacity/energy accumulation
func (c *Controller) EnableMetering(ctx context.Context) error {
	return c.SetByteField(ctx, dps150.FieldIDMeteringEnable, 1)
}

// DisableMetering stops capacity/energy accumulation
func (c *Controller) DisableMetering(ctx context.Context) error {
	return c.SetByteField(ctx, dps150.FieldIDMeteringEnable, 0)
}

// RequestSnapshot asks the device for a full state report
func (c *Controller) RequestSnapshot(ctx context.Context) error {
	return c.RequestField(ctx, dps150.FieldIDAll)
}

// RequestField asks the device to report a single field
func (c *Controller) RequestField(ctx context.Context, fieldID uint8) error {
	return c.send(ctx, "request "+dps150.FieldIDName(fieldID), dps150.NewGetCommand(fieldID))
}
