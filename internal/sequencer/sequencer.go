// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sequencer runs authored programs against a device, one at a time.
package sequencer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Thermoquad/dpsctl/internal/metrics"
)

var (
	// ErrRunActive is returned when a run is started while another is active
	ErrRunActive = errors.New("a program run is already active")

	// ErrAborted is returned by a run stopped with Abort
	ErrAborted = errors.New("program run aborted")
)

// Device is the command surface a program drives. *session.Controller
// implements it.
type Device interface {
	SetVoltage(ctx context.Context, volts float32) error
	SetCurrent(ctx context.Context, amps float32) error
	EnableOutput(ctx context.Context) error
	DisableOutput(ctx context.Context) error
}

// State of the sequencer
type State int

// Sequencer states
const (
	StateIdle State = iota
	StateRunning
	StateCancelling
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelling:
		return "cancelling"
	default:
		return "unknown"
	}
}

// Setpoints holds the last commanded voltage and current
type Setpoints struct {
	Voltage float32 `json:"voltage"`
	Current float32 `json:"current"`
}

// Status is a snapshot of the sequencer for display
type Status struct {
	State     string `json:"state"`
	RunID     string `json:"run_id,omitempty"`
	Total     int    `json:"total"`
	Remaining int    `json:"remaining"`
}

// Option configures a Sequencer
type Option func(*Sequencer)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Sequencer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Engine) Option {
	return func(s *Sequencer) { s.metrics = m }
}

// Sequencer executes instruction lists in order, at most one at a time
type Sequencer struct {
	dev     Device
	logger  *zap.Logger
	metrics *metrics.Engine

	mu        sync.Mutex
	state     State
	cancel    context.CancelCauseFunc
	runID     string
	total     int
	remaining int
	setpoints Setpoints
}

// New creates an idle sequencer driving dev
func New(dev Device, opts ...Option) *Sequencer {
	s := &Sequencer{
		dev:    dev,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the current state and progress
func (s *Sequencer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		State:     s.state.String(),
		RunID:     s.runID,
		Total:     s.total,
		Remaining: s.remaining,
	}
}

// Setpoints returns the last voltage and current commanded by a run, or
// the seeded values if no run has set them
func (s *Sequencer) Setpoints() Setpoints {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setpoints
}

// SeedSetpoints sets the cached setpoints, typically from device telemetry
func (s *Sequencer) SeedSetpoints(sp Setpoints) {
	s.mu.Lock()
	s.setpoints = sp
	s.mu.Unlock()
}

// Start begins running instructions in the background and returns a
// channel that receives the run result. It fails with ErrRunActive if a
// run is already active.
//
// progress, if set, is called with the instruction count before the first
// instruction and with the remaining count after each one.
func (s *Sequencer) Start(ctx context.Context, instructions []Instruction, progress func(remaining int)) (<-chan error, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return nil, ErrRunActive
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	queue := make([]Instruction, len(instructions))
	copy(queue, instructions)

	s.state = StateRunning
	s.cancel = cancel
	s.runID = uuid.NewString()
	s.total = len(queue)
	s.remaining = len(queue)
	runID := s.runID
	s.mu.Unlock()

	s.metrics.SetRunning(true)

	done := make(chan error, 1)
	go func() {
		err := s.execute(runCtx, runID, queue, progress)
		cancel(nil)
		s.finish(runID, err)
		done <- err
		close(done)
	}()
	return done, nil
}

// Run is Start followed by waiting for the result
func (s *Sequencer) Run(ctx context.Context, instructions []Instruction, progress func(remaining int)) error {
	done, err := s.Start(ctx, instructions, progress)
	if err != nil {
		return err
	}
	return <-done
}

// Abort cancels the active run. It returns false when no run is active.
func (s *Sequencer) Abort() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return s.state == StateCancelling
	}
	s.state = StateCancelling
	s.cancel(ErrAborted)
	s.logger.Info("program abort requested", zap.String("run_id", s.runID))
	return true
}

func (s *Sequencer) execute(ctx context.Context, runID string, queue []Instruction, progress func(int)) error {
	log := s.logger.With(zap.String("run_id", runID))
	log.Info("program started", zap.Int("instructions", len(queue)))
	started := time.Now()

	report := func(remaining int) {
		s.mu.Lock()
		s.remaining = remaining
		s.mu.Unlock()
		if progress != nil {
			progress(remaining)
		}
	}
	report(len(queue))

	for i, ins := range queue {
		if ctx.Err() != nil {
			return stopCause(ctx)
		}

		err := s.step(ctx, ins)
		s.metrics.ObserveStep(ins.Op().String(), err)
		// No progress is reported once the run is stopping
		if ctx.Err() != nil {
			return stopCause(ctx)
		}
		if err != nil {
			log.Warn("instruction failed, continuing",
				zap.Int("index", i),
				zap.Stringer("instruction", ins),
				zap.Error(err))
		}

		report(len(queue) - i - 1)
	}

	log.Info("program finished", zap.Duration("elapsed", time.Since(started)))
	return nil
}

func (s *Sequencer) step(ctx context.Context, ins Instruction) error {
	switch ins.Op() {
	case OpSetVoltage:
		s.mu.Lock()
		s.setpoints.Voltage = ins.Value()
		s.mu.Unlock()
		return s.dev.SetVoltage(ctx, ins.Value())
	case OpSetCurrent:
		s.mu.Lock()
		s.setpoints.Current = ins.Value()
		s.mu.Unlock()
		return s.dev.SetCurrent(ctx, ins.Value())
	case OpOutputOn:
		return s.dev.EnableOutput(ctx)
	case OpOutputOff:
		return s.dev.DisableOutput(ctx)
	case OpSleep:
		return sleep(ctx, ins.Duration())
	default:
		return nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stopCause maps a cancelled run context to the run result
func stopCause(ctx context.Context) error {
	cause := context.Cause(ctx)
	if errors.Is(cause, ErrAborted) {
		return ErrAborted
	}
	return cause
}

func (s *Sequencer) finish(runID string, err error) {
	result := "done"
	switch {
	case errors.Is(err, ErrAborted):
		result = "aborted"
		s.logger.Info("program aborted", zap.String("run_id", runID))
	case err != nil:
		result = "cancelled"
		s.logger.Info("program cancelled", zap.String("run_id", runID), zap.Error(err))
	}
	s.metrics.ObserveRun(result)
	s.metrics.SetRunning(false)

	s.mu.Lock()
	s.state = StateIdle
	s.cancel = nil
	s.mu.Unlock()
}
