// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package program compiles YAML test programs into sequencer instructions.
//
// A program is a list of steps, each with exactly one key:
//
//	steps:
//	  - voltage: 1          # set voltage (V)
//	  - current: 0.5        # set current limit (A)
//	  - output: on          # on | off
//	  - sleep: 1000         # pause (ms)
//	  - sweep:              # step a setpoint while it stays short of `to`
//	      field: voltage
//	      from: 1           # optional, set first; defaults to the current setpoint
//	      to: 10
//	      step: 0.1
//	      dwell: 100        # pause after each value (ms)
//	  - wave:               # center + amplitude*sin(i/divisor), i = 0..count-1
//	      field: voltage
//	      center: 10
//	      amplitude: 2
//	      divisor: 20
//	      count: 1000
//	      dwell: 50
//	  - repeat:
//	      times: 3
//	      steps: [...]
package program

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/dpsctl/internal/sequencer"
)

// MaxInstructions caps the size of a compiled program
const MaxInstructions = 100000

var (
	// ErrAuthoringTimeout is returned when compilation outlives its deadline
	ErrAuthoringTimeout = errors.New("program compilation timed out")

	// ErrTooLarge is returned when a program expands past MaxInstructions
	ErrTooLarge = fmt.Errorf("program exceeds %d instructions", MaxInstructions)
)

// Document is the top-level program file
type Document struct {
	Steps []Step `yaml:"steps"`
}

// Step is a single program step. Exactly one field must be set.
type Step struct {
	Voltage *float32 `yaml:"voltage,omitempty"`
	Current *float32 `yaml:"current,omitempty"`
	Output  *bool    `yaml:"output,omitempty"`
	Sleep   *int     `yaml:"sleep,omitempty"`
	Sweep   *Sweep   `yaml:"sweep,omitempty"`
	Wave    *Wave    `yaml:"wave,omitempty"`
	Repeat  *Repeat  `yaml:"repeat,omitempty"`
}

// Sweep ramps a setpoint in fixed increments
type Sweep struct {
	Field string   `yaml:"field"`
	From  *float32 `yaml:"from,omitempty"`
	To    float32  `yaml:"to"`
	Step  float32  `yaml:"step"`
	Dwell int      `yaml:"dwell"`
}

// Wave drives a setpoint along a sine
type Wave struct {
	Field     string  `yaml:"field"`
	Center    float32 `yaml:"center"`
	Amplitude float32 `yaml:"amplitude"`
	Divisor   float32 `yaml:"divisor"`
	Count     int     `yaml:"count"`
	Dwell     int     `yaml:"dwell"`
}

// Repeat runs nested steps a number of times
type Repeat struct {
	Times int    `yaml:"times"`
	Steps []Step `yaml:"steps"`
}

// Parse decodes a program document without compiling it
func Parse(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &doc, nil
		}
		return nil, fmt.Errorf("parse program: %w", err)
	}
	return &doc, nil
}

// Load parses and compiles a program. seed provides the setpoints that
// sweeps without `from` start at. Compilation is bounded by ctx; a deadline
// yields ErrAuthoringTimeout and no instructions.
func Load(ctx context.Context, r io.Reader, seed sequencer.Setpoints) ([]sequencer.Instruction, error) {
	doc, err := Parse(r)
	if err != nil {
		return nil, err
	}
	return Compile(ctx, doc, seed)
}

// Compile expands a parsed document into instructions
func Compile(ctx context.Context, doc *Document, seed sequencer.Setpoints) ([]sequencer.Instruction, error) {
	c := &compiler{ctx: ctx, current: seed}
	if err := c.steps(doc.Steps, "steps"); err != nil {
		return nil, err
	}
	return c.out, nil
}

type compiler struct {
	ctx     context.Context
	current sequencer.Setpoints
	out     []sequencer.Instruction
}

func (c *compiler) checkDeadline() error {
	if err := c.ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrAuthoringTimeout
		}
		return err
	}
	return nil
}

func (c *compiler) emit(ins sequencer.Instruction) error {
	if err := c.checkDeadline(); err != nil {
		return err
	}
	if len(c.out) >= MaxInstructions {
		return ErrTooLarge
	}
	c.out = append(c.out, ins)
	return nil
}

func (c *compiler) set(field string, v float32) error {
	switch field {
	case "voltage":
		c.current.Voltage = v
		return c.emit(sequencer.SetVoltage(v))
	case "current":
		c.current.Current = v
		return c.emit(sequencer.SetCurrent(v))
	default:
		return fmt.Errorf("unknown field %q (want voltage or current)", field)
	}
}

func (c *compiler) get(field string) float32 {
	if field == "current" {
		return c.current.Current
	}
	return c.current.Voltage
}

func (c *compiler) dwell(ms int) error {
	if ms <= 0 {
		return nil
	}
	return c.emit(sequencer.Sleep(time.Duration(ms) * time.Millisecond))
}

func (c *compiler) steps(steps []Step, path string) error {
	for i, s := range steps {
		if err := c.step(s, fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func (c *compiler) step(s Step, path string) error {
	if n := s.keys(); n != 1 {
		return fmt.Errorf("%s: expected exactly one action, found %d", path, n)
	}

	var err error
	switch {
	case s.Voltage != nil:
		err = c.set("voltage", *s.Voltage)
	case s.Current != nil:
		err = c.set("current", *s.Current)
	case s.Output != nil:
		if *s.Output {
			err = c.emit(sequencer.OutputOn())
		} else {
			err = c.emit(sequencer.OutputOff())
		}
	case s.Sleep != nil:
		if *s.Sleep < 0 {
			return fmt.Errorf("%s: sleep must not be negative", path)
		}
		err = c.emit(sequencer.Sleep(time.Duration(*s.Sleep) * time.Millisecond))
	case s.Sweep != nil:
		err = c.sweep(*s.Sweep)
	case s.Wave != nil:
		err = c.wave(*s.Wave)
	case s.Repeat != nil:
		if s.Repeat.Times < 0 {
			return fmt.Errorf("%s: repeat times must not be negative", path)
		}
		for n := 0; n < s.Repeat.Times; n++ {
			if err := c.checkDeadline(); err != nil {
				return err
			}
			// nested errors already carry their path
			if err := c.steps(s.Repeat.Steps, path+".repeat"); err != nil {
				return err
			}
		}
	}

	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAuthoringTimeout) || errors.Is(err, ErrTooLarge) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%s: %w", path, err)
}

func (s Step) keys() int {
	n := 0
	for _, set := range []bool{
		s.Voltage != nil, s.Current != nil, s.Output != nil, s.Sleep != nil,
		s.Sweep != nil, s.Wave != nil, s.Repeat != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// sweep steps a setpoint from its current value (or `from`, which is set
// first) towards `to`, stopping before the value would reach it
func (c *compiler) sweep(sw Sweep) error {
	if sw.Step <= 0 {
		return fmt.Errorf("sweep step must be positive")
	}

	from := c.get(sw.Field)
	first := 1
	if sw.From != nil {
		from = *sw.From
		first = 0
	}
	dir := float32(1)
	if sw.To < from {
		dir = -1
	}

	for k := first; ; k++ {
		v := from + dir*float32(k)*sw.Step
		if k > 0 && ((dir > 0 && v >= sw.To) || (dir < 0 && v <= sw.To)) {
			return nil
		}
		if err := c.set(sw.Field, v); err != nil {
			return err
		}
		if err := c.dwell(sw.Dwell); err != nil {
			return err
		}
	}
}

func (c *compiler) wave(w Wave) error {
	if w.Divisor == 0 {
		return fmt.Errorf("wave divisor must not be zero")
	}
	if w.Count < 0 {
		return fmt.Errorf("wave count must not be negative")
	}
	for i := 0; i < w.Count; i++ {
		v := float32(math.Sin(float64(i)/float64(w.Divisor)))*w.Amplitude + w.Center
		if err := c.set(w.Field, v); err != nil {
			return err
		}
		if err := c.dwell(w.Dwell); err != nil {
			return err
		}
	}
	return nil
}
