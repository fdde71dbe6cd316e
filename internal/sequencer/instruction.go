// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sequencer

import (
	"fmt"
	"time"
)

// Op is the kind of a program instruction
type Op int

// Instruction kinds
const (
	OpSetVoltage Op = iota
	OpSetCurrent
	OpOutputOn
	OpOutputOff
	OpSleep
)

var opNames = [...]string{
	OpSetVoltage: "set_voltage",
	OpSetCurrent: "set_current",
	OpOutputOn:   "output_on",
	OpOutputOff:  "output_off",
	OpSleep:      "sleep",
}

func (o Op) String() string {
	if o < 0 || int(o) >= len(opNames) {
		return fmt.Sprintf("op(%d)", int(o))
	}
	return opNames[o]
}

// Instruction is one immutable step of a program
type Instruction struct {
	op       Op
	value    float32
	duration time.Duration
}

// SetVoltage sets the voltage setpoint in volts
func SetVoltage(volts float32) Instruction {
	return Instruction{op: OpSetVoltage, value: volts}
}

// SetCurrent sets the current limit in amps
func SetCurrent(amps float32) Instruction {
	return Instruction{op: OpSetCurrent, value: amps}
}

// OutputOn enables the output
func OutputOn() Instruction {
	return Instruction{op: OpOutputOn}
}

// OutputOff disables the output
func OutputOff() Instruction {
	return Instruction{op: OpOutputOff}
}

// Sleep pauses the program
func Sleep(d time.Duration) Instruction {
	return Instruction{op: OpSleep, duration: d}
}

// Op returns the instruction kind
func (i Instruction) Op() Op {
	return i.op
}

// Value returns the setpoint of a SetVoltage or SetCurrent instruction
func (i Instruction) Value() float32 {
	return i.value
}

// Duration returns the pause of a Sleep instruction
func (i Instruction) Duration() time.Duration {
	return i.duration
}

func (i Instruction) String() string {
	switch i.op {
	case OpSetVoltage:
		return fmt.Sprintf("V %.3f", i.value)
	case OpSetCurrent:
		return fmt.Sprintf("I %.3f", i.value)
	case OpOutputOn:
		return "ON"
	case OpOutputOff:
		return "OFF"
	case OpSleep:
		return fmt.Sprintf("SLEEP %d", i.duration.Milliseconds())
	default:
		return i.op.String()
	}
}
