// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Thermoquad/dpsctl/internal/sequencer"
)

func TestConnectionLost_KeepsCause(t *testing.T) {
	cause := errors.New("write stream: usb unplugged")
	err := connectionLost(cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection lost during run")

	assert.EqualError(t, connectionLost(nil), "connection lost during run")
}

func TestTotalSleep(t *testing.T) {
	instrs := []sequencer.Instruction{
		sequencer.SetVoltage(5),
		sequencer.Sleep(250 * time.Millisecond),
		sequencer.OutputOn(),
		sequencer.Sleep(time.Second),
	}
	assert.Equal(t, 1250*time.Millisecond, totalSleep(instrs))
	assert.Zero(t, totalSleep(nil))
}
