// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// dpsctl - FNIRSI DPS-150 Bench Power Supply Control
//
// A CLI tool for monitoring, controlling and scripting DPS-150 power
// supplies over USB serial or a WebSocket serial bridge.

package main

import (
	"os"

	"github.com/Thermoquad/dpsctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
