// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package dps150 implements the FNIRSI DPS-150 serial frame protocol.
//
// Frames on the wire are laid out as
//
//	[dir:1][kind:1][fieldId:1][len:1][payload:len][checksum:1]
//
// where checksum = (fieldId + len + sum(payload)) mod 256. This package
// provides frame encoding, restartable stream decoding, telemetry field
// decoding and payload formatting. It performs no I/O.
package dps150

// Direction is the first byte of every frame.
type Direction uint8

// Frame directions
const (
	DirIn  Direction = 0xF0 // device to host
	DirOut Direction = 0xF1 // host to device
)

// CommandKind is the second byte of every frame.
type CommandKind uint8

// Command kinds
const (
	CmdGet     CommandKind = 0xA1
	CmdBaud    CommandKind = 0xB0
	CmdSet     CommandKind = 0xB1
	CmdSession CommandKind = 0xC1
)

// Frame size limits
const (
	HeaderSize     = 4 // dir, kind, field id, length
	MaxPayloadSize = 255
	MaxFrameSize   = HeaderSize + MaxPayloadSize + 1
)

// Field ids - measurements and set-points (float32 unless noted)
const (
	FieldIDInputVoltage  = 192
	FieldIDVoltageSet    = 193
	FieldIDCurrentSet    = 194
	FieldIDOutputVIP     = 195 // output voltage, current, power
	FieldIDTemperature   = 196
	FieldIDGroup1Voltage = 197
	FieldIDGroup1Current = 198
	FieldIDGroup2Voltage = 199
	FieldIDGroup2Current = 200
	FieldIDGroup3Voltage = 201
	FieldIDGroup3Current = 202
	FieldIDGroup4Voltage = 203
	FieldIDGroup4Current = 204
	FieldIDGroup5Voltage = 205
	FieldIDGroup5Current = 206
	FieldIDGroup6Voltage = 207
	FieldIDGroup6Current = 208
	FieldIDOVP           = 209
	FieldIDOCP           = 210
	FieldIDOPP           = 211
	FieldIDOTP           = 212
	FieldIDLVP           = 213
)

// Field ids - byte values, flags and identity strings
const (
	FieldIDBrightness        = 214
	FieldIDVolume            = 215
	FieldIDMeteringEnable    = 216
	FieldIDOutputCapacity    = 217 // float32, Ah
	FieldIDOutputEnergy      = 218 // float32, Wh
	FieldIDOutputEnable      = 219
	FieldIDProtectionState   = 220
	FieldIDMode              = 221
	FieldIDModelName         = 222
	FieldIDHardwareVersion   = 223
	FieldIDFirmwareVersion   = 224
	FieldIDReserved225       = 225
	FieldIDUpperLimitVoltage = 226
	FieldIDUpperLimitCurrent = 227
	FieldIDAll               = 255
)

// Session and baud control payloads
const (
	SessionClose = 0x00
	SessionOpen  = 0x01
)

// BaudRates lists the rates the device accepts, in protocol order. The baud
// command carries the 1-based index into this list.
var BaudRates = [...]int{9600, 19200, 38400, 57600, 115200}

// BaudIndex returns the protocol index for a baud rate, or 0 if unsupported.
func BaudIndex(rate int) uint8 {
	for i, r := range BaudRates {
		if r == rate {
			return uint8(i + 1)
		}
	}
	return 0
}

// Snapshot payload layout (FieldIDAll)
const (
	snapOffInputVoltage   = 0
	snapOffVoltageSet     = 4
	snapOffCurrentSet     = 8
	snapOffOutputVoltage  = 12
	snapOffOutputCurrent  = 16
	snapOffOutputPower    = 20
	snapOffTemperature    = 24
	snapOffGroups         = 28 // six voltage/current float pairs
	snapOffOVP            = 76
	snapOffOCP            = 80
	snapOffOPP            = 84
	snapOffOTP            = 88
	snapOffLVP            = 92
	snapOffBrightness     = 96
	snapOffVolume         = 97
	snapOffMetering       = 98
	snapOffCapacity       = 99
	snapOffEnergy         = 103
	snapOffOutputClosed   = 107
	snapOffProtection     = 108
	snapOffMode           = 109
	snapOffReserved110    = 110
	snapOffUpperVoltage   = 111
	snapOffUpperCurrent   = 115
	snapOffReservedTail   = 119
	SnapshotMinLength     = 119
	SnapshotPayloadLength = 139
)
