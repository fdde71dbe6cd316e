// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps150

import (
	"encoding/binary"
	"math"
)

// Encode creates a complete wire-formatted frame.
// Panics if the payload exceeds MaxPayloadSize.
func Encode(dir Direction, kind CommandKind, fieldID uint8, payload []byte) []byte {
	return NewFrame(dir, kind, fieldID, payload).Bytes()
}

// EncodeByte encodes a frame carrying a single byte payload.
func EncodeByte(dir Direction, kind CommandKind, fieldID uint8, value uint8) []byte {
	return Encode(dir, kind, fieldID, []byte{value})
}

// EncodeFloat encodes a frame carrying a little-endian IEEE-754 float32.
func EncodeFloat(dir Direction, kind CommandKind, fieldID uint8, value float32) []byte {
	return Encode(dir, kind, fieldID, PutFloat(value))
}

// PutFloat returns the 4-byte little-endian representation of value.
func PutFloat(value float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(value))
	return b
}

// Command builders for the host-to-device requests used by a session.

// NewSessionCommand opens (SessionOpen) or closes (SessionClose) a session.
func NewSessionCommand(state uint8) []byte {
	return EncodeByte(DirOut, CmdSession, 0, state)
}

// NewBaudCommand selects the serial rate by its BaudIndex.
func NewBaudCommand(index uint8) []byte {
	return EncodeByte(DirOut, CmdBaud, 0, index)
}

// NewGetCommand requests a single field, or every field with FieldIDAll.
func NewGetCommand(fieldID uint8) []byte {
	return EncodeByte(DirOut, CmdGet, fieldID, 0)
}

// NewSetFloatCommand writes a float field.
func NewSetFloatCommand(fieldID uint8, value float32) []byte {
	return EncodeFloat(DirOut, CmdSet, fieldID, value)
}

// NewSetByteCommand writes a byte field.
func NewSetByteCommand(fieldID uint8, value uint8) []byte {
	return EncodeByte(DirOut, CmdSet, fieldID, value)
}
