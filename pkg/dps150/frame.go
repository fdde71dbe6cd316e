// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps150

import (
	"fmt"
	"time"
)

// Frame represents a single DPS-150 protocol frame. Frames are immutable once
// constructed.
type Frame struct {
	direction Direction
	kind      CommandKind
	fieldID   uint8
	payload   []byte
	checksum  uint8
	timestamp time.Time
}

// NewFrame creates a frame and computes its checksum.
// Panics if the payload exceeds MaxPayloadSize.
func NewFrame(dir Direction, kind CommandKind, fieldID uint8, payload []byte) Frame {
	if len(payload) > MaxPayloadSize {
		panic(fmt.Sprintf("dps150: payload too large: %d bytes (max %d)", len(payload), MaxPayloadSize))
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	return Frame{
		direction: dir,
		kind:      kind,
		fieldID:   fieldID,
		payload:   p,
		checksum:  Checksum(fieldID, p),
		timestamp: time.Now(),
	}
}

// Direction returns the frame's direction byte
func (f Frame) Direction() Direction {
	return f.direction
}

// Kind returns the frame's command kind
func (f Frame) Kind() CommandKind {
	return f.kind
}

// FieldID returns the frame's field id
func (f Frame) FieldID() uint8 {
	return f.fieldID
}

// Length returns the payload length
func (f Frame) Length() uint8 {
	return uint8(len(f.payload))
}

// Payload returns a copy of the payload bytes
func (f Frame) Payload() []byte {
	p := make([]byte, len(f.payload))
	copy(p, f.payload)
	return p
}

// Checksum returns the frame's checksum byte
func (f Frame) Checksum() uint8 {
	return f.checksum
}

// Timestamp returns when the frame was built or decoded
func (f Frame) Timestamp() time.Time {
	return f.timestamp
}

// Bytes renders the frame in wire format.
func (f Frame) Bytes() []byte {
	out := make([]byte, 0, HeaderSize+len(f.payload)+1)
	out = append(out, byte(f.direction), byte(f.kind), f.fieldID, uint8(len(f.payload)))
	out = append(out, f.payload...)
	return append(out, f.checksum)
}

// Checksum computes the frame checksum over the field id, the payload length
// and the payload bytes.
func Checksum(fieldID uint8, payload []byte) uint8 {
	sum := fieldID + uint8(len(payload))
	for _, b := range payload {
		sum += b
	}
	return sum
}
