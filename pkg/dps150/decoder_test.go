// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps150

import (
	"bytes"
	"errors"
	"testing"
)

// inbound builds a device-to-host telemetry frame
func inbound(fieldID uint8, payload []byte) []byte {
	return Encode(DirIn, CmdGet, fieldID, payload)
}

func TestDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		fieldID uint8
		payload []byte
	}{
		{"empty payload", 0x00, nil},
		{"single byte", FieldIDBrightness, []byte{12}},
		{"float", FieldIDInputVoltage, PutFloat(19.75)},
		{"triple", FieldIDOutputVIP, append(append(PutFloat(5), PutFloat(0.5)...), PutFloat(2.5)...)},
		{"text", FieldIDModelName, []byte("DPS-150")},
		{"max payload", 0x42, bytes.Repeat([]byte{0xF0}, MaxPayloadSize)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wire := inbound(tt.fieldID, tt.payload)
			frames, consumed, errs := Decode(wire)
			if len(errs) != 0 {
				t.Fatalf("unexpected errors: %v", errs)
			}
			if consumed != len(wire) {
				t.Errorf("consumed = %d, want %d", consumed, len(wire))
			}
			if len(frames) != 1 {
				t.Fatalf("got %d frames, want 1", len(frames))
			}
			f := frames[0]
			if f.FieldID() != tt.fieldID {
				t.Errorf("field id = %d, want %d", f.FieldID(), tt.fieldID)
			}
			if !bytes.Equal(f.Payload(), tt.payload) && !(len(tt.payload) == 0 && len(f.Payload()) == 0) {
				t.Errorf("payload = % X, want % X", f.Payload(), tt.payload)
			}
			if !bytes.Equal(f.Bytes(), wire) {
				t.Errorf("re-encoded = % X, want % X", f.Bytes(), wire)
			}
		})
	}
}

func TestDecode_RejectsMutatedPayload(t *testing.T) {
	wire := inbound(FieldIDTemperature, PutFloat(31.5))
	for i := HeaderSize; i < len(wire)-1; i++ {
		mutated := append([]byte(nil), wire...)
		mutated[i] ^= 0x01

		frames, _, errs := Decode(mutated)
		if len(frames) != 0 {
			t.Errorf("byte %d mutated: decoder accepted frame", i)
		}
		if len(errs) == 0 {
			t.Errorf("byte %d mutated: expected checksum error", i)
			continue
		}
		var cs *ChecksumError
		if !errors.As(errs[0], &cs) {
			t.Errorf("byte %d mutated: error %T, want *ChecksumError", i, errs[0])
		}
	}
}

func TestDecode_PartialFrameByteAtATime(t *testing.T) {
	wire := inbound(FieldIDOutputVIP, append(append(PutFloat(12), PutFloat(1.25)...), PutFloat(15)...))

	var buf []byte
	for i, b := range wire {
		buf = append(buf, b)
		frames, consumed, errs := Decode(buf)
		if len(errs) != 0 {
			t.Fatalf("byte %d: unexpected errors %v", i, errs)
		}
		buf = buf[consumed:]

		if i < len(wire)-1 {
			if len(frames) != 0 {
				t.Fatalf("byte %d: frame emitted before final byte", i)
			}
			continue
		}
		if len(frames) != 1 {
			t.Fatalf("final byte: got %d frames, want 1", len(frames))
		}
		if len(buf) != 0 {
			t.Errorf("final byte: %d bytes left in buffer", len(buf))
		}
	}
}

func TestDecode_PartialReportsMarkerOffset(t *testing.T) {
	wire := inbound(FieldIDInputVoltage, PutFloat(20))
	buf := append([]byte{0x11, 0x22, 0x33}, wire[:6]...)

	frames, consumed, errs := Decode(buf)
	if len(frames) != 0 || len(errs) != 0 {
		t.Fatalf("frames=%d errs=%v, want none", len(frames), errs)
	}
	if consumed != 3 {
		t.Errorf("consumed = %d, want 3 (marker offset)", consumed)
	}
}

func TestDecode_ResyncAfterCorruptFrame(t *testing.T) {
	corrupt := inbound(FieldIDInputVoltage, PutFloat(20))
	corrupt[len(corrupt)-1]++ // bad checksum
	valid := inbound(FieldIDTemperature, PutFloat(28.5))

	buf := append(append([]byte(nil), corrupt...), valid...)
	frames, consumed, errs := Decode(buf)

	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].FieldID() != FieldIDTemperature {
		t.Errorf("field id = %d, want %d", frames[0].FieldID(), FieldIDTemperature)
	}
	if consumed != len(buf) {
		t.Errorf("consumed = %d, want %d", consumed, len(buf))
	}
	if len(errs) != 1 {
		t.Errorf("got %d framing errors, want 1", len(errs))
	}
}

func TestDecode_MarkerInsideRejectedRegion(t *testing.T) {
	valid := inbound(FieldIDTemperature, PutFloat(40))
	// A false marker whose declared length swallows the real frame start.
	buf := append([]byte{0xF0, 0xA1, 0x01, 0x02, 0x00}, valid...)
	// 0xF0 0xA1 0x01 0x02 [0x00 0xF0] cs=0xA1: checksum 0x01+0x02+0xF0 = 0xF3 != 0xA1

	frames, consumed, errs := Decode(buf)
	if len(errs) != 1 {
		t.Fatalf("got %d framing errors, want 1", len(errs))
	}
	if len(frames) != 1 || frames[0].FieldID() != FieldIDTemperature {
		t.Fatalf("expected temperature frame, got %d frames", len(frames))
	}
	if consumed != len(buf) {
		t.Errorf("consumed = %d, want %d", consumed, len(buf))
	}
}

func TestDecode_SkipsNoise(t *testing.T) {
	noise := []byte{0x00, 0xF1, 0xB1, 0xF0, 0x00, 0xA1, 0x7E}
	a := inbound(FieldIDInputVoltage, PutFloat(20))
	b := inbound(FieldIDMode, []byte{1})

	buf := append(append(append(append([]byte(nil), noise...), a...), noise...), b...)
	frames, consumed, errs := Decode(buf)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].FieldID() != FieldIDInputVoltage || frames[1].FieldID() != FieldIDMode {
		t.Errorf("frames out of order: %d, %d", frames[0].FieldID(), frames[1].FieldID())
	}
	if consumed != len(buf) {
		t.Errorf("consumed = %d, want %d", consumed, len(buf))
	}
}

func TestDecode_KeepsTrailingMarkerByte(t *testing.T) {
	buf := []byte{0x01, 0x02, 0xF0}
	frames, consumed, errs := Decode(buf)
	if len(frames) != 0 || len(errs) != 0 {
		t.Fatalf("frames=%d errs=%v, want none", len(frames), errs)
	}
	if consumed != 2 {
		t.Errorf("consumed = %d, want 2", consumed)
	}
}

func TestDecode_IgnoresOutboundFrames(t *testing.T) {
	buf := NewSetFloatCommand(FieldIDVoltageSet, 5)
	frames, consumed, errs := Decode(buf)
	if len(frames) != 0 || len(errs) != 0 {
		t.Fatalf("frames=%d errs=%v, want none", len(frames), errs)
	}
	if consumed != len(buf) {
		t.Errorf("consumed = %d, want %d", consumed, len(buf))
	}
}

func TestDecode_Empty(t *testing.T) {
	frames, consumed, errs := Decode(nil)
	if frames != nil || consumed != 0 || errs != nil {
		t.Errorf("Decode(nil) = %v, %d, %v", frames, consumed, errs)
	}
}
