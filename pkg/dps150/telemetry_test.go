// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps150

import (
	"encoding/binary"
	"errors"
	"math"
	"reflect"
	"testing"
)

func putFloatAt(buf []byte, offset int, v float32) {
	binary.LittleEndian.PutUint32(buf[offset:], math.Float32bits(v))
}

// buildSnapshot returns a snapshot payload and the update it must decode to
func buildSnapshot() ([]byte, Update) {
	p := make([]byte, SnapshotPayloadLength)
	want := Update{}

	floats := []struct {
		offset int
		field  Field
		value  float32
	}{
		{0, FieldInputVoltage, 20.25},
		{4, FieldSetVoltage, 12.5},
		{8, FieldSetCurrent, 1.5},
		{12, FieldOutputVoltage, 12.25},
		{16, FieldOutputCurrent, 0.75},
		{20, FieldOutputPower, 9.1875},
		{24, FieldTemperature, 31.5},
		{28, FieldGroup1SetVoltage, 3.25},
		{32, FieldGroup1SetCurrent, 0.5},
		{36, FieldGroup2SetVoltage, 5},
		{40, FieldGroup2SetCurrent, 1},
		{44, FieldGroup3SetVoltage, 9},
		{48, FieldGroup3SetCurrent, 1.25},
		{52, FieldGroup4SetVoltage, 12},
		{56, FieldGroup4SetCurrent, 2},
		{60, FieldGroup5SetVoltage, 15},
		{64, FieldGroup5SetCurrent, 2.5},
		{68, FieldGroup6SetVoltage, 24},
		{72, FieldGroup6SetCurrent, 3},
		{76, FieldOverVoltageProtection, 31},
		{80, FieldOverCurrentProtection, 5.25},
		{84, FieldOverPowerProtection, 155},
		{88, FieldOverTemperatureProtection, 80},
		{92, FieldLowVoltageProtection, 4.5},
		{99, FieldOutputCapacity, 0.125},
		{103, FieldOutputEnergy, 1.5},
		{111, FieldUpperLimitVoltage, 30},
		{115, FieldUpperLimitCurrent, 5.5},
	}
	for _, f := range floats {
		putFloatAt(p, f.offset, f.value)
		want[f.field] = f.value
	}

	p[96] = 3  // brightness
	p[97] = 2  // volume
	p[98] = 0  // metering byte: 0 reads as closed
	p[107] = 1 // output relay closed
	p[108] = 2 // OCP
	p[109] = 1 // CV
	p[110] = 0x5A
	for i := 119; i < len(p); i++ {
		p[i] = byte(i)
	}

	want[FieldBrightness] = uint8(3)
	want[FieldVolume] = uint8(2)
	want[FieldMeteringClosed] = true
	want[FieldOutputClosed] = true
	want[FieldProtectionState] = ProtectionOverCurrent
	want[FieldMode] = ModeConstantVoltage

	reserved := []byte{0x5A}
	for i := 119; i < len(p); i++ {
		reserved = append(reserved, byte(i))
	}
	want[FieldSnapshotReserved] = reserved

	return p, want
}

func TestDecodeTelemetry_Snapshot(t *testing.T) {
	payload, want := buildSnapshot()

	got, err := DecodeTelemetry(FieldIDAll, payload)
	if err != nil {
		t.Fatalf("DecodeTelemetry: %v", err)
	}
	if len(got) != len(want) {
		t.Errorf("got %d fields, want %d", len(got), len(want))
	}
	for f, v := range want {
		if !reflect.DeepEqual(got[f], v) {
			t.Errorf("%s = %v (%T), want %v (%T)", f, got[f], got[f], v, v)
		}
	}
}

func TestDecodeTelemetry_SnapshotBadProtectionIndex(t *testing.T) {
	payload, _ := buildSnapshot()
	payload[108] = 9

	got, err := DecodeTelemetry(FieldIDAll, payload)
	if err != nil {
		t.Fatalf("DecodeTelemetry: %v", err)
	}
	if _, ok := got.Protection(); ok {
		t.Error("protection state should be absent for index 9")
	}
	if v, ok := got.Float(FieldSetVoltage); !ok || v != 12.5 {
		t.Errorf("set voltage = %v, %v; other fields must survive", v, ok)
	}
}

func TestDecodeTelemetry_SnapshotShort(t *testing.T) {
	payload, _ := buildSnapshot()
	_, err := DecodeTelemetry(FieldIDAll, payload[:SnapshotMinLength-1])
	if !errors.Is(err, ErrShortPayload) {
		t.Errorf("err = %v, want ErrShortPayload", err)
	}

	// Minimum length decodes without the reserved tail
	u, err := DecodeTelemetry(FieldIDAll, payload[:SnapshotMinLength])
	if err != nil {
		t.Fatalf("DecodeTelemetry(min length): %v", err)
	}
	if r, _ := u[FieldSnapshotReserved].([]byte); len(r) != 1 {
		t.Errorf("reserved = % X, want only byte 110", r)
	}
}

func TestDecodeTelemetry_SingleFields(t *testing.T) {
	vip := append(append(PutFloat(5), PutFloat(0.5)...), PutFloat(2.5)...)

	tests := []struct {
		name    string
		fieldID uint8
		payload []byte
		want    Update
	}{
		{"input voltage", FieldIDInputVoltage, PutFloat(19.5), Update{FieldInputVoltage: float32(19.5)}},
		{"output vip", FieldIDOutputVIP, vip, Update{
			FieldOutputVoltage: float32(5),
			FieldOutputCurrent: float32(0.5),
			FieldOutputPower:   float32(2.5),
		}},
		{"temperature", FieldIDTemperature, PutFloat(27), Update{FieldTemperature: float32(27)}},
		{"capacity", FieldIDOutputCapacity, PutFloat(0.25), Update{FieldOutputCapacity: float32(0.25)}},
		{"energy", FieldIDOutputEnergy, PutFloat(4), Update{FieldOutputEnergy: float32(4)}},
		{"output closed", FieldIDOutputEnable, []byte{1}, Update{FieldOutputClosed: true}},
		{"output open", FieldIDOutputEnable, []byte{0}, Update{FieldOutputClosed: false}},
		{"protection normal", FieldIDProtectionState, []byte{0}, Update{FieldProtectionState: ProtectionNormal}},
		{"protection reverse", FieldIDProtectionState, []byte{6}, Update{FieldProtectionState: ProtectionReverseConnection}},
		{"protection unmapped", FieldIDProtectionState, []byte{7}, Update{}},
		{"mode cc", FieldIDMode, []byte{0}, Update{FieldMode: ModeConstantCurrent}},
		{"mode cv", FieldIDMode, []byte{1}, Update{FieldMode: ModeConstantVoltage}},
		{"model name", FieldIDModelName, []byte("DPS-150"), Update{FieldModelName: "DPS-150"}},
		{"hardware version", FieldIDHardwareVersion, []byte("V1.0\x00"), Update{FieldHardwareVersion: "V1.0"}},
		{"firmware version", FieldIDFirmwareVersion, []byte("V1.1"), Update{FieldFirmwareVersion: "V1.1"}},
		{"upper limit voltage", FieldIDUpperLimitVoltage, PutFloat(30), Update{FieldUpperLimitVoltage: float32(30)}},
		{"upper limit current", FieldIDUpperLimitCurrent, PutFloat(5), Update{FieldUpperLimitCurrent: float32(5)}},
		{"group 4 current", FieldIDGroup4Current, PutFloat(1.5), Update{FieldGroup4SetCurrent: float32(1.5)}},
		{"brightness", FieldIDBrightness, []byte{9}, Update{FieldBrightness: uint8(9)}},
		{"metering on", FieldIDMeteringEnable, []byte{1}, Update{FieldMeteringClosed: false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeTelemetry(tt.fieldID, tt.payload)
			if err != nil {
				t.Fatalf("DecodeTelemetry: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeTelemetry_Unknown(t *testing.T) {
	for _, id := range []uint8{0, 100, FieldIDReserved225, 254} {
		_, err := DecodeTelemetry(id, []byte{1})
		var unknown *UnknownFieldError
		if !errors.As(err, &unknown) {
			t.Errorf("field %d: err = %v, want *UnknownFieldError", id, err)
			continue
		}
		if unknown.FieldID != id {
			t.Errorf("UnknownFieldError.FieldID = %d, want %d", unknown.FieldID, id)
		}
	}
}

func TestDecodeTelemetry_ShortFloat(t *testing.T) {
	_, err := DecodeTelemetry(FieldIDOutputVIP, PutFloat(1))
	if !errors.Is(err, ErrShortPayload) {
		t.Errorf("err = %v, want ErrShortPayload", err)
	}
}

func TestUpdateAccessors(t *testing.T) {
	u := Update{
		FieldSetVoltage:      float32(5),
		FieldVolume:          uint8(1),
		FieldOutputClosed:    true,
		FieldModelName:       "DPS-150",
		FieldProtectionState: ProtectionOverPower,
		FieldMode:            ModeConstantCurrent,
	}
	if v, ok := u.Float(FieldSetVoltage); !ok || v != 5 {
		t.Errorf("Float = %v, %v", v, ok)
	}
	if _, ok := u.Float(FieldVolume); ok {
		t.Error("Float should not accept a byte field")
	}
	if v, ok := u.Byte(FieldVolume); !ok || v != 1 {
		t.Errorf("Byte = %v, %v", v, ok)
	}
	if v, ok := u.Bool(FieldOutputClosed); !ok || !v {
		t.Errorf("Bool = %v, %v", v, ok)
	}
	if v, ok := u.Text(FieldModelName); !ok || v != "DPS-150" {
		t.Errorf("Text = %v, %v", v, ok)
	}
	if p, ok := u.Protection(); !ok || p.String() != "OPP" {
		t.Errorf("Protection = %v, %v", p, ok)
	}
	if m, ok := u.Mode(); !ok || m.String() != "CC" {
		t.Errorf("Mode = %v, %v", m, ok)
	}
	if !u.Has(FieldTemperature, FieldMode) || u.Has(FieldTemperature) {
		t.Error("Has returned wrong result")
	}
}

func TestFieldNames(t *testing.T) {
	for f := Field(0); f < fieldCount; f++ {
		if f.String() == "" {
			t.Errorf("field %d has no name", f)
		}
	}
	if FieldGroup3SetCurrent.String() != "group3setCurrent" {
		t.Errorf("FieldGroup3SetCurrent = %q", FieldGroup3SetCurrent.String())
	}
	v, c, ok := GroupFields(6)
	if !ok || v != FieldGroup6SetVoltage || c != FieldGroup6SetCurrent {
		t.Errorf("GroupFields(6) = %v, %v, %v", v, c, ok)
	}
	if _, _, ok := GroupFields(7); ok {
		t.Error("GroupFields(7) should fail")
	}
}
