// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps150

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrShortPayload is returned when a payload is too short for its field layout.
var ErrShortPayload = errors.New("payload too short")

// UnknownFieldError is returned for field ids outside the telemetry table,
// including ids the device sends but whose meaning is unknown.
type UnknownFieldError struct {
	FieldID uint8
	Payload []byte
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("unknown field %d (%d byte payload)", e.FieldID, len(e.Payload))
}

// valueKind selects how a payload slot is interpreted
type valueKind int

const (
	kindFloat      valueKind = iota // little-endian float32
	kindByte                        // raw byte
	kindSetFlag                     // bool, true when byte == 1
	kindClearFlag                   // bool, true when byte == 0
	kindProtection                  // ProtectionState index
	kindMode                        // CC/CV
	kindText                        // whole payload as ASCII
)

func (k valueKind) size() int {
	switch k {
	case kindFloat:
		return 4
	case kindText:
		return 0
	default:
		return 1
	}
}

// slot places one field at a byte offset within a payload
type slot struct {
	field  Field
	kind   valueKind
	offset int
}

// fieldSpec describes how a field id's payload decodes
type fieldSpec struct {
	name  string
	slots []slot
}

func (s fieldSpec) minLength() int {
	n := 0
	for _, sl := range s.slots {
		if end := sl.offset + sl.kind.size(); end > n {
			n = end
		}
	}
	return n
}

func single(name string, f Field, k valueKind) fieldSpec {
	return fieldSpec{name: name, slots: []slot{{field: f, kind: k}}}
}

// snapshotSlots is the fixed layout of the FieldIDAll payload
var snapshotSlots = []slot{
	{FieldInputVoltage, kindFloat, snapOffInputVoltage},
	{FieldSetVoltage, kindFloat, snapOffVoltageSet},
	{FieldSetCurrent, kindFloat, snapOffCurrentSet},
	{FieldOutputVoltage, kindFloat, snapOffOutputVoltage},
	{FieldOutputCurrent, kindFloat, snapOffOutputCurrent},
	{FieldOutputPower, kindFloat, snapOffOutputPower},
	{FieldTemperature, kindFloat, snapOffTemperature},
	{FieldGroup1SetVoltage, kindFloat, snapOffGroups},
	{FieldGroup1SetCurrent, kindFloat, snapOffGroups + 4},
	{FieldGroup2SetVoltage, kindFloat, snapOffGroups + 8},
	{FieldGroup2SetCurrent, kindFloat, snapOffGroups + 12},
	{FieldGroup3SetVoltage, kindFloat, snapOffGroups + 16},
	{FieldGroup3SetCurrent, kindFloat, snapOffGroups + 20},
	{FieldGroup4SetVoltage, kindFloat, snapOffGroups + 24},
	{FieldGroup4SetCurrent, kindFloat, snapOffGroups + 28},
	{FieldGroup5SetVoltage, kindFloat, snapOffGroups + 32},
	{FieldGroup5SetCurrent, kindFloat, snapOffGroups + 36},
	{FieldGroup6SetVoltage, kindFloat, snapOffGroups + 40},
	{FieldGroup6SetCurrent, kindFloat, snapOffGroups + 44},
	{FieldOverVoltageProtection, kindFloat, snapOffOVP},
	{FieldOverCurrentProtection, kindFloat, snapOffOCP},
	{FieldOverPowerProtection, kindFloat, snapOffOPP},
	{FieldOverTemperatureProtection, kindFloat, snapOffOTP},
	{FieldLowVoltageProtection, kindFloat, snapOffLVP},
	{FieldBrightness, kindByte, snapOffBrightness},
	{FieldVolume, kindByte, snapOffVolume},
	{FieldMeteringClosed, kindClearFlag, snapOffMetering},
	{FieldOutputCapacity, kindFloat, snapOffCapacity},
	{FieldOutputEnergy, kindFloat, snapOffEnergy},
	{FieldOutputClosed, kindSetFlag, snapOffOutputClosed},
	{FieldProtectionState, kindProtection, snapOffProtection},
	{FieldMode, kindMode, snapOffMode},
	{FieldUpperLimitVoltage, kindFloat, snapOffUpperVoltage},
	{FieldUpperLimitCurrent, kindFloat, snapOffUpperCurrent},
}

// fieldTable maps field ids to their payload layout.
var fieldTable = map[uint8]fieldSpec{
	FieldIDInputVoltage: single("INPUT_VOLTAGE", FieldInputVoltage, kindFloat),
	FieldIDVoltageSet:   single("VOLTAGE_SET", FieldSetVoltage, kindFloat),
	FieldIDCurrentSet:   single("CURRENT_SET", FieldSetCurrent, kindFloat),
	FieldIDOutputVIP: {name: "OUTPUT_VIP", slots: []slot{
		{FieldOutputVoltage, kindFloat, 0},
		{FieldOutputCurrent, kindFloat, 4},
		{FieldOutputPower, kindFloat, 8},
	}},
	FieldIDTemperature:       single("TEMPERATURE", FieldTemperature, kindFloat),
	FieldIDGroup1Voltage:     single("GROUP1_VOLTAGE_SET", FieldGroup1SetVoltage, kindFloat),
	FieldIDGroup1Current:     single("GROUP1_CURRENT_SET", FieldGroup1SetCurrent, kindFloat),
	FieldIDGroup2Voltage:     single("GROUP2_VOLTAGE_SET", FieldGroup2SetVoltage, kindFloat),
	FieldIDGroup2Current:     single("GROUP2_CURRENT_SET", FieldGroup2SetCurrent, kindFloat),
	FieldIDGroup3Voltage:     single("GROUP3_VOLTAGE_SET", FieldGroup3SetVoltage, kindFloat),
	FieldIDGroup3Current:     single("GROUP3_CURRENT_SET", FieldGroup3SetCurrent, kindFloat),
	FieldIDGroup4Voltage:     single("GROUP4_VOLTAGE_SET", FieldGroup4SetVoltage, kindFloat),
	FieldIDGroup4Current:     single("GROUP4_CURRENT_SET", FieldGroup4SetCurrent, kindFloat),
	FieldIDGroup5Voltage:     single("GROUP5_VOLTAGE_SET", FieldGroup5SetVoltage, kindFloat),
	FieldIDGroup5Current:     single("GROUP5_CURRENT_SET", FieldGroup5SetCurrent, kindFloat),
	FieldIDGroup6Voltage:     single("GROUP6_VOLTAGE_SET", FieldGroup6SetVoltage, kindFloat),
	FieldIDGroup6Current:     single("GROUP6_CURRENT_SET", FieldGroup6SetCurrent, kindFloat),
	FieldIDOVP:               single("OVP", FieldOverVoltageProtection, kindFloat),
	FieldIDOCP:               single("OCP", FieldOverCurrentProtection, kindFloat),
	FieldIDOPP:               single("OPP", FieldOverPowerProtection, kindFloat),
	FieldIDOTP:               single("OTP", FieldOverTemperatureProtection, kindFloat),
	FieldIDLVP:               single("LVP", FieldLowVoltageProtection, kindFloat),
	FieldIDBrightness:        single("BRIGHTNESS", FieldBrightness, kindByte),
	FieldIDVolume:            single("VOLUME", FieldVolume, kindByte),
	FieldIDMeteringEnable:    single("METERING_ENABLE", FieldMeteringClosed, kindClearFlag),
	FieldIDOutputCapacity:    single("OUTPUT_CAPACITY", FieldOutputCapacity, kindFloat),
	FieldIDOutputEnergy:      single("OUTPUT_ENERGY", FieldOutputEnergy, kindFloat),
	FieldIDOutputEnable:      single("OUTPUT_ENABLE", FieldOutputClosed, kindSetFlag),
	FieldIDProtectionState:   single("PROTECTION_STATE", FieldProtectionState, kindProtection),
	FieldIDMode:              single("MODE", FieldMode, kindMode),
	FieldIDModelName:         single("MODEL_NAME", FieldModelName, kindText),
	FieldIDHardwareVersion:   single("HARDWARE_VERSION", FieldHardwareVersion, kindText),
	FieldIDFirmwareVersion:   single("FIRMWARE_VERSION", FieldFirmwareVersion, kindText),
	FieldIDUpperLimitVoltage: single("UPPER_LIMIT_VOLTAGE", FieldUpperLimitVoltage, kindFloat),
	FieldIDUpperLimitCurrent: single("UPPER_LIMIT_CURRENT", FieldUpperLimitCurrent, kindFloat),
	FieldIDAll:               {name: "ALL", slots: snapshotSlots},
}

// FieldIDName returns the protocol name of a field id
func FieldIDName(fieldID uint8) string {
	if spec, ok := fieldTable[fieldID]; ok {
		return spec.name
	}
	return "UNKNOWN"
}

// DecodeTelemetry decodes a telemetry payload by field id.
//
// Unknown ids return an *UnknownFieldError; payloads shorter than the field
// layout return ErrShortPayload. In both cases no update is produced. A
// protection index with no mapping is left out of the update without failing
// the rest of it.
func DecodeTelemetry(fieldID uint8, payload []byte) (Update, error) {
	spec, ok := fieldTable[fieldID]
	if !ok {
		p := make([]byte, len(payload))
		copy(p, payload)
		return nil, &UnknownFieldError{FieldID: fieldID, Payload: p}
	}

	need := spec.minLength()
	if fieldID == FieldIDAll {
		need = SnapshotMinLength
	}
	if len(payload) < need {
		return nil, fmt.Errorf("%s: %w (%d < %d)", spec.name, ErrShortPayload, len(payload), need)
	}

	u := make(Update, len(spec.slots)+1)
	for _, sl := range spec.slots {
		decodeSlot(payload, sl, u)
	}

	if fieldID == FieldIDAll {
		reserved := make([]byte, 0, 1+len(payload)-snapOffReservedTail)
		reserved = append(reserved, payload[snapOffReserved110])
		reserved = append(reserved, payload[snapOffReservedTail:]...)
		u[FieldSnapshotReserved] = reserved
	}
	return u, nil
}

func decodeSlot(payload []byte, sl slot, u Update) {
	switch sl.kind {
	case kindFloat:
		bits := binary.LittleEndian.Uint32(payload[sl.offset : sl.offset+4])
		u[sl.field] = math.Float32frombits(bits)
	case kindByte:
		u[sl.field] = payload[sl.offset]
	case kindSetFlag:
		u[sl.field] = payload[sl.offset] == 1
	case kindClearFlag:
		u[sl.field] = payload[sl.offset] == 0
	case kindProtection:
		if ps, ok := ProtectionFromIndex(payload[sl.offset]); ok {
			u[sl.field] = ps
		}
	case kindMode:
		u[sl.field] = ModeFromByte(payload[sl.offset])
	case kindText:
		u[sl.field] = strings.TrimRight(string(payload), "\x00")
	}
}
