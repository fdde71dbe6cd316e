// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps150

// Field identifies a tracked device measurement.
type Field int

// Tracked fields
const (
	FieldInputVoltage Field = iota
	FieldSetVoltage
	FieldSetCurrent
	FieldOutputVoltage
	FieldOutputCurrent
	FieldOutputPower
	FieldTemperature
	FieldGroup1SetVoltage
	FieldGroup1SetCurrent
	FieldGroup2SetVoltage
	FieldGroup2SetCurrent
	FieldGroup3SetVoltage
	FieldGroup3SetCurrent
	FieldGroup4SetVoltage
	FieldGroup4SetCurrent
	FieldGroup5SetVoltage
	FieldGroup5SetCurrent
	FieldGroup6SetVoltage
	FieldGroup6SetCurrent
	FieldOverVoltageProtection
	FieldOverCurrentProtection
	FieldOverPowerProtection
	FieldOverTemperatureProtection
	FieldLowVoltageProtection
	FieldBrightness
	FieldVolume
	FieldMeteringClosed
	FieldOutputCapacity
	FieldOutputEnergy
	FieldOutputClosed
	FieldProtectionState
	FieldMode
	FieldModelName
	FieldHardwareVersion
	FieldFirmwareVersion
	FieldUpperLimitVoltage
	FieldUpperLimitCurrent
	FieldSnapshotReserved
	fieldCount
)

var fieldNames = [fieldCount]string{
	FieldInputVoltage:              "inputVoltage",
	FieldSetVoltage:                "setVoltage",
	FieldSetCurrent:                "setCurrent",
	FieldOutputVoltage:             "outputVoltage",
	FieldOutputCurrent:             "outputCurrent",
	FieldOutputPower:               "outputPower",
	FieldTemperature:               "temperature",
	FieldGroup1SetVoltage:          "group1setVoltage",
	FieldGroup1SetCurrent:          "group1setCurrent",
	FieldGroup2SetVoltage:          "group2setVoltage",
	FieldGroup2SetCurrent:          "group2setCurrent",
	FieldGroup3SetVoltage:          "group3setVoltage",
	FieldGroup3SetCurrent:          "group3setCurrent",
	FieldGroup4SetVoltage:          "group4setVoltage",
	FieldGroup4SetCurrent:          "group4setCurrent",
	FieldGroup5SetVoltage:          "group5setVoltage",
	FieldGroup5SetCurrent:          "group5setCurrent",
	FieldGroup6SetVoltage:          "group6setVoltage",
	FieldGroup6SetCurrent:          "group6setCurrent",
	FieldOverVoltageProtection:     "overVoltageProtection",
	FieldOverCurrentProtection:     "overCurrentProtection",
	FieldOverPowerProtection:       "overPowerProtection",
	FieldOverTemperatureProtection: "overTemperatureProtection",
	FieldLowVoltageProtection:      "lowVoltageProtection",
	FieldBrightness:                "brightness",
	FieldVolume:                    "volume",
	FieldMeteringClosed:            "meteringClosed",
	FieldOutputCapacity:            "outputCapacity",
	FieldOutputEnergy:              "outputEnergy",
	FieldOutputClosed:              "outputClosed",
	FieldProtectionState:           "protectionState",
	FieldMode:                      "mode",
	FieldModelName:                 "modelName",
	FieldHardwareVersion:           "hardwareVersion",
	FieldFirmwareVersion:           "firmwareVersion",
	FieldUpperLimitVoltage:         "upperLimitVoltage",
	FieldUpperLimitCurrent:         "upperLimitCurrent",
	FieldSnapshotReserved:          "snapshotReserved",
}

// String returns the field's camelCase name
func (f Field) String() string {
	if f < 0 || f >= fieldCount {
		return "unknown"
	}
	return fieldNames[f]
}

// GroupFields returns the set-voltage and set-current fields of preset group
// n (1-6).
func GroupFields(n int) (voltage, current Field, ok bool) {
	if n < 1 || n > 6 {
		return 0, 0, false
	}
	base := FieldGroup1SetVoltage + Field(2*(n-1))
	return base, base + 1, true
}

// ProtectionState is the device protection status.
type ProtectionState int

// Protection states, in protocol index order
const (
	ProtectionNormal ProtectionState = iota
	ProtectionOverVoltage
	ProtectionOverCurrent
	ProtectionOverPower
	ProtectionOverTemperature
	ProtectionLowVoltage
	ProtectionReverseConnection
)

var protectionNames = []string{"", "OVP", "OCP", "OPP", "OTP", "LVP", "REP"}

// ProtectionFromIndex maps a protocol index to a protection state.
// ok is false for indexes with no mapping.
func ProtectionFromIndex(index uint8) (ProtectionState, bool) {
	if int(index) >= len(protectionNames) {
		return 0, false
	}
	return ProtectionState(index), true
}

// String returns the short protection name ("" for normal operation)
func (p ProtectionState) String() string {
	if p < 0 || int(p) >= len(protectionNames) {
		return "?"
	}
	return protectionNames[p]
}

// Mode is the regulation mode.
type Mode int

// Regulation modes
const (
	ModeConstantCurrent Mode = iota
	ModeConstantVoltage
)

// ModeFromByte decodes the mode byte; 0 is constant current.
func ModeFromByte(b uint8) Mode {
	if b == 0 {
		return ModeConstantCurrent
	}
	return ModeConstantVoltage
}

// String returns "CC" or "CV"
func (m Mode) String() string {
	if m == ModeConstantCurrent {
		return "CC"
	}
	return "CV"
}

// Update is a partial set of newly observed field values. Values are
// float32, uint8, bool, string, ProtectionState, Mode or []byte depending on
// the field.
type Update map[Field]any

// Float returns a float32 field value
func (u Update) Float(f Field) (float32, bool) {
	v, ok := u[f].(float32)
	return v, ok
}

// Byte returns a uint8 field value
func (u Update) Byte(f Field) (uint8, bool) {
	v, ok := u[f].(uint8)
	return v, ok
}

// Bool returns a boolean field value
func (u Update) Bool(f Field) (bool, bool) {
	v, ok := u[f].(bool)
	return v, ok
}

// Text returns a string field value
func (u Update) Text(f Field) (string, bool) {
	v, ok := u[f].(string)
	return v, ok
}

// Protection returns the protection state, if present
func (u Update) Protection() (ProtectionState, bool) {
	v, ok := u[FieldProtectionState].(ProtectionState)
	return v, ok
}

// Mode returns the regulation mode, if present
func (u Update) Mode() (Mode, bool) {
	v, ok := u[FieldMode].(Mode)
	return v, ok
}

// Has reports whether any of the given fields is present
func (u Update) Has(fields ...Field) bool {
	for _, f := range fields {
		if _, ok := u[f]; ok {
			return true
		}
	}
	return false
}
