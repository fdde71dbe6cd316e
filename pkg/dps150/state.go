// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps150

// GroupPreset is one of the six stored voltage/current presets
type GroupPreset struct {
	SetVoltage float32 `json:"setVoltage"`
	SetCurrent float32 `json:"setCurrent"`
}

// DeviceState accumulates every observed field of a device.
type DeviceState struct {
	InputVoltage  float32 `json:"inputVoltage"`
	SetVoltage    float32 `json:"setVoltage"`
	SetCurrent    float32 `json:"setCurrent"`
	OutputVoltage float32 `json:"outputVoltage"`
	OutputCurrent float32 `json:"outputCurrent"`
	OutputPower   float32 `json:"outputPower"`
	Temperature   float32 `json:"temperature"`

	Groups [6]GroupPreset `json:"groups"`

	OverVoltageProtection     float32 `json:"overVoltageProtection"`
	OverCurrentProtection     float32 `json:"overCurrentProtection"`
	OverPowerProtection       float32 `json:"overPowerProtection"`
	OverTemperatureProtection float32 `json:"overTemperatureProtection"`
	LowVoltageProtection      float32 `json:"lowVoltageProtection"`

	Brightness     uint8 `json:"brightness"`
	Volume         uint8 `json:"volume"`
	MeteringClosed bool  `json:"meteringClosed"`

	OutputCapacity float32 `json:"outputCapacity"`
	OutputEnergy   float32 `json:"outputEnergy"`

	OutputClosed    bool            `json:"outputClosed"`
	ProtectionState ProtectionState `json:"-"`
	Protection      string          `json:"protectionState"`
	Mode            Mode            `json:"-"`
	ModeName        string          `json:"mode"`

	UpperLimitVoltage float32 `json:"upperLimitVoltage"`
	UpperLimitCurrent float32 `json:"upperLimitCurrent"`

	ModelName       string `json:"modelName"`
	HardwareVersion string `json:"hardwareVersion"`
	FirmwareVersion string `json:"firmwareVersion"`

	Reserved []byte `json:"-"`
}

// NewDeviceState returns the state of a device nothing has been heard from
func NewDeviceState() DeviceState {
	return DeviceState{Mode: ModeConstantVoltage, ModeName: ModeConstantVoltage.String()}
}

// floatTarget returns where a float field is stored, or nil
func (s *DeviceState) floatTarget(f Field) *float32 {
	switch f {
	case FieldInputVoltage:
		return &s.InputVoltage
	case FieldSetVoltage:
		return &s.SetVoltage
	case FieldSetCurrent:
		return &s.SetCurrent
	case FieldOutputVoltage:
		return &s.OutputVoltage
	case FieldOutputCurrent:
		return &s.OutputCurrent
	case FieldOutputPower:
		return &s.OutputPower
	case FieldTemperature:
		return &s.Temperature
	case FieldOverVoltageProtection:
		return &s.OverVoltageProtection
	case FieldOverCurrentProtection:
		return &s.OverCurrentProtection
	case FieldOverPowerProtection:
		return &s.OverPowerProtection
	case FieldOverTemperatureProtection:
		return &s.OverTemperatureProtection
	case FieldLowVoltageProtection:
		return &s.LowVoltageProtection
	case FieldOutputCapacity:
		return &s.OutputCapacity
	case FieldOutputEnergy:
		return &s.OutputEnergy
	case FieldUpperLimitVoltage:
		return &s.UpperLimitVoltage
	case FieldUpperLimitCurrent:
		return &s.UpperLimitCurrent
	}
	if f >= FieldGroup1SetVoltage && f <= FieldGroup6SetCurrent {
		g := &s.Groups[(f-FieldGroup1SetVoltage)/2]
		if (f-FieldGroup1SetVoltage)%2 == 0 {
			return &g.SetVoltage
		}
		return &g.SetCurrent
	}
	return nil
}

// Apply merges a partial update into the state. Fields absent from the
// update keep their previous value.
func (s *DeviceState) Apply(u Update) {
	for f, v := range u {
		switch val := v.(type) {
		case float32:
			if t := s.floatTarget(f); t != nil {
				*t = val
			}
		case uint8:
			switch f {
			case FieldBrightness:
				s.Brightness = val
			case FieldVolume:
				s.Volume = val
			}
		case bool:
			switch f {
			case FieldMeteringClosed:
				s.MeteringClosed = val
			case FieldOutputClosed:
				s.OutputClosed = val
			}
		case string:
			switch f {
			case FieldModelName:
				s.ModelName = val
			case FieldHardwareVersion:
				s.HardwareVersion = val
			case FieldFirmwareVersion:
				s.FirmwareVersion = val
			}
		case ProtectionState:
			s.ProtectionState = val
			s.Protection = val.String()
		case Mode:
			s.Mode = val
			s.ModeName = val.String()
		case []byte:
			s.Reserved = append([]byte(nil), val...)
		}
	}
}
