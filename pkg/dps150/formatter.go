// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps150

import (
	"fmt"
	"sort"
	"strings"
)

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f Frame) string {
	timestamp := f.timestamp.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s %s %s (%d) len=%d cs=0x%02X\n",
		timestamp, FormatDirection(f.direction), FormatKind(f.kind),
		FieldIDName(f.fieldID), f.fieldID, len(f.payload), f.checksum)

	if f.direction == DirIn && f.kind == CmdGet {
		u, err := DecodeTelemetry(f.fieldID, f.payload)
		if err == nil {
			return result + FormatUpdate(u)
		}
	}
	if len(f.payload) > 0 {
		result += FormatHex(f.payload)
	}
	return result
}

// FormatDirection returns "IN" or "OUT"
func FormatDirection(d Direction) string {
	switch d {
	case DirIn:
		return "IN"
	case DirOut:
		return "OUT"
	default:
		return fmt.Sprintf("DIR_0x%02X", uint8(d))
	}
}

// FormatKind returns the human-readable name for a command kind
func FormatKind(k CommandKind) string {
	switch k {
	case CmdGet:
		return "GET"
	case CmdBaud:
		return "BAUD"
	case CmdSet:
		return "SET"
	case CmdSession:
		return "SESSION"
	default:
		return fmt.Sprintf("CMD_0x%02X", uint8(k))
	}
}

// FormatValue renders a single update value with its unit
func FormatValue(f Field, v any) string {
	switch val := v.(type) {
	case float32:
		return fmt.Sprintf("%.3f%s", val, fieldUnit(f))
	case uint8:
		return fmt.Sprintf("%d", val)
	case bool:
		if val {
			return "yes"
		}
		return "no"
	case string:
		return fmt.Sprintf("%q", val)
	case ProtectionState:
		if val == ProtectionNormal {
			return "normal"
		}
		return val.String()
	case Mode:
		return val.String()
	case []byte:
		return fmt.Sprintf("%d reserved bytes", len(val))
	default:
		return fmt.Sprintf("%v", val)
	}
}

func fieldUnit(f Field) string {
	switch f {
	case FieldTemperature, FieldOverTemperatureProtection:
		return "°C"
	case FieldOutputPower, FieldOverPowerProtection:
		return "W"
	case FieldOutputCapacity:
		return "Ah"
	case FieldOutputEnergy:
		return "Wh"
	}
	name := f.String()
	switch {
	case strings.HasSuffix(name, "Current"), f == FieldOverCurrentProtection:
		return "A"
	case strings.HasSuffix(name, "Voltage"), f == FieldOverVoltageProtection, f == FieldLowVoltageProtection:
		return "V"
	}
	return ""
}

// FormatUpdate formats an update as one "name: value" line per field, in
// field order.
func FormatUpdate(u Update) string {
	fields := make([]Field, 0, len(u))
	for f := range u {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i] < fields[j] })

	var b strings.Builder
	for _, f := range fields {
		fmt.Fprintf(&b, "  %s: %s\n", f, FormatValue(f, u[f]))
	}
	return b.String()
}

// FormatHex renders bytes as a wrapped hex dump
func FormatHex(data []byte) string {
	result := "  Payload: "
	for i, b := range data {
		if i > 0 && i%16 == 0 {
			result += "\n           "
		}
		result += fmt.Sprintf("%02X ", b)
	}
	return result + "\n"
}
