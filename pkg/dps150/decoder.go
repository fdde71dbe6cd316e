// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps150

import (
	"fmt"
	"time"
)

// ChecksumError reports a candidate frame whose checksum did not match.
// The decoder treats it as a false-positive marker match and keeps scanning.
type ChecksumError struct {
	Offset   int
	FieldID  uint8
	Expected uint8
	Got      uint8
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch at offset %d (field %d): expected 0x%02X, got 0x%02X",
		e.Offset, e.FieldID, e.Expected, e.Got)
}

// Decode scans buf for inbound telemetry frames (F0 A1 ...).
//
// It returns every checksum-valid frame found, the number of leading bytes of
// buf that are fully consumed, and one *ChecksumError per rejected candidate.
// The caller keeps buf[consumed:] and appends the next read to it. A frame
// whose bytes have not all arrived yet stops the scan at its marker so the
// call can be repeated once more data is available.
//
// Decode holds no state between calls.
func Decode(buf []byte) (frames []Frame, consumed int, errs []error) {
	i := 0
	for i < len(buf) {
		if buf[i] != byte(DirIn) {
			i++
			continue
		}
		// A trailing marker byte may be the start of the next frame
		if i+1 >= len(buf) {
			break
		}
		if buf[i+1] != byte(CmdGet) {
			i++
			continue
		}
		if i+HeaderSize > len(buf) {
			break
		}

		fieldID := buf[i+2]
		length := int(buf[i+3])
		csPos := i + HeaderSize + length
		if csPos >= len(buf) {
			break
		}

		payload := buf[i+HeaderSize : csPos]
		expected := Checksum(fieldID, payload)
		if expected != buf[csPos] {
			errs = append(errs, &ChecksumError{
				Offset:   i,
				FieldID:  fieldID,
				Expected: expected,
				Got:      buf[csPos],
			})
			// Resume right after the false marker; a real frame may start
			// inside the rejected region.
			i++
			continue
		}

		p := make([]byte, length)
		copy(p, payload)
		frames = append(frames, Frame{
			direction: DirIn,
			kind:      CmdGet,
			fieldID:   fieldID,
			payload:   p,
			checksum:  buf[csPos],
			timestamp: time.Now(),
		})
		i = csPos + 1
	}
	return frames, i, errs
}
