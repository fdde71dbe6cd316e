// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package dps150

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks frame counts and error rates for a stream
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	BytesReceived  uint64
	TotalFrames    uint64
	ValidFrames    uint64
	ChecksumErrors uint64
	UnknownFields  uint64
	ShortPayloads  uint64
	DroppedEvents  uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// AddBytes records received stream bytes
func (s *Statistics) AddBytes(n int) {
	s.BytesReceived += uint64(n)
}

// AddFramingErrors records rejected frame candidates returned by Decode
func (s *Statistics) AddFramingErrors(errs []error) {
	for _, err := range errs {
		var cs *ChecksumError
		if errors.As(err, &cs) {
			s.ChecksumErrors++
			s.TotalFrames++
		}
	}
}

// AddFrame records a decoded frame and the result of decoding its telemetry
func (s *Statistics) AddFrame(decodeErr error) {
	s.TotalFrames++
	s.LastUpdateTime = time.Now()

	var unknown *UnknownFieldError
	switch {
	case decodeErr == nil:
		s.ValidFrames++
	case errors.As(decodeErr, &unknown):
		s.UnknownFields++
	case errors.Is(decodeErr, ErrShortPayload):
		s.ShortPayloads++
	}
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.ChecksumErrors+s.ShortPayloads) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, checksumPercent float64
	if s.TotalFrames > 0 {
		validPercent = float64(s.ValidFrames) * 100.0 / float64(s.TotalFrames)
		checksumPercent = float64(s.ChecksumErrors) * 100.0 / float64(s.TotalFrames)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Bytes Received:  %8d\n", s.BytesReceived)
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	result += fmt.Sprintf("Valid Frames:    %8d (%.1f%%)\n", s.ValidFrames, validPercent)

	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, checksumPercent)
	}
	if s.UnknownFields > 0 {
		result += fmt.Sprintf("Unknown Fields:  %8d\n", s.UnknownFields)
	}
	if s.ShortPayloads > 0 {
		result += fmt.Sprintf("Short Payloads:  %8d\n", s.ShortPayloads)
	}
	if s.DroppedEvents > 0 {
		result += fmt.Sprintf("Dropped Events:  %8d\n", s.DroppedEvents)
	}

	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
