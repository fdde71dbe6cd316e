// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry creates a registry with the Go runtime and process collectors
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler returns the exposition handler for reg
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Engine holds the protocol engine metrics. A nil *Engine is valid and
// records nothing.
type Engine struct {
	BytesReceived    prometheus.Counter
	FramesDecoded    *prometheus.CounterVec // labels: field
	ChecksumErrors   prometheus.Counter
	UnknownFields    prometheus.Counter
	DroppedEvents    prometheus.Counter
	Writes           *prometheus.CounterVec // labels: result=ok|error
	Connected        prometheus.Gauge
	SequencerSteps   *prometheus.CounterVec // labels: op, result
	SequencerRuns    *prometheus.CounterVec // labels: result=done|aborted|cancelled
	SequencerRunning prometheus.Gauge
}

// NewEngine registers and returns the engine metrics
func NewEngine(reg prometheus.Registerer) *Engine {
	m := &Engine{
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dps_bytes_received_total",
			Help: "Total bytes read from the device stream.",
		}),
		FramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dps_frames_decoded_total",
			Help: "Checksum-valid frames decoded, by field name.",
		}, []string{"field"}),
		ChecksumErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dps_checksum_errors_total",
			Help: "Frame candidates rejected on checksum.",
		}),
		UnknownFields: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dps_unknown_fields_total",
			Help: "Frames with a field id outside the telemetry table.",
		}),
		DroppedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dps_dropped_events_total",
			Help: "Measurement updates dropped because the subscriber queue was full.",
		}),
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dps_writes_total",
			Help: "Command frames written to the device.",
		}, []string{"result"}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dps_connected",
			Help: "1 while the device stream is open.",
		}),
		SequencerSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dps_sequencer_steps_total",
			Help: "Program instructions executed, by op and result.",
		}, []string{"op", "result"}),
		SequencerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dps_sequencer_runs_total",
			Help: "Program runs finished, by outcome.",
		}, []string{"result"}),
		SequencerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dps_sequencer_running",
			Help: "1 while a program run is active.",
		}),
	}
	reg.MustRegister(m.BytesReceived, m.FramesDecoded, m.ChecksumErrors, m.UnknownFields,
		m.DroppedEvents, m.Writes, m.Connected, m.SequencerSteps, m.SequencerRuns, m.SequencerRunning)
	return m
}

// ObserveBytes adds received bytes
func (m *Engine) ObserveBytes(n int) {
	if m == nil {
		return
	}
	m.BytesReceived.Add(float64(n))
}

// ObserveFrame counts a decoded frame by field name
func (m *Engine) ObserveFrame(field string) {
	if m == nil {
		return
	}
	m.FramesDecoded.WithLabelValues(field).Inc()
}

// ObserveChecksumErrors counts rejected candidates
func (m *Engine) ObserveChecksumErrors(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ChecksumErrors.Add(float64(n))
}

// ObserveUnknownField counts an unknown field id
func (m *Engine) ObserveUnknownField() {
	if m == nil {
		return
	}
	m.UnknownFields.Inc()
}

// ObserveDropped counts a dropped subscriber event
func (m *Engine) ObserveDropped() {
	if m == nil {
		return
	}
	m.DroppedEvents.Inc()
}

// ObserveWrite counts a command write
func (m *Engine) ObserveWrite(err error) {
	if m == nil {
		return
	}
	m.Writes.WithLabelValues(resultLabel(err)).Inc()
}

// SetConnected updates the connection gauge
func (m *Engine) SetConnected(up bool) {
	if m == nil {
		return
	}
	m.Connected.Set(boolGauge(up))
}

// ObserveStep counts a sequencer instruction
func (m *Engine) ObserveStep(op string, err error) {
	if m == nil {
		return
	}
	m.SequencerSteps.WithLabelValues(op, resultLabel(err)).Inc()
}

// ObserveRun counts a finished run
func (m *Engine) ObserveRun(result string) {
	if m == nil {
		return
	}
	m.SequencerRuns.WithLabelValues(result).Inc()
}

// SetRunning updates the sequencer gauge
func (m *Engine) SetRunning(running bool) {
	if m == nil {
		return
	}
	m.SequencerRunning.Set(boolGauge(running))
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
