// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Thermoquad/dpsctl/internal/api"
	"github.com/Thermoquad/dpsctl/internal/transport"
	"github.com/Thermoquad/dpsctl/pkg/dps150"
)

// Event log entry
type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// TUI model for the monitor command
type monitorModel struct {
	connInfo      string
	store         *api.Store
	stats         func() dps150.Statistics
	showAll       bool
	eventLog      []logEntry
	maxLogEntries int
	started       time.Time
	width         int
	height        int
	quitting      bool
	disconnected  bool
}

// Messages
type tickMsg time.Time
type eventMsg transport.Event

// formatDuration formats a duration to a human-friendly string
func formatDuration(d time.Duration) string {
	total := int64(d / time.Second)
	if total <= 0 {
		return "0 seconds"
	}

	units := []struct {
		name string
		size int64
	}{
		{"day", 86400},
		{"hour", 3600},
		{"minute", 60},
		{"second", 1},
	}

	parts := []string{}
	for _, u := range units {
		n := total / u.size
		total %= u.size
		switch {
		case n == 1:
			parts = append(parts, "1 "+u.name)
		case n > 1:
			parts = append(parts, fmt.Sprintf("%d %ss", n, u.name))
		}
	}

	// Join with commas and "and" for last item
	if len(parts) == 1 {
		return parts[0]
	}
	if len(parts) == 2 {
		return parts[0] + " and " + parts[1]
	}
	last := parts[len(parts)-1]
	rest := strings.Join(parts[:len(parts)-1], ", ")
	return rest + ", and " + last
}

func newMonitorModel(connInfo string, store *api.Store, stats func() dps150.Statistics, showAll bool) monitorModel {
	return monitorModel{
		connInfo:      connInfo,
		store:         store,
		stats:         stats,
		showAll:       showAll,
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 100,
		started:       time.Now(),
		width:         80,
		height:        24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.EnterAltScreen,
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		return m, tickCmd()

	case eventMsg:
		m.handleEvent(transport.Event(msg))
	}

	return m, nil
}

func (m *monitorModel) handleEvent(ev transport.Event) {
	switch {
	case ev.Disconnected:
		m.disconnected = true
		if ev.Err != nil {
			m.addLogEntry(fmt.Sprintf("Connection lost: %v", ev.Err), true)
		} else {
			m.addLogEntry("Connection closed", true)
		}

	case ev.Err != nil:
		m.addLogEntry(fmt.Sprintf("%s: %v", dps150.FieldIDName(ev.Frame.FieldID()), ev.Err), true)

	case ev.Update != nil:
		if p, ok := ev.Update.Protection(); ok && p != dps150.ProtectionNormal {
			m.addLogEntry(fmt.Sprintf("Protection tripped: %s", p), true)
		}
		if m.showAll {
			m.addLogEntry(summarizeUpdate(ev.Update), false)
		}
	}
}

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	// Keep only last N entries
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

// summarizeUpdate renders an update on one line
func summarizeUpdate(u dps150.Update) string {
	lines := strings.Split(strings.TrimSpace(dps150.FormatUpdate(u)), "\n")
	for i := range lines {
		lines[i] = strings.TrimSpace(lines[i])
	}
	if len(lines) > 4 {
		return fmt.Sprintf("snapshot (%d fields)", len(u))
	}
	return strings.Join(lines, ", ")
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	view := m.store.Snapshot()

	var s strings.Builder
	s.WriteString(titleStyle.Render("DPSCTL - MONITOR"))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render(fmt.Sprintf("%s | %s | Session: %s | Press 'q' to quit",
		m.connInfo, view.Device.ModelName, formatDuration(time.Since(m.started)))))
	s.WriteString("\n\n")

	s.WriteString(renderLinkStatus(view, m.disconnected))
	s.WriteString("\n\n")
	s.WriteString(renderOutputPanel(view.Device))
	s.WriteString("\n")
	s.WriteString(renderDevicePanel(view.Device))
	s.WriteString("\n")
	s.WriteString(renderStatistics(m.stats()))
	s.WriteString("\n\n")
	s.WriteString(renderEventLog(m.eventLog, m.height-20, m.width-4))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func renderLinkStatus(view api.StateView, disconnected bool) string {
	switch {
	case disconnected || !view.Connected:
		return errorStyle.Render("✗ Disconnected")
	case view.UpdatedAt.IsZero():
		return warningStyle.Render("⏳ Waiting for telemetry...")
	default:
		return valueStyle.Render("✓ Connected") +
			headerStyle.Render(fmt.Sprintf(" (updated %s)", view.UpdatedAt.Format("15:04:05.000")))
	}
}

func renderOutputPanel(dev dps150.DeviceState) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s   %s   %s\n",
		label("Voltage", fmt.Sprintf("%.3f V", dev.OutputVoltage)),
		label("Current", fmt.Sprintf("%.3f A", dev.OutputCurrent)),
		label("Power", fmt.Sprintf("%.3f W", dev.OutputPower)),
	))

	protection := valueStyle.Render("normal")
	if dev.ProtectionState != dps150.ProtectionNormal {
		protection = errorStyle.Render(dev.Protection)
	}
	b.WriteString(fmt.Sprintf("%s   %s   %s %s",
		label("Output", onOff(dev.OutputClosed)),
		label("Mode", dev.ModeName),
		labelStyle.Render("Protection:"), protection,
	))
	return boxStyle.Render(b.String())
}

func renderDevicePanel(dev dps150.DeviceState) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s   %s   %s\n",
		label("Set", fmt.Sprintf("%.3f V / %.3f A", dev.SetVoltage, dev.SetCurrent)),
		label("Input", fmt.Sprintf("%.2f V", dev.InputVoltage)),
		label("Temp", fmt.Sprintf("%.1f°C", dev.Temperature)),
	))
	b.WriteString(fmt.Sprintf("%s   %s   %s",
		label("Capacity", fmt.Sprintf("%.3f Ah", dev.OutputCapacity)),
		label("Energy", fmt.Sprintf("%.3f Wh", dev.OutputEnergy)),
		label("Metering", onOff(dev.MeteringClosed)),
	))
	return boxStyle.Render(b.String())
}

func renderStatistics(stats dps150.Statistics) string {
	stats.CalculateRates()
	var validPercent float64
	if stats.TotalFrames > 0 {
		validPercent = float64(stats.ValidFrames) * 100.0 / float64(stats.TotalFrames)
	}

	errRate := valueStyle.Render(fmt.Sprintf("%.1f err/s", stats.ErrorRate))
	if stats.ErrorRate > 0 {
		errRate = errorStyle.Render(fmt.Sprintf("%.1f err/s", stats.ErrorRate))
	}

	content := fmt.Sprintf("%s   %s   %s   %s %s",
		label("Frames", fmt.Sprintf("%d", stats.TotalFrames)),
		label("Valid", fmt.Sprintf("%.1f%%", validPercent)),
		label("Rate", fmt.Sprintf("%.1f fr/s", stats.FrameRate)),
		labelStyle.Render("Errors:"), errRate,
	)
	if stats.ChecksumErrors > 0 || stats.DroppedEvents > 0 {
		content += fmt.Sprintf("\n%s %s   %s %s",
			labelStyle.Render("Checksum:"), errorStyle.Render(fmt.Sprintf("%d", stats.ChecksumErrors)),
			labelStyle.Render("Dropped:"), warningStyle.Render(fmt.Sprintf("%d", stats.DroppedEvents)),
		)
	}
	return boxStyle.Render(content)
}

func renderEventLog(entries []logEntry, height, width int) string {
	if height < 5 {
		height = 5
	}
	if width < 20 {
		width = 20
	}

	var s strings.Builder
	s.WriteString(labelStyle.Render("Recent Events:"))
	s.WriteString("\n")

	startIdx := len(entries) - height
	if startIdx < 0 {
		startIdx = 0
	}

	var content strings.Builder
	if len(entries) == 0 {
		content.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range entries[startIdx:] {
		timestamp := entry.timestamp.Format("15:04:05.000")
		if entry.isError {
			content.WriteString(fmt.Sprintf("%s %s\n",
				headerStyle.Render(timestamp),
				errorStyle.Render("✗ "+entry.message),
			))
		} else {
			content.WriteString(fmt.Sprintf("%s %s\n",
				headerStyle.Render(timestamp),
				warningStyle.Render("ℹ "+entry.message),
			))
		}
	}

	s.WriteString(boxStyle.Width(width).Render(content.String()))
	return s.String()
}
