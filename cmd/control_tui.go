// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/dpsctl/internal/api"
	"github.com/Thermoquad/dpsctl/internal/transport"
	"github.com/Thermoquad/dpsctl/pkg/dps150"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const commandTimeout = 2 * time.Second

// Focus states
const (
	focusVoltageInput = iota
	focusCurrentInput
	focusApplyButton
	focusOutputButton
	focusCount
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// controlModel is the Bubble Tea model for the control TUI
type controlModel struct {
	connInfo string
	store    *api.Store
	dev      api.Commander
	stats    func() dps150.Statistics

	voltageInput textinput.Model
	currentInput textinput.Model
	focusedField int

	eventLog      []logEntry
	maxLogEntries int

	width        int
	height       int
	quitting     bool
	disconnected bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type controlTickMsg time.Time

type commandResultMsg struct {
	what string
	err  error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func newSetpointInput(placeholder string) textinput.Model {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.CharLimit = 7
	ti.Width = 10
	ti.Validate = func(s string) error {
		if s == "" {
			return nil
		}
		_, err := strconv.ParseFloat(s, 32)
		return err
	}
	return ti
}

func newControlModel(connInfo string, store *api.Store, dev api.Commander, stats func() dps150.Statistics) controlModel {
	m := controlModel{
		connInfo:      connInfo,
		store:         store,
		dev:           dev,
		stats:         stats,
		voltageInput:  newSetpointInput("5.000"),
		currentInput:  newSetpointInput("1.000"),
		focusedField:  focusVoltageInput,
		eventLog:      make([]logEntry, 0),
		maxLogEntries: 100,
		width:         80,
		height:        24,
	}
	m.voltageInput.Focus()
	return m
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m controlModel) Init() tea.Cmd {
	return tea.Batch(controlTickCmd(), textinput.Blink)
}

func controlTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return controlTickMsg(t)
	})
}

func (m controlModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case controlTickMsg:
		return m, controlTickCmd()

	case eventMsg:
		ev := transport.Event(msg)
		switch {
		case ev.Disconnected:
			m.disconnected = true
			m.addLogEntry("Connection lost", true)
		case ev.Err != nil:
			m.addLogEntry(fmt.Sprintf("%s: %v", dps150.FieldIDName(ev.Frame.FieldID()), ev.Err), true)
		default:
			if p, ok := ev.Update.Protection(); ok && p != dps150.ProtectionNormal {
				m.addLogEntry(fmt.Sprintf("Protection tripped: %s", p), true)
			}
		}

	case commandResultMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s failed: %v", msg.what, msg.err), true)
		} else {
			m.addLogEntry(msg.what, false)
		}
	}

	return m.updateInputs(msg)
}

func (m controlModel) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.focusedField {
	case focusVoltageInput:
		m.voltageInput, cmd = m.voltageInput.Update(msg)
	case focusCurrentInput:
		m.currentInput, cmd = m.currentInput.Update(msg)
	}
	return m, cmd
}

func (m controlModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit

	case "q":
		// q is only a quit key outside the text inputs
		if m.focusedField >= focusApplyButton {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab":
		return m.cycleFocus(1), nil

	case "shift+tab":
		return m.cycleFocus(-1), nil

	case "enter":
		return m.handleEnter()
	}

	return m.updateInputs(msg)
}

func (m controlModel) cycleFocus(delta int) controlModel {
	m.focusedField = (m.focusedField + delta + focusCount) % focusCount

	m.voltageInput.Blur()
	m.currentInput.Blur()
	switch m.focusedField {
	case focusVoltageInput:
		m.voltageInput.Focus()
	case focusCurrentInput:
		m.currentInput.Focus()
	}
	return m
}

func (m controlModel) handleEnter() (tea.Model, tea.Cmd) {
	if m.disconnected {
		m.addLogEntry("Cannot send command: connection lost", true)
		return m, nil
	}

	switch m.focusedField {
	case focusVoltageInput, focusCurrentInput, focusApplyButton:
		return m, m.applySetpoints()
	case focusOutputButton:
		if m.store.Snapshot().Device.OutputClosed {
			return m, m.send("Output off", m.dev.DisableOutput)
		}
		return m, m.send("Output on", m.dev.EnableOutput)
	}
	return m, nil
}

// send runs a device command off the UI goroutine
func (m controlModel) send(what string, fn func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return commandResultMsg{what: what, err: fn(ctx)}
	}
}

// applySetpoints sends whichever of the voltage and current inputs parse,
// voltage first
func (m controlModel) applySetpoints() tea.Cmd {
	var parts []string
	var writes []func(context.Context) error

	if v, err := strconv.ParseFloat(m.voltageInput.Value(), 32); err == nil {
		volts := float32(v)
		parts = append(parts, fmt.Sprintf("%.3f V", volts))
		writes = append(writes, func(ctx context.Context) error { return m.dev.SetVoltage(ctx, volts) })
	}
	if i, err := strconv.ParseFloat(m.currentInput.Value(), 32); err == nil {
		amps := float32(i)
		parts = append(parts, fmt.Sprintf("%.3f A", amps))
		writes = append(writes, func(ctx context.Context) error { return m.dev.SetCurrent(ctx, amps) })
	}
	if len(writes) == 0 {
		return nil
	}

	return m.send("Set "+strings.Join(parts, ", "), func(ctx context.Context) error {
		for _, w := range writes {
			if err := w(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *controlModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})
	if len(m.eventLog) > m.maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-m.maxLogEntries:]
	}
}

func (m controlModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	view := m.store.Snapshot()

	var s strings.Builder
	s.WriteString(titleStyle.Render("DPSCTL CONTROL"))
	s.WriteString(" ")
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | %s | Tab=switch Enter=send Esc=quit",
		m.connInfo, view.Device.ModelName)))
	s.WriteString("\n\n")
	s.WriteString(renderLinkStatus(view, m.disconnected))
	s.WriteString("\n\n")

	// Layout: left panel (control) | right panel (telemetry)
	controlPanel := boxStyle.Width(34).Render(m.renderControlPanel(view.Device))
	telemetry := lipgloss.JoinVertical(lipgloss.Left,
		renderOutputPanel(view.Device),
		renderDevicePanel(view.Device),
	)
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, controlPanel, " ", telemetry))
	s.WriteString("\n")

	s.WriteString(renderStatistics(m.stats()))
	s.WriteString("\n\n")
	s.WriteString(renderEventLog(m.eventLog, 8, m.width-4))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m controlModel) renderControlPanel(dev dps150.DeviceState) string {
	var s strings.Builder

	s.WriteString(labelStyle.Render("Voltage (V): "))
	s.WriteString(m.voltageInput.View())
	s.WriteString("\n")
	s.WriteString(labelStyle.Render("Current (A): "))
	s.WriteString(m.currentInput.View())
	s.WriteString("\n\n")

	apply := "[ Apply ]"
	if m.focusedField == focusApplyButton {
		s.WriteString(focusedButtonStyle.Render(apply))
	} else {
		s.WriteString(buttonStyle.Render(apply))
	}
	s.WriteString(" ")

	output := "[ Output On ]"
	if dev.OutputClosed {
		output = "[ Output Off ]"
	}
	if m.focusedField == focusOutputButton {
		s.WriteString(focusedButtonStyle.Render(output))
	} else {
		s.WriteString(buttonStyle.Render(output))
	}

	return s.String()
}
