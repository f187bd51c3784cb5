// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 StageKit Labs

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/stagekit/padlink/pkg/smx"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI showing live pad state and sensor telemetry",
	Long: `Monitor a pad interactively.

Shows connection state, firmware identity, the live step bitmask, and
per-panel sensor telemetry in a 3x3 grid. Sensor test mode starts in
calibrated values; 'm' cycles through the available modes.

Keys:
  m        cycle sensor test mode
  r        force recalibration
  q        quit

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

// Sensor test modes in the order 'm' cycles through them.
var monitorModes = []struct {
	mode smx.SensorTestMode
	name string
}{
	{smx.SensorTestCalibratedValues, "calibrated"},
	{smx.SensorTestUncalibratedValues, "uncalibrated"},
	{smx.SensorTestNoise, "noise"},
	{smx.SensorTestTare, "tare"},
}

type monitorTickMsg time.Time

// monitorModel is the bubbletea model for the monitor TUI. All pad state
// is pulled from the session on every tick; the TUI never holds the
// session lock for longer than one getter call.
type monitorModel struct {
	sess     *padSession
	connInfo string

	spin      spinner.Model
	connected bool
	info      smx.Info
	input     uint16
	test      smx.SensorTestData
	haveTest  bool
	modeIndex int

	err      error
	quitting bool
}

func initialMonitorModel(sess *padSession, connInfo string) monitorModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return monitorModel{
		sess:     sess,
		connInfo: connInfo,
		spin:     sp,
	}
}

func monitorTick() tea.Cmd {
	return tea.Tick(50*time.Millisecond, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, monitorTick())
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "m":
			m.modeIndex = (m.modeIndex + 1) % len(monitorModes)
			m.sess.dev.SetSensorTestMode(monitorModes[m.modeIndex].mode)
			return m, nil
		case "r":
			m.sess.dev.ForceRecalibration()
			return m, nil
		}

	case monitorTickMsg:
		select {
		case err := <-m.sess.errs:
			m.err = err
			m.quitting = true
			return m, tea.Quit
		default:
		}

		m.connected = m.sess.dev.IsConnected()
		m.info = m.sess.dev.GetInfo()
		m.input = m.sess.dev.GetInputState()
		m.test, m.haveTest = m.sess.dev.GetTestData()
		return m, monitorTick()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	return m, nil
}

var (
	monitorTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	monitorDimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	monitorBadStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1).
			Width(14)
	panelPressedStyle = panelStyle.
				BorderForeground(lipgloss.Color("86")).
				Foreground(lipgloss.Color("86"))
)

func (m monitorModel) View() string {
	if m.quitting {
		if m.err != nil {
			return fmt.Sprintf("Connection lost: %v\n", m.err)
		}
		return ""
	}

	var b strings.Builder
	b.WriteString(monitorTitleStyle.Render("Padlink Monitor"))
	b.WriteString("  " + monitorDimStyle.Render(m.connInfo) + "\n\n")

	if !m.connected {
		b.WriteString(fmt.Sprintf("%s waiting for pad (identity and configuration)...\n", m.spin.View()))
		return b.String()
	}

	serial := strings.TrimRight(string(m.info.Serial[:]), "\x00")
	b.WriteString(fmt.Sprintf("Serial: %s   Firmware: %d   Mode: %s\n\n",
		serial, m.info.FirmwareVersion, monitorModes[m.modeIndex].name))

	// 3x3 panel grid, row-major panel order.
	for row := 0; row < 3; row++ {
		cells := make([]string, 0, 3)
		for col := 0; col < 3; col++ {
			cells = append(cells, m.renderPanel(row*3+col))
		}
		b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
		b.WriteString("\n")
	}

	b.WriteString("\n" + monitorDimStyle.Render("m: cycle mode   r: recalibrate   q: quit") + "\n")
	return b.String()
}

func (m monitorModel) renderPanel(panel int) string {
	var lines []string
	lines = append(lines, fmt.Sprintf("panel %d", panel))

	if m.haveTest && m.test.HavePanelData[panel] {
		for sensor := 0; sensor < smx.SensorsPerPanel; sensor++ {
			v := fmt.Sprintf("%6d", m.test.SensorLevel[panel][sensor])
			if m.test.BadSensor[panel][sensor] {
				v = monitorBadStyle.Render(v + " !")
			}
			lines = append(lines, v)
		}
		lines = append(lines, monitorDimStyle.Render(fmt.Sprintf("dip %X", m.test.DIPSwitch[panel])))
	} else {
		lines = append(lines, monitorDimStyle.Render("no data"))
	}

	style := panelStyle
	if m.input&(1<<panel) != 0 {
		style = panelPressedStyle
	}
	return style.Render(strings.Join(lines, "\n"))
}

func runMonitor(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}

	sess, err := startSession(conn)
	if err != nil {
		conn.Close()
		return err
	}
	defer sess.Close()

	sess.dev.SetSensorTestMode(monitorModes[0].mode)

	p := tea.NewProgram(initialMonitorModel(sess, connInfo), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}
