// ABOUTME: Bubbletea model for the player TUI
// ABOUTME: Defines application state and update logic
package ui

import (
	"fmt"
	"sort"
	"time"

	"github.com/OpenILDA/ildaplay-go/pkg/discovery"
	tea "github.com/charmbracelet/bubbletea"
)

// seekStep is the fraction moved per arrow key press
const seekStep = 0.05

// StatusMsg carries player state into the TUI. Nil/zero fields leave
// the previous value in place.
type StatusMsg struct {
	Dacs      map[string]discovery.DAC
	FileName  string
	Duration  time.Duration
	PointRate int
	Playing   *bool
	Position  *float64
	DacState  string
	Fullness  *int
	Dropped   *int64
}

// Model represents the TUI state
type Model struct {
	// File
	fileName  string
	duration  time.Duration
	pointRate int

	// Transport
	playing  bool
	position float64

	// DAC link
	dacs     map[string]discovery.DAC
	dacState string
	fullness int
	dropped  int64

	// Dimensions
	width  int
	height int

	transport *Transport
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// applyStatus merges a status update into the model
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Dacs != nil {
		m.dacs = msg.Dacs
	}
	if msg.FileName != "" {
		m.fileName = msg.FileName
	}
	if msg.Duration != 0 {
		m.duration = msg.Duration
	}
	if msg.PointRate != 0 {
		m.pointRate = msg.PointRate
	}
	if msg.Playing != nil {
		m.playing = *msg.Playing
	}
	if msg.Position != nil {
		m.position = *msg.Position
	}
	if msg.DacState != "" {
		m.dacState = msg.DacState
	}
	if msg.Fullness != nil {
		m.fullness = *msg.Fullness
	}
	if msg.Dropped != nil {
		m.dropped = *msg.Dropped
	}
}

// handleKey maps transport keys onto control channel sends
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.transport != nil {
			select {
			case m.transport.Quit <- struct{}{}:
			default:
			}
		}
		return m, tea.Quit
	case " ":
		if m.transport != nil {
			select {
			case m.transport.Toggles <- struct{}{}:
			default:
			}
		}
	case "left":
		m.sendSeek(m.position - seekStep)
	case "right":
		m.sendSeek(m.position + seekStep)
	}
	return m, nil
}

func (m Model) sendSeek(pos float64) {
	if pos < 0 {
		pos = 0
	}
	if pos > 1 {
		pos = 1
	}
	if m.transport != nil {
		select {
		case m.transport.Seeks <- pos:
		default:
		}
	}
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderTransport()
	s += m.renderDacs()
	s += m.renderHelp()

	return s
}

// renderHeader renders the file line
func (m Model) renderHeader() string {
	file := m.fileName
	if file == "" {
		file = "(no file)"
	}
	return fmt.Sprintf(`┌─ ILDAPlay ───────────────────────────────────────────┐
│ File:  %-46s │
│ Rate:  %-46s │
├──────────────────────────────────────────────────────┤
`, file, fmt.Sprintf("%d pps, %s", m.pointRate, m.duration.Round(time.Second)))
}

// renderTransport renders the play state and position bar
func (m Model) renderTransport() string {
	state := "paused"
	if m.playing {
		state = "playing"
	}

	const barWidth = 40
	filled := int(m.position * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	bar := ""
	for i := 0; i < barWidth; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}

	elapsed := time.Duration(m.position * float64(m.duration)).Round(time.Second)

	return fmt.Sprintf(`│ %-7s %s %6s │
`, state, bar, elapsed)
}

// renderDacs renders the discovered DAC table and link status
func (m Model) renderDacs() string {
	s := "├──────────────────────────────────────────────────────┤\n"

	if len(m.dacs) == 0 {
		s += "│ No DACs on the network                               │\n"
	} else {
		ids := make([]string, 0, len(m.dacs))
		for id := range m.dacs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			d := m.dacs[id]
			s += fmt.Sprintf("│ DAC %s  %-15s hw %-2d sw %-2d buf %-6d │\n",
				d.ID, d.IPAddr, d.HardwareRev, d.SoftwareRev, d.BufferCapacity)
		}
	}

	if m.dacState != "" {
		s += fmt.Sprintf("│ Link: %-8s fullness %-6d dropped %-12d │\n",
			m.dacState, m.fullness, m.dropped)
	}

	return s
}

// renderHelp renders the key binding line
func (m Model) renderHelp() string {
	return `├──────────────────────────────────────────────────────┤
│ space: play/pause   ←/→: seek   q: quit              │
└──────────────────────────────────────────────────────┘
`
}
