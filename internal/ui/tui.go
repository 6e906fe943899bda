// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program for the player UI
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Transport holds channels for transport control communication
type Transport struct {
	Toggles chan struct{}
	Seeks   chan float64
	Quit    chan struct{}
}

// NewTransport creates a new transport control handler
func NewTransport() *Transport {
	return &Transport{
		Toggles: make(chan struct{}, 10),
		Seeks:   make(chan float64, 10),
		Quit:    make(chan struct{}, 1),
	}
}

// NewModel creates a new TUI model
func NewModel(transport *Transport) Model {
	return Model{
		transport: transport,
	}
}

// Run starts the TUI
func Run(transport *Transport) (*tea.Program, error) {
	p := tea.NewProgram(NewModel(transport), tea.WithAltScreen())
	return p, nil
}
