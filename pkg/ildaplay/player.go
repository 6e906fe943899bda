// ABOUTME: High-level Player API for streaming ILDA-WAV to an Ether Dream
// ABOUTME: Wires the WAV reader, playback engine, audio sink and DAC session
package ildaplay

import (
	"fmt"
	"time"

	"github.com/OpenILDA/ildaplay-go/pkg/audio/output"
	"github.com/OpenILDA/ildaplay-go/pkg/playback"
	"github.com/OpenILDA/ildaplay-go/pkg/protocol"
	"github.com/OpenILDA/ildaplay-go/pkg/wav"
)

// Config holds player configuration
type Config struct {
	// WavPath is the 8-channel ILDA-WAV file to play
	WavPath string

	// DacAddr is the DAC stream endpoint (host:port)
	DacAddr string

	// DacSoftwareRev gates the firmware version exchange
	DacSoftwareRev uint16

	// Output overrides the audio sink (default: oto)
	Output output.Output

	// OnDisplay is called with a preview frame per decoded block
	OnDisplay playback.DisplayFunc
}

// Player streams one ILDA-WAV file to one DAC while playing its audio
// track locally. The audio sink paces everything; the DAC session keeps
// itself fed and reconnects on its own.
type Player struct {
	reader  *wav.Reader
	engine  *playback.Engine
	session *protocol.Session
	sink    output.Output
}

// NewPlayer opens the file, connects to the DAC and starts the engine
// paused at the beginning of the stream.
func NewPlayer(config Config) (*Player, error) {
	reader, err := wav.Open(config.WavPath)
	if err != nil {
		return nil, err
	}

	session, err := protocol.NewSession(config.DacAddr, config.DacSoftwareRev)
	if err != nil {
		reader.Close()
		return nil, fmt.Errorf("dac session: %w", err)
	}

	sink := config.Output
	if sink == nil {
		sink = output.NewOto()
	}

	display := config.OnDisplay
	if display == nil {
		display = func(float64, playback.DisplayFrame, bool) {}
	}

	points := func(b *protocol.PointBlock) {
		if err := session.WaitForReady(); err != nil {
			return
		}
		session.AddFrame(b)
	}

	engine, err := playback.NewEngine(reader, sink, display, points)
	if err != nil {
		session.Shutdown()
		reader.Close()
		return nil, err
	}

	return &Player{
		reader:  reader,
		engine:  engine,
		session: session,
		sink:    sink,
	}, nil
}

// Play starts or resumes playback
func (p *Player) Play() {
	p.engine.RequestPlayback(true)
}

// Pause suspends playback; the stream position is kept
func (p *Player) Pause() {
	p.engine.RequestPlayback(false)
}

// Playing reports whether playback is currently requested
func (p *Player) Playing() bool {
	return p.engine.PlaybackRequested()
}

// Seek repositions the stream to a fraction in [0, 1]
func (p *Player) Seek(position float64) {
	p.engine.Seek(position)
}

// Duration returns the length of the stream
func (p *Player) Duration() time.Duration {
	rate := p.reader.SampleRate()
	if rate == 0 {
		return 0
	}
	return time.Duration(p.reader.LengthFrames()) * time.Second / time.Duration(rate)
}

// PointRate returns the point rate the file plays at
func (p *Player) PointRate() int {
	return p.reader.SampleRate()
}

// DacStatus reports the latest status from the DAC link
func (p *Player) DacStatus() protocol.DacStatus {
	return p.session.Status()
}

// Close tears everything down in dependency order
func (p *Player) Close() {
	p.engine.Shutdown()
	p.session.Shutdown()
	p.sink.Close()
	p.reader.Close()
}
