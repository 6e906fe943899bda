// ABOUTME: Entry point for the ILDAPlay Ether Dream player
// ABOUTME: Parses CLI flags, wires discovery, player and TUI
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/OpenILDA/ildaplay-go/internal/ui"
	"github.com/OpenILDA/ildaplay-go/internal/version"
	"github.com/OpenILDA/ildaplay-go/pkg/discovery"
	"github.com/OpenILDA/ildaplay-go/pkg/ildaplay"
	"github.com/OpenILDA/ildaplay-go/pkg/playback"
	tea "github.com/charmbracelet/bubbletea"
)

var (
	wavPath     = flag.String("wav", "", "8-channel ILDA-WAV file to play (required)")
	dacAddr     = flag.String("dac", "", "Manual DAC stream address host:port (skip discovery)")
	logFile     = flag.String("log-file", "ildaplay.log", "Log file path")
	noTUI       = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	autoplay    = flag.Bool("autoplay", false, "Start playing immediately")
	discoverFor = flag.Duration("discover-timeout", 10*time.Second, "How long to wait for a DAC broadcast")
)

func main() {
	flag.Parse()

	if *wavPath == "" {
		fmt.Fprintln(os.Stderr, "usage: ildaplay -wav <file.wav> [-dac host:port]")
		os.Exit(2)
	}

	useTUI := !*noTUI

	// Set up logging
	f, err := os.OpenFile(*logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		multiWriter := io.MultiWriter(os.Stdout, f)
		log.SetOutput(multiWriter)
	}

	log.Printf("%s %s starting", version.Product, version.Version)

	// TUI setup
	var tuiProg *tea.Program
	var transport *ui.Transport

	if useTUI {
		transport = ui.NewTransport()
		tuiProg, err = ui.Run(transport)
		if err != nil {
			log.Fatalf("Failed to start TUI: %v", err)
		}
		go tuiProg.Run()
	}

	updateTUI := func(msg ui.StatusMsg) {
		if tuiProg != nil {
			tuiProg.Send(msg)
		}
	}

	// Find a DAC: manual address or first broadcast heard
	address := *dacAddr
	var softwareRev uint16 = 2
	if address == "" {
		listener := discovery.NewListener(discovery.Config{})
		found := make(chan discovery.DAC, 1)
		err := listener.Subscribe(func(dacs map[string]discovery.DAC) {
			updateTUI(ui.StatusMsg{Dacs: dacs})
			for _, d := range dacs {
				select {
				case found <- d:
				default:
				}
				return
			}
		})
		if err != nil {
			log.Fatalf("Discovery failed: %v", err)
		}

		log.Printf("Waiting for a DAC broadcast...")
		select {
		case dac := <-found:
			address = dac.StreamAddr()
			softwareRev = dac.SoftwareRev
			log.Printf("Using DAC %s at %s", dac.ID, address)
		case <-time.After(*discoverFor):
			log.Fatalf("No DAC found after %s", *discoverFor)
		}
	}

	// Create the player with a display callback feeding the TUI
	player, err := ildaplay.NewPlayer(ildaplay.Config{
		WavPath:        *wavPath,
		DacAddr:        address,
		DacSoftwareRev: softwareRev,
		OnDisplay: func(position float64, frame playback.DisplayFrame, seeked bool) {
			updateTUI(ui.StatusMsg{Position: &position})
		},
	})
	if err != nil {
		log.Fatalf("Failed to open player: %v", err)
	}

	updateTUI(ui.StatusMsg{
		FileName:  filepath.Base(*wavPath),
		Duration:  player.Duration(),
		PointRate: player.PointRate(),
	})

	if *autoplay {
		player.Play()
	}

	// Transport keys from the TUI
	if transport != nil {
		go handleTransport(player, transport, updateTUI)
	}

	// Periodic DAC link status for the TUI
	if tuiProg != nil {
		go dacStatusLoop(player, updateTUI)
	}

	// Handle shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if transport != nil {
		select {
		case <-transport.Quit:
			log.Printf("Received quit signal from TUI")
		case <-sigChan:
			log.Printf("Shutdown signal received")
		}
	} else {
		<-sigChan
		log.Printf("Shutdown signal received")
	}

	player.Close()
	log.Printf("Player stopped")
}

// handleTransport processes play/pause/seek requests from the TUI
func handleTransport(player *ildaplay.Player, transport *ui.Transport, updateTUI func(ui.StatusMsg)) {
	for {
		select {
		case <-transport.Toggles:
			playing := !player.Playing()
			if playing {
				player.Play()
			} else {
				player.Pause()
			}
			updateTUI(ui.StatusMsg{Playing: &playing})
		case pos := <-transport.Seeks:
			player.Seek(pos)
		case <-transport.Quit:
			return
		}
	}
}

// dacStatusLoop periodically pushes the DAC link status into the TUI
func dacStatusLoop(player *ildaplay.Player, updateTUI func(ui.StatusMsg)) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		status := player.DacStatus()
		fullness := int(status.BufferFullness)
		updateTUI(ui.StatusMsg{
			DacState: status.PlaybackState.String(),
			Fullness: &fullness,
		})
	}
}
