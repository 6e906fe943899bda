// ABOUTME: Tests for the high-level player facade
// ABOUTME: End-to-end wiring against a minimal fake DAC and recorded sink
package ildaplay

import (
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/OpenILDA/ildaplay-go/pkg/playback"
	"github.com/OpenILDA/ildaplay-go/pkg/protocol"
	"github.com/OpenILDA/ildaplay-go/pkg/wav"
	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"
)

func writePlayerWav(t *testing.T, frames int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "player.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	enc := gowav.NewEncoder(f, 48000, 16, wav.RequiredChannels, 1)
	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: wav.RequiredChannels,
			SampleRate:  48000,
		},
		Data:           make([]int, frames*wav.RequiredChannels),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		buf.Data[i] = i % 1000
	}

	if err := enc.Write(buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encoder: %v", err)
	}
	f.Close()

	return path
}

// ackDAC is a minimal device: it greets, then acks every command with
// its running status and counts the points received.
type ackDAC struct {
	ln net.Listener

	mu     sync.Mutex
	status protocol.DacStatus
	points int
}

func startAckDAC(t *testing.T) *ackDAC {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	d := &ackDAC{ln: ln, status: protocol.DacStatus{PlaybackState: protocol.StateIdle}}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go d.serve(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })

	return d
}

func (d *ackDAC) addr() string {
	return d.ln.Addr().String()
}

func (d *ackDAC) pointCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.points
}

func (d *ackDAC) ack(conn net.Conn, cmd byte) error {
	d.mu.Lock()
	resp := protocol.DacResponse{Response: protocol.RespAck, Command: cmd, Status: d.status}
	d.mu.Unlock()
	_, err := conn.Write(resp.Encode())
	return err
}

func (d *ackDAC) serve(conn net.Conn) {
	defer conn.Close()

	if err := d.ack(conn, '?'); err != nil {
		return
	}

	for {
		var cmd [1]byte
		if _, err := io.ReadFull(conn, cmd[:]); err != nil {
			return
		}

		switch cmd[0] {
		case protocol.CmdVersion:
			version := make([]byte, protocol.VersionResponseSize)
			copy(version, "ack-dac")
			if _, err := conn.Write(version); err != nil {
				return
			}
			continue
		case protocol.CmdPrepare:
			d.mu.Lock()
			d.status.PlaybackState = protocol.StatePrepared
			d.mu.Unlock()
		case protocol.CmdBegin:
			if _, err := io.CopyN(io.Discard, conn, 6); err != nil {
				return
			}
			d.mu.Lock()
			d.status.PlaybackState = protocol.StatePlaying
			d.mu.Unlock()
		case protocol.CmdQueue:
			if _, err := io.CopyN(io.Discard, conn, 4); err != nil {
				return
			}
		case protocol.CmdData:
			var hdr [2]byte
			if _, err := io.ReadFull(conn, hdr[:]); err != nil {
				return
			}
			n := int(binary.LittleEndian.Uint16(hdr[:]))
			if _, err := io.CopyN(io.Discard, conn, int64(n*protocol.PointSize)); err != nil {
				return
			}
			d.mu.Lock()
			d.points += n
			d.status.BufferFullness += uint16(n)
			d.mu.Unlock()
		default:
			return
		}

		if err := d.ack(conn, cmd[0]); err != nil {
			return
		}
	}
}

// nullSink accepts and discards PCM without blocking
type nullSink struct{}

func (nullSink) Open(sampleRate, channels, bytesPerSample int) error { return nil }
func (nullSink) Write(pcm []byte) error                              { return nil }
func (nullSink) Close() error                                        { return nil }

func TestNewPlayerRejectsMissingFile(t *testing.T) {
	_, err := NewPlayer(Config{
		WavPath: "/nonexistent/file.wav",
		DacAddr: "127.0.0.1:1",
	})
	if err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNewPlayerRejectsUnreachableDAC(t *testing.T) {
	path := writePlayerWav(t, 10)

	_, err := NewPlayer(Config{
		WavPath: path,
		DacAddr: "127.0.0.1:1",
	})
	if err == nil {
		t.Error("expected error for unreachable DAC")
	}
}

func TestPlayerStreamsToDAC(t *testing.T) {
	dac := startAckDAC(t)
	path := writePlayerWav(t, 4800)

	displays := make(chan float64, 1000)
	player, err := NewPlayer(Config{
		WavPath:        path,
		DacAddr:        dac.addr(),
		DacSoftwareRev: 2,
		Output:         nullSink{},
		OnDisplay: func(position float64, frame playback.DisplayFrame, seeked bool) {
			select {
			case displays <- position:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("new player: %v", err)
	}
	defer player.Close()

	if player.PointRate() != 48000 {
		t.Errorf("point rate %d, want 48000", player.PointRate())
	}
	if player.Duration() != 100*time.Millisecond {
		t.Errorf("duration %s, want 100ms", player.Duration())
	}

	player.Play()
	if !player.Playing() {
		t.Error("player not playing after Play")
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && dac.pointCount() == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if dac.pointCount() == 0 {
		t.Fatal("no points reached the DAC")
	}

	select {
	case <-displays:
	case <-time.After(2 * time.Second):
		t.Error("no display callback")
	}

	player.Pause()
	if player.Playing() {
		t.Error("player still playing after Pause")
	}
}
