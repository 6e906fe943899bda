// ABOUTME: In-process fake Ether Dream DAC for protocol tests
// ABOUTME: Accepts stream connections, records commands, acks with scripted status
package protocol

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"
)

// fakeDAC is a scriptable stand-in for the device side of the stream
// channel. It records every command and answers with its current status.
type fakeDAC struct {
	t  *testing.T
	ln net.Listener

	// behavior knobs, set before dialing
	staticFullness     bool // fullness does not grow on data
	silentData         bool // data commands are swallowed without a response
	dropFirstConnAfter int  // close the first connection after N data acks

	mu         sync.Mutex
	status     DacStatus
	commands   []byte
	beginRates []uint32
	queueRates []uint32
	dataCounts []int
	dataFirst  [][]byte
	accepts    int
}

func startFakeDAC(t *testing.T, status DacStatus) *fakeDAC {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	f := &fakeDAC{t: t, ln: ln, status: status}
	go f.acceptLoop()
	t.Cleanup(func() { ln.Close() })

	return f
}

func (f *fakeDAC) addr() string {
	return f.ln.Addr().String()
}

func (f *fakeDAC) acceptLoop() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.accepts++
		n := f.accepts
		f.mu.Unlock()
		go f.serve(conn, n)
	}
}

func (f *fakeDAC) respond(conn net.Conn, cmd byte) error {
	f.mu.Lock()
	resp := DacResponse{Response: RespAck, Command: cmd, Status: f.status}
	f.mu.Unlock()
	_, err := conn.Write(resp.Encode())
	return err
}

func (f *fakeDAC) serve(conn net.Conn, connNum int) {
	defer conn.Close()

	// a reconnecting client sees the device reset to idle
	if connNum > 1 {
		f.mu.Lock()
		f.status.PlaybackState = StateIdle
		f.status.BufferFullness = 0
		f.mu.Unlock()
	}

	// unsolicited greeting on accept
	if err := f.respond(conn, '?'); err != nil {
		return
	}

	r := bufio.NewReader(conn)
	dataAcks := 0

	for {
		cmd, err := r.ReadByte()
		if err != nil {
			return
		}

		f.mu.Lock()
		f.commands = append(f.commands, cmd)
		f.mu.Unlock()

		switch cmd {
		case CmdVersion:
			version := make([]byte, VersionResponseSize)
			copy(version, "test-dac v9")
			if _, err := conn.Write(version); err != nil {
				return
			}
			continue

		case CmdPrepare:
			f.mu.Lock()
			f.status.PlaybackState = StatePrepared
			f.mu.Unlock()

		case CmdBegin:
			rest := make([]byte, 6)
			if _, err := io.ReadFull(r, rest); err != nil {
				return
			}
			f.mu.Lock()
			f.status.PlaybackState = StatePlaying
			f.beginRates = append(f.beginRates, binary.LittleEndian.Uint32(rest[2:6]))
			f.mu.Unlock()

		case CmdQueue:
			rest := make([]byte, 4)
			if _, err := io.ReadFull(r, rest); err != nil {
				return
			}
			f.mu.Lock()
			f.queueRates = append(f.queueRates, binary.LittleEndian.Uint32(rest))
			f.mu.Unlock()

		case CmdData:
			hdr := make([]byte, 2)
			if _, err := io.ReadFull(r, hdr); err != nil {
				return
			}
			n := int(binary.LittleEndian.Uint16(hdr))
			payload := make([]byte, n*PointSize)
			if _, err := io.ReadFull(r, payload); err != nil {
				return
			}

			f.mu.Lock()
			f.dataCounts = append(f.dataCounts, n)
			first := make([]byte, PointSize)
			copy(first, payload)
			f.dataFirst = append(f.dataFirst, first)
			if !f.staticFullness {
				f.status.BufferFullness += uint16(n)
			}
			silent := f.silentData
			drop := f.dropFirstConnAfter
			f.mu.Unlock()

			if silent {
				continue
			}
			if err := f.respond(conn, cmd); err != nil {
				return
			}
			dataAcks++
			if connNum == 1 && drop > 0 && dataAcks >= drop {
				return
			}
			continue

		default:
			return
		}

		if err := f.respond(conn, cmd); err != nil {
			return
		}
	}
}

func (f *fakeDAC) commandString() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return string(f.commands)
}

func (f *fakeDAC) snapshot() (begins, queues []uint32, counts []int, first [][]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	begins = append(begins, f.beginRates...)
	queues = append(queues, f.queueRates...)
	counts = append(counts, f.dataCounts...)
	for _, p := range f.dataFirst {
		c := make([]byte, len(p))
		copy(c, p)
		first = append(first, c)
	}
	return
}

func (f *fakeDAC) acceptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepts
}

// waitFor polls a condition until it holds or the deadline passes
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// testBlock builds a point block with recognizable coordinates
func testBlock(n, rate int) *PointBlock {
	b := NewPointBlock(n, rate)
	for i := 0; i < n; i++ {
		b.SetPoint(i, i, -i, 1000, 2000, 3000)
	}
	return b
}
