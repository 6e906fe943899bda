// ABOUTME: Single TCP streaming session against one Ether Dream DAC
// ABOUTME: Handshake, response reader, rate-matched sender with fullness model
package protocol

import (
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"
)

const (
	// ConnectTimeout bounds the TCP dial
	ConnectTimeout = 1 * time.Second

	// CommTimeout bounds every individual socket read and write
	CommTimeout = 500 * time.Millisecond

	// MinPointsPerSend is the smallest data command worth the overhead
	MinPointsPerSend = 40

	// MaxPointsPerSend keeps a data command inside one Ethernet MTU
	MaxPointsPerSend = 80

	// TargetFullness is the DAC buffer level the sender aims for,
	// about 75 ms of headroom at 48 kpps
	TargetFullness = 3600

	// StartThreshold is the fullness at which playback is begun
	StartThreshold = 3000

	// maxQueuedFrames bounds the pending frame queue; producers beyond
	// it are dropped rather than blocked
	maxQueuedFrames = 3
)

// Conn is one TCP session with a DAC. It owns a reader goroutine that
// consumes the per-command responses and keeps the local status model
// current; RunSender drives the outgoing point stream until the session
// dies. A dead Conn is discarded, never reused.
type Conn struct {
	addr     string
	tcp      net.Conn
	firmware string

	mu         sync.Mutex
	wake       chan struct{}
	readerDone chan struct{}

	status   DacStatus
	statusAt time.Time

	// unacked holds the point count of every data command still
	// awaiting its response, oldest first
	unacked []int

	frames          []*PointBlock
	cursor          int
	pendingMetaAcks int
	beginSent       bool
	lastRate        int
	shuttingDown    bool
	dead            error
}

// Dial connects to a DAC stream endpoint, reads the unsolicited initial
// status and exchanges firmware versions with revision 2+ devices.
func Dial(addr string, softwareRev uint16) (*Conn, error) {
	tcp, err := net.DialTimeout("tcp", addr, ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := &Conn{
		addr:       addr,
		tcp:        tcp,
		wake:       make(chan struct{}, 1),
		readerDone: make(chan struct{}),
	}

	// The DAC volunteers one status response immediately on accept
	resp, err := c.readResponse()
	if err != nil {
		tcp.Close()
		return nil, fmt.Errorf("initial status: %w", err)
	}
	c.status = resp.Status
	c.statusAt = time.Now()

	// Nagle is disabled only after the greeting has been read
	if t, ok := tcp.(*net.TCPConn); ok {
		t.SetNoDelay(true)
	}

	if softwareRev >= 2 {
		if err := c.write([]byte{CmdVersion}); err != nil {
			tcp.Close()
			return nil, err
		}
		buf := make([]byte, VersionResponseSize)
		c.tcp.SetReadDeadline(time.Now().Add(CommTimeout))
		if _, err := io.ReadFull(c.tcp, buf); err != nil {
			tcp.Close()
			return nil, fmt.Errorf("version reply: %w", err)
		}
		c.firmware = ParseFirmwareVersion(buf)
	} else {
		c.firmware = "[old]"
	}

	log.Printf("connected to dac %s, firmware %q", addr, c.firmware)

	go c.readLoop()

	return c, nil
}

// Firmware returns the firmware version string read at handshake
func (c *Conn) Firmware() string {
	return c.firmware
}

// Status returns the most recent status reported by the DAC
func (c *Conn) Status() DacStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// AddFrame queues a point block for sending. When more than two frames
// are already pending the new one is dropped; the producer is paced by
// its audio sink, not by the network.
func (c *Conn) AddFrame(b *PointBlock) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shuttingDown || c.dead != nil {
		return
	}
	if len(c.frames) >= maxQueuedFrames {
		log.Printf("frame queue full, dropping %d-point frame", b.Len())
		return
	}

	c.frames = append(c.frames, b)
	c.signal()
}

// Ready reports whether the connection wants more frames. A dead or
// closing connection reads as ready so producers never stall on it;
// their frames are dropped at AddFrame instead.
func (c *Conn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shuttingDown || c.dead != nil {
		return true
	}
	return len(c.frames) <= 1
}

// Shutdown asks the sender to exit at its next wait boundary
func (c *Conn) Shutdown() {
	c.mu.Lock()
	c.shuttingDown = true
	c.signal()
	c.mu.Unlock()
}

// signal wakes the sender without blocking; callers hold the lock
func (c *Conn) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// waitLocked releases the lock until a signal arrives or d elapses.
// d <= 0 waits indefinitely. The lock is held again on return.
func (c *Conn) waitLocked(d time.Duration) {
	c.mu.Unlock()
	if d > 0 {
		t := time.NewTimer(d)
		select {
		case <-c.wake:
			t.Stop()
		case <-t.C:
		}
	} else {
		<-c.wake
	}
	c.mu.Lock()
}

func (c *Conn) write(buf []byte) error {
	c.tcp.SetWriteDeadline(time.Now().Add(CommTimeout))
	if _, err := c.tcp.Write(buf); err != nil {
		return fmt.Errorf("write to %s: %w", c.addr, err)
	}
	return nil
}

func (c *Conn) readResponse() (DacResponse, error) {
	buf := make([]byte, ResponseSize)
	c.tcp.SetReadDeadline(time.Now().Add(CommTimeout))
	if _, err := io.ReadFull(c.tcp, buf); err != nil {
		return DacResponse{}, err
	}
	return DecodeResponse(buf)
}

// fail records the first fatal error and wakes the sender
func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.dead == nil {
		c.dead = err
	}
	c.signal()
	c.mu.Unlock()
}

// readLoop consumes one 22-byte response per outstanding command.
// Responses arrive in command order; data echoes retire entries from
// the unacked queue, everything else retires a pending meta ack.
func (c *Conn) readLoop() {
	defer close(c.readerDone)

	buf := make([]byte, ResponseSize)
	for {
		c.mu.Lock()
		if c.shuttingDown || c.dead != nil {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		c.tcp.SetReadDeadline(time.Now().Add(CommTimeout))
		if _, err := io.ReadFull(c.tcp, buf); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				c.mu.Lock()
				idle := len(c.frames) == 0
				c.mu.Unlock()
				if idle {
					// nothing in flight, the DAC has nothing to say
					continue
				}
				c.fail(fmt.Errorf("response timeout with frames queued"))
				return
			}
			c.fail(fmt.Errorf("read from %s: %w", c.addr, err))
			return
		}

		resp, err := DecodeResponse(buf)
		if err != nil {
			c.fail(err)
			return
		}

		c.mu.Lock()
		c.status = resp.Status
		c.statusAt = time.Now()

		if resp.Status.PlaybackState == StateIdle {
			c.beginSent = false
		}

		if resp.Command == CmdData {
			if len(c.unacked) == 0 {
				c.mu.Unlock()
				c.fail(fmt.Errorf("data ack with no data command outstanding"))
				return
			}
			c.unacked = c.unacked[1:]
		} else {
			if c.pendingMetaAcks == 0 {
				c.mu.Unlock()
				c.fail(fmt.Errorf("unexpected ack for command %q", resp.Command))
				return
			}
			c.pendingMetaAcks--
		}

		if !resp.Ok() {
			c.mu.Unlock()
			c.fail(fmt.Errorf("dac rejected command %q: response %q", resp.Command, resp.Response))
			return
		}

		c.signal()
		c.mu.Unlock()
	}
}

// RunSender streams queued frames until the connection becomes
// unusable or Shutdown is called. It blocks; the caller discards the
// Conn once it returns.
func (c *Conn) RunSender() error {
	defer c.teardown()

	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		for len(c.frames) == 0 && !c.shuttingDown && c.dead == nil {
			c.waitLocked(0)
		}
		if c.shuttingDown {
			return nil
		}
		if c.dead != nil {
			return c.dead
		}

		frame := c.frames[0]
		if c.cursor >= frame.Len() {
			c.frames = c.frames[1:]
			c.cursor = 0
			continue
		}
		rate := frame.Rate()

		// Begin playback once the DAC side has buffered enough
		if !c.beginSent && c.status.BufferFullness >= StartThreshold {
			c.pendingMetaAcks++
			c.beginSent = true
			begin := EncodeBegin(uint32(rate))
			c.mu.Unlock()
			err := c.write(begin)
			c.mu.Lock()
			if err != nil {
				return err
			}
		}

		// Model the remote buffer: last reported fullness, plus points
		// in flight, minus what the DAC has consumed since that report
		expectedUsed := 0
		if c.status.PlaybackState == StatePlaying {
			expectedUsed = int(time.Since(c.statusAt).Seconds() * float64(rate))
		}
		expectedFullness := int(c.status.BufferFullness) - expectedUsed
		for _, n := range c.unacked {
			expectedFullness += n
		}

		capacity := TargetFullness - expectedFullness
		if capacity < MinPointsPerSend {
			pause := time.Duration((MaxPointsPerSend - capacity)) * time.Second / time.Duration(rate)
			c.waitLocked(pause)
			continue
		}

		if c.status.PlaybackState == StateIdle {
			c.pendingMetaAcks++
			c.mu.Unlock()
			err := c.write([]byte{CmdPrepare})
			c.mu.Lock()
			if err != nil {
				return err
			}
			deadline := time.Now().Add(CommTimeout)
			for c.pendingMetaAcks > 0 && c.dead == nil && !c.shuttingDown {
				remain := time.Until(deadline)
				if remain <= 0 {
					return fmt.Errorf("prepare ack timeout")
				}
				c.waitLocked(remain)
			}
			continue
		}

		n := frame.Len() - c.cursor
		if n > capacity {
			n = capacity
		}
		if n > MaxPointsPerSend {
			n = MaxPointsPerSend
		}

		payload := frame.Slice(c.cursor, n)
		c.cursor += n
		if c.cursor >= frame.Len() {
			c.frames = c.frames[1:]
			c.cursor = 0
		}

		var queue []byte
		if rate != c.lastRate {
			queue = EncodeQueue(uint32(rate))
			c.pendingMetaAcks++
			c.lastRate = rate
		}

		c.unacked = append(c.unacked, n)

		msg := make([]byte, 0, len(queue)+3+len(payload))
		msg = append(msg, queue...)
		msg = append(msg, EncodeDataHeader(n)...)
		if queue != nil {
			// the queued rate takes effect on the next point sent
			markRateChange(payload)
		}
		msg = append(msg, payload...)

		c.mu.Unlock()
		err := c.write(msg)
		c.mu.Lock()
		if err != nil {
			return err
		}
	}
}

// teardown stops the reader and closes the socket
func (c *Conn) teardown() {
	c.mu.Lock()
	c.shuttingDown = true
	c.signal()
	c.mu.Unlock()

	c.tcp.Close()
	<-c.readerDone
}
