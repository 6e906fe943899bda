// ABOUTME: Passive UDP listener for Ether Dream broadcast packets
// ABOUTME: Maintains the live DAC directory with a three second TTL
package discovery

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/OpenILDA/ildaplay-go/pkg/protocol"
	"golang.org/x/sys/unix"
)

const (
	// DefaultTTL is how long a DAC stays listed after its last packet
	DefaultTTL = 3 * time.Second

	// defaultReadTimeout bounds each receive so eviction keeps running
	// while the network is quiet
	defaultReadTimeout = 1200 * time.Millisecond
)

// DAC is one device observed broadcasting on the LAN. Immutable once
// constructed; consumers receive snapshot maps.
type DAC struct {
	ID             string
	IPAddr         net.IP
	HardwareRev    uint16
	SoftwareRev    uint16
	BufferCapacity uint16
	MaxPointRate   uint32
	LastStatus     protocol.DacStatus
}

// StreamAddr returns the TCP endpoint for the point stream
func (d DAC) StreamAddr() string {
	return net.JoinHostPort(d.IPAddr.String(), strconv.Itoa(protocol.StreamPort))
}

// Callback receives an immutable snapshot of the directory whenever a
// DAC appears or expires
type Callback func(map[string]DAC)

// Config holds listener configuration
type Config struct {
	// Port to bind; defaults to protocol.BroadcastPort
	Port int

	// TTL before an unseen DAC is evicted; defaults to DefaultTTL
	TTL time.Duration

	// ReadTimeout per receive; defaults to 1200 ms
	ReadTimeout time.Duration
}

type entry struct {
	dac  DAC
	seen time.Time
}

// Listener owns the broadcast socket and the DAC directory. The socket
// is bound on the first Subscribe and the receive loop runs for the
// rest of the process lifetime.
type Listener struct {
	config Config

	mu          sync.Mutex
	conn        net.PacketConn
	subscribers []Callback
	dacs        map[string]entry
}

// NewListener creates a listener; the socket is not bound yet
func NewListener(config Config) *Listener {
	if config.Port == 0 {
		config.Port = protocol.BroadcastPort
	}
	if config.TTL == 0 {
		config.TTL = DefaultTTL
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaultReadTimeout
	}

	return &Listener{
		config: config,
		dacs:   make(map[string]entry),
	}
}

// Subscribe registers a callback for directory changes. The first
// subscription binds the socket and starts the receive loop; a bind
// failure is returned to that first caller.
func (l *Listener) Subscribe(cb Callback) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		lc := net.ListenConfig{Control: reuseAddr}
		conn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", l.config.Port))
		if err != nil {
			return fmt.Errorf("bind broadcast port %d: %w", l.config.Port, err)
		}
		l.conn = conn
		log.Printf("listening for dac broadcasts on %s", conn.LocalAddr())
		go l.run(conn)
	}

	l.subscribers = append(l.subscribers, cb)
	return nil
}

// Addr returns the bound socket address, or nil before the first
// subscription
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// run receives announce packets and keeps the directory current
func (l *Listener) run(conn net.PacketConn) {
	buf := make([]byte, 256)

	for {
		conn.SetReadDeadline(time.Now().Add(l.config.ReadTimeout))
		n, src, err := conn.ReadFrom(buf)

		changed := false
		if err != nil {
			if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
				log.Printf("broadcast socket error: %v", err)
				return
			}
		} else if n == protocol.BroadcastPacketSize {
			if added, ok := l.record(buf[:n], src); ok && added {
				changed = true
			}
		}

		if l.evict() {
			changed = true
		}
		if changed {
			l.notify()
		}
	}
}

// record parses one packet and stores the DAC. Returns whether the id
// was new and whether the packet parsed at all.
func (l *Listener) record(pkt []byte, src net.Addr) (added, ok bool) {
	parsed, err := protocol.DecodeBroadcast(pkt)
	if err != nil {
		return false, false
	}

	var ip net.IP
	if udp, isUDP := src.(*net.UDPAddr); isUDP {
		ip = udp.IP
	}

	dac := DAC{
		ID:             parsed.ID(),
		IPAddr:         ip,
		HardwareRev:    parsed.HardwareRev,
		SoftwareRev:    parsed.SoftwareRev,
		BufferCapacity: parsed.BufferCapacity,
		MaxPointRate:   parsed.MaxPointRate,
		LastStatus:     parsed.Status,
	}

	l.mu.Lock()
	_, existed := l.dacs[dac.ID]
	l.dacs[dac.ID] = entry{dac: dac, seen: time.Now()}
	l.mu.Unlock()

	if !existed {
		log.Printf("dac %s appeared at %s (hw %d, sw %d, buffer %d)",
			dac.ID, ip, dac.HardwareRev, dac.SoftwareRev, dac.BufferCapacity)
	}

	return !existed, true
}

// evict drops entries unseen for longer than the TTL
func (l *Listener) evict() bool {
	cutoff := time.Now().Add(-l.config.TTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := false
	for id, e := range l.dacs {
		if e.seen.Before(cutoff) {
			delete(l.dacs, id)
			evicted = true
			log.Printf("dac %s expired", id)
		}
	}
	return evicted
}

// notify hands every subscriber its own snapshot copy
func (l *Listener) notify() {
	l.mu.Lock()
	snapshot := make(map[string]DAC, len(l.dacs))
	for id, e := range l.dacs {
		snapshot[id] = e.dac
	}
	subs := make([]Callback, len(l.subscribers))
	copy(subs, l.subscribers)
	l.mu.Unlock()

	for _, cb := range subs {
		cb(snapshot)
	}
}

// reuseAddr lets the broadcast socket share the well-known port with
// other listeners on the host
func reuseAddr(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
