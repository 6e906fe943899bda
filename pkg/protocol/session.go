// ABOUTME: Supervisor for the logical DAC link
// ABOUTME: Owns the current Conn and reconnects indefinitely on failure
package protocol

import (
	"errors"
	"log"
	"sync"
	"time"
)

// ErrShutdown is returned by Session calls after Shutdown
var ErrShutdown = errors.New("session shut down")

// readyPollInterval paces WaitForReady checks against the current Conn
const readyPollInterval = 5 * time.Millisecond

// Session is the long-lived link to one DAC. It owns exactly one Conn
// at a time; when a Conn dies the session dials a replacement until one
// sticks. Frames submitted while disconnected are dropped, the producer
// keeps its own pacing.
type Session struct {
	addr        string
	softwareRev uint16

	mu       sync.Mutex
	conn     *Conn
	shutdown bool
	done     chan struct{}
}

// NewSession dials the DAC and starts the supervisor goroutine. The
// first connection must succeed; after that, failures reconnect forever.
func NewSession(addr string, softwareRev uint16) (*Session, error) {
	conn, err := Dial(addr, softwareRev)
	if err != nil {
		return nil, err
	}

	s := &Session{
		addr:        addr,
		softwareRev: softwareRev,
		conn:        conn,
		done:        make(chan struct{}),
	}

	go s.run()

	return s, nil
}

// run drives the current connection and replaces it when it dies
func (s *Session) run() {
	defer close(s.done)

	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		if err := conn.RunSender(); err != nil {
			log.Printf("dac connection lost: %v", err)
		}

		s.mu.Lock()
		if s.shutdown {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		for {
			time.Sleep(CommTimeout)

			s.mu.Lock()
			if s.shutdown {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()

			next, err := Dial(s.addr, s.softwareRev)
			if err != nil {
				log.Printf("reconnect to %s failed: %v", s.addr, err)
				continue
			}

			s.mu.Lock()
			if s.shutdown {
				s.mu.Unlock()
				next.Shutdown()
				next.teardown()
				return
			}
			s.conn = next
			s.mu.Unlock()

			log.Printf("reconnected to %s", s.addr)
			break
		}
	}
}

// current returns the live Conn, or nil once shut down
func (s *Session) current() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return nil
	}
	return s.conn
}

// AddFrame submits a point block to the current connection
func (s *Session) AddFrame(b *PointBlock) error {
	conn := s.current()
	if conn == nil {
		return ErrShutdown
	}
	conn.AddFrame(b)
	return nil
}

// WaitForReady blocks until the current connection wants another frame
func (s *Session) WaitForReady() error {
	for {
		conn := s.current()
		if conn == nil {
			return ErrShutdown
		}
		if conn.Ready() {
			return nil
		}
		time.Sleep(readyPollInterval)
	}
}

// Status reports the latest DAC status seen on the current connection
func (s *Session) Status() DacStatus {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	return conn.Status()
}

// Shutdown tears the session down. Terminal: AddFrame and WaitForReady
// fail afterwards.
func (s *Session) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	conn := s.conn
	s.mu.Unlock()

	conn.Shutdown()
	<-s.done
}
