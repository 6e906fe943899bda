// ABOUTME: Ether Dream streaming protocol package
// ABOUTME: Wire codecs, point blocks, TCP session and reconnect supervisor
// Package protocol implements the Ether Dream point streaming protocol.
//
// Provides the binary message codecs, the owned point-block buffer, a
// single-session Conn with rate-matched pacing, and a Session supervisor
// that reconnects indefinitely.
//
// Example:
//
//	session, err := protocol.NewSession("10.0.0.5:7765", dac.SoftwareRev)
//	err = session.AddFrame(block)
package protocol
