// ABOUTME: Ether Dream wire protocol message types
// ABOUTME: Binary codecs for status blocks, responses and broadcast packets
package protocol

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	// BroadcastPort is the UDP port DACs announce themselves on
	BroadcastPort = 7654

	// StreamPort is the TCP port for the point streaming channel
	StreamPort = 7765

	// BroadcastPacketSize is the exact size of a DAC announce packet
	BroadcastPacketSize = 36

	// StatusSize is the size of an encoded DacStatus
	StatusSize = 20

	// ResponseSize is the size of an encoded DacResponse
	ResponseSize = 22

	// VersionResponseSize is the size of the reply to a version command
	VersionResponseSize = 32
)

// Command bytes understood by the DAC
const (
	CmdPrepare = 'p'
	CmdBegin   = 'b'
	CmdQueue   = 'q'
	CmdData    = 'd'
	CmdVersion = 'v'
)

// Response bytes
const (
	RespAck        = 'a'
	RespNakInvalid = 'I'
)

// PlaybackState is the DAC playback state machine position
type PlaybackState byte

const (
	StateIdle     PlaybackState = 0
	StatePrepared PlaybackState = 1
	StatePlaying  PlaybackState = 2
	StateInvalid  PlaybackState = 0xFF
)

// String returns a human-readable state name
func (s PlaybackState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePrepared:
		return "prepared"
	case StatePlaying:
		return "playing"
	default:
		return "invalid"
	}
}

// DacStatus is the 20-byte status block the DAC attaches to every response
// and to the tail of its broadcast packets.
type DacStatus struct {
	Protocol         byte
	LightEngineState byte
	PlaybackState    PlaybackState
	Source           byte
	LightEngineFlags uint16
	PlaybackFlags    uint16
	SourceFlags      uint16
	BufferFullness   uint16
	PointRate        uint32
	PointCount       uint32
}

// DecodeStatus parses a 20-byte status block
func DecodeStatus(buf []byte) (DacStatus, error) {
	if len(buf) < StatusSize {
		return DacStatus{}, fmt.Errorf("status block too short: %d bytes", len(buf))
	}

	s := DacStatus{
		Protocol:         buf[0],
		LightEngineState: buf[1],
		Source:           buf[3],
		LightEngineFlags: binary.LittleEndian.Uint16(buf[4:6]),
		PlaybackFlags:    binary.LittleEndian.Uint16(buf[6:8]),
		SourceFlags:      binary.LittleEndian.Uint16(buf[8:10]),
		BufferFullness:   binary.LittleEndian.Uint16(buf[10:12]),
		PointRate:        binary.LittleEndian.Uint32(buf[12:16]),
		PointCount:       binary.LittleEndian.Uint32(buf[16:20]),
	}

	switch state := PlaybackState(buf[2]); state {
	case StateIdle, StatePrepared, StatePlaying:
		s.PlaybackState = state
	default:
		s.PlaybackState = StateInvalid
	}

	return s, nil
}

// Encode serializes the status into its 20-byte wire form
func (s DacStatus) Encode() []byte {
	buf := make([]byte, StatusSize)
	buf[0] = s.Protocol
	buf[1] = s.LightEngineState
	buf[2] = byte(s.PlaybackState)
	buf[3] = s.Source
	binary.LittleEndian.PutUint16(buf[4:6], s.LightEngineFlags)
	binary.LittleEndian.PutUint16(buf[6:8], s.PlaybackFlags)
	binary.LittleEndian.PutUint16(buf[8:10], s.SourceFlags)
	binary.LittleEndian.PutUint16(buf[10:12], s.BufferFullness)
	binary.LittleEndian.PutUint32(buf[12:16], s.PointRate)
	binary.LittleEndian.PutUint32(buf[16:20], s.PointCount)
	return buf
}

// DacResponse is the 22-byte reply the DAC sends for every command,
// plus one unsolicited copy right after connect.
type DacResponse struct {
	Response byte
	Command  byte
	Status   DacStatus
}

// DecodeResponse parses a 22-byte response
func DecodeResponse(buf []byte) (DacResponse, error) {
	if len(buf) < ResponseSize {
		return DacResponse{}, fmt.Errorf("response too short: %d bytes", len(buf))
	}

	status, err := DecodeStatus(buf[2:ResponseSize])
	if err != nil {
		return DacResponse{}, err
	}

	return DacResponse{
		Response: buf[0],
		Command:  buf[1],
		Status:   status,
	}, nil
}

// Encode serializes the response into its 22-byte wire form
func (r DacResponse) Encode() []byte {
	buf := make([]byte, 0, ResponseSize)
	buf = append(buf, r.Response, r.Command)
	return append(buf, r.Status.Encode()...)
}

// Ok reports whether the response byte is one the stream survives.
// NAK-invalid is tolerated; everything else besides ACK is fatal.
func (r DacResponse) Ok() bool {
	return r.Response == RespAck || r.Response == RespNakInvalid
}

// EncodeBegin builds the 7-byte begin command. The low-water mark field
// is always zero; the rate is the point rate of the first frame.
func EncodeBegin(rate uint32) []byte {
	buf := make([]byte, 7)
	buf[0] = CmdBegin
	binary.LittleEndian.PutUint32(buf[3:7], rate)
	return buf
}

// EncodeQueue builds the 5-byte queued rate change command
func EncodeQueue(rate uint32) []byte {
	buf := make([]byte, 5)
	buf[0] = CmdQueue
	binary.LittleEndian.PutUint32(buf[1:5], rate)
	return buf
}

// EncodeDataHeader builds the 3-byte header preceding a point payload
func EncodeDataHeader(npoints int) []byte {
	buf := make([]byte, 3)
	buf[0] = CmdData
	binary.LittleEndian.PutUint16(buf[1:3], uint16(npoints))
	return buf
}

// ParseFirmwareVersion trims the 32-byte version reply down to a
// printable string. Old firmware pads with spaces or NULs.
func ParseFirmwareVersion(buf []byte) string {
	return strings.TrimRight(string(buf), " \x00")
}

// BroadcastPacket is the parsed form of a 36-byte DAC announce packet.
type BroadcastPacket struct {
	MAC            [6]byte
	HardwareRev    uint16
	SoftwareRev    uint16
	BufferCapacity uint16
	MaxPointRate   uint32
	Status         DacStatus
}

// DecodeBroadcast parses an announce packet. Packets of any length
// other than 36 bytes are rejected.
func DecodeBroadcast(buf []byte) (BroadcastPacket, error) {
	if len(buf) != BroadcastPacketSize {
		return BroadcastPacket{}, fmt.Errorf("broadcast packet is %d bytes, want %d", len(buf), BroadcastPacketSize)
	}

	status, err := DecodeStatus(buf[16:36])
	if err != nil {
		return BroadcastPacket{}, err
	}

	p := BroadcastPacket{
		HardwareRev:    binary.LittleEndian.Uint16(buf[6:8]),
		SoftwareRev:    binary.LittleEndian.Uint16(buf[8:10]),
		BufferCapacity: binary.LittleEndian.Uint16(buf[10:12]),
		MaxPointRate:   binary.LittleEndian.Uint32(buf[12:16]),
		Status:         status,
	}
	copy(p.MAC[:], buf[0:6])

	return p, nil
}

// ID derives the DAC identifier: the hex form of the last three MAC bytes
func (p BroadcastPacket) ID() string {
	return fmt.Sprintf("%02x%02x%02x", p.MAC[3], p.MAC[4], p.MAC[5])
}
