package l2cap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// L2CAP fixed channel IDs on an LE-U link
const (
	ChannelATT      uint16 = 0x0004
	ChannelLESignal uint16 = 0x0005
	ChannelSMP      uint16 = 0x0006
)

// HeaderLen is the basic L2CAP header: Length (2 bytes) + Channel ID (2 bytes)
const HeaderLen = 4

// MaxPayload bounds a single frame accepted off the link
const MaxPayload = 1024

// ErrFrameTooLarge is returned when a frame header claims more than MaxPayload bytes
var ErrFrameTooLarge = errors.New("l2cap: frame too large")

// Packet is a basic-mode L2CAP frame.
// Wire format: [Length: 2 LE] [Channel ID: 2 LE] [Payload: Length bytes]
type Packet struct {
	ChannelID uint16
	Payload   []byte
}

// NewATTPacket wraps an ATT PDU for the ATT fixed channel
func NewATTPacket(payload []byte) *Packet {
	return &Packet{ChannelID: ChannelATT, Payload: payload}
}

// Encode serializes the frame
func (p *Packet) Encode() []byte {
	buf := make([]byte, HeaderLen+len(p.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(p.Payload)))
	binary.LittleEndian.PutUint16(buf[2:4], p.ChannelID)
	copy(buf[HeaderLen:], p.Payload)
	return buf
}

// Decode parses one complete frame
func Decode(data []byte) (*Packet, error) {
	if len(data) < HeaderLen {
		return nil, fmt.Errorf("l2cap: packet too short (need at least %d bytes, got %d)", HeaderLen, len(data))
	}
	length := int(binary.LittleEndian.Uint16(data[0:2]))
	if len(data) < HeaderLen+length {
		return nil, fmt.Errorf("l2cap: incomplete packet (claimed length %d, got %d)", length, len(data)-HeaderLen)
	}
	return &Packet{
		ChannelID: binary.LittleEndian.Uint16(data[2:4]),
		Payload:   append([]byte{}, data[HeaderLen:HeaderLen+length]...),
	}, nil
}

// ReadPacket reads exactly one frame from a stream
func ReadPacket(r io.Reader) (*Packet, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	length := int(binary.LittleEndian.Uint16(hdr[0:2]))
	if length > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("l2cap: short payload: %w", err)
	}
	return &Packet{
		ChannelID: binary.LittleEndian.Uint16(hdr[2:4]),
		Payload:   payload,
	}, nil
}

// WritePacket writes one frame to a stream in a single Write call
func WritePacket(w io.Writer, p *Packet) error {
	_, err := w.Write(p.Encode())
	return err
}
