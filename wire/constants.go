package wire

import (
	"errors"
	"time"
)

// ConnectionRole is our role on a link
type ConnectionRole string

const (
	RoleCentral    ConnectionRole = "central"    // We initiated the link
	RolePeripheral ConnectionRole = "peripheral" // The peer initiated the link
)

// Link establishment timing
const (
	MinConnectionDelay = 5 * time.Millisecond
	MaxConnectionDelay = 20 * time.Millisecond

	// HandshakeTimeout bounds the connect handshake in both directions
	HandshakeTimeout = 2 * time.Second
)

// Handshake status byte sent by the peripheral after reading the central's id
const (
	handshakeAccepted byte = 0x00
	handshakeRejected byte = 0x01
)

// maxDeviceIDLen bounds the id a central may present in the handshake
const maxDeviceIDLen = 256

const socketPrefix = "bletera-"

var (
	// ErrRejected is returned by Dial when the peer is not accepting links
	ErrRejected = errors.New("wire: connection rejected by peer")
	// ErrClosed is returned when sending on a closed link
	ErrClosed = errors.New("wire: link closed")
	// ErrBadHandshake is reported when a central's handshake cannot be read
	ErrBadHandshake = errors.New("wire: bad handshake")
	// ErrRemoteClose is the close reason when the peer ended the link
	ErrRemoteClose = errors.New("wire: closed by peer")
	// ErrLocalClose is the close reason when this side ended the link
	ErrLocalClose = errors.New("wire: closed locally")
)
