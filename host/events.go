package host

import "fmt"

// ConnectStatus is the outcome of a connection attempt. Zero is success;
// other values are host/controller error codes.
type ConnectStatus int

// StatusOK marks a successful connection
const StatusOK ConnectStatus = 0

// Common failure codes (HCI error codes)
const (
	StatusConnFailedToEstablish ConnectStatus = 0x3E
	StatusConnTimeout           ConnectStatus = 0x08
)

// ConnectEvent reports the outcome of a connection attempt
type ConnectEvent struct {
	Status     ConnectStatus
	ConnHandle uint16
	PeerID     string
}

// OK reports whether the connection was established
func (e ConnectEvent) OK() bool {
	return e.Status == StatusOK
}

func (e ConnectEvent) String() string {
	if e.OK() {
		return fmt.Sprintf("connect ok handle=%d peer=%s", e.ConnHandle, e.PeerID)
	}
	return fmt.Sprintf("connect failed status=0x%02X", int(e.Status))
}

// DisconnectReason is an HCI disconnect reason code
type DisconnectReason int

const (
	ReasonRemoteUserTerminated DisconnectReason = 0x13
	ReasonLocalHostTerminated  DisconnectReason = 0x16
	ReasonConnectionTimeout    DisconnectReason = 0x08
)

// DisconnectEvent reports a link going away
type DisconnectEvent struct {
	ConnHandle uint16
	Reason     DisconnectReason
}

func (e DisconnectEvent) String() string {
	return fmt.Sprintf("disconnect handle=%d reason=0x%02X", e.ConnHandle, int(e.Reason))
}

// AdvCompleteEvent reports advertising ending without a connection
type AdvCompleteEvent struct {
	Reason int
}
