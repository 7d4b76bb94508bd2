package wire

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/user/bletera/logger"
	"github.com/user/bletera/util"
	"github.com/user/bletera/wire/att"
	"github.com/user/bletera/wire/l2cap"
)

// PacketHandler receives ATT channel payloads from a link. It is called
// from the link's read goroutine, one payload at a time.
type PacketHandler func(c *Conn, payload []byte)

// Conn is one established link between a central and a peripheral
type Conn struct {
	conn    net.Conn
	localID string
	peerID  string
	handle  uint16
	role    ConnectionRole

	sendMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
	reasonMu  sync.Mutex
	reason    error
}

func newConn(nc net.Conn, localID, peerID string, handle uint16, role ConnectionRole) *Conn {
	return &Conn{
		conn:    nc,
		localID: localID,
		peerID:  peerID,
		handle:  handle,
		role:    role,
		done:    make(chan struct{}),
	}
}

// PeerID returns the device id of the other end
func (c *Conn) PeerID() string { return c.peerID }

// Handle returns the connection handle assigned by the peripheral
func (c *Conn) Handle() uint16 { return c.handle }

// Role returns our role on the link
func (c *Conn) Role() ConnectionRole { return c.role }

// Done is closed once the link is gone
func (c *Conn) Done() <-chan struct{} { return c.done }

// Reason returns why the link closed, or nil while it is up
func (c *Conn) Reason() error {
	c.reasonMu.Lock()
	defer c.reasonMu.Unlock()
	return c.reason
}

func (c *Conn) prefix() string {
	return util.ShortHash(c.localID) + " Wire"
}

// SendATT frames payload on the ATT channel
func (c *Conn) SendATT(payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if err := l2cap.WritePacket(c.conn, l2cap.NewATTPacket(payload)); err != nil {
		return fmt.Errorf("wire: send to %s: %w", util.ShortHash(c.peerID), err)
	}
	logger.Trace(c.prefix(), "📤 ATT to %s: % X", util.ShortHash(c.peerID), payload)
	return nil
}

// Send encodes and sends an ATT PDU
func (c *Conn) Send(pdu att.PDU) error {
	payload, err := att.EncodePacket(pdu)
	if err != nil {
		return err
	}
	return c.SendATT(payload)
}

// Close tears the link down. The peer observes end of stream.
func (c *Conn) Close() error {
	c.closeWith(ErrLocalClose)
	return nil
}

func (c *Conn) closeWith(reason error) {
	c.closeOnce.Do(func() {
		c.reasonMu.Lock()
		c.reason = reason
		c.reasonMu.Unlock()
		c.conn.Close()
		close(c.done)
	})
}

// readLoop delivers ATT payloads until the link fails, then closes it and
// returns the reason.
func (c *Conn) readLoop(handler PacketHandler) error {
	var reason error
	for {
		pkt, err := l2cap.ReadPacket(c.conn)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				reason = ErrRemoteClose
			case errors.Is(err, net.ErrClosed):
				reason = c.Reason()
				if reason == nil {
					reason = ErrLocalClose
				}
			default:
				reason = err
			}
			break
		}

		if pkt.ChannelID != l2cap.ChannelATT {
			logger.Warn(c.prefix(), "⚠️  unsupported L2CAP channel 0x%04X from %s", pkt.ChannelID, util.ShortHash(c.peerID))
			continue
		}
		logger.Trace(c.prefix(), "📥 ATT from %s: % X", util.ShortHash(c.peerID), pkt.Payload)
		if handler != nil {
			handler(c, pkt.Payload)
		}
	}
	c.closeWith(reason)
	return c.Reason()
}
