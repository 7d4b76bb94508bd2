package wire

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/user/bletera/logger"
	"github.com/user/bletera/util"
)

// Dial opens a link from localID (central) to peerID (peripheral). The
// returned link has no reader until Serve is called.
func Dial(ctx context.Context, localID, peerID string) (*Conn, error) {
	select {
	case <-time.After(randomDelay(MinConnectionDelay, MaxConnectionDelay)):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "unix", SocketPath(peerID))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", peerID, err)
	}

	deadline := time.Now().Add(HandshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	nc.SetDeadline(deadline)

	hello := binary.BigEndian.AppendUint32(nil, uint32(len(localID)))
	hello = append(hello, localID...)
	if _, err := nc.Write(hello); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to send handshake: %w", err)
	}

	var status [1]byte
	if _, err := io.ReadFull(nc, status[:]); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to read handshake status: %w", err)
	}
	if status[0] != handshakeAccepted {
		nc.Close()
		return nil, fmt.Errorf("%w: %s", ErrRejected, peerID)
	}
	nc.SetDeadline(time.Time{})

	logger.Debug(util.ShortHash(localID)+" Wire", "🔗 connected to %s", util.ShortHash(peerID))
	return newConn(nc, localID, peerID, 0, RoleCentral), nil
}

// Serve runs the read loop of a dialed link in a new goroutine. onClose,
// if set, is called with the reason once the link is gone.
func (c *Conn) Serve(handler PacketHandler, onClose func(reason error)) {
	go func() {
		reason := c.readLoop(handler)
		if onClose != nil {
			onClose(reason)
		}
	}()
}
