package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/bletera/logger"
	"github.com/user/bletera/util"
)

// Wire is the simulated radio of one device. Peripherals listen on a Unix
// domain socket at {dataDir}/sockets/bletera-{deviceID}.sock and hold at
// most one link; centrals reach them with Dial.
type Wire struct {
	deviceID   string
	socketPath string
	listener   net.Listener

	mu          sync.Mutex
	conn        *Conn
	connectable bool
	lastHandle  uint16

	handler            PacketHandler
	connectCallback    func(c *Conn)
	failedCallback     func(peerID string, err error)
	disconnectCallback func(c *Conn, reason error)
	callbackMu         sync.RWMutex

	stopListening chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup

	events *Journal
}

// NewWire creates the radio for deviceID. Journaling of link events is
// enabled unless WIRE_JOURNAL=0.
func NewWire(deviceID string) *Wire {
	return &Wire{
		deviceID:      deviceID,
		socketPath:    SocketPath(deviceID),
		stopListening: make(chan struct{}),
		events:        NewJournal(deviceID, ConnectionEventsFile, os.Getenv("WIRE_JOURNAL") != "0"),
	}
}

// SocketPath returns the listening socket of a device
func SocketPath(deviceID string) string {
	return filepath.Join(util.GetSocketDir(), socketPrefix+deviceID+".sock")
}

// DeviceID returns the id this radio was created with
func (w *Wire) DeviceID() string {
	return w.deviceID
}

func (w *Wire) prefix() string {
	return util.ShortHash(w.deviceID) + " Wire"
}

// SetPacketHandler sets the receiver of ATT payloads on accepted links
func (w *Wire) SetPacketHandler(h PacketHandler) {
	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	w.handler = h
}

// SetConnectCallback is called when a central's link is accepted
func (w *Wire) SetConnectCallback(cb func(c *Conn)) {
	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	w.connectCallback = cb
}

// SetConnectFailedCallback is called when a central starts a link that
// fails during establishment
func (w *Wire) SetConnectFailedCallback(cb func(peerID string, err error)) {
	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	w.failedCallback = cb
}

// SetDisconnectCallback is called when an accepted link goes away
func (w *Wire) SetDisconnectCallback(cb func(c *Conn, reason error)) {
	w.callbackMu.Lock()
	defer w.callbackMu.Unlock()
	w.disconnectCallback = cb
}

// Start begins listening on the Unix domain socket
func (w *Wire) Start() error {
	os.Remove(w.socketPath)

	listener, err := net.Listen("unix", w.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", w.socketPath, err)
	}
	w.listener = listener
	w.events.Log("socket_created", map[string]interface{}{"path": w.socketPath})
	logger.Debug(w.prefix(), "listening on %s", w.socketPath)

	w.wg.Add(1)
	go w.acceptConnections()
	return nil
}

// Stop closes the listener and any link, and waits for their goroutines.
// It is safe to call more than once.
func (w *Wire) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopListening)
		if w.listener != nil {
			w.listener.Close()
		}

		w.mu.Lock()
		conn := w.conn
		w.connectable = false
		w.mu.Unlock()
		if conn != nil {
			conn.Close()
		}

		w.wg.Wait()
		w.clearAdvertisement()
		os.Remove(w.socketPath)
		w.events.Log("socket_closed", map[string]interface{}{"reason": "shutdown"})
	})
}

// SetConnectable opens or closes the single link slot to new centrals
func (w *Wire) SetConnectable(connectable bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connectable = connectable
}

// Connection returns the current link, or nil
func (w *Wire) Connection() *Conn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn
}

func (w *Wire) acceptConnections() {
	defer w.wg.Done()
	for {
		nc, err := w.listener.Accept()
		if err != nil {
			select {
			case <-w.stopListening:
				return
			default:
			}
			logger.Warn(w.prefix(), "accept failed: %v", err)
			continue
		}
		w.wg.Add(1)
		go w.handleIncomingConnection(nc)
	}
}

func readHandshake(nc net.Conn) (string, error) {
	var idLen uint32
	if err := binary.Read(nc, binary.BigEndian, &idLen); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}
	if idLen == 0 || idLen > maxDeviceIDLen {
		return "", fmt.Errorf("%w: id length %d", ErrBadHandshake, idLen)
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(nc, id); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}
	return string(id), nil
}

// handleIncomingConnection runs the peripheral side of one link: handshake,
// slot admission, then the read loop.
func (w *Wire) handleIncomingConnection(nc net.Conn) {
	defer w.wg.Done()

	nc.SetDeadline(time.Now().Add(HandshakeTimeout))
	peerID, err := readHandshake(nc)
	if err != nil {
		nc.Close()
		w.mu.Lock()
		connectable := w.connectable
		w.mu.Unlock()
		if !connectable {
			return
		}
		logger.Warn(w.prefix(), "❌ link establishment failed: %v", err)
		w.events.Log("connection_failed", map[string]interface{}{"error": err.Error()})
		w.notifyFailed("", err)
		return
	}

	w.mu.Lock()
	if !w.connectable || w.conn != nil {
		busy := w.conn != nil
		w.mu.Unlock()
		nc.Write([]byte{handshakeRejected})
		nc.Close()
		logger.Debug(w.prefix(), "rejected %s (busy=%v)", util.ShortHash(peerID), busy)
		w.events.Log("connection_rejected", map[string]interface{}{"remote": peerID, "busy": busy})
		return
	}
	w.lastHandle++
	if w.lastHandle == 0 {
		w.lastHandle = 1
	}
	conn := newConn(nc, w.deviceID, peerID, w.lastHandle, RolePeripheral)
	w.conn = conn
	w.connectable = false
	w.mu.Unlock()

	if _, err := nc.Write([]byte{handshakeAccepted}); err != nil {
		w.releaseSlot(conn)
		conn.closeWith(err)
		logger.Warn(w.prefix(), "❌ link establishment with %s failed: %v", util.ShortHash(peerID), err)
		w.events.Log("connection_failed", map[string]interface{}{"remote": peerID, "error": err.Error()})
		w.notifyFailed(peerID, err)
		return
	}
	nc.SetDeadline(time.Time{})

	logger.Info(w.prefix(), "🔗 link up with %s (handle %d)", util.ShortHash(peerID), conn.handle)
	w.events.Log("connection_established", map[string]interface{}{"remote": peerID, "handle": int(conn.handle)})

	w.callbackMu.RLock()
	connectCb := w.connectCallback
	handler := w.handler
	w.callbackMu.RUnlock()
	if connectCb != nil {
		connectCb(conn)
	}

	reason := conn.readLoop(handler)
	w.releaseSlot(conn)

	logger.Info(w.prefix(), "🔌 link with %s down: %v", util.ShortHash(peerID), reason)
	w.events.Log("connection_closed", map[string]interface{}{"remote": peerID, "reason": reason.Error()})

	w.callbackMu.RLock()
	disconnectCb := w.disconnectCallback
	w.callbackMu.RUnlock()
	if disconnectCb != nil {
		disconnectCb(conn, reason)
	}
}

func (w *Wire) releaseSlot(c *Conn) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == c {
		w.conn = nil
	}
}

func (w *Wire) notifyFailed(peerID string, err error) {
	w.callbackMu.RLock()
	cb := w.failedCallback
	w.callbackMu.RUnlock()
	if cb != nil {
		cb(peerID, err)
	}
}
