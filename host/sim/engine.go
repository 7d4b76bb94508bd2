// Package sim is a host engine on top of the simulated radio in package
// wire. It plays the role of the host stack: it owns the attribute
// database, answers ATT, runs advertising and turns link activity into GAP
// events on a serialized loop.
package sim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/bletera/gatt"
	"github.com/user/bletera/host"
	"github.com/user/bletera/logger"
	"github.com/user/bletera/util"
	"github.com/user/bletera/wire"
	"github.com/user/bletera/wire/advertising"
	"github.com/user/bletera/wire/att"
	"github.com/user/bletera/wire/attdb"
)

// MaxDeviceNameLen is the longest GAP device name accepted
const MaxDeviceNameLen = 248

// Option configures an Engine
type Option func(*Engine)

// WithAppearance sets the GAP Appearance characteristic value
func WithAppearance(appearance uint16) Option {
	return func(e *Engine) { e.appearance = appearance }
}

// Engine implements host.Engine over a wire.Wire
type Engine struct {
	id         string
	addr       [advertising.AddressLen]byte
	radio      *wire.Wire
	journal    *wire.Journal
	appearance uint16

	mu      sync.Mutex
	name    string
	table   *gatt.Table
	server  *attdb.Server
	loop    *host.Loop
	sink    host.EventSink
	ctx     context.Context
	running bool
	ran     bool

	advData     []byte
	advertising bool
	advGen      uint64
	advTimer    *time.Timer
	conn        *wire.Conn
}

// New creates an engine for deviceID. The device's static random address
// is derived from its id.
func New(deviceID string, opts ...Option) *Engine {
	e := &Engine{
		id:         deviceID,
		addr:       staticRandomAddress(deviceID),
		radio:      wire.NewWire(deviceID),
		journal:    wire.NewJournal(deviceID, wire.GAPEventsFile, true),
		appearance: attdb.AppearanceUnknown,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.radio.SetConnectCallback(e.onLinkUp)
	e.radio.SetConnectFailedCallback(e.onLinkFailed)
	e.radio.SetDisconnectCallback(e.onLinkDown)
	e.radio.SetPacketHandler(e.onATT)
	return e
}

// staticRandomAddress derives a stable static random address: the two most
// significant bits are set, the rest comes from a name-based UUID.
func staticRandomAddress(id string) [advertising.AddressLen]byte {
	u := uuid.NewSHA1(uuid.NameSpaceOID, []byte("bletera:"+id))
	var a [advertising.AddressLen]byte
	copy(a[:], u[:advertising.AddressLen])
	a[advertising.AddressLen-1] |= 0xC0
	return a
}

func (e *Engine) prefix() string {
	return util.ShortHash(e.id) + " Sim"
}

// DeviceID returns the id the radio listens under
func (e *Engine) DeviceID() string {
	return e.id
}

// Address returns the advertised device address as AA:BB:CC:DD:EE:FF
func (e *Engine) Address() string {
	parts := make([]string, len(e.addr))
	for i := range e.addr {
		parts[len(e.addr)-1-i] = fmt.Sprintf("%02X", e.addr[i])
	}
	return strings.Join(parts, ":")
}

// SetDeviceName sets the GAP device name
func (e *Engine) SetDeviceName(name string) error {
	if name == "" {
		return errors.New("sim: empty device name")
	}
	if len(name) > MaxDeviceNameLen {
		return fmt.Errorf("sim: device name longer than %d bytes", MaxDeviceNameLen)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.name = name
	return nil
}

// DeviceName returns the GAP device name
func (e *Engine) DeviceName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.name
}

// RegisterAttributeTable installs the GATT services. Only valid before Run.
func (e *Engine) RegisterAttributeTable(table *gatt.Table) error {
	if table == nil {
		return errors.New("sim: nil attribute table")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return host.ErrRunning
	}
	e.table = table
	logger.Debug(e.prefix(), "registered %d attributes", table.AttributeCount())
	return nil
}

// InferAddressType always selects the static random address
func (e *Engine) InferAddressType() (host.AddrType, error) {
	return host.AddrTypeRandom, nil
}

// SetAdvFields encodes the advertising payload used by the next start
func (e *Engine) SetAdvFields(fields host.AdvFields) error {
	data, err := fields.Encode()
	if err != nil {
		return err
	}
	logger.DebugJSON(e.prefix(), "advertising fields", fields)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advData = data
	return nil
}

// StartAdvertising publishes the advertisement and, for connectable modes,
// opens the radio to one central. A running advertisement is replaced.
func (e *Engine) StartAdvertising(addrType host.AddrType, params host.AdvParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return host.ErrNotRunning
	}
	if e.conn != nil && params.ConnMode != host.ConnModeNone {
		return host.ErrBusy
	}

	e.stopAdvertisingLocked()
	pdu := &advertising.AdvertisingPDU{
		PDUType:    params.PDUType(),
		RandomAddr: addrType == host.AddrTypeRandom,
		AdvA:       e.addr,
		AdvData:    append([]byte(nil), e.advData...),
	}
	if err := e.radio.Advertise(pdu); err != nil {
		return fmt.Errorf("sim: start advertising: %w", err)
	}
	e.advertising = true
	gen := e.advGen

	if params.Duration > 0 {
		loop := e.loop
		e.advTimer = time.AfterFunc(params.Duration, func() {
			loop.Post(func() { e.advertiseExpired(gen) })
		})
	}

	logger.Info(e.prefix(), "📡 advertising %s/%s addr=%s", params.ConnMode, params.DiscMode, e.Address())
	e.journal.Log("adv_start", map[string]interface{}{
		"conn_mode":   params.ConnMode.String(),
		"disc_mode":   params.DiscMode.String(),
		"addr_type":   addrType.String(),
		"duration_ms": int(params.Duration / time.Millisecond),
	})
	return nil
}

// stopAdvertisingLocked ends the current advertising instance. e.mu must be held.
func (e *Engine) stopAdvertisingLocked() {
	e.advGen++
	if e.advTimer != nil {
		e.advTimer.Stop()
		e.advTimer = nil
	}
	if e.advertising {
		e.radio.StopAdvertising()
		e.advertising = false
	}
}

func (e *Engine) advertiseExpired(gen uint64) {
	e.mu.Lock()
	if gen != e.advGen || !e.advertising {
		e.mu.Unlock()
		return
	}
	e.stopAdvertisingLocked()
	sink := e.sink
	e.mu.Unlock()

	logger.Debug(e.prefix(), "advertising complete")
	e.journal.Log("adv_complete", nil)
	sink.OnAdvertiseComplete(host.AdvCompleteEvent{})
}

// Advertising reports whether an advertising instance is active
func (e *Engine) Advertising() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.advertising
}

// Connected reports whether a central holds the link
func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn != nil
}

// Terminate drops the current link from the peripheral side
func (e *Engine) Terminate() error {
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		return errors.New("sim: not connected")
	}
	return conn.Close()
}

// Run builds the attribute database, brings the radio up, reports sync and
// serves events until ctx is done. An Engine runs once.
func (e *Engine) Run(ctx context.Context, sink host.EventSink) error {
	if sink == nil {
		return errors.New("sim: nil event sink")
	}

	e.mu.Lock()
	if e.running || e.ran {
		e.mu.Unlock()
		return host.ErrRunning
	}
	if e.table == nil {
		e.mu.Unlock()
		return host.ErrNoTable
	}
	db, err := attdb.Build(e.table, attdb.Options{DeviceName: e.name, Appearance: e.appearance})
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("sim: build attribute database: %w", err)
	}
	e.loop = host.NewLoop(host.DefaultLoopDepth)
	e.server = attdb.NewServer(db, e.access)
	e.sink = sink
	e.ctx = ctx
	e.running = true
	e.ran = true
	loop := e.loop
	e.mu.Unlock()

	if err := e.radio.Start(); err != nil {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
		return err
	}

	logger.Info(e.prefix(), "host synced: %d attributes", db.Len())
	e.journal.Log("sync", map[string]interface{}{"attributes": db.Len()})
	loop.Post(sink.OnSync)

	loop.Run(ctx)

	e.radio.Stop()
	e.mu.Lock()
	e.stopAdvertisingLocked()
	e.running = false
	e.conn = nil
	e.mu.Unlock()
	logger.Debug(e.prefix(), "engine stopped")
	return nil
}

// access runs a characteristic handler on the engine loop
func (e *Engine) access(chr *gatt.Characteristic, actx *gatt.AccessContext) gatt.Status {
	e.mu.Lock()
	loop, ctx := e.loop, e.ctx
	e.mu.Unlock()

	status := gatt.StatusUnlikely
	if err := loop.Call(ctx, func() { status = chr.Access(actx) }); err != nil {
		logger.Warn(e.prefix(), "access to %s dropped: %v", chr.UUID, err)
		return gatt.StatusUnlikely
	}
	return status
}

// onATT runs on the link's read goroutine
func (e *Engine) onATT(c *wire.Conn, payload []byte) {
	pdu, err := att.DecodePacket(payload)
	if err != nil {
		var attErr *att.Error
		if errors.As(err, &attErr) {
			c.Send(&att.ErrorResponse{RequestOpcode: attErr.RequestOpcode, Code: attErr.Code})
			return
		}
		if len(payload) > 0 && att.IsRequest(payload[0]) {
			c.Send(&att.ErrorResponse{RequestOpcode: payload[0], Code: att.ErrInvalidPDU})
		}
		logger.Warn(e.prefix(), "bad ATT PDU from %s: %v", util.ShortHash(c.PeerID()), err)
		return
	}

	e.mu.Lock()
	server := e.server
	e.mu.Unlock()

	logger.Trace(e.prefix(), "%s handle=%d", att.OpcodeNames[pdu.Opcode()], c.Handle())
	if resp := server.Handle(c.Handle(), pdu); resp != nil {
		if err := c.Send(resp); err != nil {
			logger.Warn(e.prefix(), "failed to answer %s: %v", att.OpcodeNames[pdu.Opcode()], err)
		}
	}
}

func (e *Engine) post(fn func()) {
	e.mu.Lock()
	loop := e.loop
	e.mu.Unlock()
	if loop == nil || !loop.Post(fn) {
		logger.Debug(e.prefix(), "event dropped: engine not running")
	}
}

// onLinkUp ends advertising and reports the connection
func (e *Engine) onLinkUp(c *wire.Conn) {
	e.post(func() {
		e.mu.Lock()
		e.stopAdvertisingLocked()
		e.conn = c
		sink := e.sink
		e.mu.Unlock()

		ev := host.ConnectEvent{Status: host.StatusOK, ConnHandle: c.Handle(), PeerID: c.PeerID()}
		e.journal.Log("connect", map[string]interface{}{"status": int(ev.Status), "handle": int(ev.ConnHandle), "peer": ev.PeerID})
		sink.OnConnect(ev)
	})
}

// onLinkFailed ends advertising and reports a failed connection attempt
func (e *Engine) onLinkFailed(peerID string, err error) {
	e.post(func() {
		e.mu.Lock()
		e.stopAdvertisingLocked()
		sink := e.sink
		e.mu.Unlock()

		ev := host.ConnectEvent{Status: host.StatusConnFailedToEstablish, PeerID: peerID}
		e.journal.Log("connect", map[string]interface{}{"status": int(ev.Status), "error": err.Error()})
		sink.OnConnect(ev)
	})
}

func disconnectReason(err error) host.DisconnectReason {
	switch {
	case errors.Is(err, wire.ErrRemoteClose):
		return host.ReasonRemoteUserTerminated
	case errors.Is(err, wire.ErrLocalClose):
		return host.ReasonLocalHostTerminated
	}
	return host.ReasonConnectionTimeout
}

// onLinkDown reports the end of the link
func (e *Engine) onLinkDown(c *wire.Conn, reason error) {
	e.post(func() {
		e.mu.Lock()
		if e.conn == c {
			e.conn = nil
		}
		sink := e.sink
		e.mu.Unlock()

		ev := host.DisconnectEvent{ConnHandle: c.Handle(), Reason: disconnectReason(reason)}
		e.journal.Log("disconnect", map[string]interface{}{"handle": int(ev.ConnHandle), "reason": int(ev.Reason)})
		sink.OnDisconnect(ev)
	})
}
