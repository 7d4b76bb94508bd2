//go:build linux

// Package bluez is a host engine for Linux. GATT and advertising go
// through BlueZ via tinygo.org/x/bluetooth. Adapter properties and
// connection state, which that package does not report on Linux, are
// handled over D-Bus.
package bluez

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/user/bletera/gatt"
	"github.com/user/bletera/host"
	"github.com/user/bletera/logger"
)

const prefix = "BlueZ"

// DefaultAdapterID is the adapter tinygo's DefaultAdapter drives on Linux
const DefaultAdapterID = "hci0"

// Engine implements host.Engine on a BlueZ adapter
type Engine struct {
	adapterID string
	adapter   *bluetooth.Adapter

	mu        sync.Mutex
	props     *adapterProps
	name      string
	table     *gatt.Table
	fields    host.AdvFields
	adv       *bluetooth.Advertisement
	advTimer  *time.Timer
	advGen    uint64
	loop      *host.Loop
	sink      host.EventSink
	running   bool
	connected bool
	peer      string
	handle    uint16
}

// New creates an engine for adapterID. Only DefaultAdapterID can be run.
func New(adapterID string) *Engine {
	return &Engine{
		adapterID: adapterID,
		adapter:   bluetooth.DefaultAdapter,
	}
}

// SetDeviceName sets the name. It becomes the adapter alias when Run starts.
func (e *Engine) SetDeviceName(name string) error {
	if name == "" {
		return errors.New("bluez: empty device name")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.name = name
	if e.props != nil {
		return e.props.SetAlias(name)
	}
	return nil
}

// DeviceName returns the GAP device name
func (e *Engine) DeviceName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.name
}

// RegisterAttributeTable stores the services added to BlueZ by Run
func (e *Engine) RegisterAttributeTable(table *gatt.Table) error {
	if table == nil {
		return errors.New("bluez: nil attribute table")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return host.ErrRunning
	}
	e.table = table
	return nil
}

// InferAddressType reads the adapter's address type
func (e *Engine) InferAddressType() (host.AddrType, error) {
	e.mu.Lock()
	props := e.props
	e.mu.Unlock()
	if props == nil {
		return host.AddrTypePublic, host.ErrNotRunning
	}
	return props.AddressType()
}

// SetAdvFields stores the fields used by the next StartAdvertising. BlueZ
// builds the payload itself; only the name is carried over.
func (e *Engine) SetAdvFields(fields host.AdvFields) error {
	if _, err := fields.Encode(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fields = fields
	return nil
}

// StartAdvertising (re)registers the advertisement with BlueZ. BlueZ picks
// the own address itself, so addrType is only logged.
func (e *Engine) StartAdvertising(addrType host.AddrType, params host.AdvParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return host.ErrNotRunning
	}
	if e.connected && params.ConnMode != host.ConnModeNone {
		return host.ErrBusy
	}

	e.stopAdvertisingLocked()
	if err := e.adv.Configure(bluetooth.AdvertisementOptions{LocalName: e.fields.Name}); err != nil {
		return fmt.Errorf("bluez: configure advertisement: %w", err)
	}
	if err := e.adv.Start(); err != nil {
		return fmt.Errorf("bluez: start advertisement: %w", err)
	}

	gen := e.advGen
	if params.Duration > 0 {
		loop := e.loop
		e.advTimer = time.AfterFunc(params.Duration, func() {
			loop.Post(func() { e.advertiseExpired(gen) })
		})
	}
	logger.Info(prefix, "📡 advertising %q on %s (%s)", e.fields.Name, e.adapterID, addrType)
	return nil
}

func (e *Engine) stopAdvertisingLocked() {
	e.advGen++
	if e.advTimer != nil {
		e.advTimer.Stop()
		e.advTimer = nil
	}
	if e.adv != nil {
		// Stop fails when nothing is registered
		e.adv.Stop()
	}
}

func (e *Engine) advertiseExpired(gen uint64) {
	e.mu.Lock()
	if gen != e.advGen {
		e.mu.Unlock()
		return
	}
	e.stopAdvertisingLocked()
	sink := e.sink
	e.mu.Unlock()
	sink.OnAdvertiseComplete(host.AdvCompleteEvent{})
}

// Run enables the adapter, adds the services and serves events until ctx
// is done
func (e *Engine) Run(ctx context.Context, sink host.EventSink) error {
	if sink == nil {
		return errors.New("bluez: nil event sink")
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return host.ErrRunning
	}
	if e.table == nil {
		e.mu.Unlock()
		return host.ErrNoTable
	}
	table, name := e.table, e.name
	e.mu.Unlock()

	if e.adapterID != DefaultAdapterID {
		return fmt.Errorf("bluez: adapter %q not supported, only %s", e.adapterID, DefaultAdapterID)
	}
	props, err := newAdapterProps(e.adapterID)
	if err != nil {
		return err
	}
	defer props.Close()
	if name != "" {
		if err := props.SetAlias(name); err != nil {
			return err
		}
	}
	if err := e.adapter.Enable(); err != nil {
		return fmt.Errorf("bluez: enable %s: %w", e.adapterID, err)
	}

	loop := host.NewLoop(host.DefaultLoopDepth)
	services, err := buildServices(table, loop)
	if err != nil {
		return err
	}
	for i := range services {
		if err := e.adapter.AddService(&services[i]); err != nil {
			return fmt.Errorf("bluez: add service %s: %w", services[i].UUID, err)
		}
	}
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	err = props.WatchConnections(watchCtx, func(addr string, connected bool) {
		loop.Post(func() { e.onConnectChange(addr, connected) })
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.props = props
	e.adv = e.adapter.DefaultAdvertisement()
	e.loop = loop
	e.sink = sink
	e.running = true
	e.mu.Unlock()

	logger.Info(prefix, "host synced on %s with %d services", e.adapterID, len(services))
	loop.Post(sink.OnSync)
	loop.Run(ctx)

	e.mu.Lock()
	e.stopAdvertisingLocked()
	e.running = false
	e.props = nil
	e.mu.Unlock()
	return nil
}

// onConnectChange turns a Device1 Connected change into a GAP event. BlueZ
// exposes no connection handle, so handles are counted here.
func (e *Engine) onConnectChange(addr string, connected bool) {
	e.mu.Lock()
	if connected == e.connected || (!connected && addr != e.peer) {
		e.mu.Unlock()
		logger.Debug(prefix, "connection state %v for %s ignored", connected, addr)
		return
	}
	e.connected = connected
	if connected {
		e.handle++
		e.peer = addr
		e.stopAdvertisingLocked()
	} else {
		e.peer = ""
	}
	handle, sink := e.handle, e.sink
	e.mu.Unlock()

	if connected {
		sink.OnConnect(host.ConnectEvent{Status: host.StatusOK, ConnHandle: handle, PeerID: addr})
		return
	}
	sink.OnDisconnect(host.DisconnectEvent{ConnHandle: handle, Reason: host.ReasonRemoteUserTerminated})
}

// buildServices converts the table to bluetooth services. Read values are
// taken from the handlers once, here; BlueZ serves them from then on.
// Writes are handed to the handlers on loop.
func buildServices(table *gatt.Table, loop *host.Loop) ([]bluetooth.Service, error) {
	var services []bluetooth.Service
	for _, svc := range table.Services() {
		s := bluetooth.Service{UUID: toUUID(svc.UUID)}
		for _, chr := range svc.Characteristics {
			cfg := bluetooth.CharacteristicConfig{
				UUID:  toUUID(chr.UUID),
				Flags: permissions(chr.Flags),
			}
			if chr.Flags&gatt.FlagRead != 0 {
				value, err := captureReadValue(chr)
				if err != nil {
					return nil, err
				}
				cfg.Value = value
			}
			if chr.Flags&gatt.FlagWrite != 0 {
				cfg.WriteEvent = writeHandler(chr, loop)
			}
			s.Characteristics = append(s.Characteristics, cfg)
		}
		services = append(services, s)
	}
	return services, nil
}

func toUUID(u gatt.UUID) bluetooth.UUID {
	return bluetooth.NewUUID([16]byte(u.UUID()))
}

func permissions(f gatt.Flags) bluetooth.CharacteristicPermissions {
	var p bluetooth.CharacteristicPermissions
	if f&gatt.FlagRead != 0 {
		p |= bluetooth.CharacteristicReadPermission
	}
	if f&gatt.FlagWrite != 0 {
		p |= bluetooth.CharacteristicWritePermission
	}
	return p
}

func captureReadValue(chr gatt.Characteristic) ([]byte, error) {
	out := &bytes.Buffer{}
	status := chr.Access(&gatt.AccessContext{Op: gatt.OpRead, Characteristic: chr.UUID, Out: out})
	if status != gatt.StatusSuccess {
		return nil, fmt.Errorf("bluez: read %s at registration: %s", chr.UUID, status)
	}
	return out.Bytes(), nil
}

// writeHandler posts each write to loop. BlueZ has already acknowledged
// the write, so a failing status is only logged.
func writeHandler(chr gatt.Characteristic, loop *host.Loop) func(bluetooth.Connection, int, []byte) {
	return func(client bluetooth.Connection, offset int, value []byte) {
		data := append([]byte(nil), value...)
		loop.Post(func() {
			status := chr.Access(&gatt.AccessContext{
				Op:             gatt.OpWrite,
				ConnHandle:     uint16(client),
				Characteristic: chr.UUID,
				Data:           data,
			})
			if status != gatt.StatusSuccess {
				logger.Warn(prefix, "write to %s at offset %d: %s", chr.UUID, offset, status)
			}
		})
	}
}
