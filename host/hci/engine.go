//go:build linux

// Package hci is a host engine that owns a controller through a raw HCI
// socket using github.com/go-ble/ble. BlueZ must not be managing the
// adapter. Unlike the bluez engine, reads reach the handlers on every
// request.
package hci

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/evt"
	"github.com/pkg/errors"

	"github.com/user/bletera/gatt"
	"github.com/user/bletera/host"
	"github.com/user/bletera/logger"
)

const prefix = "HCI"

// requestTimeout bounds how long an ATT request waits for the event loop
const requestTimeout = 2 * time.Second

// Engine implements host.Engine on an HCI device such as hci0
type Engine struct {
	deviceID int

	mu          sync.Mutex
	name        string
	table       *gatt.Table
	fields      host.AdvFields
	dev         *linux.Device
	loop        *host.Loop
	sink        host.EventSink
	running     bool
	advertising bool
	connected   bool
	handle      uint16
	advTimer    *time.Timer
	advGen      uint64
}

// New creates an engine for the HCI device with index deviceID
func New(deviceID int) *Engine {
	return &Engine{deviceID: deviceID}
}

// SetDeviceName sets the GAP Device Name. It must precede Run; the
// controller's GAP service is built when the device opens.
func (e *Engine) SetDeviceName(name string) error {
	if name == "" {
		return errors.New("hci: empty device name")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return host.ErrRunning
	}
	e.name = name
	return nil
}

// DeviceName returns the GAP device name
func (e *Engine) DeviceName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.name
}

// RegisterAttributeTable stores the services added to the device by Run
func (e *Engine) RegisterAttributeTable(table *gatt.Table) error {
	if table == nil {
		return errors.New("hci: nil attribute table")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return host.ErrRunning
	}
	e.table = table
	return nil
}

// InferAddressType reports the controller's public address. Random
// addresses are not configured by this engine.
func (e *Engine) InferAddressType() (host.AddrType, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return host.AddrTypePublic, host.ErrNotRunning
	}
	return host.AddrTypePublic, nil
}

// SetAdvFields stores the fields used by the next StartAdvertising. The
// stack builds the payload from the name; Flags are always general
// discoverable.
func (e *Engine) SetAdvFields(fields host.AdvFields) error {
	if _, err := fields.Encode(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fields = fields
	return nil
}

// StartAdvertising (re)enables advertising on the controller
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
	if err := e.dev.HCI.AdvertiseNameAndServices(e.fields.Name); err != nil {
		return errors.Wrapf(err, "hci: advertise %q", e.fields.Name)
	}
	e.advertising = true

	gen := e.advGen
	if params.Duration > 0 {
		loop := e.loop
		e.advTimer = time.AfterFunc(params.Duration, func() {
			loop.Post(func() { e.advertiseExpired(gen) })
		})
	}
	logger.Info(prefix, "📡 advertising %q on hci%d (%s)", e.fields.Name, e.deviceID, addrType)
	return nil
}

func (e *Engine) stopAdvertisingLocked() {
	e.advGen++
	if e.advTimer != nil {
		e.advTimer.Stop()
		e.advTimer = nil
	}
	if !e.advertising {
		return
	}
	e.advertising = false
	if err := e.dev.HCI.StopAdvertising(); err != nil {
		logger.Debug(prefix, "stop advertising: %v", err)
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

// Run opens the device, adds the services and serves events until ctx is
// done
func (e *Engine) Run(ctx context.Context, sink host.EventSink) error {
	if sink == nil {
		return errors.New("hci: nil event sink")
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

	loop := host.NewLoop(host.DefaultLoopDepth)
	dev, err := linux.NewDeviceWithName(name,
		ble.OptDeviceID(e.deviceID),
		ble.OptConnectHandler(func(ev evt.LEConnectionComplete) {
			status, handle := ev.Status(), ev.ConnectionHandle()
			loop.Post(func() { e.onConnect(status, handle) })
		}),
		ble.OptDisconnectHandler(func(ev evt.DisconnectionComplete) {
			handle, reason := ev.ConnectionHandle(), ev.Reason()
			loop.Post(func() { e.onDisconnect(handle, reason) })
		}),
	)
	if err != nil {
		return errors.Wrapf(err, "hci: open hci%d", e.deviceID)
	}
	defer dev.Stop()

	for _, svc := range buildServices(table, loop) {
		if err := dev.AddService(svc); err != nil {
			return errors.Wrapf(err, "hci: add service %s", svc.UUID)
		}
	}

	e.mu.Lock()
	e.dev = dev
	e.loop = loop
	e.sink = sink
	e.running = true
	e.mu.Unlock()

	logger.Info(prefix, "host synced on hci%d (%s)", e.deviceID, dev.Address())
	loop.Post(sink.OnSync)
	loop.Run(ctx)

	e.mu.Lock()
	e.stopAdvertisingLocked()
	e.running = false
	e.dev = nil
	e.mu.Unlock()
	return nil
}

func (e *Engine) onConnect(status uint8, handle uint16) {
	e.mu.Lock()
	if e.connected {
		e.mu.Unlock()
		logger.Debug(prefix, "connection complete for handle %d while linked to %d ignored", handle, e.handle)
		return
	}
	if status == 0 {
		e.connected = true
		e.handle = handle
		// The controller stops advertising once a link is up
		e.advertising = false
		e.stopAdvertisingLocked()
	}
	sink := e.sink
	e.mu.Unlock()

	sink.OnConnect(host.ConnectEvent{
		Status:     host.ConnectStatus(status),
		ConnHandle: handle,
	})
}

func (e *Engine) onDisconnect(handle uint16, reason uint8) {
	e.mu.Lock()
	if !e.connected || handle != e.handle {
		e.mu.Unlock()
		logger.Debug(prefix, "disconnect for unknown handle %d", handle)
		return
	}
	e.connected = false
	sink := e.sink
	e.mu.Unlock()

	sink.OnDisconnect(host.DisconnectEvent{ConnHandle: handle, Reason: host.DisconnectReason(reason)})
}

// buildServices converts the table to ble services. Handlers run on the
// stack's connection goroutine and hop onto loop for each access.
func buildServices(table *gatt.Table, loop *host.Loop) []*ble.Service {
	var services []*ble.Service
	for _, svc := range table.Services() {
		s := ble.NewService(toUUID(svc.UUID))
		for _, chr := range svc.Characteristics {
			c := s.NewCharacteristic(toUUID(chr.UUID))
			if chr.Flags&gatt.FlagRead != 0 {
				c.HandleRead(readHandler(chr, loop))
			}
			if chr.Flags&gatt.FlagWrite != 0 {
				c.HandleWrite(writeHandler(chr, loop))
			}
		}
		services = append(services, s)
	}
	return services
}

func toUUID(u gatt.UUID) ble.UUID {
	return ble.UUID(u.Bytes())
}

// access runs chr's handler on loop and returns its status
func access(loop *host.Loop, chr gatt.Characteristic, actx *gatt.AccessContext) gatt.Status {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	status := gatt.StatusUnlikely
	if err := loop.Call(ctx, func() { status = chr.Access(actx) }); err != nil {
		logger.Warn(prefix, "access to %s: %v", chr.UUID, err)
		return gatt.StatusUnlikely
	}
	return status
}

func readHandler(chr gatt.Characteristic, loop *host.Loop) ble.ReadHandler {
	return ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		out := &bytes.Buffer{}
		status := access(loop, chr, &gatt.AccessContext{
			Op:             gatt.OpRead,
			Characteristic: chr.UUID,
			Out:            out,
		})
		if status != gatt.StatusSuccess {
			rsp.SetStatus(ble.ATTError(status))
			return
		}
		value := out.Bytes()
		if off := req.Offset(); off > 0 {
			if off > len(value) {
				rsp.SetStatus(ble.ErrInvalidOffset)
				return
			}
			value = value[off:]
		}
		if _, err := rsp.Write(value); err != nil {
			logger.Warn(prefix, "read of %s: %v", chr.UUID, err)
		}
	})
}

func writeHandler(chr gatt.Characteristic, loop *host.Loop) ble.WriteHandler {
	return ble.WriteHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
		data := append([]byte{}, req.Data()...)
		status := access(loop, chr, &gatt.AccessContext{
			Op:             gatt.OpWrite,
			Characteristic: chr.UUID,
			Data:           data,
		})
		if status != gatt.StatusSuccess {
			rsp.SetStatus(ble.ATTError(status))
		}
	})
}
