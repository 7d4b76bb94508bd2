// Package host is the boundary between the peripheral core and a BLE host
// stack. An Engine owns the radio; the core only sees the calls below and
// the events delivered to its EventSink.
package host

import (
	"context"
	"errors"

	"github.com/user/bletera/gatt"
)

var (
	// ErrRunning is returned by operations only valid before Run
	ErrRunning = errors.New("host: engine already running")
	// ErrNotRunning is returned by operations only valid while Run is active
	ErrNotRunning = errors.New("host: engine not running")
	// ErrNoTable is returned by Run when no attribute table was registered
	ErrNoTable = errors.New("host: no attribute table registered")
	// ErrBusy is returned by StartAdvertising while a link is up
	ErrBusy = errors.New("host: connection slot busy")
	// ErrAdvDataTooLong is returned when advertising fields do not fit a legacy PDU
	ErrAdvDataTooLong = errors.New("host: advertising data too long")
)

// EventSink receives GAP events. All methods are invoked on the engine's
// event loop, one at a time, and must not block.
type EventSink interface {
	// OnSync is called once the host and controller are in sync
	OnSync()
	OnConnect(ev ConnectEvent)
	OnDisconnect(ev DisconnectEvent)
	OnAdvertiseComplete(ev AdvCompleteEvent)
}

// Engine is a BLE host stack able to run one peripheral
type Engine interface {
	SetDeviceName(name string) error
	DeviceName() string

	// RegisterAttributeTable installs the GATT services. Must precede Run.
	RegisterAttributeTable(table *gatt.Table) error

	// InferAddressType picks the own-address type to advertise with
	InferAddressType() (AddrType, error)

	SetAdvFields(fields AdvFields) error

	// StartAdvertising begins advertising with the last fields set. A
	// running advertisement is replaced.
	StartAdvertising(addrType AddrType, params AdvParams) error

	// Run drives the event loop, delivering events to sink until ctx is done
	Run(ctx context.Context, sink EventSink) error
}
