// Package peripheral is the BLE-TERA device: its attribute table, the
// characteristic access handlers, the advertising controller and the
// connection state machine, bootstrapped onto a host engine.
package peripheral

import "github.com/user/bletera/gatt"

// DeviceName is the GAP name advertised as the complete local name
const DeviceName = "BLE-TERA"

var (
	ServiceUUID   = gatt.UUID16(0x0180)
	ReadCharUUID  = gatt.UUID16(0xDEAD)
	WriteCharUUID = gatt.UUID16(0xFEF4)
)

// ReadValue returns the value served by the read characteristic
func ReadValue() []byte {
	return []byte{0xDE, 0xAD}
}

// NewAttributeTable builds the single primary service with its read-only
// and write-only characteristics bound to h
func NewAttributeTable(h *Handlers) (*gatt.Table, error) {
	return gatt.NewTable(gatt.Service{
		UUID:    ServiceUUID,
		Primary: true,
		Characteristics: []gatt.Characteristic{
			{UUID: ReadCharUUID, Flags: gatt.FlagRead, Access: h.Read},
			{UUID: WriteCharUUID, Flags: gatt.FlagWrite, Access: h.Write},
		},
	})
}
