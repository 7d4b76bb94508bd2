package attdb

import (
	"encoding/binary"
	"fmt"

	"github.com/user/bletera/gatt"
)

// Well-known attribute types
var (
	TypePrimaryService = gatt.UUID16(0x2800)
	TypeCharacteristic = gatt.UUID16(0x2803)

	ServiceGenericAccess    = gatt.UUID16(0x1800)
	ServiceGenericAttribute = gatt.UUID16(0x1801)
	CharDeviceName          = gatt.UUID16(0x2A00)
	CharAppearance          = gatt.UUID16(0x2A01)
)

// AppearanceUnknown is the GAP appearance value 0x0000
const AppearanceUnknown uint16 = 0x0000

// Attribute permissions (server-side only, never sent over the air)
type Perm uint8

const (
	PermRead  Perm = 0x01
	PermWrite Perm = 0x02
)

// Attribute is one entry of the database. Characteristic values backed by
// an access function have Char set and no static Value.
type Attribute struct {
	Handle uint16
	Type   gatt.UUID
	Value  []byte
	Perms  Perm

	// EndGroup is the last handle of a service, set on service declarations
	EndGroup uint16
	// Char is set on characteristic value attributes registered from a table
	Char *gatt.Characteristic
}

// Options configure the mandatory GAP service
type Options struct {
	DeviceName string
	Appearance uint16
}

// DB is a handle-indexed attribute database. Handles are dense and start
// at 0x0001; the database never changes after Build.
type DB struct {
	attrs []*Attribute
}

// Build lays out the Generic Access and Generic Attribute services followed
// by every service of the table, in declaration order.
func Build(table *gatt.Table, opts Options) (*DB, error) {
	if table == nil {
		return nil, fmt.Errorf("attdb: nil table")
	}
	db := &DB{}

	gap := db.addService(ServiceGenericAccess)
	db.addStatic(CharDeviceName, []byte(opts.DeviceName))
	db.addStatic(CharAppearance, binary.LittleEndian.AppendUint16(nil, opts.Appearance))
	gap.EndGroup = db.lastHandle()

	gattSvc := db.addService(ServiceGenericAttribute)
	gattSvc.EndGroup = db.lastHandle()

	for _, svc := range table.Services() {
		if !svc.Primary {
			return nil, fmt.Errorf("attdb: secondary service %s not supported", svc.UUID)
		}
		decl := db.addService(svc.UUID)
		for i := range svc.Characteristics {
			chr := svc.Characteristics[i]
			val := db.addCharacteristic(uint8(chr.Flags), chr.UUID)
			val.Char = &chr
			val.Perms = permsFor(chr.Flags)
		}
		decl.EndGroup = db.lastHandle()
	}

	if len(db.attrs) > 0xFFFF {
		return nil, fmt.Errorf("attdb: %d attributes exceed the handle space", len(db.attrs))
	}
	return db, nil
}

func permsFor(flags gatt.Flags) Perm {
	var p Perm
	if flags.Permits(gatt.OpRead) {
		p |= PermRead
	}
	if flags.Permits(gatt.OpWrite) {
		p |= PermWrite
	}
	return p
}

func (db *DB) lastHandle() uint16 {
	return uint16(len(db.attrs))
}

func (db *DB) add(typ gatt.UUID, value []byte, perms Perm) *Attribute {
	a := &Attribute{
		Handle: db.lastHandle() + 1,
		Type:   typ,
		Value:  value,
		Perms:  perms,
	}
	db.attrs = append(db.attrs, a)
	return a
}

func (db *DB) addService(uuid gatt.UUID) *Attribute {
	return db.add(TypePrimaryService, uuid.Bytes(), PermRead)
}

// addCharacteristic adds the declaration [props][value handle][uuid] and
// the value attribute that follows it.
func (db *DB) addCharacteristic(props uint8, uuid gatt.UUID) *Attribute {
	decl := []byte{props}
	decl = binary.LittleEndian.AppendUint16(decl, db.lastHandle()+2)
	decl = append(decl, uuid.Bytes()...)
	db.add(TypeCharacteristic, decl, PermRead)
	return db.add(uuid, nil, 0)
}

func (db *DB) addStatic(uuid gatt.UUID, value []byte) {
	val := db.addCharacteristic(uint8(gatt.FlagRead), uuid)
	val.Value = value
	val.Perms = PermRead
}

// Len returns the number of attributes
func (db *DB) Len() int {
	return len(db.attrs)
}

// Get returns the attribute at handle
func (db *DB) Get(handle uint16) (*Attribute, bool) {
	if handle == 0 || int(handle) > len(db.attrs) {
		return nil, false
	}
	return db.attrs[handle-1], true
}

// Range returns the attributes with start <= handle <= end
func (db *DB) Range(start, end uint16) []*Attribute {
	if start == 0 {
		start = 1
	}
	if int(end) > len(db.attrs) {
		end = uint16(len(db.attrs))
	}
	if start > end {
		return nil
	}
	return db.attrs[start-1 : end]
}

// ValueHandle returns the value handle of a characteristic by service and characteristic UUID
func (db *DB) ValueHandle(service, characteristic gatt.UUID) (uint16, bool) {
	for _, a := range db.attrs {
		if !a.Type.Equal(TypePrimaryService) {
			continue
		}
		svc, err := gatt.UUIDFromBytes(a.Value)
		if err != nil || !svc.Equal(service) {
			continue
		}
		for _, c := range db.Range(a.Handle+1, a.EndGroup) {
			if c.Type.Equal(characteristic) && !c.Type.Equal(TypeCharacteristic) {
				return c.Handle, true
			}
		}
	}
	return 0, false
}
