package gatt

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// baseUUID is the Bluetooth Base UUID 00000000-0000-1000-8000-00805F9B34FB
var baseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// UUID identifies a service, characteristic or attribute type. 16-bit
// UUIDs are stored as their alias in the Bluetooth base UUID.
type UUID struct {
	u uuid.UUID
}

// UUID16 returns the 128-bit form of a 16-bit Bluetooth UUID
func UUID16(v uint16) UUID {
	u := baseUUID
	u[2] = byte(v >> 8)
	u[3] = byte(v)
	return UUID{u: u}
}

// ParseUUID accepts a 4-hex-digit short form ("180F", "0x180F") or any
// form understood by uuid.Parse.
func ParseUUID(s string) (UUID, error) {
	short := s
	if len(short) == 6 && (short[:2] == "0x" || short[:2] == "0X") {
		short = short[2:]
	}
	if len(short) == 4 {
		if v, err := strconv.ParseUint(short, 16, 16); err == nil {
			return UUID16(uint16(v)), nil
		}
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, fmt.Errorf("gatt: invalid uuid %q: %w", s, err)
	}
	return UUID{u: u}, nil
}

// MustParseUUID is ParseUUID that panics on error
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// UUIDFromBytes decodes the little-endian wire form used by ATT (2 or 16 bytes)
func UUIDFromBytes(b []byte) (UUID, error) {
	switch len(b) {
	case 2:
		return UUID16(uint16(b[0]) | uint16(b[1])<<8), nil
	case 16:
		var u uuid.UUID
		for i := range b {
			u[15-i] = b[i]
		}
		return UUID{u: u}, nil
	}
	return UUID{}, fmt.Errorf("gatt: invalid uuid length %d", len(b))
}

// Is16Bit reports whether the UUID is an alias in the Bluetooth base UUID
func (u UUID) Is16Bit() bool {
	if u.u[0] != 0 || u.u[1] != 0 {
		return false
	}
	for i := 4; i < 16; i++ {
		if u.u[i] != baseUUID[i] {
			return false
		}
	}
	return true
}

// Uint16 returns the 16-bit alias. Only meaningful when Is16Bit is true.
func (u UUID) Uint16() uint16 {
	return uint16(u.u[2])<<8 | uint16(u.u[3])
}

// Bytes returns the little-endian wire form: 2 bytes for 16-bit UUIDs, 16 otherwise
func (u UUID) Bytes() []byte {
	if u.Is16Bit() {
		v := u.Uint16()
		return []byte{byte(v), byte(v >> 8)}
	}
	b := make([]byte, 16)
	for i := range b {
		b[i] = u.u[15-i]
	}
	return b
}

// Equal reports whether two UUIDs are the same
func (u UUID) Equal(o UUID) bool {
	return u.u == o.u
}

// IsZero reports whether the UUID is unset
func (u UUID) IsZero() bool {
	return u.u == uuid.Nil
}

// UUID returns the canonical 128-bit value
func (u UUID) UUID() uuid.UUID {
	return u.u
}

// String returns "0xABCD" for 16-bit UUIDs and the canonical form otherwise
func (u UUID) String() string {
	if u.Is16Bit() {
		return fmt.Sprintf("0x%04X", u.Uint16())
	}
	return u.u.String()
}
