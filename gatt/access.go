package gatt

import (
	"bytes"
	"fmt"
)

// Flags are characteristic properties as advertised in the characteristic
// declaration. The values match the ATT property bits.
type Flags uint8

const (
	FlagRead  Flags = 0x02
	FlagWrite Flags = 0x08
)

func (f Flags) String() string {
	switch f {
	case FlagRead:
		return "read"
	case FlagWrite:
		return "write"
	case FlagRead | FlagWrite:
		return "read|write"
	}
	return fmt.Sprintf("Flags(0x%02X)", uint8(f))
}

// AccessOp is the kind of access an engine requests from a characteristic
type AccessOp int

const (
	OpRead AccessOp = iota
	OpWrite
)

func (op AccessOp) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	}
	return fmt.Sprintf("AccessOp(%d)", int(op))
}

// Permits reports whether flags allow op
func (f Flags) Permits(op AccessOp) bool {
	switch op {
	case OpRead:
		return f&FlagRead != 0
	case OpWrite:
		return f&FlagWrite != 0
	}
	return false
}

// Status is the result of an access callback. Non-success values are ATT
// error codes and are sent to the peer unchanged.
type Status uint8

const (
	StatusSuccess               Status = 0x00
	StatusInvalidHandle         Status = 0x01
	StatusReadNotPermitted      Status = 0x02
	StatusWriteNotPermitted     Status = 0x03
	StatusAttributeNotFound     Status = 0x0A
	StatusUnlikely              Status = 0x0E
	StatusInsufficientResources Status = 0x11
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusInvalidHandle:
		return "invalid handle"
	case StatusReadNotPermitted:
		return "read not permitted"
	case StatusWriteNotPermitted:
		return "write not permitted"
	case StatusAttributeNotFound:
		return "attribute not found"
	case StatusUnlikely:
		return "unlikely error"
	case StatusInsufficientResources:
		return "insufficient resources"
	}
	return fmt.Sprintf("Status(0x%02X)", uint8(s))
}

// AccessContext describes one characteristic access. Data and Out are owned
// by the engine and valid only for the duration of the callback.
type AccessContext struct {
	Op             AccessOp
	ConnHandle     uint16
	AttrHandle     uint16
	Characteristic UUID

	// Data holds the bytes written by the peer (OpWrite)
	Data []byte
	// Out receives the value returned to the peer (OpRead)
	Out *bytes.Buffer
}

// AccessFunc serves reads or writes of one characteristic
type AccessFunc func(ctx *AccessContext) Status
