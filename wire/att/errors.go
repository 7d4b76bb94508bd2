package att

import (
	"errors"
	"fmt"
)

// ATT error codes (Core Spec Vol 3, Part F, 3.4.1.1)
const (
	ErrInvalidHandle           = 0x01
	ErrReadNotPermitted        = 0x02
	ErrWriteNotPermitted       = 0x03
	ErrInvalidPDU              = 0x04
	ErrInsufficientAuthn       = 0x05
	ErrRequestNotSupported     = 0x06
	ErrInvalidOffset           = 0x07
	ErrInsufficientAuthz       = 0x08
	ErrAttributeNotFound       = 0x0A
	ErrAttributeNotLong        = 0x0B
	ErrInvalidAttrValueLength  = 0x0D
	ErrUnlikely                = 0x0E
	ErrUnsupportedGroupType    = 0x10
	ErrInsufficientResources   = 0x11
	ErrApplicationErrorStart   = 0x80
	ErrApplicationErrorEnd     = 0x9F
	ErrCommonProfileErrorStart = 0xE0
)

// ErrorNames maps error codes to human-readable names
var ErrorNames = map[uint8]string{
	ErrInvalidHandle:          "Invalid Handle",
	ErrReadNotPermitted:       "Read Not Permitted",
	ErrWriteNotPermitted:      "Write Not Permitted",
	ErrInvalidPDU:             "Invalid PDU",
	ErrInsufficientAuthn:      "Insufficient Authentication",
	ErrRequestNotSupported:    "Request Not Supported",
	ErrInvalidOffset:          "Invalid Offset",
	ErrInsufficientAuthz:      "Insufficient Authorization",
	ErrAttributeNotFound:      "Attribute Not Found",
	ErrAttributeNotLong:       "Attribute Not Long",
	ErrInvalidAttrValueLength: "Invalid Attribute Value Length",
	ErrUnlikely:               "Unlikely Error",
	ErrUnsupportedGroupType:   "Unsupported Group Type",
	ErrInsufficientResources:  "Insufficient Resources",
}

// Error is an ATT Error Response surfaced as a Go error
type Error struct {
	Code          uint8
	RequestOpcode uint8
	Handle        uint16
}

func (e *Error) Error() string {
	name, ok := ErrorNames[e.Code]
	if !ok {
		switch {
		case e.Code >= ErrApplicationErrorStart && e.Code <= ErrApplicationErrorEnd:
			name = fmt.Sprintf("Application Error (0x%02X)", e.Code)
		case e.Code >= ErrCommonProfileErrorStart:
			name = fmt.Sprintf("Common Profile Error (0x%02X)", e.Code)
		default:
			name = fmt.Sprintf("Unknown Error (0x%02X)", e.Code)
		}
	}

	opName, ok := OpcodeNames[e.RequestOpcode]
	if !ok {
		opName = fmt.Sprintf("0x%02X", e.RequestOpcode)
	}
	return fmt.Sprintf("att: %s (handle 0x%04X, request %s)", name, e.Handle, opName)
}

// NewError creates a new ATT error
func NewError(code uint8, requestOpcode uint8, handle uint16) *Error {
	return &Error{Code: code, RequestOpcode: requestOpcode, Handle: handle}
}

// ErrorCode returns the ATT error code carried by err, or 0 if err is not an ATT error
func ErrorCode(err error) uint8 {
	var attErr *Error
	if errors.As(err, &attErr) {
		return attErr.Code
	}
	return 0
}

// IsATTError reports whether err carries the given ATT error code
func IsATTError(err error, code uint8) bool {
	return ErrorCode(err) == code
}
