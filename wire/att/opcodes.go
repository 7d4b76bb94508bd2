package att

// ATT opcodes (Core Spec Vol 3, Part F, 3.4.8). Only the subset a
// single-connection, notification-free GATT server needs is carried.
const (
	OpErrorResponse = 0x01

	OpFindInformationRequest  = 0x04
	OpFindInformationResponse = 0x05

	OpReadByTypeRequest  = 0x08
	OpReadByTypeResponse = 0x09
	OpReadRequest        = 0x0A
	OpReadResponse       = 0x0B

	OpReadByGroupTypeRequest  = 0x10
	OpReadByGroupTypeResponse = 0x11

	OpWriteRequest  = 0x12
	OpWriteResponse = 0x13

	OpWriteCommand = 0x52
)

// OpcodeNames maps opcodes to human-readable names for logs
var OpcodeNames = map[uint8]string{
	OpErrorResponse:           "Error Response",
	OpFindInformationRequest:  "Find Information Request",
	OpFindInformationResponse: "Find Information Response",
	OpReadByTypeRequest:       "Read By Type Request",
	OpReadByTypeResponse:      "Read By Type Response",
	OpReadRequest:             "Read Request",
	OpReadResponse:            "Read Response",
	OpReadByGroupTypeRequest:  "Read By Group Type Request",
	OpReadByGroupTypeResponse: "Read By Group Type Response",
	OpWriteRequest:            "Write Request",
	OpWriteResponse:           "Write Response",
	OpWriteCommand:            "Write Command",
}

// ResponseOpcode returns the response opcode paired with a request opcode,
// or 0 when the opcode expects no response.
func ResponseOpcode(request uint8) uint8 {
	switch request {
	case OpFindInformationRequest:
		return OpFindInformationResponse
	case OpReadByTypeRequest:
		return OpReadByTypeResponse
	case OpReadRequest:
		return OpReadResponse
	case OpReadByGroupTypeRequest:
		return OpReadByGroupTypeResponse
	case OpWriteRequest:
		return OpWriteResponse
	}
	return 0
}

// IsRequest reports whether the opcode expects a response
func IsRequest(opcode uint8) bool {
	return ResponseOpcode(opcode) != 0
}
