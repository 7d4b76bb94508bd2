package att

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultMTU is the LE ATT_MTU before any exchange. MTU negotiation is not
// supported, so every PDU on the link fits in this many bytes.
const DefaultMTU = 23

// Find Information response formats
const (
	FormatUUID16  = 0x01
	FormatUUID128 = 0x02
)

// ErrShortPDU is returned when a PDU is shorter than its fixed fields
var ErrShortPDU = errors.New("att: pdu too short")

// PDU is any ATT protocol data unit handled by this package
type PDU interface {
	Opcode() uint8
}

// ErrorResponse (0x01)
type ErrorResponse struct {
	RequestOpcode uint8
	Handle        uint16
	Code          uint8
}

// FindInformationRequest (0x04)
type FindInformationRequest struct {
	StartHandle uint16
	EndHandle   uint16
}

// HandleUUID is one (handle, type) pair of a Find Information response
type HandleUUID struct {
	Handle uint16
	UUID   []byte // 2 or 16 bytes, little-endian
}

// FindInformationResponse (0x05). All entries share one UUID width.
type FindInformationResponse struct {
	Entries []HandleUUID
}

// ReadByTypeRequest (0x08)
type ReadByTypeRequest struct {
	StartHandle uint16
	EndHandle   uint16
	Type        []byte
}

// HandleValue is one (handle, value) pair of a Read By Type response
type HandleValue struct {
	Handle uint16
	Value  []byte
}

// ReadByTypeResponse (0x09). All values share one length.
type ReadByTypeResponse struct {
	Entries []HandleValue
}

// ReadRequest (0x0A)
type ReadRequest struct {
	Handle uint16
}

// ReadResponse (0x0B)
type ReadResponse struct {
	Value []byte
}

// ReadByGroupTypeRequest (0x10)
type ReadByGroupTypeRequest struct {
	StartHandle uint16
	EndHandle   uint16
	Type        []byte
}

// GroupEntry is one (handle, end group handle, value) tuple of a Read By Group Type response
type GroupEntry struct {
	Handle         uint16
	EndGroupHandle uint16
	Value          []byte
}

// ReadByGroupTypeResponse (0x11). All values share one length.
type ReadByGroupTypeResponse struct {
	Entries []GroupEntry
}

// WriteRequest (0x12)
type WriteRequest struct {
	Handle uint16
	Value  []byte
}

// WriteResponse (0x13)
type WriteResponse struct{}

// WriteCommand (0x52)
type WriteCommand struct {
	Handle uint16
	Value  []byte
}

func (*ErrorResponse) Opcode() uint8           { return OpErrorResponse }
func (*FindInformationRequest) Opcode() uint8  { return OpFindInformationRequest }
func (*FindInformationResponse) Opcode() uint8 { return OpFindInformationResponse }
func (*ReadByTypeRequest) Opcode() uint8       { return OpReadByTypeRequest }
func (*ReadByTypeResponse) Opcode() uint8      { return OpReadByTypeResponse }
func (*ReadRequest) Opcode() uint8             { return OpReadRequest }
func (*ReadResponse) Opcode() uint8            { return OpReadResponse }
func (*ReadByGroupTypeRequest) Opcode() uint8  { return OpReadByGroupTypeRequest }
func (*ReadByGroupTypeResponse) Opcode() uint8 { return OpReadByGroupTypeResponse }
func (*WriteRequest) Opcode() uint8            { return OpWriteRequest }
func (*WriteResponse) Opcode() uint8           { return OpWriteResponse }
func (*WriteCommand) Opcode() uint8            { return OpWriteCommand }

func putHandles(buf []byte, start, end uint16) {
	binary.LittleEndian.PutUint16(buf[0:2], start)
	binary.LittleEndian.PutUint16(buf[2:4], end)
}

// EncodePacket encodes an ATT PDU to its wire form
func EncodePacket(pdu PDU) ([]byte, error) {
	switch p := pdu.(type) {
	case *ErrorResponse:
		buf := make([]byte, 5)
		buf[0] = OpErrorResponse
		buf[1] = p.RequestOpcode
		binary.LittleEndian.PutUint16(buf[2:4], p.Handle)
		buf[4] = p.Code
		return buf, nil

	case *FindInformationRequest:
		buf := make([]byte, 5)
		buf[0] = OpFindInformationRequest
		putHandles(buf[1:], p.StartHandle, p.EndHandle)
		return buf, nil

	case *FindInformationResponse:
		if len(p.Entries) == 0 {
			return nil, fmt.Errorf("att: empty find information response")
		}
		width := len(p.Entries[0].UUID)
		format := uint8(FormatUUID16)
		switch width {
		case 2:
		case 16:
			format = FormatUUID128
		default:
			return nil, fmt.Errorf("att: invalid uuid width %d", width)
		}
		buf := []byte{OpFindInformationResponse, format}
		for _, e := range p.Entries {
			if len(e.UUID) != width {
				return nil, fmt.Errorf("att: mixed uuid widths in find information response")
			}
			buf = binary.LittleEndian.AppendUint16(buf, e.Handle)
			buf = append(buf, e.UUID...)
		}
		return buf, nil

	case *ReadByTypeRequest:
		buf := make([]byte, 5, 5+len(p.Type))
		buf[0] = OpReadByTypeRequest
		putHandles(buf[1:], p.StartHandle, p.EndHandle)
		return append(buf, p.Type...), nil

	case *ReadByTypeResponse:
		if len(p.Entries) == 0 {
			return nil, fmt.Errorf("att: empty read by type response")
		}
		vlen := len(p.Entries[0].Value)
		if 2+vlen > 0xFF {
			return nil, fmt.Errorf("att: read by type value too long (%d)", vlen)
		}
		buf := []byte{OpReadByTypeResponse, uint8(2 + vlen)}
		for _, e := range p.Entries {
			if len(e.Value) != vlen {
				return nil, fmt.Errorf("att: mixed value lengths in read by type response")
			}
			buf = binary.LittleEndian.AppendUint16(buf, e.Handle)
			buf = append(buf, e.Value...)
		}
		return buf, nil

	case *ReadRequest:
		buf := make([]byte, 3)
		buf[0] = OpReadRequest
		binary.LittleEndian.PutUint16(buf[1:3], p.Handle)
		return buf, nil

	case *ReadResponse:
		return append([]byte{OpReadResponse}, p.Value...), nil

	case *ReadByGroupTypeRequest:
		buf := make([]byte, 5, 5+len(p.Type))
		buf[0] = OpReadByGroupTypeRequest
		putHandles(buf[1:], p.StartHandle, p.EndHandle)
		return append(buf, p.Type...), nil

	case *ReadByGroupTypeResponse:
		if len(p.Entries) == 0 {
			return nil, fmt.Errorf("att: empty read by group type response")
		}
		vlen := len(p.Entries[0].Value)
		if 4+vlen > 0xFF {
			return nil, fmt.Errorf("att: read by group type value too long (%d)", vlen)
		}
		buf := []byte{OpReadByGroupTypeResponse, uint8(4 + vlen)}
		for _, e := range p.Entries {
			if len(e.Value) != vlen {
				return nil, fmt.Errorf("att: mixed value lengths in read by group type response")
			}
			buf = binary.LittleEndian.AppendUint16(buf, e.Handle)
			buf = binary.LittleEndian.AppendUint16(buf, e.EndGroupHandle)
			buf = append(buf, e.Value...)
		}
		return buf, nil

	case *WriteRequest:
		buf := make([]byte, 3, 3+len(p.Value))
		buf[0] = OpWriteRequest
		binary.LittleEndian.PutUint16(buf[1:3], p.Handle)
		return append(buf, p.Value...), nil

	case *WriteResponse:
		return []byte{OpWriteResponse}, nil

	case *WriteCommand:
		buf := make([]byte, 3, 3+len(p.Value))
		buf[0] = OpWriteCommand
		binary.LittleEndian.PutUint16(buf[1:3], p.Handle)
		return append(buf, p.Value...), nil
	}
	return nil, fmt.Errorf("att: unknown packet type %T", pdu)
}

// DecodePacket decodes an ATT PDU. Unknown opcodes yield an *Error carrying
// ErrRequestNotSupported so servers can answer them directly.
func DecodePacket(data []byte) (PDU, error) {
	if len(data) < 1 {
		return nil, ErrShortPDU
	}
	op, body := data[0], data[1:]

	need := func(n int) error {
		if len(body) < n {
			return fmt.Errorf("%w: %s needs %d bytes, got %d", ErrShortPDU, OpcodeNames[op], n, len(body))
		}
		return nil
	}

	switch op {
	case OpErrorResponse:
		if err := need(4); err != nil {
			return nil, err
		}
		return &ErrorResponse{
			RequestOpcode: body[0],
			Handle:        binary.LittleEndian.Uint16(body[1:3]),
			Code:          body[3],
		}, nil

	case OpFindInformationRequest:
		if err := need(4); err != nil {
			return nil, err
		}
		return &FindInformationRequest{
			StartHandle: binary.LittleEndian.Uint16(body[0:2]),
			EndHandle:   binary.LittleEndian.Uint16(body[2:4]),
		}, nil

	case OpFindInformationResponse:
		if err := need(1); err != nil {
			return nil, err
		}
		width := 2
		if body[0] == FormatUUID128 {
			width = 16
		}
		resp := &FindInformationResponse{}
		for rest := body[1:]; len(rest) >= 2+width; rest = rest[2+width:] {
			resp.Entries = append(resp.Entries, HandleUUID{
				Handle: binary.LittleEndian.Uint16(rest[0:2]),
				UUID:   append([]byte{}, rest[2:2+width]...),
			})
		}
		return resp, nil

	case OpReadByTypeRequest, OpReadByGroupTypeRequest:
		if err := need(6); err != nil {
			return nil, err
		}
		start := binary.LittleEndian.Uint16(body[0:2])
		end := binary.LittleEndian.Uint16(body[2:4])
		typ := append([]byte{}, body[4:]...)
		if op == OpReadByTypeRequest {
			return &ReadByTypeRequest{StartHandle: start, EndHandle: end, Type: typ}, nil
		}
		return &ReadByGroupTypeRequest{StartHandle: start, EndHandle: end, Type: typ}, nil

	case OpReadByTypeResponse:
		if err := need(1); err != nil {
			return nil, err
		}
		size := int(body[0])
		if size < 2 {
			return nil, fmt.Errorf("att: invalid read by type entry length %d", size)
		}
		resp := &ReadByTypeResponse{}
		for rest := body[1:]; len(rest) >= size; rest = rest[size:] {
			resp.Entries = append(resp.Entries, HandleValue{
				Handle: binary.LittleEndian.Uint16(rest[0:2]),
				Value:  append([]byte{}, rest[2:size]...),
			})
		}
		return resp, nil

	case OpReadRequest:
		if err := need(2); err != nil {
			return nil, err
		}
		return &ReadRequest{Handle: binary.LittleEndian.Uint16(body[0:2])}, nil

	case OpReadResponse:
		return &ReadResponse{Value: append([]byte{}, body...)}, nil

	case OpReadByGroupTypeResponse:
		if err := need(1); err != nil {
			return nil, err
		}
		size := int(body[0])
		if size < 4 {
			return nil, fmt.Errorf("att: invalid read by group type entry length %d", size)
		}
		resp := &ReadByGroupTypeResponse{}
		for rest := body[1:]; len(rest) >= size; rest = rest[size:] {
			resp.Entries = append(resp.Entries, GroupEntry{
				Handle:         binary.LittleEndian.Uint16(rest[0:2]),
				EndGroupHandle: binary.LittleEndian.Uint16(rest[2:4]),
				Value:          append([]byte{}, rest[4:size]...),
			})
		}
		return resp, nil

	case OpWriteRequest, OpWriteCommand:
		if err := need(2); err != nil {
			return nil, err
		}
		handle := binary.LittleEndian.Uint16(body[0:2])
		value := append([]byte{}, body[2:]...)
		if op == OpWriteRequest {
			return &WriteRequest{Handle: handle, Value: value}, nil
		}
		return &WriteCommand{Handle: handle, Value: value}, nil

	case OpWriteResponse:
		return &WriteResponse{}, nil
	}
	return nil, NewError(ErrRequestNotSupported, op, 0)
}
