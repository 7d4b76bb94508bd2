package attdb

import (
	"bytes"

	"github.com/user/bletera/gatt"
	"github.com/user/bletera/wire/att"
)

// Accessor runs a characteristic's access function. Engines supply one so
// handlers execute in their own serialized context.
type Accessor func(chr *gatt.Characteristic, ctx *gatt.AccessContext) gatt.Status

// Server answers ATT requests from a DB
type Server struct {
	db     *DB
	mtu    int
	access Accessor
}

// NewServer creates a server over db using the default ATT MTU
func NewServer(db *DB, access Accessor) *Server {
	if access == nil {
		access = func(chr *gatt.Characteristic, ctx *gatt.AccessContext) gatt.Status {
			return chr.Access(ctx)
		}
	}
	return &Server{db: db, mtu: att.DefaultMTU, access: access}
}

func errorResponse(op uint8, handle uint16, code uint8) *att.ErrorResponse {
	return &att.ErrorResponse{RequestOpcode: op, Handle: handle, Code: code}
}

// Handle serves one PDU received on connHandle and returns the response.
// Commands and unsolicited responses return nil.
func (s *Server) Handle(connHandle uint16, pdu att.PDU) att.PDU {
	switch req := pdu.(type) {
	case *att.ReadRequest:
		a, ok := s.db.Get(req.Handle)
		if !ok {
			return errorResponse(att.OpReadRequest, req.Handle, att.ErrInvalidHandle)
		}
		value, code := s.read(connHandle, a)
		if code != 0 {
			return errorResponse(att.OpReadRequest, req.Handle, code)
		}
		if len(value) > s.mtu-1 {
			value = value[:s.mtu-1]
		}
		return &att.ReadResponse{Value: value}

	case *att.WriteRequest:
		a, ok := s.db.Get(req.Handle)
		if !ok {
			return errorResponse(att.OpWriteRequest, req.Handle, att.ErrInvalidHandle)
		}
		if code := s.write(connHandle, a, req.Value); code != 0 {
			return errorResponse(att.OpWriteRequest, req.Handle, code)
		}
		return &att.WriteResponse{}

	case *att.WriteCommand:
		if a, ok := s.db.Get(req.Handle); ok {
			s.write(connHandle, a, req.Value)
		}
		return nil

	case *att.ReadByGroupTypeRequest:
		return s.readByGroupType(req)

	case *att.ReadByTypeRequest:
		return s.readByType(connHandle, req)

	case *att.FindInformationRequest:
		return s.findInformation(req)
	}

	if att.IsRequest(pdu.Opcode()) {
		return errorResponse(pdu.Opcode(), 0x0000, att.ErrRequestNotSupported)
	}
	return nil
}

func (s *Server) read(connHandle uint16, a *Attribute) ([]byte, uint8) {
	if a.Perms&PermRead == 0 {
		return nil, att.ErrReadNotPermitted
	}
	if a.Char == nil {
		return a.Value, 0
	}

	out := &bytes.Buffer{}
	status := s.access(a.Char, &gatt.AccessContext{
		Op:             gatt.OpRead,
		ConnHandle:     connHandle,
		AttrHandle:     a.Handle,
		Characteristic: a.Char.UUID,
		Out:            out,
	})
	if status != gatt.StatusSuccess {
		return nil, uint8(status)
	}
	return out.Bytes(), 0
}

func (s *Server) write(connHandle uint16, a *Attribute, value []byte) uint8 {
	if a.Perms&PermWrite == 0 || a.Char == nil {
		return att.ErrWriteNotPermitted
	}
	status := s.access(a.Char, &gatt.AccessContext{
		Op:             gatt.OpWrite,
		ConnHandle:     connHandle,
		AttrHandle:     a.Handle,
		Characteristic: a.Char.UUID,
		Data:           value,
	})
	return uint8(status)
}

func validRange(start, end uint16) bool {
	return start != 0 && start <= end
}

func (s *Server) readByGroupType(req *att.ReadByGroupTypeRequest) att.PDU {
	if !validRange(req.StartHandle, req.EndHandle) {
		return errorResponse(att.OpReadByGroupTypeRequest, req.StartHandle, att.ErrInvalidHandle)
	}
	typ, err := gatt.UUIDFromBytes(req.Type)
	if err != nil {
		return errorResponse(att.OpReadByGroupTypeRequest, req.StartHandle, att.ErrInvalidPDU)
	}
	if !typ.Equal(TypePrimaryService) {
		return errorResponse(att.OpReadByGroupTypeRequest, req.StartHandle, att.ErrUnsupportedGroupType)
	}

	resp := &att.ReadByGroupTypeResponse{}
	for _, a := range s.db.Range(req.StartHandle, req.EndHandle) {
		if !a.Type.Equal(TypePrimaryService) {
			continue
		}
		if len(resp.Entries) > 0 {
			if len(a.Value) != len(resp.Entries[0].Value) {
				break
			}
			if 2+(len(resp.Entries)+1)*(4+len(a.Value)) > s.mtu {
				break
			}
		}
		resp.Entries = append(resp.Entries, att.GroupEntry{
			Handle:         a.Handle,
			EndGroupHandle: a.EndGroup,
			Value:          a.Value,
		})
	}
	if len(resp.Entries) == 0 {
		return errorResponse(att.OpReadByGroupTypeRequest, req.StartHandle, att.ErrAttributeNotFound)
	}
	return resp
}

func (s *Server) readByType(connHandle uint16, req *att.ReadByTypeRequest) att.PDU {
	if !validRange(req.StartHandle, req.EndHandle) {
		return errorResponse(att.OpReadByTypeRequest, req.StartHandle, att.ErrInvalidHandle)
	}
	typ, err := gatt.UUIDFromBytes(req.Type)
	if err != nil {
		return errorResponse(att.OpReadByTypeRequest, req.StartHandle, att.ErrInvalidPDU)
	}

	maxValue := s.mtu - 4
	resp := &att.ReadByTypeResponse{}
	for _, a := range s.db.Range(req.StartHandle, req.EndHandle) {
		if !a.Type.Equal(typ) {
			continue
		}
		value, code := s.read(connHandle, a)
		if code != 0 {
			if len(resp.Entries) == 0 {
				return errorResponse(att.OpReadByTypeRequest, a.Handle, code)
			}
			break
		}
		if len(value) > maxValue {
			value = value[:maxValue]
		}
		if len(resp.Entries) > 0 {
			if len(value) != len(resp.Entries[0].Value) {
				break
			}
			if 2+(len(resp.Entries)+1)*(2+len(value)) > s.mtu {
				break
			}
		}
		resp.Entries = append(resp.Entries, att.HandleValue{Handle: a.Handle, Value: value})
	}
	if len(resp.Entries) == 0 {
		return errorResponse(att.OpReadByTypeRequest, req.StartHandle, att.ErrAttributeNotFound)
	}
	return resp
}

func (s *Server) findInformation(req *att.FindInformationRequest) att.PDU {
	if !validRange(req.StartHandle, req.EndHandle) {
		return errorResponse(att.OpFindInformationRequest, req.StartHandle, att.ErrInvalidHandle)
	}

	resp := &att.FindInformationResponse{}
	for _, a := range s.db.Range(req.StartHandle, req.EndHandle) {
		typ := a.Type.Bytes()
		if len(resp.Entries) > 0 {
			if len(typ) != len(resp.Entries[0].UUID) {
				break
			}
			if 2+(len(resp.Entries)+1)*(2+len(typ)) > s.mtu {
				break
			}
		}
		resp.Entries = append(resp.Entries, att.HandleUUID{Handle: a.Handle, UUID: typ})
	}
	if len(resp.Entries) == 0 {
		return errorResponse(att.OpFindInformationRequest, req.StartHandle, att.ErrAttributeNotFound)
	}
	return resp
}
