package advertising

import (
	"errors"
	"fmt"
)

// Link Layer advertising channel PDU types
const (
	PDUTypeAdvInd        = 0x00 // Connectable undirected
	PDUTypeAdvDirectInd  = 0x01 // Connectable directed
	PDUTypeAdvNonconnInd = 0x02 // Non-connectable undirected
	PDUTypeAdvScanInd    = 0x06 // Scannable undirected
)

// headerTxAdd marks AdvA as a random device address
const headerTxAdd = 0x40

// AD types (Core Spec Supplement, Part A)
const (
	ADTypeFlags                     = 0x01
	ADTypeComplete16BitServiceUUIDs = 0x03
	ADTypeShortenedLocalName        = 0x08
	ADTypeCompleteLocalName         = 0x09
	ADTypeTxPowerLevel              = 0x0A
	ADTypeAppearance                = 0x19
)

// Flags AD bits
const (
	FlagLELimitedDiscoverableMode = 0x01
	FlagLEGeneralDiscoverableMode = 0x02
	FlagBREDRNotSupported         = 0x04
)

const (
	MaxAdvertisingDataLen = 31 // legacy advertising payload limit
	AddressLen            = 6
)

// ErrDataTooLong is returned when AD structures exceed MaxAdvertisingDataLen
var ErrDataTooLong = errors.New("advertising: data exceeds 31 bytes")

// ADStructure is one Length-Type-Value element of the advertising payload.
// The encoded length byte counts the type byte and the data.
type ADStructure struct {
	Type byte
	Data []byte
}

// AdvertisingPDU is a Link Layer advertising packet.
// Format: [Header: 1] [Length: 1] [AdvA: 6] [AdvData: 0-31]
type AdvertisingPDU struct {
	PDUType    byte
	RandomAddr bool
	AdvA       [AddressLen]byte
	AdvData    []byte
}

// Connectable reports whether a central may answer this PDU with a connect request
func (pdu *AdvertisingPDU) Connectable() bool {
	return pdu.PDUType == PDUTypeAdvInd || pdu.PDUType == PDUTypeAdvDirectInd
}

// Encode serializes the PDU
func (pdu *AdvertisingPDU) Encode() ([]byte, error) {
	if len(pdu.AdvData) > MaxAdvertisingDataLen {
		return nil, fmt.Errorf("%w: %d", ErrDataTooLong, len(pdu.AdvData))
	}
	header := pdu.PDUType & 0x0F
	if pdu.RandomAddr {
		header |= headerTxAdd
	}
	buf := make([]byte, 0, 2+AddressLen+len(pdu.AdvData))
	buf = append(buf, header, byte(AddressLen+len(pdu.AdvData)))
	buf = append(buf, pdu.AdvA[:]...)
	return append(buf, pdu.AdvData...), nil
}

// DecodeAdvertisingPDU parses a PDU produced by Encode
func DecodeAdvertisingPDU(data []byte) (*AdvertisingPDU, error) {
	if len(data) < 2+AddressLen {
		return nil, errors.New("advertising: pdu too short")
	}
	payloadLen := int(data[1])
	if payloadLen < AddressLen {
		return nil, fmt.Errorf("advertising: invalid payload length %d", payloadLen)
	}
	if len(data) < 2+payloadLen {
		return nil, fmt.Errorf("advertising: pdu truncated: expected %d bytes, got %d", 2+payloadLen, len(data))
	}
	if payloadLen-AddressLen > MaxAdvertisingDataLen {
		return nil, fmt.Errorf("%w: %d", ErrDataTooLong, payloadLen-AddressLen)
	}

	pdu := &AdvertisingPDU{
		PDUType:    data[0] & 0x0F,
		RandomAddr: data[0]&headerTxAdd != 0,
		AdvData:    append([]byte{}, data[2+AddressLen:2+payloadLen]...),
	}
	copy(pdu.AdvA[:], data[2:2+AddressLen])
	return pdu, nil
}

// EncodeADStructures concatenates AD structures into an advertising payload
func EncodeADStructures(structures []ADStructure) ([]byte, error) {
	var buf []byte
	for _, s := range structures {
		if 1+len(s.Data) > 0xFF {
			return nil, fmt.Errorf("advertising: AD structure 0x%02X too long", s.Type)
		}
		buf = append(buf, byte(1+len(s.Data)), s.Type)
		buf = append(buf, s.Data...)
	}
	if len(buf) > MaxAdvertisingDataLen {
		return nil, fmt.Errorf("%w: %d", ErrDataTooLong, len(buf))
	}
	return buf, nil
}

// DecodeADStructures splits an advertising payload. A zero length byte ends
// the significant part of the payload.
func DecodeADStructures(data []byte) ([]ADStructure, error) {
	var structures []ADStructure
	for offset := 0; offset < len(data); {
		length := int(data[offset])
		if length == 0 {
			break
		}
		offset++
		if offset+length > len(data) {
			return nil, fmt.Errorf("advertising: AD length %d exceeds remaining %d bytes", length, len(data)-offset)
		}
		structures = append(structures, ADStructure{
			Type: data[offset],
			Data: append([]byte{}, data[offset+1:offset+length]...),
		})
		offset += length
	}
	return structures, nil
}

// NewFlagsAD creates a Flags AD structure
func NewFlagsAD(flags byte) ADStructure {
	return ADStructure{Type: ADTypeFlags, Data: []byte{flags}}
}

// NewLocalNameAD creates a Complete or Shortened Local Name AD structure
func NewLocalNameAD(name string, complete bool) ADStructure {
	t := byte(ADTypeShortenedLocalName)
	if complete {
		t = ADTypeCompleteLocalName
	}
	return ADStructure{Type: t, Data: []byte(name)}
}

// NewTxPowerLevelAD creates a Tx Power Level AD structure
func NewTxPowerLevelAD(dbm int8) ADStructure {
	return ADStructure{Type: ADTypeTxPowerLevel, Data: []byte{byte(dbm)}}
}

// LocalName returns the local name carried by the structures and whether it is complete
func LocalName(structures []ADStructure) (name string, complete bool, ok bool) {
	for _, s := range structures {
		switch s.Type {
		case ADTypeCompleteLocalName:
			return string(s.Data), true, true
		case ADTypeShortenedLocalName:
			return string(s.Data), false, true
		}
	}
	return "", false, false
}

// Flags returns the Flags AD value if present
func Flags(structures []ADStructure) (byte, bool) {
	for _, s := range structures {
		if s.Type == ADTypeFlags && len(s.Data) > 0 {
			return s.Data[0], true
		}
	}
	return 0, false
}

// PDUTypeName returns a human-readable name for a PDU type
func PDUTypeName(pduType byte) string {
	switch pduType {
	case PDUTypeAdvInd:
		return "ADV_IND"
	case PDUTypeAdvDirectInd:
		return "ADV_DIRECT_IND"
	case PDUTypeAdvNonconnInd:
		return "ADV_NONCONN_IND"
	case PDUTypeAdvScanInd:
		return "ADV_SCAN_IND"
	}
	return fmt.Sprintf("Unknown(0x%02X)", pduType)
}
