package host

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/user/bletera/wire/advertising"
)

// AddrType is the own-address type used when advertising
type AddrType uint8

const (
	AddrTypePublic AddrType = iota
	AddrTypeRandom
)

func (t AddrType) String() string {
	switch t {
	case AddrTypePublic:
		return "public"
	case AddrTypeRandom:
		return "random"
	}
	return fmt.Sprintf("AddrType(%d)", uint8(t))
}

// ConnMode is the advertising connectability mode
type ConnMode uint8

const (
	ConnModeNone       ConnMode = iota // Non-connectable
	ConnModeDirected                   // Connectable, directed
	ConnModeUndirected                 // Connectable, undirected
)

func (m ConnMode) String() string {
	switch m {
	case ConnModeNone:
		return "non-connectable"
	case ConnModeDirected:
		return "directed"
	case ConnModeUndirected:
		return "undirected"
	}
	return fmt.Sprintf("ConnMode(%d)", uint8(m))
}

// DiscMode is the advertising discoverability mode
type DiscMode uint8

const (
	DiscModeNone    DiscMode = iota // Non-discoverable
	DiscModeLimited                 // Limited discoverable
	DiscModeGeneral                 // General discoverable
)

func (m DiscMode) String() string {
	switch m {
	case DiscModeNone:
		return "non-discoverable"
	case DiscModeLimited:
		return "limited"
	case DiscModeGeneral:
		return "general"
	}
	return fmt.Sprintf("DiscMode(%d)", uint8(m))
}

// Forever is the advertising duration meaning "until stopped or connected"
const Forever time.Duration = 0

// AdvParams control how advertising runs
type AdvParams struct {
	ConnMode ConnMode
	DiscMode DiscMode
	// Duration of advertising; Forever never expires
	Duration time.Duration
}

// PDUType maps the connectability mode to the legacy advertising PDU type
func (p AdvParams) PDUType() byte {
	switch p.ConnMode {
	case ConnModeUndirected:
		return advertising.PDUTypeAdvInd
	case ConnModeDirected:
		return advertising.PDUTypeAdvDirectInd
	}
	return advertising.PDUTypeAdvNonconnInd
}

// AdvFields is the advertising payload. It is rebuilt by the caller on
// every start.
type AdvFields struct {
	// Flags AD value; zero omits the Flags structure
	Flags        byte
	Name         string
	NameComplete bool
	// TxPower, when set, adds a Tx Power Level structure
	TxPower *int8
}

// FlagsFor returns the Flags AD value for a discoverability mode. LE-only
// devices always set BR/EDR Not Supported.
func FlagsFor(mode DiscMode) byte {
	flags := byte(advertising.FlagBREDRNotSupported)
	switch mode {
	case DiscModeGeneral:
		flags |= advertising.FlagLEGeneralDiscoverableMode
	case DiscModeLimited:
		flags |= advertising.FlagLELimitedDiscoverableMode
	}
	return flags
}

// Encode produces the advertising data. A name that does not fit is sent
// truncated as a Shortened Local Name.
func (f AdvFields) Encode() ([]byte, error) {
	var structures []advertising.ADStructure
	used := 0
	if f.Flags != 0 {
		structures = append(structures, advertising.NewFlagsAD(f.Flags))
		used += 3
	}
	if f.TxPower != nil {
		structures = append(structures, advertising.NewTxPowerLevelAD(*f.TxPower))
		used += 3
	}

	if f.Name != "" {
		name, complete := f.Name, f.NameComplete
		room := advertising.MaxAdvertisingDataLen - used - 2
		if room <= 0 {
			return nil, fmt.Errorf("%w: no room for name", ErrAdvDataTooLong)
		}
		if len(name) > room {
			for room > 0 && !utf8.RuneStart(name[room]) {
				room--
			}
			name, complete = name[:room], false
		}
		structures = append(structures, advertising.NewLocalNameAD(name, complete))
	}

	data, err := advertising.EncodeADStructures(structures)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAdvDataTooLong, err)
	}
	return data, nil
}
