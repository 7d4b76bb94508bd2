package gatt

import (
	"errors"
	"fmt"
)

// ErrInvalidTable wraps every attribute table validation failure
var ErrInvalidTable = errors.New("gatt: invalid attribute table")

// Characteristic is a characteristic definition. Exactly one of FlagRead or
// FlagWrite must be set.
type Characteristic struct {
	UUID   UUID
	Flags  Flags
	Access AccessFunc
}

// Service is a service definition with its characteristics in declaration order
type Service struct {
	UUID            UUID
	Primary         bool
	Characteristics []Characteristic
}

// Table is a validated, immutable set of service definitions. It is built
// once at startup and handed to an engine for registration.
type Table struct {
	services []Service
}

// NewTable validates the services and returns a table holding private copies
func NewTable(services ...Service) (*Table, error) {
	if len(services) == 0 {
		return nil, fmt.Errorf("%w: no services", ErrInvalidTable)
	}

	t := &Table{services: make([]Service, 0, len(services))}
	seenSvc := make(map[UUID]bool)
	for i, svc := range services {
		if svc.UUID.IsZero() {
			return nil, fmt.Errorf("%w: service %d has no uuid", ErrInvalidTable, i)
		}
		if seenSvc[svc.UUID] {
			return nil, fmt.Errorf("%w: duplicate service %s", ErrInvalidTable, svc.UUID)
		}
		seenSvc[svc.UUID] = true

		seenChr := make(map[UUID]bool)
		chrs := make([]Characteristic, len(svc.Characteristics))
		for j, chr := range svc.Characteristics {
			if err := validateCharacteristic(chr); err != nil {
				return nil, fmt.Errorf("%w: service %s characteristic %d: %v", ErrInvalidTable, svc.UUID, j, err)
			}
			if seenChr[chr.UUID] {
				return nil, fmt.Errorf("%w: service %s has duplicate characteristic %s", ErrInvalidTable, svc.UUID, chr.UUID)
			}
			seenChr[chr.UUID] = true
			chrs[j] = chr
		}
		svc.Characteristics = chrs
		t.services = append(t.services, svc)
	}
	return t, nil
}

func validateCharacteristic(chr Characteristic) error {
	if chr.UUID.IsZero() {
		return errors.New("missing uuid")
	}
	if chr.Access == nil {
		return fmt.Errorf("%s has no access function", chr.UUID)
	}
	switch chr.Flags {
	case FlagRead, FlagWrite:
		return nil
	}
	return fmt.Errorf("%s must be exactly one of read or write, got %s", chr.UUID, chr.Flags)
}

// Services returns copies of the service definitions in declaration order
func (t *Table) Services() []Service {
	out := make([]Service, len(t.services))
	for i, svc := range t.services {
		svc.Characteristics = append([]Characteristic(nil), svc.Characteristics...)
		out[i] = svc
	}
	return out
}

// Lookup finds a characteristic by service and characteristic UUID
func (t *Table) Lookup(service, characteristic UUID) (Characteristic, bool) {
	for _, svc := range t.services {
		if !svc.UUID.Equal(service) {
			continue
		}
		for _, chr := range svc.Characteristics {
			if chr.UUID.Equal(characteristic) {
				return chr, true
			}
		}
	}
	return Characteristic{}, false
}

// AttributeCount returns the number of ATT attributes the table occupies:
// one declaration per service and a declaration plus value per characteristic.
func (t *Table) AttributeCount() int {
	n := 0
	for _, svc := range t.services {
		n += 1 + 2*len(svc.Characteristics)
	}
	return n
}
