package gatt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okAccess(*AccessContext) Status { return StatusSuccess }

func TestNewTable(t *testing.T) {
	table, err := NewTable(Service{
		UUID:    UUID16(0x0180),
		Primary: true,
		Characteristics: []Characteristic{
			{UUID: UUID16(0xDEAD), Flags: FlagRead, Access: okAccess},
			{UUID: UUID16(0xFEF4), Flags: FlagWrite, Access: okAccess},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 5, table.AttributeCount())

	chr, ok := table.Lookup(UUID16(0x0180), UUID16(0xFEF4))
	require.True(t, ok)
	assert.Equal(t, FlagWrite, chr.Flags)

	_, ok = table.Lookup(UUID16(0x0180), UUID16(0x2A00))
	assert.False(t, ok)
}

func TestTableIsImmutable(t *testing.T) {
	chrs := []Characteristic{{UUID: UUID16(0xDEAD), Flags: FlagRead, Access: okAccess}}
	table, err := NewTable(Service{UUID: UUID16(0x0180), Primary: true, Characteristics: chrs})
	require.NoError(t, err)

	chrs[0].Flags = FlagWrite
	services := table.Services()
	services[0].Characteristics[0].UUID = UUID16(0x0001)

	chr, ok := table.Lookup(UUID16(0x0180), UUID16(0xDEAD))
	require.True(t, ok)
	assert.Equal(t, FlagRead, chr.Flags)
}

func TestNewTableRejects(t *testing.T) {
	svc := func(chrs ...Characteristic) Service {
		return Service{UUID: UUID16(0x0180), Primary: true, Characteristics: chrs}
	}
	tests := []struct {
		name     string
		services []Service
	}{
		{"no services", nil},
		{"read and write", []Service{svc(Characteristic{UUID: UUID16(1), Flags: FlagRead | FlagWrite, Access: okAccess})}},
		{"no flags", []Service{svc(Characteristic{UUID: UUID16(1), Access: okAccess})}},
		{"nil access", []Service{svc(Characteristic{UUID: UUID16(1), Flags: FlagRead})}},
		{"duplicate characteristic", []Service{svc(
			Characteristic{UUID: UUID16(1), Flags: FlagRead, Access: okAccess},
			Characteristic{UUID: UUID16(1), Flags: FlagWrite, Access: okAccess},
		)}},
		{"duplicate service", []Service{svc(), svc()}},
		{"missing service uuid", []Service{{Primary: true}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewTable(tt.services...)
			assert.ErrorIs(t, err, ErrInvalidTable)
		})
	}
}

func TestFlagsPermits(t *testing.T) {
	assert.True(t, FlagRead.Permits(OpRead))
	assert.False(t, FlagRead.Permits(OpWrite))
	assert.True(t, FlagWrite.Permits(OpWrite))
	assert.False(t, FlagWrite.Permits(OpRead))
}
