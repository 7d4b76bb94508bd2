//go:build linux

package hci

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/bletera/gatt"
	"github.com/user/bletera/host"
)

func testTable(t *testing.T, writes chan<- []byte) *gatt.Table {
	t.Helper()
	table, err := gatt.NewTable(gatt.Service{
		UUID:    gatt.UUID16(0x0180),
		Primary: true,
		Characteristics: []gatt.Characteristic{
			{UUID: gatt.UUID16(0xDEAD), Flags: gatt.FlagRead, Access: func(ctx *gatt.AccessContext) gatt.Status {
				ctx.Out.Write([]byte{0xDE, 0xAD})
				return gatt.StatusSuccess
			}},
			{UUID: gatt.UUID16(0xFEF4), Flags: gatt.FlagWrite, Access: func(ctx *gatt.AccessContext) gatt.Status {
				writes <- ctx.Data
				return gatt.StatusSuccess
			}},
		},
	})
	require.NoError(t, err)
	return table
}

func runLoop(t *testing.T) *host.Loop {
	t.Helper()
	loop := host.NewLoop(host.DefaultLoopDepth)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	return loop
}

func TestToUUID(t *testing.T) {
	assert.True(t, ble.UUID16(0xFEF4).Equal(toUUID(gatt.UUID16(0xFEF4))))

	long := gatt.MustParseUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	assert.True(t, ble.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e").Equal(toUUID(long)))
}

func TestBuildServices(t *testing.T) {
	services := buildServices(testTable(t, make(chan []byte, 1)), runLoop(t))
	require.Len(t, services, 1)

	svc := services[0]
	assert.True(t, ble.UUID16(0x0180).Equal(svc.UUID))
	require.Len(t, svc.Characteristics, 2)

	read, write := svc.Characteristics[0], svc.Characteristics[1]
	assert.True(t, ble.UUID16(0xDEAD).Equal(read.UUID))
	assert.NotZero(t, read.Property&ble.CharRead)
	assert.Zero(t, read.Property&ble.CharWrite)

	assert.True(t, ble.UUID16(0xFEF4).Equal(write.UUID))
	assert.NotZero(t, write.Property&ble.CharWrite)
	assert.Zero(t, write.Property&ble.CharRead)
}

func TestAccessRunsOnLoop(t *testing.T) {
	writes := make(chan []byte, 1)
	table := testTable(t, writes)
	loop := runLoop(t)

	chr, ok := table.Lookup(gatt.UUID16(0x0180), gatt.UUID16(0xDEAD))
	require.True(t, ok)
	out := &bytes.Buffer{}
	status := access(loop, chr, &gatt.AccessContext{Op: gatt.OpRead, Characteristic: chr.UUID, Out: out})
	assert.Equal(t, gatt.StatusSuccess, status)
	assert.Equal(t, []byte{0xDE, 0xAD}, out.Bytes())

	chr, ok = table.Lookup(gatt.UUID16(0x0180), gatt.UUID16(0xFEF4))
	require.True(t, ok)
	status = access(loop, chr, &gatt.AccessContext{Op: gatt.OpWrite, Characteristic: chr.UUID, Data: []byte("hi")})
	assert.Equal(t, gatt.StatusSuccess, status)
	assert.Equal(t, []byte("hi"), <-writes)
}

func TestAccessAfterLoopStops(t *testing.T) {
	loop := host.NewLoop(host.DefaultLoopDepth)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	loop.Run(ctx)

	table := testTable(t, make(chan []byte, 1))
	chr, _ := table.Lookup(gatt.UUID16(0x0180), gatt.UUID16(0xDEAD))
	status := access(loop, chr, &gatt.AccessContext{Op: gatt.OpRead, Characteristic: chr.UUID, Out: &bytes.Buffer{}})
	assert.Equal(t, gatt.StatusUnlikely, status)
}

func TestLifecycleBeforeRun(t *testing.T) {
	e := New(0)
	require.NoError(t, e.SetDeviceName("BLE-TERA"))
	assert.Equal(t, "BLE-TERA", e.DeviceName())
	assert.Error(t, e.SetDeviceName(""))
	assert.Error(t, e.RegisterAttributeTable(nil))

	_, err := e.InferAddressType()
	assert.ErrorIs(t, err, host.ErrNotRunning)
	assert.ErrorIs(t, e.StartAdvertising(host.AddrTypePublic, host.AdvParams{ConnMode: host.ConnModeUndirected}), host.ErrNotRunning)
	assert.Error(t, e.Run(context.Background(), nil))
	assert.ErrorIs(t, e.Run(context.Background(), noopSink{}), host.ErrNoTable)
}

type noopSink struct{}

func (noopSink) OnSync()                                   {}
func (noopSink) OnConnect(host.ConnectEvent)               {}
func (noopSink) OnDisconnect(host.DisconnectEvent)         {}
func (noopSink) OnAdvertiseComplete(host.AdvCompleteEvent) {}

type recordingSink struct {
	noopSink
	connects    []host.ConnectEvent
	disconnects []host.DisconnectEvent
}

func (s *recordingSink) OnConnect(ev host.ConnectEvent) { s.connects = append(s.connects, ev) }
func (s *recordingSink) OnDisconnect(ev host.DisconnectEvent) {
	s.disconnects = append(s.disconnects, ev)
}

func TestConnectionEvents(t *testing.T) {
	sink := &recordingSink{}
	e := New(0)
	e.sink = sink

	e.onConnect(0x3E, 0x0040)
	require.Len(t, sink.connects, 1)
	assert.False(t, sink.connects[0].OK())
	assert.Equal(t, host.StatusConnFailedToEstablish, sink.connects[0].Status)
	assert.False(t, e.connected)

	e.onDisconnect(0x0040, 0x13)
	assert.Empty(t, sink.disconnects, "no link is up")

	e.onConnect(0, 0x0041)
	require.Len(t, sink.connects, 2)
	assert.True(t, sink.connects[1].OK())
	assert.Equal(t, uint16(0x0041), sink.connects[1].ConnHandle)
	assert.True(t, e.connected)

	e.onConnect(0, 0x0042)
	assert.Len(t, sink.connects, 2, "second link while connected")

	e.onDisconnect(0x0099, 0x13)
	assert.Empty(t, sink.disconnects, "unknown handle")

	e.onDisconnect(0x0041, 0x08)
	require.Len(t, sink.disconnects, 1)
	assert.Equal(t, host.DisconnectEvent{ConnHandle: 0x0041, Reason: host.ReasonConnectionTimeout}, sink.disconnects[0])
	assert.False(t, e.connected)
}

func TestConnectInvalidatesAdvertisingExpiry(t *testing.T) {
	e := New(0)
	e.sink = &recordingSink{}
	gen := e.advGen

	e.onConnect(0, 1)
	assert.NotEqual(t, gen, e.advGen)
	assert.False(t, e.advertising)
}
