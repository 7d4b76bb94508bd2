//go:build linux

package bluez

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	dbus "github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/bluetooth"

	"github.com/user/bletera/gatt"
	"github.com/user/bletera/host"
)

func TestParseAddrType(t *testing.T) {
	typ, err := parseAddrType("random")
	require.NoError(t, err)
	assert.Equal(t, host.AddrTypeRandom, typ)

	typ, err = parseAddrType("public")
	require.NoError(t, err)
	assert.Equal(t, host.AddrTypePublic, typ)

	_, err = parseAddrType("resolvable")
	assert.Error(t, err)
}

func TestToUUID(t *testing.T) {
	u := gatt.UUID16(0xFEF4)
	assert.True(t, strings.EqualFold("0000fef4-0000-1000-8000-00805f9b34fb", toUUID(u).String()))

	long := gatt.MustParseUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	assert.True(t, strings.EqualFold(long.UUID().String(), toUUID(long).String()))
}

func TestPermissions(t *testing.T) {
	assert.Equal(t, bluetooth.CharacteristicReadPermission, permissions(gatt.FlagRead))
	assert.Equal(t, bluetooth.CharacteristicWritePermission, permissions(gatt.FlagWrite))
}

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

func TestBuildServices(t *testing.T) {
	writes := make(chan []byte, 1)
	loop := host.NewLoop(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	services, err := buildServices(testTable(t, writes), loop)
	require.NoError(t, err)
	require.Len(t, services, 1)
	require.Len(t, services[0].Characteristics, 2)

	read := services[0].Characteristics[0]
	assert.Equal(t, []byte{0xDE, 0xAD}, read.Value)
	assert.Nil(t, read.WriteEvent)

	write := services[0].Characteristics[1]
	require.NotNil(t, write.WriteEvent)
	buf := []byte("hi")
	write.WriteEvent(1, 0, buf)
	buf[0] = 'x'

	select {
	case got := <-writes:
		assert.Equal(t, []byte("hi"), got)
	case <-time.After(time.Second):
		t.Fatal("write not delivered")
	}
}

func TestCaptureReadValueFailure(t *testing.T) {
	chr := gatt.Characteristic{
		UUID:  gatt.UUID16(0xDEAD),
		Flags: gatt.FlagRead,
		Access: func(ctx *gatt.AccessContext) gatt.Status {
			return gatt.StatusInsufficientResources
		},
	}
	_, err := captureReadValue(chr)
	assert.Error(t, err)

	chr.Access = func(ctx *gatt.AccessContext) gatt.Status {
		ctx.Out.Write(bytes.Repeat([]byte{1}, 3))
		return gatt.StatusSuccess
	}
	value, err := captureReadValue(chr)
	require.NoError(t, err)
	assert.Len(t, value, 3)
}

func TestLifecycleBeforeRun(t *testing.T) {
	e := New("hci0")
	assert.ErrorIs(t, e.StartAdvertising(host.AddrTypePublic, host.AdvParams{}), host.ErrNotRunning)
	_, err := e.InferAddressType()
	assert.ErrorIs(t, err, host.ErrNotRunning)
	assert.Error(t, e.SetDeviceName(""))
	require.NoError(t, e.SetDeviceName("BLE-TERA"))
	assert.Equal(t, "BLE-TERA", e.DeviceName())
}

func TestRunRejectsOtherAdapters(t *testing.T) {
	e := New("hci1")
	require.NoError(t, e.RegisterAttributeTable(testTable(t, make(chan []byte, 1))))
	err := e.Run(context.Background(), &recordingSink{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hci1")
}

func devicesChanged(path string, iface string, changed map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Path: dbus.ObjectPath(path),
		Name: propertiesSignal,
		Body: []interface{}{iface, changed, []string{}},
	}
}

func TestConnectionChange(t *testing.T) {
	adapter := dbus.ObjectPath("/org/bluez/hci0")

	sig := devicesChanged("/org/bluez/hci0/dev_C6_05_04_03_02_01", deviceIface,
		map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)})
	addr, connected, ok := connectionChange(adapter, sig)
	require.True(t, ok)
	assert.Equal(t, "C6:05:04:03:02:01", addr)
	assert.True(t, connected)

	sig.Body[1] = map[string]dbus.Variant{"Connected": dbus.MakeVariant(false), "RSSI": dbus.MakeVariant(int16(-40))}
	_, connected, ok = connectionChange(adapter, sig)
	require.True(t, ok)
	assert.False(t, connected)

	ignored := []*dbus.Signal{
		nil,
		devicesChanged("/org/bluez/hci0/dev_C6_05_04_03_02_01", deviceIface,
			map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-40))}),
		devicesChanged("/org/bluez/hci0/dev_C6_05_04_03_02_01", adapterIface,
			map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)}),
		devicesChanged("/org/bluez/hci1/dev_C6_05_04_03_02_01", deviceIface,
			map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)}),
		devicesChanged("/org/bluez/hci0/dev_C6_05_04_03_02_01/service0007", deviceIface,
			map[string]dbus.Variant{"Connected": dbus.MakeVariant(true)}),
		devicesChanged("/org/bluez/hci0/dev_C6_05_04_03_02_01", deviceIface,
			map[string]dbus.Variant{"Connected": dbus.MakeVariant("yes")}),
		{Path: "/org/bluez/hci0/dev_C6_05_04_03_02_01", Name: "org.bluez.Device1.Other", Body: []interface{}{deviceIface}},
	}
	for i, sig := range ignored {
		_, _, ok := connectionChange(adapter, sig)
		assert.False(t, ok, "signal %d", i)
	}
}

type recordingSink struct {
	connects    []host.ConnectEvent
	disconnects []host.DisconnectEvent
}

func (s *recordingSink) OnSync()                        {}
func (s *recordingSink) OnConnect(ev host.ConnectEvent) { s.connects = append(s.connects, ev) }
func (s *recordingSink) OnDisconnect(ev host.DisconnectEvent) {
	s.disconnects = append(s.disconnects, ev)
}
func (s *recordingSink) OnAdvertiseComplete(host.AdvCompleteEvent) {}

func TestOnConnectChange(t *testing.T) {
	sink := &recordingSink{}
	e := New(DefaultAdapterID)
	e.sink = sink

	e.onConnectChange("C6:05:04:03:02:01", true)
	e.onConnectChange("C6:05:04:03:02:01", true)
	e.onConnectChange("11:22:33:44:55:66", true)
	require.Len(t, sink.connects, 1)
	assert.True(t, sink.connects[0].OK())
	assert.Equal(t, uint16(1), sink.connects[0].ConnHandle)
	assert.Equal(t, "C6:05:04:03:02:01", sink.connects[0].PeerID)

	e.onConnectChange("11:22:33:44:55:66", false)
	assert.Empty(t, sink.disconnects)

	e.onConnectChange("C6:05:04:03:02:01", false)
	e.onConnectChange("C6:05:04:03:02:01", false)
	require.Len(t, sink.disconnects, 1)
	assert.Equal(t, host.DisconnectEvent{ConnHandle: 1, Reason: host.ReasonRemoteUserTerminated}, sink.disconnects[0])

	e.onConnectChange("11:22:33:44:55:66", true)
	require.Len(t, sink.connects, 2)
	assert.Equal(t, uint16(2), sink.connects[1].ConnHandle)
}
