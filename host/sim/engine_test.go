package sim

import (
	"context"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/bletera/central"
	"github.com/user/bletera/gatt"
	"github.com/user/bletera/host"
	"github.com/user/bletera/util"
	"github.com/user/bletera/wire"
	"github.com/user/bletera/wire/advertising"
	"github.com/user/bletera/wire/attdb"
)

var (
	testService = gatt.UUID16(0x0180)
	testChar    = gatt.UUID16(0xDEAD)
)

func setupTestEnv(t *testing.T) {
	t.Helper()
	dir, err := os.MkdirTemp("", "bletera-sim-*")
	require.NoError(t, err)
	t.Setenv(util.DataDirEnv, dir)
	t.Cleanup(func() { os.RemoveAll(dir) })
}

// recordingSink advertises on sync and records every other event
type recordingSink struct {
	engine      *Engine
	params      host.AdvParams
	connects    chan host.ConnectEvent
	disconnects chan host.DisconnectEvent
	completes   chan host.AdvCompleteEvent
}

func newRecordingSink(e *Engine, params host.AdvParams) *recordingSink {
	return &recordingSink{
		engine:      e,
		params:      params,
		connects:    make(chan host.ConnectEvent, 4),
		disconnects: make(chan host.DisconnectEvent, 4),
		completes:   make(chan host.AdvCompleteEvent, 4),
	}
}

func (s *recordingSink) OnSync() {
	s.engine.SetAdvFields(host.AdvFields{
		Flags:        host.FlagsFor(host.DiscModeGeneral),
		Name:         s.engine.DeviceName(),
		NameComplete: true,
	})
	s.engine.StartAdvertising(host.AddrTypeRandom, s.params)
}

func (s *recordingSink) OnConnect(ev host.ConnectEvent)               { s.connects <- ev }
func (s *recordingSink) OnDisconnect(ev host.DisconnectEvent)         { s.disconnects <- ev }
func (s *recordingSink) OnAdvertiseComplete(ev host.AdvCompleteEvent) { s.completes <- ev }

func testTable(t *testing.T) *gatt.Table {
	t.Helper()
	table, err := gatt.NewTable(gatt.Service{
		UUID:    testService,
		Primary: true,
		Characteristics: []gatt.Characteristic{{
			UUID:  testChar,
			Flags: gatt.FlagRead,
			Access: func(ctx *gatt.AccessContext) gatt.Status {
				ctx.Out.Write([]byte{0xDE, 0xAD})
				return gatt.StatusSuccess
			},
		}},
	})
	require.NoError(t, err)
	return table
}

var foreverParams = host.AdvParams{
	ConnMode: host.ConnModeUndirected,
	DiscMode: host.DiscModeGeneral,
	Duration: host.Forever,
}

// runEngine starts an engine and waits until it advertises
func runEngine(t *testing.T, id string, params host.AdvParams, opts ...Option) (*Engine, *recordingSink) {
	t.Helper()
	e := New(id, opts...)
	require.NoError(t, e.SetDeviceName("BLE-TERA"))
	require.NoError(t, e.RegisterAttributeTable(testTable(t)))
	sink := newRecordingSink(e, params)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, sink) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("engine did not stop")
		}
	})

	require.Eventually(t, e.Advertising, 2*time.Second, 5*time.Millisecond)
	return e, sink
}

func waitConnect(t *testing.T, s *recordingSink) host.ConnectEvent {
	t.Helper()
	select {
	case ev := <-s.connects:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no connect event")
	}
	return host.ConnectEvent{}
}

func waitDisconnect(t *testing.T, s *recordingSink) host.DisconnectEvent {
	t.Helper()
	select {
	case ev := <-s.disconnects:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect event")
	}
	return host.DisconnectEvent{}
}

func TestSyncPublishesAdvertisement(t *testing.T) {
	setupTestEnv(t)
	e, _ := runEngine(t, "p1", foreverParams)

	pdu, err := wire.ReadAdvertisement("p1")
	require.NoError(t, err)
	assert.Equal(t, byte(advertising.PDUTypeAdvInd), pdu.PDUType)
	assert.True(t, pdu.RandomAddr)
	assert.Equal(t, byte(0xC0), pdu.AdvA[5]&0xC0, "static random address needs the top bits set")

	results := central.Scan("c1")
	require.Len(t, results, 1)
	assert.Equal(t, "BLE-TERA", results[0].Name)
	assert.True(t, results[0].NameComplete)
	assert.True(t, results[0].Connectable)
	assert.True(t, strings.EqualFold(e.Address(), results[0].Address.String()))
}

func TestConnectStopsAdvertising(t *testing.T) {
	setupTestEnv(t)
	e, sink := runEngine(t, "p2", foreverParams)

	client, err := central.Dial(context.Background(), "c2", "p2")
	require.NoError(t, err)
	defer client.Close()

	ev := waitConnect(t, sink)
	assert.True(t, ev.OK())
	assert.Equal(t, "c2", ev.PeerID)
	assert.False(t, e.Advertising())
	assert.True(t, e.Connected())
	_, err = wire.ReadAdvertisement("p2")
	assert.Error(t, err, "advertisement withdrawn on connect")

	value, err := client.Read(context.Background(), testService, testChar)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDE, 0xAD}, value)

	err = e.StartAdvertising(host.AddrTypeRandom, foreverParams)
	assert.ErrorIs(t, err, host.ErrBusy)
}

func TestGAPServiceServesNameAndAppearance(t *testing.T) {
	setupTestEnv(t)
	runEngine(t, "p-gap", foreverParams, WithAppearance(0x0340))

	client, err := central.Dial(context.Background(), "c-gap", "p-gap")
	require.NoError(t, err)
	defer client.Close()

	name, err := client.Read(context.Background(), attdb.ServiceGenericAccess, attdb.CharDeviceName)
	require.NoError(t, err)
	assert.Equal(t, "BLE-TERA", string(name))

	appearance, err := client.Read(context.Background(), attdb.ServiceGenericAccess, attdb.CharAppearance)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x40, 0x03}, appearance)
}

func TestRemoteDisconnect(t *testing.T) {
	setupTestEnv(t)
	e, sink := runEngine(t, "p3", foreverParams)

	client, err := central.Dial(context.Background(), "c3", "p3")
	require.NoError(t, err)
	connected := waitConnect(t, sink)

	require.NoError(t, client.Close())
	ev := waitDisconnect(t, sink)
	assert.Equal(t, connected.ConnHandle, ev.ConnHandle)
	assert.Equal(t, host.ReasonRemoteUserTerminated, ev.Reason)
	assert.False(t, e.Connected())

	// The slot is free again once advertising restarts
	require.NoError(t, e.StartAdvertising(host.AddrTypeRandom, foreverParams))
	again, err := central.Dial(context.Background(), "c3b", "p3")
	require.NoError(t, err)
	defer again.Close()
	assert.True(t, waitConnect(t, sink).OK())
}

func TestTerminate(t *testing.T) {
	setupTestEnv(t)
	e, sink := runEngine(t, "p4", foreverParams)

	client, err := central.Dial(context.Background(), "c4", "p4")
	require.NoError(t, err)
	defer client.Close()
	waitConnect(t, sink)

	require.NoError(t, e.Terminate())
	assert.Equal(t, host.ReasonLocalHostTerminated, waitDisconnect(t, sink).Reason)

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("central link still up")
	}
	assert.Error(t, e.Terminate())
}

func TestHandshakeFailureReportsConnectFailure(t *testing.T) {
	setupTestEnv(t)
	e, sink := runEngine(t, "p5", foreverParams)

	nc, err := net.Dial("unix", wire.SocketPath("p5"))
	require.NoError(t, err)
	_, err = nc.Write([]byte{0, 0, 0, 0})
	require.NoError(t, err)
	nc.Close()

	ev := waitConnect(t, sink)
	assert.False(t, ev.OK())
	assert.Equal(t, host.StatusConnFailedToEstablish, ev.Status)
	assert.False(t, e.Advertising())
	assert.False(t, e.Connected())
}

func TestAdvertiseComplete(t *testing.T) {
	setupTestEnv(t)
	params := foreverParams
	params.Duration = 50 * time.Millisecond
	e, sink := runEngine(t, "p6", params)

	select {
	case <-sink.completes:
	case <-time.After(2 * time.Second):
		t.Fatal("no advertise complete event")
	}
	assert.False(t, e.Advertising())
	_, err := wire.ReadAdvertisement("p6")
	assert.Error(t, err)
}

func TestRestartCancelsExpiry(t *testing.T) {
	setupTestEnv(t)
	params := foreverParams
	params.Duration = 300 * time.Millisecond
	e, sink := runEngine(t, "p7", params)

	require.NoError(t, e.StartAdvertising(host.AddrTypeRandom, foreverParams))
	select {
	case <-sink.completes:
		t.Fatal("replaced advertisement still expired")
	case <-time.After(600 * time.Millisecond):
	}
	assert.True(t, e.Advertising())
}

func TestLifecycleErrors(t *testing.T) {
	setupTestEnv(t)

	e := New("p8")
	assert.ErrorIs(t, e.StartAdvertising(host.AddrTypeRandom, foreverParams), host.ErrNotRunning)
	assert.ErrorIs(t, e.Run(context.Background(), newRecordingSink(e, foreverParams)), host.ErrNoTable)
	assert.Error(t, e.SetDeviceName(""))

	running, _ := runEngine(t, "p9", foreverParams)
	assert.ErrorIs(t, running.RegisterAttributeTable(testTable(t)), host.ErrRunning)
	assert.ErrorIs(t, running.Run(context.Background(), newRecordingSink(running, foreverParams)), host.ErrRunning)
}

func TestGAPJournal(t *testing.T) {
	setupTestEnv(t)
	_, sink := runEngine(t, "p10", foreverParams)

	client, err := central.Dial(context.Background(), "c10", "p10")
	require.NoError(t, err)
	waitConnect(t, sink)
	client.Close()
	waitDisconnect(t, sink)

	events, err := wire.ReadJournal("p10", wire.GAPEventsFile)
	require.NoError(t, err)
	assert.Equal(t, []string{"sync", "adv_start", "connect", "disconnect"}, wire.EventNames(events))
}

func TestStaticRandomAddressStable(t *testing.T) {
	a := staticRandomAddress("device-a")
	assert.Equal(t, a, staticRandomAddress("device-a"))
	assert.NotEqual(t, a, staticRandomAddress("device-b"))
	assert.Equal(t, byte(0xC0), a[advertising.AddressLen-1]&0xC0)
}
