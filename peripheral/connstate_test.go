package peripheral

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/user/bletera/host"
)

func newStateMachine(m *mockEngine) *ConnStateMachine {
	return NewConnStateMachine(NewAdvertiser(m))
}

func connectOK(handle uint16) host.ConnectEvent {
	return host.ConnectEvent{Status: host.StatusOK, ConnHandle: handle, PeerID: "central"}
}

func TestSyncStartsAdvertising(t *testing.T) {
	m := newAdvertisingEngine()
	sm := newStateMachine(m)

	sm.OnSync()

	m.AssertCalled(t, "SetAdvFields", host.AdvFields{
		Flags:        host.FlagsFor(host.DiscModeGeneral),
		Name:         "BLE-TERA",
		NameComplete: true,
	})
	m.AssertCalled(t, "StartAdvertising", host.AddrTypeRandom, host.AdvParams{
		ConnMode: host.ConnModeUndirected,
		DiscMode: host.DiscModeGeneral,
		Duration: host.Forever,
	})
	assert.Equal(t, 1, startCalls(m))
	assert.Equal(t, StateAdvertising, sm.State())
	assert.Equal(t, 0, sm.Restarts())
}

func TestSyncInferFailureKeepsPublicAddress(t *testing.T) {
	m := &mockEngine{}
	m.On("DeviceName").Return(DeviceName)
	m.On("InferAddressType").Return(host.AddrTypeRandom, errors.New("no identity address"))
	m.On("SetAdvFields", mock.Anything).Return(nil)
	m.On("StartAdvertising", host.AddrTypePublic, mock.Anything).Return(nil)

	newStateMachine(m).OnSync()
	m.AssertExpectations(t)
}

func TestConnectFailureRestartsOnce(t *testing.T) {
	m := newAdvertisingEngine()
	sm := newStateMachine(m)

	for _, status := range []host.ConnectStatus{host.StatusConnFailedToEstablish, host.StatusConnTimeout, 0x05} {
		before := startCalls(m)
		sm.OnConnect(host.ConnectEvent{Status: status})
		assert.Equal(t, before+1, startCalls(m), "status 0x%02X", int(status))
		assert.Equal(t, StateAdvertising, sm.State())
	}
	assert.Equal(t, 3, sm.Restarts())
}

func TestConnectSuccess(t *testing.T) {
	m := newAdvertisingEngine()
	sm := newStateMachine(m)

	sm.OnConnect(connectOK(7))
	assert.Equal(t, StateConnected, sm.State())
	handle, ok := sm.ConnHandle()
	assert.True(t, ok)
	assert.Equal(t, uint16(7), handle)

	// nothing restarts advertising while connected
	sm.OnAdvertiseComplete(host.AdvCompleteEvent{})
	sm.OnConnect(connectOK(8))
	sm.OnConnect(host.ConnectEvent{Status: host.StatusConnFailedToEstablish})

	assert.Equal(t, 0, startCalls(m))
	assert.Equal(t, StateConnected, sm.State())
	handle, _ = sm.ConnHandle()
	assert.Equal(t, uint16(7), handle)
}

func TestAdvertiseCompleteRestartsOnce(t *testing.T) {
	m := newAdvertisingEngine()
	sm := newStateMachine(m)

	sm.OnAdvertiseComplete(host.AdvCompleteEvent{Reason: 13})
	assert.Equal(t, 1, startCalls(m))
	assert.Equal(t, StateAdvertising, sm.State())
	assert.Equal(t, 1, sm.Restarts())
}

func TestDisconnectResumesAdvertising(t *testing.T) {
	m := newAdvertisingEngine()
	sm := newStateMachine(m)

	sm.OnConnect(connectOK(1))
	sm.OnDisconnect(host.DisconnectEvent{ConnHandle: 1, Reason: host.ReasonRemoteUserTerminated})

	assert.Equal(t, StateAdvertising, sm.State())
	assert.Equal(t, 1, startCalls(m))
	_, ok := sm.ConnHandle()
	assert.False(t, ok)
}

func TestDisconnectWhileAdvertisingIgnored(t *testing.T) {
	m := newAdvertisingEngine()
	sm := newStateMachine(m)

	sm.OnDisconnect(host.DisconnectEvent{ConnHandle: 1, Reason: host.ReasonConnectionTimeout})
	assert.Equal(t, 0, startCalls(m))
	assert.Equal(t, StateAdvertising, sm.State())
}

func TestAdvertisingErrorDoesNotStopStateMachine(t *testing.T) {
	m := &mockEngine{}
	m.On("DeviceName").Return(DeviceName)
	m.On("SetAdvFields", mock.Anything).Return(nil)
	m.On("StartAdvertising", mock.Anything, mock.Anything).Return(host.ErrBusy)
	sm := newStateMachine(m)

	sm.OnConnect(host.ConnectEvent{Status: host.StatusConnFailedToEstablish})
	assert.Equal(t, StateAdvertising, sm.State())
	sm.OnConnect(connectOK(2))
	assert.Equal(t, StateConnected, sm.State())
}

func TestAdvertiserStepErrors(t *testing.T) {
	m := &mockEngine{}
	m.On("DeviceName").Return(DeviceName)
	m.On("SetAdvFields", mock.Anything).Return(host.ErrAdvDataTooLong)
	adv := NewAdvertiser(m)

	err := adv.Start()
	require.ErrorIs(t, err, host.ErrAdvDataTooLong)
	m.AssertNotCalled(t, "StartAdvertising", mock.Anything, mock.Anything)
	assert.Equal(t, 1, adv.Starts())
}

func TestAdvertiserUsesCurrentName(t *testing.T) {
	m := &mockEngine{}
	m.On("DeviceName").Return("renamed").Once()
	m.On("SetAdvFields", host.AdvFields{Flags: 0x06, Name: "renamed", NameComplete: true}).Return(nil)
	m.On("StartAdvertising", host.AddrTypePublic, mock.Anything).Return(nil)

	require.NoError(t, NewAdvertiser(m).Start())
	m.AssertExpectations(t)
}

// Sync, connect, disconnect, failed connect: each step issues exactly the
// advertising starts the state table calls for
func TestConnectionScenario(t *testing.T) {
	m := newAdvertisingEngine()
	sm := newStateMachine(m)

	sm.OnSync()
	require.Equal(t, 1, startCalls(m))
	m.AssertCalled(t, "SetAdvFields", mock.MatchedBy(func(f host.AdvFields) bool {
		return f.Name == "BLE-TERA" && f.NameComplete
	}))

	sm.OnConnect(connectOK(1))
	assert.Equal(t, StateConnected, sm.State())
	assert.Equal(t, 1, startCalls(m))

	sm.OnDisconnect(host.DisconnectEvent{ConnHandle: 1, Reason: host.ReasonRemoteUserTerminated})
	assert.Equal(t, StateAdvertising, sm.State())
	assert.Equal(t, 2, startCalls(m))

	sm.OnConnect(host.ConnectEvent{Status: host.StatusConnFailedToEstablish})
	assert.Equal(t, StateAdvertising, sm.State())
	assert.Equal(t, 3, startCalls(m))
}
