package peripheral

import (
	"fmt"
	"sync"

	"github.com/user/bletera/host"
	"github.com/user/bletera/logger"
)

// State is the connection state of the peripheral
type State int

const (
	// StateAdvertising covers idle and advertising; the device is never
	// idle for longer than one event
	StateAdvertising State = iota
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateAdvertising:
		return "advertising"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ConnStateMachine reacts to GAP events. It keeps the device advertising
// whenever no central is connected.
type ConnStateMachine struct {
	adv *Advertiser

	mu         sync.Mutex
	state      State
	connHandle uint16
	restarts   int
}

// NewConnStateMachine creates a state machine starting in StateAdvertising
func NewConnStateMachine(adv *Advertiser) *ConnStateMachine {
	return &ConnStateMachine{adv: adv}
}

var _ host.EventSink = (*ConnStateMachine)(nil)

// State returns the current state. Safe from any goroutine.
func (m *ConnStateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ConnHandle returns the handle of the connected central, if any
func (m *ConnStateMachine) ConnHandle() (uint16, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connHandle, m.state == StateConnected
}

// Restarts counts advertising restarts after failed connects, completed
// advertising and disconnects
func (m *ConnStateMachine) Restarts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.restarts
}

// OnSync picks the address type and starts advertising
func (m *ConnStateMachine) OnSync() {
	if err := m.adv.InferAddressType(); err != nil {
		logger.Warn("GAP", "%v, using %s address", err, m.adv.AddrType())
	}
	m.restart()
}

// OnConnect moves to StateConnected on success and re-advertises on failure
func (m *ConnStateMachine) OnConnect(ev host.ConnectEvent) {
	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		logger.Warn("GAP", "connect event while connected ignored: %s", ev)
		return
	}
	if ev.OK() {
		m.state = StateConnected
		m.connHandle = ev.ConnHandle
		m.mu.Unlock()
		logger.Info("GAP", "BLE GAP EVENT CONNECT OK! (handle %d)", ev.ConnHandle)
		return
	}
	m.restarts++
	m.mu.Unlock()

	logger.Info("GAP", "BLE GAP EVENT CONNECT FAILED! (status 0x%02X)", int(ev.Status))
	m.restart()
}

// OnDisconnect returns to advertising
func (m *ConnStateMachine) OnDisconnect(ev host.DisconnectEvent) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		logger.Warn("GAP", "disconnect while not connected ignored: %s", ev)
		return
	}
	m.state = StateAdvertising
	m.connHandle = 0
	m.restarts++
	m.mu.Unlock()

	logger.Info("GAP", "BLE GAP EVENT DISCONNECT (handle %d, reason 0x%02X)", ev.ConnHandle, int(ev.Reason))
	m.restart()
}

// OnAdvertiseComplete restarts advertising unless a central is connected
func (m *ConnStateMachine) OnAdvertiseComplete(ev host.AdvCompleteEvent) {
	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		logger.Debug("GAP", "advertise complete while connected ignored")
		return
	}
	m.restarts++
	m.mu.Unlock()

	logger.Info("GAP", "BLE GAP EVENT ADV COMPLETE (reason %d)", ev.Reason)
	m.restart()
}

// restart starts advertising again. Start has already logged a failure;
// the state machine stays in StateAdvertising either way.
func (m *ConnStateMachine) restart() {
	if err := m.adv.Start(); err != nil {
		logger.Debug("GAP", "advertising not restarted: %v", err)
	}
}
