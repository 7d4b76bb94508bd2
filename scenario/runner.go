package scenario

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/bletera/central"
	"github.com/user/bletera/gatt"
	"github.com/user/bletera/host/sim"
	"github.com/user/bletera/logger"
	"github.com/user/bletera/peripheral"
	"github.com/user/bletera/wire"
	"github.com/user/bletera/wire/att"
)

// settleTimeout bounds how long an action waits for the peripheral to react
const settleTimeout = 2 * time.Second

// ScenarioRunner executes a scenario
type ScenarioRunner struct {
	scenario *Scenario
	engine   *sim.Engine
	device   *peripheral.Peripheral
	centrals map[string]*SimulatedCentral

	cancel context.CancelFunc
	done   chan error

	writesMu sync.Mutex
	writes   [][]byte

	eventLog         []EventLogEntry
	assertionResults []AssertionResult
}

// SimulatedCentral is one scripted central
type SimulatedCentral struct {
	ID       string
	Client   *central.Client
	LastRead []byte
	LastErr  error
}

// EventLogEntry records an executed event
type EventLogEntry struct {
	TimeMs    int
	Device    string
	EventType string
	Message   string
}

// AssertionResult records the outcome of an assertion
type AssertionResult struct {
	Assertion *Assertion
	Passed    bool
	Message   string
}

// NewScenarioRunner creates a runner for scenario
func NewScenarioRunner(scenario *Scenario) *ScenarioRunner {
	return &ScenarioRunner{
		scenario: scenario,
		centrals: make(map[string]*SimulatedCentral),
	}
}

// Setup validates the scenario and bootstraps the peripheral
func (r *ScenarioRunner) Setup() error {
	if errs := r.scenario.Validate(); len(errs) > 0 {
		return fmt.Errorf("scenario validation failed: %v", errs)
	}

	r.engine = sim.New(r.scenario.Peripheral.ID)
	opts := []peripheral.Option{peripheral.WithWriteObserver(r.onWrite)}
	if name := r.scenario.Peripheral.DeviceName; name != "" {
		opts = append(opts, peripheral.WithDeviceName(name))
	}
	device, err := peripheral.New(r.engine, opts...)
	if err != nil {
		return fmt.Errorf("failed to create peripheral %s: %w", r.scenario.Peripheral.ID, err)
	}
	r.device = device

	for _, id := range r.scenario.Centrals {
		r.centrals[id] = &SimulatedCentral{ID: id}
	}
	return nil
}

func (r *ScenarioRunner) onWrite(_ uint16, data []byte) {
	r.writesMu.Lock()
	defer r.writesMu.Unlock()
	r.writes = append(r.writes, data)
}

// Run starts the peripheral, waits for it to advertise and plays the timeline
func (r *ScenarioRunner) Run(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan error, 1)
	go func() { r.done <- r.device.Run(ctx) }()

	if !waitFor(r.engine.Advertising) {
		return errors.New("peripheral never started advertising")
	}

	sort.SliceStable(r.scenario.Timeline, func(i, j int) bool {
		return r.scenario.Timeline[i].TimeMs < r.scenario.Timeline[j].TimeMs
	})

	start := time.Now()
	for i := range r.scenario.Timeline {
		event := &r.scenario.Timeline[i]
		if wait := time.Until(start.Add(time.Duration(event.TimeMs) * time.Millisecond)); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		r.logEvent(event.TimeMs, event.Device, event.Action, event.Comment)
		if err := r.executeEvent(ctx, event); err != nil {
			r.logEvent(event.TimeMs, event.Device, "error", fmt.Sprintf("Failed to execute event: %v", err))
		}
	}
	return nil
}

// Stop shuts the peripheral down and drops every central
func (r *ScenarioRunner) Stop() error {
	for _, c := range r.centrals {
		if c.Client != nil {
			c.Client.Close()
		}
	}
	if r.cancel == nil {
		return nil
	}
	r.cancel()
	return <-r.done
}

func (r *ScenarioRunner) executeEvent(ctx context.Context, event *TimelineEvent) error {
	if event.Action == ActionTerminate {
		return r.handleTerminate()
	}

	c := r.centrals[event.Device]
	if c == nil {
		return fmt.Errorf("central %s not found", event.Device)
	}
	switch event.Action {
	case ActionConnect:
		return r.handleConnect(ctx, c)
	case ActionDisconnect:
		return r.handleDisconnect(c)
	case ActionRead:
		return r.handleRead(ctx, c, event.Data)
	case ActionWrite:
		return r.handleWrite(ctx, c, event.Data)
	case ActionBadHandshake:
		return r.handleBadHandshake()
	}
	return fmt.Errorf("unknown action: %s", event.Action)
}

func (r *ScenarioRunner) handleConnect(ctx context.Context, c *SimulatedCentral) error {
	if c.Client != nil {
		return fmt.Errorf("%s already connected", c.ID)
	}
	client, err := central.Dial(ctx, c.ID, r.scenario.Peripheral.ID)
	if err != nil {
		c.LastErr = err
		return err
	}
	c.Client = client
	if !waitFor(func() bool { return r.device.State() == peripheral.StateConnected }) {
		return errors.New("peripheral did not report the connection")
	}
	_, err = client.Discover(ctx)
	return err
}

func (r *ScenarioRunner) handleDisconnect(c *SimulatedCentral) error {
	if c.Client == nil {
		return fmt.Errorf("%s not connected", c.ID)
	}
	c.Client.Close()
	c.Client = nil
	if !waitFor(r.readvertising) {
		return errors.New("peripheral did not resume advertising")
	}
	return nil
}

func (r *ScenarioRunner) handleTerminate() error {
	if err := r.engine.Terminate(); err != nil {
		return err
	}
	for _, c := range r.centrals {
		if c.Client == nil {
			continue
		}
		select {
		case <-c.Client.Done():
		case <-time.After(settleTimeout):
			return fmt.Errorf("%s still linked after terminate", c.ID)
		}
		c.Client = nil
	}
	if !waitFor(r.readvertising) {
		return errors.New("peripheral did not resume advertising")
	}
	return nil
}

func (r *ScenarioRunner) handleBadHandshake() error {
	before := r.device.StateMachine().Restarts()
	nc, err := net.Dial("unix", wire.SocketPath(r.scenario.Peripheral.ID))
	if err != nil {
		return err
	}
	nc.Write([]byte{0, 0, 0, 0})
	nc.Close()

	if !waitFor(func() bool { return r.device.StateMachine().Restarts() > before && r.engine.Advertising() }) {
		return errors.New("peripheral did not restart advertising")
	}
	return nil
}

func (r *ScenarioRunner) readvertising() bool {
	return r.device.State() == peripheral.StateAdvertising && r.engine.Advertising()
}

func characteristic(data map[string]interface{}) (gatt.UUID, error) {
	s, _ := data["characteristic"].(string)
	if s == "" {
		return gatt.UUID{}, errors.New("missing characteristic")
	}
	return gatt.ParseUUID(s)
}

func (r *ScenarioRunner) handleRead(ctx context.Context, c *SimulatedCentral, data map[string]interface{}) error {
	if c.Client == nil {
		return fmt.Errorf("%s not connected", c.ID)
	}
	chr, err := characteristic(data)
	if err != nil {
		return err
	}
	c.LastRead, c.LastErr = c.Client.Read(ctx, peripheral.ServiceUUID, chr)
	return nil
}

func (r *ScenarioRunner) handleWrite(ctx context.Context, c *SimulatedCentral, data map[string]interface{}) error {
	if c.Client == nil {
		return fmt.Errorf("%s not connected", c.ID)
	}
	chr, err := characteristic(data)
	if err != nil {
		return err
	}
	value, _ := data["value"].(string)
	c.LastErr = c.Client.Write(ctx, peripheral.ServiceUUID, chr, []byte(value))
	return nil
}

// CheckAssertions validates all assertions
func (r *ScenarioRunner) CheckAssertions() []AssertionResult {
	results := []AssertionResult{}
	for i := range r.scenario.Assertions {
		results = append(results, r.checkAssertion(&r.scenario.Assertions[i]))
	}
	r.assertionResults = results
	return results
}

func result(a *Assertion, passed bool, format string, args ...interface{}) AssertionResult {
	return AssertionResult{Assertion: a, Passed: passed, Message: fmt.Sprintf(format, args...)}
}

func (r *ScenarioRunner) checkAssertion(a *Assertion) AssertionResult {
	switch a.Type {
	case AssertionState:
		want, _ := a.Data["state"].(string)
		got := r.device.State().String()
		return result(a, got == want, "state %s, want %s", got, want)

	case AssertionAdvertising:
		want, _ := a.Data["active"].(bool)
		got := r.engine.Advertising()
		return result(a, got == want, "advertising %v, want %v", got, want)

	case AssertionRestarts:
		want := intField(a.Data, "count")
		got := r.device.StateMachine().Restarts()
		return result(a, got == want, "%d advertising restarts, want %d", got, want)

	case AssertionWritesReceived:
		r.writesMu.Lock()
		writes := r.writes
		r.writesMu.Unlock()
		want := intField(a.Data, "count")
		if len(writes) != want {
			return result(a, false, "%d writes received, want %d", len(writes), want)
		}
		if last, ok := a.Data["last"].(string); ok && want > 0 && string(writes[want-1]) != last {
			return result(a, false, "last write %q, want %q", writes[want-1], last)
		}
		return result(a, true, "%d writes received", want)

	case AssertionReadValue:
		c := r.centrals[a.Device]
		if c == nil {
			return result(a, false, "central %s not found", a.Device)
		}
		want, _ := a.Data["hex"].(string)
		got := strings.ToUpper(hex.EncodeToString(c.LastRead))
		return result(a, strings.EqualFold(got, want), "%s read %s, want %s", a.Device, got, want)

	case AssertionATTError:
		c := r.centrals[a.Device]
		if c == nil {
			return result(a, false, "central %s not found", a.Device)
		}
		want := intField(a.Data, "code")
		got := att.ErrorCode(c.LastErr)
		return result(a, int(got) == want, "%s last ATT error 0x%02X, want 0x%02X", a.Device, got, want)
	}
	return result(a, false, "unknown assertion %s", a.Type)
}

func intField(data map[string]interface{}, key string) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (r *ScenarioRunner) logEvent(timeMs int, device, eventType, message string) {
	logger.Debug("Scenario", "[%dms] %s %s %s", timeMs, device, eventType, message)
	r.eventLog = append(r.eventLog, EventLogEntry{
		TimeMs:    timeMs,
		Device:    device,
		EventType: eventType,
		Message:   message,
	})
}

// EventLog returns the executed events, errors included
func (r *ScenarioRunner) EventLog() []EventLogEntry {
	return r.eventLog
}

// PrintReport prints the execution report
func (r *ScenarioRunner) PrintReport() {
	fmt.Println("\n=== Scenario Report ===")
	fmt.Printf("Name: %s\n", r.scenario.Name)
	fmt.Printf("Description: %s\n", r.scenario.Description)
	fmt.Printf("Duration: %v\n", r.scenario.Duration())

	fmt.Println("\n--- Event Log ---")
	for _, entry := range r.eventLog {
		fmt.Printf("[%dms] [%s] %s: %s\n", entry.TimeMs, entry.Device, entry.EventType, entry.Message)
	}

	fmt.Println("\n--- Assertion Results ---")
	passed := 0
	for _, res := range r.assertionResults {
		status := "❌ FAIL"
		if res.Passed {
			status = "✅ PASS"
			passed++
		}
		fmt.Printf("%s - %s: %s\n", status, res.Assertion.Type, res.Message)
	}
	fmt.Printf("\nTotal: %d/%d assertions passed\n", passed, len(r.assertionResults))
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(settleTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
