// Package scenario replays scripted central activity against a peripheral
// on the simulated radio and checks the outcome.
package scenario

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Scenario defines one scripted run
type Scenario struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Peripheral  PeripheralConfig `json:"peripheral"`
	Centrals    []string         `json:"centrals"`
	Timeline    []TimelineEvent  `json:"timeline"`
	Assertions  []Assertion      `json:"assertions"`
}

// PeripheralConfig defines the device under test
type PeripheralConfig struct {
	ID         string `json:"id"`
	DeviceName string `json:"device_name,omitempty"`
}

// TimelineEvent is an action at a point in time
type TimelineEvent struct {
	TimeMs  int                    `json:"time_ms"`
	Action  string                 `json:"action"`
	Device  string                 `json:"device"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Comment string                 `json:"comment,omitempty"`
}

// Action types
const (
	ActionConnect      = "connect"       // central links up and discovers
	ActionDisconnect   = "disconnect"    // central drops the link
	ActionRead         = "read"          // central reads data.characteristic
	ActionWrite        = "write"         // central writes data.value to data.characteristic
	ActionBadHandshake = "bad_handshake" // central opens the socket and sends garbage
	ActionTerminate    = "terminate"     // peripheral drops the link
)

// Assertion defines an expected outcome
type Assertion struct {
	Type    string                 `json:"type"`
	Device  string                 `json:"device,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Comment string                 `json:"comment,omitempty"`
}

// Assertion types
const (
	AssertionState          = "state"           // data.state: advertising or connected
	AssertionAdvertising    = "advertising"     // data.active: bool
	AssertionRestarts       = "restarts"        // data.count
	AssertionReadValue      = "read_value"      // data.hex: last value read by device
	AssertionWritesReceived = "writes_received" // data.count, optionally data.last
	AssertionATTError       = "att_error"       // data.code: last ATT error seen by device
)

// LoadScenario loads a scenario from a JSON file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var s Scenario
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &s, nil
}

// Save writes the scenario as indented JSON
func (s *Scenario) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Duration returns the time of the last timeline event
func (s *Scenario) Duration() time.Duration {
	maxTime := 0
	for _, event := range s.Timeline {
		if event.TimeMs > maxTime {
			maxTime = event.TimeMs
		}
	}
	return time.Duration(maxTime) * time.Millisecond
}

var knownActions = map[string]bool{
	ActionConnect: true, ActionDisconnect: true, ActionRead: true,
	ActionWrite: true, ActionBadHandshake: true, ActionTerminate: true,
}

var knownAssertions = map[string]bool{
	AssertionState: true, AssertionAdvertising: true, AssertionRestarts: true,
	AssertionReadValue: true, AssertionWritesReceived: true, AssertionATTError: true,
}

// Validate checks device references, actions and assertion types
func (s *Scenario) Validate() []string {
	var errors []string

	if s.Peripheral.ID == "" {
		errors = append(errors, "Peripheral has no id")
	}
	devices := map[string]bool{s.Peripheral.ID: true}
	for _, id := range s.Centrals {
		if devices[id] {
			errors = append(errors, "Duplicate device id: "+id)
		}
		devices[id] = true
	}

	for _, event := range s.Timeline {
		if !knownActions[event.Action] {
			errors = append(errors, "Unknown action: "+event.Action)
		}
		if !devices[event.Device] {
			errors = append(errors, "Event references unknown device: "+event.Device)
		}
		if event.Action == ActionTerminate && event.Device != s.Peripheral.ID {
			errors = append(errors, "Only the peripheral can terminate: "+event.Device)
		}
	}

	for _, assertion := range s.Assertions {
		if !knownAssertions[assertion.Type] {
			errors = append(errors, "Unknown assertion: "+assertion.Type)
		}
		if assertion.Device != "" && !devices[assertion.Device] {
			errors = append(errors, "Assertion references unknown device: "+assertion.Device)
		}
	}
	return errors
}
