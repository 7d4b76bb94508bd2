package scenario

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/user/bletera/wire"
)

// unknownCentral stands in for centrals whose handshake never completed
const unknownCentral = "unknown-central"

// FromJournal rebuilds a scenario from a peripheral's connection journal
// (wire.ConnectionEventsFile). Link events become timeline actions and the
// final link state becomes an assertion.
func FromJournal(peripheralID string, events []*structpb.Struct) (*Scenario, error) {
	s := &Scenario{
		Name:        "Scenario from " + peripheralID + " journal",
		Description: "Auto-generated from " + wire.ConnectionEventsFile,
		Peripheral:  PeripheralConfig{ID: peripheralID},
	}
	seen := map[string]bool{}
	addCentral := func(id string) {
		if !seen[id] {
			seen[id] = true
			s.Centrals = append(s.Centrals, id)
		}
	}

	var start time.Time
	connected := false
	for i, e := range events {
		fields := e.GetFields()
		name := fields["event"].GetStringValue()
		ts, err := time.Parse(time.RFC3339Nano, fields["timestamp"].GetStringValue())
		if err != nil {
			return nil, fmt.Errorf("event %d (%s): %w", i, name, err)
		}
		if start.IsZero() {
			start = ts
		}
		at := int(ts.Sub(start) / time.Millisecond)
		remote := fields["remote"].GetStringValue()

		switch name {
		case "connection_established":
			addCentral(remote)
			s.Timeline = append(s.Timeline, TimelineEvent{TimeMs: at, Action: ActionConnect, Device: remote})
			connected = true
		case "connection_closed":
			if fields["reason"].GetStringValue() == wire.ErrLocalClose.Error() {
				s.Timeline = append(s.Timeline, TimelineEvent{TimeMs: at, Action: ActionTerminate, Device: peripheralID})
			} else {
				s.Timeline = append(s.Timeline, TimelineEvent{TimeMs: at, Action: ActionDisconnect, Device: remote})
			}
			connected = false
		case "connection_failed":
			addCentral(unknownCentral)
			s.Timeline = append(s.Timeline, TimelineEvent{
				TimeMs:  at,
				Action:  ActionBadHandshake,
				Device:  unknownCentral,
				Comment: fields["error"].GetStringValue(),
			})
		}
	}

	state := "advertising"
	if connected {
		state = "connected"
	}
	s.Assertions = append(s.Assertions,
		Assertion{Type: AssertionState, Data: map[string]interface{}{"state": state}},
		Assertion{Type: AssertionAdvertising, Data: map[string]interface{}{"active": !connected}},
	)
	return s, nil
}
