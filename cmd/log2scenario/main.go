package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/user/bletera/scenario"
	"github.com/user/bletera/wire"
)

// log2scenario turns the connection journal a peripheral left in the data
// directory into a replayable scenario
func main() {
	id := flag.String("id", "bletera", "Peripheral device id whose journal to read")
	output := flag.String("output", "scenario.json", "Output scenario file")
	flag.Parse()

	events, err := wire.ReadJournal(*id, wire.ConnectionEventsFile)
	if err != nil {
		log.Fatalf("Failed to read journal: %v", err)
	}

	s, err := scenario.FromJournal(*id, events)
	if err != nil {
		log.Fatalf("Failed to convert journal: %v", err)
	}
	if err := s.Save(*output); err != nil {
		log.Fatalf("Failed to save scenario: %v", err)
	}

	fmt.Printf("✓ Scenario saved to %s\n", *output)
	fmt.Printf("  Centrals: %d\n", len(s.Centrals))
	fmt.Printf("  Events: %d\n", len(s.Timeline))
	fmt.Printf("  Duration: %v\n", s.Duration())
}
