package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/user/bletera/logger"
	"github.com/user/bletera/scenario"
)

func main() {
	scenarioPath := flag.String("scenario", "", "Path to scenario JSON file")
	logLevel := flag.String("log-level", "warn", "Log level: trace, debug, info, warn, error")
	flag.Parse()

	if *scenarioPath == "" {
		fmt.Println("Usage: replay --scenario <path-to-scenario.json>")
		fmt.Println("\nExample:")
		fmt.Println("  go run ./cmd/replay --scenario scenario/testdata/reconnect.json")
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(*logLevel))

	s, err := scenario.LoadScenario(*scenarioPath)
	if err != nil {
		log.Fatalf("Failed to load scenario: %v", err)
	}

	fmt.Printf("=== Running Scenario: %s ===\n", s.Name)
	fmt.Printf("Description: %s\n", s.Description)
	fmt.Printf("Centrals: %d\n", len(s.Centrals))
	fmt.Printf("Events: %d\n", len(s.Timeline))
	fmt.Printf("Duration: %v\n\n", s.Duration())

	if errs := s.Validate(); len(errs) > 0 {
		fmt.Println("❌ Scenario validation failed:")
		for _, e := range errs {
			fmt.Printf("  - %s\n", e)
		}
		os.Exit(1)
	}

	runner := scenario.NewScenarioRunner(s)
	if err := runner.Setup(); err != nil {
		log.Fatalf("Failed to setup scenario: %v", err)
	}

	fmt.Println("Executing timeline...")
	if err := runner.Run(context.Background()); err != nil {
		runner.Stop()
		log.Fatalf("Failed to run scenario: %v", err)
	}

	fmt.Println("\nChecking assertions...")
	results := runner.CheckAssertions()
	runner.Stop()
	runner.PrintReport()

	allPassed := true
	for _, r := range results {
		if !r.Passed {
			allPassed = false
			break
		}
	}
	if allPassed {
		fmt.Println("\n✅ All assertions passed!")
		os.Exit(0)
	}
	fmt.Println("\n❌ Some assertions failed")
	os.Exit(1)
}
