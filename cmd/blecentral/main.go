package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/user/bletera/central"
	"github.com/user/bletera/logger"
	"github.com/user/bletera/peripheral"
)

func main() {
	id := flag.String("id", "blecentral", "Device id of this central")
	name := flag.String("name", peripheral.DeviceName, "Name of the peripheral to look for")
	message := flag.String("write", "hello from blecentral", "Payload written to the write characteristic")
	timeout := flag.Duration("timeout", 10*time.Second, "Give up after this long")
	logLevel := flag.String("log-level", "warn", "Log level: trace, debug, info, warn, error")
	flag.Parse()

	logger.SetLevel(logger.ParseLevel(*logLevel))

	if err := run(*timeout, *id, *name, *message); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
}

func run(timeout time.Duration, id, name, message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	fmt.Printf("Scanning for %q...\n", name)
	found, err := central.ScanFor(ctx, id, name)
	if err != nil {
		return err
	}
	fmt.Printf("Found %s (%s, connectable=%v)\n", found.DeviceID, found.Address, found.Connectable)

	client, err := central.Dial(ctx, id, found.DeviceID)
	if err != nil {
		return err
	}
	defer client.Close()

	services, err := client.Discover(ctx)
	if err != nil {
		return err
	}
	for _, svc := range services {
		fmt.Printf("Service %s (handles %d-%d)\n", svc.UUID, svc.Handle, svc.EndHandle)
		for _, chr := range svc.Characteristics {
			fmt.Printf("  - %s [%s] value handle %d\n", chr.UUID, chr.Properties, chr.ValueHandle)
		}
	}

	value, err := client.Read(ctx, peripheral.ServiceUUID, peripheral.ReadCharUUID)
	if err != nil {
		return fmt.Errorf("read %s: %w", peripheral.ReadCharUUID, err)
	}
	fmt.Printf("Read %s: % X\n", peripheral.ReadCharUUID, value)

	if err := client.Write(ctx, peripheral.ServiceUUID, peripheral.WriteCharUUID, []byte(message)); err != nil {
		return fmt.Errorf("write %s: %w", peripheral.WriteCharUUID, err)
	}
	fmt.Printf("Wrote %q to %s\n", message, peripheral.WriteCharUUID)
	return nil
}
