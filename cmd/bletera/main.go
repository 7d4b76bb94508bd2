package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/user/bletera/host"
	"github.com/user/bletera/host/sim"
	"github.com/user/bletera/logger"
	"github.com/user/bletera/peripheral"
	"github.com/user/bletera/util"
)

type options struct {
	engine     string
	id         string
	adapter    string
	hciDev     int
	name       string
	appearance uint
	logLevel   string
	logFile    string
}

func main() {
	var opts options
	flag.StringVar(&opts.engine, "engine", "sim", "Host engine: sim, bluez or hci")
	flag.StringVar(&opts.id, "id", "bletera", "Device id on the simulated radio")
	flag.StringVar(&opts.adapter, "adapter", "hci0", "BlueZ adapter (bluez engine only)")
	flag.IntVar(&opts.hciDev, "hci-dev", 0, "HCI device index (hci engine only)")
	flag.StringVar(&opts.name, "name", peripheral.DeviceName, "Advertised device name")
	flag.UintVar(&opts.appearance, "appearance", 0, "GAP Appearance value (sim engine only)")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	flag.StringVar(&opts.logFile, "log-file", "", "Append logs to this file instead of stdout")
	flag.Parse()

	if err := run(opts); err != nil {
		logger.Error("main", "%v", err)
		os.Exit(1)
	}
	logger.Info("main", "stopped")
}

func run(opts options) error {
	logger.SetLevel(logger.ParseLevel(opts.logLevel))
	if opts.logFile != "" {
		f, err := os.OpenFile(opts.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logger.SetOutput(f)
	}

	engine, err := newEngine(opts)
	if err != nil {
		return err
	}

	p, err := peripheral.New(engine, peripheral.WithDeviceName(opts.name))
	if err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.engine == "sim" {
		logger.Info("main", "simulated radio in %s as %q", util.GetDataDir(), opts.id)
	}
	return p.Run(ctx)
}

func newEngine(opts options) (host.Engine, error) {
	switch opts.engine {
	case "sim":
		if opts.appearance > 0xFFFF {
			return nil, fmt.Errorf("appearance 0x%X out of range", opts.appearance)
		}
		return sim.New(opts.id, sim.WithAppearance(uint16(opts.appearance))), nil
	case "bluez":
		return newBluezEngine(opts.adapter)
	case "hci":
		return newHCIEngine(opts.hciDev)
	}
	return nil, fmt.Errorf("unknown engine %q", opts.engine)
}
