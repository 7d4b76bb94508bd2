package peripheral

import (
	"fmt"
	"sync"

	"github.com/user/bletera/host"
	"github.com/user/bletera/logger"
)

// advParams is undirected connectable, general discoverable, never expiring
var advParams = host.AdvParams{
	ConnMode: host.ConnModeUndirected,
	DiscMode: host.DiscModeGeneral,
	Duration: host.Forever,
}

// Advertiser starts advertising on an engine. It holds the own-address
// type chosen at sync.
type Advertiser struct {
	engine host.Engine

	mu       sync.Mutex
	addrType host.AddrType
	starts   int
}

// NewAdvertiser creates an advertiser for engine
func NewAdvertiser(engine host.Engine) *Advertiser {
	return &Advertiser{engine: engine}
}

// InferAddressType asks the engine for the address type to advertise
// with. On failure the public address is kept.
func (a *Advertiser) InferAddressType() error {
	addrType, err := a.engine.InferAddressType()
	if err != nil {
		return fmt.Errorf("infer address type: %w", err)
	}
	a.mu.Lock()
	a.addrType = addrType
	a.mu.Unlock()
	return nil
}

// AddrType returns the own-address type in use
func (a *Advertiser) AddrType() host.AddrType {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addrType
}

// Starts returns how many times Start has been called
func (a *Advertiser) Starts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.starts
}

// Start rebuilds the advertising fields from the current device name and
// starts advertising. A running advertisement is replaced.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	a.starts++
	addrType := a.addrType
	a.mu.Unlock()

	name := a.engine.DeviceName()
	fields := host.AdvFields{
		Flags:        host.FlagsFor(advParams.DiscMode),
		Name:         name,
		NameComplete: true,
	}
	if err := a.engine.SetAdvFields(fields); err != nil {
		logger.Error("GAP", "error setting advertisement data: %v", err)
		return fmt.Errorf("set advertising fields: %w", err)
	}
	if err := a.engine.StartAdvertising(addrType, advParams); err != nil {
		logger.Error("GAP", "error enabling advertisement: %v", err)
		return fmt.Errorf("start advertising: %w", err)
	}

	logger.Info("GAP", "📡 advertising as %q (%s address)", name, addrType)
	return nil
}
