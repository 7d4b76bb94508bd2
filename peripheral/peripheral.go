package peripheral

import (
	"context"
	"fmt"

	"github.com/user/bletera/host"
	"github.com/user/bletera/logger"
)

// Option configures a Peripheral
type Option func(*config)

type config struct {
	name     string
	observer WriteObserver
}

// WithDeviceName overrides the advertised device name
func WithDeviceName(name string) Option {
	return func(c *config) { c.name = name }
}

// WithWriteObserver is called with every payload written to the write characteristic
func WithWriteObserver(observer WriteObserver) Option {
	return func(c *config) { c.observer = observer }
}

// Peripheral is the device bootstrapped onto one engine
type Peripheral struct {
	engine   host.Engine
	handlers *Handlers
	adv      *Advertiser
	sm       *ConnStateMachine
}

// New names the device and registers its attribute table with engine
func New(engine host.Engine, opts ...Option) (*Peripheral, error) {
	cfg := config{name: DeviceName}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := engine.SetDeviceName(cfg.name); err != nil {
		return nil, fmt.Errorf("set device name: %w", err)
	}

	handlers := NewHandlers(cfg.observer)
	table, err := NewAttributeTable(handlers)
	if err != nil {
		return nil, fmt.Errorf("build attribute table: %w", err)
	}
	if err := engine.RegisterAttributeTable(table); err != nil {
		return nil, fmt.Errorf("register attribute table: %w", err)
	}

	adv := NewAdvertiser(engine)
	return &Peripheral{
		engine:   engine,
		handlers: handlers,
		adv:      adv,
		sm:       NewConnStateMachine(adv),
	}, nil
}

// Run drives the engine with the state machine as its event sink until
// ctx is done
func (p *Peripheral) Run(ctx context.Context) error {
	logger.Info("BLE-TERA", "starting host as %q", p.engine.DeviceName())
	if err := p.engine.Run(ctx, p.sm); err != nil {
		return fmt.Errorf("host: %w", err)
	}
	return nil
}

// State returns the connection state
func (p *Peripheral) State() State {
	return p.sm.State()
}

// StateMachine returns the event sink the engine drives
func (p *Peripheral) StateMachine() *ConnStateMachine {
	return p.sm
}

// Advertiser returns the advertising controller
func (p *Peripheral) Advertiser() *Advertiser {
	return p.adv
}
