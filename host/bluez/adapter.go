//go:build linux

package bluez

import (
	"context"
	"fmt"
	"strings"

	dbus "github.com/godbus/dbus/v5"

	"github.com/user/bletera/host"
)

const (
	bluezService     = "org.bluez"
	adapterIface     = "org.bluez.Adapter1"
	deviceIface      = "org.bluez.Device1"
	propertiesIface  = "org.freedesktop.DBus.Properties"
	propertiesSignal = propertiesIface + ".PropertiesChanged"
)

// adapterProps reads and writes org.bluez.Adapter1 properties the
// bluetooth package does not expose
type adapterProps struct {
	bus  *dbus.Conn
	path dbus.ObjectPath
}

func newAdapterProps(adapterID string) (*adapterProps, error) {
	bus, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("bluez: connect system bus: %w", err)
	}
	return &adapterProps{bus: bus, path: dbus.ObjectPath("/org/bluez/" + adapterID)}, nil
}

func (p *adapterProps) object() dbus.BusObject {
	return p.bus.Object(bluezService, p.path)
}

// SetAlias sets the name BlueZ uses for the GAP Device Name
func (p *adapterProps) SetAlias(name string) error {
	if err := p.object().SetProperty(adapterIface+".Alias", dbus.MakeVariant(name)); err != nil {
		return fmt.Errorf("bluez: set alias on %s: %w", p.path, err)
	}
	return nil
}

// AddressType reads whether the adapter uses a public or random address
func (p *adapterProps) AddressType() (host.AddrType, error) {
	v, err := p.object().GetProperty(adapterIface + ".AddressType")
	if err != nil {
		return host.AddrTypePublic, fmt.Errorf("bluez: read address type of %s: %w", p.path, err)
	}
	s, ok := v.Value().(string)
	if !ok {
		return host.AddrTypePublic, fmt.Errorf("bluez: address type of %s is %s", p.path, v.Signature())
	}
	return parseAddrType(s)
}

// WatchConnections calls onChange for every change of a Device1
// Connected property under this adapter, until ctx is done or the bus
// closes. onChange runs on the watcher goroutine.
func (p *adapterProps) WatchConnections(ctx context.Context, onChange func(addr string, connected bool)) error {
	match := []dbus.MatchOption{
		dbus.WithMatchInterface(propertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
	}
	if err := p.bus.AddMatchSignal(match...); err != nil {
		return fmt.Errorf("bluez: watch PropertiesChanged: %w", err)
	}
	signals := make(chan *dbus.Signal, 16)
	p.bus.Signal(signals)

	go func() {
		defer func() {
			p.bus.RemoveSignal(signals)
			p.bus.RemoveMatchSignal(match...)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if addr, connected, ok := connectionChange(p.path, sig); ok {
					onChange(addr, connected)
				}
			}
		}
	}()
	return nil
}

// connectionChange reads a Device1 Connected change out of a
// PropertiesChanged signal emitted for a device of adapterPath
func connectionChange(adapterPath dbus.ObjectPath, sig *dbus.Signal) (string, bool, bool) {
	if sig == nil || sig.Name != propertiesSignal || len(sig.Body) < 2 {
		return "", false, false
	}
	if iface, _ := sig.Body[0].(string); iface != deviceIface {
		return "", false, false
	}
	dev := strings.TrimPrefix(string(sig.Path), string(adapterPath)+"/")
	if dev == string(sig.Path) || !strings.HasPrefix(dev, "dev_") || strings.Contains(dev, "/") {
		return "", false, false
	}
	changed, _ := sig.Body[1].(map[string]dbus.Variant)
	v, ok := changed["Connected"]
	if !ok {
		return "", false, false
	}
	connected, ok := v.Value().(bool)
	if !ok {
		return "", false, false
	}
	return strings.ReplaceAll(strings.TrimPrefix(dev, "dev_"), "_", ":"), connected, true
}

func (p *adapterProps) Close() error {
	return p.bus.Close()
}

func parseAddrType(s string) (host.AddrType, error) {
	switch s {
	case "public":
		return host.AddrTypePublic, nil
	case "random":
		return host.AddrTypeRandom, nil
	}
	return host.AddrTypePublic, fmt.Errorf("bluez: unknown address type %q", s)
}
