package central

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/user/bletera/wire"
	"github.com/user/bletera/wire/advertising"
)

// ScanResult is one advertisement seen during a scan
type ScanResult struct {
	DeviceID     string
	Address      net.HardwareAddr
	RandomAddr   bool
	Name         string
	NameComplete bool
	Connectable  bool
	Flags        byte
}

// Scan reads every published advertisement once, skipping localID
func Scan(localID string) []ScanResult {
	var results []ScanResult
	for _, id := range wire.ListAvailableDevices(localID) {
		pdu, err := wire.ReadAdvertisement(id)
		if err != nil {
			continue
		}
		structures, err := advertising.DecodeADStructures(pdu.AdvData)
		if err != nil {
			continue
		}

		addr := make(net.HardwareAddr, advertising.AddressLen)
		for i := range pdu.AdvA {
			addr[advertising.AddressLen-1-i] = pdu.AdvA[i]
		}
		r := ScanResult{
			DeviceID:    id,
			Address:     addr,
			RandomAddr:  pdu.RandomAddr,
			Connectable: pdu.Connectable(),
		}
		r.Name, r.NameComplete, _ = advertising.LocalName(structures)
		r.Flags, _ = advertising.Flags(structures)
		results = append(results, r)
	}
	return results
}

// ScanFor polls advertisements until one carries name, or ctx is done
func ScanFor(ctx context.Context, localID, name string) (ScanResult, error) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, r := range Scan(localID) {
			if r.Name == name {
				return r, nil
			}
		}
		select {
		case <-ctx.Done():
			return ScanResult{}, fmt.Errorf("central: scan for %q: %w", name, ctx.Err())
		case <-ticker.C:
		}
	}
}
