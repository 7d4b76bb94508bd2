package wire

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/user/bletera/logger"
	"github.com/user/bletera/util"
	"github.com/user/bletera/wire/advertising"
)

// AdvertisingFile holds the latest advertising PDU of a device. Scanning
// reads it the way a central would receive the packet over the air.
const AdvertisingFile = "advertising.bin"

// Advertise publishes pdu and opens the link slot when the PDU type is connectable
func (w *Wire) Advertise(pdu *advertising.AdvertisingPDU) error {
	raw, err := pdu.Encode()
	if err != nil {
		return err
	}

	path := filepath.Join(util.GetDeviceDir(w.deviceID), AdvertisingFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("wire: write advertisement: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("wire: publish advertisement: %w", err)
	}

	w.SetConnectable(pdu.Connectable())
	logger.Debug(w.prefix(), "📡 advertising %s (%d bytes AD)", advertising.PDUTypeName(pdu.PDUType), len(pdu.AdvData))
	w.events.Log("advertising_started", map[string]interface{}{
		"pdu_type":    advertising.PDUTypeName(pdu.PDUType),
		"connectable": pdu.Connectable(),
	})
	return nil
}

// StopAdvertising withdraws the advertisement and closes the link slot
func (w *Wire) StopAdvertising() {
	w.SetConnectable(false)
	if w.clearAdvertisement() {
		w.events.Log("advertising_stopped", nil)
	}
}

func (w *Wire) clearAdvertisement() bool {
	err := os.Remove(filepath.Join(util.GetDataDir(), w.deviceID, AdvertisingFile))
	return err == nil
}

// IsAdvertising reports whether an advertisement is published
func (w *Wire) IsAdvertising() bool {
	_, err := os.Stat(filepath.Join(util.GetDataDir(), w.deviceID, AdvertisingFile))
	return err == nil
}

// ListAvailableDevices returns the ids of every device with a listening
// socket, except exclude
func ListAvailableDevices(exclude string) []string {
	matches, err := filepath.Glob(filepath.Join(util.GetSocketDir(), socketPrefix+"*.sock"))
	if err != nil {
		return nil
	}

	devices := make([]string, 0, len(matches))
	for _, path := range matches {
		id := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), socketPrefix), ".sock")
		if id != "" && id != exclude {
			devices = append(devices, id)
		}
	}
	sort.Strings(devices)
	return devices
}

// ReadAdvertisement returns the advertising PDU a device currently publishes
func ReadAdvertisement(deviceID string) (*advertising.AdvertisingPDU, error) {
	raw, err := os.ReadFile(filepath.Join(util.GetDataDir(), deviceID, AdvertisingFile))
	if err != nil {
		return nil, err
	}
	return advertising.DecodeAdvertisingPDU(raw)
}
