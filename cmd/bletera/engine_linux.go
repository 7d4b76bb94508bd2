//go:build linux

package main

import (
	"github.com/user/bletera/host"
	"github.com/user/bletera/host/bluez"
	"github.com/user/bletera/host/hci"
)

func newBluezEngine(adapter string) (host.Engine, error) {
	return bluez.New(adapter), nil
}

func newHCIEngine(deviceID int) (host.Engine, error) {
	return hci.New(deviceID), nil
}
