//go:build !linux

package main

import (
	"errors"

	"github.com/user/bletera/host"
)

func newBluezEngine(string) (host.Engine, error) {
	return nil, errors.New("the bluez engine is only available on linux")
}

func newHCIEngine(int) (host.Engine, error) {
	return nil, errors.New("the hci engine is only available on linux")
}
