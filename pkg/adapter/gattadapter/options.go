package gattadapter

import (
	"github.com/fako1024/cgmbridge/pkg/glucose"
	"github.com/fako1024/gatt"
)

// WithDevice sets the Bluetooth device
func WithDevice(btDevice gatt.Device) func(*Adapter) {
	return func(a *Adapter) {
		a.btDevice = btDevice
	}
}

// WithLogger sets a logger
func WithLogger(logger glucose.Logger) func(*Adapter) {
	return func(a *Adapter) {
		a.logger = logger
	}
}
