package tinyadapter

import (
	"github.com/fako1024/cgmbridge/pkg/glucose"
	"tinygo.org/x/bluetooth"
)

// WithAdapter sets the Bluetooth adapter (instead of the default one)
func WithAdapter(adapter *bluetooth.Adapter) func(*Adapter) {
	return func(a *Adapter) {
		a.adapter = adapter
	}
}

// WithLogger sets a logger
func WithLogger(logger glucose.Logger) func(*Adapter) {
	return func(a *Adapter) {
		a.logger = logger
	}
}
