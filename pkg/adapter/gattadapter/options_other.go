//go:build !linux

package gattadapter

import "github.com/fako1024/gatt"

var defaultBTClientOptions []gatt.Option

// WithHCIDevice has no effect on platforms without HCI access
func WithHCIDevice(_ int) func(*Adapter) {
	return func(*Adapter) {}
}
