package gattadapter

import "github.com/fako1024/gatt"

var (
	defaultBTClientOptions = []gatt.Option{
		gatt.LnxMaxConnections(1),
		gatt.LnxDeviceID(-1, true),
	}
)

// WithHCIDevice selects the HCI device (-1 selects the first available one)
func WithHCIDevice(id int) func(*Adapter) {
	return func(a *Adapter) {
		a.btClientOptions = []gatt.Option{
			gatt.LnxMaxConnections(1),
			gatt.LnxDeviceID(id, true),
		}
	}
}
