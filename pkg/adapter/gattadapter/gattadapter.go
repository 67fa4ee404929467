// Package gattadapter provides the heartbeat BLE platform on top of the gatt stack (HCI
// on Linux, CoreBluetooth on macOS)
package gattadapter

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/fako1024/cgmbridge/pkg/glucose"
	"github.com/fako1024/cgmbridge/pkg/heartbeat"
	"github.com/fako1024/gatt"
)

// Adapter denotes a gatt based BLE platform
type Adapter struct {
	btDevice        gatt.Device
	btClientOptions []gatt.Option
	poweredOn       atomic.Bool

	mu      sync.RWMutex
	handler func(heartbeat.Event)

	peripherals     *hashmap.Map[string, gatt.Peripheral]
	services        *hashmap.Map[string, []*gatt.Service]
	characteristics *hashmap.Map[string, []*gatt.Characteristic]

	logger glucose.Logger
}

// New instantiates a new gatt adapter, executing functional options, if any
func New(options ...func(*Adapter)) (*Adapter, error) {

	a := &Adapter{
		btClientOptions: defaultBTClientOptions,
		peripherals:     hashmap.New[string, gatt.Peripheral](),
		services:        hashmap.New[string, []*gatt.Service](),
		characteristics: hashmap.New[string, []*gatt.Characteristic](),
		logger:          &glucose.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(a)
	}

	// Initialize a new GATT device (if not provided as option)
	if a.btDevice == nil {
		btDevice, err := gatt.NewDevice(a.btClientOptions...)
		if err != nil {
			return nil, err
		}
		a.btDevice = btDevice
	}

	// Register handlers
	a.btDevice.Handle(
		gatt.AddPeripheralDiscovered(a.onPeriphDiscovered),
		gatt.AddPeripheralConnected(a.onPeriphConnected),
		gatt.AddPeripheralDisconnected(a.onPeriphDisconnected),
	)

	// Initialize the device
	if err := a.btDevice.Init(a.onStateChanged); err != nil {
		return nil, err
	}

	return a, nil
}

// SetEventHandler registers the function receiving all platform events
func (a *Adapter) SetEventHandler(fn func(heartbeat.Event)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.handler = fn
}

// PoweredOn returns if the adapter is powered on
func (a *Adapter) PoweredOn() bool {
	return a.poweredOn.Load()
}

// RetrievePeripheral looks up a peripheral seen before by this adapter
func (a *Adapter) RetrievePeripheral(id string) (heartbeat.Peripheral, bool) {
	p, exists := a.peripherals.Get(id)
	if !exists {
		return nil, false
	}
	return p, true
}

// Scan starts scanning for peripherals
func (a *Adapter) Scan() error {
	return a.btDevice.Scan([]gatt.UUID{}, false)
}

// StopScan stops scanning for peripherals
func (a *Adapter) StopScan() error {
	return a.btDevice.StopScanning()
}

// Connect requests a connection, the outcome is reported asynchronously
func (a *Adapter) Connect(peripheral heartbeat.Peripheral) error {
	p, err := a.lookup(peripheral)
	if err != nil {
		return err
	}

	go func() {
		if err := a.btDevice.Connect(p); err != nil {
			a.emit(heartbeat.ConnectFailed{Peripheral: p, Err: err})
		}
	}()

	return nil
}

// CancelConnection requests the termination of a connection
func (a *Adapter) CancelConnection(peripheral heartbeat.Peripheral) error {
	p, err := a.lookup(peripheral)
	if err != nil {
		return err
	}

	go func() {
		if err := a.btDevice.CancelConnection(p); err != nil {
			a.logger.Warnf("failed to cancel connection to `%s`: %s", p.ID(), err)
		}
	}()

	return nil
}

// DiscoverServices discovers the services of a connected peripheral
func (a *Adapter) DiscoverServices(peripheral heartbeat.Peripheral, serviceUUID string) error {
	p, err := a.lookup(peripheral)
	if err != nil {
		return err
	}

	var filter []gatt.UUID
	if u, err := gatt.ParseUUID(serviceUUID); err == nil {
		filter = []gatt.UUID{u}
	}

	go func() {
		ss, err := p.DiscoverServices(filter)
		a.services.Set(p.ID(), ss)

		uuids := make([]string, 0, len(ss))
		for _, s := range ss {
			uuids = append(uuids, s.UUID().String())
		}
		a.emit(heartbeat.ServicesDiscovered{Peripheral: p, Services: uuids, Err: err})
	}()

	return nil
}

// DiscoverCharacteristics discovers the characteristics of a previously discovered service
func (a *Adapter) DiscoverCharacteristics(peripheral heartbeat.Peripheral, serviceUUID string) error {
	p, err := a.lookup(peripheral)
	if err != nil {
		return err
	}

	s := a.findService(p.ID(), serviceUUID)
	if s == nil {
		return fmt.Errorf("service `%s` has not been discovered on `%s`", serviceUUID, p.ID())
	}

	go func() {
		cs, err := p.DiscoverCharacteristics(nil, s)
		a.characteristics.Set(p.ID(), cs)

		uuids := make([]string, 0, len(cs))
		for _, c := range cs {
			uuids = append(uuids, c.UUID().String())
		}
		a.emit(heartbeat.CharacteristicsDiscovered{Peripheral: p, ServiceUUID: serviceUUID, Characteristics: uuids, Err: err})
	}()

	return nil
}

// SetNotify enables notifications of a previously discovered characteristic
func (a *Adapter) SetNotify(peripheral heartbeat.Peripheral, _, characteristicUUID string) error {
	p, err := a.lookup(peripheral)
	if err != nil {
		return err
	}

	c := a.findCharacteristic(p.ID(), characteristicUUID)
	if c == nil {
		return fmt.Errorf("characteristic `%s` has not been discovered on `%s`", characteristicUUID, p.ID())
	}

	go func() {

		// Discover descriptors (required for the client configuration descriptor)
		if _, err := p.DiscoverDescriptors(nil, c); err != nil {
			a.emit(heartbeat.NotifyStateUpdated{Peripheral: p, CharacteristicUUID: characteristicUUID, Err: err})
			return
		}

		err := p.SetNotifyValue(c, func(_ *gatt.Characteristic, _ []byte, _ error) {
			a.emit(heartbeat.ValueUpdated{Peripheral: p, CharacteristicUUID: characteristicUUID})
		})
		a.emit(heartbeat.NotifyStateUpdated{Peripheral: p, CharacteristicUUID: characteristicUUID, Err: err})
	}()

	return nil
}

// Close terminates all activity on the device
func (a *Adapter) Close() error {
	_ = a.btDevice.StopScanning()
	return a.btDevice.RemoveAllServices()
}

////////////////////////////////////////////////////////////////////////////////

func (a *Adapter) emit(ev heartbeat.Event) {
	a.mu.RLock()
	handler := a.handler
	a.mu.RUnlock()

	if handler != nil {
		handler(ev)
	}
}

func (a *Adapter) lookup(peripheral heartbeat.Peripheral) (gatt.Peripheral, error) {
	if peripheral == nil {
		return nil, fmt.Errorf("no peripheral provided")
	}
	if p, ok := peripheral.(gatt.Peripheral); ok {
		return p, nil
	}
	if p, exists := a.peripherals.Get(peripheral.ID()); exists {
		return p, nil
	}

	return nil, fmt.Errorf("unknown peripheral `%s`", peripheral.ID())
}

func (a *Adapter) findService(id, serviceUUID string) *gatt.Service {
	ss, _ := a.services.Get(id)
	for _, s := range ss {
		if heartbeat.SameUUID(s.UUID().String(), serviceUUID) {
			return s
		}
	}
	return nil
}

func (a *Adapter) findCharacteristic(id, characteristicUUID string) *gatt.Characteristic {
	cs, _ := a.characteristics.Get(id)
	for _, c := range cs {
		if heartbeat.SameUUID(c.UUID().String(), characteristicUUID) {
			return c
		}
	}
	return nil
}

func (a *Adapter) onStateChanged(_ gatt.Device, s gatt.State) {
	a.logger.Debugf("adapter changed state to %s", s)

	poweredOn := s == gatt.StatePoweredOn
	if a.poweredOn.Swap(poweredOn) != poweredOn {
		a.emit(heartbeat.PowerStateChanged{PoweredOn: poweredOn})
	}
}

func (a *Adapter) onPeriphDiscovered(p gatt.Peripheral, _ *gatt.Advertisement, rssi int) {
	a.peripherals.Set(p.ID(), p)
	a.emit(heartbeat.PeripheralDiscovered{Peripheral: p, RSSI: rssi})
}

func (a *Adapter) onPeriphConnected(p gatt.Peripheral, err error) {
	if err != nil {
		a.emit(heartbeat.ConnectFailed{Peripheral: p, Err: err})
		return
	}

	a.peripherals.Set(p.ID(), p)
	a.emit(heartbeat.Connected{Peripheral: p})
}

func (a *Adapter) onPeriphDisconnected(p gatt.Peripheral, err error) {
	a.services.Del(p.ID())
	a.characteristics.Del(p.ID())
	a.emit(heartbeat.Disconnected{Peripheral: p, Err: err})
}
