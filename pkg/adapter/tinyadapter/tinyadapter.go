// Package tinyadapter provides the heartbeat BLE platform on top of tinygo bluetooth
// (BlueZ via D-Bus on Linux, CoreBluetooth on macOS, WinRT on Windows)
package tinyadapter

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/fako1024/cgmbridge/pkg/glucose"
	"github.com/fako1024/cgmbridge/pkg/heartbeat"
	"github.com/google/uuid"
	"tinygo.org/x/bluetooth"
)

// Peripheral denotes a peripheral known to the adapter by its address
type Peripheral struct {
	address bluetooth.Address
	name    string
}

// ID returns the address of the peripheral (a MAC address or, on macOS, a CoreBluetooth UUID)
func (p *Peripheral) ID() string {
	return p.address.String()
}

// Name returns the advertised local name of the peripheral (if any)
func (p *Peripheral) Name() string {
	return p.name
}

// connection denotes the state of an established connection
type connection struct {
	device          bluetooth.Device
	services        []bluetooth.DeviceService
	characteristics []bluetooth.DeviceCharacteristic
}

// Adapter denotes a tinygo bluetooth based BLE platform
type Adapter struct {
	adapter   *bluetooth.Adapter
	poweredOn atomic.Bool
	scanning  atomic.Bool

	mu      sync.RWMutex
	handler func(heartbeat.Event)

	peripherals *hashmap.Map[string, *Peripheral]
	connections *hashmap.Map[string, *connection]

	logger glucose.Logger
}

// New instantiates and enables a new tinygo bluetooth adapter, executing functional
// options, if any
func New(options ...func(*Adapter)) (*Adapter, error) {

	a := &Adapter{
		adapter:     bluetooth.DefaultAdapter,
		peripherals: hashmap.New[string, *Peripheral](),
		connections: hashmap.New[string, *connection](),
		logger:      &glucose.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(a)
	}

	if err := a.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("failed to enable BLE adapter: %w", err)
	}
	a.poweredOn.Store(true)

	// Disconnects are only reported via the adapter level connect handler
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := device.Address.String()
		a.connections.Del(id)
		a.emit(heartbeat.Disconnected{Peripheral: a.peripheral(device.Address, "")})
	})

	return a, nil
}

// SetEventHandler registers the function receiving all platform events
func (a *Adapter) SetEventHandler(fn func(heartbeat.Event)) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.handler = fn
}

// PoweredOn returns if the adapter has been enabled successfully
func (a *Adapter) PoweredOn() bool {
	return a.poweredOn.Load()
}

// RetrievePeripheral returns a peripheral seen before or, if the identifier is a
// CoreBluetooth UUID, a peripheral that can be connected to without scanning
func (a *Adapter) RetrievePeripheral(id string) (heartbeat.Peripheral, bool) {
	if p, exists := a.peripherals.Get(id); exists {
		return p, true
	}

	if _, err := uuid.Parse(id); err != nil {
		return nil, false
	}

	// Only CoreBluetooth addresses are UUIDs
	var addr bluetooth.Address
	addr.Set(id)
	if !heartbeat.SameUUID(addr.String(), id) {
		return nil, false
	}
	return a.peripheral(addr, ""), true
}

// Scan starts scanning for peripherals in the background
func (a *Adapter) Scan() error {
	if !a.scanning.CompareAndSwap(false, true) {
		return nil
	}

	go func() {
		defer a.scanning.Store(false)

		err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			a.emit(heartbeat.PeripheralDiscovered{
				Peripheral: a.peripheral(result.Address, result.LocalName()),
				RSSI:       int(result.RSSI),
			})
		})
		if err != nil {
			a.logger.Warnf("scanning terminated: %s", err)
		}
	}()

	return nil
}

// StopScan stops an ongoing scan
func (a *Adapter) StopScan() error {
	if !a.scanning.Load() {
		return nil
	}
	return a.adapter.StopScan()
}

// Connect requests a connection, the outcome is reported asynchronously
func (a *Adapter) Connect(peripheral heartbeat.Peripheral) error {
	p, err := a.lookup(peripheral)
	if err != nil {
		return err
	}

	go func() {
		device, err := a.adapter.Connect(p.address, bluetooth.ConnectionParams{})
		if err != nil {
			a.emit(heartbeat.ConnectFailed{Peripheral: p, Err: err})
			return
		}

		a.connections.Set(p.ID(), &connection{device: device})
		a.emit(heartbeat.Connected{Peripheral: p})
	}()

	return nil
}

// CancelConnection terminates a connection, the disconnect is reported asynchronously
func (a *Adapter) CancelConnection(peripheral heartbeat.Peripheral) error {
	conn, err := a.connection(peripheral)
	if err != nil {
		return err
	}

	go func() {
		if err := conn.device.Disconnect(); err != nil {
			a.logger.Warnf("failed to disconnect from `%s`: %s", peripheral.ID(), err)
		}
	}()

	return nil
}

// DiscoverServices discovers the requested service of a connected peripheral
func (a *Adapter) DiscoverServices(peripheral heartbeat.Peripheral, serviceUUID string) error {
	conn, err := a.connection(peripheral)
	if err != nil {
		return err
	}

	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return fmt.Errorf("invalid service UUID `%s`: %w", serviceUUID, err)
	}

	go func() {
		svcs, err := conn.device.DiscoverServices([]bluetooth.UUID{svcUUID})
		conn.services = svcs

		uuids := make([]string, 0, len(svcs))
		for _, svc := range svcs {
			uuids = append(uuids, svc.UUID().String())
		}
		a.emit(heartbeat.ServicesDiscovered{Peripheral: peripheral, Services: uuids, Err: err})
	}()

	return nil
}

// DiscoverCharacteristics discovers the characteristics of a previously discovered service
func (a *Adapter) DiscoverCharacteristics(peripheral heartbeat.Peripheral, serviceUUID string) error {
	conn, err := a.connection(peripheral)
	if err != nil {
		return err
	}

	var svc *bluetooth.DeviceService
	for i := range conn.services {
		if heartbeat.SameUUID(conn.services[i].UUID().String(), serviceUUID) {
			svc = &conn.services[i]
			break
		}
	}
	if svc == nil {
		return fmt.Errorf("service `%s` has not been discovered on `%s`", serviceUUID, peripheral.ID())
	}

	go func() {
		chars, err := svc.DiscoverCharacteristics(nil)
		conn.characteristics = chars

		uuids := make([]string, 0, len(chars))
		for _, c := range chars {
			uuids = append(uuids, c.UUID().String())
		}
		a.emit(heartbeat.CharacteristicsDiscovered{Peripheral: peripheral, ServiceUUID: serviceUUID, Characteristics: uuids, Err: err})
	}()

	return nil
}

// SetNotify enables notifications of a previously discovered characteristic
func (a *Adapter) SetNotify(peripheral heartbeat.Peripheral, _, characteristicUUID string) error {
	conn, err := a.connection(peripheral)
	if err != nil {
		return err
	}

	var char *bluetooth.DeviceCharacteristic
	for i := range conn.characteristics {
		if heartbeat.SameUUID(conn.characteristics[i].UUID().String(), characteristicUUID) {
			char = &conn.characteristics[i]
			break
		}
	}
	if char == nil {
		return fmt.Errorf("characteristic `%s` has not been discovered on `%s`", characteristicUUID, peripheral.ID())
	}

	go func() {
		err := char.EnableNotifications(func([]byte) {
			a.emit(heartbeat.ValueUpdated{Peripheral: peripheral, CharacteristicUUID: characteristicUUID})
		})
		a.emit(heartbeat.NotifyStateUpdated{Peripheral: peripheral, CharacteristicUUID: characteristicUUID, Err: err})
	}()

	return nil
}

// Close stops scanning and terminates all connections
func (a *Adapter) Close() error {
	_ = a.StopScan()

	a.connections.Range(func(id string, conn *connection) bool {
		if err := conn.device.Disconnect(); err != nil {
			a.logger.Warnf("failed to disconnect from `%s`: %s", id, err)
		}
		return true
	})

	return nil
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

// peripheral returns the registered peripheral for an address, registering it if required
func (a *Adapter) peripheral(addr bluetooth.Address, name string) *Peripheral {
	id := addr.String()
	p, exists := a.peripherals.Get(id)
	if exists && (name == "" || p.name == name) {
		return p
	}

	p = &Peripheral{address: addr, name: name}
	a.peripherals.Set(id, p)
	return p
}

func (a *Adapter) lookup(peripheral heartbeat.Peripheral) (*Peripheral, error) {
	if peripheral == nil {
		return nil, fmt.Errorf("no peripheral provided")
	}
	if p, ok := peripheral.(*Peripheral); ok {
		return p, nil
	}
	if p, exists := a.peripherals.Get(peripheral.ID()); exists {
		return p, nil
	}

	return nil, fmt.Errorf("unknown peripheral `%s`", peripheral.ID())
}

func (a *Adapter) connection(peripheral heartbeat.Peripheral) (*connection, error) {
	if peripheral == nil {
		return nil, fmt.Errorf("no peripheral provided")
	}
	conn, exists := a.connections.Get(peripheral.ID())
	if !exists {
		return nil, fmt.Errorf("peripheral `%s` is not connected", peripheral.ID())
	}

	return conn, nil
}
