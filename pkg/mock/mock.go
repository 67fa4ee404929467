// Package mock provides a simulated BLE platform, both for tests (recording all calls and
// injecting arbitrary events) and for running the bridge without any Bluetooth hardware
package mock

import (
	"fmt"
	"sync"
	"time"

	"github.com/fako1024/cgmbridge/pkg/heartbeat"
)

// Operations recorded by the Platform
const (
	OpRetrieve                = "retrieve"
	OpScan                    = "scan"
	OpStopScan                = "stop_scan"
	OpConnect                 = "connect"
	OpCancelConnection        = "cancel_connection"
	OpDiscoverServices        = "discover_services"
	OpDiscoverCharacteristics = "discover_characteristics"
	OpSetNotify               = "set_notify"
)

const defaultNotifyInterval = 5 * time.Minute

// Call denotes a single recorded platform operation
type Call struct {
	Op           string
	PeripheralID string
	Arg          string
}

// Peripheral denotes a simulated peripheral
type Peripheral struct {
	id   string
	name string
}

// NewPeripheral instantiates a new simulated peripheral
func NewPeripheral(id, name string) *Peripheral {
	return &Peripheral{
		id:   id,
		name: name,
	}
}

// ID returns the identifier of the peripheral
func (p *Peripheral) ID() string {
	return p.id
}

// Name returns the name of the peripheral
func (p *Peripheral) Name() string {
	return p.name
}

// Device denotes the simulated behaviour of a transmitter: it is discovered upon scanning,
// accepts connections, exposes its services and notifies periodically once subscribed
type Device struct {
	Peripheral     *Peripheral
	Services       map[string][]string
	NotifyInterval time.Duration
}

// DeviceFor returns a simulated device matching a transmitter identity
func DeviceFor(id heartbeat.Identity, notifyInterval time.Duration) *Device {
	return &Device{
		Peripheral: NewPeripheral(id.Address, "mock transmitter"),
		Services: map[string][]string{
			id.ServiceUUID: {id.ReceiveCharacteristic},
		},
		NotifyInterval: notifyInterval,
	}
}

// Platform denotes a simulated BLE platform
type Platform struct {
	mu        sync.Mutex
	handler   func(heartbeat.Event)
	poweredOn bool
	known     map[string]heartbeat.Peripheral
	calls     []Call

	device     *Device
	dispatch   chan heartbeat.Event
	notifyStop chan struct{}
	doneChan   chan struct{}
	closeOnce  sync.Once
}

// New instantiates a new mock platform, executing functional options, if any
func New(options ...func(*Platform)) *Platform {
	p := &Platform{
		poweredOn: true,
		known:     make(map[string]heartbeat.Peripheral),
		doneChan:  make(chan struct{}),
	}

	for _, option := range options {
		option(p)
	}

	if p.device != nil {
		if p.device.NotifyInterval <= 0 {
			p.device.NotifyInterval = defaultNotifyInterval
		}
		p.dispatch = make(chan heartbeat.Event, 64)
		go p.runDispatch()
	}

	return p
}

// WithPoweredOn sets the initial power state
func WithPoweredOn(poweredOn bool) func(*Platform) {
	return func(p *Platform) {
		p.poweredOn = poweredOn
	}
}

// WithKnownPeripheral makes a peripheral retrievable without scanning
func WithKnownPeripheral(peripheral heartbeat.Peripheral) func(*Platform) {
	return func(p *Platform) {
		p.known[peripheral.ID()] = peripheral
	}
}

// WithDevice enables the simulation of a transmitter
func WithDevice(device *Device) func(*Platform) {
	return func(p *Platform) {
		p.device = device
	}
}

// SetEventHandler registers the function receiving all platform events
func (p *Platform) SetEventHandler(fn func(heartbeat.Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.handler = fn
}

// PoweredOn returns if the simulated adapter is powered on
func (p *Platform) PoweredOn() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.poweredOn
}

// SetPoweredOn changes the power state and emits the corresponding event
func (p *Platform) SetPoweredOn(poweredOn bool) {
	p.mu.Lock()
	p.poweredOn = poweredOn
	p.mu.Unlock()

	p.Emit(heartbeat.PowerStateChanged{PoweredOn: poweredOn})
}

// RetrievePeripheral looks up a known peripheral
func (p *Platform) RetrievePeripheral(id string) (heartbeat.Peripheral, bool) {
	p.record(OpRetrieve, id, "")

	p.mu.Lock()
	defer p.mu.Unlock()

	peripheral, exists := p.known[id]
	return peripheral, exists
}

// Scan records the request and, if simulating, discovers the device
func (p *Platform) Scan() error {
	p.record(OpScan, "", "")
	if !p.PoweredOn() {
		return fmt.Errorf("adapter is powered off")
	}

	if p.device != nil {
		p.send(heartbeat.PeripheralDiscovered{Peripheral: p.device.Peripheral, RSSI: -60})
	}
	return nil
}

// StopScan records the request
func (p *Platform) StopScan() error {
	p.record(OpStopScan, "", "")
	return nil
}

// Connect records the request and, if simulating, connects the device
func (p *Platform) Connect(peripheral heartbeat.Peripheral) error {
	p.record(OpConnect, peripheral.ID(), "")

	if p.isDevice(peripheral) {
		p.mu.Lock()
		p.known[peripheral.ID()] = peripheral
		p.mu.Unlock()
		p.send(heartbeat.Connected{Peripheral: peripheral})
	}
	return nil
}

// CancelConnection records the request and, if simulating, disconnects the device
func (p *Platform) CancelConnection(peripheral heartbeat.Peripheral) error {
	p.record(OpCancelConnection, peripheral.ID(), "")

	if p.isDevice(peripheral) {
		p.stopNotifications()
		p.send(heartbeat.Disconnected{Peripheral: peripheral})
	}
	return nil
}

// DiscoverServices records the request and, if simulating, reports the matching service
func (p *Platform) DiscoverServices(peripheral heartbeat.Peripheral, serviceUUID string) error {
	p.record(OpDiscoverServices, peripheral.ID(), serviceUUID)

	if p.isDevice(peripheral) {
		var services []string
		for svc := range p.device.Services {
			if heartbeat.SameUUID(svc, serviceUUID) {
				services = append(services, svc)
			}
		}
		p.send(heartbeat.ServicesDiscovered{Peripheral: peripheral, Services: services})
	}
	return nil
}

// DiscoverCharacteristics records the request and, if simulating, reports the characteristics
func (p *Platform) DiscoverCharacteristics(peripheral heartbeat.Peripheral, serviceUUID string) error {
	p.record(OpDiscoverCharacteristics, peripheral.ID(), serviceUUID)

	if p.isDevice(peripheral) {
		p.send(heartbeat.CharacteristicsDiscovered{
			Peripheral:      peripheral,
			ServiceUUID:     serviceUUID,
			Characteristics: p.device.Services[serviceUUID],
		})
	}
	return nil
}

// SetNotify records the request and, if simulating, starts periodic notifications
func (p *Platform) SetNotify(peripheral heartbeat.Peripheral, serviceUUID, characteristicUUID string) error {
	p.record(OpSetNotify, peripheral.ID(), characteristicUUID)

	if p.isDevice(peripheral) {
		p.send(heartbeat.NotifyStateUpdated{Peripheral: peripheral, CharacteristicUUID: characteristicUUID})
		p.startNotifications(peripheral, characteristicUUID)
	}
	return nil
}

// Emit synchronously delivers an event to the registered handler
func (p *Platform) Emit(ev heartbeat.Event) {
	p.mu.Lock()
	handler := p.handler
	p.mu.Unlock()

	if handler != nil {
		handler(ev)
	}
}

// Calls returns a copy of all recorded calls
func (p *Platform) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := make([]Call, len(p.calls))
	copy(res, p.calls)
	return res
}

// CallCount returns the number of recorded calls of an operation
func (p *Platform) CallCount(op string) (n int) {
	for _, c := range p.Calls() {
		if c.Op == op {
			n++
		}
	}
	return
}

// Close terminates the simulation (if any)
func (p *Platform) Close() error {
	p.closeOnce.Do(func() {
		p.stopNotifications()
		close(p.doneChan)
	})
	return nil
}

////////////////////////////////////////////////////////////////////////////////

func (p *Platform) record(op, id, arg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, Call{Op: op, PeripheralID: id, Arg: arg})
}

func (p *Platform) isDevice(peripheral heartbeat.Peripheral) bool {
	return p.device != nil && peripheral != nil && peripheral.ID() == p.device.Peripheral.ID()
}

// send queues an event for asynchronous, serial delivery
func (p *Platform) send(ev heartbeat.Event) {
	select {
	case p.dispatch <- ev:
	case <-p.doneChan:
	}
}

func (p *Platform) runDispatch() {
	for {
		select {
		case ev := <-p.dispatch:
			p.Emit(ev)
		case <-p.doneChan:
			return
		}
	}
}

func (p *Platform) startNotifications(peripheral heartbeat.Peripheral, characteristicUUID string) {
	p.stopNotifications()

	stop := make(chan struct{})
	p.mu.Lock()
	p.notifyStop = stop
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(p.device.NotifyInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.send(heartbeat.ValueUpdated{Peripheral: peripheral, CharacteristicUUID: characteristicUUID})
			case <-stop:
				return
			case <-p.doneChan:
				return
			}
		}
	}()
}

func (p *Platform) stopNotifications() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.notifyStop != nil {
		close(p.notifyStop)
		p.notifyStop = nil
	}
}
