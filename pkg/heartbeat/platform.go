package heartbeat

// Peripheral denotes a platform handle of a remote BLE device
type Peripheral interface {

	// ID returns the platform identifier of the peripheral (MAC on Linux, UUID on OS X)
	ID() string

	// Name returns the advertised name of the peripheral (if any)
	Name() string
}

// Platform denotes the BLE central-role stack the transmitter operates on. All operations
// are asynchronous: their outcome is reported as Event via the registered handler, and
// implementations must deliver events serially
type Platform interface {

	// SetEventHandler registers the function receiving all platform events (nil to detach)
	SetEventHandler(fn func(Event))

	// PoweredOn returns if the adapter is currently powered on
	PoweredOn() bool

	// RetrievePeripheral looks up a previously known peripheral by its identifier
	RetrievePeripheral(id string) (Peripheral, bool)

	// Scan starts an unfiltered discovery scan
	Scan() error

	// StopScan stops an ongoing discovery scan
	StopScan() error

	// Connect initiates a connection to the peripheral
	Connect(p Peripheral) error

	// CancelConnection cancels a pending or established connection to the peripheral
	CancelConnection(p Peripheral) error

	// DiscoverServices requests discovery of the given service
	DiscoverServices(p Peripheral, serviceUUID string) error

	// DiscoverCharacteristics requests discovery of all characteristics of the given service
	DiscoverCharacteristics(p Peripheral, serviceUUID string) error

	// SetNotify enables notifications for the given characteristic
	SetNotify(p Peripheral, serviceUUID, characteristicUUID string) error
}

// Event denotes an asynchronous platform (or owner) event processed by the transmitter
type Event interface {
	event()
}

// PowerStateChanged is emitted whenever the adapter power state changes
type PowerStateChanged struct {
	PoweredOn bool
}

// PeripheralDiscovered is emitted for each peripheral seen during a scan
type PeripheralDiscovered struct {
	Peripheral Peripheral
	RSSI       int
}

// Connected is emitted once a connection has been established
type Connected struct {
	Peripheral Peripheral
}

// ConnectFailed is emitted if a connection attempt failed
type ConnectFailed struct {
	Peripheral Peripheral
	Err        error
}

// Disconnected is emitted whenever a connection is lost (for whatever reason)
type Disconnected struct {
	Peripheral Peripheral
	Err        error
}

// ServicesDiscovered is emitted upon completion of a service discovery
type ServicesDiscovered struct {
	Peripheral Peripheral
	Services   []string
	Err        error
}

// CharacteristicsDiscovered is emitted upon completion of a characteristic discovery
type CharacteristicsDiscovered struct {
	Peripheral      Peripheral
	ServiceUUID     string
	Characteristics []string
	Err             error
}

// NotifyStateUpdated is emitted once the notification state of a characteristic changed
type NotifyStateUpdated struct {
	Peripheral         Peripheral
	CharacteristicUUID string
	Err                error
}

// ValueUpdated is emitted for each notification received (the payload is never inspected)
type ValueUpdated struct {
	Peripheral         Peripheral
	CharacteristicUUID string
}

// Restored is emitted if the platform resumes a central after a process restart
type Restored struct {
	RestoreIdentifier string
}

// owner commands and internal follow-ups, processed through the same queue
type (
	startRequested struct{}
	stopRequested  struct{}
	retrieved      struct {
		Peripheral Peripheral
		Found      bool
	}
)

func (PowerStateChanged) event()         {}
func (PeripheralDiscovered) event()      {}
func (Connected) event()                 {}
func (ConnectFailed) event()             {}
func (Disconnected) event()              {}
func (ServicesDiscovered) event()        {}
func (CharacteristicsDiscovered) event() {}
func (NotifyStateUpdated) event()        {}
func (ValueUpdated) event()              {}
func (Restored) event()                  {}
func (startRequested) event()            {}
func (stopRequested) event()             {}
func (retrieved) event()                 {}
