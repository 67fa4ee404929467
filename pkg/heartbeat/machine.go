package heartbeat

import "fmt"

type effectKind int

const (
	effectRetrieve effectKind = iota
	effectScan
	effectStopScan
	effectConnect
	effectCancelConnection
	effectDiscoverServices
	effectDiscoverCharacteristics
	effectSubscribe
	effectHeartbeat
	effectWarn
)

// effect denotes a side effect requested by a state transition, executed by the transmitter
type effect struct {
	kind           effectKind
	peripheral     Peripheral
	service        string
	characteristic string
	msg            string
}

func warn(format string, args ...interface{}) effect {
	return effect{kind: effectWarn, msg: fmt.Sprintf(format, args...)}
}

// machine denotes the complete state of the connection state machine. step() never
// mutates the receiver
type machine struct {
	identity        Identity
	state           State
	peripheral      Peripheral
	shouldReconnect bool
	poweredOn       bool
	connectedOnce   bool
}

func newMachine(identity Identity, poweredOn bool) machine {
	return machine{
		identity:  identity,
		state:     StateUninitialized,
		poweredOn: poweredOn,
	}
}

func (m machine) status() Status {
	kind := StatusSearching
	if m.connectedOnce {
		kind = StatusConnected
	}
	return Status{
		Kind:    kind,
		State:   m.state,
		Address: m.identity.Address,
	}
}

func (m machine) isOwn(p Peripheral) bool {
	return p != nil && m.peripheral != nil && p.ID() == m.peripheral.ID()
}

// step computes the successor state and the effects for a single event
func (m machine) step(ev Event) (machine, []effect) {
	switch e := ev.(type) {

	case startRequested:
		m.shouldReconnect = true
		if !m.state.isIdle() {
			return m, nil
		}
		return m, []effect{{kind: effectRetrieve}}

	case stopRequested:
		var effects []effect
		if m.state == StateScanning {
			effects = append(effects, effect{kind: effectStopScan})
		}
		if m.peripheral != nil && !m.state.isIdle() {
			effects = append(effects, effect{kind: effectCancelConnection, peripheral: m.peripheral})
		}
		m.shouldReconnect = false
		m.state = StateDisconnected
		return m, effects

	case retrieved:
		if !m.shouldReconnect || !m.state.isIdle() {
			return m, nil
		}
		if e.Found {
			m.peripheral = e.Peripheral
			m.state = StateConnecting
			return m, []effect{{kind: effectConnect, peripheral: e.Peripheral}}
		}
		m.state = StateScanning
		return m, []effect{{kind: effectScan}}

	case PowerStateChanged:
		m.poweredOn = e.PoweredOn
		if !e.PoweredOn {
			if m.state != StateUninitialized {
				m.state = StateDisconnected
			}
			return m, nil
		}
		if m.shouldReconnect && m.state.isIdle() {
			return m, []effect{{kind: effectRetrieve}}
		}
		return m, nil

	case PeripheralDiscovered:
		if m.state != StateScanning || e.Peripheral == nil || e.Peripheral.ID() != m.identity.Address {
			return m, nil
		}
		m.peripheral = e.Peripheral
		m.state = StateConnecting
		return m, []effect{
			{kind: effectStopScan},
			{kind: effectConnect, peripheral: e.Peripheral},
		}

	case Connected:
		if !m.isOwn(e.Peripheral) {
			return m, nil
		}
		if !m.shouldReconnect {
			return m, []effect{{kind: effectCancelConnection, peripheral: m.peripheral}}
		}
		m.connectedOnce = true
		m.state = StateServiceDiscovery
		return m, []effect{{kind: effectDiscoverServices, peripheral: m.peripheral, service: m.identity.ServiceUUID}}

	case ConnectFailed:
		if !m.isOwn(e.Peripheral) {
			return m, nil
		}
		if !m.shouldReconnect || !m.poweredOn {
			m.state = StateDisconnected
			return m, []effect{warn("failed to connect to `%s`, not retrying: %v", m.peripheral.ID(), e.Err)}
		}

		// Retry without limit
		m.state = StateConnecting
		return m, []effect{
			warn("failed to connect to `%s`, will try again: %v", m.peripheral.ID(), e.Err),
			{kind: effectConnect, peripheral: m.peripheral},
		}

	case ServicesDiscovered:
		if !m.isOwn(e.Peripheral) || m.state != StateServiceDiscovery {
			return m, nil
		}
		var effects []effect
		if e.Err != nil {
			effects = append(effects, warn("error during service discovery on `%s`: %v", m.peripheral.ID(), e.Err))
		}
		for _, svc := range e.Services {
			if SameUUID(svc, m.identity.ServiceUUID) {
				m.state = StateCharacteristicDiscovery
				return m, append(effects, effect{kind: effectDiscoverCharacteristics, peripheral: m.peripheral, service: svc})
			}
		}
		return m, append(effects,
			warn("service `%s` not found on `%s`, disconnecting", m.identity.ServiceUUID, m.peripheral.ID()),
			effect{kind: effectCancelConnection, peripheral: m.peripheral},
		)

	case CharacteristicsDiscovered:
		if !m.isOwn(e.Peripheral) || m.state != StateCharacteristicDiscovery {
			return m, nil
		}
		var effects []effect
		if e.Err != nil {
			effects = append(effects, warn("error during characteristic discovery on `%s`: %v", m.peripheral.ID(), e.Err))
		}
		if len(e.Characteristics) == 0 {
			return m, append(effects,
				warn("service `%s` on `%s` has no characteristics, disconnecting", e.ServiceUUID, m.peripheral.ID()),
				effect{kind: effectCancelConnection, peripheral: m.peripheral},
			)
		}
		for _, c := range e.Characteristics {
			if SameUUID(c, m.identity.ReceiveCharacteristic) {
				m.state = StateSubscribed
				return m, append(effects, effect{kind: effectSubscribe, peripheral: m.peripheral, service: e.ServiceUUID, characteristic: c})
			}
		}
		return m, append(effects, warn("receive characteristic `%s` not found on `%s`", m.identity.ReceiveCharacteristic, m.peripheral.ID()))

	case NotifyStateUpdated:
		if e.Err != nil && m.isOwn(e.Peripheral) {
			return m, []effect{warn("failed to enable notifications for `%s`: %v", e.CharacteristicUUID, e.Err)}
		}
		return m, nil

	case ValueUpdated:
		if !m.isOwn(e.Peripheral) || m.state != StateSubscribed {
			return m, nil
		}
		return m, []effect{{kind: effectHeartbeat}}

	case Disconnected:
		// Disconnects of other peripherals on a shared adapter are no heartbeat
		if !m.isOwn(e.Peripheral) && (e.Peripheral != nil || m.peripheral == nil) {
			return m, nil
		}

		// A disconnect counts as heartbeat as well
		effects := []effect{{kind: effectHeartbeat}}
		if m.shouldReconnect && m.poweredOn && m.peripheral != nil {
			m.state = StateConnecting
			return m, append(effects, effect{kind: effectConnect, peripheral: m.peripheral})
		}
		m.state = StateDisconnected
		return m, effects

	case Restored:
		return m, nil
	}

	return m, nil
}
