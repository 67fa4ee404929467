package heartbeat

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPeripheral string

func (p testPeripheral) ID() string   { return string(p) }
func (p testPeripheral) Name() string { return "test" }

var testIdentity = Identity{
	Address:               "AA",
	ServiceUUID:           "0000FEBC-0000-1000-8000-00805F9B34FB",
	ReceiveCharacteristic: "F8083535-849E-531C-C594-30F1F86A4EA5",
}

func kinds(effects []effect) []effectKind {
	res := make([]effectKind, 0, len(effects))
	for _, e := range effects {
		if e.kind != effectWarn {
			res = append(res, e.kind)
		}
	}
	return res
}

// subscribedMachine drives a machine through a full connection sequence
func subscribedMachine(t *testing.T) machine {
	m := newMachine(testIdentity, true)
	p := testPeripheral("AA")

	var effects []effect
	for _, ev := range []Event{
		startRequested{},
		retrieved{Found: false},
		PeripheralDiscovered{Peripheral: p},
		Connected{Peripheral: p},
		ServicesDiscovered{Peripheral: p, Services: []string{"0000febc00001000800000805f9b34fb"}},
		CharacteristicsDiscovered{Peripheral: p, ServiceUUID: "0000febc00001000800000805f9b34fb", Characteristics: []string{"f8083535849e531cc59430f1f86a4ea5"}},
	} {
		m, effects = m.step(ev)
	}
	require.Equal(t, StateSubscribed, m.state)
	require.Equal(t, []effectKind{effectSubscribe}, kinds(effects))
	require.Equal(t, "f8083535849e531cc59430f1f86a4ea5", effects[0].characteristic)

	return m
}

func TestStartRetrievesThenScans(t *testing.T) {
	m := newMachine(testIdentity, true)

	m, effects := m.step(startRequested{})
	assert.Equal(t, []effectKind{effectRetrieve}, kinds(effects))
	assert.Equal(t, StateUninitialized, m.state)
	assert.True(t, m.shouldReconnect)

	m, effects = m.step(retrieved{Found: false})
	assert.Equal(t, []effectKind{effectScan}, kinds(effects))
	assert.Equal(t, StateScanning, m.state)
}

func TestStartRetrievesKnownPeripheral(t *testing.T) {
	m := newMachine(testIdentity, true)
	m, _ = m.step(startRequested{})

	m, effects := m.step(retrieved{Peripheral: testPeripheral("AA"), Found: true})
	assert.Equal(t, []effectKind{effectConnect}, kinds(effects))
	assert.Equal(t, StateConnecting, m.state)
	assert.Equal(t, "AA", m.peripheral.ID())
}

func TestDiscoveryMatchesAddressExactly(t *testing.T) {
	m := newMachine(testIdentity, true)
	m, _ = m.step(startRequested{})
	m, _ = m.step(retrieved{})

	for _, id := range []string{"aa", "AAB", "BB", ""} {
		next, effects := m.step(PeripheralDiscovered{Peripheral: testPeripheral(id)})
		assert.Empty(t, effects)
		assert.Equal(t, StateScanning, next.state)
	}

	m, effects := m.step(PeripheralDiscovered{Peripheral: testPeripheral("AA")})
	assert.Equal(t, []effectKind{effectStopScan, effectConnect}, kinds(effects))
	assert.Equal(t, StateConnecting, m.state)
}

func TestConnectionSequence(t *testing.T) {
	m := subscribedMachine(t)
	assert.True(t, m.connectedOnce)
	assert.Equal(t, StatusConnected, m.status().Kind)
}

func TestNotificationIsHeartbeat(t *testing.T) {
	m := subscribedMachine(t)

	next, effects := m.step(ValueUpdated{Peripheral: testPeripheral("AA")})
	assert.Equal(t, []effectKind{effectHeartbeat}, kinds(effects))
	assert.Equal(t, StateSubscribed, next.state)

	// Notifications of foreign peripherals are ignored
	_, effects = m.step(ValueUpdated{Peripheral: testPeripheral("BB")})
	assert.Empty(t, effects)

	// Notifications outside of the subscribed state are ignored
	m.state = StateCharacteristicDiscovery
	_, effects = m.step(ValueUpdated{Peripheral: testPeripheral("AA")})
	assert.Empty(t, effects)
}

func TestDisconnectHeartbeatAndReconnect(t *testing.T) {
	m := subscribedMachine(t)

	m, effects := m.step(Disconnected{Peripheral: testPeripheral("AA"), Err: errors.New("out of range")})
	assert.Equal(t, []effectKind{effectHeartbeat, effectConnect}, kinds(effects))
	assert.Equal(t, StateConnecting, m.state)
	assert.Equal(t, "AA", effects[1].peripheral.ID())
}

func TestDisconnectAfterStop(t *testing.T) {
	m := subscribedMachine(t)

	m, effects := m.step(stopRequested{})
	assert.Equal(t, []effectKind{effectCancelConnection}, kinds(effects))
	assert.Equal(t, StateDisconnected, m.state)
	assert.False(t, m.shouldReconnect)

	m, effects = m.step(Disconnected{Peripheral: testPeripheral("AA")})
	assert.Equal(t, []effectKind{effectHeartbeat}, kinds(effects), "no reconnect must be attempted")
	assert.Equal(t, StateDisconnected, m.state)
}

func TestForeignDisconnectWhileScanning(t *testing.T) {
	m := newMachine(testIdentity, true)
	m, _ = m.step(startRequested{})
	m, effects := m.step(retrieved{Found: false})
	require.Equal(t, []effectKind{effectScan}, kinds(effects))
	require.Equal(t, StateScanning, m.state)

	// A late disconnect of a previous transmitter on the same adapter
	m, effects = m.step(Disconnected{Peripheral: testPeripheral("OLD")})
	assert.Empty(t, effects)
	assert.Equal(t, StateScanning, m.state)

	m, effects = m.step(Disconnected{})
	assert.Empty(t, effects)
	assert.Equal(t, StateScanning, m.state)

	m, effects = m.step(PeripheralDiscovered{Peripheral: testPeripheral("AA")})
	assert.Contains(t, kinds(effects), effectConnect)
	assert.Equal(t, StateConnecting, m.state)

	// While connecting, only the own peripheral counts
	_, effects = m.step(Disconnected{Peripheral: testPeripheral("OLD")})
	assert.Empty(t, effects)
	_, effects = m.step(Disconnected{})
	assert.Contains(t, kinds(effects), effectHeartbeat)
}

func TestStopIsIdempotent(t *testing.T) {
	m := newMachine(testIdentity, true)
	m, _ = m.step(startRequested{})
	m, _ = m.step(retrieved{})

	m, effects := m.step(stopRequested{})
	assert.Equal(t, []effectKind{effectStopScan}, kinds(effects))

	m, effects = m.step(stopRequested{})
	assert.Empty(t, effects)
	assert.Equal(t, StateDisconnected, m.state)

	// Stopping a never started machine is a no-op as well
	_, effects = newMachine(testIdentity, true).step(stopRequested{})
	assert.Empty(t, effects)
}

func TestConnectFailureRetries(t *testing.T) {
	m := newMachine(testIdentity, true)
	m, _ = m.step(startRequested{})
	m, _ = m.step(retrieved{Peripheral: testPeripheral("AA"), Found: true})

	for i := 0; i < 10; i++ {
		var effects []effect
		m, effects = m.step(ConnectFailed{Peripheral: testPeripheral("AA"), Err: errors.New("timeout")})
		assert.Equal(t, []effectKind{effectConnect}, kinds(effects))
		assert.Equal(t, StateConnecting, m.state)
	}

	m, _ = m.step(stopRequested{})
	m, effects := m.step(ConnectFailed{Peripheral: testPeripheral("AA")})
	assert.Empty(t, kinds(effects))
	assert.Equal(t, StateDisconnected, m.state)
}

func TestMissingServiceDisconnects(t *testing.T) {
	m := newMachine(testIdentity, true)
	m, _ = m.step(startRequested{})
	m, _ = m.step(retrieved{Peripheral: testPeripheral("AA"), Found: true})
	m, _ = m.step(Connected{Peripheral: testPeripheral("AA")})

	_, effects := m.step(ServicesDiscovered{Peripheral: testPeripheral("AA"), Services: []string{"180a"}})
	assert.Equal(t, []effectKind{effectCancelConnection}, kinds(effects))
}

func TestNoCharacteristicsDisconnects(t *testing.T) {
	m := newMachine(testIdentity, true)
	m, _ = m.step(startRequested{})
	m, _ = m.step(retrieved{Peripheral: testPeripheral("AA"), Found: true})
	m, _ = m.step(Connected{Peripheral: testPeripheral("AA")})
	m, _ = m.step(ServicesDiscovered{Peripheral: testPeripheral("AA"), Services: []string{testIdentity.ServiceUUID}})
	require.Equal(t, StateCharacteristicDiscovery, m.state)

	m, effects := m.step(CharacteristicsDiscovered{Peripheral: testPeripheral("AA"), ServiceUUID: testIdentity.ServiceUUID})
	assert.Equal(t, []effectKind{effectCancelConnection}, kinds(effects))

	// The regular disconnect path takes over from here
	m, effects = m.step(Disconnected{Peripheral: testPeripheral("AA")})
	assert.Equal(t, []effectKind{effectHeartbeat, effectConnect}, kinds(effects))
	assert.Equal(t, StateConnecting, m.state)
}

func TestMissingReceiveCharacteristic(t *testing.T) {
	m := newMachine(testIdentity, true)
	m, _ = m.step(startRequested{})
	m, _ = m.step(retrieved{Peripheral: testPeripheral("AA"), Found: true})
	m, _ = m.step(Connected{Peripheral: testPeripheral("AA")})
	m, _ = m.step(ServicesDiscovered{Peripheral: testPeripheral("AA"), Services: []string{testIdentity.ServiceUUID}})

	m, effects := m.step(CharacteristicsDiscovered{Peripheral: testPeripheral("AA"), ServiceUUID: testIdentity.ServiceUUID, Characteristics: []string{"2a19"}})
	assert.Empty(t, kinds(effects))
	assert.Len(t, effects, 1)
	assert.Equal(t, StateCharacteristicDiscovery, m.state)
}

func TestPowerOnRetriggersWhileIdle(t *testing.T) {
	m := newMachine(testIdentity, false)
	m, _ = m.step(startRequested{})
	m, _ = m.step(retrieved{})
	require.Equal(t, StateScanning, m.state)

	m, effects := m.step(PowerStateChanged{PoweredOn: true})
	assert.Equal(t, []effectKind{effectRetrieve}, kinds(effects))
	assert.True(t, m.poweredOn)

	// Not idle: power events do not interfere with an established connection
	s := subscribedMachine(t)
	_, effects = s.step(PowerStateChanged{PoweredOn: true})
	assert.Empty(t, effects)

	// Powering off drops the connection, powering on again restarts the sequence
	s, _ = s.step(PowerStateChanged{PoweredOn: false})
	assert.Equal(t, StateDisconnected, s.state)
	s, effects = s.step(Disconnected{Peripheral: testPeripheral("AA")})
	assert.Equal(t, []effectKind{effectHeartbeat}, kinds(effects))
	_, effects = s.step(PowerStateChanged{PoweredOn: true})
	assert.Equal(t, []effectKind{effectRetrieve}, kinds(effects))
}

func TestRestoredIsNoOp(t *testing.T) {
	m := subscribedMachine(t)

	next, effects := m.step(Restored{RestoreIdentifier: testIdentity.RestoreIdentifier()})
	assert.Empty(t, effects)
	assert.Equal(t, m, next)
}

func TestStatus(t *testing.T) {
	m := newMachine(testIdentity, true)
	assert.Equal(t, StatusSearching, m.status().Kind)
	assert.Equal(t, "AA", m.status().Address)
	assert.Contains(t, m.status().String(), "force-close")

	assert.Equal(t, StatusConnected, subscribedMachine(t).status().Kind)
}
