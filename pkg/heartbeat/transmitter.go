// Package heartbeat keeps a best-effort BLE connection to the CGM transmitter that is
// owned by the companion app, purely to be woken up by it: every notification and every
// disconnect is reported as heartbeat, the payload is never inspected.
package heartbeat

import (
	"errors"
	"sync"
	"time"

	"github.com/fako1024/cgmbridge/pkg/glucose"
	"github.com/fatih/stopwatch"
)

const defaultQueueSize = 64

// Transmitter denotes a heartbeat transmitter connection. All platform events are queued
// and processed serially by a single goroutine
type Transmitter struct {
	platform Platform

	mu     sync.RWMutex
	m      machine
	uptime *stopwatch.Stopwatch

	heartbeatHandler    func()
	statusChangeHandler func(status Status)
	statusChangeChan    chan Status

	queueSize int
	events    chan Event
	doneChan  chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	logger glucose.Logger
}

// New instantiates a new Transmitter for the given identity, executing functional options,
// if any. The transmitter remains idle until Start() is called
func New(platform Platform, identity Identity, options ...func(*Transmitter)) (*Transmitter, error) {
	if platform == nil {
		return nil, errors.New("no BLE platform provided")
	}
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	t := &Transmitter{
		platform:  platform,
		queueSize: defaultQueueSize,
		doneChan:  make(chan struct{}),
		loopDone:  make(chan struct{}),
		logger:    &glucose.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(t)
	}

	t.events = make(chan Event, t.queueSize)
	t.m = newMachine(identity, platform.PoweredOn())

	platform.SetEventHandler(t.enqueue)
	go t.run()

	return t, nil
}

// Start initiates the connection, first by retrieving a known peripheral and, failing
// that, by scanning for it
func (t *Transmitter) Start() {
	t.enqueue(startRequested{})
}

// Stop cancels any scan / connection and disables reconnection. It is idempotent
func (t *Transmitter) Stop() {
	t.enqueue(stopRequested{})
}

// Close stops the transmitter and terminates event processing. It must not be called
// from within a heartbeat or status change handler
func (t *Transmitter) Close() error {
	t.closeOnce.Do(func() {
		t.Stop()
		close(t.doneChan)
		<-t.loopDone
		t.platform.SetEventHandler(nil)
	})

	return nil
}

// Identity returns the identity of the transmitter
func (t *Transmitter) Identity() Identity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.m.identity
}

// State returns the current connection state
func (t *Transmitter) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.m.state
}

// Status returns the current displayable status
func (t *Transmitter) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.m.status()
}

// ConnectedFor returns the duration of the current subscription (zero if not subscribed)
func (t *Transmitter) ConnectedFor() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.uptime == nil || t.m.state != StateSubscribed {
		return 0
	}
	return t.uptime.ElapsedTime()
}

////////////////////////////////////////////////////////////////////////////////

func (t *Transmitter) enqueue(ev Event) {
	select {
	case <-t.doneChan:
		return
	default:
	}

	select {
	case t.events <- ev:
	case <-t.doneChan:
	}
}

func (t *Transmitter) run() {
	defer close(t.loopDone)

	for {
		select {
		case ev := <-t.events:
			t.process(ev)
		case <-t.doneChan:

			// Drain whatever has been queued so far (in particular the final stop request)
			for {
				select {
				case ev := <-t.events:
					t.process(ev)
				default:
					return
				}
			}
		}
	}
}

func (t *Transmitter) process(ev Event) {
	pending := []Event{ev}
	for len(pending) > 0 {
		ev, pending = pending[0], pending[1:]
		t.logEvent(ev)

		t.mu.Lock()
		before := t.m
		next, effects := t.m.step(ev)
		t.m = next
		t.trackUptime(before.state, next.state)
		t.mu.Unlock()

		for _, e := range effects {
			if followUp := t.apply(e); followUp != nil {
				pending = append(pending, followUp)
			}
		}

		if before.state != next.state || before.connectedOnce != next.connectedOnce {
			t.logger.Debugf("transmitter `%s` changed state from %s to %s", next.identity.Address, before.state, next.state)
			t.setStatus(next.status())
		}
	}
}

// trackUptime must be called with the lock held
func (t *Transmitter) trackUptime(from, to State) {
	if from == to {
		return
	}
	if to == StateSubscribed {
		t.uptime = stopwatch.Start(0)
	} else if from == StateSubscribed && t.uptime != nil {
		t.uptime.Stop()
	}
}

func (t *Transmitter) apply(e effect) Event {
	switch e.kind {
	case effectRetrieve:
		address := t.Identity().Address
		p, found := t.platform.RetrievePeripheral(address)
		if found {
			t.logger.Debugf("retrieved known peripheral `%s`, trying to connect", address)
		} else {
			t.logger.Debugf("peripheral `%s` unknown, starting scan", address)
		}
		return retrieved{Peripheral: p, Found: found}
	case effectScan:
		if err := t.platform.Scan(); err != nil {
			t.logger.Warnf("failed to start scanning: %s", err)
		}
	case effectStopScan:
		if err := t.platform.StopScan(); err != nil {
			t.logger.Warnf("failed to stop scanning: %s", err)
		}
	case effectConnect:
		if err := t.platform.Connect(e.peripheral); err != nil {
			t.logger.Warnf("failed to initiate connection to `%s`: %s", e.peripheral.ID(), err)
		}
	case effectCancelConnection:
		t.logger.Debugf("disconnecting from peripheral `%s/%s`", e.peripheral.Name(), e.peripheral.ID())
		if err := t.platform.CancelConnection(e.peripheral); err != nil {
			t.logger.Warnf("failed to cancel connection to `%s`: %s", e.peripheral.ID(), err)
		}
	case effectDiscoverServices:
		if err := t.platform.DiscoverServices(e.peripheral, e.service); err != nil {
			t.logger.Warnf("failed to request service discovery on `%s`: %s", e.peripheral.ID(), err)
		}
	case effectDiscoverCharacteristics:
		if err := t.platform.DiscoverCharacteristics(e.peripheral, e.service); err != nil {
			t.logger.Warnf("failed to request characteristic discovery on `%s`: %s", e.peripheral.ID(), err)
		}
	case effectSubscribe:
		if err := t.platform.SetNotify(e.peripheral, e.service, e.characteristic); err != nil {
			t.logger.Warnf("failed to subscribe to characteristic `%s`: %s", e.characteristic, err)
		}
	case effectHeartbeat:
		if t.heartbeatHandler != nil {
			t.heartbeatHandler()
		}
	case effectWarn:
		t.logger.Warn(e.msg)
	}

	return nil
}

func (t *Transmitter) setStatus(status Status) {

	// Call handler function, if any
	if t.statusChangeHandler != nil {
		t.statusChangeHandler(status)
	}

	// Put status change on channel, if any
	if t.statusChangeChan != nil {
		select {
		case t.statusChangeChan <- status:
		default:
		}
	}
}

func (t *Transmitter) logEvent(ev Event) {
	switch e := ev.(type) {
	case PeripheralDiscovered:
		t.logger.Debugf("discovered peripheral `%s/%s`", e.Peripheral.Name(), e.Peripheral.ID())
	case Connected:
		t.logger.Debugf("connected peripheral `%s/%s`", e.Peripheral.Name(), e.Peripheral.ID())
	case Disconnected:
		if e.Err != nil {
			t.logger.Infof("peripheral disconnected: %s", e.Err)
		} else {
			t.logger.Infof("peripheral disconnected")
		}
	case ValueUpdated:
		t.logger.Debugf("received notification on `%s`", e.CharacteristicUUID)
	case PowerStateChanged:
		t.logger.Infof("adapter powered on: %v", e.PoweredOn)
	case Restored:
		t.logger.Infof("restoring central `%s` after restart", e.RestoreIdentifier)
	case startRequested:
		t.logger.Debugf("starting heartbeat transmitter for `%s`", t.Identity().Address)
	case stopRequested:
		t.logger.Debugf("stopping heartbeat transmitter for `%s`", t.Identity().Address)
	}
}
