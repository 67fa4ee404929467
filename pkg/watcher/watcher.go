// Package watcher keeps the heartbeat transmitter in line with the transmitter the
// companion app is currently bound to
package watcher

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fako1024/cgmbridge/pkg/glucose"
	"github.com/fako1024/cgmbridge/pkg/heartbeat"
	"github.com/fako1024/cgmbridge/pkg/kvstore"
)

// Keys of the local store
const (
	KeyAddress               = "heartbeat.address"
	KeyServiceUUID           = "heartbeat.service_uuid"
	KeyReceiveCharacteristic = "heartbeat.receive_characteristic"
	KeyEnabled               = "heartbeat.enabled"
	KeyStatus                = "heartbeat.status"
)

// IdentitySource denotes the source of the current transmitter identity
type IdentitySource interface {
	Identity() (heartbeat.Identity, error)
}

// Factory builds a transmitter for an identity, applying the provided options on top of
// its own
type Factory func(id heartbeat.Identity, options ...func(*heartbeat.Transmitter)) (*heartbeat.Transmitter, error)

// Watcher denotes the device identity change watcher
type Watcher struct {
	source  IdentitySource
	local   kvstore.ReadWrite
	factory Factory

	mu         sync.Mutex
	tx         *heartbeat.Transmitter
	generation atomic.Uint64
	enabled    bool

	statusMu sync.RWMutex
	status   heartbeat.Status

	defaultEnabled        bool
	identityChangeHandler func(previous, current heartbeat.Identity)
	statusChangeHandler   func(status heartbeat.Status)

	logger glucose.Logger
}

// New instantiates a new Watcher, executing functional options, if any. No transmitter is
// built before the first call to Check()
func New(source IdentitySource, local kvstore.ReadWrite, factory Factory, options ...func(*Watcher)) (*Watcher, error) {
	if source == nil || local == nil || factory == nil {
		return nil, errors.New("identity source, local store and transmitter factory are required")
	}

	w := &Watcher{
		source:         source,
		local:          local,
		factory:        factory,
		defaultEnabled: true,
		logger:         &glucose.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(w)
	}

	enabled, err := kvstore.GetBool(local, KeyEnabled, w.defaultEnabled)
	if err != nil {
		return nil, fmt.Errorf("failed to read heartbeat setting: %w", err)
	}
	w.enabled = enabled

	if enabled {
		w.setStatus(heartbeat.Status{Kind: heartbeat.StatusSearching})
	} else {
		w.setStatus(heartbeat.NotApplicableStatus())
	}

	return w, nil
}

// SetIdentityChangeHandler defines a handler function that is called upon identity change
func (w *Watcher) SetIdentityChangeHandler(fn func(previous, current heartbeat.Identity)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.identityChangeHandler = fn
}

// Check compares the identity published by the companion app with the last known one and
// rebuilds the transmitter if required. An incomplete identity is reported as error and
// leaves the current transmitter untouched
func (w *Watcher) Check() error {
	current, err := w.source.Identity()
	if err != nil {
		if errors.Is(err, heartbeat.ErrIncompleteIdentity) {
			w.logger.Errorf("inconsistent transmitter configuration in shared store: %s", err)
		}
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	return w.apply(current, false)
}

// SetEnabled switches the use of the transmitter as heartbeat on or off (persistently)
func (w *Watcher) SetEnabled(enabled bool) error {
	if err := kvstore.SetBool(w.local, KeyEnabled, enabled); err != nil {
		return fmt.Errorf("failed to persist heartbeat setting: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.enabled = enabled
	if !enabled {
		w.logger.Info("heartbeat disabled")
		w.closeTransmitter()
		w.setStatus(heartbeat.NotApplicableStatus())
		return nil
	}

	w.logger.Info("heartbeat enabled")
	current, err := w.source.Identity()
	if err != nil {
		return err
	}
	return w.apply(current, true)
}

// Enabled returns if the transmitter is used as heartbeat
func (w *Watcher) Enabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.enabled
}

// Identity returns the last known identity
func (w *Watcher) Identity() heartbeat.Identity {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.storedIdentity()
}

// Transmitter returns the running transmitter, if any
func (w *Watcher) Transmitter() *heartbeat.Transmitter {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.tx
}

// ConnectedFor returns the uptime of the current connection of the running transmitter
// (zero if there is none)
func (w *Watcher) ConnectedFor() time.Duration {
	if tx := w.Transmitter(); tx != nil {
		return tx.ConnectedFor()
	}
	return 0
}

// Status returns the current heartbeat status
func (w *Watcher) Status() heartbeat.Status {
	w.statusMu.RLock()
	defer w.statusMu.RUnlock()

	return w.status
}

// Close tears down the running transmitter, if any
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.closeTransmitter()
	return nil
}

////////////////////////////////////////////////////////////////////////////////

// apply must be called with the lock held
func (w *Watcher) apply(current heartbeat.Identity, force bool) error {
	previous := w.storedIdentity()
	changed := previous != current

	if changed {
		w.logger.Infof("transmitter changed from %s to %s", previous, current)
	}

	if !w.enabled {
		if changed {
			w.persistIdentity(previous, current)
		}
		return nil
	}

	if current.IsZero() {
		w.closeTransmitter()
		w.setStatus(heartbeat.UnpairedStatus())
		if changed {
			w.persistIdentity(previous, current)
		}
		return nil
	}

	if !changed && !force && w.tx != nil {
		return nil
	}

	w.closeTransmitter()

	generation := w.generation.Add(1)
	tx, err := w.factory(current, heartbeat.WithStatusChangeHandler(func(status heartbeat.Status) {
		if w.generation.Load() == generation {
			w.setStatus(status)
		}
	}))
	if err != nil {
		w.setStatus(heartbeat.Status{Kind: heartbeat.StatusSearching, Address: current.Address})
		return fmt.Errorf("failed to build transmitter for %s: %w", current, err)
	}

	w.tx = tx
	w.setStatus(tx.Status())
	tx.Start()

	if changed {
		w.persistIdentity(previous, current)
	}

	return nil
}

// closeTransmitter must be called with the lock held
func (w *Watcher) closeTransmitter() {
	if w.tx == nil {
		return
	}

	// Status changes of the outgoing transmitter are ignored from here on
	w.generation.Add(1)
	if err := w.tx.Close(); err != nil {
		w.logger.Warnf("failed to close transmitter: %s", err)
	}
	w.tx = nil
}

func (w *Watcher) storedIdentity() (id heartbeat.Identity) {
	id.Address, _ = kvstore.GetString(w.local, KeyAddress)
	id.ServiceUUID, _ = kvstore.GetString(w.local, KeyServiceUUID)
	id.ReceiveCharacteristic, _ = kvstore.GetString(w.local, KeyReceiveCharacteristic)
	return
}

func (w *Watcher) persistIdentity(previous, current heartbeat.Identity) {
	for key, val := range map[string]string{
		KeyAddress:               current.Address,
		KeyServiceUUID:           current.ServiceUUID,
		KeyReceiveCharacteristic: current.ReceiveCharacteristic,
	} {
		var err error
		if val == "" {
			err = w.local.Delete(key)
		} else {
			err = kvstore.SetString(w.local, key, val)
		}
		if err != nil {
			w.logger.Errorf("failed to persist transmitter identity: %s", err)
		}
	}

	if w.identityChangeHandler != nil {
		w.identityChangeHandler(previous, current)
	}
}

func (w *Watcher) setStatus(status heartbeat.Status) {
	w.statusMu.Lock()
	changed := w.status != status
	w.status = status
	w.statusMu.Unlock()

	if !changed {
		return
	}

	if err := kvstore.SetString(w.local, KeyStatus, string(status.Kind)); err != nil {
		w.logger.Warnf("failed to persist heartbeat status: %s", err)
	}
	if w.statusChangeHandler != nil {
		w.statusChangeHandler(status)
	}
}
