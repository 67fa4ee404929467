// Package appgroup reads the data the companion app publishes in the cross-process shared
// store: the list of latest readings and the identity of the transmitter it is bound to
package appgroup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fako1024/cgmbridge/pkg/glucose"
	"github.com/fako1024/cgmbridge/pkg/heartbeat"
	"github.com/fako1024/cgmbridge/pkg/kvstore"
)

// Keys written by the companion app
const (
	KeyLatestReadings        = "latestReadings"
	KeyDeviceAddress         = "cgmTransmitterDeviceAddress"
	KeyServiceUUID           = "cgmTransmitter_CBUUID_Service"
	KeyReceiveCharacteristic = "cgmTransmitter_CBUUID_Receive"
)

const defaultRetries = 2

var (

	// ErrNotFound is returned if the companion app has not published any readings
	ErrNotFound = errors.New("no readings published by companion app")

	// ErrDecode is returned if the published readings cannot be decoded
	ErrDecode = errors.New("failed to decode readings published by companion app")
)

// Update denotes a single result of the readings stream
type Update struct {
	Readings glucose.Readings
	Err      error
}

// Reader denotes a reader of the shared store
type Reader struct {
	store   kvstore.ReadOnly
	source  string
	retries int

	logger glucose.Logger
}

// New instantiates a new Reader on top of the shared store, executing functional options,
// if any
func New(store kvstore.ReadOnly, options ...func(*Reader)) *Reader {
	r := &Reader{
		store:   store,
		retries: defaultRetries,
		logger:  &glucose.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(r)
	}

	return r
}

// FetchReadings reads and decodes the latest readings (valid or not)
func (r *Reader) FetchReadings() (glucose.Readings, error) {
	data, err := r.store.Get(KeyLatestReadings)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read `%s` from shared store: %w", KeyLatestReadings, err)
	}

	readings, err := Decode(data, r.source)
	if err != nil {
		return nil, err
	}
	r.logger.Debugf("decoded %d reading(s) from shared store", len(readings))

	return readings, nil
}

// Identity returns the transmitter identity published by the companion app. A zero
// identity denotes that no transmitter is known, an address without the accompanying
// identifiers yields heartbeat.ErrIncompleteIdentity
func (r *Reader) Identity() (heartbeat.Identity, error) {
	address, err := r.getString(KeyDeviceAddress)
	if err != nil {
		return heartbeat.Identity{}, err
	}
	if address == "" {
		return heartbeat.Identity{}, nil
	}

	id := heartbeat.Identity{Address: address}
	if id.ServiceUUID, err = r.getString(KeyServiceUUID); err != nil {
		return heartbeat.Identity{}, err
	}
	if id.ReceiveCharacteristic, err = r.getString(KeyReceiveCharacteristic); err != nil {
		return heartbeat.Identity{}, err
	}

	return id, id.Validate()
}

// LatestReadings periodically fetches the readings and emits the valid ones on the returned
// channel (immediately and after each interval). A failed fetch is retried before its
// error is emitted. The channel is closed once the context is done
func (r *Reader) LatestReadings(ctx context.Context, interval time.Duration) <-chan Update {
	updates := make(chan Update, 1)

	go func() {
		defer close(updates)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			readings, err := r.fetchWithRetry()
			update := Update{Err: err}
			if err == nil {
				update.Readings = readings.Valid()
			}

			select {
			case updates <- update:
			case <-ctx.Done():
				return
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()

	return updates
}

////////////////////////////////////////////////////////////////////////////////

func (r *Reader) fetchWithRetry() (readings glucose.Readings, err error) {
	for attempt := 0; attempt <= r.retries; attempt++ {
		if readings, err = r.FetchReadings(); err == nil {
			return
		}
		r.logger.Debugf("fetching readings failed (attempt %d/%d): %s", attempt+1, r.retries+1, err)
	}
	return
}

func (r *Reader) getString(key string) (string, error) {
	val, err := kvstore.GetString(r.store, key)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read `%s` from shared store: %w", key, err)
	}
	return val, nil
}
