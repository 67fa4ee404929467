// Package kvstore provides the key/value ports through which the bridge accesses the
// cross-process shared store (written by the companion app) and its own local state.
package kvstore

import (
	"errors"
	"fmt"
	"strconv"
)

// Drivers supported by Open()
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// ErrNotFound is returned if a key does not exist in the store
var ErrNotFound = errors.New("key not found")

// ReadOnly denotes a key/value store that can only be read from
type ReadOnly interface {

	// Get returns the value stored under the key, or ErrNotFound
	Get(key string) ([]byte, error)
}

// ReadWrite denotes a key/value store that can be read from and written to
type ReadWrite interface {
	ReadOnly

	// Set stores the value under the key, replacing any previous value
	Set(key string, value []byte) error

	// Delete removes the key (no error if it does not exist)
	Delete(key string) error
}

// Store denotes a store that has to be closed after use
type Store interface {
	ReadWrite

	// Close releases all resources held by the store
	Close() error
}

// Open opens a store using the named driver. Writes to a store opened read-only fail
func Open(driver, path string, readOnly bool) (Store, error) {
	switch driver {
	case DriverSQLite:
		return OpenSQLite(path, readOnly)
	case DriverMemory:
		return NewMemory(), nil
	}

	return nil, fmt.Errorf("unsupported store driver: %q", driver)
}

// GetString returns the value stored under the key as string
func GetString(store ReadOnly, key string) (string, error) {
	val, err := store.Get(key)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

// SetString stores a string value under the key
func SetString(store ReadWrite, key, value string) error {
	return store.Set(key, []byte(value))
}

// GetBool returns the value stored under the key as boolean, falling back to the
// provided default if the key does not exist
func GetBool(store ReadOnly, key string, fallback bool) (bool, error) {
	val, err := GetString(store, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fallback, nil
		}
		return fallback, err
	}
	return strconv.ParseBool(val)
}

// SetBool stores a boolean value under the key
func SetBool(store ReadWrite, key string, value bool) error {
	return SetString(store, key, strconv.FormatBool(value))
}
