package heartbeat

import (
	"errors"
	"fmt"
	"strings"
)

// ErrIncompleteIdentity is returned if a device address is set without the accompanying
// service / characteristic identifiers
var ErrIncompleteIdentity = errors.New("incomplete transmitter identity")

// Identity denotes the transmitter the companion app is currently bound to
type Identity struct {
	Address               string `json:"address"`
	ServiceUUID           string `json:"service_uuid"`
	ReceiveCharacteristic string `json:"receive_characteristic"`
}

// IsZero returns if no transmitter is known at all
func (id Identity) IsZero() bool {
	return id.Address == "" && id.ServiceUUID == "" && id.ReceiveCharacteristic == ""
}

// Validate ensures that all fields required to establish a connection are present
func (id Identity) Validate() error {
	if id.Address == "" {
		return fmt.Errorf("%w: no device address", ErrIncompleteIdentity)
	}
	if id.ServiceUUID == "" {
		return fmt.Errorf("%w: device address `%s` set without service UUID", ErrIncompleteIdentity, id.Address)
	}
	if id.ReceiveCharacteristic == "" {
		return fmt.Errorf("%w: device address `%s` set without receive characteristic", ErrIncompleteIdentity, id.Address)
	}
	return nil
}

// RestoreIdentifier returns the key under which the platform may restore the central
// after a process restart
func (id Identity) RestoreIdentifier() string {
	return "Loop-" + id.Address
}

// String returns a compact representation of the identity
func (id Identity) String() string {
	if id.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s (service %s, receive %s)", id.Address, id.ServiceUUID, id.ReceiveCharacteristic)
}

// SameUUID compares two UUID strings irrespective of case and dashes (platforms differ
// in how they render them)
func SameUUID(a, b string) bool {
	return normalizeUUID(a) == normalizeUUID(b)
}

func normalizeUUID(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "")
}
