package heartbeat

import "fmt"

// State denotes the connection state of the heartbeat transmitter
type State int

const (

	// StateUninitialized is active before the first connection attempt
	StateUninitialized State = iota

	// StateScanning is active while scanning for the transmitter
	StateScanning

	// StateConnecting is active while a connection request is pending
	StateConnecting

	// StateServiceDiscovery is active while discovering the transmitter service
	StateServiceDiscovery

	// StateCharacteristicDiscovery is active while discovering the service characteristics
	StateCharacteristicDiscovery

	// StateSubscribed is active while notifications of the receive characteristic are enabled
	StateSubscribed

	// StateDisconnected is active after the connection was lost or torn down
	StateDisconnected
)

var stateNames = map[State]string{
	StateUninitialized:           "uninitialized",
	StateScanning:                "scanning",
	StateConnecting:              "connecting",
	StateServiceDiscovery:        "service discovery",
	StateCharacteristicDiscovery: "characteristic discovery",
	StateSubscribed:              "subscribed",
	StateDisconnected:            "disconnected",
}

// String returns a human-readable representation of the state
func (s State) String() string {
	if name, exists := stateNames[s]; exists {
		return name
	}
	return fmt.Sprintf("unknown (%d)", int(s))
}

// isIdle returns if no connection is established or pending
func (s State) isIdle() bool {
	return s == StateUninitialized || s == StateScanning || s == StateDisconnected
}

// StatusKind denotes one of the canonical, user-facing heartbeat conditions
type StatusKind string

const (

	// StatusNotApplicable denotes that the CGM is not used as heartbeat
	StatusNotApplicable StatusKind = "not_applicable"

	// StatusSearching denotes that no connection has been made yet
	StatusSearching StatusKind = "searching"

	// StatusConnected denotes that a connection was made at least once
	StatusConnected StatusKind = "connected"

	// StatusUnpaired denotes that the companion app does not know any transmitter
	StatusUnpaired StatusKind = "unpaired"
)

// Status denotes the current, displayable status of the heartbeat
type Status struct {
	Kind    StatusKind `json:"kind"`
	State   State      `json:"state"`
	Address string     `json:"address,omitempty"`
}

// NotApplicableStatus returns the status used while the heartbeat is switched off
func NotApplicableStatus() Status {
	return Status{Kind: StatusNotApplicable}
}

// UnpairedStatus returns the status used while no transmitter is known
func UnpairedStatus() Status {
	return Status{Kind: StatusUnpaired}
}

// String returns the human-readable status text
func (s Status) String() string {
	switch s.Kind {
	case StatusNotApplicable:
		return "CGM is not used as heartbeat"
	case StatusUnpaired:
		return "No transmitter known, connect to a transmitter in the companion app first"
	case StatusSearching:
		return fmt.Sprintf("Trying to connect to transmitter %s (%s). If this does not succeed within a few minutes, force-close the companion app and reopen it", s.Address, s.State)
	case StatusConnected:
		return fmt.Sprintf("Connected to transmitter %s at least once, currently %s", s.Address, s.State)
	}
	return "unknown"
}

// MarshalText renders the state by its name (e.g. for JSON encoding)
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state from its name
func (s *State) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("invalid state: %q", text)
}
