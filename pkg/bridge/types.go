package bridge

import (
	"fmt"

	"github.com/fako1024/cgmbridge/pkg/glucose"
)

// Trigger denotes the cause of a poll request
type Trigger int

const (

	// TriggerHeartbeat denotes a BLE heartbeat (notification or disconnect)
	TriggerHeartbeat Trigger = iota

	// TriggerForeground denotes the host coming to the foreground / being launched
	TriggerForeground

	// TriggerPoll denotes an explicit poll request by the host
	TriggerPoll

	// TriggerTimer denotes the periodic poll timer
	TriggerTimer
)

var triggerNames = map[Trigger]string{
	TriggerHeartbeat:  "heartbeat",
	TriggerForeground: "foreground",
	TriggerPoll:       "poll",
	TriggerTimer:      "timer",
}

// String returns a human-readable representation of the trigger
func (t Trigger) String() string {
	if name, exists := triggerNames[t]; exists {
		return name
	}
	return fmt.Sprintf("unknown (%d)", int(t))
}

// Outcome denotes the result kind of a poll request
type Outcome int

const (

	// OutcomeSkipped denotes a request dropped by the rate limit (no delegate call)
	OutcomeSkipped Outcome = iota

	// OutcomeNoData denotes a poll without new readings
	OutcomeNoData

	// OutcomeNewData denotes a poll that forwarded new samples
	OutcomeNewData

	// OutcomeError denotes a failed poll
	OutcomeError
)

var outcomeNames = map[Outcome]string{
	OutcomeSkipped: "skipped",
	OutcomeNoData:  "no data",
	OutcomeNewData: "new data",
	OutcomeError:   "error",
}

// String returns a human-readable representation of the outcome
func (o Outcome) String() string {
	if name, exists := outcomeNames[o]; exists {
		return name
	}
	return fmt.Sprintf("unknown (%d)", int(o))
}

// MarshalText renders the outcome by name (e.g. for JSON status output)
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Result denotes the result of a single poll request
type Result struct {
	Outcome Outcome
	Samples glucose.Samples
	Err     error
}

// Delegate denotes the host receiving the outcome of each completed poll (exactly one
// call per poll)
type Delegate interface {
	OnNewData(samples glucose.Samples)
	OnNoData()
	OnError(err error)
}

// Fetcher denotes the source of readings
type Fetcher interface {
	FetchReadings() (glucose.Readings, error)
}

// IdentityChecker denotes the component run ahead of each admitted poll to pick up changes
// of the transmitter identity
type IdentityChecker interface {
	Check() error
}

// UnmarshalText parses an outcome from its name
func (o *Outcome) UnmarshalText(text []byte) error {
	for outcome, name := range outcomeNames {
		if name == string(text) {
			*o = outcome
			return nil
		}
	}
	return fmt.Errorf("invalid outcome: %q", text)
}
