package glucose

import (
	"fmt"
	"strconv"
	"time"
)

const (

	// MinValidValue denotes the lowest physiologically plausible concentration (mg/dL)
	MinValidValue = 39.

	// MaxValidValue denotes the highest physiologically plausible concentration (mg/dL)
	MaxValidValue = 500.
)

// Trend denotes the direction of the glucose concentration
type Trend int

const (

	// TrendUnknown denotes an unknown / missing trend
	TrendUnknown Trend = iota

	// TrendUpUpUp denotes a rapidly rising concentration
	TrendUpUpUp

	// TrendUpUp denotes a rising concentration
	TrendUpUp

	// TrendUp denotes a slowly rising concentration
	TrendUp

	// TrendFlat denotes a stable concentration
	TrendFlat

	// TrendDown denotes a slowly falling concentration
	TrendDown

	// TrendDownDown denotes a falling concentration
	TrendDownDown

	// TrendDownDownDown denotes a rapidly falling concentration
	TrendDownDownDown
)

var trendNames = map[Trend]string{
	TrendUnknown:      "unknown",
	TrendUpUpUp:       "up-up-up",
	TrendUpUp:         "up-up",
	TrendUp:           "up",
	TrendFlat:         "flat",
	TrendDown:         "down",
	TrendDownDown:     "down-down",
	TrendDownDownDown: "down-down-down",
}

// ParseTrend converts a raw trend code (1-7) as written by the companion app
func ParseTrend(code int64) (Trend, error) {
	if code < int64(TrendUpUpUp) || code > int64(TrendDownDownDown) {
		return TrendUnknown, fmt.Errorf("invalid trend code: %d", code)
	}
	return Trend(code), nil
}

// String returns a human-readable representation of the trend
func (t Trend) String() string {
	if name, exists := trendNames[t]; exists {
		return name
	}
	return trendNames[TrendUnknown]
}

// Reading denotes a single glucose measurement at a certain point in time
type Reading struct {
	Value     float64   `json:"value"`
	Trend     Trend     `json:"trend"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// IsValid returns if the concentration lies within the physiologically plausible range
func (r Reading) IsValid() bool {
	return r.Value >= MinValidValue && r.Value <= MaxValidValue
}

// Sample converts the reading into the representation handed to the host
func (r Reading) Sample() Sample {
	return Sample{
		Date:           r.Timestamp,
		Value:          r.Value,
		Trend:          r.Trend,
		SyncIdentifier: strconv.FormatInt(r.Timestamp.Unix(), 10),
	}
}

// String returns a compact representation of the reading
func (r Reading) String() string {
	return fmt.Sprintf("%.0f mg/dL (%s) at %s from %s", r.Value, r.Trend, r.Timestamp.Format(time.RFC3339), r.Source)
}

// Readings denotes an ordered set of readings (usually the result of a single fetch)
type Readings []Reading

// Since returns all readings strictly after the watermark, preserving their order
func (rs Readings) Since(watermark time.Time) Readings {
	res := make(Readings, 0, len(rs))
	for _, r := range rs {
		if r.Timestamp.After(watermark) {
			res = append(res, r)
		}
	}
	return res
}

// Valid returns all readings within the plausible range, preserving their order
func (rs Readings) Valid() Readings {
	res := make(Readings, 0, len(rs))
	for _, r := range rs {
		if r.IsValid() {
			res = append(res, r)
		}
	}
	return res
}

// Latest returns the reading with the latest timestamp. Equal timestamps resolve to
// the first occurrence
func (rs Readings) Latest() (Reading, bool) {
	if len(rs) == 0 {
		return Reading{}, false
	}

	latest := rs[0]
	for _, r := range rs[1:] {
		if r.Timestamp.After(latest.Timestamp) {
			latest = r
		}
	}
	return latest, true
}

// Samples converts all readings into host samples
func (rs Readings) Samples() Samples {
	res := make(Samples, len(rs))
	for i, r := range rs {
		res[i] = r.Sample()
	}
	return res
}

// Sample denotes a glucose sample as ingested by the host. SyncIdentifier is derived
// from the epoch seconds of the reading so the host can ingest idempotently
type Sample struct {
	Date           time.Time `json:"date"`
	Value          float64   `json:"value"`
	Trend          Trend     `json:"trend"`
	SyncIdentifier string    `json:"sync_identifier"`
	IsDisplayOnly  bool      `json:"is_display_only"`
	WasUserEntered bool      `json:"was_user_entered"`
}

// Samples denotes a set of host samples
type Samples []Sample
