package appgroup

import (
	"encoding/json"
	"fmt"

	"github.com/fako1024/cgmbridge/pkg/glucose"
	"github.com/fako1024/cgmbridge/pkg/heartbeat"
	"github.com/fako1024/cgmbridge/pkg/kvstore"
)

type record struct {
	Value float64 `json:"Value"`
	Trend int     `json:"Trend"`
	DT    string  `json:"DT"`
	From  string  `json:"from,omitempty"`
}

// Encode serializes readings in the format written by the companion app
func Encode(readings glucose.Readings) ([]byte, error) {
	records := make([]record, len(readings))
	for i, r := range readings {
		records[i] = record{
			Value: r.Value,
			Trend: int(r.Trend),
			DT:    FormatTimestamp(r.Timestamp),
			From:  r.Source,
		}
	}
	return json.Marshal(records)
}

// WriteReadings stores readings the way the companion app does (used for fixtures and
// simulation)
func WriteReadings(store kvstore.ReadWrite, readings glucose.Readings) error {
	data, err := Encode(readings)
	if err != nil {
		return fmt.Errorf("failed to encode readings: %w", err)
	}
	return store.Set(KeyLatestReadings, data)
}

// WriteIdentity stores a transmitter identity the way the companion app does. Empty
// fields are removed from the store
func WriteIdentity(store kvstore.ReadWrite, id heartbeat.Identity) error {
	for key, val := range map[string]string{
		KeyDeviceAddress:         id.Address,
		KeyServiceUUID:           id.ServiceUUID,
		KeyReceiveCharacteristic: id.ReceiveCharacteristic,
	} {
		var err error
		if val == "" {
			err = store.Delete(key)
		} else {
			err = kvstore.SetString(store, key, val)
		}
		if err != nil {
			return fmt.Errorf("failed to write `%s`: %w", key, err)
		}
	}
	return nil
}
