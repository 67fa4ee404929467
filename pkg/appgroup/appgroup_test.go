package appgroup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fako1024/cgmbridge/pkg/glucose"
	"github.com/fako1024/cgmbridge/pkg/heartbeat"
	"github.com/fako1024/cgmbridge/pkg/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var refTime = time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

func TestParseTimestamp(t *testing.T) {
	for _, cs := range []struct {
		raw      string
		expected time.Time
	}{
		{"/Date(1700000000000)/", refTime},
		{"(1700000000000)", refTime},
		{"/Date(1700000000000+0100)/", refTime},
		{"/Date(1700000000500)/", refTime.Add(500 * time.Millisecond)},
		{"/Date(0)/", time.Unix(0, 0).UTC()},
	} {
		t.Run(cs.raw, func(t *testing.T) {
			ts, err := ParseTimestamp(cs.raw)
			require.Nil(t, err)
			assert.True(t, cs.expected.Equal(ts), "got %s", ts)
		})
	}

	for _, raw := range []string{"", "1700000000000", "/Date()/", "/Date(abc)/"} {
		_, err := ParseTimestamp(raw)
		assert.Error(t, err, raw)
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	ts, err := ParseTimestamp(FormatTimestamp(refTime))
	require.Nil(t, err)
	assert.True(t, refTime.Equal(ts))
}

func TestDecode(t *testing.T) {
	data := []byte(`[
		{"Value": 120, "Trend": 4, "DT": "/Date(1700000000000)/", "from": "xDrip"},
		{"Value": 121.5, "Trend": 3, "DT": "/Date(1700000300000)/", "from": "xDrip"},
		{"Value": 122, "Trend": 8, "DT": "/Date(1700000600000)/", "from": "xDrip"},
		{"Value": 123, "Trend": 0, "DT": "/Date(1700000600000)/", "from": "xDrip"},
		{"Value": "124", "Trend": 4, "DT": "/Date(1700000900000)/", "from": "xDrip"},
		{"Trend": 4, "DT": "/Date(1700001200000)/", "from": "xDrip"},
		{"Value": 125, "DT": "/Date(1700001200000)/", "from": "xDrip"},
		{"Value": 126, "Trend": 4, "from": "xDrip"},
		{"Value": 127, "Trend": 4, "DT": "yesterday", "from": "xDrip"},
		{"Value": 128, "Trend": 4, "DT": "/Date(1700001500000)/", "from": "other"},
		{"Value": 129, "Trend": 4, "DT": "/Date(1700001800000)/"},
		{"Value": 20, "Trend": 7, "DT": "/Date(1700002100000)/", "from": "xDrip"},
		42
	]`)

	readings, err := Decode(data, "xDrip")
	require.Nil(t, err)
	assert.Equal(t, glucose.Readings{
		{Value: 120, Trend: glucose.TrendFlat, Timestamp: refTime, Source: "xDrip"},
		{Value: 121.5, Trend: glucose.TrendUp, Timestamp: refTime.Add(5 * time.Minute), Source: "xDrip"},
		{Value: 20, Trend: glucose.TrendDownDownDown, Timestamp: refTime.Add(35 * time.Minute), Source: "xDrip"},
	}, readings)

	// Without source filter, untagged and foreign records are accepted
	readings, err = Decode(data, "")
	require.Nil(t, err)
	assert.Len(t, readings, 5)
}

func TestDecodeErrors(t *testing.T) {
	for _, data := range []string{``, `{}`, `"readings"`, `42`, `[{"Value": 120,`} {
		_, err := Decode([]byte(data), "")
		assert.ErrorIs(t, err, ErrDecode, data)
	}

	readings, err := Decode([]byte(`[]`), "")
	require.Nil(t, err)
	assert.Empty(t, readings)

	// Trailing whitespace is fine, anything else is not
	readings, err = Decode([]byte(" [{\"Value\": 120, \"Trend\": 4, \"DT\": \"/Date(1700000000000)/\"}]\n\t"), "")
	require.Nil(t, err)
	assert.Len(t, readings, 1)

	for _, data := range []string{
		`[{"Value": 120, "Trend": 4, "DT": "/Date(1700000000000)/"}] trailing garbage`,
		`[] []`,
		`[]x`,
	} {
		_, err := Decode([]byte(data), "")
		assert.ErrorIs(t, err, ErrDecode, data)
	}
}

func TestFetchReadings(t *testing.T) {
	store := kvstore.NewMemory()
	r := New(store, WithSource("xDrip"))

	_, err := r.FetchReadings()
	assert.ErrorIs(t, err, ErrNotFound)

	expected := glucose.Readings{
		{Value: 120, Trend: glucose.TrendFlat, Timestamp: refTime, Source: "xDrip"},
		{Value: 600, Trend: glucose.TrendUpUpUp, Timestamp: refTime.Add(5 * time.Minute), Source: "xDrip"},
	}
	require.Nil(t, WriteReadings(store, expected))

	readings, err := r.FetchReadings()
	require.Nil(t, err)
	assert.Equal(t, expected, readings)

	require.Nil(t, store.Set(KeyLatestReadings, []byte("garbage")))
	_, err = r.FetchReadings()
	assert.ErrorIs(t, err, ErrDecode)
}

func TestIdentity(t *testing.T) {
	store := kvstore.NewMemory()
	r := New(store)

	id, err := r.Identity()
	require.Nil(t, err)
	assert.True(t, id.IsZero())

	expected := heartbeat.Identity{
		Address:               "AA",
		ServiceUUID:           "0000febc-0000-1000-8000-00805f9b34fb",
		ReceiveCharacteristic: "f8083535-849e-531c-c594-30f1f86a4ea5",
	}
	require.Nil(t, WriteIdentity(store, expected))
	id, err = r.Identity()
	require.Nil(t, err)
	assert.Equal(t, expected, id)

	// Address without identifiers is an inconsistency
	require.Nil(t, WriteIdentity(store, heartbeat.Identity{Address: "BB"}))
	id, err = r.Identity()
	assert.ErrorIs(t, err, heartbeat.ErrIncompleteIdentity)
	assert.Equal(t, "BB", id.Address)

	// Identifiers without address denote an unpaired companion app
	require.Nil(t, WriteIdentity(store, heartbeat.Identity{ServiceUUID: "febc"}))
	id, err = r.Identity()
	require.Nil(t, err)
	assert.True(t, id.IsZero())
}

type flakyStore struct {
	kvstore.ReadOnly
	failures int32
	calls    int32
}

func (s *flakyStore) Get(key string) ([]byte, error) {
	if atomic.AddInt32(&s.calls, 1) <= s.failures {
		return nil, errors.New("store temporarily unavailable")
	}
	return s.ReadOnly.Get(key)
}

func TestLatestReadings(t *testing.T) {
	mem := kvstore.NewMemory()
	require.Nil(t, WriteReadings(mem, glucose.Readings{
		{Value: 120, Trend: glucose.TrendFlat, Timestamp: refTime},
		{Value: 600, Trend: glucose.TrendFlat, Timestamp: refTime.Add(time.Minute)},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Two failures are covered by the retries
	store := &flakyStore{ReadOnly: mem, failures: 2}
	update := <-New(store).LatestReadings(ctx, time.Hour)
	require.Nil(t, update.Err)
	assert.Equal(t, glucose.Readings{{Value: 120, Trend: glucose.TrendFlat, Timestamp: refTime}}, update.Readings)
	assert.EqualValues(t, 3, atomic.LoadInt32(&store.calls))

	// A third one is not
	store = &flakyStore{ReadOnly: mem, failures: 3}
	update = <-New(store).LatestReadings(ctx, time.Hour)
	assert.Error(t, update.Err)
	assert.Nil(t, update.Readings)
}

func TestLatestReadingsClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	updates := New(kvstore.NewMemory()).LatestReadings(ctx, time.Millisecond)

	update := <-updates
	assert.ErrorIs(t, update.Err, ErrNotFound)

	cancel()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-updates:
			return !ok
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}
