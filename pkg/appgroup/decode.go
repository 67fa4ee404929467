package appgroup

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"time"

	"github.com/buger/jsonparser"
	"github.com/fako1024/cgmbridge/pkg/glucose"
)

// Field names of a single record in the readings list
const (
	fieldValue     = "Value"
	fieldTrend     = "Trend"
	fieldTimestamp = "DT"
	fieldSource    = "from"
)

// The timestamp embeds the millisecond epoch in parentheses, e.g. /Date(1700000000000)/,
// optionally followed by a UTC offset that does not affect the epoch
var timestampPattern = regexp.MustCompile(`\((-?\d+(?:\.\d+)?)(?:[+-]\d{4})?\)`)

// Decode parses a serialized readings list. Records lacking a required field or carrying
// an unparsable timestamp are skipped, as are records from another source (unless source
// is empty). An error is only returned if the data is not a single list at all
func Decode(data []byte, source string) (glucose.Readings, error) {

	_, dataType, end, err := jsonparser.Get(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecode, err)
	}
	if dataType != jsonparser.Array {
		return nil, fmt.Errorf("%w: expected list of readings, got %s", ErrDecode, dataType)
	}
	if len(bytes.TrimSpace(data[end:])) > 0 {
		return nil, fmt.Errorf("%w: unexpected data after list of readings at offset %d", ErrDecode, end)
	}

	readings := make(glucose.Readings, 0)
	if _, err := jsonparser.ArrayEach(data, func(value []byte, dataType jsonparser.ValueType, _ int, err error) {
		if err != nil || dataType != jsonparser.Object {
			return
		}
		if reading, ok := decodeRecord(value, source); ok {
			readings = append(readings, reading)
		}
	}); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDecode, err)
	}

	return readings, nil
}

// ParseTimestamp extracts the point in time from a serialized timestamp
func ParseTimestamp(raw string) (time.Time, error) {
	match := timestampPattern.FindStringSubmatch(raw)
	if match == nil {
		return time.Time{}, fmt.Errorf("no epoch found in timestamp `%s`", raw)
	}

	if ms, err := strconv.ParseInt(match[1], 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	ms, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch in timestamp `%s`: %w", raw, err)
	}
	return time.Unix(0, int64(math.Round(ms*float64(time.Millisecond)))).UTC(), nil
}

// FormatTimestamp serializes a point in time the way the companion app does
func FormatTimestamp(ts time.Time) string {
	return fmt.Sprintf("/Date(%d)/", ts.UnixMilli())
}

////////////////////////////////////////////////////////////////////////////////

func decodeRecord(data []byte, source string) (glucose.Reading, bool) {

	value, err := jsonparser.GetFloat(data, fieldValue)
	if err != nil {
		return glucose.Reading{}, false
	}
	code, err := jsonparser.GetInt(data, fieldTrend)
	if err != nil {
		return glucose.Reading{}, false
	}
	trend, err := glucose.ParseTrend(code)
	if err != nil {
		return glucose.Reading{}, false
	}
	rawTimestamp, err := jsonparser.GetString(data, fieldTimestamp)
	if err != nil {
		return glucose.Reading{}, false
	}
	ts, err := ParseTimestamp(rawTimestamp)
	if err != nil {
		return glucose.Reading{}, false
	}

	// The source tag is only required if filtering by source
	from, err := jsonparser.GetString(data, fieldSource)
	if source != "" && (err != nil || from != source) {
		return glucose.Reading{}, false
	}

	return glucose.Reading{
		Value:     value,
		Trend:     trend,
		Timestamp: ts,
		Source:    from,
	}, true
}
