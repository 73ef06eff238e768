package timeseries

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// SettlementPeriodLength is the duration of one settlement period.
const SettlementPeriodLength = 30 * time.Minute

// MaxSettlementPeriod is the period count of the long clock-change day.
const MaxSettlementPeriod = 50

// ErrInvalidSettlementPeriod is returned for periods outside 1..MaxSettlementPeriod.
var ErrInvalidSettlementPeriod = errors.New("timeseries: settlement period out of range")

// SettlementPeriodToUTC maps a settlement date and 1-based period to the UTC
// instant at which the period starts. Period 1 begins at 00:00Z of the date.
func SettlementPeriodToUTC(date time.Time, period int) (time.Time, error) {
	if period < 1 || period > MaxSettlementPeriod {
		return time.Time{}, fmt.Errorf("%w: got %d, want 1..%d", ErrInvalidSettlementPeriod, period, MaxSettlementPeriod)
	}
	y, m, d := date.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return start.Add(time.Duration(period-1) * SettlementPeriodLength), nil
}

// ParseSettlementDate accepts a plain date (2006-01-02) or any timestamp
// understood by ParseTimestamp and returns the date at 00:00 UTC. The
// calendar date is taken in the timestamp's own offset.
func ParseSettlementDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("timeseries: empty settlement date")
	}
	if d, err := time.Parse(time.DateOnly, value); err == nil {
		return d, nil
	}
	ts, err := parseTimestampLocal(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("timeseries: invalid settlement date %q", value)
	}
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses an ISO-8601 timestamp. Values without an offset are
// taken to be UTC. The result is always in UTC.
func ParseTimestamp(value string) (time.Time, error) {
	ts, err := parseTimestampLocal(value)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

// parseTimestampLocal keeps the offset written in value.
func parseTimestampLocal(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("timeseries: unsupported timestamp %q", value)
}

// FormatUTC renders t as an ISO-8601 UTC string with a Z suffix, the form
// expected by the upstream from/to query parameters.
func FormatUTC(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
