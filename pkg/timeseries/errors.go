package timeseries

import (
	"fmt"
	"strings"
)

// MissingFieldError reports that none of the candidate keys for a semantic
// field were present in a record.
type MissingFieldError struct {
	Dataset    string
	Field      string   // semantic field, e.g. "timestamp" or "value"
	Candidates []string // keys that were tried, in order
	Available  []string // keys present in the record, sorted
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("timeseries: %s: missing %s (tried %s; available %s)",
		e.Dataset, e.Field, strings.Join(e.Candidates, ","), strings.Join(e.Available, ","))
}

// MalformedValueError reports a field that was present but could not be
// parsed into its canonical type.
type MalformedValueError struct {
	Dataset string
	Field   string
	Raw     any
	Err     error
}

func (e *MalformedValueError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("timeseries: %s: malformed %s %v: %v", e.Dataset, e.Field, e.Raw, e.Err)
	}
	return fmt.Sprintf("timeseries: %s: malformed %s %v", e.Dataset, e.Field, e.Raw)
}

func (e *MalformedValueError) Unwrap() error { return e.Err }

// MalformedRecordError reports a batch element that is not a JSON object.
type MalformedRecordError struct {
	Dataset string
	Index   int
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("timeseries: %s: record %d is not an object", e.Dataset, e.Index)
}
