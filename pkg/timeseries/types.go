package timeseries

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RawRecord is a single upstream JSON object, decoded with UseNumber so that
// numeric fields keep their exact textual representation.
type RawRecord = map[string]any

// Observation is a canonical time-series point ready for persistence.
type Observation struct {
	Timestamp time.Time       // UTC instant
	Value     decimal.Decimal // exact decimal, never a float approximation
	UnitID    string          // BM unit for per-asset series, empty otherwise
}

// Key identifies the natural key of the observation (timestamp plus unit).
func (o Observation) Key() string {
	return fmt.Sprintf("%d|%s", o.Timestamp.UTC().UnixNano(), o.UnitID)
}

func (o Observation) String() string {
	if o.UnitID == "" {
		return fmt.Sprintf("%s=%s", FormatUTC(o.Timestamp), o.Value.String())
	}
	return fmt.Sprintf("%s[%s]=%s", FormatUTC(o.Timestamp), o.UnitID, o.Value.String())
}

// Inconsistency reports a non-fatal disagreement between two variants of the
// same level inside one record (e.g. levelFrom vs levelTo).
type Inconsistency struct {
	Timestamp  time.Time
	UnitID     string
	Field      string
	Value      string
	OtherField string
	Other      string
}

func (i Inconsistency) String() string {
	return fmt.Sprintf("%s (%s) != %s (%s) at %s %s", i.Field, i.Value, i.OtherField, i.Other, FormatUTC(i.Timestamp), i.UnitID)
}

// Result is the outcome of normalizing one upstream batch.
type Result struct {
	Observations []Observation
	Skipped      int // records dropped by the dataset filter
	Warnings     []Inconsistency
}
