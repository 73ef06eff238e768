package timeseries

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zeromicro/go-zero/core/logx"
)

// Schema describes how one upstream dataset maps onto Observation. Candidate
// key lists are ordered; the first key present with a non-null value wins.
type Schema struct {
	Name string

	// DatasetKey/DatasetCode filter records of a mixed feed. Records whose
	// DatasetKey value does not match DatasetCode (case-insensitive) are
	// skipped and counted. An empty DatasetCode disables the filter.
	DatasetKey  string
	DatasetCode string

	TimestampKeys        []string
	SettlementDateKeys   []string
	SettlementPeriodKeys []string
	ValueKeys            []string

	// ConsistencyKey names a second reading of the value (levelTo for
	// levelFrom). A disagreement is reported as a warning only.
	ConsistencyKey string

	// PerUnit marks series keyed by (timestamp, unit).
	PerUnit  bool
	UnitKeys []string
}

// Default candidate lists for settlement-addressed records.
var (
	DefaultSettlementDateKeys   = []string{"settlementDate", "settlement_date"}
	DefaultSettlementPeriodKeys = []string{"settlementPeriod", "settlement_period", "period"}
)

// Validate checks the schema is usable.
func (s Schema) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("timeseries: schema name is required")
	}
	if len(s.ValueKeys) == 0 {
		return fmt.Errorf("timeseries: %s: at least one value key is required", s.Name)
	}
	if len(s.TimestampKeys) == 0 && len(s.SettlementDateKeys) == 0 {
		return fmt.Errorf("timeseries: %s: timestamp or settlement date keys are required", s.Name)
	}
	if len(s.SettlementDateKeys) > 0 && len(s.SettlementPeriodKeys) == 0 {
		return fmt.Errorf("timeseries: %s: settlement period keys are required with settlement date keys", s.Name)
	}
	return nil
}

// Normalizer converts raw records into observations for one Schema.
type Normalizer struct {
	schema Schema
}

// NewNormalizer validates schema and returns a Normalizer bound to it.
func NewNormalizer(schema Schema) (*Normalizer, error) {
	if schema.DatasetCode != "" && schema.DatasetKey == "" {
		schema.DatasetKey = "dataset"
	}
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	return &Normalizer{schema: schema}, nil
}

// Schema returns the bound schema.
func (n *Normalizer) Schema() Schema { return n.schema }

// Normalize filters and transforms records. unitID is attached to every
// observation of a per-unit schema; when empty, the unit is read from the
// record's UnitKeys. Any malformed record fails the whole batch.
func (n *Normalizer) Normalize(ctx context.Context, records []RawRecord, unitID string) (Result, error) {
	var res Result
	res.Observations = make([]Observation, 0, len(records))
	for i, rec := range records {
		if rec == nil {
			return Result{}, &MalformedRecordError{Dataset: n.schema.Name, Index: i}
		}
		if !n.matchesDataset(rec) {
			res.Skipped++
			continue
		}
		obs, warn, err := n.normalizeOne(rec, unitID)
		if err != nil {
			return Result{}, err
		}
		if warn != nil {
			logx.WithContext(ctx).Infof("warning: %s: inconsistent record: %s", n.schema.Name, warn.String())
			res.Warnings = append(res.Warnings, *warn)
		}
		res.Observations = append(res.Observations, obs)
	}
	return res, nil
}

func (n *Normalizer) matchesDataset(rec RawRecord) bool {
	if n.schema.DatasetCode == "" {
		return true
	}
	raw, ok := lookup(rec, n.schema.DatasetKey)
	if !ok {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(fmt.Sprint(raw)), n.schema.DatasetCode)
}

func (n *Normalizer) normalizeOne(rec RawRecord, unitID string) (Observation, *Inconsistency, error) {
	ts, err := n.timestamp(rec)
	if err != nil {
		return Observation{}, nil, err
	}

	valueKey, rawValue, ok := first(rec, n.schema.ValueKeys)
	if !ok {
		return Observation{}, nil, n.missing(rec, "value", n.schema.ValueKeys)
	}
	value, err := ParseDecimal(rawValue)
	if err != nil {
		return Observation{}, nil, &MalformedValueError{Dataset: n.schema.Name, Field: valueKey, Raw: rawValue, Err: err}
	}

	obs := Observation{Timestamp: ts, Value: value}
	if n.schema.PerUnit {
		unit := strings.TrimSpace(unitID)
		if unit == "" {
			if _, raw, found := first(rec, n.schema.UnitKeys); found {
				unit = strings.TrimSpace(fmt.Sprint(raw))
			}
		}
		if unit == "" {
			return Observation{}, nil, n.missing(rec, "unit", n.schema.UnitKeys)
		}
		obs.UnitID = unit
	}

	var warn *Inconsistency
	if n.schema.ConsistencyKey != "" {
		if other, found := lookup(rec, n.schema.ConsistencyKey); found {
			otherValue, perr := ParseDecimal(other)
			if perr != nil || !otherValue.Equal(value) {
				warn = &Inconsistency{
					Timestamp:  ts,
					UnitID:     obs.UnitID,
					Field:      valueKey,
					Value:      value.String(),
					OtherField: n.schema.ConsistencyKey,
					Other:      fmt.Sprint(other),
				}
			}
		}
	}
	return obs, warn, nil
}

func (n *Normalizer) timestamp(rec RawRecord) (time.Time, error) {
	if key, raw, ok := first(rec, n.schema.TimestampKeys); ok {
		s, isString := raw.(string)
		if !isString {
			return time.Time{}, &MalformedValueError{Dataset: n.schema.Name, Field: key, Raw: raw}
		}
		ts, err := ParseTimestamp(s)
		if err != nil {
			return time.Time{}, &MalformedValueError{Dataset: n.schema.Name, Field: key, Raw: raw, Err: err}
		}
		return ts, nil
	}

	dateKey, rawDate, hasDate := first(rec, n.schema.SettlementDateKeys)
	periodKey, rawPeriod, hasPeriod := first(rec, n.schema.SettlementPeriodKeys)
	if !hasDate || !hasPeriod {
		candidates := append(append(append([]string{}, n.schema.TimestampKeys...), n.schema.SettlementDateKeys...), n.schema.SettlementPeriodKeys...)
		return time.Time{}, n.missing(rec, "timestamp", candidates)
	}
	date, err := ParseSettlementDate(fmt.Sprint(rawDate))
	if err != nil {
		return time.Time{}, &MalformedValueError{Dataset: n.schema.Name, Field: dateKey, Raw: rawDate, Err: err}
	}
	period, err := parsePeriod(rawPeriod)
	if err != nil {
		return time.Time{}, &MalformedValueError{Dataset: n.schema.Name, Field: periodKey, Raw: rawPeriod, Err: err}
	}
	ts, err := SettlementPeriodToUTC(date, period)
	if err != nil {
		return time.Time{}, &MalformedValueError{Dataset: n.schema.Name, Field: periodKey, Raw: rawPeriod, Err: err}
	}
	return ts, nil
}

func (n *Normalizer) missing(rec RawRecord, field string, candidates []string) error {
	available := make([]string, 0, len(rec))
	for k := range rec {
		available = append(available, k)
	}
	sort.Strings(available)
	return &MissingFieldError{
		Dataset:    n.schema.Name,
		Field:      field,
		Candidates: append([]string(nil), candidates...),
		Available:  available,
	}
}

func lookup(rec RawRecord, key string) (any, bool) {
	if key == "" {
		return nil, false
	}
	v, ok := rec[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func first(rec RawRecord, keys []string) (string, any, bool) {
	for _, key := range keys {
		if v, ok := lookup(rec, key); ok {
			return key, v, true
		}
	}
	return "", nil, false
}

// ParseDecimal converts a JSON scalar into an exact decimal. Floats are
// accepted for callers that decoded without UseNumber.
func ParseDecimal(raw any) (decimal.Decimal, error) {
	switch v := raw.(type) {
	case json.Number:
		return decimal.NewFromString(v.String())
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return decimal.Decimal{}, errors.New("empty string")
		}
		return decimal.NewFromString(s)
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return decimal.Decimal{}, fmt.Errorf("non-finite number %v", v)
		}
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case decimal.Decimal:
		return v, nil
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported type %T", raw)
	}
}

func parsePeriod(raw any) (int, error) {
	var s string
	switch v := raw.(type) {
	case json.Number:
		s = v.String()
	case string:
		s = strings.TrimSpace(v)
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("non-integer period %v", v)
		}
		if math.Abs(v) > math.MaxInt32 {
			return 0, fmt.Errorf("period %v out of range", v)
		}
		return int(v), nil
	case int:
		return v, nil
	case int64:
		if v > math.MaxInt32 || v < math.MinInt32 {
			return 0, fmt.Errorf("period %d out of range", v)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", raw)
	}
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("non-integer period %q", s)
	}
	return p, nil
}
