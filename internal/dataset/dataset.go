package dataset

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"battery-tracker/internal/store"
	"battery-tracker/pkg/elexon"
	"battery-tracker/pkg/timeseries"
)

// ErrUnknownDataset is returned by Lookup for unregistered names.
var ErrUnknownDataset = errors.New("dataset: unknown dataset")

// Upstream is the subset of the BMRS client the datasets call.
type Upstream interface {
	SystemPricesForDate(ctx context.Context, date time.Time) ([]timeseries.RawRecord, error)
	MarketIndex(ctx context.Context, window timeseries.Window, provider string) ([]timeseries.RawRecord, error)
	PhysicalNotifications(ctx context.Context, window timeseries.Window, bmUnit string) ([]timeseries.RawRecord, error)
}

var _ Upstream = (*elexon.Client)(nil)

type fetchFunc func(ctx context.Context, up Upstream, window timeseries.Window, selector string) ([]timeseries.RawRecord, error)

// Spec binds one upstream dataset to its schema and target table.
type Spec struct {
	Name        string
	Description string
	Schema      timeseries.Schema
	Table       store.Table

	// Daily datasets are addressed by settlement date and fetched one UTC
	// day at a time; others use WindowSize chunks.
	Daily      bool
	WindowSize time.Duration

	// Selector is the default unit or provider code passed upstream.
	Selector         string
	SelectorRequired bool

	fetch fetchFunc
}

// Windows partitions [start, end) the way this dataset is fetched.
func (s Spec) Windows(start, end time.Time, overlap time.Duration) []timeseries.Window {
	if s.Daily {
		return timeseries.DailyWindows(start, end)
	}
	return timeseries.ChunkWithOverlap(start, end, s.WindowSize, overlap)
}

// Source binds the dataset to an upstream client and selector. An empty
// selector falls back to the dataset default.
func (s Spec) Source(up Upstream, selector string) (*Source, error) {
	if up == nil {
		return nil, fmt.Errorf("dataset %s: upstream client is required", s.Name)
	}
	if s.fetch == nil {
		return nil, fmt.Errorf("dataset %s: no fetch binding", s.Name)
	}
	sel := strings.TrimSpace(selector)
	if sel == "" {
		sel = s.Selector
	}
	if s.SelectorRequired && sel == "" {
		return nil, fmt.Errorf("dataset %s: selector is required", s.Name)
	}
	return &Source{spec: s, up: up, selector: sel}, nil
}

// Override returns a copy of s with the non-empty fields of o applied.
func (s Spec) Override(o *elexon.DatasetOverride) Spec {
	if o == nil {
		return s
	}
	s.Schema.TimestampKeys = append([]string(nil), s.Schema.TimestampKeys...)
	s.Schema.ValueKeys = append([]string(nil), s.Schema.ValueKeys...)
	if o.Table != "" {
		s.Table.Name = o.Table
	}
	if o.ValueColumn != "" {
		s.Table.ValueColumn = o.ValueColumn
	}
	if o.UnitColumn != "" {
		s.Table.UnitColumn = o.UnitColumn
	}
	if o.DatasetCode != "" {
		s.Schema.DatasetCode = o.DatasetCode
	}
	if len(o.TimestampKeys) > 0 {
		s.Schema.TimestampKeys = append([]string(nil), o.TimestampKeys...)
	}
	if len(o.ValueKeys) > 0 {
		s.Schema.ValueKeys = append([]string(nil), o.ValueKeys...)
	}
	if o.Selector != "" {
		s.Selector = o.Selector
	}
	if o.Window > 0 {
		s.WindowSize = o.Window
	}
	return s
}

// Validate checks that the schema and table agree.
func (s Spec) Validate() error {
	if err := s.Schema.Validate(); err != nil {
		return err
	}
	if err := s.Table.Validate(); err != nil {
		return err
	}
	if s.Schema.PerUnit != s.Table.PerUnit() {
		return fmt.Errorf("dataset %s: per-unit schema requires a unit column and vice versa", s.Name)
	}
	return nil
}

// Source fetches one dataset for one selector.
type Source struct {
	spec     Spec
	up       Upstream
	selector string
}

// Selector returns the resolved unit or provider code.
func (s *Source) Selector() string { return s.selector }

// Fetch returns the raw records for window.
func (s *Source) Fetch(ctx context.Context, window timeseries.Window) ([]timeseries.RawRecord, error) {
	return s.spec.fetch(ctx, s.up, window, s.selector)
}

// UnitID is the unit attached to observations, empty for grid-wide series.
func (s *Source) UnitID() string {
	if s.spec.Schema.PerUnit {
		return s.selector
	}
	return ""
}

var registry = map[string]Spec{}

func register(s Spec) {
	registry[s.Name] = s
}

// Lookup returns the built-in spec for name (case-insensitive).
func Lookup(name string) (Spec, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	s, ok := registry[key]
	if !ok {
		return Spec{}, fmt.Errorf("%w %q (known: %s)", ErrUnknownDataset, name, strings.Join(Names(), ", "))
	}
	return s, nil
}

// Names lists the built-in datasets, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
