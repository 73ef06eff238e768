package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"battery-tracker/pkg/timeseries"
)

const (
	defaultTimeColumn = "ts"
	ingestedAtColumn  = "ingested_at"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrUnitMismatch flags observations whose unit presence does not match
// the table layout.
var ErrUnitMismatch = errors.New("store: observation unit does not match table layout")

// Table describes the target of an upsert. Name may be schema-qualified.
// UnitColumn is set only for per-unit series and is then part of the key.
type Table struct {
	Name        string
	TimeColumn  string
	ValueColumn string
	UnitColumn  string
}

func (t Table) withDefaults() Table {
	t.Name = strings.TrimSpace(t.Name)
	t.TimeColumn = strings.TrimSpace(t.TimeColumn)
	t.ValueColumn = strings.TrimSpace(t.ValueColumn)
	t.UnitColumn = strings.TrimSpace(t.UnitColumn)
	if t.TimeColumn == "" {
		t.TimeColumn = defaultTimeColumn
	}
	return t
}

// Validate rejects identifiers that could not be safely quoted.
func (t Table) Validate() error {
	t = t.withDefaults()
	if t.Name == "" {
		return errors.New("store: table name is required")
	}
	parts := strings.Split(t.Name, ".")
	if len(parts) > 2 {
		return fmt.Errorf("store: invalid table name %q", t.Name)
	}
	for _, part := range parts {
		if !identPattern.MatchString(part) {
			return fmt.Errorf("store: invalid table name %q", t.Name)
		}
	}
	if t.ValueColumn == "" {
		return fmt.Errorf("store: %s: value column is required", t.Name)
	}
	cols := []string{t.TimeColumn, t.ValueColumn}
	if t.UnitColumn != "" {
		cols = append(cols, t.UnitColumn)
	}
	seen := make(map[string]struct{}, len(cols))
	for _, col := range cols {
		if !identPattern.MatchString(col) {
			return fmt.Errorf("store: %s: invalid column %q", t.Name, col)
		}
		if col == ingestedAtColumn {
			return fmt.Errorf("store: %s: column %q is reserved", t.Name, col)
		}
		if _, dup := seen[col]; dup {
			return fmt.Errorf("store: %s: duplicate column %q", t.Name, col)
		}
		seen[col] = struct{}{}
	}
	return nil
}

// PerUnit reports whether rows are keyed by (timestamp, unit).
func (t Table) PerUnit() bool { return strings.TrimSpace(t.UnitColumn) != "" }

func (t Table) quotedName() string {
	parts := strings.Split(t.Name, ".")
	for i, part := range parts {
		parts[i] = pq.QuoteIdentifier(part)
	}
	return strings.Join(parts, ".")
}

// PersistenceError wraps any database failure during an upsert. The batch
// transaction was rolled back.
type PersistenceError struct {
	Table string
	Err   error
}

func (e *PersistenceError) Error() string {
	if code := e.Code(); code != "" {
		return fmt.Sprintf("store: upsert %s: [%s] %v", e.Table, code, e.Err)
	}
	return fmt.Sprintf("store: upsert %s: %v", e.Table, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Code returns the SQLSTATE of the underlying error when known.
func (e *PersistenceError) Code() string {
	var pgErr *pgconn.PgError
	if errors.As(e.Err, &pgErr) {
		return pgErr.Code
	}
	var pqErr *pq.Error
	if errors.As(e.Err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// Writer upserts observations into one table.
type Writer struct {
	conn  sqlx.SqlConn
	table Table
	stmt  string
}

// NewWriter validates table and prepares the upsert statement.
func NewWriter(conn sqlx.SqlConn, table Table) (*Writer, error) {
	if conn == nil {
		return nil, errors.New("store: sql connection is required")
	}
	table = table.withDefaults()
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &Writer{conn: conn, table: table, stmt: buildUpsert(table)}, nil
}

func buildUpsert(t Table) string {
	ts := pq.QuoteIdentifier(t.TimeColumn)
	value := pq.QuoteIdentifier(t.ValueColumn)
	if !t.PerUnit() {
		return fmt.Sprintf(`
INSERT INTO %s (%s, %s)
SELECT u.ts, u.value
FROM unnest($1::timestamptz[], $2::numeric[]) AS u(ts, value)
ON CONFLICT (%s) DO UPDATE SET
    %s = EXCLUDED.%s,
    %s = NOW();`,
			t.quotedName(), ts, value,
			ts,
			value, value,
			pq.QuoteIdentifier(ingestedAtColumn))
	}
	unit := pq.QuoteIdentifier(t.UnitColumn)
	return fmt.Sprintf(`
INSERT INTO %s (%s, %s, %s)
SELECT u.ts, u.unit_id, u.value
FROM unnest($1::timestamptz[], $2::text[], $3::numeric[]) AS u(ts, unit_id, value)
ON CONFLICT (%s, %s) DO UPDATE SET
    %s = EXCLUDED.%s,
    %s = NOW();`,
		t.quotedName(), ts, unit, value,
		ts, unit,
		value, value,
		pq.QuoteIdentifier(ingestedAtColumn))
}

// Upsert writes observations in one transaction and returns the number of
// rows inserted or updated. Repeated keys in one batch collapse to the last
// occurrence. Empty input is a no-op.
func (w *Writer) Upsert(ctx context.Context, observations []timeseries.Observation) (int, error) {
	if len(observations) == 0 {
		return 0, nil
	}
	batch, err := w.dedupe(observations)
	if err != nil {
		return 0, &PersistenceError{Table: w.table.Name, Err: err}
	}

	timestamps := make([]string, len(batch))
	values := make([]string, len(batch))
	units := make([]string, len(batch))
	for i, obs := range batch {
		timestamps[i] = obs.Timestamp.UTC().Format(time.RFC3339Nano)
		values[i] = obs.Value.String()
		units[i] = obs.UnitID
	}
	args := []any{pq.Array(timestamps)}
	if w.table.PerUnit() {
		args = append(args, pq.Array(units))
	}
	args = append(args, pq.Array(values))

	written := len(batch)
	err = w.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		res, err := session.ExecCtx(ctx, w.stmt, args...)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil {
			written = int(n)
		}
		return nil
	})
	if err != nil {
		return 0, &PersistenceError{Table: w.table.Name, Err: err}
	}
	return written, nil
}

func (w *Writer) dedupe(observations []timeseries.Observation) ([]timeseries.Observation, error) {
	index := make(map[string]int, len(observations))
	batch := make([]timeseries.Observation, 0, len(observations))
	for _, obs := range observations {
		hasUnit := strings.TrimSpace(obs.UnitID) != ""
		if hasUnit != w.table.PerUnit() {
			return nil, fmt.Errorf("%w: %s", ErrUnitMismatch, obs)
		}
		if obs.Timestamp.IsZero() {
			return nil, fmt.Errorf("store: observation without timestamp: %s", obs)
		}
		key := obs.Key()
		if i, ok := index[key]; ok {
			batch[i] = obs
			continue
		}
		index[key] = len(batch)
		batch = append(batch, obs)
	}
	return batch, nil
}
