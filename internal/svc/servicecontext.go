package svc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"battery-tracker/internal/backfill"
	"battery-tracker/internal/checkpoint"
	"battery-tracker/internal/config"
	"battery-tracker/internal/dataset"
	"battery-tracker/internal/migrate"
	"battery-tracker/internal/store"
	"battery-tracker/pkg/elexon"
	"battery-tracker/pkg/timeseries"
)

const pgxDriver = "pgx"

type ServiceContext struct {
	Config config.Config

	DBConn      sqlx.SqlConn
	Upstream    dataset.Upstream
	Checkpoints checkpoint.Store
}

type Option func(*ServiceContext)

// WithConn injects the database connection instead of dialling Postgres.DSN.
func WithConn(conn sqlx.SqlConn) Option {
	return func(s *ServiceContext) { s.DBConn = conn }
}

// WithUpstream replaces the BMRS client built from the Elexon section.
func WithUpstream(up dataset.Upstream) Option {
	return func(s *ServiceContext) { s.Upstream = up }
}

// WithCheckpoints replaces the Redis checkpoint store.
func WithCheckpoints(cp checkpoint.Store) Option {
	return func(s *ServiceContext) { s.Checkpoints = cp }
}

func NewServiceContext(c config.Config, opts ...Option) (*ServiceContext, error) {
	svc := &ServiceContext{Config: c}
	for _, opt := range opts {
		opt(svc)
	}

	if svc.Upstream == nil {
		svc.Upstream = elexon.NewClient(c.ElexonConfig().ClientOptions()...)
	}

	if svc.DBConn == nil && strings.TrimSpace(c.Postgres.DSN) != "" {
		conn := sqlx.NewSqlConn(pgxDriver, c.Postgres.DSN)
		if db, err := conn.RawDB(); err == nil {
			db.SetMaxOpenConns(c.Postgres.MaxOpen)
			db.SetMaxIdleConns(c.Postgres.MaxIdle)
		}
		svc.DBConn = conn
	}

	switch {
	case svc.Checkpoints != nil:
	case c.HasRedis():
		rds, err := redis.NewRedis(c.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis %s: %w", c.Redis.Host, err)
		}
		cp, err := checkpoint.NewRedisStore(rds, checkpoint.TTLFromSeconds(c.Backfill.CheckpointTTL))
		if err != nil {
			return nil, err
		}
		svc.Checkpoints = cp
	default:
		svc.Checkpoints = checkpoint.NewMemoryStore()
	}

	return svc, nil
}

func (s *ServiceContext) conn() (sqlx.SqlConn, error) {
	if s.DBConn != nil {
		return s.DBConn, nil
	}
	if _, err := s.Config.RequireDSN(); err != nil {
		return nil, err
	}
	return nil, errors.New("svc: database connection not initialised")
}

// Migrate creates the target tables.
func (s *ServiceContext) Migrate(ctx context.Context) error {
	conn, err := s.conn()
	if err != nil {
		return err
	}
	migrations, err := migrate.Embedded()
	if err != nil {
		return err
	}
	return migrate.Apply(ctx, conn, migrations)
}

// BackfillRequest selects one dataset and range to ingest.
type BackfillRequest struct {
	Dataset string
	Start   time.Time
	End     time.Time

	// Selector is the BM unit or market index provider; empty uses the dataset default.
	Selector string
	// Table overrides the target table name.
	Table string
	// WindowSize and Overlap override the Backfill section when positive.
	WindowSize time.Duration
	Overlap    time.Duration
	Resume     bool
	// Reset discards the stored checkpoint before the run.
	Reset bool

	OnTransition func(backfill.Transition)
}

// Resolve returns the dataset spec after applying config and request overrides.
func (s *ServiceContext) Resolve(req BackfillRequest) (dataset.Spec, error) {
	spec, err := dataset.Lookup(req.Dataset)
	if err != nil {
		return dataset.Spec{}, err
	}
	spec = spec.Override(s.Config.ElexonConfig().Dataset(spec.Name))
	if t := strings.TrimSpace(req.Table); t != "" {
		spec.Table.Name = t
	}
	if !spec.Daily {
		switch {
		case req.WindowSize > 0:
			spec.WindowSize = req.WindowSize
		case s.Config.Backfill.WindowSize > 0:
			spec.WindowSize = s.Config.Backfill.WindowSize
		}
	}
	if err := spec.Validate(); err != nil {
		return dataset.Spec{}, err
	}
	return spec, nil
}

// Backfill fetches, normalizes and upserts one dataset over [Start, End).
func (s *ServiceContext) Backfill(ctx context.Context, req BackfillRequest) (backfill.Report, error) {
	if !req.End.After(req.Start) {
		return backfill.Report{}, fmt.Errorf("backfill: end %s must be after start %s",
			timeseries.FormatUTC(req.End), timeseries.FormatUTC(req.Start))
	}
	spec, err := s.Resolve(req)
	if err != nil {
		return backfill.Report{}, err
	}
	conn, err := s.conn()
	if err != nil {
		return backfill.Report{}, err
	}

	source, err := spec.Source(s.Upstream, req.Selector)
	if err != nil {
		return backfill.Report{}, err
	}
	normalizer, err := timeseries.NewNormalizer(spec.Schema)
	if err != nil {
		return backfill.Report{}, err
	}
	writer, err := store.NewWriter(conn, spec.Table)
	if err != nil {
		return backfill.Report{}, err
	}

	overlap := s.Config.Backfill.Overlap
	if req.Overlap > 0 {
		overlap = req.Overlap
	}
	resume := req.Resume || s.Config.Backfill.Resume
	if _, inMemory := s.Checkpoints.(*checkpoint.MemoryStore); resume && inMemory {
		logx.WithContext(ctx).Infof("backfill dataset=%s resume only covers this process; configure Redis to persist checkpoints", spec.Name)
	}

	key := checkpoint.Key(spec.Name, spec.Table.Name, source.Selector())
	if req.Reset {
		clearer, ok := s.Checkpoints.(checkpoint.Clearer)
		if !ok {
			return backfill.Report{}, fmt.Errorf("backfill: checkpoint store %T cannot be reset", s.Checkpoints)
		}
		if err := clearer.Clear(ctx, key); err != nil {
			return backfill.Report{}, err
		}
		logx.WithContext(ctx).Infof("backfill dataset=%s checkpoint %s cleared", spec.Name, key)
	}

	orchestrator, err := backfill.New(backfill.Config{
		Dataset:    spec.Name,
		Source:     source,
		Normalizer: normalizer,
		Sink:       writer,
		UnitID:     source.UnitID(),
		Plan: func(start, end time.Time) []timeseries.Window {
			return spec.Windows(start, end, overlap)
		},
		Checkpoints:   s.Checkpoints,
		CheckpointKey: key,
		Resume:        resume,
		OnTransition:  req.OnTransition,
	})
	if err != nil {
		return backfill.Report{}, err
	}

	logx.WithContext(ctx).Infof("backfill dataset=%s table=%s selector=%s range=%s",
		spec.Name, spec.Table.Name, source.Selector(), timeseries.Window{Start: req.Start.UTC(), End: req.End.UTC()})
	return orchestrator.Run(ctx, req.Start, req.End)
}
