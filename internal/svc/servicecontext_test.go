package svc_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/core/stores/redis"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	"battery-tracker/internal/backfill"
	"battery-tracker/internal/checkpoint"
	"battery-tracker/internal/config"
	"battery-tracker/internal/dataset"
	"battery-tracker/internal/svc"
	"battery-tracker/pkg/elexon"
)

const physicalPayload = `{"data":[
 {"dataset":"PN","settlementDate":"2025-01-01","settlementPeriod":1,"timeFrom":"2025-01-01T00:00:00Z","timeTo":"2025-01-01T00:30:00Z","levelFrom":120,"levelTo":120,"bmUnit":"T_DRAXX-1"},
 {"dataset":"PN","settlementDate":"2025-01-01","settlementPeriod":2,"timeFrom":"2025-01-01T00:30:00Z","timeTo":"2025-01-01T01:00:00Z","levelFrom":95.5,"levelTo":95.5,"bmUnit":"T_DRAXX-1"},
 {"dataset":"MELS","timeFrom":"2025-01-01T00:00:00Z","levelFrom":1,"bmUnit":"T_DRAXX-1"}
]}`

type harness struct {
	ctx   *svc.ServiceContext
	mock  sqlmock.Sqlmock
	redis *miniredis.Miniredis
	calls []*http.Request
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()
	h := &harness{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.calls = append(h.calls, r)
		if r.URL.Path != "/balancing/physical" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(physicalPayload))
	}))
	t.Cleanup(srv.Close)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	h.mock = mock

	h.redis = miniredis.RunT(t)
	cp, err := checkpoint.NewRedisStore(redis.New(h.redis.Addr()), 0)
	require.NoError(t, err)

	client := elexon.NewClient(elexon.WithBaseURL(srv.URL), elexon.WithSleeper(func(context.Context, time.Duration) error { return nil }))
	h.ctx, err = svc.NewServiceContext(cfg,
		svc.WithConn(sqlx.NewSqlConnFromDB(db)),
		svc.WithUpstream(client),
		svc.WithCheckpoints(cp),
	)
	require.NoError(t, err)
	return h
}

func TestBackfillPhysicalNotifications(t *testing.T) {
	h := newHarness(t, config.Config{Env: "test"})
	h.mock.ExpectBegin()
	h.mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "final_physical_notifications" ("ts", "bmu_id", "fpn_mw")`)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	h.mock.ExpectCommit()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var stages []backfill.Stage
	report, err := h.ctx.Backfill(context.Background(), svc.BackfillRequest{
		Dataset:      "FPN",
		Start:        start,
		End:          start.Add(time.Hour),
		OnTransition: func(tr backfill.Transition) { stages = append(stages, tr.Stage) },
	})
	require.NoError(t, err)
	require.NoError(t, h.mock.ExpectationsWereMet())

	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 2, report.Written)
	assert.Equal(t, backfill.StageDone, stages[len(stages)-1])

	require.Len(t, h.calls, 1)
	q := h.calls[0].URL.Query()
	assert.Equal(t, dataset.DefaultBMUnit, q.Get("bmUnit"))
	assert.Equal(t, "2025-01-01T00:00:00Z", q.Get("from"))
	assert.Equal(t, "2025-01-01T01:00:00Z", q.Get("to"))

	raw, err := h.redis.Get(checkpoint.Key("fpn", "final_physical_notifications", dataset.DefaultBMUnit))
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01T01:00:00Z", raw)
}

func TestBackfillTableOverrideAndSelector(t *testing.T) {
	h := newHarness(t, config.Config{Env: "test"})
	h.mock.ExpectBegin()
	h.mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "pn_scratch"`)).WillReturnResult(sqlmock.NewResult(0, 2))
	h.mock.ExpectCommit()

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := h.ctx.Backfill(context.Background(), svc.BackfillRequest{
		Dataset:  "fpn",
		Start:    start,
		End:      start.Add(time.Hour),
		Selector: "E_TEST-2",
		Table:    "pn_scratch",
	})
	require.NoError(t, err)
	require.NoError(t, h.mock.ExpectationsWereMet())
	assert.Equal(t, "E_TEST-2", h.calls[0].URL.Query().Get("bmUnit"))
}

func TestBackfillResumesFromCheckpoint(t *testing.T) {
	h := newHarness(t, config.Config{Env: "test", Backfill: config.BackfillConf{Resume: true}})
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	key := checkpoint.Key("fpn", "final_physical_notifications", dataset.DefaultBMUnit)
	require.NoError(t, h.redis.Set(key, "2025-01-01T01:00:00Z"))

	report, err := h.ctx.Backfill(context.Background(), svc.BackfillRequest{
		Dataset: "fpn",
		Start:   start,
		End:     start.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Empty(t, h.calls)
	assert.Empty(t, report.Windows)
	assert.Equal(t, start.Add(time.Hour), report.ResumedFrom)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestBackfillResetDiscardsCheckpoint(t *testing.T) {
	h := newHarness(t, config.Config{Env: "test", Backfill: config.BackfillConf{Resume: true}})
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	key := checkpoint.Key("fpn", "final_physical_notifications", dataset.DefaultBMUnit)
	require.NoError(t, h.redis.Set(key, "2025-01-01T01:00:00Z"))

	h.mock.ExpectBegin()
	h.mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "final_physical_notifications"`)).WillReturnResult(sqlmock.NewResult(0, 2))
	h.mock.ExpectCommit()

	report, err := h.ctx.Backfill(context.Background(), svc.BackfillRequest{
		Dataset: "fpn",
		Start:   start,
		End:     start.Add(time.Hour),
		Reset:   true,
	})
	require.NoError(t, err)
	require.NoError(t, h.mock.ExpectationsWereMet())
	require.Len(t, h.calls, 1)
	assert.Len(t, report.Windows, 1)
	assert.Equal(t, 2, report.Written)

	raw, err := h.redis.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01T01:00:00Z", raw)
}

func TestBackfillRejectsBadRequests(t *testing.T) {
	h := newHarness(t, config.Config{Env: "test"})
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := h.ctx.Backfill(context.Background(), svc.BackfillRequest{Dataset: "fpn", Start: start, End: start})
	require.Error(t, err)

	_, err = h.ctx.Backfill(context.Background(), svc.BackfillRequest{Dataset: "nope", Start: start, End: start.Add(time.Hour)})
	require.ErrorIs(t, err, dataset.ErrUnknownDataset)

	_, err = h.ctx.Backfill(context.Background(), svc.BackfillRequest{Dataset: "fpn", Table: "bad name", Start: start, End: start.Add(time.Hour)})
	require.Error(t, err)
	assert.Empty(t, h.calls)
}

func TestResolveAppliesElexonOverrides(t *testing.T) {
	cfg := config.Config{Env: "test"}
	cfg.Elexon.Value = &elexon.Config{Datasets: map[string]*elexon.DatasetOverride{
		"mid": {Table: "wholesale_intraday_price_n2ex", Selector: "N2EXMIDP", Window: 24 * time.Hour},
	}}
	h := newHarness(t, cfg)

	spec, err := h.ctx.Resolve(svc.BackfillRequest{Dataset: "MID"})
	require.NoError(t, err)
	assert.Equal(t, "wholesale_intraday_price_n2ex", spec.Table.Name)
	assert.Equal(t, "N2EXMIDP", spec.Selector)
	assert.Equal(t, 24*time.Hour, spec.WindowSize)

	spec, err = h.ctx.Resolve(svc.BackfillRequest{Dataset: "mid", WindowSize: 6 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 6*time.Hour, spec.WindowSize)

	spec, err = h.ctx.Resolve(svc.BackfillRequest{Dataset: "sbp", WindowSize: 6 * time.Hour})
	require.NoError(t, err)
	assert.True(t, spec.Daily)
	assert.NotEqual(t, 6*time.Hour, spec.WindowSize)
}

func TestMigrateAppliesEmbeddedFiles(t *testing.T) {
	h := newHarness(t, config.Config{Env: "test"})
	h.mock.ExpectBegin()
	h.mock.ExpectExec("CREATE TABLE IF NOT EXISTS system_buy_price").WillReturnResult(sqlmock.NewResult(0, 0))
	h.mock.ExpectExec("CREATE TABLE IF NOT EXISTS wholesale_intraday_price_apx").WillReturnResult(sqlmock.NewResult(0, 0))
	h.mock.ExpectExec("CREATE TABLE IF NOT EXISTS final_physical_notifications").WillReturnResult(sqlmock.NewResult(0, 0))
	h.mock.ExpectCommit()

	require.NoError(t, h.ctx.Migrate(context.Background()))
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestNewServiceContextWithoutDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	sc, err := svc.NewServiceContext(config.Config{Env: "test"})
	require.NoError(t, err)
	assert.NotNil(t, sc.Upstream)
	assert.Nil(t, sc.DBConn)
	assert.IsType(t, &checkpoint.MemoryStore{}, sc.Checkpoints)

	err = sc.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}
