package migrate

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"testing/fstest"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

func TestEmbeddedMigrationsAreOrdered(t *testing.T) {
	migrations, err := Embedded()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	for i := 1; i < len(migrations); i++ {
		require.Less(t, migrations[i-1].Name, migrations[i].Name)
	}

	var all string
	for _, m := range migrations {
		all += m.SQL
	}
	for _, table := range []string{
		"system_buy_price",
		"system_sell_price",
		"wholesale_intraday_price_apx",
		"wholesale_intraday_price_n2ex",
		"final_physical_notifications",
	} {
		require.Contains(t, all, "CREATE TABLE IF NOT EXISTS "+table)
	}
	require.Contains(t, all, "PRIMARY KEY (ts, bmu_id)")
	require.NotContains(t, all, "NUMERIC(", "price and level columns must not round upstream values")
}

func TestLoadSortsAndSkipsEmpty(t *testing.T) {
	fsys := fstest.MapFS{
		"002_b.sql": {Data: []byte("CREATE TABLE b (id int);")},
		"001_a.sql": {Data: []byte("CREATE TABLE a (id int);")},
		"003_c.sql": {Data: []byte("  \n")},
		"README.md": {Data: []byte("not sql")},
	}
	migrations, err := Load(fsys)
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	require.Equal(t, "001_a.sql", migrations[0].Name)
	require.Equal(t, "002_b.sql", migrations[1].Name)
}

func TestApplyRunsInOneTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE a")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err = Apply(context.Background(), sqlx.NewSqlConnFromDB(db), []Migration{
		{Name: "001_a.sql", SQL: "CREATE TABLE a (id int);"},
		{Name: "002_b.sql", SQL: "CREATE TABLE b (id int);"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyRollsBackOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE a")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE b")).WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	err = Apply(context.Background(), sqlx.NewSqlConnFromDB(db), []Migration{
		{Name: "001_a.sql", SQL: "CREATE TABLE a (id int);"},
		{Name: "002_b.sql", SQL: "CREATE TABLE b (id int);"},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "002_b.sql")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyWithoutMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, Apply(context.Background(), sqlx.NewSqlConnFromDB(db), nil))
	require.NoError(t, mock.ExpectationsWereMet())
	require.Error(t, Apply(context.Background(), nil, nil))
}
