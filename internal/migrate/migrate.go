package migrate

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

//go:embed sql/*.sql
var embedded embed.FS

// Migration is one SQL file.
type Migration struct {
	Name string
	SQL  string
}

// Embedded returns the migrations shipped with the binary.
func Embedded() ([]Migration, error) {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		return nil, err
	}
	return Load(sub)
}

// Load reads every *.sql file at the root of fsys, sorted by name. Files
// that are blank are skipped.
func Load(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("migrate: list files: %w", err)
	}
	sort.Strings(names)
	out := make([]Migration, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("migrate: read %s: %w", name, err)
		}
		body := string(data)
		if strings.TrimSpace(body) == "" {
			logx.Infof("migrate: skipping empty migration %s", name)
			continue
		}
		out = append(out, Migration{Name: path.Base(name), SQL: body})
	}
	return out, nil
}

// Apply runs all migrations in order inside a single transaction.
func Apply(ctx context.Context, conn sqlx.SqlConn, migrations []Migration) error {
	if conn == nil {
		return errors.New("migrate: sql connection is required")
	}
	if len(migrations) == 0 {
		logx.WithContext(ctx).Info("migrate: no migration files found")
		return nil
	}
	return conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		for _, m := range migrations {
			logx.WithContext(ctx).Infof("migrate: applying %s", m.Name)
			if _, err := session.ExecCtx(ctx, m.SQL); err != nil {
				return fmt.Errorf("migrate: %s: %w", m.Name, err)
			}
		}
		return nil
	})
}
