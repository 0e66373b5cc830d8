package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

type DBDriver string

const (
	DBSQLite   DBDriver = "sqlite"
	DBPostgres DBDriver = "postgres"
)

// dialect is everything Migrate needs to know about one driver.
type dialect struct {
	dir         string
	table       string
	createTable string
	record      string
	appliedAt   func(time.Time) any
}

func (d DBDriver) dialect() (dialect, error) {
	switch d {
	case DBSQLite:
		return dialect{
			dir:         "migrations/sqlite",
			table:       "schema_migrations",
			createTable: "version TEXT PRIMARY KEY, applied_at TEXT NOT NULL",
			record:      "VALUES(?, ?) ON CONFLICT(version) DO NOTHING",
			appliedAt:   func(t time.Time) any { return t.Format(time.RFC3339) },
		}, nil
	case DBPostgres:
		return dialect{
			dir:         "migrations/postgres",
			table:       "opsgate_schema_migrations",
			createTable: "version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL",
			record:      "VALUES($1, $2) ON CONFLICT(version) DO NOTHING",
			appliedAt:   func(t time.Time) any { return t },
		}, nil
	default:
		return dialect{}, fmt.Errorf("unsupported db driver: %s", d)
	}
}

type migration struct {
	version string
	path    string
}

// migrations lists the embedded files for the dialect, oldest first.
func (d dialect) migrations() ([]migration, error) {
	paths, err := fs.Glob(migrationsFS, path.Join(d.dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	out := make([]migration, 0, len(paths))
	for _, p := range paths {
		out = append(out, migration{version: strings.TrimSuffix(path.Base(p), ".sql"), path: p})
	}
	return out, nil
}

func (d dialect) applied(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM "+d.table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seen := map[string]bool{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		seen[v] = true
	}
	return seen, rows.Err()
}

// Migrate brings the schema for driver up to date. Each migration runs in its
// own transaction together with its version row, so a rerun is a no-op and a
// concurrent migrator skips versions another process already claimed.
func Migrate(ctx context.Context, db *sql.DB, driver DBDriver) error {
	if db == nil {
		return errors.New("missing db")
	}
	d, err := driver.dialect()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.table, d.createTable)); err != nil {
		return fmt.Errorf("create %s: %w", d.table, err)
	}
	all, err := d.migrations()
	if err != nil {
		return err
	}
	done, err := d.applied(ctx, db)
	if err != nil {
		return fmt.Errorf("read %s: %w", d.table, err)
	}

	for _, m := range all {
		if done[m.version] {
			continue
		}
		if err := d.apply(ctx, db, m); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.version, err)
		}
	}
	return nil
}

func (d dialect) apply(ctx context.Context, db *sql.DB, m migration) error {
	body, err := migrationsFS.ReadFile(m.path)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s(version, applied_at) %s", d.table, d.record),
		m.version, d.appliedAt(time.Now().UTC()))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return err
	}
	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return err
	}
	return tx.Commit()
}
