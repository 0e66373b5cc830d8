package ledger

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func TestMigrateSQLiteIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", "file:migrate_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	if err := Migrate(context.Background(), db, DBSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := Migrate(context.Background(), db, DBSQLite); err != nil {
		t.Fatalf("migrate second: %v", err)
	}

	for _, table := range []string{"runs", "tool_calls"} {
		var name string
		if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("expected %s table: %v", table, err)
		}
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 migration applied, got %d", count)
	}
}

func TestMigrationDialects(t *testing.T) {
	pg, err := DBPostgres.dialect()
	if err != nil || pg.table != "opsgate_schema_migrations" {
		t.Fatalf("expected postgres dialect, got %q %v", pg.table, err)
	}
	if _, err := DBDriver("nope").dialect(); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	for _, driver := range []DBDriver{DBSQLite, DBPostgres} {
		d, _ := driver.dialect()
		ms, err := d.migrations()
		if err != nil {
			t.Fatalf("list %s migrations: %v", driver, err)
		}
		if len(ms) == 0 || ms[0].version != "0001_init" {
			t.Fatalf("expected %s migrations starting at 0001_init, got %+v", driver, ms)
		}
	}
	if err := Migrate(context.Background(), nil, DBSQLite); err == nil {
		t.Fatalf("expected error for nil db")
	}
	if err := Migrate(context.Background(), &sql.DB{}, DBDriver("nope")); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}
