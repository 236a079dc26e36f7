package migrate_test

import (
	"testing"

	"workchain/internal/db"
	"workchain/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	v, err := migrate.Version(conn)
	if err != nil {
		t.Fatal(err)
	}
	if v < 1 {
		t.Fatalf("schema version = %d, want >= 1", v)
	}
	for _, table := range []string{"templates", "submissions", "events", "users"} {
		var n int
		if err := conn.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Fatalf("table %s missing after migrate", table)
		}
	}

	// a second run applies nothing and keeps the version
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	again, err := migrate.Version(conn)
	if err != nil {
		t.Fatal(err)
	}
	if again != v {
		t.Fatalf("version moved from %d to %d on a no-op run", v, again)
	}
}
