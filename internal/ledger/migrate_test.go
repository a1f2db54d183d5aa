package ledger

import (
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

	if err := Migrate(db, DBSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := Migrate(db, DBSQLite); err != nil {
		t.Fatalf("migrate second: %v", err)
	}

	for _, table := range []string{"receipts", "keys", "unit_versions"} {
		var name string
		if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("expected %s table: %v", table, err)
		}
	}
	var index string
	if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='index' AND name='idx_receipts_input_cid'`).Scan(&index); err != nil {
		t.Fatalf("expected input cid index: %v", err)
	}

	insert := `INSERT INTO receipts(receipt_id, unit_id, unit_hash, decision, input_cid, output_cid, created_at, body_json) VALUES(?, 'u', 'b3:u', ?, 'b3:i', 'b3:o', '2026-01-01T00:00:00Z', '{}')`
	if _, err := db.Exec(insert, "b3:r1", "Doubt"); err != nil {
		t.Fatalf("insert doubt receipt: %v", err)
	}
	if _, err := db.Exec(insert, "b3:r2", "ACK"); err == nil {
		t.Fatalf("expected card decisions to be rejected by the receipts table")
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count < 2 {
		t.Fatalf("expected at least 2 migrations applied, got %d", count)
	}
}

func TestMigrationHelpers(t *testing.T) {
	if _, _, err := migrationConfig(DBPostgres); err != nil {
		t.Fatalf("expected postgres config, got %v", err)
	}
	if _, _, err := migrationConfig(DBDriver("nope")); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}

	if err := ensureMigrationsTable(&sql.DB{}, DBDriver("nope"), "t"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}

	if _, err := listMigrationFiles("migrations/sqlite"); err != nil {
		t.Fatalf("list migrations: %v", err)
	}
}
