package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var charterTables = []string{
	"users", "password_resets", "refresh_sessions", "revoked_access_tokens",
	"profiles", "response_slots", "consolidated_answers",
}

func openTestDB(t *testing.T) (*sql.DB, context.Context) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("CHARTER_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("CHARTER_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	pool := DefaultPool()
	pool.ConnectAttempts = 1
	db, err := OpenPool(ctx, dsn, pool)
	if err != nil {
		t.Fatalf("OpenPool() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	return db, ctx
}

func existingTables(ctx context.Context, t *testing.T, db *sql.DB) map[string]bool {
	t.Helper()
	rows, err := db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables WHERE table_schema = 'public'`)
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	defer rows.Close()
	found := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan table: %v", err)
		}
		found[name] = true
	}
	return found
}

func TestMigrationsApplyRollBackAndReapply(t *testing.T) {
	db, ctx := openTestDB(t)
	dir := filepath.Join("..", "..", "db", "migrations")

	pending, err := PendingMigrations(ctx, db, dir)
	if err != nil {
		t.Fatalf("PendingMigrations() error = %v", err)
	}
	want := []string{"0001_users.up.sql", "0002_charter.up.sql"}
	if diff := cmp.Diff(want, pending); diff != "" {
		t.Fatalf("pending mismatch (-want +got):\n%s", diff)
	}

	if err := ApplyMigrations(ctx, db, dir); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	tables := existingTables(ctx, t, db)
	for _, table := range charterTables {
		if !tables[table] {
			t.Fatalf("table %s missing after apply", table)
		}
	}
	if pending, _ := PendingMigrations(ctx, db, dir); len(pending) != 0 {
		t.Fatalf("pending after apply = %v", pending)
	}

	rolled, err := RollbackMigrations(ctx, db, dir)
	if err != nil {
		t.Fatalf("RollbackMigrations() error = %v", err)
	}
	if diff := cmp.Diff([]string{"0002_charter.up.sql", "0001_users.up.sql"}, rolled); diff != "" {
		t.Fatalf("rollback order mismatch (-want +got):\n%s", diff)
	}
	tables = existingTables(ctx, t, db)
	for _, table := range charterTables {
		if tables[table] {
			t.Fatalf("table %s still present after rollback", table)
		}
	}

	if err := ApplyMigrations(ctx, db, dir); err != nil {
		t.Fatalf("ApplyMigrations() after rollback error = %v", err)
	}
}
