package database

import (
	"context"
	"strings"
	"testing"

	"3tcapital/telescope/internal/testutil"
)

func TestMigrations(t *testing.T) {
	for _, dialect := range []string{"postgres", "mysql", "sqlite"} {
		t.Run(dialect, func(t *testing.T) {
			migrations, err := Migrations(dialect)
			if err != nil {
				t.Fatalf("Migrations() error = %v", err)
			}
			if len(migrations) == 0 {
				t.Fatal("expected at least one migration")
			}
			for _, table := range []string{"entries", "requests", "exceptions", "queries"} {
				if !strings.Contains(migrations[0].SQL, "CREATE TABLE IF NOT EXISTS "+table) {
					t.Errorf("%s: missing table %s", migrations[0].Name, table)
				}
			}
		})
	}

	if _, err := Migrations("oracle"); err == nil {
		t.Error("expected error for unknown dialect")
	}
}

func TestSplitStatements(t *testing.T) {
	got := SplitStatements("CREATE TABLE a (id INT);\n\n  CREATE INDEX i ON a (id);\n")
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(got), got)
	}
	if got[1] != "CREATE INDEX i ON a (id)" {
		t.Errorf("unexpected statement %q", got[1])
	}
}

func TestRunSQLMigrations_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQL(ctx, SQLConfig{Driver: "sqlite", DSN: "file:migrations_test?mode=memory&cache=shared", MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("OpenSQL() error = %v", err)
	}
	defer db.Close()

	for i := 0; i < 2; i++ {
		if err := RunSQLMigrations(ctx, db, "sqlite", testutil.NewNullLogger()); err != nil {
			t.Fatalf("run %d: RunSQLMigrations() error = %v", i, err)
		}
	}

	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name IN ('entries','requests','exceptions','queries')").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Errorf("expected 4 tables, got %d", n)
	}
}

func TestMySQLDSN(t *testing.T) {
	dsn := MySQLDSN(MySQLConfig{Host: "db", Port: 3306, Database: "telescope", User: "app", Password: "s3cret"})
	for _, want := range []string{"app:s3cret@tcp(db:3306)/telescope", "parseTime=true"} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN %q missing %q", dsn, want)
		}
	}
}
