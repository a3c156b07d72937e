package migrate

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"testing/fstest"

	"opsdesk/internal/db"
	"opsdesk/internal/logging"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn := openDB(t)
	ctx := context.Background()
	if err := Run(ctx, conn, logging.Discard()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first, err := applied(ctx, conn)
	if err != nil {
		t.Fatalf("read applied: %v", err)
	}
	embedded, err := load(migrationsFS, "sql")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(first) != len(embedded) || len(first) == 0 {
		t.Fatalf("applied %d migrations, embedded %d", len(first), len(embedded))
	}
	if first[0].Version != 1 || first[0].Name != "init" || first[0].AppliedAt == "" {
		t.Fatalf("unexpected first row %+v", first[0])
	}

	if err := Run(ctx, conn, logging.Discard()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second, err := applied(ctx, conn)
	if err != nil {
		t.Fatalf("read applied: %v", err)
	}
	if len(second) != len(first) || second[0].AppliedAt != first[0].AppliedAt {
		t.Fatalf("re-run changed schema_migrations: %+v -> %+v", first, second)
	}

	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='portal_configs'`).Scan(&n); err != nil || n != 1 {
		t.Fatalf("portal_configs table missing: n=%d err=%v", n, err)
	}
}

func TestMigrateAppliesOnlyNewVersions(t *testing.T) {
	conn := openDB(t)
	ctx := context.Background()
	fsys := fstest.MapFS{
		"m/0001_one.sql": {Data: []byte(`CREATE TABLE one(id INTEGER);`)},
	}
	ms, err := load(fsys, "m")
	if err != nil {
		t.Fatal(err)
	}
	if err := apply(ctx, conn, ms, logging.Discard()); err != nil {
		t.Fatalf("apply v1: %v", err)
	}
	fsys["m/0002_two.sql"] = &fstest.MapFile{Data: []byte(`CREATE TABLE two(id INTEGER);`)}
	ms, err = load(fsys, "m")
	if err != nil {
		t.Fatal(err)
	}
	if err := apply(ctx, conn, ms, logging.Discard()); err != nil {
		t.Fatalf("apply v2: %v", err)
	}
	rows, err := applied(ctx, conn)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].Name != "one" || rows[1].Version != 2 || rows[1].Name != "two" {
		t.Fatalf("unexpected applied rows %+v", rows)
	}
}

func TestMigrateFailureRollsBack(t *testing.T) {
	conn := openDB(t)
	ms := []Migration{
		{Version: 1, Name: "ok", SQL: `CREATE TABLE ok(id INTEGER);`},
		{Version: 2, Name: "broken", SQL: `CREATE TABLE;`},
	}
	err := apply(context.Background(), conn, ms, logging.Discard())
	if err == nil || !strings.Contains(err.Error(), "0002_broken") {
		t.Fatalf("expected failure naming the migration, got %v", err)
	}
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name IN ('ok', 'schema_migrations')`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected nothing committed, found %d tables", n)
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"duplicate version": {
			"m/0001_a.sql": {Data: []byte(`SELECT 1;`)},
			"m/001_b.sql":  {Data: []byte(`SELECT 1;`)},
		},
		"missing version": {
			"m/init.sql": {Data: []byte(`SELECT 1;`)},
		},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := load(fsys, "m"); err == nil {
				t.Fatal("expected load error")
			}
		})
	}
}
