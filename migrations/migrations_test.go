package migrations

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/go-cmp/cmp"
	_ "modernc.org/sqlite"
)

func TestRun(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	if err := Run(ctx, db); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := Run(ctx, db); err != nil {
		t.Fatalf("second run: %v", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' AND name != 'goose_db_version' ORDER BY name`)
	if err != nil {
		t.Fatalf("list tables: %v", err)
	}
	defer func() { _ = rows.Close() }()

	var got []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, name)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}

	want := []string{"announcements", "changes", "scan_status", "settings"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tables mismatch (-want +got):\n%s", diff)
	}

	var interval int
	if err := db.QueryRowContext(ctx, `SELECT refresh_interval FROM settings WHERE id = 1`).Scan(&interval); err != nil {
		t.Fatalf("seeded settings: %v", err)
	}
	if interval != 600 {
		t.Errorf("seeded refresh_interval = %d, want 600", interval)
	}
}
