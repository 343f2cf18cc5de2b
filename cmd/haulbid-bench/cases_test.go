package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSplitSQL_SkipsCommentsAndBlanks(t *testing.T) {
	stmts := splitSQL("-- header\nCREATE TABLE a (id int);\n\n  -- note\nCREATE INDEX i ON a (id);\n")
	if len(stmts) != 2 || stmts[1] != "CREATE INDEX i ON a (id)" {
		t.Fatalf("stmts = %q", stmts)
	}
}

func TestExtractTables_Migration(t *testing.T) {
	path := filepath.Join("..", "..", "migrations", "0001_init.sql")
	if _, err := os.Stat(path); err != nil {
		t.Skip("migration not found")
	}
	tables, err := extractTables(path)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"rides": true, "bids": true, "ride_events": true, "pricing_windows": true}
	for _, tb := range tables {
		delete(want, tb)
	}
	if len(want) != 0 {
		t.Errorf("missing tables %v in %v", want, tables)
	}
}
