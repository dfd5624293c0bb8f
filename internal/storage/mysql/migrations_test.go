package mysql

import (
	"testing"
	"testing/fstest"
)

func TestLoadMigrationFilesOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_allowances.sql": {Data: []byte("CREATE TABLE b (id INT);")},
		"0001_init.sql":       {Data: []byte("-- 初始表\nCREATE TABLE a (id INT);\nCREATE TABLE c (id INT);")},
		"README.md":           {Data: []byte("ignored")},
		"0003_empty.sql":      {Data: []byte("  ;  ")},
	}
	files, err := loadMigrationFiles(fsys)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(files))
	}
	if files[0].version != "0001" || files[1].version != "0002" {
		t.Fatalf("unexpected order: %+v", files)
	}
	if len(files[0].statements) != 2 || files[0].statements[0] != "CREATE TABLE a (id INT)" {
		t.Fatalf("unexpected statements: %q", files[0].statements)
	}
}

func TestEmbeddedMigrationsParse(t *testing.T) {
	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil {
		t.Fatalf("load embedded: %v", err)
	}
	if len(files) == 0 {
		t.Fatalf("expected at least one embedded migration")
	}
}

func TestParseMigrationVersion(t *testing.T) {
	cases := map[string]string{
		"0001_init.sql": "0001",
		"0002.sql":      "0002",
		"plain":         "plain",
	}
	for in, want := range cases {
		if got := parseMigrationVersion(in); got != want {
			t.Fatalf("parseMigrationVersion(%q) = %q, want %q", in, got, want)
		}
	}
}
