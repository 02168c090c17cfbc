package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
)

const migrationsDir = "../../db/migrations"

func migrationFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files
}

func TestMigrationFileNaming(t *testing.T) {
	pattern := regexp.MustCompile(`^\d{4}_[a-z0-9_]+\.up\.sql$`)
	files := migrationFiles(t)
	if len(files) == 0 {
		t.Fatal("no migration files found")
	}
	for _, name := range files {
		if !pattern.MatchString(name) {
			t.Errorf("migration %q does not match NNNN_name.up.sql", name)
		}
	}
}

func TestMigrationVersionsAreSequential(t *testing.T) {
	files := migrationFiles(t)
	for i, name := range files {
		want := i + 1
		prefix := name[:4]
		if prefix != padVersion(want) {
			t.Errorf("migration %d is %q, want prefix %s", i, name, padVersion(want))
		}
	}
}

func padVersion(n int) string {
	return fmt.Sprintf("%04d", n)
}

func TestMigrationsAreNotEmpty(t *testing.T) {
	for _, name := range migrationFiles(t) {
		contents, err := os.ReadFile(filepath.Join(migrationsDir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if strings.TrimSpace(string(contents)) == "" {
			t.Errorf("migration %s is empty", name)
		}
	}
}
