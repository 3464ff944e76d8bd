package migrations

import (
	"strings"
	"testing"
)

func TestEmbeddedFS_ContainsMigrationFiles(t *testing.T) {
	// Given: The embedded filesystem
	// When: We read the directory
	entries, err := FS.ReadDir(".")
	if err != nil {
		t.Fatalf("failed to read embedded FS: %v", err)
	}

	// Then: It contains the queue schema migration
	found := false
	for _, entry := range entries {
		if entry.Name() == "001_index_queue.sql" {
			found = true
			break
		}
	}

	if !found {
		t.Error("001_index_queue.sql not found in embedded FS")
	}
}

func TestEmbeddedFS_MigrationFileReadable(t *testing.T) {
	// Given: The embedded filesystem
	// When: We read the migration file
	content, err := FS.ReadFile("001_index_queue.sql")
	if err != nil {
		t.Fatalf("failed to read migration file: %v", err)
	}

	// Then: It contains goose directives and the queue table
	for _, want := range []string{"-- +goose Up", "-- +goose Down", "CREATE TABLE index_queue"} {
		if !strings.Contains(string(content), want) {
			t.Errorf("migration missing %q", want)
		}
	}
}
