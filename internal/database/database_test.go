package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func TestListMigrations_OrdersAndFilters(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"010_add_index.sql",
		"002_second.sql",
		"001_generated_projects.sql",
		"README.md",
		"abc_not_versioned.sql",
		"000_zero.sql",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644); err != nil {
			t.Fatalf("setup: %v", err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "003_dir.sql"), 0o755); err != nil {
		t.Fatalf("setup: %v", err)
	}

	got, err := listMigrations(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []int{1, 2, 10}
	if len(got) != len(want) {
		t.Fatalf("expected %d migrations, got %+v", len(want), got)
	}
	for i, v := range want {
		if got[i].version != v {
			t.Fatalf("position %d: expected version %d, got %d", i, v, got[i].version)
		}
	}
}

func TestListMigrations_MissingDir(t *testing.T) {
	if _, err := listMigrations(filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}

func TestRepoMigrationsParse(t *testing.T) {
	got, err := listMigrations(filepath.Join("..", "..", "migrations"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) == 0 || got[0].version != 1 {
		t.Fatalf("expected migration 001 first, got %+v", got)
	}
}

func TestNewRedisClients(t *testing.T) {
	mr := miniredis.RunT(t)

	clients, err := NewRedisClients(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer clients.Close()

	if err := clients.Publish.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("publish client unusable: %v", err)
	}
}

func TestNewRedisClients_BadURL(t *testing.T) {
	if _, err := NewRedisClients(context.Background(), "not a url"); err == nil {
		t.Fatalf("expected parse error")
	}
}
