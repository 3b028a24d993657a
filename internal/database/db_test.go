package database

import (
	"slices"
	"testing"
	"testing/fstest"
)

func TestPendingMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"002_transitions.up.sql":  {Data: []byte("CREATE TABLE t ();")},
		"001_init.up.sql":         {Data: []byte("CREATE TABLE c ();")},
		"001_init.down.sql":       {Data: []byte("DROP TABLE c;")},
		"README.md":               {Data: []byte("notes")},
		"nested/003_other.up.sql": {Data: []byte("")},
	}

	got, err := PendingMigrations(fsys, nil)
	if err != nil {
		t.Fatalf("PendingMigrations() error = %v", err)
	}
	if want := []string{"001_init.up.sql", "002_transitions.up.sql"}; !slices.Equal(got, want) {
		t.Errorf("PendingMigrations() = %v, want %v", got, want)
	}

	got, err = PendingMigrations(fsys, map[string]bool{"001_init.up.sql": true})
	if err != nil {
		t.Fatalf("PendingMigrations() error = %v", err)
	}
	if want := []string{"002_transitions.up.sql"}; !slices.Equal(got, want) {
		t.Errorf("PendingMigrations(applied) = %v, want %v", got, want)
	}
}
