package dedupe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenKeepsGoingWithCorruptStores(t *testing.T) {
	dir := t.TempDir()

	dbPath := filepath.Join(dir, "notifications_sent.db")
	if err := os.WriteFile(dbPath, []byte("this is not a sqlite database, just text padding it out"), 0o644); err != nil {
		t.Fatalf("write db: %v", err)
	}
	badgerDir := filepath.Join(dir, "notifications_sent.badger")
	if err := os.MkdirAll(badgerDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(badgerDir, "MANIFEST"), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	cases := []struct {
		name string
		opts Options
	}{
		{"sqlite", Options{Driver: DriverSQLite, Path: dbPath}},
		{"badger", Options{Driver: DriverBadger, Path: badgerDir}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, err := Open(tc.opts, discardLogger())
			if err != nil {
				t.Fatalf("Open should not fail on a corrupt store: %v", err)
			}
			defer store.Close()

			info := store.Info()
			if info.Driver != tc.name || !info.Exists {
				t.Fatalf("unexpected info: %+v", info)
			}
			set, err := store.Load(context.Background())
			if err == nil {
				t.Fatalf("expected load to report the open failure")
			}
			if len(set) != 0 {
				t.Fatalf("expected empty set, got %v", set)
			}
			if err := store.Save(context.Background(), Set{"abc": time.Now()}); err == nil {
				t.Fatalf("expected save to report the open failure")
			}
			if err := store.Cleanup(context.Background(), 0); err != nil {
				t.Fatalf("disabled cleanup should be a no-op, got %v", err)
			}
		})
	}
}

func TestOpenStillRejectsBadTableName(t *testing.T) {
	_, err := Open(Options{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "a.db"), Table: "drop table;"}, discardLogger())
	if err == nil {
		t.Fatalf("expected invalid table name to be rejected")
	}
}
