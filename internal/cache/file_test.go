package cache_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"offsite-go/internal/cache"
	"offsite-go/internal/lock"
	"offsite-go/internal/offsite"
)

func newStore(t *testing.T) (*cache.FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	locker, err := lock.NewFileLocker(filepath.Join(dir, "locks"))
	if err != nil {
		t.Fatalf("NewFileLocker() error = %v", err)
	}
	path := filepath.Join(dir, "replication.json")
	return cache.NewFileStore(path, locker, nil), path
}

func TestFileStore_Read(t *testing.T) {
	t.Run("missing file is empty cache", func(t *testing.T) {
		store, _ := newStore(t)

		c, err := store.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if c.Version != offsite.CacheVersion {
			t.Errorf("Version = %d, want %d", c.Version, offsite.CacheVersion)
		}
		if len(c.Entries) != 0 {
			t.Errorf("Entries = %v, want empty", c.Entries)
		}
	})

	t.Run("corrupt file is removed", func(t *testing.T) {
		store, path := newStore(t)
		os.WriteFile(path, []byte("not json"), 0644)

		c, err := store.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if len(c.Entries) != 0 {
			t.Errorf("Entries = %v, want empty", c.Entries)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("corrupt cache file still present: %v", err)
		}
	})

	t.Run("version mismatch is removed", func(t *testing.T) {
		store, path := newStore(t)
		os.WriteFile(path, []byte(`{"version":99,"entries":{"tank/a":{"updated":1}}}`), 0644)

		c, err := store.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		if len(c.Entries) != 0 {
			t.Errorf("Entries = %v, want empty", c.Entries)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("outdated cache file still present: %v", err)
		}
	})
}

func TestFileStore_Update(t *testing.T) {
	t.Run("writes and reads back", func(t *testing.T) {
		store, _ := newStore(t)
		ctx := context.Background()

		err := store.Update(ctx, func(c *offsite.ReplicationCache) error {
			c.Entries["tank/a"] = &offsite.CacheEntry{Updated: 100, OffsitePoints: []int64{1, 2}}
			c.Actions = []offsite.Action{{Snapshot: "tank/a@3", Size: 10}}
			return nil
		})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		c, err := store.Read()
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		entry, ok := c.Entries["tank/a"]
		if !ok {
			t.Fatal("entry for tank/a missing")
		}
		if entry.Updated != 100 || len(entry.OffsitePoints) != 2 {
			t.Errorf("entry = %+v", entry)
		}
		if len(c.Actions) != 1 || c.Actions[0].Snapshot != "tank/a@3" {
			t.Errorf("Actions = %+v", c.Actions)
		}
	})

	t.Run("fn error leaves file untouched", func(t *testing.T) {
		store, path := newStore(t)
		ctx := context.Background()
		boom := errors.New("boom")

		err := store.Update(ctx, func(*offsite.ReplicationCache) error { return boom })
		if !errors.Is(err, boom) {
			t.Fatalf("Update() error = %v, want %v", err, boom)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("cache file written despite fn error")
		}
	})

	t.Run("successive updates merge", func(t *testing.T) {
		store, _ := newStore(t)
		ctx := context.Background()

		store.Update(ctx, func(c *offsite.ReplicationCache) error {
			c.Entries["tank/a"] = &offsite.CacheEntry{Updated: 1}
			return nil
		})
		store.Update(ctx, func(c *offsite.ReplicationCache) error {
			c.Entries["tank/b"] = &offsite.CacheEntry{Updated: 2}
			return nil
		})

		c, _ := store.Read()
		if len(c.Entries) != 2 {
			t.Errorf("len(Entries) = %d, want 2", len(c.Entries))
		}
	})
}
