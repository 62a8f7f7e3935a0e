// Package cache persists the replication cache as a single JSON file.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"offsite-go/internal/fs"
	"offsite-go/internal/offsite"
)

// LockName serialises writers of the cache file across processes.
const LockName = "replication-cache"

// FileStore implements offsite.CacheStore on a JSON file.
type FileStore struct {
	path   string
	locker offsite.Locker
	logger offsite.Logger
}

// NewFileStore creates a FileStore writing to path.
func NewFileStore(path string, locker offsite.Locker, logger offsite.Logger) *FileStore {
	if logger == nil {
		logger = offsite.NewNopLogger()
	}
	return &FileStore{path: path, locker: locker, logger: logger}
}

// Read returns the cached state. A missing, corrupt or outdated file yields
// an empty cache; the bad file is removed so the next refresh starts clean.
func (s *FileStore) Read() (*offsite.ReplicationCache, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return offsite.NewReplicationCache(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}

	var cache offsite.ReplicationCache
	if err := json.Unmarshal(data, &cache); err != nil {
		s.logger.Warn("discarding unreadable replication cache", "path", s.path, "error", err)
		return s.reset()
	}
	if cache.Version != offsite.CacheVersion {
		s.logger.Warn("discarding replication cache with unknown version",
			"path", s.path, "version", cache.Version, "want", offsite.CacheVersion)
		return s.reset()
	}

	if cache.Entries == nil {
		cache.Entries = make(map[string]*offsite.CacheEntry)
	}
	if cache.Actions == nil {
		cache.Actions = []offsite.Action{}
	}
	return &cache, nil
}

// Update holds the cache lock across read, fn and write.
func (s *FileStore) Update(ctx context.Context, fn func(*offsite.ReplicationCache) error) error {
	lock, err := s.locker.Lock(ctx, LockName)
	if err != nil {
		return fmt.Errorf("acquiring cache lock: %w", err)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			s.logger.Warn("releasing cache lock", "error", err)
		}
	}()

	cache, err := s.Read()
	if err != nil {
		return err
	}
	if err := fn(cache); err != nil {
		return err
	}
	cache.Version = offsite.CacheVersion

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding cache: %w", err)
	}
	return fs.WriteFileAtomic(s.path, data, 0644)
}

func (s *FileStore) reset() (*offsite.ReplicationCache, error) {
	if err := fs.RemoveIfExists(s.path); err != nil {
		return nil, fmt.Errorf("removing bad cache file: %w", err)
	}
	return offsite.NewReplicationCache(), nil
}

// Compile-time check
var _ offsite.CacheStore = (*FileStore)(nil)
