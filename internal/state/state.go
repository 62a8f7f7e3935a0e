// Package state keeps per-asset offsite state on the local filesystem:
//
//	<dir>/
//	  <assetKey>.offsiteControl.json
//	  <assetKey>.offsitePaused
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"offsite-go/internal/fs"
	"offsite-go/internal/offsite"
)

const (
	controlSuffix = ".offsiteControl.json"
	pausedSuffix  = ".offsitePaused"
)

// Store implements offsite.ControlStore and offsite.PauseMarkers on files in one directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// LoadControl returns nil when the asset has never been sent offsite.
func (s *Store) LoadControl(assetKey string) (*offsite.ControlRecord, error) {
	path, err := s.path(assetKey, controlSuffix)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading control record: %w", err)
	}

	var record offsite.ControlRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding control record %s: %w", path, err)
	}
	return &record, nil
}

func (s *Store) SaveControl(assetKey string, record *offsite.ControlRecord) error {
	path, err := s.path(assetKey, controlSuffix)
	if err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding control record: %w", err)
	}
	return fs.WriteFileAtomic(path, data, 0644)
}

func (s *Store) IsPaused(assetKey string) (bool, error) {
	path, err := s.path(assetKey, pausedSuffix)
	if err != nil {
		return false, err
	}
	return fs.Exists(path)
}

func (s *Store) SetPaused(assetKey string) error {
	path, err := s.path(assetKey, pausedSuffix)
	if err != nil {
		return err
	}
	return fs.Touch(path)
}

func (s *Store) ClearPaused(assetKey string) error {
	path, err := s.path(assetKey, pausedSuffix)
	if err != nil {
		return err
	}
	return fs.RemoveIfExists(path)
}

func (s *Store) path(assetKey, suffix string) (string, error) {
	if assetKey == "" || strings.ContainsAny(assetKey, `/\`) || strings.HasPrefix(assetKey, ".") {
		return "", fmt.Errorf("invalid asset key %q", assetKey)
	}
	return filepath.Join(s.dir, assetKey+suffix), nil
}

// Compile-time checks
var (
	_ offsite.ControlStore = (*Store)(nil)
	_ offsite.PauseMarkers = (*Store)(nil)
)
