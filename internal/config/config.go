package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for offsite.
type Config struct {
	DeviceID           string         `toml:"device_id"`
	BaseDir            string         `toml:"base_dir"`
	LogDir             string         `toml:"log_dir"`
	StateDir           string         `toml:"state_dir"`
	LockDir            string         `toml:"lock_dir"`
	CachePath          string         `toml:"cache_path"`
	Timezone           string         `toml:"timezone,omitempty"` // IANA name; empty means local time
	RefreshConcurrency int            `toml:"refresh_concurrency"`
	Tool               ToolConfig     `toml:"tool"`
	Database           DatabaseConfig `toml:"database"`
	Notify             NotifyConfig   `toml:"notify"`
	Daemon             DaemonConfig   `toml:"daemon"`
}

// ToolConfig represents configuration for the replication tool client.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ToolConfig struct {
	Type          string `toml:"type"`                     // "exec" or "memory"
	Binary        string `toml:"binary,omitempty"`         // only used for type=exec
	RetryAttempts int    `toml:"retry_attempts,omitempty"` // read-only queries; defaults to 3
	RetryDelayMS  int    `toml:"retry_delay_ms,omitempty"` // initial backoff; defaults to 500
}

// DatabaseConfig represents configuration for the device database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// NotifyConfig represents configuration for management service notifications.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type NotifyConfig struct {
	Type     string `toml:"type"`               // "http" or "log"
	Endpoint string `toml:"endpoint,omitempty"` // only used for type=http
}

// DaemonConfig holds the cron specs of the periodic jobs. An empty spec disables the job.
type DaemonConfig struct {
	ScheduleSpec    string `toml:"schedule_spec"`
	CheckSpec       string `toml:"check_spec"`
	CheckAssetsSpec string `toml:"check_assets_spec"`
	CacheSpec       string `toml:"cache_spec"`
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(deviceID, baseDir string) *Config {
	return &Config{
		DeviceID:           deviceID,
		BaseDir:            baseDir,
		LogDir:             filepath.Join(baseDir, "log"),
		StateDir:           filepath.Join(baseDir, "state"),
		LockDir:            filepath.Join(baseDir, "lock"),
		CachePath:          filepath.Join(baseDir, "cache", "replication.json"),
		RefreshConcurrency: 4,
		Tool:               ToolConfig{Type: "exec", Binary: "speedsync"},
		Database:           DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Notify:             NotifyConfig{Type: "log"},
		Daemon: DaemonConfig{
			ScheduleSpec:    "*/5 * * * *",
			CheckSpec:       "*/10 * * * *",
			CheckAssetsSpec: "0 * * * *",
			CacheSpec:       "*/15 * * * *",
		},
	}
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
