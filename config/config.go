package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "lanpull"
	// DefaultSharePort is the WebDAV port used when no user override exists.
	DefaultSharePort = 8080
	// PortModeAutomatic picks an available port at launch.
	PortModeAutomatic = "automatic"
	// PortModeFixed uses the configured share port value.
	PortModeFixed = "fixed"
	// DiscoveryModeMDNS announces and browses over mDNS.
	DiscoveryModeMDNS = "mdns"
	// DiscoveryModeMulticast uses JSON beacons on a multicast group.
	DiscoveryModeMulticast = "multicast"

	DefaultMulticastGroup = "239.255.42.42"
	DefaultMulticastPort  = 9901

	DefaultLivenessWindowMs   int64 = 30_000
	DefaultRemovalGraceMs     int64 = 120_000
	DefaultConcurrencyLimit         = 4
	DefaultMaxAttempts              = 3
	DefaultRetryBaseDelayMs   int64 = 500
	DefaultRetryMaxDelayMs    int64 = 30_000
	DefaultChunkSize                = 256 * 1024
	DefaultChunkTimeoutMs     int64 = 30_000
	DefaultListTimeoutMs      int64 = 10_000
	DefaultSpeedWindowMs      int64 = 2_000
	DefaultHistoryRetentionMs int64 = 30 * 24 * 60 * 60 * 1000

	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// DeviceConfig contains persistent local-device settings.
type DeviceConfig struct {
	DeviceID      string `json:"device_id"`
	DeviceName    string `json:"device_name"`
	ShareDir      string `json:"share_dir"`
	PortMode      string `json:"port_mode"`
	SharePort     int    `json:"share_port"`
	DownloadDir   string `json:"download_dir"`
	DiscoveryMode string `json:"discovery_mode"`

	MulticastGroup string `json:"multicast_group"`
	MulticastPort  int    `json:"multicast_port"`

	LivenessWindowMs   int64 `json:"liveness_window_ms"`
	RemovalGraceMs     int64 `json:"removal_grace_ms"`
	ConcurrencyLimit   int   `json:"concurrency_limit"`
	MaxAttempts        int   `json:"max_attempts"`
	RetryBaseDelayMs   int64 `json:"retry_base_delay_ms"`
	RetryMaxDelayMs    int64 `json:"retry_max_delay_ms"`
	ChunkSize          int   `json:"chunk_size"`
	ChunkTimeoutMs     int64 `json:"chunk_timeout_ms"`
	ListTimeoutMs      int64 `json:"list_timeout_ms"`
	SpeedWindowMs      int64 `json:"speed_window_ms"`
	HistoryRetentionMs int64 `json:"history_retention_ms"`
}

func (c *DeviceConfig) LivenessWindow() time.Duration { return millis(c.LivenessWindowMs) }
func (c *DeviceConfig) RemovalGrace() time.Duration   { return millis(c.RemovalGraceMs) }
func (c *DeviceConfig) RetryBaseDelay() time.Duration { return millis(c.RetryBaseDelayMs) }
func (c *DeviceConfig) RetryMaxDelay() time.Duration  { return millis(c.RetryMaxDelayMs) }
func (c *DeviceConfig) ChunkTimeout() time.Duration   { return millis(c.ChunkTimeoutMs) }
func (c *DeviceConfig) ListTimeout() time.Duration    { return millis(c.ListTimeoutMs) }
func (c *DeviceConfig) SpeedWindow() time.Duration    { return millis(c.SpeedWindowMs) }

func (c *DeviceConfig) HistoryRetention() time.Duration {
	return millis(c.HistoryRetentionMs)
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If LANPULL_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("LANPULL_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "share"),
		filepath.Join(dataDir, "downloads"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*DeviceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg DeviceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *DeviceConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns both.
func LoadOrCreate() (*DeviceConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

func defaultConfig(dataDir string) *DeviceConfig {
	cfg := &DeviceConfig{
		DeviceID:   uuid.NewString(),
		DeviceName: defaultDeviceName(),
		PortMode:   PortModeFixed,
		SharePort:  DefaultSharePort,
	}
	normalizeDefaults(cfg, dataDir)
	return cfg
}

func defaultDeviceName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "lanpull device"
}

func normalizeDefaults(cfg *DeviceConfig, dataDir string) bool {
	updated := false

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		updated = true
	}

	if cfg.DeviceName == "" {
		cfg.DeviceName = defaultDeviceName()
		updated = true
	}

	if cfg.ShareDir == "" {
		cfg.ShareDir = filepath.Join(dataDir, "share")
		updated = true
	}
	if cfg.DownloadDir == "" {
		cfg.DownloadDir = filepath.Join(dataDir, "downloads")
		updated = true
	}

	mode := normalizePortMode(cfg.PortMode)
	if mode == "" {
		if cfg.SharePort > 0 {
			mode = PortModeFixed
		} else {
			mode = PortModeAutomatic
		}
	}
	if cfg.PortMode != mode {
		cfg.PortMode = mode
		updated = true
	}

	if cfg.PortMode == PortModeFixed && cfg.SharePort == 0 {
		cfg.SharePort = DefaultSharePort
		updated = true
	}
	if cfg.PortMode == PortModeAutomatic && cfg.SharePort != 0 {
		cfg.SharePort = 0
		updated = true
	}

	if cfg.DiscoveryMode != DiscoveryModeMDNS && cfg.DiscoveryMode != DiscoveryModeMulticast {
		cfg.DiscoveryMode = DiscoveryModeMDNS
		updated = true
	}
	if cfg.MulticastGroup == "" {
		cfg.MulticastGroup = DefaultMulticastGroup
		updated = true
	}
	if cfg.MulticastPort <= 0 {
		cfg.MulticastPort = DefaultMulticastPort
		updated = true
	}

	updated = defaultInt64(&cfg.LivenessWindowMs, DefaultLivenessWindowMs) || updated
	updated = defaultInt64(&cfg.RemovalGraceMs, DefaultRemovalGraceMs) || updated
	if cfg.RemovalGraceMs < cfg.LivenessWindowMs {
		cfg.RemovalGraceMs = cfg.LivenessWindowMs
		updated = true
	}

	updated = defaultInt(&cfg.ConcurrencyLimit, DefaultConcurrencyLimit) || updated
	updated = defaultInt(&cfg.MaxAttempts, DefaultMaxAttempts) || updated
	updated = defaultInt64(&cfg.RetryBaseDelayMs, DefaultRetryBaseDelayMs) || updated
	updated = defaultInt64(&cfg.RetryMaxDelayMs, DefaultRetryMaxDelayMs) || updated
	if cfg.RetryMaxDelayMs < cfg.RetryBaseDelayMs {
		cfg.RetryMaxDelayMs = cfg.RetryBaseDelayMs
		updated = true
	}
	updated = defaultInt(&cfg.ChunkSize, DefaultChunkSize) || updated
	updated = defaultInt64(&cfg.ChunkTimeoutMs, DefaultChunkTimeoutMs) || updated
	updated = defaultInt64(&cfg.ListTimeoutMs, DefaultListTimeoutMs) || updated
	updated = defaultInt64(&cfg.SpeedWindowMs, DefaultSpeedWindowMs) || updated
	updated = defaultInt64(&cfg.HistoryRetentionMs, DefaultHistoryRetentionMs) || updated

	return updated
}

func defaultInt(v *int, def int) bool {
	if *v > 0 {
		return false
	}
	*v = def
	return true
}

func defaultInt64(v *int64, def int64) bool {
	if *v > 0 {
		return false
	}
	*v = def
	return true
}

func normalizePortMode(mode string) string {
	switch mode {
	case PortModeAutomatic:
		return PortModeAutomatic
	case PortModeFixed:
		return PortModeFixed
	default:
		return ""
	}
}
