package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "VERMILLION_"

// Config is the merged configuration for the device and the reference
// server. Field names in YAML and in the CUE schema match the json tags.
type Config struct {
	ServerURL    string `yaml:"server_url" json:"server_url"`
	DataDir      string `yaml:"data_dir" json:"data_dir"`
	ListenAddr   string `yaml:"listen_addr" json:"listen_addr"`
	ServerDB     string `yaml:"server_db" json:"server_db"`
	PhotoDir     string `yaml:"photo_dir" json:"photo_dir"`
	AccessToken  string `yaml:"access_token" json:"access_token"`
	RefreshToken string `yaml:"refresh_token" json:"refresh_token"`

	Sync   SyncConfig   `yaml:"sync" json:"sync"`
	Photo  PhotoConfig  `yaml:"photo" json:"photo"`
	Server ServerConfig `yaml:"server" json:"server"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	BatchSize            int `yaml:"batch_size" json:"batch_size"`
	MaxAttempts          int `yaml:"max_attempts" json:"max_attempts"`
	BaseDelayMS          int `yaml:"base_delay_ms" json:"base_delay_ms"`
	MaxDelayMS           int `yaml:"max_delay_ms" json:"max_delay_ms"`
	IntervalSeconds      int `yaml:"interval_seconds" json:"interval_seconds"`
	ProbeIntervalSeconds int `yaml:"probe_interval_seconds" json:"probe_interval_seconds"`
	ReconcileWindowHours int `yaml:"reconcile_window_hours" json:"reconcile_window_hours"`
	ReconcileLimit       int `yaml:"reconcile_limit" json:"reconcile_limit"`
	MaxBatchOpBytes      int `yaml:"max_batch_op_bytes" json:"max_batch_op_bytes"`
}

// PhotoConfig is the capture compression policy.
type PhotoConfig struct {
	MaxBytes     int `yaml:"max_bytes" json:"max_bytes"`
	StartQuality int `yaml:"start_quality" json:"start_quality"`
	MinQuality   int `yaml:"min_quality" json:"min_quality"`
	QualityStep  int `yaml:"quality_step" json:"quality_step"`
	MaxDimension int `yaml:"max_dimension" json:"max_dimension"`
}

// ServerConfig configures the reference ingestion server.
type ServerConfig struct {
	MaxBodyBytes int `yaml:"max_body_bytes" json:"max_body_bytes"`
	// Tokens maps accepted refresh tokens to user names.
	Tokens map[string]string `yaml:"tokens" json:"tokens"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:    "vermillion-data",
		ListenAddr: ":8080",
		ServerDB:   "vermillion-server.db",
		PhotoDir:   "vermillion-photos",
		Sync: SyncConfig{
			BatchSize:            20,
			MaxAttempts:          5,
			BaseDelayMS:          500,
			MaxDelayMS:           30000,
			IntervalSeconds:      300,
			ProbeIntervalSeconds: 15,
			ReconcileWindowHours: 24,
			ReconcileLimit:       500,
			MaxBatchOpBytes:      64 * 1024,
		},
		Photo: PhotoConfig{
			MaxBytes:     500 * 1024,
			StartQuality: 85,
			MinQuality:   40,
			QualityStep:  10,
			MaxDimension: 1600,
		},
		Server: ServerConfig{
			MaxBodyBytes: 10 << 20,
			Tokens:       map[string]string{},
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path
// (skipped when path is empty), then VERMILLION_* environment variables.
// A .env file in the working directory is loaded first if present.
// The result is validated before it is returned.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if cfg.Server.Tokens == nil {
		cfg.Server.Tokens = map[string]string{}
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadOptional is Load, except that a missing file at path falls back to
// defaults instead of failing.
func LoadOptional(path string) (Config, error) {
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}
	return Load(path)
}

type lookupFunc func(string) (string, bool)

// applyEnv overlays environment overrides onto cfg.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	strs := map[string]*string{
		"SERVER_URL":    &cfg.ServerURL,
		"DATA_DIR":      &cfg.DataDir,
		"LISTEN_ADDR":   &cfg.ListenAddr,
		"SERVER_DB":     &cfg.ServerDB,
		"PHOTO_DIR":     &cfg.PhotoDir,
		"ACCESS_TOKEN":  &cfg.AccessToken,
		"REFRESH_TOKEN": &cfg.RefreshToken,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"SYNC_BATCH_SIZE":             &cfg.Sync.BatchSize,
		"SYNC_MAX_ATTEMPTS":           &cfg.Sync.MaxAttempts,
		"SYNC_BASE_DELAY_MS":          &cfg.Sync.BaseDelayMS,
		"SYNC_MAX_DELAY_MS":           &cfg.Sync.MaxDelayMS,
		"SYNC_INTERVAL_SECONDS":       &cfg.Sync.IntervalSeconds,
		"SYNC_PROBE_INTERVAL_SECONDS": &cfg.Sync.ProbeIntervalSeconds,
		"SYNC_RECONCILE_WINDOW_HOURS": &cfg.Sync.ReconcileWindowHours,
		"SYNC_MAX_BATCH_OP_BYTES":     &cfg.Sync.MaxBatchOpBytes,
		"PHOTO_MAX_BYTES":             &cfg.Photo.MaxBytes,
		"SERVER_MAX_BODY_BYTES":       &cfg.Server.MaxBodyBytes,
	}
	for name, dst := range ints {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse %s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
	}

	// VERMILLION_SERVER_TOKENS=refresh1:user1,refresh2:user2
	if v, ok := lookup(EnvPrefix + "SERVER_TOKENS"); ok {
		tokens, err := parseTokens(v)
		if err != nil {
			return err
		}
		cfg.Server.Tokens = tokens
	}
	return nil
}

func parseTokens(s string) (map[string]string, error) {
	tokens := map[string]string{}
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		tok, user, found := strings.Cut(pair, ":")
		if !found || tok == "" || user == "" {
			return nil, fmt.Errorf("parse %sSERVER_TOKENS: entry %q is not token:user", EnvPrefix, pair)
		}
		tokens[tok] = user
	}
	return tokens, nil
}

// DeviceDB is the path of the device store inside DataDir.
func (c Config) DeviceDB() string {
	return filepath.Join(c.DataDir, "device.db")
}

// DevicePhotoDir is the staged photo directory inside DataDir.
func (c Config) DevicePhotoDir() string {
	return filepath.Join(c.DataDir, "photos")
}

// BaseDelay is the first retry delay.
func (s SyncConfig) BaseDelay() time.Duration {
	return time.Duration(s.BaseDelayMS) * time.Millisecond
}

// MaxDelay caps retry delays.
func (s SyncConfig) MaxDelay() time.Duration {
	return time.Duration(s.MaxDelayMS) * time.Millisecond
}

// Interval is the periodic sync interval; zero disables it.
func (s SyncConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// ProbeInterval is how often connectivity is probed.
func (s SyncConfig) ProbeInterval() time.Duration {
	return time.Duration(s.ProbeIntervalSeconds) * time.Second
}

// ReconcileWindow is how far back the read cache is refreshed.
func (s SyncConfig) ReconcileWindow() time.Duration {
	return time.Duration(s.ReconcileWindowHours) * time.Hour
}
