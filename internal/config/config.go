package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"taskfeed/internal/model"
	"taskfeed/internal/secret"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	DefaultListen       = "127.0.0.1:8080"
	DefaultFetchTimeout = 20 * time.Second
	DefaultProbeTimeout = 12 * time.Second
	DefaultFeedTTL      = 15 * time.Minute
	DefaultStatusTTL    = 5 * time.Minute
	DefaultMaxBodyBytes = 8 << 20
)

// ErrUnknownStoreDriver is returned by Load when store.driver names a
// backend that does not exist.
var ErrUnknownStoreDriver = errors.New("unknown store driver")

// Environment variables consulted once by Load. They win over the file so
// secrets embedded in feed URLs can stay out of the config.
const (
	EnvShiftURL    = "TASKFEED_SHIFT_URL"
	EnvCalendarURL = "TASKFEED_CALENDAR_URL"
	EnvStoreDSN    = "TASKFEED_STORE_DSN"
)

// FeedConfig describes a single ICS subscription.
type FeedConfig struct {
	// URL is the ICS subscription endpoint. Empty means "not configured",
	// which is a normal, reportable state.
	URL string `yaml:"url" json:"url"`
	// Source is the tag used to build external ids ("{source}-{uid}").
	Source string `yaml:"source" json:"source"`
	// Label prefixes task titles, e.g. "Shift: Barista @ Downtown".
	Label string `yaml:"label" json:"label"`
	// SkipPast drops events whose end is already in the past during sync.
	// Nil means the per-kind default (false for shift, true for calendar).
	SkipPast *bool `yaml:"skip_past,omitempty" json:"skip_past,omitempty"`
}

// HidesPast reports the effective past-event policy.
func (f FeedConfig) HidesPast() bool {
	return f.SkipPast != nil && *f.SkipPast
}

// FeedsConfig holds one entry per feed kind.
type FeedsConfig struct {
	Shift    FeedConfig `yaml:"shift" json:"shift"`
	Calendar FeedConfig `yaml:"calendar" json:"calendar"`
}

// StoreConfig selects the task collection backend.
type StoreConfig struct {
	// Driver is one of "memory" (default), "sqlite" or "postgres".
	Driver string `yaml:"driver" json:"driver"`
	// DSN is a file path for sqlite or a connection string for postgres.
	DSN string `yaml:"dsn" json:"dsn"`
}

// BasicAuthConfig protects every route except /health when both fields
// are set.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file,omitempty" json:"file,omitempty"`
	JSON  bool   `yaml:"json" json:"json"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	Feeds FeedsConfig `yaml:"feeds" json:"feeds"`

	// FetchTimeout bounds a content fetch; ProbeTimeout bounds a health probe.
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout"`

	// FeedTTL is how long a parsed feed is served before refetching.
	FeedTTL time.Duration `yaml:"feed_ttl" json:"feed_ttl"`
	// StatusTTL is how long the integration status is cached.
	StatusTTL time.Duration `yaml:"status_ttl" json:"status_ttl"`

	// MaxBodyBytes is the largest feed response accepted; longer bodies fail
	// the fetch.
	MaxBodyBytes int64 `yaml:"max_body_bytes" json:"max_body_bytes"`

	// SyncCron, if set, is a cron-style schedule (e.g. "*/30 * * * *") on
	// which every configured feed is synced. Empty disables scheduling.
	SyncCron string `yaml:"sync_cron" json:"sync_cron"`

	Store StoreConfig `yaml:"store" json:"store"`
	Log   LogConfig   `yaml:"log" json:"log"`

	// BasicAuth is optional; nil or empty credentials disable it.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Feeds.Shift.Source == "" {
		c.Feeds.Shift.Source = "w2w"
	}
	if c.Feeds.Shift.Label == "" {
		c.Feeds.Shift.Label = "Shift"
	}
	if c.Feeds.Shift.SkipPast == nil {
		c.Feeds.Shift.SkipPast = boolPtr(false)
	}
	if c.Feeds.Calendar.Source == "" {
		c.Feeds.Calendar.Source = "gcal"
	}
	if c.Feeds.Calendar.SkipPast == nil {
		c.Feeds.Calendar.SkipPast = boolPtr(true)
	}
	if c.Feeds.Calendar.Label == "" {
		c.Feeds.Calendar.Label = "Event"
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.FeedTTL <= 0 {
		c.FeedTTL = DefaultFeedTTL
	}
	if c.StatusTTL <= 0 {
		c.StatusTTL = DefaultStatusTTL
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func boolPtr(b bool) *bool { return &b }

// Feed returns the config entry for kind.
func (c *Config) Feed(kind model.FeedKind) (FeedConfig, bool) {
	switch kind {
	case model.FeedShift:
		return c.Feeds.Shift, true
	case model.FeedCalendar:
		return c.Feeds.Calendar, true
	}
	return FeedConfig{}, false
}

// applyEnv overlays environment overrides onto c.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvShiftURL); v != "" {
		c.Feeds.Shift.URL = v
	}
	if v := os.Getenv(EnvCalendarURL); v != "" {
		c.Feeds.Calendar.URL = v
	}
	if v := os.Getenv(EnvStoreDSN); v != "" {
		c.Store.DSN = v
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Environment overrides are applied next, then "keyring:NAME" values are
// resolved from the OS keyring. Neither is ever written back to disk.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				cfg.applyEnv()
				return cfg, err
			}
			cfg.applyEnv()
			if err := cfg.resolveSecrets(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	if err := cfg.resolveSecrets(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres":
		return nil
	}
	return fmt.Errorf("store.driver: %w %q (want memory, sqlite or postgres)", ErrUnknownStoreDriver, c.Store.Driver)
}

// resolveSecrets replaces "keyring:NAME" values with the keyring entry.
// Resolved values live only in memory.
func (c *Config) resolveSecrets() error {
	type field struct {
		name string
		v    *string
	}
	fields := []field{
		{"feeds.shift.url", &c.Feeds.Shift.URL},
		{"feeds.calendar.url", &c.Feeds.Calendar.URL},
		{"store.dsn", &c.Store.DSN},
	}
	if c.BasicAuth != nil {
		fields = append(fields, field{"basic_auth.password", &c.BasicAuth.Password})
	}
	for _, f := range fields {
		v, err := secret.Resolve(*f.v)
		if err != nil {
			return fmt.Errorf("%s: %w", f.name, err)
		}
		*f.v = v
	}
	return nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".taskfeed-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
