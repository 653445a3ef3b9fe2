// ABOUTME: TOML configuration at the XDG config path with environment overrides
// ABOUTME: Defaults for remote endpoints, sync batching, timeouts, and lock waits
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
)

const (
	AppName = "contactsync"

	DefaultBaseURL           = "https://people.googleapis.com/"
	DefaultRevokeURL         = "https://oauth2.googleapis.com/revoke"
	DefaultRedirectURL       = "http://localhost:8080/oauth/callback"
	DefaultContactsScope     = "https://www.googleapis.com/auth/contacts"
	EmailScope               = "https://www.googleapis.com/auth/userinfo.email"
	DefaultPageSize          = 50
	MaxPageSize              = 200
	DefaultMaxPagesPerPass   = 20
	DefaultRequestTimeoutMS  = 10000
	DefaultRefreshTimeoutMS  = 10000
	DefaultAccountLockWaitMS = 30000
	DefaultChangeLockWaitMS  = 0
	DefaultReadRetries       = 3
	DefaultRequestsPerSecond = 5.0
	DefaultBurst             = 5
	DefaultSchedule          = "@every 15m"
)

// Config is the root configuration loaded from TOML.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Database DatabaseConfig `toml:"database"`
	Remote   RemoteConfig   `toml:"remote"`
	Sync     SyncConfig     `toml:"sync"`
	Storage  StorageConfig  `toml:"storage"`
}

// LogConfig holds logging level and format (text, json, logfmt).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DatabaseConfig holds the SQLite file path.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// RemoteConfig describes the remote contact directory and its OAuth client.
// Empty AuthURL/TokenURL select the Google endpoints.
type RemoteConfig struct {
	BaseURL           string   `toml:"base_url"`
	Scopes            []string `toml:"scopes"`
	ClientID          string   `toml:"client_id"`
	ClientSecret      string   `toml:"client_secret"`
	RedirectURL       string   `toml:"redirect_url"`
	AuthURL           string   `toml:"auth_url"`
	TokenURL          string   `toml:"token_url"`
	RevokeURL         string   `toml:"revoke_url"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
}

// SyncConfig holds batching, timeout, and scheduling knobs for sync passes.
type SyncConfig struct {
	PageSize          int    `toml:"page_size"`
	MaxPagesPerPass   int    `toml:"max_pages_per_pass"`
	RequestTimeoutMS  int    `toml:"request_timeout_ms"`
	RefreshTimeoutMS  int    `toml:"refresh_timeout_ms"`
	AccountLockWaitMS int    `toml:"account_lock_wait_ms"`
	ChangeLockWaitMS  int    `toml:"change_lock_wait_ms"`
	PassDeadlineMS    int    `toml:"pass_deadline_ms"`
	ReadRetries       int    `toml:"read_retries"`
	Schedule          string `toml:"schedule"`
}

// StorageConfig holds the optional token sealing key (hex, 32 bytes).
type StorageConfig struct {
	TokenKey string `toml:"token_key"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Database: DatabaseConfig{
			Path: DefaultDatabasePath(),
		},
		Remote: RemoteConfig{
			BaseURL:           DefaultBaseURL,
			Scopes:            []string{DefaultContactsScope},
			RedirectURL:       DefaultRedirectURL,
			RevokeURL:         DefaultRevokeURL,
			RequestsPerSecond: DefaultRequestsPerSecond,
			Burst:             DefaultBurst,
		},
		Sync: SyncConfig{
			PageSize:          DefaultPageSize,
			MaxPagesPerPass:   DefaultMaxPagesPerPass,
			RequestTimeoutMS:  DefaultRequestTimeoutMS,
			RefreshTimeoutMS:  DefaultRefreshTimeoutMS,
			AccountLockWaitMS: DefaultAccountLockWaitMS,
			ChangeLockWaitMS:  DefaultChangeLockWaitMS,
			ReadRetries:       DefaultReadRetries,
			Schedule:          DefaultSchedule,
		},
	}
}

// DefaultConfigPath returns the XDG config file location.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.toml")
}

// DefaultDatabasePath returns the XDG data location of the database.
func DefaultDatabasePath() string {
	return filepath.Join(xdg.DataHome, AppName, AppName+".db")
}

// Load reads the TOML file at path (the XDG default when empty), applies
// environment overrides, and validates the result. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath()
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("failed to stat config %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		c.Remote.ClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		c.Remote.ClientSecret = v
	}
	if v := os.Getenv("CONTACTSYNC_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("CONTACTSYNC_TOKEN_KEY"); v != "" {
		c.Storage.TokenKey = v
	}
	if v := os.Getenv("CONTACTSYNC_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CONTACTSYNC_BASE_URL"); v != "" {
		c.Remote.BaseURL = v
	}
}

// Validate clamps page size into range and rejects negative durations.
func (c *Config) Validate() error {
	if c.Sync.PageSize <= 0 {
		c.Sync.PageSize = DefaultPageSize
	}
	if c.Sync.PageSize > MaxPageSize {
		c.Sync.PageSize = MaxPageSize
	}
	if c.Sync.MaxPagesPerPass <= 0 {
		c.Sync.MaxPagesPerPass = DefaultMaxPagesPerPass
	}
	if len(c.Remote.Scopes) == 0 {
		c.Remote.Scopes = []string{DefaultContactsScope}
	}
	if strings.TrimSpace(c.Remote.BaseURL) == "" {
		c.Remote.BaseURL = DefaultBaseURL
	}

	durations := map[string]int{
		"sync.request_timeout_ms":   c.Sync.RequestTimeoutMS,
		"sync.refresh_timeout_ms":   c.Sync.RefreshTimeoutMS,
		"sync.account_lock_wait_ms": c.Sync.AccountLockWaitMS,
		"sync.change_lock_wait_ms":  c.Sync.ChangeLockWaitMS,
		"sync.pass_deadline_ms":     c.Sync.PassDeadlineMS,
		"sync.read_retries":         c.Sync.ReadRetries,
	}
	for key, v := range durations {
		if v < 0 {
			return fmt.Errorf("%s must not be negative (got %d)", key, v)
		}
	}
	if c.Sync.RequestTimeoutMS == 0 {
		c.Sync.RequestTimeoutMS = DefaultRequestTimeoutMS
	}
	if c.Sync.RefreshTimeoutMS == 0 {
		c.Sync.RefreshTimeoutMS = DefaultRefreshTimeoutMS
	}
	if c.Remote.RequestsPerSecond < 0 {
		return fmt.Errorf("remote.requests_per_second must not be negative")
	}
	return nil
}

// RequestTimeout is the per-call remote timeout.
func (s SyncConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutMS) * time.Millisecond
}

// RefreshTimeout bounds a single token refresh exchange.
func (s SyncConfig) RefreshTimeout() time.Duration {
	return time.Duration(s.RefreshTimeoutMS) * time.Millisecond
}

// AccountLockWait is how long a full pass waits for the account lock.
func (s SyncConfig) AccountLockWait() time.Duration {
	return time.Duration(s.AccountLockWaitMS) * time.Millisecond
}

// ChangeLockWait is how long the change-triggered path waits for the account lock.
func (s SyncConfig) ChangeLockWait() time.Duration {
	return time.Duration(s.ChangeLockWaitMS) * time.Millisecond
}

// PassDeadline is the optional cumulative pass budget; zero means none.
func (s SyncConfig) PassDeadline() time.Duration {
	return time.Duration(s.PassDeadlineMS) * time.Millisecond
}
