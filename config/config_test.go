package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultPageSize, cfg.Sync.PageSize)
	assert.Equal(t, DefaultMaxPagesPerPass, cfg.Sync.MaxPagesPerPass)
	assert.Equal(t, 10*time.Second, cfg.Sync.RequestTimeout())
	assert.Equal(t, 30*time.Second, cfg.Sync.AccountLockWait())
	assert.Equal(t, time.Duration(0), cfg.Sync.ChangeLockWait())
	assert.Equal(t, time.Duration(0), cfg.Sync.PassDeadline())
	assert.Equal(t, []string{DefaultContactsScope}, cfg.Remote.Scopes)
	assert.Equal(t, DefaultBaseURL, cfg.Remote.BaseURL)
}

func TestLoadFromTOML(t *testing.T) {
	path := writeConfig(t, `
[log]
level = "debug"
format = "json"

[remote]
base_url = "http://localhost:9999/"
scopes = ["a", "b"]

[sync]
page_size = 25
max_pages_per_pass = 3
change_lock_wait_ms = 500
pass_deadline_ms = 60000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "http://localhost:9999/", cfg.Remote.BaseURL)
	assert.Equal(t, []string{"a", "b"}, cfg.Remote.Scopes)
	assert.Equal(t, 25, cfg.Sync.PageSize)
	assert.Equal(t, 3, cfg.Sync.MaxPagesPerPass)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.ChangeLockWait())
	assert.Equal(t, time.Minute, cfg.Sync.PassDeadline())
	assert.Equal(t, DefaultRequestTimeoutMS, cfg.Sync.RequestTimeoutMS, "unset keys keep defaults")
}

func TestValidateClampsPageSize(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, DefaultPageSize},
		{-5, DefaultPageSize},
		{1, 1},
		{200, 200},
		{500, MaxPageSize},
	}
	for _, tt := range tests {
		cfg := Default()
		cfg.Sync.PageSize = tt.in
		require.NoError(t, cfg.Validate())
		assert.Equal(t, tt.want, cfg.Sync.PageSize, "page_size %d", tt.in)
	}
}

func TestValidateRejectsNegativeDurations(t *testing.T) {
	cfg := Default()
	cfg.Sync.RequestTimeoutMS = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Sync.ChangeLockWaitMS = -10
	assert.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GOOGLE_CLIENT_ID", "id-from-env")
	t.Setenv("GOOGLE_CLIENT_SECRET", "secret-from-env")
	t.Setenv("CONTACTSYNC_DB_PATH", "/tmp/override.db")
	t.Setenv("CONTACTSYNC_LOG_LEVEL", "warn")

	path := writeConfig(t, `
[remote]
client_id = "id-from-file"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "id-from-env", cfg.Remote.ClientID)
	assert.Equal(t, "secret-from-env", cfg.Remote.ClientSecret)
	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadInvalidTOML(t *testing.T) {
	_, err := Load(writeConfig(t, "[sync\npage_size = "))
	assert.Error(t, err)
}
