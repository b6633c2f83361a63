package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()

	assert.Equal(t, ":1918", cfg.RegisterAddr)
	assert.Equal(t, ":1919", cfg.DiscoveryAddr)
	assert.Equal(t, 5500*time.Millisecond, cfg.HeartbeatTimeout())
	assert.Equal(t, 60*time.Second, cfg.FreshnessWindow)
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverlaysJSONAndEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvHome, home)
	t.Setenv(EnvLogLevel, "debug")

	data := `{"register_addr": "127.0.0.1:7000", "heartbeat_interval": "2s", "guard_band": 250000000, "register_rate": 3}`
	require.NoError(t, os.WriteFile(filepath.Join(home, ConfigFile), []byte(data), 0o600))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, home, cfg.Home)
	assert.Equal(t, "127.0.0.1:7000", cfg.RegisterAddr)
	assert.Equal(t, ":1919", cfg.DiscoveryAddr)
	assert.Equal(t, 2*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 250*time.Millisecond, cfg.GuardBand)
	assert.Equal(t, 3, cfg.RegisterRate)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, filepath.Join(home, DBFile), cfg.Database())
}

func TestLoadRejectsBadJSON(t *testing.T) {
	home := t.TempDir()
	t.Setenv(EnvHome, home)
	require.NoError(t, os.WriteFile(filepath.Join(home, ConfigFile), []byte(`{"pair_timeout": "soon"}`), 0o600))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.LoadDefaults()
	cfg.HeartbeatInterval = 0
	assert.Error(t, cfg.Validate())

	cfg.LoadDefaults()
	cfg.CompanionPort = 70000
	assert.Error(t, cfg.Validate())
}

func TestPasswordFromEnv(t *testing.T) {
	t.Setenv(EnvPassword, "")
	assert.Nil(t, PasswordFromEnv())

	t.Setenv(EnvPassword, "s3cret")
	assert.Equal(t, []byte("s3cret"), PasswordFromEnv())
}

func TestLoadHomeOverridesEnv(t *testing.T) {
	t.Setenv(EnvHome, t.TempDir())
	home := t.TempDir()

	cfg, err := LoadHome(home)
	require.NoError(t, err)
	assert.Equal(t, home, cfg.Home)
}

func TestUserFromEnv(t *testing.T) {
	t.Setenv("USER", "login")
	t.Setenv(EnvUser, "")
	assert.Equal(t, "login", UserFromEnv())

	t.Setenv(EnvUser, "alice")
	assert.Equal(t, "alice", UserFromEnv())
}
