package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	EnvHome     = "PROXVAULT_HOME"
	EnvLogLevel = "PROXVAULT_LOG_LEVEL"
	EnvPassword = "PROXVAULT_PASSWORD"
	EnvUser     = "PROXVAULT_USER"

	ConfigFile = "config.json"
	DBFile     = "vault.db"
)

// Config holds runtime settings for proxvault.
//
// Units: all intervals are time.Duration values.
type Config struct {
	Home string
	// DBPath defaults to <Home>/vault.db when empty.
	DBPath string

	RegisterAddr  string // TCP listener for REGISTER handshakes
	DiscoveryAddr string // UDP listener for discovery beacons
	CompanionPort int    // session port assumed when a beacon omits one

	HeartbeatInterval time.Duration
	GuardBand         time.Duration
	FreshnessWindow   time.Duration
	PairTimeout       time.Duration
	RegisterRate      int // REGISTER attempts per minute per remote host

	LogLevel string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.Home = defaultHome()
	c.DBPath = ""
	c.RegisterAddr = ":1918"
	c.DiscoveryAddr = ":1919"
	c.CompanionPort = 1920
	c.HeartbeatInterval = 5 * time.Second
	c.GuardBand = 500 * time.Millisecond
	c.FreshnessWindow = 60 * time.Second
	c.PairTimeout = 2 * time.Minute
	c.RegisterRate = 6
	c.LogLevel = "info"
}

// HeartbeatTimeout is the deadline armed after every liveness signal.
func (c *Config) HeartbeatTimeout() time.Duration {
	return c.HeartbeatInterval + c.GuardBand
}

// Database returns the record store location.
func (c *Config) Database() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.Home, DBFile)
}

// Validate rejects settings the protocol cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Home == "" && c.DBPath == "":
		return errors.New("config: home directory is not set")
	case c.HeartbeatInterval <= 0:
		return errors.New("config: heartbeat interval must be positive")
	case c.GuardBand < 0:
		return errors.New("config: guard band must not be negative")
	case c.FreshnessWindow <= 0:
		return errors.New("config: freshness window must be positive")
	case c.PairTimeout <= 0:
		return errors.New("config: pair timeout must be positive")
	case c.RegisterRate <= 0:
		return errors.New("config: register rate must be positive")
	case c.CompanionPort <= 0 || c.CompanionPort > 65535:
		return fmt.Errorf("config: invalid companion port %d", c.CompanionPort)
	}
	return nil
}

// Load constructs a Config, applies defaults, then overlays the environment
// home override, the optional JSON file in the home directory and the
// remaining environment variables. Flags are applied by the command layer
// on top of the result.
func Load() (*Config, error) {
	return LoadHome(os.Getenv(EnvHome))
}

// LoadHome is Load with an explicit home directory. An empty home keeps the
// default.
func LoadHome(home string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()

	if home != "" {
		cfg.Home = home
	}

	if err := parseJSON(cfg, filepath.Join(cfg.Home, ConfigFile)); err != nil {
		return nil, err
	}
	parseEnv(cfg)

	return cfg, nil
}

// jsonConfig is a DTO used exclusively for JSON unmarshalling.
type jsonConfig struct {
	DBPath            string    `json:"db_path"`
	RegisterAddr      string    `json:"register_addr"`
	DiscoveryAddr     string    `json:"discovery_addr"`
	CompanionPort     int       `json:"companion_port"`
	HeartbeatInterval *Duration `json:"heartbeat_interval"`
	GuardBand         *Duration `json:"guard_band"`
	FreshnessWindow   *Duration `json:"freshness_window"`
	PairTimeout       *Duration `json:"pair_timeout"`
	RegisterRate      int       `json:"register_rate"`
	LogLevel          string    `json:"log_level"`
}

// parseJSON overlays cfg with the fields present in path. A missing file is
// not an error.
func parseJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	var jc jsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	setString(&cfg.DBPath, jc.DBPath)
	setString(&cfg.RegisterAddr, jc.RegisterAddr)
	setString(&cfg.DiscoveryAddr, jc.DiscoveryAddr)
	setString(&cfg.LogLevel, jc.LogLevel)
	if jc.CompanionPort != 0 {
		cfg.CompanionPort = jc.CompanionPort
	}
	if jc.RegisterRate != 0 {
		cfg.RegisterRate = jc.RegisterRate
	}
	setDuration(&cfg.HeartbeatInterval, jc.HeartbeatInterval)
	setDuration(&cfg.GuardBand, jc.GuardBand)
	setDuration(&cfg.FreshnessWindow, jc.FreshnessWindow)
	setDuration(&cfg.PairTimeout, jc.PairTimeout)
	return nil
}

func parseEnv(cfg *Config) {
	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.LogLevel = level
	}
}

// PasswordFromEnv reads the password from PROXVAULT_PASSWORD. It returns a
// copy so the caller can clear it.
func PasswordFromEnv() []byte {
	password := os.Getenv(EnvPassword)
	if password == "" {
		return nil
	}
	return []byte(password)
}

// UserFromEnv returns the vault user named by PROXVAULT_USER, falling back
// to the login name.
func UserFromEnv() string {
	if u := os.Getenv(EnvUser); u != "" {
		return u
	}
	return os.Getenv("USER")
}

func defaultHome() string {
	dir, err := os.UserHomeDir()
	if err != nil {
		return ".proxvault"
	}
	return filepath.Join(dir, ".proxvault")
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v *Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
