// Package config loads runtime configuration for proxvault.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. PROXVAULT_HOME, which selects the home directory.
//  3. Optional <home>/config.json.
//  4. PROXVAULT_LOG_LEVEL.
//  5. Command-line flags, applied by the cmd package.
//
// # JSON schema
//
// Intervals can be strings like "5s" or integer nanoseconds:
//
//	{
//	  "register_addr": ":1918",
//	  "discovery_addr": ":1919",
//	  "companion_port": 1920,
//	  "heartbeat_interval": "5s",
//	  "guard_band": "500ms",
//	  "freshness_window": "60s",
//	  "pair_timeout": "2m",
//	  "register_rate": 6,
//	  "log_level": "info"
//	}
package config
