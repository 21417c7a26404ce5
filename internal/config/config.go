// Package config resolves runtime settings for the fwdcastd relay and the
// fwdcast origin agent from environment variables.
package config

import (
	"os"
	"time"
)

// RelayConfig configures the fwdcastd binary. All fields are sourced from
// environment variables so the relay can run as a container with no config
// file.
type RelayConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// ListenHost overrides the Host header substituted into generated share
	// URLs when PublicBase is unset.
	ListenHost string
	// PublicBase, when set, is used verbatim as the scheme+host prefix for
	// share URLs (e.g. "https://share.fwdcast.dev").
	PublicBase string
	// MaxSessionDuration caps how far in the future a Register frame's
	// ExpiresAt may push a session's lifetime. Zero disables the cap.
	MaxSessionDuration time.Duration
	LogLevel           string
	LogFile            string
}

// LoadRelayConfig reads RelayConfig from the environment, falling back to
// defaults for anything unset.
func LoadRelayConfig() RelayConfig {
	return RelayConfig{
		Addr:               getString("FWDCAST_ADDR", ":8080"),
		ListenHost:         getString("FWDCAST_LISTEN_HOST", ""),
		PublicBase:         getString("FWDCAST_PUBLIC_BASE", ""),
		MaxSessionDuration: getDuration("FWDCAST_MAX_SESSION_DURATION", 24*time.Hour),
		LogLevel:           getString("FWDCAST_LOG_LEVEL", "info"),
		LogFile:            getString("FWDCAST_LOG_FILE", ""),
	}
}

// OriginConfig configures the fwdcast CLI's share command. CLI flags parsed
// by cobra are layered on top of this environment-sourced baseline.
type OriginConfig struct {
	RelayURL string        // Origin registration WebSocket URL, e.g. "wss://fwdcast.dev/ws"
	Dir      string        // directory to share
	Duration time.Duration // session lifetime
	Password string        // optional plaintext share password
	Exclude  []string      // glob patterns excluded from directory listings
	LogLevel string
	LogFile  string
}

// DefaultOriginConfig returns the environment-sourced baseline that CLI flags
// override.
func DefaultOriginConfig() OriginConfig {
	return OriginConfig{
		RelayURL: getString("FWDCAST_RELAY", "wss://fwdcast.dev/ws"),
		Dir:      ".",
		Duration: getDuration("FWDCAST_DURATION", time.Hour),
		Password: getString("FWDCAST_PASSWORD", ""),
		LogLevel: getString("FWDCAST_LOG_LEVEL", "info"),
		LogFile:  getString("FWDCAST_LOG_FILE", ""),
	}
}

func getString(env, def string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func getDuration(env string, def time.Duration) time.Duration {
	v := os.Getenv(env)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}