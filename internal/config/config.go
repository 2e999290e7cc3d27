// Package config loads and validates the swapd configuration from
// swapd.toml, environment variables and built-in defaults.
package config

import (
	"path/filepath"
	"time"
)

// Config is the complete swapd configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Settlement SettlementConfig `mapstructure:"settlement"`
	Signer     SignerConfig     `mapstructure:"signer"`
	Log        LogConfig        `mapstructure:"log"`

	configPath string
}

// ServerConfig describes the HTTP surface: one listener serving JSON-RPC
// on "/" and the WebSocket event stream on "/ws".
type ServerConfig struct {
	ListenAddr     string `mapstructure:"listen_addr"`
	AdminPrincipal string `mapstructure:"admin_principal"`

	// RequestTimeoutSeconds bounds a single RPC call end to end.
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// StorageConfig names the on-disk stores.
type StorageConfig struct {
	// DatabasePath is the directory holding the key-value store. It is
	// the source of truth for all state.
	DatabasePath string `mapstructure:"database_path"`

	// HistoryPath is the transfer history index. Empty disables the
	// index; settlement does not depend on it.
	HistoryPath string `mapstructure:"history_path"`
}

// SettlementConfig tunes the settlement coordinator.
type SettlementConfig struct {
	// EngineAccount is the internal principal holding pool custody and
	// remote-token backing balances.
	EngineAccount string `mapstructure:"engine_account"`

	// AnchorMaxAgeSeconds bounds how old the cached remote anchor may be
	// when an outbound instruction is built.
	AnchorMaxAgeSeconds int `mapstructure:"anchor_max_age_seconds"`

	// ProofMaxSkewSeconds bounds the timestamp drift accepted on signed
	// authorization proofs.
	ProofMaxSkewSeconds int `mapstructure:"proof_max_skew_seconds"`
}

// SignerConfig locates the engine signing key.
type SignerConfig struct {
	// KeyFile holds a hex-encoded 32-byte ed25519 seed.
	KeyFile string `mapstructure:"key_file"`
}

// LogConfig controls log output.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Pretty switches from JSON lines to human-readable console output.
	Pretty bool `mapstructure:"pretty"`
}

// ConfigPaths names the files LoadConfig reads.
type ConfigPaths struct {
	Main string
}

// ConfigPathsFromDir builds paths for a directory holding swapd.toml.
func ConfigPathsFromDir(dir string) ConfigPaths {
	return ConfigPaths{Main: filepath.Join(dir, "swapd.toml")}
}

// DefaultConfigPaths returns the conventional install location.
func DefaultConfigPaths() ConfigPaths {
	return ConfigPathsFromDir("/etc/swapd")
}

// GetConfigPath returns the file this configuration was loaded from.
func (c *Config) GetConfigPath() string {
	return c.configPath
}

// RequestTimeout returns the server request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

// AnchorMaxAge returns the anchor staleness bound as a duration.
func (c *Config) AnchorMaxAge() time.Duration {
	return time.Duration(c.Settlement.AnchorMaxAgeSeconds) * time.Second
}

// ProofMaxSkew returns the proof timestamp bound as a duration.
func (c *Config) ProofMaxSkew() time.Duration {
	return time.Duration(c.Settlement.ProofMaxSkewSeconds) * time.Second
}
