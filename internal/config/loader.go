package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from sources in priority order:
// 1. Built-in defaults
// 2. Configuration file (swapd.toml)
// 3. Environment variables (SWAPD_ prefix)
func LoadConfig(paths ConfigPaths) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := loadMainConfig(v, paths.Main); err != nil {
		return nil, fmt.Errorf("failed to load main config: %w", err)
	}

	v.SetEnvPrefix("SWAPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.configPath = paths.Main

	if err := ValidateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// loadMainConfig reads the main configuration file into viper. A missing
// file is not an error: defaults plus environment variables are a valid
// configuration on their own.
func loadMainConfig(v *viper.Viper, configPath string) error {
	if configPath == "" {
		return nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	return nil
}

// LoadConfigFromDir loads configuration from a directory holding swapd.toml.
func LoadConfigFromDir(configDir string) (*Config, error) {
	return LoadConfig(ConfigPathsFromDir(configDir))
}

// LoadDefaultConfig loads configuration from the default locations.
func LoadDefaultConfig() (*Config, error) {
	return LoadConfig(DefaultConfigPaths())
}

// ReloadConfig reloads configuration from the same path.
func ReloadConfig(existing *Config) (*Config, error) {
	return LoadConfig(ConfigPaths{Main: existing.GetConfigPath()})
}

// SaveExampleConfig writes an example configuration file.
func SaveExampleConfig(configPath string) error {
	v := viper.New()
	for key, value := range generateExampleConfig() {
		v.Set(key, value)
	}

	v.SetConfigFile(configPath)
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write example config: %w", err)
	}

	return nil
}

// generateExampleConfig generates example configuration values.
func generateExampleConfig() map[string]interface{} {
	return map[string]interface{}{
		"server.listen_addr":             "127.0.0.1:5005",
		"server.admin_principal":         "admin-principal",
		"server.request_timeout_seconds": 30,

		"storage.database_path": "/var/lib/swapd/db",
		"storage.history_path":  "/var/lib/swapd/history.db",

		"settlement.engine_account":         "swap-engine",
		"settlement.anchor_max_age_seconds": 60,
		"settlement.proof_max_skew_seconds": 300,

		"signer.key_file": "/etc/swapd/engine.key",

		"log.level":  "info",
		"log.pretty": false,
	}
}
