package config

import (
	"fmt"
	"net"
)

var logLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidateConfig checks the complete configuration for consistency.
func ValidateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config validation failed: %w", err)
	}
	if err := validateStorageConfig(&config.Storage); err != nil {
		return fmt.Errorf("storage config validation failed: %w", err)
	}
	if err := validateSettlementConfig(&config.Settlement); err != nil {
		return fmt.Errorf("settlement config validation failed: %w", err)
	}
	if !logLevels[config.Log.Level] {
		return fmt.Errorf("unknown log level %q", config.Log.Level)
	}
	return nil
}

func validateServerConfig(server *ServerConfig) error {
	if server.ListenAddr == "" {
		return fmt.Errorf("listen_addr must be set")
	}
	if _, _, err := net.SplitHostPort(server.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr %q is not host:port: %w", server.ListenAddr, err)
	}
	if server.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("request_timeout_seconds must be positive, got %d", server.RequestTimeoutSeconds)
	}
	return nil
}

func validateStorageConfig(storage *StorageConfig) error {
	if storage.DatabasePath == "" {
		return fmt.Errorf("database_path must be set")
	}
	return nil
}

func validateSettlementConfig(settlement *SettlementConfig) error {
	if settlement.EngineAccount == "" {
		return fmt.Errorf("engine_account must be set")
	}
	if settlement.AnchorMaxAgeSeconds <= 0 {
		return fmt.Errorf("anchor_max_age_seconds must be positive, got %d", settlement.AnchorMaxAgeSeconds)
	}
	if settlement.ProofMaxSkewSeconds <= 0 {
		return fmt.Errorf("proof_max_skew_seconds must be positive, got %d", settlement.ProofMaxSkewSeconds)
	}
	return nil
}
