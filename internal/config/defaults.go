package config

import "github.com/spf13/viper"

// setDefaults registers the built-in defaults. A config file only needs
// to override what differs from a local single-node setup.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.listen_addr", "127.0.0.1:5005")
	v.SetDefault("server.admin_principal", "")
	v.SetDefault("server.request_timeout_seconds", 30)

	// Storage defaults
	v.SetDefault("storage.database_path", "/var/lib/swapd/db")
	v.SetDefault("storage.history_path", "/var/lib/swapd/history.db")

	// Settlement defaults
	v.SetDefault("settlement.engine_account", "swap-engine")
	v.SetDefault("settlement.anchor_max_age_seconds", 60)
	v.SetDefault("settlement.proof_max_skew_seconds", 300)

	// Signer defaults
	v.SetDefault("signer.key_file", "/etc/swapd/engine.key")

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
}
