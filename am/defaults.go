package am

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/teranos/datacat/version"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.dsn", "datacat.db")

	// Pulse defaults
	v.SetDefault("pulse.workers", 2)
	v.SetDefault("pulse.poll_interval_ms", 1000)
	v.SetDefault("pulse.max_retries", 2)
	v.SetDefault("pulse.graceful_timeout_seconds", 30)
	v.SetDefault("pulse.refresh_interval_minutes", 60)

	// Resolver defaults
	v.SetDefault("resolver.timeout_seconds", 30)
	v.SetDefault("resolver.max_redirects", 10)
	v.SetDefault("resolver.block_private_ip", false)
	v.SetDefault("resolver.requests_per_second", 5.0)
	v.SetDefault("resolver.burst", 5)
	v.SetDefault("resolver.user_agent", version.UserAgent())
	v.SetDefault("resolver.sample_lines", 1000)
	v.SetDefault("resolver.sample_bytes", int64(8<<20))

	// Storage defaults (archive disabled until an endpoint is configured)
	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "datacat-sources")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.use_ssl", true)

	// Ingest defaults
	v.SetDefault("ingest.staging_dir", "")
	v.SetDefault("ingest.fetch_timeout_seconds", 600)
	v.SetDefault("ingest.batch_size", 500)

	// Notify defaults
	v.SetDefault("notify.from", "datacat@localhost")
	v.SetDefault("notify.site_url", "http://localhost")
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.dsn", "DATACAT_DATABASE_DSN")
	v.BindEnv("storage.access_key", "DATACAT_STORAGE_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "DATACAT_STORAGE_SECRET_KEY")
}

// DefaultConfig returns a Config populated only from SetDefaults.
func DefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	if err != nil {
		// Defaults always decode; a failure here is a programming error
		panic(err)
	}
	return cfg
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: {Driver: %s}, Pulse: {Workers: %d}, Storage: {Enabled: %t}}",
		c.Database.Driver, c.Pulse.Workers, c.Storage.Enabled)
}
