package am

// Config represents the datacat configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database" toml:"database"`
	Pulse    PulseConfig    `mapstructure:"pulse" toml:"pulse"`
	Resolver ResolverConfig `mapstructure:"resolver" toml:"resolver"`
	Storage  StorageConfig  `mapstructure:"storage" toml:"storage"`
	Ingest   IngestConfig   `mapstructure:"ingest" toml:"ingest"`
	Notify   NotifyConfig   `mapstructure:"notify" toml:"notify"`
}

// DatabaseConfig configures the catalog database
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" toml:"driver"` // sqlite3 or postgres
	DSN    string `mapstructure:"dsn" toml:"dsn"`       // file path for sqlite3, connection string for postgres
}

// Supported database drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// PulseConfig configures the background worker pool
type PulseConfig struct {
	Workers                int `mapstructure:"workers" toml:"workers"`                                   // Concurrent job workers (default: 2)
	PollIntervalMS         int `mapstructure:"poll_interval_ms" toml:"poll_interval_ms"`                 // Queue poll interval (default: 1000)
	MaxRetries             int `mapstructure:"max_retries" toml:"max_retries"`                           // Retry budget for retryable failures (default: 2)
	GracefulTimeoutSeconds int `mapstructure:"graceful_timeout_seconds" toml:"graceful_timeout_seconds"` // Shutdown wait for in-flight jobs (default: 30)
	RefreshIntervalMinutes int `mapstructure:"refresh_interval_minutes" toml:"refresh_interval_minutes"` // Scheduled update sweep, 0 = disabled (default: 60)
}

// ResolverConfig configures outbound HTTP for source resolution and downloads
type ResolverConfig struct {
	TimeoutSeconds    int     `mapstructure:"timeout_seconds" toml:"timeout_seconds"`         // Per-request timeout (default: 30)
	MaxRedirects      int     `mapstructure:"max_redirects" toml:"max_redirects"`             // Redirect cap (default: 10)
	BlockPrivateIP    bool    `mapstructure:"block_private_ip" toml:"block_private_ip"`       // Refuse loopback/private targets (default: false)
	RequestsPerSecond float64 `mapstructure:"requests_per_second" toml:"requests_per_second"` // Token bucket rate, 0 = unlimited (default: 5)
	Burst             int     `mapstructure:"burst" toml:"burst"`                             // Token bucket burst (default: 5)
	UserAgent         string  `mapstructure:"user_agent" toml:"user_agent"`
	SampleLines       int     `mapstructure:"sample_lines" toml:"sample_lines"` // Lines sampled for type inference (default: 1000)
	SampleBytes       int64   `mapstructure:"sample_bytes" toml:"sample_bytes"` // Byte budget for sampling (default: 8 MiB)
}

// StorageConfig configures the optional S3-compatible archive for fetched sources
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled" toml:"enabled"`
	Endpoint  string `mapstructure:"endpoint" toml:"endpoint"` // host:port, no scheme
	AccessKey string `mapstructure:"access_key" toml:"access_key"`
	SecretKey string `mapstructure:"secret_key" toml:"secret_key"`
	Bucket    string `mapstructure:"bucket" toml:"bucket"`
	Region    string `mapstructure:"region" toml:"region"`
	UseSSL    bool   `mapstructure:"use_ssl" toml:"use_ssl"`
}

// IngestConfig configures the ingestion handlers
type IngestConfig struct {
	StagingDir          string `mapstructure:"staging_dir" toml:"staging_dir"`                     // Scratch space for downloads (default: OS temp dir)
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds" toml:"fetch_timeout_seconds"` // Whole-download timeout (default: 600)
	BatchSize           int    `mapstructure:"batch_size" toml:"batch_size"`                       // Rows per insert statement batch (default: 500)
}

// NotifyConfig configures notification addressing
type NotifyConfig struct {
	From       string `mapstructure:"from" toml:"from"`
	AdminEmail string `mapstructure:"admin_email" toml:"admin_email"`
	SiteURL    string `mapstructure:"site_url" toml:"site_url"` // Base URL mentioned in notification bodies
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
