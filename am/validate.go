package am

import "github.com/teranos/datacat/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return errors.Newf("database.driver must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn cannot be empty")
	}

	// Pulse workers: 0 = no background workers, negative = invalid
	if c.Pulse.Workers < 0 {
		return errors.Newf("pulse.workers must be >= 0, got %d", c.Pulse.Workers)
	}
	if c.Pulse.PollIntervalMS <= 0 {
		return errors.Newf("pulse.poll_interval_ms must be > 0, got %d", c.Pulse.PollIntervalMS)
	}
	if c.Pulse.MaxRetries < 0 {
		return errors.Newf("pulse.max_retries must be >= 0, got %d", c.Pulse.MaxRetries)
	}
	if c.Pulse.RefreshIntervalMinutes < 0 {
		return errors.Newf("pulse.refresh_interval_minutes must be >= 0, got %d", c.Pulse.RefreshIntervalMinutes)
	}

	if c.Resolver.TimeoutSeconds <= 0 {
		return errors.Newf("resolver.timeout_seconds must be > 0, got %d", c.Resolver.TimeoutSeconds)
	}
	// Rate: 0 = unlimited, negative = invalid
	if c.Resolver.RequestsPerSecond < 0 {
		return errors.Newf("resolver.requests_per_second must be >= 0, got %f", c.Resolver.RequestsPerSecond)
	}
	if c.Resolver.SampleLines <= 0 {
		return errors.Newf("resolver.sample_lines must be > 0, got %d", c.Resolver.SampleLines)
	}
	if c.Resolver.SampleBytes <= 0 {
		return errors.Newf("resolver.sample_bytes must be > 0, got %d", c.Resolver.SampleBytes)
	}

	// Validate storage only when enabled
	if c.Storage.Enabled {
		if c.Storage.Endpoint == "" {
			return errors.New("storage.endpoint cannot be empty when enabled")
		}
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket cannot be empty when enabled")
		}
	}

	if c.Ingest.BatchSize <= 0 {
		return errors.Newf("ingest.batch_size must be > 0, got %d", c.Ingest.BatchSize)
	}

	return nil
}
