package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
)

func TestLoad_Defaults(t *testing.T) {
	// Isolated viper instance, no user/system config
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatalf("LoadWithViper() failed: %v", err)
	}

	if cfg.Database.Driver != DriverSQLite {
		t.Errorf("expected default driver %q, got %q", DriverSQLite, cfg.Database.Driver)
	}
	if cfg.Database.DSN != "datacat.db" {
		t.Errorf("expected default dsn 'datacat.db', got %q", cfg.Database.DSN)
	}
	if cfg.Pulse.Workers != 2 {
		t.Errorf("expected default workers 2, got %d", cfg.Pulse.Workers)
	}
	if cfg.Resolver.SampleLines != 1000 {
		t.Errorf("expected default sample lines 1000, got %d", cfg.Resolver.SampleLines)
	}
	if cfg.Resolver.SampleBytes != 8<<20 {
		t.Errorf("expected default sample bytes %d, got %d", 8<<20, cfg.Resolver.SampleBytes)
	}
	if cfg.Storage.Enabled {
		t.Error("expected storage archive to be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"postgres driver", func(c *Config) { c.Database.Driver = DriverPostgres }, false},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, true},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }, true},
		{"zero workers is valid (disabled)", func(c *Config) { c.Pulse.Workers = 0 }, false},
		{"negative workers", func(c *Config) { c.Pulse.Workers = -1 }, true},
		{"zero poll interval", func(c *Config) { c.Pulse.PollIntervalMS = 0 }, true},
		{"refresh disabled", func(c *Config) { c.Pulse.RefreshIntervalMinutes = 0 }, false},
		{"negative refresh interval", func(c *Config) { c.Pulse.RefreshIntervalMinutes = -5 }, true},
		{"zero rate is valid (unlimited)", func(c *Config) { c.Resolver.RequestsPerSecond = 0 }, false},
		{"negative rate", func(c *Config) { c.Resolver.RequestsPerSecond = -1 }, true},
		{"zero sample lines", func(c *Config) { c.Resolver.SampleLines = 0 }, true},
		{"storage enabled without endpoint", func(c *Config) { c.Storage.Enabled = true }, true},
		{"storage enabled with endpoint", func(c *Config) {
			c.Storage.Enabled = true
			c.Storage.Endpoint = "localhost:9000"
		}, false},
		{"zero batch size", func(c *Config) { c.Ingest.BatchSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	content := `
[database]
driver = "postgres"
dsn = "postgres://localhost/datacat?sslmode=disable"

[pulse]
workers = 4
`
	if err := os.WriteFile(path, []byte(content), DefaultFilePermissions); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Errorf("expected postgres driver, got %q", cfg.Database.Driver)
	}
	if cfg.Pulse.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Pulse.Workers)
	}
	// Untouched sections keep defaults
	if cfg.Pulse.PollIntervalMS != 1000 {
		t.Errorf("expected default poll interval, got %d", cfg.Pulse.PollIntervalMS)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestMergeConfigFiles_Precedence(t *testing.T) {
	dir := t.TempDir()
	system := filepath.Join(dir, "system.toml")
	user := filepath.Join(dir, "user.toml")
	os.WriteFile(system, []byte("[pulse]\nworkers = 1\nmax_retries = 7\n"), DefaultFilePermissions)
	os.WriteFile(user, []byte("[pulse]\nworkers = 3\n"), DefaultFilePermissions)

	v := viper.New()
	SetDefaults(v)
	mergeConfigFiles(v, []string{system, filepath.Join(dir, "missing.toml"), user})

	cfg, err := LoadWithViper(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Pulse.Workers != 3 {
		t.Errorf("later file should win, got workers=%d", cfg.Pulse.Workers)
	}
	if cfg.Pulse.MaxRetries != 7 {
		t.Errorf("earlier file keys should survive a deep merge, got max_retries=%d", cfg.Pulse.MaxRetries)
	}
}

func TestWriteDefault_RoundTripAndBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "am.toml")

	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() failed: %v", err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() failed: %v", err)
	}
	if cfg.Database.DSN != "datacat.db" {
		t.Errorf("expected round-tripped dsn, got %q", cfg.Database.DSN)
	}

	// Second write rotates the first into .back1
	if err := WriteDefault(path); err != nil {
		t.Fatalf("second WriteDefault() failed: %v", err)
	}
	if _, err := os.Stat(path + ".back1"); err != nil {
		t.Errorf("expected .back1 after overwrite: %v", err)
	}
}

func TestFindProjectConfig(t *testing.T) {
	tmpDir := t.TempDir()

	t.Run("finds am.toml upward", func(t *testing.T) {
		subDir := filepath.Join(tmpDir, "proj", "a", "b")
		os.MkdirAll(subDir, DefaultDirPermissions)
		os.WriteFile(filepath.Join(tmpDir, "proj", "am.toml"), []byte(""), DefaultFilePermissions)

		oldWd, _ := os.Getwd()
		defer os.Chdir(oldWd)
		os.Chdir(subDir)

		result := findProjectConfig()
		if filepath.Base(result) != "am.toml" {
			t.Errorf("expected am.toml, got %q", result)
		}
	})
}

func TestIsBackupFile(t *testing.T) {
	if !isBackupFile("/x/am.toml.back2") {
		t.Error("expected .back2 to be a backup file")
	}
	if isBackupFile("/x/am.toml") {
		t.Error("am.toml is not a backup file")
	}
}
