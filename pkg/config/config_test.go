package config

import (
	"testing"
	"time"
)

func TestConfigSetDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Default host = %q", cfg.Host)
	}
	if cfg.Port != 8080 {
		t.Errorf("Default port = %d", cfg.Port)
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("Default base URL = %q", cfg.BaseURL)
	}
	if cfg.AgentsDir != "./agents" {
		t.Errorf("Default agents dir = %q", cfg.AgentsDir)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "simple" {
		t.Errorf("Default log config = %+v", cfg.Log)
	}
	if cfg.LLM.DefaultTemperature != 0.7 {
		t.Errorf("Default temperature = %g", cfg.LLM.DefaultTemperature)
	}
	if cfg.LLM.DefaultMaxTokens != 4096 {
		t.Errorf("Default max tokens = %d", cfg.LLM.DefaultMaxTokens)
	}
	if cfg.Tasks.MaxAge != time.Hour {
		t.Errorf("Default task max age = %v", cfg.Tasks.MaxAge)
	}
	if cfg.Tasks.GCInterval != 10*time.Minute {
		t.Errorf("Default GC interval = %v", cfg.Tasks.GCInterval)
	}
	if cfg.Tasks.StepLimit != 5 {
		t.Errorf("Default step limit = %d", cfg.Tasks.StepLimit)
	}
	if cfg.Session.Backend != "memory" {
		t.Errorf("Default session backend = %q", cfg.Session.Backend)
	}
	if !cfg.Observability.MetricsOn() {
		t.Error("Metrics should default to enabled")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate: %v", err)
	}
}

func TestConfigBaseURLFollowsPort(t *testing.T) {
	cfg := &Config{Port: 9000}
	cfg.SetDefaults()
	if cfg.BaseURL != "http://localhost:9000" {
		t.Errorf("Base URL = %q, want port 9000", cfg.BaseURL)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "bad_port", mutate: func(c *Config) { c.Port = 70000 }, wantErr: true},
		{name: "bad_log_level", mutate: func(c *Config) { c.Log.Level = "trace" }, wantErr: true},
		{name: "bad_log_format", mutate: func(c *Config) { c.Log.Format = "xml" }, wantErr: true},
		{name: "bad_temperature", mutate: func(c *Config) { c.LLM.DefaultTemperature = 3 }, wantErr: true},
		{name: "bad_step_limit", mutate: func(c *Config) { c.Tasks.StepLimit = -1 }, wantErr: true},
		{name: "bad_session_backend", mutate: func(c *Config) { c.Session.Backend = "redis" }, wantErr: true},
		{
			name:    "database_backend_without_database",
			mutate:  func(c *Config) { c.Session.Backend = "database" },
			wantErr: true,
		},
		{
			name: "database_backend_with_sqlite",
			mutate: func(c *Config) {
				c.Session.Backend = "database"
				c.Session.Database = &DatabaseConfig{Driver: "sqlite", Database: "/tmp/atrium.db"}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.SetDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Validate() succeeded, want error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Validate() failed: %v", err)
			}
		})
	}
}

func TestPublicURLStripsTrailingSlash(t *testing.T) {
	cfg := &Config{BaseURL: "https://agents.example.com/"}
	if got := cfg.PublicURL(); got != "https://agents.example.com" {
		t.Errorf("PublicURL() = %q", got)
	}
}

func TestDatabaseConfigDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "postgres",
			cfg: DatabaseConfig{
				Driver: "postgres", Host: "db", Port: 5432, Database: "atrium",
				Username: "app", Password: "secret", SSLMode: "disable",
			},
			want: "host=db port=5432 dbname=atrium user=app password=secret sslmode=disable",
		},
		{
			name: "mysql",
			cfg: DatabaseConfig{
				Driver: "mysql", Host: "db", Port: 3306, Database: "atrium",
				Username: "app", Password: "secret",
			},
			want: "app:secret@tcp(db:3306)/atrium",
		},
		{
			name: "sqlite",
			cfg:  DatabaseConfig{Driver: "sqlite", Database: "/tmp/atrium.db"},
			want: "/tmp/atrium.db",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.DSN(); got != tt.want {
				t.Errorf("DSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDatabaseConfigDriverName(t *testing.T) {
	cfg := DatabaseConfig{Driver: "sqlite"}
	if got := cfg.DriverName(); got != "sqlite3" {
		t.Errorf("DriverName() = %q, want sqlite3", got)
	}
	cfg.Driver = "postgres"
	if got := cfg.DriverName(); got != "postgres" {
		t.Errorf("DriverName() = %q, want postgres", got)
	}
}
