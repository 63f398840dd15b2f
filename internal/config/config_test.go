package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultRelay(t *testing.T) {
	cfg := DefaultRelay()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Port != 6789 {
		t.Errorf("default port = %d", cfg.Port)
	}
	if cfg.Storage.Backend != "filesystem" {
		t.Errorf("default backend = %q", cfg.Storage.Backend)
	}
	if cfg.Matching.ForceIntoAnySession {
		t.Error("forced placement on by default")
	}
	if !cfg.ServerDB.ValidateEndpoint {
		t.Error("endpoint validation off by default")
	}
}

func TestLoadRelay_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadRelay(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadRelay: %v", err)
	}
	if cfg.Port != DefaultRelay().Port {
		t.Errorf("port = %d", cfg.Port)
	}
}

func TestLoadRelay_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	data := []byte(`
port: 7000
storage:
  backend: postgres
  database:
    host: db.internal
matching:
  ranking: ping
session:
  ttl_hours: 2
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadRelay(path)
	if err != nil {
		t.Fatalf("LoadRelay: %v", err)
	}
	if cfg.Port != 7000 {
		t.Errorf("port = %d", cfg.Port)
	}
	if cfg.Storage.Backend != "postgres" {
		t.Errorf("backend = %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Database.Host != "db.internal" {
		t.Errorf("db host = %q", cfg.Storage.Database.Host)
	}
	// Untouched nested defaults survive a partial override.
	if cfg.Storage.Database.Port != 5432 {
		t.Errorf("db port = %d", cfg.Storage.Database.Port)
	}
	if cfg.Matching.Ranking != "ping" {
		t.Errorf("ranking = %q", cfg.Matching.Ranking)
	}
	if cfg.Session.TTLHours != 2 {
		t.Errorf("ttl hours = %d", cfg.Session.TTLHours)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Relay)
		ok     bool
	}{
		{"defaults", func(*Relay) {}, true},
		{"bad port", func(c *Relay) { c.Port = 0 }, false},
		{"port too high", func(c *Relay) { c.Port = 70000 }, false},
		{"bad backend", func(c *Relay) { c.Storage.Backend = "redis" }, false},
		{"bad ranking", func(c *Relay) { c.Matching.Ranking = "random" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRelay()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{
		Host: "localhost", Port: 5432,
		User: "relay", Password: "pw",
		DBName: "relaydb", SSLMode: "disable",
	}
	want := "postgres://relay:pw@localhost:5432/relaydb?sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
}
