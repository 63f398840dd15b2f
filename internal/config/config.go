package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Relay holds all configuration for the relay server.
type Relay struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Required API key for game servers connecting to /serverdb.
	// Empty disables the check.
	ServerDBAPIKey string `yaml:"server_db_api_key"`

	// Connection flood protection
	MaxConnectionsPerIP int `yaml:"max_connections_per_ip"`
	ConnectionRatePerIP int `yaml:"connection_rate_per_ip"` // upgrades/second

	AutoCreateAccounts bool   `yaml:"auto_create_accounts"`
	SymbolsPath        string `yaml:"symbols_path"`

	Storage  StorageConfig  `yaml:"storage"`
	Session  SessionConfig  `yaml:"session"`
	Matching MatchingConfig `yaml:"matching"`
	ServerDB ServerDBConfig `yaml:"serverdb"`
	Admin    AdminConfig    `yaml:"admin"`
}

// StorageConfig selects and parameterizes the persistence backend.
type StorageConfig struct {
	Backend      string         `yaml:"backend"` // filesystem | postgres
	Root         string         `yaml:"root"`
	DisableCache bool           `yaml:"disable_cache"`
	Database     DatabaseConfig `yaml:"database"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// SessionConfig controls the login session cache.
type SessionConfig struct {
	TTLHours                   int `yaml:"ttl_hours"`
	DisconnectedTimeoutMinutes int `yaml:"disconnected_timeout_minutes"`
}

// MatchingConfig controls the matching engine.
type MatchingConfig struct {
	// Ranking is "population" (fill partial sessions first) or "ping".
	Ranking string `yaml:"ranking"`
	// ForceIntoAnySession relaxes constraints when nothing matches.
	// Off unless explicitly enabled.
	ForceIntoAnySession bool `yaml:"force_into_any_session"`
}

// ServerDBConfig controls game-server registration.
type ServerDBConfig struct {
	ValidateEndpoint  bool `yaml:"validate_endpoint"`
	ValidateTimeoutMS int  `yaml:"validate_timeout_ms"`
}

// AdminConfig controls the read-only admin HTTP API.
type AdminConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
	APIKey      string `yaml:"api_key"`
}

// DefaultRelay returns Relay config with sensible defaults.
func DefaultRelay() Relay {
	return Relay{
		BindAddress:         "0.0.0.0",
		Port:                6789,
		MaxConnectionsPerIP: 50,
		ConnectionRatePerIP: 10,
		AutoCreateAccounts:  true,
		SymbolsPath:         "./data/symbols.json",
		Storage: StorageConfig{
			Backend: "filesystem",
			Root:    "./data",
			Database: DatabaseConfig{
				Host:     "127.0.0.1",
				Port:     5432,
				User:     "relay",
				Password: "relay",
				DBName:   "relay",
				SSLMode:  "disable",
			},
		},
		Session: SessionConfig{
			TTLHours:                   12,
			DisconnectedTimeoutMinutes: 5,
		},
		Matching: MatchingConfig{
			Ranking:             "population",
			ForceIntoAnySession: false,
		},
		ServerDB: ServerDBConfig{
			ValidateEndpoint:  true,
			ValidateTimeoutMS: 3000,
		},
		Admin: AdminConfig{
			Enabled:     true,
			BindAddress: "127.0.0.1",
			Port:        6790,
		},
	}
}

// LoadRelay loads relay config from a YAML file.
// If the file doesn't exist, returns defaults.
func LoadRelay(path string) (Relay, error) {
	cfg := DefaultRelay()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects impossible configurations early.
func (c Relay) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	switch c.Storage.Backend {
	case "filesystem", "postgres":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Matching.Ranking {
	case "population", "ping":
	default:
		return fmt.Errorf("unknown matching ranking %q", c.Matching.Ranking)
	}
	return nil
}
