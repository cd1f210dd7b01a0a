// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const (
	// DefaultConfigDir is the default configuration directory
	DefaultConfigDir = ".munin/configs"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.json"
)

// Load reads configuration from ~/.munin/configs/config.json
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, DefaultConfigDir)

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(configPath)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, use defaults
			return loadFromDefaults(v)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadFromPath loads configuration from a specific path
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.tls.enabled", false)

	// Auth defaults
	v.SetDefault("auth.type", "local")

	// Database defaults
	v.SetDefault("database.type", "sqlite")
	homeDir, _ := os.UserHomeDir()
	v.SetDefault("database.sqlite_path", filepath.Join(homeDir, ".munin/db/munin.db"))

	// Threshold defaults: golden-ratio family for separation
	v.SetDefault("thresholds.noise_floor", 0.382)
	v.SetDefault("thresholds.density_threshold", 0.618)
	v.SetDefault("thresholds.phi_ratio", 1.618)

	// Decay defaults
	v.SetDefault("decay.half_life_days", 90.0)
	v.SetDefault("decay.access_boost", 0.15)
	v.SetDefault("decay.floor", 0.05)

	// Compression defaults
	v.SetDefault("compression.interval_minutes", 360)
	v.SetDefault("compression.max_cluster_size", 8)

	// Context retrieval defaults
	v.SetDefault("context.default_token_budget", 2000)
	v.SetDefault("context.ledger_cutoff", 0.5)

	// Security defaults
	v.SetDefault("security.token_ttl_hours", 24)
	v.SetDefault("security.kdf_salt_env", "MUNIN_KDF_SALT")
	v.SetDefault("security.kdf_cost_n", 32768)
	v.SetDefault("security.kdf_cost_r", 8)
	v.SetDefault("security.kdf_cost_p", 1)

	// Embedding defaults
	v.SetDefault("embeddings.enabled", false)
	v.SetDefault("embeddings.provider", "openai")
	v.SetDefault("embeddings.dimensions", 1536)
	v.SetDefault("embeddings.batch_size", 32)
	v.SetDefault("embeddings.api_key_env", "OPENAI_API_KEY")

	// Export defaults
	v.SetDefault("export.archive_dir", filepath.Join(homeDir, ".munin/exports"))
}

// loadFromDefaults creates a config from default values
func loadFromDefaults(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	return &cfg, nil
}

// validate checks if the configuration is valid
func validate(cfg *Config) error {
	// Validate auth type
	if cfg.Auth.Type != "" && cfg.Auth.Type != "saml" && cfg.Auth.Type != "local" {
		return fmt.Errorf("auth.type must be 'saml' or 'local', got '%s'", cfg.Auth.Type)
	}
	if cfg.Auth.Type == "" {
		cfg.Auth.Type = "local"
	}

	// Validate database type
	if cfg.Database.Type != "sqlite" && cfg.Database.Type != "postgres" {
		return fmt.Errorf("database.type must be 'sqlite' or 'postgres', got '%s'", cfg.Database.Type)
	}
	if cfg.Database.Type == "sqlite" && cfg.Database.SQLitePath == "" {
		return fmt.Errorf("database.sqlite_path is required when type is 'sqlite'")
	}
	if cfg.Database.Type == "postgres" && cfg.Database.PostgresDSN == "" {
		return fmt.Errorf("database.postgres_dsn is required when type is 'postgres'")
	}

	// Validate SAML config only if auth type is saml
	if cfg.Auth.Type == "saml" {
		if cfg.SAML.EntityID == "" {
			return fmt.Errorf("saml.entity_id is required when auth.type='saml'")
		}
		if cfg.SAML.ACSURL == "" {
			return fmt.Errorf("saml.acs_url is required when auth.type='saml'")
		}
		if cfg.SAML.IDPMetadata == "" {
			return fmt.Errorf("saml.idp_metadata is required when auth.type='saml'")
		}
	}

	// Validate server port
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	// Validate thresholds: prune / cluster / growth must stay ordered
	if cfg.Thresholds.NoiseFloor <= 0 || cfg.Thresholds.NoiseFloor >= 1 {
		return fmt.Errorf("thresholds.noise_floor must be in (0, 1), got %g", cfg.Thresholds.NoiseFloor)
	}
	if cfg.Thresholds.DensityThreshold <= cfg.Thresholds.NoiseFloor || cfg.Thresholds.DensityThreshold >= 1 {
		return fmt.Errorf("thresholds.density_threshold must be in (noise_floor, 1), got %g", cfg.Thresholds.DensityThreshold)
	}
	if cfg.Thresholds.PhiRatio <= 1 {
		return fmt.Errorf("thresholds.phi_ratio must be greater than 1, got %g", cfg.Thresholds.PhiRatio)
	}

	// Validate decay parameters
	if cfg.Decay.HalfLifeDays <= 0 {
		return fmt.Errorf("decay.half_life_days must be positive, got %g", cfg.Decay.HalfLifeDays)
	}
	if cfg.Decay.Floor < 0 || cfg.Decay.Floor >= 1 {
		return fmt.Errorf("decay.floor must be in [0, 1), got %g", cfg.Decay.Floor)
	}

	// Validate compression settings
	if cfg.Compression.IntervalMinutes < 1 {
		return fmt.Errorf("compression.interval_minutes must be at least 1, got %d", cfg.Compression.IntervalMinutes)
	}
	if cfg.Compression.MaxClusterSize < 2 {
		return fmt.Errorf("compression.max_cluster_size must be at least 2, got %d", cfg.Compression.MaxClusterSize)
	}

	// Validate context settings
	if cfg.Context.DefaultTokenBudget < 1 {
		return fmt.Errorf("context.default_token_budget must be positive, got %d", cfg.Context.DefaultTokenBudget)
	}

	// Validate security settings
	if cfg.Security.TokenTTL < 1 {
		return fmt.Errorf("security.token_ttl_hours must be at least 1, got %d", cfg.Security.TokenTTL)
	}

	return nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist
func EnsureConfigDir() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get user home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, DefaultConfigDir)
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Type:       "sqlite",
			SQLitePath: filepath.Join(homeDir, ".munin/db/munin.db"),
		},
		Auth: AuthConfig{
			Type: "local",
		},
		Thresholds: ThresholdConfig{
			NoiseFloor:       0.382,
			DensityThreshold: 0.618,
			PhiRatio:         1.618,
		},
		Decay: DecayConfig{
			HalfLifeDays: 90.0,
			AccessBoost:  0.15,
			Floor:        0.05,
		},
		Compression: CompressionConfig{
			IntervalMinutes: 360,
			MaxClusterSize:  8,
		},
		Context: ContextConfig{
			DefaultTokenBudget: 2000,
			LedgerCutoff:       0.5,
		},
		Security: SecurityConfig{
			TokenTTL:   24,
			KDFSaltEnv: "MUNIN_KDF_SALT",
			KDFCostN:   32768,
			KDFCostR:   8,
			KDFCostP:   1,
		},
		Embeddings: EmbeddingConfig{
			Provider:   "openai",
			Dimensions: 1536,
			BatchSize:  32,
			APIKeyEnv:  "OPENAI_API_KEY",
		},
		Export: ExportConfig{
			ArchiveDir: filepath.Join(homeDir, ".munin/exports"),
		},
	}
}
