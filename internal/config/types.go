// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	SAML        SAMLConfig        `mapstructure:"saml"`
	Security    SecurityConfig    `mapstructure:"security"`
	Thresholds  ThresholdConfig   `mapstructure:"thresholds"`
	Decay       DecayConfig       `mapstructure:"decay"`
	Compression CompressionConfig `mapstructure:"compression"`
	Context     ContextConfig     `mapstructure:"context"`
	Embeddings  EmbeddingConfig   `mapstructure:"embeddings"`
	Export      ExportConfig      `mapstructure:"export"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	TLS  struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"cert_file"`
		KeyFile  string `mapstructure:"key_file"`
	} `mapstructure:"tls"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Type        string `mapstructure:"type"` // "sqlite" or "postgres"
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// AuthConfig holds authentication type configuration
type AuthConfig struct {
	Type string `mapstructure:"type"` // "saml" or "local"
}

// SAMLConfig holds SAML authentication configuration for staff SSO
type SAMLConfig struct {
	EntityID    string `mapstructure:"entity_id"`
	ACSURL      string `mapstructure:"acs_url"`
	MetadataURL string `mapstructure:"metadata_url"`
	IDPMetadata string `mapstructure:"idp_metadata"`
	Certificate string `mapstructure:"certificate"`
	PrivateKey  string `mapstructure:"private_key"`
	Provider    string `mapstructure:"provider"` // "duo" or "okta"
}

// SecurityConfig holds security-related settings
type SecurityConfig struct {
	KDFSaltEnv string `mapstructure:"kdf_salt_env"` // env var carrying the key-derivation salt
	KDFCostN   int    `mapstructure:"kdf_cost_n"`   // scrypt N (power of two)
	KDFCostR   int    `mapstructure:"kdf_cost_r"`   // scrypt r
	KDFCostP   int    `mapstructure:"kdf_cost_p"`   // scrypt p
	TokenTTL   int    `mapstructure:"token_ttl_hours"`
}

// ThresholdConfig holds the three tunable scoring thresholds. These are
// configuration, not constants buried in algorithm code: all downstream
// policy (pruning, clustering, SNR growth) reads them from here.
type ThresholdConfig struct {
	NoiseFloor       float64 `mapstructure:"noise_floor"`       // below: prune-eligible
	DensityThreshold float64 `mapstructure:"density_threshold"` // above: clusterable
	PhiRatio         float64 `mapstructure:"phi_ratio"`         // scales SNR improvement
}

// DecayConfig holds time-decay parameters for gravity scoring
type DecayConfig struct {
	HalfLifeDays float64 `mapstructure:"half_life_days"` // exponential decay half-life
	AccessBoost  float64 `mapstructure:"access_boost"`   // weight of log access-frequency boost
	Floor        float64 `mapstructure:"floor"`          // decay never drops below this
}

// CompressionConfig holds compression engine settings
type CompressionConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"` // scheduler sweep interval
	MaxClusterSize  int `mapstructure:"max_cluster_size"` // upper bound on nodes merged at once
}

// ContextConfig holds context retrieval settings
type ContextConfig struct {
	DefaultTokenBudget int     `mapstructure:"default_token_budget"`
	LedgerCutoff       float64 `mapstructure:"ledger_cutoff"` // minimum importance for ledger triggering
}

// EmbeddingConfig holds configuration for the external embedding provider
type EmbeddingConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Provider   string `mapstructure:"provider"` // "openai", "azure", "local"
	BaseURL    string `mapstructure:"base_url"`
	Model      string `mapstructure:"model"`
	APIKeyEnv  string `mapstructure:"api_key_env"`
	Dimensions int    `mapstructure:"dimensions"`
	BatchSize  int    `mapstructure:"batch_size"`
}

// ExportConfig holds subject-rights export settings
type ExportConfig struct {
	ArchiveDir string `mapstructure:"archive_dir"` // base directory for export git repositories
}

// EmbeddingProviders defines valid embedding providers
const (
	EmbeddingProviderOpenAI = "openai"
	EmbeddingProviderAzure  = "azure"
	EmbeddingProviderLocal  = "local"
)

// ValidEmbeddingProviders returns all valid embedding provider values
func ValidEmbeddingProviders() []string {
	return []string{
		EmbeddingProviderOpenAI,
		EmbeddingProviderAzure,
		EmbeddingProviderLocal,
	}
}

// isValidType is a generic helper to check if a type is in a list of valid types
func isValidType(aType string, validTypes []string) bool {
	for _, valid := range validTypes {
		if aType == valid {
			return true
		}
	}
	return false
}

// IsValidEmbeddingProvider checks if a provider is valid
func IsValidEmbeddingProvider(provider string) bool {
	return isValidType(provider, ValidEmbeddingProviders())
}
