// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "local", cfg.Auth.Type)
	assert.Equal(t, "sqlite", cfg.Database.Type)

	assert.Equal(t, 0.382, cfg.Thresholds.NoiseFloor)
	assert.Equal(t, 0.618, cfg.Thresholds.DensityThreshold)
	assert.Equal(t, 1.618, cfg.Thresholds.PhiRatio)

	assert.Equal(t, 90.0, cfg.Decay.HalfLifeDays)
	assert.Equal(t, 0.15, cfg.Decay.AccessBoost)
	assert.Equal(t, 0.05, cfg.Decay.Floor)

	assert.Equal(t, 360, cfg.Compression.IntervalMinutes)
	assert.Equal(t, 8, cfg.Compression.MaxClusterSize)
	assert.Equal(t, 2000, cfg.Context.DefaultTokenBudget)
	assert.Equal(t, "MUNIN_KDF_SALT", cfg.Security.KDFSaltEnv)
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfigFile(t, `{
		"server": {"port": 9090},
		"database": {"type": "sqlite", "sqlite_path": "/tmp/munin-test.db"},
		"thresholds": {"noise_floor": 0.3, "density_threshold": 0.7},
		"compression": {"interval_minutes": 60}
	}`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/munin-test.db", cfg.Database.SQLitePath)
	assert.Equal(t, 0.3, cfg.Thresholds.NoiseFloor)
	assert.Equal(t, 0.7, cfg.Thresholds.DensityThreshold)
	assert.Equal(t, 60, cfg.Compression.IntervalMinutes)

	// Unspecified values fall back to defaults.
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "local", cfg.Auth.Type)
	assert.Equal(t, 1.618, cfg.Thresholds.PhiRatio)
	assert.Equal(t, 90.0, cfg.Decay.HalfLifeDays)
}

func TestLoadFromPath_MissingFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadFromPath_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "bad auth type",
			body:    `{"auth": {"type": "oauth"}}`,
			wantErr: "auth.type",
		},
		{
			name:    "bad database type",
			body:    `{"database": {"type": "mysql"}}`,
			wantErr: "database.type",
		},
		{
			name:    "density below noise floor",
			body:    `{"thresholds": {"noise_floor": 0.7, "density_threshold": 0.5}}`,
			wantErr: "density_threshold",
		},
		{
			name:    "phi ratio not above one",
			body:    `{"thresholds": {"phi_ratio": 0.9}}`,
			wantErr: "phi_ratio",
		},
		{
			name:    "nonpositive half life",
			body:    `{"decay": {"half_life_days": -1}}`,
			wantErr: "half_life_days",
		},
		{
			name:    "cluster size too small",
			body:    `{"compression": {"max_cluster_size": 1}}`,
			wantErr: "max_cluster_size",
		},
		{
			name:    "saml without idp metadata",
			body:    `{"auth": {"type": "saml"}, "saml": {"entity_id": "munin", "acs_url": "https://munin.local/acs"}}`,
			wantErr: "saml.idp_metadata",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfigFile(t, tc.body)
			_, err := LoadFromPath(path)
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}
