// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"fmt"

	"gorm.io/gorm"
)

// AllModels returns all database models for migration
func AllModels() []interface{} {
	return []interface{}{
		&MuninUser{},
		&MuninAuthToken{},
		&MemoryGraph{},
		&MemoryNode{},
		&MemoryEdge{},
		&LedgerEntry{},
		&MemorySession{},
	}
}

// Migrate runs database migrations for all models
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// DropAllTables drops all tables (use with caution!)
func DropAllTables(db *gorm.DB) error {
	// Drop in reverse order to avoid foreign key constraints
	models := []interface{}{
		&MemorySession{},
		&LedgerEntry{},
		&MemoryEdge{},
		&MemoryNode{},
		&MemoryGraph{},
		&MuninAuthToken{},
		&MuninUser{},
	}

	for _, model := range models {
		if err := db.Migrator().DropTable(model); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}

	return nil
}

// CreateIndexes creates additional indexes for better query performance
func CreateIndexes(db *gorm.DB) error {
	indexes := []struct {
		table   string
		columns []string
		name    string
	}{
		{
			table:   "memory_nodes",
			columns: []string{"graph_id", "created_at"},
			name:    "idx_nodes_graph_created",
		},
		{
			table:   "memory_nodes",
			columns: []string{"graph_id", "last_accessed_at"},
			name:    "idx_nodes_graph_accessed",
		},
		{
			table:   "memory_nodes",
			columns: []string{"graph_id", "session_id"},
			name:    "idx_nodes_graph_session",
		},
		{
			table:   "memory_edges",
			columns: []string{"graph_id", "edge_type"},
			name:    "idx_edges_graph_type",
		},
		{
			table:   "memory_edges",
			columns: []string{"source_id", "edge_type"},
			name:    "idx_edges_source_type",
		},
		{
			table:   "memory_edges",
			columns: []string{"target_id", "edge_type"},
			name:    "idx_edges_target_type",
		},
		{
			table:   "ledger_entries",
			columns: []string{"graph_id", "active"},
			name:    "idx_ledger_graph_active",
		},
		{
			table:   "ledger_entries",
			columns: []string{"graph_id", "topic", "active"},
			name:    "idx_ledger_graph_topic",
		},
		{
			table:   "munin_auth_tokens",
			columns: []string{"user_id", "expires_at"},
			name:    "idx_tokens_user_expires",
		},
	}

	for _, idx := range indexes {
		hasIndex := db.Migrator().HasIndex(idx.table, idx.name)
		if !hasIndex {
			// Composite indexes via raw SQL (GORM doesn't support them well)
			sql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
				idx.name,
				idx.table,
				joinColumns(idx.columns))

			if err := db.Exec(sql).Error; err != nil {
				return fmt.Errorf("failed to create index %s: %w", idx.name, err)
			}
		}
	}

	return nil
}

// joinColumns joins column names with commas
func joinColumns(columns []string) string {
	result := ""
	for i, col := range columns {
		if i > 0 {
			result += ", "
		}
		result += col
	}
	return result
}
