// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package server

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/munin-mcp/internal/config"
	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupServer(t *testing.T) (*MCPServer, *gorm.DB) {
	t.Helper()
	db, err := database.Connect(&database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	cfg := config.DefaultConfig()
	cfg.Export.ArchiveDir = t.TempDir()

	srv, err := NewMCPServer(cfg, db, nil, nil)
	require.NoError(t, err)
	return srv, db
}

func TestNewMCPServer_MigratesLockTable(t *testing.T) {
	_, db := setupServer(t)
	assert.True(t, db.Migrator().HasTable("graph_locks"))
}

func TestNewMCPServer_CompressionRuns(t *testing.T) {
	srv, _ := setupServer(t)

	graph, err := srv.Store().CreateGraph("subject-a")
	require.NoError(t, err)
	_, err = srv.Store().CreateNode(graph.ID, store.NewNode{Content: "faint aside", Salience: 0.1})
	require.NoError(t, err)
	_, err = srv.Store().CreateNode(graph.ID, store.NewNode{Content: "core fact", Salience: 0.9})
	require.NoError(t, err)

	// The full assembled path: a pass must acquire the graph lock, prune
	// and commit without any extra setup by the caller.
	report, err := srv.Engine().Compress(graph.ID, "test")
	require.NoError(t, err)
	assert.Equal(t, 1, report.NodesPruned)

	swept, err := srv.Store().GetGraph(graph.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, swept.NodeCount)
	assert.Equal(t, 1, swept.CompressionPasses)
}

func TestRegisterToolsForUser(t *testing.T) {
	srv, _ := setupServer(t)
	user := &database.MuninUser{
		ID:        "user-1",
		Username:  "alice",
		Role:      database.RoleSubject,
		SubjectID: "alice",
	}
	require.NoError(t, srv.RegisterToolsForUser(user))
}
