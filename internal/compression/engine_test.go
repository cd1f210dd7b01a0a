// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package compression

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/embeddings"
	"github.com/tejzpr/munin-mcp/internal/gravity"
	"github.com/tejzpr/munin-mcp/internal/locking"
	"github.com/tejzpr/munin-mcp/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// vectorFor maps test contents onto a tiny vector space: texts sharing
// a keyword land on the same axis and cluster, others are orthogonal.
func vectorFor(text string) []float32 {
	switch {
	case strings.Contains(text, "coffee"):
		return []float32{1, 0.05, 0}
	case strings.Contains(text, "espresso"):
		return []float32{0.95, 0.1, 0}
	case strings.Contains(text, "oslo"):
		return []float32{0, 1, 0}
	default:
		return []float32{0, 0, 1}
	}
}

func mockEmbeddingClient() *embeddings.MockClient {
	return &embeddings.MockClient{
		EmbedFunc: func(text string) ([]float32, error) {
			return vectorFor(text), nil
		},
		EmbedBatchFunc: func(texts []string) ([][]float32, error) {
			vectors := make([][]float32, len(texts))
			for i, text := range texts {
				vectors[i] = vectorFor(text)
			}
			return vectors, nil
		},
	}
}

func setupEngine(t *testing.T, client embeddings.Client) (*Engine, *store.Store, *gorm.DB) {
	t.Helper()
	db, err := database.Connect(&database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	require.NoError(t, embeddings.MigrateEmbeddings(db))
	require.NoError(t, locking.MigrateLocks(db))

	s := store.New(db)
	var svc *embeddings.Service
	if client != nil {
		svc = embeddings.NewService(db, client, "mock-model", "1", 3)
	}
	engine := NewEngine(s, svc, locking.NewLocker(db),
		gravity.DefaultThresholds(), gravity.DefaultDecayParams(), 4, nil)
	return engine, s, db
}

func TestCompress_PrunesBelowNoiseFloor(t *testing.T) {
	engine, s, _ := setupEngine(t, nil)
	graph, err := s.CreateGraph("subject-a")
	require.NoError(t, err)

	// Fresh nodes decay ~1, so gravity ~= salience.
	stale, err := s.CreateNode(graph.ID, store.NewNode{Content: "background noise", Salience: 0.1})
	require.NoError(t, err)
	keep, err := s.CreateNode(graph.ID, store.NewNode{Content: "core fact", Salience: 0.9})
	require.NoError(t, err)

	report, err := engine.Compress(graph.ID, "test")
	require.NoError(t, err)
	assert.Equal(t, 2, report.NodesBefore)
	assert.Equal(t, 1, report.NodesAfter)
	assert.Equal(t, 1, report.NodesPruned)
	assert.Equal(t, 0, report.NodesMerged)
	assert.Greater(t, report.NewSNR, report.SNRBefore)
	assert.Greater(t, report.EntropyLoss, 0.0)

	_, err = s.GetNode(stale.ID)
	var nf *store.NotFoundError
	assert.ErrorAs(t, err, &nf)
	_, err = s.GetNode(keep.ID)
	assert.NoError(t, err)
	assert.NoError(t, s.VerifyGraph(graph.ID))
}

func TestCompress_ProtectedNodesSurvive(t *testing.T) {
	engine, s, _ := setupEngine(t, nil)
	graph, err := s.CreateGraph("subject-a")
	require.NoError(t, err)

	ledgerRef, err := s.CreateNode(graph.ID, store.NewNode{Content: "promised callback", Salience: 0.05})
	require.NoError(t, err)
	_, err = s.CreateLedgerEntry(graph.ID, store.NewLedgerEntry{
		Content:  "commitment",
		Category: database.LedgerCategoryCommitment,
		NodeRefs: []string{ledgerRef.ID},
	})
	require.NoError(t, err)

	// Both endpoints of an open contradiction are protected even below
	// the noise floor.
	a, err := s.CreateNode(graph.ID, store.NewNode{Content: "a", Salience: 0.05})
	require.NoError(t, err)
	b, err := s.CreateNode(graph.ID, store.NewNode{Content: "b", Salience: 0.05})
	require.NoError(t, err)
	_, err = s.CreateEdge(graph.ID, a.ID, b.ID, database.EdgeTypeContradicts, 0.9)
	require.NoError(t, err)

	doomed, err := s.CreateNode(graph.ID, store.NewNode{Content: "doomed", Salience: 0.05})
	require.NoError(t, err)

	report, err := engine.Compress(graph.ID, "test")
	require.NoError(t, err)
	assert.Equal(t, 1, report.NodesPruned)

	for _, id := range []string{ledgerRef.ID, a.ID, b.ID} {
		_, err = s.GetNode(id)
		assert.NoError(t, err)
	}
	_, err = s.GetNode(doomed.ID)
	var nf *store.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestCompress_MergesDenseCluster(t *testing.T) {
	engine, s, _ := setupEngine(t, mockEmbeddingClient())
	graph, err := s.CreateGraph("subject-a")
	require.NoError(t, err)

	c1, err := s.CreateNode(graph.ID, store.NewNode{Content: "drinks coffee at nine", Salience: 0.7})
	require.NoError(t, err)
	c2, err := s.CreateNode(graph.ID, store.NewNode{Content: "espresso every morning", Salience: 0.6})
	require.NoError(t, err)
	apart, err := s.CreateNode(graph.ID, store.NewNode{Content: "lives in oslo", Salience: 0.8})
	require.NoError(t, err)

	report, err := engine.Compress(graph.ID, "test")
	require.NoError(t, err)
	assert.Equal(t, 0, report.NodesPruned)
	assert.Equal(t, 1, report.NodesMerged)
	assert.Equal(t, 1, report.Clusters)
	assert.Equal(t, 2, report.NodesAfter)

	for _, id := range []string{c1.ID, c2.ID} {
		_, err = s.GetNode(id)
		var nf *store.NotFoundError
		assert.ErrorAs(t, err, &nf)
	}
	_, err = s.GetNode(apart.ID)
	assert.NoError(t, err)

	// Find the consolidated node and check its lineage.
	nodes, err := s.GetNodes(graph.ID)
	require.NoError(t, err)
	var merged *database.MemoryNode
	for i := range nodes {
		if nodes[i].ID != apart.ID {
			merged = &nodes[i]
		}
	}
	require.NotNil(t, merged)
	assert.Contains(t, merged.Provenance, "merged_from")
	assert.Contains(t, merged.Provenance, c1.ID)
	assert.Contains(t, merged.Provenance, c2.ID)
	// Weighted salience sits between the members, closer to the lead.
	assert.Greater(t, merged.Salience, 0.6)
	assert.Less(t, merged.Salience, 0.7)
	assert.NoError(t, s.VerifyGraph(graph.ID))
}

func TestCompress_ProviderFailureAbortsPass(t *testing.T) {
	failing := &embeddings.MockClient{
		EmbedBatchFunc: func(texts []string) ([][]float32, error) {
			return nil, errors.New("provider down")
		},
	}
	engine, s, _ := setupEngine(t, failing)
	graph, err := s.CreateGraph("subject-a")
	require.NoError(t, err)

	_, err = s.CreateNode(graph.ID, store.NewNode{Content: "one", Salience: 0.7})
	require.NoError(t, err)
	_, err = s.CreateNode(graph.ID, store.NewNode{Content: "two", Salience: 0.7})
	require.NoError(t, err)
	before, err := s.GetGraph(graph.ID)
	require.NoError(t, err)

	_, err = engine.Compress(graph.ID, "test")
	var failed *CompressionFailedError
	require.ErrorAs(t, err, &failed)

	// Nothing was written: counts, version and pass counter unchanged.
	after, err := s.GetGraph(graph.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.NodeCount, after.NodeCount)
	assert.Equal(t, 0, after.CompressionPasses)
}

func TestCompress_SNRCapped(t *testing.T) {
	engine, s, _ := setupEngine(t, nil)
	graph, err := s.CreateGraph("subject-a")
	require.NoError(t, err)

	_, err = s.CreateNode(graph.ID, store.NewNode{Content: "noise", Salience: 0.05})
	require.NoError(t, err)

	require.NoError(t, s.DB().Model(&database.MemoryGraph{}).
		Where("id = ?", graph.ID).Update("snr", 1.95).Error)

	report, err := engine.Compress(graph.ID, "test")
	require.NoError(t, err)
	assert.Equal(t, database.MaxSNR, report.NewSNR)
}

func TestCompress_RespectsMaxClusterSize(t *testing.T) {
	engine, s, _ := setupEngine(t, mockEmbeddingClient())
	engine.maxClusterSize = 2
	graph, err := s.CreateGraph("subject-a")
	require.NoError(t, err)

	for _, content := range []string{"coffee one", "coffee two", "coffee three", "coffee four"} {
		_, err = s.CreateNode(graph.ID, store.NewNode{Content: content, Salience: 0.7})
		require.NoError(t, err)
	}

	report, err := engine.Compress(graph.ID, "test")
	require.NoError(t, err)
	// One dense group of four, split into pairs.
	assert.Equal(t, 2, report.Clusters)
	assert.Equal(t, 2, report.NodesAfter)
}

func TestCompress_EmptyGraph(t *testing.T) {
	engine, s, _ := setupEngine(t, nil)
	graph, err := s.CreateGraph("subject-a")
	require.NoError(t, err)

	report, err := engine.Compress(graph.ID, "test")
	require.NoError(t, err)
	assert.Equal(t, 0, report.NodesBefore)
	assert.Equal(t, 0, report.NodesPruned)
	assert.Equal(t, report.SNRBefore, report.NewSNR)
}
