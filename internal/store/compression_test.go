// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/locking"
)

func TestApplyCompression_Prune(t *testing.T) {
	s := setupTestStore(t)
	graph, err := s.CreateGraph("subject-a")
	require.NoError(t, err)

	stale, err := s.CreateNode(graph.ID, NewNode{Content: "stale", Salience: 0.1})
	require.NoError(t, err)
	keep, err := s.CreateNode(graph.ID, NewNode{Content: "keep", Salience: 0.9})
	require.NoError(t, err)

	snapshot, err := s.GetGraph(graph.ID)
	require.NoError(t, err)

	result, err := s.ApplyCompression(graph.ID, CompressionCommit{
		SnapshotVersion: snapshot.Version,
		SnapshotPasses:  snapshot.CompressionPasses,
		PruneIDs:        []string{stale.ID},
		NewSNR:          1.2,
		EntropyLoss:     0.1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RemovedNodes)
	assert.Equal(t, 1, result.NodeCount)

	_, err = s.GetNode(stale.ID)
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
	_, err = s.GetNode(keep.ID)
	assert.NoError(t, err)

	after, err := s.GetGraph(graph.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.2, after.SNR)
	assert.Equal(t, snapshot.CompressionPasses+1, after.CompressionPasses)
	assert.Equal(t, snapshot.Version+1, after.Version)
	require.NotNil(t, after.LastCompressedAt)

	losses, err := DecodeLossVector(after.LossVector)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1}, losses)
	assert.NoError(t, s.VerifyGraph(graph.ID))
}

func TestApplyCompression_MergeRewiresEdges(t *testing.T) {
	s := setupTestStore(t)
	graph, err := s.CreateGraph("subject-a")
	require.NoError(t, err)

	a, _ := s.CreateNode(graph.ID, NewNode{Content: "coffee at nine", Salience: 0.6})
	b, _ := s.CreateNode(graph.ID, NewNode{Content: "espresso each morning", Salience: 0.5})
	outside, _ := s.CreateNode(graph.ID, NewNode{Content: "lives in oslo", Salience: 0.8})

	// Edge into the cluster and edge between members.
	_, err = s.CreateEdge(graph.ID, outside.ID, a.ID, database.EdgeTypeRelatesTo, 0.5)
	require.NoError(t, err)
	_, err = s.CreateEdge(graph.ID, a.ID, b.ID, database.EdgeTypeRelatesTo, 0.5)
	require.NoError(t, err)

	snapshot, err := s.GetGraph(graph.ID)
	require.NoError(t, err)

	now := time.Now()
	result, err := s.ApplyCompression(graph.ID, CompressionCommit{
		SnapshotVersion: snapshot.Version,
		SnapshotPasses:  snapshot.CompressionPasses,
		Merges: []MergeSpec{{
			MemberIDs:      []string{a.ID, b.ID},
			Content:        "drinks espresso every morning around nine",
			Modality:       database.ModalityEpisodic,
			Salience:       0.57,
			LastAccessedAt: now,
			CreatedAt:      now.Add(-time.Hour),
		}},
		NewSNR: 1.3,
	})
	require.NoError(t, err)
	require.Len(t, result.MergedNodeIDs, 1)
	assert.Equal(t, 2, result.RemovedNodes)
	assert.Equal(t, 2, result.NodeCount)

	mergedID := result.MergedNodeIDs[0]
	merged, err := s.GetNode(mergedID)
	require.NoError(t, err)
	assert.Equal(t, "drinks espresso every morning around nine", merged.Content)

	// The member-to-member edge became a self-loop and was dropped; the
	// incoming edge now points at the merged node.
	edges, err := s.GetEdges(graph.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, outside.ID, edges[0].SourceID)
	assert.Equal(t, mergedID, edges[0].TargetID)
	assert.NoError(t, s.VerifyGraph(graph.ID))
}

func TestApplyCompression_DedupsParallelEdges(t *testing.T) {
	s := setupTestStore(t)
	graph, err := s.CreateGraph("subject-a")
	require.NoError(t, err)

	a, _ := s.CreateNode(graph.ID, NewNode{Content: "a", Salience: 0.5})
	b, _ := s.CreateNode(graph.ID, NewNode{Content: "b", Salience: 0.5})
	c, _ := s.CreateNode(graph.ID, NewNode{Content: "c", Salience: 0.9})

	// Both members point at c: after the merge these become parallel
	// duplicates and collapse to one.
	_, err = s.CreateEdge(graph.ID, a.ID, c.ID, database.EdgeTypeSupports, 0.5)
	require.NoError(t, err)
	_, err = s.CreateEdge(graph.ID, b.ID, c.ID, database.EdgeTypeSupports, 0.6)
	require.NoError(t, err)

	snapshot, err := s.GetGraph(graph.ID)
	require.NoError(t, err)

	result, err := s.ApplyCompression(graph.ID, CompressionCommit{
		SnapshotVersion: snapshot.Version,
		SnapshotPasses:  snapshot.CompressionPasses,
		Merges: []MergeSpec{{
			MemberIDs:      []string{a.ID, b.ID},
			Content:        "ab",
			Modality:       database.ModalityEpisodic,
			Salience:       0.5,
			LastAccessedAt: time.Now(),
			CreatedAt:      time.Now(),
		}},
		NewSNR: 1.1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.EdgeCount)
	assert.NoError(t, s.VerifyGraph(graph.ID))
}

func TestApplyCompression_VersionConflict(t *testing.T) {
	s := setupTestStore(t)
	graph, err := s.CreateGraph("subject-a")
	require.NoError(t, err)

	node, err := s.CreateNode(graph.ID, NewNode{Content: "x", Salience: 0.1})
	require.NoError(t, err)

	snapshot, err := s.GetGraph(graph.ID)
	require.NoError(t, err)

	// A write lands between planning and commit.
	_, err = s.CreateNode(graph.ID, NewNode{Content: "concurrent"})
	require.NoError(t, err)

	_, err = s.ApplyCompression(graph.ID, CompressionCommit{
		SnapshotVersion: snapshot.Version,
		SnapshotPasses:  snapshot.CompressionPasses,
		PruneIDs:        []string{node.ID},
		NewSNR:          1.5,
	})
	var conflict *locking.ConflictError
	require.ErrorAs(t, err, &conflict)

	// Nothing was applied.
	_, err = s.GetNode(node.ID)
	assert.NoError(t, err)
	after, err := s.GetGraph(graph.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.CompressionPasses)
}

func TestApplyCompression_AccumulatesLossVector(t *testing.T) {
	s := setupTestStore(t)
	graph, err := s.CreateGraph("subject-a")
	require.NoError(t, err)

	for _, loss := range []float64{0.1, 0.05} {
		snapshot, err := s.GetGraph(graph.ID)
		require.NoError(t, err)
		_, err = s.ApplyCompression(graph.ID, CompressionCommit{
			SnapshotVersion: snapshot.Version,
			SnapshotPasses:  snapshot.CompressionPasses,
			NewSNR:          snapshot.SNR,
			EntropyLoss:     loss,
		})
		require.NoError(t, err)
	}

	after, err := s.GetGraph(graph.ID)
	require.NoError(t, err)
	losses, err := DecodeLossVector(after.LossVector)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.05}, losses)
	assert.Equal(t, 2, after.CompressionPasses)
}
