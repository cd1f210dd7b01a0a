// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/locking"
	"gorm.io/gorm"
)

// MergeSpec describes one planned cluster merge: the member nodes to
// collapse and the replacement node that absorbs them.
type MergeSpec struct {
	MemberIDs      []string
	Content        string
	Modality       string
	Salience       float64
	Topic          string
	Provenance     string
	AccessCount    int
	LastAccessedAt time.Time
	CreatedAt      time.Time
}

// CompressionCommit is a fully planned compression pass ready to apply.
// SnapshotVersion and SnapshotPasses pin the graph state the plan was
// computed against.
type CompressionCommit struct {
	SnapshotVersion int64
	SnapshotPasses  int
	PruneIDs        []string
	Merges          []MergeSpec
	NewSNR          float64
	EntropyLoss     float64
}

// CompressionResult reports what the commit changed
type CompressionResult struct {
	MergedNodeIDs []string
	RemovedNodes  int
	NodeCount     int
	EdgeCount     int
}

// ApplyCompression applies a planned compression pass in one transaction.
// The graph's version and pass counter must still match the snapshot the
// plan was computed against; a concurrent write in between fails the
// whole pass with a ConflictError and nothing is applied.
func (s *Store) ApplyCompression(graphID string, commit CompressionCommit) (*CompressionResult, error) {
	result := &CompressionResult{}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var graph database.MemoryGraph
		if err := tx.Where("id = ?", graphID).First(&graph).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return &NotFoundError{Kind: "graph", ID: graphID}
			}
			return fmt.Errorf("failed to load graph: %w", err)
		}

		if graph.Version != commit.SnapshotVersion || graph.CompressionPasses != commit.SnapshotPasses {
			return &locking.ConflictError{
				GraphID:         graphID,
				ExpectedVersion: commit.SnapshotVersion,
				ActualVersion:   graph.Version,
			}
		}

		for _, nodeID := range commit.PruneIDs {
			if err := s.DeleteNodeTx(tx, nodeID); err != nil {
				return err
			}
			result.RemovedNodes++
		}

		for _, merge := range commit.Merges {
			mergedID, err := s.applyMergeTx(tx, &graph, merge)
			if err != nil {
				return err
			}
			result.MergedNodeIDs = append(result.MergedNodeIDs, mergedID)
			result.RemovedNodes += len(merge.MemberIDs)
		}

		// Rewiring can leave self-loops and parallel duplicates; collapse
		// them before counts are recomputed.
		if err := tx.Where("graph_id = ? AND source_id = target_id", graphID).
			Delete(&database.MemoryEdge{}).Error; err != nil {
			return fmt.Errorf("failed to drop self-loops: %w", err)
		}
		if err := tx.Exec(`DELETE FROM memory_edges WHERE graph_id = ? AND id NOT IN (
			SELECT MIN(id) FROM memory_edges WHERE graph_id = ? GROUP BY source_id, target_id, edge_type
		)`, graphID, graphID).Error; err != nil {
			return fmt.Errorf("failed to dedup edges: %w", err)
		}

		return s.finishCompressionTx(tx, &graph, commit, result)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyMergeTx creates the merged node, reattaches edges from members to
// it and deletes the members
func (s *Store) applyMergeTx(tx *gorm.DB, graph *database.MemoryGraph, merge MergeSpec) (string, error) {
	content, err := s.seal(graph.SubjectID, merge.Content)
	if err != nil {
		return "", err
	}

	merged := &database.MemoryNode{
		ID:             uuid.NewString(),
		GraphID:        graph.ID,
		Content:        content,
		Modality:       merge.Modality,
		Salience:       merge.Salience,
		Topic:          merge.Topic,
		Provenance:     merge.Provenance,
		AccessCount:    merge.AccessCount,
		LastAccessedAt: merge.LastAccessedAt,
		CreatedAt:      merge.CreatedAt,
	}
	if err := tx.Create(merged).Error; err != nil {
		return "", fmt.Errorf("failed to create merged node: %w", err)
	}

	if err := tx.Model(&database.MemoryEdge{}).
		Where("source_id IN ?", merge.MemberIDs).
		Update("source_id", merged.ID).Error; err != nil {
		return "", fmt.Errorf("failed to reattach source edges: %w", err)
	}
	if err := tx.Model(&database.MemoryEdge{}).
		Where("target_id IN ?", merge.MemberIDs).
		Update("target_id", merged.ID).Error; err != nil {
		return "", fmt.Errorf("failed to reattach target edges: %w", err)
	}

	if err := tx.Where("id IN ?", merge.MemberIDs).
		Delete(&database.MemoryNode{}).Error; err != nil {
		return "", fmt.Errorf("failed to delete merged members: %w", err)
	}

	return merged.ID, nil
}

// finishCompressionTx recounts live rows, appends the pass loss and
// advances SNR, the pass counter and the version in one update
func (s *Store) finishCompressionTx(tx *gorm.DB, graph *database.MemoryGraph, commit CompressionCommit, result *CompressionResult) error {
	var liveNodes, liveEdges int64
	if err := tx.Model(&database.MemoryNode{}).Where("graph_id = ?", graph.ID).Count(&liveNodes).Error; err != nil {
		return fmt.Errorf("failed to recount nodes: %w", err)
	}
	if err := tx.Model(&database.MemoryEdge{}).Where("graph_id = ?", graph.ID).Count(&liveEdges).Error; err != nil {
		return fmt.Errorf("failed to recount edges: %w", err)
	}

	var oldest, newest *time.Time
	if liveNodes > 0 {
		var first, last database.MemoryNode
		if err := tx.Where("graph_id = ?", graph.ID).Order("created_at ASC").First(&first).Error; err != nil {
			return fmt.Errorf("failed to find oldest memory: %w", err)
		}
		if err := tx.Where("graph_id = ?", graph.ID).Order("created_at DESC").First(&last).Error; err != nil {
			return fmt.Errorf("failed to find newest memory: %w", err)
		}
		oldest, newest = &first.CreatedAt, &last.CreatedAt
	}

	lossVector, err := appendLoss(graph.LossVector, commit.EntropyLoss)
	if err != nil {
		return err
	}

	now := time.Now()
	updates := map[string]interface{}{
		"node_count":         liveNodes,
		"edge_count":         liveEdges,
		"oldest_memory_at":   oldest,
		"newest_memory_at":   newest,
		"snr":                commit.NewSNR,
		"loss_vector":        lossVector,
		"compression_passes": graph.CompressionPasses + 1,
		"last_compressed_at": now,
		"version":            graph.Version + 1,
	}
	if err := tx.Model(&database.MemoryGraph{}).Where("id = ?", graph.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to finish compression: %w", err)
	}

	result.NodeCount = int(liveNodes)
	result.EdgeCount = int(liveEdges)
	return nil
}

// appendLoss appends one pass loss to the JSON loss vector
func appendLoss(stored string, loss float64) (string, error) {
	var vector []float64
	if stored != "" {
		if err := json.Unmarshal([]byte(stored), &vector); err != nil {
			return "", fmt.Errorf("failed to decode loss vector: %w", err)
		}
	}
	vector = append(vector, loss)
	encoded, err := json.Marshal(vector)
	if err != nil {
		return "", fmt.Errorf("failed to encode loss vector: %w", err)
	}
	return string(encoded), nil
}

// DecodeLossVector decodes a graph's accumulated per-pass entropy losses
func DecodeLossVector(stored string) ([]float64, error) {
	if stored == "" {
		return []float64{}, nil
	}
	var vector []float64
	if err := json.Unmarshal([]byte(stored), &vector); err != nil {
		return nil, fmt.Errorf("failed to decode loss vector: %w", err)
	}
	return vector, nil
}
