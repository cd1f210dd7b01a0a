// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package store owns creation and deletion of nodes, edges and ledger
// entries. No other component mutates them directly: all writers go
// through these operations so the graph's count and cascade invariants
// hold centrally.
package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tejzpr/munin-mcp/internal/database"
	"gorm.io/gorm"
)

// Cipher seals and opens node/ledger content for encryption at rest.
// Keys are per subject, so one subject's content never decrypts with
// another's key.
type Cipher interface {
	Seal(subjectID, plaintext string) (string, error)
	Open(subjectID, ciphertext string) (string, error)
}

// Store is the graph store. The optional cipher makes content opaque at
// rest; when nil, content is stored in the clear (tests, local mode).
type Store struct {
	db     *gorm.DB
	cipher Cipher
}

// New creates a graph store without encryption at rest
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// NewEncrypted creates a graph store that seals content with the cipher
func NewEncrypted(db *gorm.DB, cipher Cipher) *Store {
	return &Store{db: db, cipher: cipher}
}

// DB exposes the underlying handle for components that compose their own
// transactions around store operations (compression).
func (s *Store) DB() *gorm.DB {
	return s.db
}

// CreateGraph creates the memory graph for a subject
func (s *Store) CreateGraph(subjectID string) (*database.MemoryGraph, error) {
	graph := &database.MemoryGraph{
		ID:        uuid.NewString(),
		SubjectID: subjectID,
		SNR:       1.0,
		Version:   1,
	}
	if err := s.db.Create(graph).Error; err != nil {
		return nil, fmt.Errorf("failed to create graph: %w", err)
	}
	return graph, nil
}

// GetGraph retrieves a graph by id
func (s *Store) GetGraph(graphID string) (*database.MemoryGraph, error) {
	var graph database.MemoryGraph
	if err := s.db.Where("id = ?", graphID).First(&graph).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Kind: "graph", ID: graphID}
		}
		return nil, fmt.Errorf("failed to get graph: %w", err)
	}
	return &graph, nil
}

// GetGraphBySubject retrieves a subject's graph, creating it on first use
func (s *Store) GetGraphBySubject(subjectID string) (*database.MemoryGraph, error) {
	var graph database.MemoryGraph
	err := s.db.Where("subject_id = ?", subjectID).First(&graph).Error
	if err == nil {
		return &graph, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("failed to get graph for subject: %w", err)
	}
	return s.CreateGraph(subjectID)
}

// NewNode carries the author-supplied fields for a node write
type NewNode struct {
	Content   string
	Modality  string
	Salience  float64
	Topic     string
	SessionID string
}

// CreateNode persists a new memory node. The write consults active
// remembrance negotiations for the node's topic before anything is
// stored, and updates the owning graph's node count atomically with the
// entity write.
func (s *Store) CreateNode(graphID string, n NewNode) (*database.MemoryNode, error) {
	if n.Modality == "" {
		n.Modality = database.ModalityEpisodic
	}
	if !database.IsValidModality(n.Modality) {
		return nil, fmt.Errorf("invalid modality: %s", n.Modality)
	}
	if n.Salience < 0 || n.Salience > 1 {
		return nil, fmt.Errorf("salience must be in [0, 1], got %g", n.Salience)
	}

	graph, err := s.GetGraph(graphID)
	if err != nil {
		return nil, err
	}

	ephemeral := false
	if n.Topic != "" {
		policy, _, err := s.NegotiationPolicyFor(graphID, n.Topic)
		if err != nil {
			return nil, err
		}
		switch policy {
		case database.PolicyNever:
			return nil, &PolicyViolationError{Topic: n.Topic, Policy: policy}
		case database.PolicyAskEachTime:
			return nil, &PolicyViolationError{Topic: n.Topic, Policy: policy, Deferred: true}
		case database.PolicySessionOnly:
			ephemeral = true
		}
	}

	content, err := s.seal(graph.SubjectID, n.Content)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	node := &database.MemoryNode{
		ID:             uuid.NewString(),
		GraphID:        graphID,
		Content:        content,
		Modality:       n.Modality,
		Salience:       n.Salience,
		Topic:          n.Topic,
		SessionID:      n.SessionID,
		Ephemeral:      ephemeral,
		LastAccessedAt: now,
		CreatedAt:      now,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(node).Error; err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		return bumpGraphOnNodeWrite(tx, graphID, +1, now)
	})
	if err != nil {
		return nil, err
	}

	node.Content = n.Content
	return node, nil
}

// CreateEdge persists a new edge between two nodes of the same graph
func (s *Store) CreateEdge(graphID, sourceID, targetID, edgeType string, strength float64) (*database.MemoryEdge, error) {
	if !database.IsValidEdgeType(edgeType) {
		return nil, fmt.Errorf("invalid edge type: %s", edgeType)
	}
	if sourceID == targetID {
		return nil, fmt.Errorf("edge cannot connect a node to itself")
	}

	for _, nodeID := range []string{sourceID, targetID} {
		var node database.MemoryNode
		if err := s.db.Where("id = ? AND graph_id = ?", nodeID, graphID).First(&node).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil, &NotFoundError{Kind: "node", ID: nodeID}
			}
			return nil, fmt.Errorf("failed to check node: %w", err)
		}
	}

	edge := &database.MemoryEdge{
		ID:        uuid.NewString(),
		GraphID:   graphID,
		SourceID:  sourceID,
		TargetID:  targetID,
		EdgeType:  edgeType,
		Strength:  strength,
		CreatedAt: time.Now(),
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(edge).Error; err != nil {
			return fmt.Errorf("failed to create edge: %w", err)
		}
		return bumpGraphCounts(tx, graphID, 0, +1)
	})
	if err != nil {
		return nil, err
	}

	return edge, nil
}

// GetNode retrieves a node by id with content unsealed
func (s *Store) GetNode(nodeID string) (*database.MemoryNode, error) {
	var node database.MemoryNode
	if err := s.db.Where("id = ?", nodeID).First(&node).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Kind: "node", ID: nodeID}
		}
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	if err := s.openNode(&node); err != nil {
		return nil, err
	}
	return &node, nil
}

// GetNodes retrieves all nodes of a graph with content unsealed
func (s *Store) GetNodes(graphID string) ([]database.MemoryNode, error) {
	var nodes []database.MemoryNode
	if err := s.db.Where("graph_id = ?", graphID).Order("created_at ASC").Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("failed to get nodes: %w", err)
	}
	for i := range nodes {
		if err := s.openNode(&nodes[i]); err != nil {
			return nil, err
		}
	}
	return nodes, nil
}

// GetConnectedNodes returns the nodes reachable from nodeID over one
// edge, optionally filtered by edge type. Both directions are followed.
func (s *Store) GetConnectedNodes(nodeID string, edgeTypeFilter ...string) ([]database.MemoryNode, error) {
	query := s.db.Where("source_id = ? OR target_id = ?", nodeID, nodeID)
	if len(edgeTypeFilter) > 0 {
		query = query.Where("edge_type IN ?", edgeTypeFilter)
	}

	var edges []database.MemoryEdge
	if err := query.Find(&edges).Error; err != nil {
		return nil, fmt.Errorf("failed to get edges: %w", err)
	}

	neighborIDs := make([]string, 0, len(edges))
	seen := map[string]bool{nodeID: true}
	for _, e := range edges {
		for _, id := range []string{e.SourceID, e.TargetID} {
			if !seen[id] {
				seen[id] = true
				neighborIDs = append(neighborIDs, id)
			}
		}
	}
	if len(neighborIDs) == 0 {
		return []database.MemoryNode{}, nil
	}

	var nodes []database.MemoryNode
	if err := s.db.Where("id IN ?", neighborIDs).Find(&nodes).Error; err != nil {
		return nil, fmt.Errorf("failed to get connected nodes: %w", err)
	}
	for i := range nodes {
		if err := s.openNode(&nodes[i]); err != nil {
			return nil, err
		}
	}
	return nodes, nil
}

// GetEdges retrieves all edges of a graph
func (s *Store) GetEdges(graphID string) ([]database.MemoryEdge, error) {
	var edges []database.MemoryEdge
	if err := s.db.Where("graph_id = ?", graphID).Find(&edges).Error; err != nil {
		return nil, fmt.Errorf("failed to get edges: %w", err)
	}
	return edges, nil
}

// GetEdge retrieves an edge by id
func (s *Store) GetEdge(edgeID string) (*database.MemoryEdge, error) {
	var edge database.MemoryEdge
	if err := s.db.Where("id = ?", edgeID).First(&edge).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Kind: "edge", ID: edgeID}
		}
		return nil, fmt.Errorf("failed to get edge: %w", err)
	}
	return &edge, nil
}

// UpdateNode rewrites a node's content and/or salience. Content is
// re-sealed; the embedding cache invalidates itself via content hash.
func (s *Store) UpdateNode(nodeID string, content *string, salience *float64) (*database.MemoryNode, error) {
	var node database.MemoryNode
	if err := s.db.Where("id = ?", nodeID).First(&node).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Kind: "node", ID: nodeID}
		}
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	graph, err := s.GetGraph(node.GraphID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if content != nil {
		sealed, err := s.seal(graph.SubjectID, *content)
		if err != nil {
			return nil, err
		}
		updates["content"] = sealed
	}
	if salience != nil {
		if *salience < 0 || *salience > 1 {
			return nil, fmt.Errorf("salience must be in [0, 1], got %g", *salience)
		}
		updates["salience"] = *salience
	}
	if len(updates) == 0 {
		return s.GetNode(nodeID)
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&database.MemoryNode{}).Where("id = ?", nodeID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update node: %w", err)
		}
		return bumpGraphVersion(tx, node.GraphID)
	})
	if err != nil {
		return nil, err
	}

	return s.GetNode(nodeID)
}

// RecordAccess bumps a node's access count and timestamp. Deliberately
// not a graph-version bump: reads must not abort in-flight compression.
func (s *Store) RecordAccess(nodeID string) error {
	result := s.db.Model(&database.MemoryNode{}).
		Where("id = ?", nodeID).
		Updates(map[string]interface{}{
			"access_count":     gorm.Expr("access_count + 1"),
			"last_accessed_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record access: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &NotFoundError{Kind: "node", ID: nodeID}
	}
	return nil
}

// DeleteNode deletes a node and cascades to its edges. Blocked with
// CascadeError when the node is the source of an unresolved CONTRADICTS
// edge, unless force is set.
func (s *Store) DeleteNode(nodeID string, force bool) error {
	var node database.MemoryNode
	if err := s.db.Where("id = ?", nodeID).First(&node).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return &NotFoundError{Kind: "node", ID: nodeID}
		}
		return fmt.Errorf("failed to get node: %w", err)
	}

	if !force {
		var edge database.MemoryEdge
		err := s.db.Where("source_id = ? AND edge_type = ? AND resolution = ?",
			nodeID, database.EdgeTypeContradicts, database.ResolutionNone).First(&edge).Error
		if err == nil {
			return &CascadeError{NodeID: nodeID, EdgeID: edge.ID}
		}
		if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("failed to check contradictions: %w", err)
		}
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		return deleteNodeTx(tx, &node)
	})
}

// DeleteNodeTx runs the delete-with-cascade inside a caller-owned
// transaction. The caller is responsible for contradiction checks.
func (s *Store) DeleteNodeTx(tx *gorm.DB, nodeID string) error {
	var node database.MemoryNode
	if err := tx.Where("id = ?", nodeID).First(&node).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return &NotFoundError{Kind: "node", ID: nodeID}
		}
		return fmt.Errorf("failed to get node: %w", err)
	}
	return deleteNodeTx(tx, &node)
}

func deleteNodeTx(tx *gorm.DB, node *database.MemoryNode) error {
	var edgeCount int64
	if err := tx.Model(&database.MemoryEdge{}).
		Where("source_id = ? OR target_id = ?", node.ID, node.ID).
		Count(&edgeCount).Error; err != nil {
		return fmt.Errorf("failed to count edges: %w", err)
	}

	if err := tx.Where("source_id = ? OR target_id = ?", node.ID, node.ID).
		Delete(&database.MemoryEdge{}).Error; err != nil {
		return fmt.Errorf("failed to cascade edges: %w", err)
	}
	if err := tx.Delete(&database.MemoryNode{}, "id = ?", node.ID).Error; err != nil {
		return fmt.Errorf("failed to delete node: %w", err)
	}

	return bumpGraphCounts(tx, node.GraphID, -1, -int(edgeCount))
}

// DeleteEdge deletes an edge and decrements the graph's edge count
func (s *Store) DeleteEdge(edgeID string) error {
	var edge database.MemoryEdge
	if err := s.db.Where("id = ?", edgeID).First(&edge).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return &NotFoundError{Kind: "edge", ID: edgeID}
		}
		return fmt.Errorf("failed to get edge: %w", err)
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&database.MemoryEdge{}, "id = ?", edgeID).Error; err != nil {
			return fmt.Errorf("failed to delete edge: %w", err)
		}
		return bumpGraphCounts(tx, edge.GraphID, 0, -1)
	})
}

// SweepEphemeral deletes all session_only nodes written during a session.
// Called at session end so session-scoped content never outlives it.
func (s *Store) SweepEphemeral(graphID, sessionID string) (int, error) {
	var nodes []database.MemoryNode
	err := s.db.Where("graph_id = ? AND session_id = ? AND ephemeral = ?", graphID, sessionID, true).
		Find(&nodes).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find ephemeral nodes: %w", err)
	}

	swept := 0
	for i := range nodes {
		err := s.db.Transaction(func(tx *gorm.DB) error {
			return deleteNodeTx(tx, &nodes[i])
		})
		if err != nil {
			return swept, err
		}
		swept++
	}
	return swept, nil
}

// VerifyGraph recomputes node and edge counts from live rows and
// returns IntegrityError if the stored counters have drifted.
func (s *Store) VerifyGraph(graphID string) error {
	graph, err := s.GetGraph(graphID)
	if err != nil {
		return err
	}

	var liveNodes, liveEdges int64
	if err := s.db.Model(&database.MemoryNode{}).Where("graph_id = ?", graphID).Count(&liveNodes).Error; err != nil {
		return fmt.Errorf("failed to count nodes: %w", err)
	}
	if err := s.db.Model(&database.MemoryEdge{}).Where("graph_id = ?", graphID).Count(&liveEdges).Error; err != nil {
		return fmt.Errorf("failed to count edges: %w", err)
	}

	if graph.NodeCount != int(liveNodes) || graph.EdgeCount != int(liveEdges) {
		return &IntegrityError{
			GraphID:     graphID,
			StoredNodes: graph.NodeCount,
			LiveNodes:   int(liveNodes),
			StoredEdges: graph.EdgeCount,
			LiveEdges:   int(liveEdges),
		}
	}
	return nil
}

// seal encrypts content when a cipher is configured
func (s *Store) seal(subjectID, plaintext string) (string, error) {
	if s.cipher == nil {
		return plaintext, nil
	}
	sealed, err := s.cipher.Seal(subjectID, plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to seal content: %w", err)
	}
	return sealed, nil
}

// openNode decrypts a node's content in place when a cipher is configured
func (s *Store) openNode(node *database.MemoryNode) error {
	if s.cipher == nil {
		return nil
	}
	graph, err := s.GetGraph(node.GraphID)
	if err != nil {
		return err
	}
	plaintext, err := s.cipher.Open(graph.SubjectID, node.Content)
	if err != nil {
		return fmt.Errorf("failed to open content: %w", err)
	}
	node.Content = plaintext
	return nil
}

// bumpGraphOnNodeWrite updates counts, memory timestamps and version
// atomically with a node insert
func bumpGraphOnNodeWrite(tx *gorm.DB, graphID string, delta int, at time.Time) error {
	var graph database.MemoryGraph
	if err := tx.Where("id = ?", graphID).First(&graph).Error; err != nil {
		return fmt.Errorf("failed to load graph for count update: %w", err)
	}

	updates := map[string]interface{}{
		"node_count": gorm.Expr("node_count + ?", delta),
		"version":    gorm.Expr("version + 1"),
	}
	if graph.OldestMemoryAt == nil || at.Before(*graph.OldestMemoryAt) {
		updates["oldest_memory_at"] = at
	}
	if graph.NewestMemoryAt == nil || at.After(*graph.NewestMemoryAt) {
		updates["newest_memory_at"] = at
	}

	if err := tx.Model(&database.MemoryGraph{}).Where("id = ?", graphID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update graph counts: %w", err)
	}
	return nil
}

// bumpGraphCounts adjusts counters and version inside a transaction
func bumpGraphCounts(tx *gorm.DB, graphID string, nodeDelta, edgeDelta int) error {
	updates := map[string]interface{}{
		"version": gorm.Expr("version + 1"),
	}
	if nodeDelta != 0 {
		updates["node_count"] = gorm.Expr("node_count + ?", nodeDelta)
	}
	if edgeDelta != 0 {
		updates["edge_count"] = gorm.Expr("edge_count + ?", edgeDelta)
	}

	result := tx.Model(&database.MemoryGraph{}).Where("id = ?", graphID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update graph counts: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &NotFoundError{Kind: "graph", ID: graphID}
	}
	return nil
}

// bumpGraphVersion bumps only the write version
func bumpGraphVersion(tx *gorm.DB, graphID string) error {
	return bumpGraphCounts(tx, graphID, 0, 0)
}
