// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package contradiction resolves CONTRADICTS edges. Detection happens at
// write time (the writer signals the conflict by choosing the edge
// type); this package only applies a resolution, exactly once per edge.
package contradiction

import (
	"errors"
	"fmt"

	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/store"
)

// ErrAlreadyResolved is returned when a resolution has already been
// applied to the edge.
var ErrAlreadyResolved = errors.New("contradiction already resolved")

// ErrNotContradiction is returned when the edge is not a CONTRADICTS edge
var ErrNotContradiction = errors.New("edge is not a CONTRADICTS edge")

// Policy selects how a contradiction is resolved
type Policy string

// Resolution policies
const (
	// PolicyMerge treats the tension as nuance: the edge is retyped to
	// RELATES_TO and both nodes survive.
	PolicyMerge Policy = "merge"
	// PolicyKeepSource deletes the target node and the edge
	PolicyKeepSource Policy = "keep_source"
	// PolicyKeepTarget deletes the source node and the edge
	PolicyKeepTarget Policy = "keep_target"
)

// ValidPolicies returns all valid resolution policies
func ValidPolicies() []Policy {
	return []Policy{PolicyMerge, PolicyKeepSource, PolicyKeepTarget}
}

// IsValidPolicy checks if a policy is valid
func IsValidPolicy(p Policy) bool {
	for _, valid := range ValidPolicies() {
		if p == valid {
			return true
		}
	}
	return false
}

// Outcome reports what a resolution did
type Outcome struct {
	EdgeID      string `json:"edge_id"`
	Policy      Policy `json:"policy"`
	KeptNodeIDs []string `json:"kept_node_ids"`
	DeletedNode string `json:"deleted_node,omitempty"`
}

// Resolver applies contradiction resolutions through the graph store
type Resolver struct {
	store *store.Store
}

// NewResolver creates a new resolver
func NewResolver(s *store.Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve applies one resolution to a CONTRADICTS edge. Re-resolving an
// already-resolved edge fails with ErrAlreadyResolved.
func (r *Resolver) Resolve(edgeID string, policy Policy) (*Outcome, error) {
	if !IsValidPolicy(policy) {
		return nil, fmt.Errorf("invalid resolution policy: %s", policy)
	}

	edge, err := r.store.GetEdge(edgeID)
	if err != nil {
		return nil, err
	}
	if edge.EdgeType != database.EdgeTypeContradicts {
		// A merge-resolved edge has been retyped to RELATES_TO; treat a
		// second resolution attempt on it as already resolved.
		if edge.Resolution != database.ResolutionNone {
			return nil, ErrAlreadyResolved
		}
		return nil, ErrNotContradiction
	}
	if edge.Resolution != database.ResolutionNone {
		return nil, ErrAlreadyResolved
	}

	switch policy {
	case PolicyMerge:
		return r.merge(edge)
	case PolicyKeepSource:
		return r.keep(edge, edge.SourceID, edge.TargetID, database.ResolutionSourceKept)
	default:
		return r.keep(edge, edge.TargetID, edge.SourceID, database.ResolutionTargetKept)
	}
}

// merge retypes the edge to RELATES_TO; both endpoint nodes survive
func (r *Resolver) merge(edge *database.MemoryEdge) (*Outcome, error) {
	err := r.store.DB().Model(&database.MemoryEdge{}).
		Where("id = ? AND resolution = ?", edge.ID, database.ResolutionNone).
		Updates(map[string]interface{}{
			"edge_type":  database.EdgeTypeRelatesTo,
			"resolution": database.ResolutionMerged,
		}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to retype edge: %w", err)
	}

	return &Outcome{
		EdgeID:      edge.ID,
		Policy:      PolicyMerge,
		KeptNodeIDs: []string{edge.SourceID, edge.TargetID},
	}, nil
}

// keep deletes the losing node (cascading the edge) and keeps the winner
func (r *Resolver) keep(edge *database.MemoryEdge, winnerID, loserID, resolution string) (*Outcome, error) {
	// Mark the resolution before the cascade so a concurrent resolver
	// observes the edge as taken.
	result := r.store.DB().Model(&database.MemoryEdge{}).
		Where("id = ? AND resolution = ?", edge.ID, database.ResolutionNone).
		Update("resolution", resolution)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to mark resolution: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrAlreadyResolved
	}

	if err := r.store.DeleteNode(loserID, true); err != nil {
		return nil, fmt.Errorf("failed to delete losing node: %w", err)
	}

	policy := PolicyKeepSource
	if resolution == database.ResolutionTargetKept {
		policy = PolicyKeepTarget
	}
	return &Outcome{
		EdgeID:      edge.ID,
		Policy:      policy,
		KeptNodeIDs: []string{winnerID},
		DeletedNode: loserID,
	}, nil
}

// Unresolved returns all unresolved CONTRADICTS edges of a graph
func (r *Resolver) Unresolved(graphID string) ([]database.MemoryEdge, error) {
	var edges []database.MemoryEdge
	err := r.store.DB().
		Where("graph_id = ? AND edge_type = ? AND resolution = ?",
			graphID, database.EdgeTypeContradicts, database.ResolutionNone).
		Find(&edges).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unresolved contradictions: %w", err)
	}
	return edges, nil
}
