// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package graph walks memory neighborhoods. Retrieval ranks nodes by
// relevance to a query; traversal answers the other question, "what is
// connected to this memory", regardless of query similarity.
package graph

import (
	"sort"
	"time"

	"github.com/tejzpr/munin-mcp/internal/gravity"
	"github.com/tejzpr/munin-mcp/internal/store"
)

const maxHopLimit = 5

// Node is one memory in a traversed subgraph.
type Node struct {
	ID       string  `json:"id"`
	Content  string  `json:"content"`
	Modality string  `json:"modality"`
	Topic    string  `json:"topic,omitempty"`
	Gravity  float64 `json:"gravity"`
	Depth    int     `json:"depth"`
}

// Edge is one connection in a traversed subgraph. Both endpoints are
// always present in the subgraph's node set.
type Edge struct {
	ID       string  `json:"id"`
	SourceID string  `json:"source_id"`
	TargetID string  `json:"target_id"`
	EdgeType string  `json:"edge_type"`
	Strength float64 `json:"strength"`
}

// Subgraph is the result of a traversal: the visited nodes ordered by
// depth then gravity, plus every edge between them.
type Subgraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Traverser walks the memory graph breadth-first from an anchor node.
type Traverser struct {
	store *store.Store
	decay gravity.DecayParams
}

// NewTraverser creates a traverser over the given store.
func NewTraverser(s *store.Store, decay gravity.DecayParams) *Traverser {
	return &Traverser{store: s, decay: decay}
}

// Neighborhood returns the subgraph within maxHops of the anchor node.
// maxHops is clamped to a safety limit; edges touching a node outside
// the visited set are dropped.
func (t *Traverser) Neighborhood(anchorID string, maxHops int) (*Subgraph, error) {
	if maxHops < 1 {
		maxHops = 1
	}
	if maxHops > maxHopLimit {
		maxHops = maxHopLimit
	}

	anchor, err := t.store.GetNode(anchorID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sub := &Subgraph{Nodes: []Node{}, Edges: []Edge{}}
	depths := map[string]int{anchor.ID: 0}
	sub.Nodes = append(sub.Nodes, t.toNode(anchor.ID, anchor.Content, anchor.Modality, anchor.Topic,
		t.decay.Gravity(anchor.Salience, anchor.CreatedAt, anchor.AccessCount, now), 0))

	frontier := []string{anchor.ID}
	for depth := 1; depth <= maxHops && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			neighbors, err := t.store.GetConnectedNodes(id)
			if err != nil {
				return nil, err
			}
			for _, n := range neighbors {
				if _, seen := depths[n.ID]; seen {
					continue
				}
				depths[n.ID] = depth
				g := t.decay.Gravity(n.Salience, n.CreatedAt, n.AccessCount, now)
				sub.Nodes = append(sub.Nodes, t.toNode(n.ID, n.Content, n.Modality, n.Topic, g, depth))
				next = append(next, n.ID)
			}
		}
		frontier = next
	}

	sort.Slice(sub.Nodes, func(i, j int) bool {
		if sub.Nodes[i].Depth != sub.Nodes[j].Depth {
			return sub.Nodes[i].Depth < sub.Nodes[j].Depth
		}
		if sub.Nodes[i].Gravity != sub.Nodes[j].Gravity {
			return sub.Nodes[i].Gravity > sub.Nodes[j].Gravity
		}
		return sub.Nodes[i].ID < sub.Nodes[j].ID
	})

	if err := t.collectEdges(anchor.GraphID, depths, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (t *Traverser) toNode(id, content, modality, topic string, g float64, depth int) Node {
	return Node{ID: id, Content: content, Modality: modality, Topic: topic, Gravity: g, Depth: depth}
}

// collectEdges keeps every graph edge whose endpoints were both visited.
func (t *Traverser) collectEdges(graphID string, visited map[string]int, sub *Subgraph) error {
	edges, err := t.store.GetEdges(graphID)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if _, ok := visited[e.SourceID]; !ok {
			continue
		}
		if _, ok := visited[e.TargetID]; !ok {
			continue
		}
		sub.Edges = append(sub.Edges, Edge{
			ID:       e.ID,
			SourceID: e.SourceID,
			TargetID: e.TargetID,
			EdgeType: e.EdgeType,
			Strength: e.Strength,
		})
	}
	sort.Slice(sub.Edges, func(i, j int) bool { return sub.Edges[i].ID < sub.Edges[j].ID })
	return nil
}
