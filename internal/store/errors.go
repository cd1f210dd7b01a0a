// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import "fmt"

// NotFoundError is returned when a graph, node, edge or ledger entry
// does not exist.
type NotFoundError struct {
	Kind string // "graph", "node", "edge", "ledger_entry", "session"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// CascadeError is returned when a delete is blocked because the node is
// the source of an unresolved CONTRADICTS edge and force was not set.
// Silently deleting one side of an open contradiction would make the
// conflict unrecoverable.
type CascadeError struct {
	NodeID string
	EdgeID string
}

func (e *CascadeError) Error() string {
	return fmt.Sprintf("node %s has unresolved contradiction (edge %s); use force to delete", e.NodeID, e.EdgeID)
}

// IntegrityError is returned by VerifyGraph when the stored node/edge
// counts diverge from the true count of live rows.
type IntegrityError struct {
	GraphID     string
	StoredNodes int
	LiveNodes   int
	StoredEdges int
	LiveEdges   int
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("graph %s integrity mismatch: nodes stored=%d live=%d, edges stored=%d live=%d",
		e.GraphID, e.StoredNodes, e.LiveNodes, e.StoredEdges, e.LiveEdges)
}

// PolicyViolationError is returned when a node write is blocked by an
// active remembrance negotiation. Deferred distinguishes ask_each_time
// (the orchestrator should re-ask the subject) from never (hard block).
type PolicyViolationError struct {
	Topic    string
	Policy   string
	Deferred bool
}

func (e *PolicyViolationError) Error() string {
	if e.Deferred {
		return fmt.Sprintf("write on topic %q deferred: policy is %s", e.Topic, e.Policy)
	}
	return fmt.Sprintf("write on topic %q blocked: policy is %s", e.Topic, e.Policy)
}
