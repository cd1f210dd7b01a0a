// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package privacy

import (
	"time"

	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/gravity"
	"github.com/tejzpr/munin-mcp/internal/store"
)

// SupervisionSummary is the content-free view of a subject's memory.
// It carries counts, scores and timestamps only; the struct has no
// field that could hold memory content, so the boundary holds by
// construction rather than by filtering.
type SupervisionSummary struct {
	SubjectID         string     `json:"subject_id"`
	NodeCount         int        `json:"node_count"`
	EdgeCount         int        `json:"edge_count"`
	LedgerCount       int        `json:"ledger_count"`
	SessionCount      int        `json:"session_count"`
	SessionsActive    int        `json:"sessions_active"`
	ContradictionOpen int        `json:"contradictions_open"`
	SNR               float64    `json:"snr"`
	CompressionPasses int        `json:"compression_passes"`
	EntropyLossTotal  float64    `json:"entropy_loss_total"`
	MeanGravity       float64    `json:"mean_gravity"`
	ModalityCounts    map[string]int `json:"modality_counts"`
	OldestMemoryAt    *time.Time `json:"oldest_memory_at,omitempty"`
	NewestMemoryAt    *time.Time `json:"newest_memory_at,omitempty"`
	LastCompressedAt  *time.Time `json:"last_compressed_at,omitempty"`
	GeneratedAt       time.Time  `json:"generated_at"`
}

// Summarizer builds supervision summaries
type Summarizer struct {
	store *store.Store
	decay gravity.DecayParams
}

// NewSummarizer creates a supervision summarizer
func NewSummarizer(s *store.Store, decay gravity.DecayParams) *Summarizer {
	return &Summarizer{store: s, decay: decay}
}

// Summarize builds the supervision summary for a subject
func (s *Summarizer) Summarize(subjectID string) (*SupervisionSummary, error) {
	graph, err := s.store.GetGraphBySubject(subjectID)
	if err != nil {
		return nil, err
	}

	summary := &SupervisionSummary{
		SubjectID:         subjectID,
		NodeCount:         graph.NodeCount,
		EdgeCount:         graph.EdgeCount,
		SNR:               graph.SNR,
		CompressionPasses: graph.CompressionPasses,
		ModalityCounts:    make(map[string]int),
		OldestMemoryAt:    graph.OldestMemoryAt,
		NewestMemoryAt:    graph.NewestMemoryAt,
		LastCompressedAt:  graph.LastCompressedAt,
		GeneratedAt:       time.Now(),
	}

	losses, err := store.DecodeLossVector(graph.LossVector)
	if err != nil {
		return nil, err
	}
	for _, loss := range losses {
		summary.EntropyLossTotal += loss
	}

	entries, err := s.store.ActiveLedgerEntries(graph.ID)
	if err != nil {
		return nil, err
	}
	summary.LedgerCount = len(entries)

	var sessionCount, activeCount int64
	if err := s.store.DB().Model(&database.MemorySession{}).
		Where("graph_id = ?", graph.ID).Count(&sessionCount).Error; err != nil {
		return nil, err
	}
	if err := s.store.DB().Model(&database.MemorySession{}).
		Where("graph_id = ? AND ended_at IS NULL", graph.ID).Count(&activeCount).Error; err != nil {
		return nil, err
	}
	summary.SessionCount = int(sessionCount)
	summary.SessionsActive = int(activeCount)

	edges, err := s.store.GetEdges(graph.ID)
	if err != nil {
		return nil, err
	}
	for _, edge := range edges {
		if edge.EdgeType == database.EdgeTypeContradicts && edge.Resolution == database.ResolutionNone {
			summary.ContradictionOpen++
		}
	}

	nodes, err := s.store.GetNodes(graph.ID)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	var total float64
	for i := range nodes {
		summary.ModalityCounts[nodes[i].Modality]++
		total += s.decay.Gravity(nodes[i].Salience, nodes[i].CreatedAt, nodes[i].AccessCount, now)
	}
	if len(nodes) > 0 {
		summary.MeanGravity = total / float64(len(nodes))
	}

	return summary, nil
}
