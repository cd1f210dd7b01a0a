// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package compression runs the two-layer compression pass: layer 1
// prunes nodes whose gravity fell below the noise floor, layer 2
// consolidates clusters of semantically dense survivors into single
// nodes. A pass is planned against a snapshot of the graph and applied
// in one transaction; a concurrent write in between aborts the pass.
package compression

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/embeddings"
	"github.com/tejzpr/munin-mcp/internal/gravity"
	"github.com/tejzpr/munin-mcp/internal/locking"
	"github.com/tejzpr/munin-mcp/internal/store"
	"go.uber.org/zap"
)

// embeddingBatchSize is the provider batch size used when embedding
// survivors for clustering
const embeddingBatchSize = 32

// ConcurrentModificationError is returned when a pass was aborted twice
// in a row by concurrent graph writes
type ConcurrentModificationError struct {
	GraphID string
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("compression of graph %s aborted by concurrent modification", e.GraphID)
}

// CompressionFailedError is returned when a pass could not be planned,
// typically because the embedding provider failed. Nothing was written.
type CompressionFailedError struct {
	GraphID string
	Err     error
}

func (e *CompressionFailedError) Error() string {
	return fmt.Sprintf("compression of graph %s failed: %v", e.GraphID, e.Err)
}

func (e *CompressionFailedError) Unwrap() error {
	return e.Err
}

// Report summarizes one completed compression pass
type Report struct {
	PassID      string  `json:"pass_id"`
	GraphID     string  `json:"graph_id"`
	NodesBefore int     `json:"nodes_before"`
	NodesAfter  int     `json:"nodes_after"`
	NodesPruned int     `json:"nodes_pruned"`
	NodesMerged int     `json:"nodes_merged"`
	Clusters    int     `json:"clusters"`
	EntropyLoss float64 `json:"entropy_loss"`
	SNRBefore   float64 `json:"snr_before"`
	NewSNR      float64 `json:"new_snr"`
	DurationMs  int64   `json:"duration_ms"`
}

// Engine plans and applies compression passes
type Engine struct {
	store          *store.Store
	embeddings     *embeddings.Service
	locker         *locking.Locker
	summarizer     Summarizer
	thresholds     gravity.Thresholds
	decay          gravity.DecayParams
	maxClusterSize int
	logger         *zap.Logger
}

// NewEngine creates a compression engine. The embedding service may be
// nil, in which case only layer 1 pruning runs.
func NewEngine(s *store.Store, emb *embeddings.Service, locker *locking.Locker,
	thresholds gravity.Thresholds, decay gravity.DecayParams, maxClusterSize int, logger *zap.Logger) *Engine {
	if maxClusterSize < 2 {
		maxClusterSize = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		store:          s,
		embeddings:     emb,
		locker:         locker,
		summarizer:     NewExtractiveSummarizer(),
		thresholds:     thresholds,
		decay:          decay,
		maxClusterSize: maxClusterSize,
		logger:         logger,
	}
}

// WithSummarizer replaces the default extractive summarizer
func (e *Engine) WithSummarizer(s Summarizer) *Engine {
	e.summarizer = s
	return e
}

// Compress runs one full compression pass over a graph under its lock.
// A pass aborted by a concurrent write is re-planned once from fresh
// state; a second abort surfaces as ConcurrentModificationError.
func (e *Engine) Compress(graphID, holder string) (*Report, error) {
	var report *Report
	err := e.locker.WithLock(graphID, holder, func() error {
		var err error
		report, err = e.runPass(graphID)

		var conflict *locking.ConflictError
		if errors.As(err, &conflict) {
			e.logger.Info("compression pass aborted by concurrent write, re-planning",
				zap.String("graph_id", graphID))
			report, err = e.runPass(graphID)
			if errors.As(err, &conflict) {
				return &ConcurrentModificationError{GraphID: graphID}
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// runPass plans one pass against the current graph snapshot and applies it
func (e *Engine) runPass(graphID string) (*Report, error) {
	start := time.Now()

	graph, err := e.store.GetGraph(graphID)
	if err != nil {
		return nil, err
	}
	nodes, err := e.store.GetNodes(graphID)
	if err != nil {
		return nil, err
	}
	protected, err := e.protectedSet(graphID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	gravities := make(map[string]float64, len(nodes))
	var totalGravity float64
	for i := range nodes {
		g := e.decay.Gravity(nodes[i].Salience, nodes[i].CreatedAt, nodes[i].AccessCount, now)
		gravities[nodes[i].ID] = g
		totalGravity += g
	}

	// Layer 1: prune below the noise floor, protected nodes exempt
	var pruneIDs []string
	var survivors []database.MemoryNode
	for i := range nodes {
		if !protected[nodes[i].ID] && e.thresholds.PruneEligible(gravities[nodes[i].ID]) {
			pruneIDs = append(pruneIDs, nodes[i].ID)
			continue
		}
		survivors = append(survivors, nodes[i])
	}

	// Layer 2: consolidate dense clusters of survivors
	merges, err := e.planMerges(survivors, protected, gravities)
	if err != nil {
		return nil, &CompressionFailedError{GraphID: graphID, Err: err}
	}

	removed := len(pruneIDs)
	for _, m := range merges {
		removed += len(m.MemberIDs) - 1
	}

	entropyLoss := e.entropyLoss(pruneIDs, merges, gravities, totalGravity, now)

	removedRatio := 0.0
	if len(nodes) > 0 {
		removedRatio = float64(removed) / float64(len(nodes))
	}
	newSNR := graph.SNR * e.thresholds.SNRGrowth(removedRatio)
	if newSNR > database.MaxSNR {
		newSNR = database.MaxSNR
	}

	commit := store.CompressionCommit{
		SnapshotVersion: graph.Version,
		SnapshotPasses:  graph.CompressionPasses,
		PruneIDs:        pruneIDs,
		Merges:          merges,
		NewSNR:          newSNR,
		EntropyLoss:     entropyLoss,
	}
	result, err := e.store.ApplyCompression(graphID, commit)
	if err != nil {
		return nil, err
	}

	e.dropStaleEmbeddings(pruneIDs, merges)

	report := &Report{
		PassID:      uuid.NewString(),
		GraphID:     graphID,
		NodesBefore: len(nodes),
		NodesAfter:  result.NodeCount,
		NodesPruned: len(pruneIDs),
		NodesMerged: removed - len(pruneIDs),
		Clusters:    len(merges),
		EntropyLoss: entropyLoss,
		SNRBefore:   graph.SNR,
		NewSNR:      newSNR,
		DurationMs:  time.Since(start).Milliseconds(),
	}
	e.logger.Info("compression pass complete",
		zap.String("graph_id", graphID),
		zap.String("pass_id", report.PassID),
		zap.Int("nodes_pruned", report.NodesPruned),
		zap.Int("nodes_merged", report.NodesMerged),
		zap.Float64("entropy_loss", report.EntropyLoss),
		zap.Float64("snr", report.NewSNR))
	return report, nil
}

// protectedSet is the union of ledger-referenced nodes and the endpoints
// of unresolved CONTRADICTS edges. Protected nodes are never pruned or
// merged away.
func (e *Engine) protectedSet(graphID string) (map[string]bool, error) {
	protected, err := e.store.ProtectedNodeIDs(graphID)
	if err != nil {
		return nil, err
	}

	edges, err := e.store.GetEdges(graphID)
	if err != nil {
		return nil, err
	}
	for _, edge := range edges {
		if edge.EdgeType == database.EdgeTypeContradicts && edge.Resolution == database.ResolutionNone {
			protected[edge.SourceID] = true
			protected[edge.TargetID] = true
		}
	}
	return protected, nil
}

// planMerges clusters unprotected survivors whose pairwise similarity
// clears the density threshold and plans one merge per cluster
func (e *Engine) planMerges(survivors []database.MemoryNode, protected map[string]bool, gravities map[string]float64) ([]store.MergeSpec, error) {
	if e.embeddings == nil || !e.embeddings.IsEnabled() {
		return nil, nil
	}

	var candidates []database.MemoryNode
	contents := make(map[string]string)
	for i := range survivors {
		if protected[survivors[i].ID] {
			continue
		}
		candidates = append(candidates, survivors[i])
		contents[survivors[i].ID] = survivors[i].Content
	}
	if len(candidates) < 2 {
		return nil, nil
	}

	vectors, err := e.embeddings.GetEmbeddingsBatch(contents, embeddingBatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to embed survivors: %w", err)
	}

	clusters := e.cluster(candidates, vectors)

	byID := make(map[string]database.MemoryNode, len(candidates))
	for i := range candidates {
		byID[candidates[i].ID] = candidates[i]
	}

	var merges []store.MergeSpec
	for _, memberIDs := range clusters {
		if len(memberIDs) < 2 {
			continue
		}
		spec, err := e.planMerge(memberIDs, byID, gravities)
		if err != nil {
			return nil, err
		}
		merges = append(merges, spec)
	}
	return merges, nil
}

// cluster groups candidates by single-linkage over the density threshold,
// splitting oversized groups at maxClusterSize
func (e *Engine) cluster(candidates []database.MemoryNode, vectors map[string][]float32) [][]string {
	parent := make(map[string]string, len(candidates))
	var find func(string) string
	find = func(id string) string {
		if parent[id] != id {
			parent[id] = find(parent[id])
		}
		return parent[id]
	}
	for i := range candidates {
		parent[candidates[i].ID] = candidates[i].ID
	}

	for i := 0; i < len(candidates); i++ {
		vi, ok := vectors[candidates[i].ID]
		if !ok {
			continue
		}
		for j := i + 1; j < len(candidates); j++ {
			vj, ok := vectors[candidates[j].ID]
			if !ok {
				continue
			}
			if e.thresholds.Clusterable(embeddings.CosineSimilarity(vi, vj)) {
				parent[find(candidates[i].ID)] = find(candidates[j].ID)
			}
		}
	}

	groups := make(map[string][]string)
	for i := range candidates {
		root := find(candidates[i].ID)
		groups[root] = append(groups[root], candidates[i].ID)
	}

	roots := make([]string, 0, len(groups))
	for root := range groups {
		roots = append(roots, root)
	}
	sort.Strings(roots)

	var clusters [][]string
	for _, root := range roots {
		group := groups[root]
		for len(group) > e.maxClusterSize {
			clusters = append(clusters, group[:e.maxClusterSize])
			group = group[e.maxClusterSize:]
		}
		clusters = append(clusters, group)
	}
	return clusters
}

// planMerge builds the replacement node for one cluster
func (e *Engine) planMerge(memberIDs []string, byID map[string]database.MemoryNode, gravities map[string]float64) (store.MergeSpec, error) {
	// Highest gravity first: it leads the summary and dominates the
	// combined salience.
	sort.Slice(memberIDs, func(i, j int) bool {
		if gravities[memberIDs[i]] != gravities[memberIDs[j]] {
			return gravities[memberIDs[i]] > gravities[memberIDs[j]]
		}
		return memberIDs[i] < memberIDs[j]
	})

	contents := make([]string, len(memberIDs))
	saliences := make([]float64, len(memberIDs))
	members := make([]database.MemoryNode, len(memberIDs))
	for i, id := range memberIDs {
		members[i] = byID[id]
		contents[i] = members[i].Content
		saliences[i] = members[i].Salience
	}

	content, err := e.summarizer.Summarize(contents)
	if err != nil {
		return store.MergeSpec{}, fmt.Errorf("failed to summarize cluster: %w", err)
	}

	provenance, err := json.Marshal(map[string]interface{}{
		"merged_from": memberIDs,
		"merged_at":   time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return store.MergeSpec{}, fmt.Errorf("failed to encode provenance: %w", err)
	}

	lead := members[0]
	spec := store.MergeSpec{
		MemberIDs:      memberIDs,
		Content:        content,
		Modality:       majorityModality(members),
		Salience:       e.thresholds.WeightedSalience(saliences),
		Topic:          lead.Topic,
		Provenance:     string(provenance),
		AccessCount:    lead.AccessCount,
		LastAccessedAt: lead.LastAccessedAt,
		CreatedAt:      lead.CreatedAt,
	}
	for _, m := range members[1:] {
		if m.AccessCount > spec.AccessCount {
			spec.AccessCount = m.AccessCount
		}
		if m.LastAccessedAt.After(spec.LastAccessedAt) {
			spec.LastAccessedAt = m.LastAccessedAt
		}
		if m.CreatedAt.Before(spec.CreatedAt) {
			spec.CreatedAt = m.CreatedAt
		}
	}
	return spec, nil
}

// majorityModality picks the most common member modality; ties go to the
// lead member's modality
func majorityModality(members []database.MemoryNode) string {
	counts := make(map[string]int, len(members))
	for i := range members {
		counts[members[i].Modality]++
	}
	best := members[0].Modality
	for _, modality := range database.ValidModalities() {
		if counts[modality] > counts[best] {
			best = modality
		}
	}
	return best
}

// entropyLoss is the fraction of the graph's gravity mass a pass gives
// up: pruned nodes lose their full mass, merged clusters lose whatever
// the consolidated node does not retain.
func (e *Engine) entropyLoss(pruneIDs []string, merges []store.MergeSpec, gravities map[string]float64, totalGravity float64, now time.Time) float64 {
	if totalGravity <= 0 {
		return 0
	}

	var lost float64
	for _, id := range pruneIDs {
		lost += gravities[id]
	}
	for _, m := range merges {
		var memberMass float64
		for _, id := range m.MemberIDs {
			memberMass += gravities[id]
		}
		retained := e.decay.Gravity(m.Salience, m.CreatedAt, m.AccessCount, now)
		if retained < memberMass {
			lost += memberMass - retained
		}
	}

	loss := lost / totalGravity
	if loss < 0 {
		loss = 0
	}
	if loss > 1 {
		loss = 1
	}
	return loss
}

// dropStaleEmbeddings removes cached vectors for nodes a pass deleted.
// Best effort: a leftover row is harmless, the cache is keyed by node id
// and never queried for deleted nodes.
func (e *Engine) dropStaleEmbeddings(pruneIDs []string, merges []store.MergeSpec) {
	if e.embeddings == nil {
		return
	}
	drop := append([]string{}, pruneIDs...)
	for _, m := range merges {
		drop = append(drop, m.MemberIDs...)
	}
	for _, id := range drop {
		if err := e.embeddings.DeleteEmbedding(id); err != nil {
			e.logger.Warn("failed to drop stale embedding", zap.String("node_id", id), zap.Error(err))
		}
	}
}
