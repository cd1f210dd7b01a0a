// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package retrieval assembles the context bundle for a conversation
// turn: triggered ledger entries first, then the most relevant memories
// that fit the token budget. Relevance is semantic similarity scaled by
// gravity, so a perfect match that has decayed to noise still loses to
// a decent match that is alive.
package retrieval

import (
	"sort"
	"strings"
	"time"

	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/embeddings"
	"github.com/tejzpr/munin-mcp/internal/gravity"
	"github.com/tejzpr/munin-mcp/internal/store"
	"go.uber.org/zap"
)

// MemoryItem is one memory selected into a context bundle
type MemoryItem struct {
	NodeID     string  `json:"node_id"`
	Content    string  `json:"content"`
	Modality   string  `json:"modality"`
	Topic      string  `json:"topic,omitempty"`
	Gravity    float64 `json:"gravity"`
	Similarity float64 `json:"similarity"`
	Relevance  float64 `json:"relevance"`
	Tokens     int     `json:"tokens"`
}

// LedgerItem is one triggered ledger entry in a context bundle
type LedgerItem struct {
	EntryID    string  `json:"entry_id"`
	Content    string  `json:"content"`
	Category   string  `json:"category"`
	Importance float64 `json:"importance"`
	Tokens     int     `json:"tokens"`
}

// ContextBundle is the assembled context for one turn
type ContextBundle struct {
	SubjectID   string       `json:"subject_id"`
	GraphID     string       `json:"graph_id"`
	Query       string       `json:"query"`
	Ledger      []LedgerItem `json:"ledger"`
	Memories    []MemoryItem `json:"memories"`
	TokenBudget int          `json:"token_budget"`
	TokensUsed  int          `json:"tokens_used"`
	Dropped     int          `json:"dropped"`
	Degraded    bool         `json:"degraded"`
	SNR         float64      `json:"snr"`
}

// Retriever builds context bundles
type Retriever struct {
	store        *store.Store
	embeddings   *embeddings.Service
	thresholds   gravity.Thresholds
	decay        gravity.DecayParams
	ledgerCutoff float64
	logger       *zap.Logger
}

// NewRetriever creates a retriever. The embedding service may be nil;
// retrieval then ranks by gravity alone.
func NewRetriever(s *store.Store, emb *embeddings.Service, thresholds gravity.Thresholds,
	decay gravity.DecayParams, ledgerCutoff float64, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		store:        s,
		embeddings:   emb,
		thresholds:   thresholds,
		decay:        decay,
		ledgerCutoff: ledgerCutoff,
		logger:       logger,
	}
}

// BuildContext assembles the context bundle for a turn. Triggered ledger
// entries are admitted first, then memories by descending relevance
// until the token budget is spent. Provider failure degrades to
// gravity-only ranking instead of failing the turn.
func (r *Retriever) BuildContext(subjectID, query string, keywords []string, tokenBudget int) (*ContextBundle, error) {
	graph, err := r.store.GetGraphBySubject(subjectID)
	if err != nil {
		return nil, err
	}

	bundle := &ContextBundle{
		SubjectID:   subjectID,
		GraphID:     graph.ID,
		Query:       query,
		Ledger:      []LedgerItem{},
		Memories:    []MemoryItem{},
		TokenBudget: tokenBudget,
		SNR:         graph.SNR,
	}

	if err := r.attachLedger(bundle, graph.ID, query, keywords); err != nil {
		return nil, err
	}

	nodes, err := r.store.GetNodes(graph.ID)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return bundle, nil
	}

	scored := r.scoreNodes(bundle, graph.ID, nodes, query)

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Relevance != scored[j].Relevance {
			return scored[i].Relevance > scored[j].Relevance
		}
		return scored[i].NodeID < scored[j].NodeID
	})

	for _, item := range scored {
		if bundle.TokensUsed+item.Tokens > tokenBudget {
			bundle.Dropped++
			continue
		}
		bundle.Memories = append(bundle.Memories, item)
		bundle.TokensUsed += item.Tokens
		if err := r.store.RecordAccess(item.NodeID); err != nil {
			r.logger.Warn("failed to record memory access",
				zap.String("node_id", item.NodeID), zap.Error(err))
		}
	}

	return bundle, nil
}

// scoreNodes computes relevance per node. With a usable query embedding
// relevance is similarity times gravity; otherwise gravity alone and the
// bundle is marked degraded.
func (r *Retriever) scoreNodes(bundle *ContextBundle, graphID string, nodes []database.MemoryNode, query string) []MemoryItem {
	now := time.Now()

	var queryVector []float32
	var nodeVectors map[string][]float32
	if r.embeddings != nil && r.embeddings.IsEnabled() && strings.TrimSpace(query) != "" {
		vec, err := r.embeddings.EmbedQuery(query)
		if err != nil {
			r.logger.Warn("query embedding failed, ranking by gravity only",
				zap.String("graph_id", graphID), zap.Error(err))
		} else {
			queryVector = vec
			contents := make(map[string]string, len(nodes))
			for i := range nodes {
				contents[nodes[i].ID] = nodes[i].Content
			}
			nodeVectors, err = r.embeddings.GetEmbeddingsBatch(contents, 32)
			if err != nil {
				r.logger.Warn("node embedding failed, ranking by gravity only",
					zap.String("graph_id", graphID), zap.Error(err))
				queryVector = nil
			}
		}
	}
	bundle.Degraded = queryVector == nil

	items := make([]MemoryItem, 0, len(nodes))
	for i := range nodes {
		node := &nodes[i]
		g := r.decay.Gravity(node.Salience, node.CreatedAt, node.AccessCount, now)

		item := MemoryItem{
			NodeID:   node.ID,
			Content:  node.Content,
			Modality: node.Modality,
			Topic:    node.Topic,
			Gravity:  g,
			Tokens:   EstimateTokens(node.Content),
		}
		if queryVector != nil {
			if vec, ok := nodeVectors[node.ID]; ok {
				item.Similarity = embeddings.CosineSimilarity(queryVector, vec)
			}
			item.Relevance = item.Similarity * g
		} else {
			item.Relevance = g
		}
		items = append(items, item)
	}
	return items
}

// attachLedger admits triggered ledger entries into the bundle ahead of
// memories. An entry triggers when its importance clears the cutoff and
// either a trigger keyword appears in the query or keyword list, or a
// query term appears in the entry's content.
func (r *Retriever) attachLedger(bundle *ContextBundle, graphID, query string, keywords []string) error {
	entries, err := r.store.ActiveLedgerEntries(graphID)
	if err != nil {
		return err
	}

	haystack := strings.ToLower(query)
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(strings.TrimSpace(k))
	}

	for i := range entries {
		entry := &entries[i]
		if entry.Importance <= r.ledgerCutoff {
			continue
		}
		if !r.triggered(entry, haystack, lowered) {
			continue
		}

		tokens := EstimateTokens(entry.Content)
		if bundle.TokensUsed+tokens > bundle.TokenBudget {
			bundle.Dropped++
			continue
		}
		bundle.Ledger = append(bundle.Ledger, LedgerItem{
			EntryID:    entry.ID,
			Content:    entry.Content,
			Category:   entry.Category,
			Importance: entry.Importance,
			Tokens:     tokens,
		})
		bundle.TokensUsed += tokens
		if err := r.store.RecordLedgerAccess(entry.ID); err != nil {
			r.logger.Warn("failed to record ledger access",
				zap.String("entry_id", entry.ID), zap.Error(err))
		}
	}
	return nil
}

// triggered reports whether an entry's trigger keywords or content match
// the query or the caller-supplied keywords. An entry with no trigger
// keywords always triggers: it is an unconditional standing instruction.
func (r *Retriever) triggered(entry *database.LedgerEntry, haystack string, keywords []string) bool {
	triggers, err := store.DecodeStringList(entry.TriggerKeywords)
	if err != nil {
		r.logger.Warn("failed to decode trigger keywords",
			zap.String("entry_id", entry.ID), zap.Error(err))
		return false
	}
	if len(triggers) == 0 {
		return true
	}

	for _, trigger := range triggers {
		trigger = strings.ToLower(strings.TrimSpace(trigger))
		if trigger == "" {
			continue
		}
		if strings.Contains(haystack, trigger) {
			return true
		}
		for _, keyword := range keywords {
			if keyword == trigger || strings.Contains(keyword, trigger) {
				return true
			}
		}
	}

	return contentMatches(entry.Content, haystack, keywords)
}

// minTermLength keeps articles and other short query words from matching
// every entry's content
const minTermLength = 4

// contentMatches reports whether any query term or keyword appears as a
// word of the entry's own content. Word-level prefix comparison, so
// "appointment" matches "appointments" but "the" never matches "weather".
func contentMatches(content, haystack string, keywords []string) bool {
	words := strings.Fields(strings.ToLower(content))
	for i, w := range words {
		words[i] = strings.Trim(w, ".,;:!?\"'()")
	}

	matchesWord := func(term string) bool {
		if len(term) < minTermLength {
			return false
		}
		for _, w := range words {
			if strings.HasPrefix(w, term) {
				return true
			}
		}
		return false
	}

	for _, term := range strings.Fields(haystack) {
		if matchesWord(strings.Trim(term, ".,;:!?\"'()")) {
			return true
		}
	}
	for _, keyword := range keywords {
		if matchesWord(keyword) {
			return true
		}
	}
	return false
}

// EstimateTokens approximates token count as one per four characters.
// Budgets are advisory, a cheap stable estimate beats a tokenizer
// dependency here.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(text)/4 + 1
}
