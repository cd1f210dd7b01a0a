// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package export writes a subject's full memory out as a git-versioned
// archive of markdown files. This is the data-rights surface: the
// subject gets everything remembered about them, in their own words,
// in a format they can read without this system.
package export

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/store"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var (
	slugRegex       = regexp.MustCompile(`[^a-z0-9\s-]`)
	multiSpaceRegex = regexp.MustCompile(`[\s-]+`)
)

// nodeDoc is the frontmatter of an exported memory file
type nodeDoc struct {
	ID         string    `yaml:"id"`
	Modality   string    `yaml:"modality"`
	Salience   float64   `yaml:"salience"`
	Topic      string    `yaml:"topic,omitempty"`
	Provenance string    `yaml:"provenance,omitempty"`
	Accessed   int       `yaml:"access_count"`
	CreatedAt  time.Time `yaml:"created_at"`
}

// ledgerDoc is the frontmatter of an exported ledger file
type ledgerDoc struct {
	ID         string   `yaml:"id"`
	Category   string   `yaml:"category"`
	Importance float64  `yaml:"importance"`
	Topic      string   `yaml:"topic,omitempty"`
	Policy     string   `yaml:"policy,omitempty"`
	Triggers   []string `yaml:"trigger_keywords,omitempty"`
}

// graphDoc is the archive-level summary frontmatter
type graphDoc struct {
	SubjectID         string     `yaml:"subject_id"`
	NodeCount         int        `yaml:"node_count"`
	EdgeCount         int        `yaml:"edge_count"`
	SNR               float64    `yaml:"snr"`
	CompressionPasses int        `yaml:"compression_passes"`
	OldestMemoryAt    *time.Time `yaml:"oldest_memory_at,omitempty"`
	NewestMemoryAt    *time.Time `yaml:"newest_memory_at,omitempty"`
	ExportedAt        time.Time  `yaml:"exported_at"`
}

// Result reports one completed export
type Result struct {
	Path       string `json:"path"`
	Files      int    `json:"files"`
	CommitHash string `json:"commit_hash,omitempty"`
}

// Exporter writes subject archives
type Exporter struct {
	store      *store.Store
	archiveDir string
	logger     *zap.Logger
}

// NewExporter creates an exporter rooted at archiveDir
func NewExporter(s *store.Store, archiveDir string, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{store: s, archiveDir: archiveDir, logger: logger}
}

// Export writes the subject's graph into their archive repository and
// commits it. Content is written in the clear: the archive belongs to
// the subject, not to the deployment.
func (e *Exporter) Export(subjectID string) (*Result, error) {
	graph, err := e.store.GetGraphBySubject(subjectID)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(e.archiveDir, subjectID)
	repo, err := OpenOrInit(path)
	if err != nil {
		return nil, err
	}

	// Rewrite the archive from scratch each export so deletions and
	// merges show up as such in the diff.
	for _, dir := range []string{"memories", "ledger"} {
		if err := os.RemoveAll(filepath.Join(path, dir)); err != nil {
			return nil, fmt.Errorf("failed to reset archive: %w", err)
		}
		if err := os.MkdirAll(filepath.Join(path, dir), 0700); err != nil {
			return nil, fmt.Errorf("failed to create archive subdirectory: %w", err)
		}
	}

	files := 0

	nodes, err := e.store.GetNodes(graph.ID)
	if err != nil {
		return nil, err
	}
	edges, err := e.store.GetEdges(graph.ID)
	if err != nil {
		return nil, err
	}
	edgesBySource := make(map[string][]database.MemoryEdge)
	for _, edge := range edges {
		edgesBySource[edge.SourceID] = append(edgesBySource[edge.SourceID], edge)
	}

	for i := range nodes {
		if err := e.writeNode(path, &nodes[i], edgesBySource[nodes[i].ID]); err != nil {
			return nil, err
		}
		files++
	}

	entries, err := e.store.ActiveLedgerEntries(graph.ID)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if err := e.writeLedgerEntry(path, &entries[i]); err != nil {
			return nil, err
		}
		files++
	}

	if err := e.writeSummary(path, subjectID, graph); err != nil {
		return nil, err
	}
	files++

	hash, err := repo.CommitAll(fmt.Sprintf("export: memory archive at %s", time.Now().UTC().Format(time.RFC3339)))
	if err != nil {
		return nil, err
	}

	e.logger.Info("subject archive exported",
		zap.String("subject_id", subjectID),
		zap.Int("files", files),
		zap.String("commit", hash))
	return &Result{Path: path, Files: files, CommitHash: hash}, nil
}

// writeNode writes one memory as markdown with frontmatter, listing its
// outgoing edges as a relations section
func (e *Exporter) writeNode(root string, node *database.MemoryNode, outgoing []database.MemoryEdge) error {
	doc := nodeDoc{
		ID:         node.ID,
		Modality:   node.Modality,
		Salience:   node.Salience,
		Topic:      node.Topic,
		Provenance: node.Provenance,
		Accessed:   node.AccessCount,
		CreatedAt:  node.CreatedAt,
	}

	var body bytes.Buffer
	body.WriteString(node.Content)
	if len(outgoing) > 0 {
		body.WriteString("\n\n## Relations\n")
		for _, edge := range outgoing {
			fmt.Fprintf(&body, "- %s %s (strength %.2f)\n", edge.EdgeType, edge.TargetID, edge.Strength)
		}
	}

	markdown, err := toMarkdown(doc, body.String())
	if err != nil {
		return err
	}

	name := slugify(node.Content, node.CreatedAt) + "-" + node.ID[:8] + ".md"
	return writeFile(filepath.Join(root, "memories", name), markdown)
}

func (e *Exporter) writeLedgerEntry(root string, entry *database.LedgerEntry) error {
	triggers, err := store.DecodeStringList(entry.TriggerKeywords)
	if err != nil {
		return err
	}

	doc := ledgerDoc{
		ID:         entry.ID,
		Category:   entry.Category,
		Importance: entry.Importance,
		Topic:      entry.Topic,
		Policy:     entry.Policy,
		Triggers:   triggers,
	}
	markdown, err := toMarkdown(doc, entry.Content)
	if err != nil {
		return err
	}

	name := entry.Category + "-" + entry.ID[:8] + ".md"
	return writeFile(filepath.Join(root, "ledger", name), markdown)
}

func (e *Exporter) writeSummary(root, subjectID string, graph *database.MemoryGraph) error {
	doc := graphDoc{
		SubjectID:         subjectID,
		NodeCount:         graph.NodeCount,
		EdgeCount:         graph.EdgeCount,
		SNR:               graph.SNR,
		CompressionPasses: graph.CompressionPasses,
		OldestMemoryAt:    graph.OldestMemoryAt,
		NewestMemoryAt:    graph.NewestMemoryAt,
		ExportedAt:        time.Now(),
	}
	markdown, err := toMarkdown(doc, "# Memory archive\n\nEverything this system remembers about you, as of the export time above.")
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(root, "README.md"), markdown)
}

// toMarkdown renders frontmatter plus body
func toMarkdown(doc interface{}, body string) (string, error) {
	var buf bytes.Buffer
	buf.WriteString("---\n")

	frontmatter, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal frontmatter: %w", err)
	}
	buf.Write(frontmatter)
	buf.WriteString("---\n\n")
	buf.WriteString(body)
	buf.WriteString("\n")
	return buf.String(), nil
}

func writeFile(path, content string) error {
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write archive file: %w", err)
	}
	return nil
}

// slugify builds a readable filename stem from the first words of the
// content plus the creation date
func slugify(content string, createdAt time.Time) string {
	words := strings.Fields(content)
	if len(words) > 6 {
		words = words[:6]
	}
	slug := strings.ToLower(strings.Join(words, " "))
	slug = slugRegex.ReplaceAllString(slug, "")
	slug = multiSpaceRegex.ReplaceAllString(slug, "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "memory"
	}
	return slug + "-" + createdAt.Format("2006-01-02")
}
