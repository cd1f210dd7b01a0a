// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"time"
)

// MemoryGraph is the per-subject knowledge graph header row.
// NodeCount and EdgeCount are maintained atomically with entity writes;
// VerifyGraph recomputes them from live rows and flags drift.
type MemoryGraph struct {
	ID                string     `gorm:"primaryKey" json:"id"`
	SubjectID         string     `gorm:"uniqueIndex;not null" json:"subject_id"`
	NodeCount         int        `gorm:"not null;default:0" json:"node_count"`
	EdgeCount         int        `gorm:"not null;default:0" json:"edge_count"`
	SNR               float64    `gorm:"column:snr;not null;default:1.0" json:"snr"`
	CompressionPasses int        `gorm:"not null;default:0" json:"compression_passes"`
	LossVector        string     `gorm:"type:text" json:"loss_vector"` // JSON array of per-pass entropy loss records
	OldestMemoryAt    *time.Time `json:"oldest_memory_at,omitempty"`
	NewestMemoryAt    *time.Time `json:"newest_memory_at,omitempty"`
	LastCompressedAt  *time.Time `json:"last_compressed_at,omitempty"`
	Version           int64      `gorm:"not null;default:1" json:"version"` // bumped on every write, observed by compression commits
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName specifies the table name for MemoryGraph
func (MemoryGraph) TableName() string {
	return "memory_graphs"
}

// MaxSNR is the upper bound on a graph's signal-to-noise ratio.
const MaxSNR = 2.0

// MemoryNode is a single memory belonging to one graph.
// Content may be stored encrypted; the store is responsible for sealing
// and unsealing it so callers only ever see plaintext.
type MemoryNode struct {
	ID             string    `gorm:"primaryKey" json:"id"`
	GraphID        string    `gorm:"index;not null" json:"graph_id"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	Modality       string    `gorm:"not null;default:'episodic'" json:"modality"`
	Salience       float64   `gorm:"not null;default:0.5" json:"salience"`
	Topic          string    `gorm:"index" json:"topic,omitempty"`
	SessionID      string    `gorm:"index" json:"session_id,omitempty"`
	Ephemeral      bool      `gorm:"not null;default:false" json:"ephemeral"` // session_only remembrance policy
	Provenance     string    `gorm:"type:text" json:"provenance,omitempty"`   // JSON metadata for consolidated nodes
	AccessCount    int       `gorm:"not null;default:0" json:"access_count"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	CreatedAt      time.Time `json:"created_at"`

	Graph MemoryGraph `gorm:"foreignKey:GraphID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for MemoryNode
func (MemoryNode) TableName() string {
	return "memory_nodes"
}

// MemoryEdge connects two nodes within one graph.
type MemoryEdge struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	GraphID    string    `gorm:"index;not null" json:"graph_id"`
	SourceID   string    `gorm:"index;not null" json:"source_id"`
	TargetID   string    `gorm:"index;not null" json:"target_id"`
	EdgeType   string    `gorm:"not null" json:"edge_type"`
	Strength   float64   `gorm:"not null;default:0.5" json:"strength"`
	Resolution string    `gorm:"not null;default:''" json:"resolution"` // only meaningful for CONTRADICTS edges
	CreatedAt  time.Time `json:"created_at"`

	Graph  MemoryGraph `gorm:"foreignKey:GraphID;constraint:OnDelete:CASCADE" json:"-"`
	Source MemoryNode  `gorm:"foreignKey:SourceID;constraint:OnDelete:CASCADE" json:"-"`
	Target MemoryNode  `gorm:"foreignKey:TargetID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for MemoryEdge
func (MemoryEdge) TableName() string {
	return "memory_edges"
}

// LedgerEntry is a durable fact exempt from ordinary pruning.
// Negotiation entries (category "negotiation") carry a Topic and Policy
// that gate future node writes matching the topic.
type LedgerEntry struct {
	ID              string    `gorm:"primaryKey" json:"id"`
	GraphID         string    `gorm:"index;not null" json:"graph_id"`
	Content         string    `gorm:"type:text;not null" json:"content"`
	Category        string    `gorm:"not null" json:"category"`
	Importance      float64   `gorm:"not null;default:0.5" json:"importance"`
	TriggerKeywords string    `gorm:"type:text" json:"trigger_keywords"` // JSON array, ordered
	NodeRefs        string    `gorm:"type:text" json:"node_refs"`        // JSON array of protected node ids
	Topic           string    `gorm:"index" json:"topic,omitempty"`
	Policy          string    `json:"policy,omitempty"`
	AccessCount     int       `gorm:"not null;default:0" json:"access_count"`
	LastAccessedAt  time.Time `json:"last_accessed_at"`
	Active          bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Graph MemoryGraph `gorm:"foreignKey:GraphID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for LedgerEntry
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// MemorySession groups nodes written during one conversation. It carries
// only the bookkeeping used to compute engagement; it is not part of the
// graph's internal structure.
type MemorySession struct {
	ID           string     `gorm:"primaryKey" json:"id"`
	GraphID      string     `gorm:"index;not null" json:"graph_id"`
	MessageCount int        `gorm:"not null;default:0" json:"message_count"`
	StartedAt    time.Time  `gorm:"not null" json:"started_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`

	Graph MemoryGraph `gorm:"foreignKey:GraphID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for MemorySession
func (MemorySession) TableName() string {
	return "memory_sessions"
}

// Modality constants for memory nodes
const (
	ModalityEpisodic   = "episodic"
	ModalitySemantic   = "semantic"
	ModalityEmotional  = "emotional"
	ModalityProcedural = "procedural"
	ModalityOther      = "other"
)

// ValidModalities returns all valid node modalities
func ValidModalities() []string {
	return []string{
		ModalityEpisodic,
		ModalitySemantic,
		ModalityEmotional,
		ModalityProcedural,
		ModalityOther,
	}
}

// IsValidModality checks if a modality is valid
func IsValidModality(m string) bool {
	return isValidType(m, ValidModalities())
}

// EdgeType constants for memory edges
const (
	EdgeTypeRelatesTo   = "RELATES_TO"
	EdgeTypeSupports    = "SUPPORTS"
	EdgeTypeContradicts = "CONTRADICTS"
	EdgeTypeCauses      = "CAUSES"
	EdgeTypeOther       = "OTHER"
)

// ValidEdgeTypes returns all valid edge types
func ValidEdgeTypes() []string {
	return []string{
		EdgeTypeRelatesTo,
		EdgeTypeSupports,
		EdgeTypeContradicts,
		EdgeTypeCauses,
		EdgeTypeOther,
	}
}

// IsValidEdgeType checks if an edge type is valid
func IsValidEdgeType(t string) bool {
	return isValidType(t, ValidEdgeTypes())
}

// Resolution constants for CONTRADICTS edges
const (
	ResolutionNone       = ""
	ResolutionMerged     = "merged"
	ResolutionSourceKept = "source_kept"
	ResolutionTargetKept = "target_kept"
)

// LedgerCategory constants
const (
	LedgerCategoryInstruction = "instruction"
	LedgerCategoryCommitment  = "commitment"
	LedgerCategoryNegotiation = "negotiation"
)

// ValidLedgerCategories returns all valid ledger categories
func ValidLedgerCategories() []string {
	return []string{
		LedgerCategoryInstruction,
		LedgerCategoryCommitment,
		LedgerCategoryNegotiation,
	}
}

// IsValidLedgerCategory checks if a ledger category is valid
func IsValidLedgerCategory(c string) bool {
	return isValidType(c, ValidLedgerCategories())
}

// RemembrancePolicy constants for negotiation ledger entries
const (
	PolicyNever       = "never"
	PolicySessionOnly = "session_only"
	PolicyAskEachTime = "ask_each_time"
	PolicyAlways      = "always"
)

// ValidRemembrancePolicies returns all valid remembrance policies
func ValidRemembrancePolicies() []string {
	return []string{
		PolicyNever,
		PolicySessionOnly,
		PolicyAskEachTime,
		PolicyAlways,
	}
}

// IsValidRemembrancePolicy checks if a remembrance policy is valid
func IsValidRemembrancePolicy(p string) bool {
	return isValidType(p, ValidRemembrancePolicies())
}

// isValidType is a generic helper to check if a type is in a list of valid types
func isValidType(aType string, validTypes []string) bool {
	for _, valid := range validTypes {
		if aType == valid {
			return true
		}
	}
	return false
}
