// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tejzpr/munin-mcp/internal/database"
	"gorm.io/gorm"
)

// NewLedgerEntry carries the fields for a ledger write
type NewLedgerEntry struct {
	Content         string
	Category        string
	Importance      float64
	TriggerKeywords []string
	NodeRefs        []string
	Topic           string
	Policy          string
}

// CreateLedgerEntry persists a durable, prune-exempt ledger entry
func (s *Store) CreateLedgerEntry(graphID string, e NewLedgerEntry) (*database.LedgerEntry, error) {
	if !database.IsValidLedgerCategory(e.Category) {
		return nil, fmt.Errorf("invalid ledger category: %s", e.Category)
	}
	if e.Importance < 0 || e.Importance > 1 {
		return nil, fmt.Errorf("importance must be in [0, 1], got %g", e.Importance)
	}
	if e.Policy != "" && !database.IsValidRemembrancePolicy(e.Policy) {
		return nil, fmt.Errorf("invalid remembrance policy: %s", e.Policy)
	}

	graph, err := s.GetGraph(graphID)
	if err != nil {
		return nil, err
	}

	content, err := s.seal(graph.SubjectID, e.Content)
	if err != nil {
		return nil, err
	}

	keywords, err := encodeStringList(e.TriggerKeywords)
	if err != nil {
		return nil, err
	}
	refs, err := encodeStringList(e.NodeRefs)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	entry := &database.LedgerEntry{
		ID:              uuid.NewString(),
		GraphID:         graphID,
		Content:         content,
		Category:        e.Category,
		Importance:      e.Importance,
		TriggerKeywords: keywords,
		NodeRefs:        refs,
		Topic:           normalizeTopic(e.Topic),
		Policy:          e.Policy,
		Active:          true,
		LastAccessedAt:  now,
		CreatedAt:       now,
	}

	if err := s.db.Create(entry).Error; err != nil {
		return nil, fmt.Errorf("failed to create ledger entry: %w", err)
	}

	entry.Content = e.Content
	return entry, nil
}

// GetLedgerEntry retrieves one ledger entry with content unsealed
func (s *Store) GetLedgerEntry(entryID string) (*database.LedgerEntry, error) {
	var entry database.LedgerEntry
	if err := s.db.Where("id = ?", entryID).First(&entry).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &NotFoundError{Kind: "ledger_entry", ID: entryID}
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	if err := s.openLedgerEntry(&entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ActiveLedgerEntries retrieves all active entries of a graph, unsealed
func (s *Store) ActiveLedgerEntries(graphID string) ([]database.LedgerEntry, error) {
	var entries []database.LedgerEntry
	err := s.db.Where("graph_id = ? AND active = ?", graphID, true).
		Order("importance DESC").Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entries: %w", err)
	}
	for i := range entries {
		if err := s.openLedgerEntry(&entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// DeactivateLedgerEntry turns an entry off. Ledger entries are never
// pruned; deactivation is the only way they stop applying.
func (s *Store) DeactivateLedgerEntry(entryID string) error {
	result := s.db.Model(&database.LedgerEntry{}).
		Where("id = ?", entryID).
		Update("active", false)
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate ledger entry: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &NotFoundError{Kind: "ledger_entry", ID: entryID}
	}
	return nil
}

// RecordLedgerAccess bumps an entry's access statistics
func (s *Store) RecordLedgerAccess(entryID string) error {
	result := s.db.Model(&database.LedgerEntry{}).
		Where("id = ?", entryID).
		Updates(map[string]interface{}{
			"access_count":     gorm.Expr("access_count + 1"),
			"last_accessed_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record ledger access: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &NotFoundError{Kind: "ledger_entry", ID: entryID}
	}
	return nil
}

// NegotiateRemembrance writes a protected negotiation entry instructing
// future writes how to treat a topic. An earlier negotiation for the
// same topic is deactivated so exactly one policy applies.
func (s *Store) NegotiateRemembrance(graphID, topic, policy string) (*database.LedgerEntry, error) {
	if !database.IsValidRemembrancePolicy(policy) {
		return nil, fmt.Errorf("invalid remembrance policy: %s", policy)
	}
	topic = normalizeTopic(topic)
	if topic == "" {
		return nil, fmt.Errorf("negotiation topic must not be empty")
	}

	err := s.db.Model(&database.LedgerEntry{}).
		Where("graph_id = ? AND category = ? AND topic = ? AND active = ?",
			graphID, database.LedgerCategoryNegotiation, topic, true).
		Update("active", false).Error
	if err != nil {
		return nil, fmt.Errorf("failed to supersede prior negotiation: %w", err)
	}

	return s.CreateLedgerEntry(graphID, NewLedgerEntry{
		Content:         fmt.Sprintf("remembrance policy for topic %q: %s", topic, policy),
		Category:        database.LedgerCategoryNegotiation,
		Importance:      1.0,
		TriggerKeywords: []string{topic},
		Topic:           topic,
		Policy:          policy,
	})
}

// NegotiationPolicyFor returns the active remembrance policy for a
// topic, or empty when no negotiation applies.
func (s *Store) NegotiationPolicyFor(graphID, topic string) (string, *database.LedgerEntry, error) {
	topic = normalizeTopic(topic)
	if topic == "" {
		return "", nil, nil
	}

	var entry database.LedgerEntry
	err := s.db.Where("graph_id = ? AND category = ? AND topic = ? AND active = ?",
		graphID, database.LedgerCategoryNegotiation, topic, true).
		First(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("failed to look up negotiation: %w", err)
	}

	return entry.Policy, &entry, nil
}

// ProtectedNodeIDs returns the union of node ids referenced by active
// ledger entries. These nodes are exempt from pruning.
func (s *Store) ProtectedNodeIDs(graphID string) (map[string]bool, error) {
	var entries []database.LedgerEntry
	err := s.db.Where("graph_id = ? AND active = ?", graphID, true).Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entries: %w", err)
	}

	protected := make(map[string]bool)
	for _, entry := range entries {
		refs, err := DecodeStringList(entry.NodeRefs)
		if err != nil {
			return nil, fmt.Errorf("malformed node refs on ledger entry %s: %w", entry.ID, err)
		}
		for _, id := range refs {
			protected[id] = true
		}
	}
	return protected, nil
}

// openLedgerEntry decrypts an entry's content in place
func (s *Store) openLedgerEntry(entry *database.LedgerEntry) error {
	if s.cipher == nil {
		return nil
	}
	graph, err := s.GetGraph(entry.GraphID)
	if err != nil {
		return err
	}
	plaintext, err := s.cipher.Open(graph.SubjectID, entry.Content)
	if err != nil {
		return fmt.Errorf("failed to open ledger content: %w", err)
	}
	entry.Content = plaintext
	return nil
}

// encodeStringList serializes a string slice as JSON, preserving order
func encodeStringList(items []string) (string, error) {
	if len(items) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("failed to encode list: %w", err)
	}
	return string(data), nil
}

// DecodeStringList parses a JSON string list; empty input yields nil
func DecodeStringList(encoded string) ([]string, error) {
	if encoded == "" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(encoded), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// normalizeTopic lowercases and trims a topic for matching
func normalizeTopic(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}
