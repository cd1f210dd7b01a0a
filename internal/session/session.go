// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package session tracks conversation sessions. A session scopes
// session_only memories: ending it sweeps every ephemeral node written
// during it, which is the enforcement half of that negotiation policy.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager owns session lifecycle
type Manager struct {
	store  *store.Store
	logger *zap.Logger
}

// NewManager creates a session manager
func NewManager(s *store.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: s, logger: logger}
}

// Begin starts a session for a subject, creating the graph on first use
func (m *Manager) Begin(subjectID string) (*database.MemorySession, error) {
	graph, err := m.store.GetGraphBySubject(subjectID)
	if err != nil {
		return nil, err
	}

	session := &database.MemorySession{
		ID:        uuid.NewString(),
		GraphID:   graph.ID,
		StartedAt: time.Now(),
	}
	if err := m.store.DB().Create(session).Error; err != nil {
		return nil, fmt.Errorf("failed to begin session: %w", err)
	}

	m.logger.Info("session started",
		zap.String("session_id", session.ID),
		zap.String("graph_id", graph.ID))
	return session, nil
}

// Get retrieves a session by id
func (m *Manager) Get(sessionID string) (*database.MemorySession, error) {
	var session database.MemorySession
	if err := m.store.DB().Where("id = ?", sessionID).First(&session).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &store.NotFoundError{Kind: "session", ID: sessionID}
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

// RecordMessage bumps a session's message count
func (m *Manager) RecordMessage(sessionID string) error {
	result := m.store.DB().Model(&database.MemorySession{}).
		Where("id = ? AND ended_at IS NULL", sessionID).
		Update("message_count", gorm.Expr("message_count + 1"))
	if result.Error != nil {
		return fmt.Errorf("failed to record message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &store.NotFoundError{Kind: "session", ID: sessionID}
	}
	return nil
}

// End closes a session and sweeps its ephemeral nodes. Ending an
// already-ended session is a no-op sweep, not an error.
func (m *Manager) End(sessionID string) (int, error) {
	session, err := m.Get(sessionID)
	if err != nil {
		return 0, err
	}

	if session.EndedAt == nil {
		now := time.Now()
		if err := m.store.DB().Model(&database.MemorySession{}).
			Where("id = ?", sessionID).
			Update("ended_at", now).Error; err != nil {
			return 0, fmt.Errorf("failed to end session: %w", err)
		}
	}

	swept, err := m.store.SweepEphemeral(session.GraphID, sessionID)
	if err != nil {
		return swept, err
	}
	if swept > 0 {
		m.logger.Info("swept session-only memories",
			zap.String("session_id", sessionID),
			zap.Int("swept", swept))
	}
	return swept, nil
}

// ActiveSessions lists a graph's sessions that have not ended
func (m *Manager) ActiveSessions(graphID string) ([]database.MemorySession, error) {
	var sessions []database.MemorySession
	err := m.store.DB().
		Where("graph_id = ? AND ended_at IS NULL", graphID).
		Order("started_at ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	return sessions, nil
}
