// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package session

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/store"
	"gorm.io/gorm/logger"
)

func setupManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	db, err := database.Connect(&database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	s := store.New(db)
	return NewManager(s, nil), s
}

func TestBegin_CreatesGraphOnFirstUse(t *testing.T) {
	m, s := setupManager(t)

	session, err := m.Begin("subject-a")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Nil(t, session.EndedAt)

	graph, err := s.GetGraphBySubject("subject-a")
	require.NoError(t, err)
	assert.Equal(t, graph.ID, session.GraphID)
}

func TestRecordMessage(t *testing.T) {
	m, _ := setupManager(t)

	session, err := m.Begin("subject-a")
	require.NoError(t, err)

	require.NoError(t, m.RecordMessage(session.ID))
	require.NoError(t, m.RecordMessage(session.ID))

	got, err := m.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.MessageCount)
}

func TestRecordMessage_EndedSession(t *testing.T) {
	m, _ := setupManager(t)

	session, err := m.Begin("subject-a")
	require.NoError(t, err)
	_, err = m.End(session.ID)
	require.NoError(t, err)

	err = m.RecordMessage(session.ID)
	var nf *store.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestEnd_SweepsEphemeralNodes(t *testing.T) {
	m, s := setupManager(t)

	session, err := m.Begin("subject-a")
	require.NoError(t, err)
	graph, err := s.GetGraphBySubject("subject-a")
	require.NoError(t, err)

	_, err = s.NegotiateRemembrance(graph.ID, "therapy", database.PolicySessionOnly)
	require.NoError(t, err)

	_, err = s.CreateNode(graph.ID, store.NewNode{
		Content: "session-scoped", Topic: "therapy", SessionID: session.ID,
	})
	require.NoError(t, err)
	durable, err := s.CreateNode(graph.ID, store.NewNode{
		Content: "durable", SessionID: session.ID,
	})
	require.NoError(t, err)

	swept, err := m.End(session.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	got, err := m.Get(session.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.EndedAt)

	_, err = s.GetNode(durable.ID)
	assert.NoError(t, err)
}

func TestEnd_Idempotent(t *testing.T) {
	m, _ := setupManager(t)

	session, err := m.Begin("subject-a")
	require.NoError(t, err)

	_, err = m.End(session.ID)
	require.NoError(t, err)
	first, err := m.Get(session.ID)
	require.NoError(t, err)

	swept, err := m.End(session.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, swept)

	// The original end timestamp is preserved.
	second, err := m.Get(session.ID)
	require.NoError(t, err)
	assert.Equal(t, first.EndedAt.Unix(), second.EndedAt.Unix())
}

func TestActiveSessions(t *testing.T) {
	m, _ := setupManager(t)

	a, err := m.Begin("subject-a")
	require.NoError(t, err)
	b, err := m.Begin("subject-a")
	require.NoError(t, err)

	active, err := m.ActiveSessions(a.GraphID)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	_, err = m.End(b.ID)
	require.NoError(t, err)

	active, err = m.ActiveSessions(a.GraphID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, a.ID, active[0].ID)
}

func TestGet_NotFound(t *testing.T) {
	m, _ := setupManager(t)

	_, err := m.Get("missing")
	var nf *store.NotFoundError
	assert.ErrorAs(t, err, &nf)
}
