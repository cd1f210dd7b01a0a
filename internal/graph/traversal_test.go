// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package graph

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tejzpr/munin-mcp/internal/database"
	"github.com/tejzpr/munin-mcp/internal/gravity"
	"github.com/tejzpr/munin-mcp/internal/store"
	"gorm.io/gorm/logger"
)

// chain builds a -> b -> c -> d with one CONTRADICTS edge off b.
type chain struct {
	store      *store.Store
	traverser  *Traverser
	graph      *database.MemoryGraph
	a, b, c, d *database.MemoryNode
}

func setupChain(t *testing.T) *chain {
	t.Helper()
	db, err := database.Connect(&database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
		LogLevel:   logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	s := store.New(db)
	g, err := s.CreateGraph("subject-a")
	require.NoError(t, err)

	a, _ := s.CreateNode(g.ID, store.NewNode{Content: "a", Salience: 0.9})
	b, _ := s.CreateNode(g.ID, store.NewNode{Content: "b", Salience: 0.7})
	c, _ := s.CreateNode(g.ID, store.NewNode{Content: "c", Salience: 0.5})
	d, _ := s.CreateNode(g.ID, store.NewNode{Content: "d", Salience: 0.3})

	mustEdge := func(src, dst, kind string) {
		_, err := s.CreateEdge(g.ID, src, dst, kind, 0.5)
		require.NoError(t, err)
	}
	mustEdge(a.ID, b.ID, database.EdgeTypeRelatesTo)
	mustEdge(b.ID, c.ID, database.EdgeTypeSupports)
	mustEdge(c.ID, d.ID, database.EdgeTypeRelatesTo)

	return &chain{
		store:     s,
		traverser: NewTraverser(s, gravity.DefaultDecayParams()),
		graph:     g,
		a:         a, b: b, c: c, d: d,
	}
}

func TestNeighborhood_OneHop(t *testing.T) {
	f := setupChain(t)

	sub, err := f.traverser.Neighborhood(f.b.ID, 1)
	require.NoError(t, err)

	require.Len(t, sub.Nodes, 3)
	assert.Equal(t, f.b.ID, sub.Nodes[0].ID)
	assert.Equal(t, 0, sub.Nodes[0].Depth)
	for _, n := range sub.Nodes[1:] {
		assert.Equal(t, 1, n.Depth)
	}

	// Only edges with both endpoints visited survive: a-b and b-c,
	// not c-d.
	require.Len(t, sub.Edges, 2)
}

func TestNeighborhood_TwoHops(t *testing.T) {
	f := setupChain(t)

	sub, err := f.traverser.Neighborhood(f.a.ID, 2)
	require.NoError(t, err)
	require.Len(t, sub.Nodes, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{sub.Nodes[0].Depth, sub.Nodes[1].Depth, sub.Nodes[2].Depth})
	assert.Len(t, sub.Edges, 2)
}

func TestNeighborhood_FullChain(t *testing.T) {
	f := setupChain(t)

	sub, err := f.traverser.Neighborhood(f.a.ID, 5)
	require.NoError(t, err)
	assert.Len(t, sub.Nodes, 4)
	assert.Len(t, sub.Edges, 3)
}

func TestNeighborhood_HopClamping(t *testing.T) {
	f := setupChain(t)

	// Zero and huge hop counts are clamped rather than rejected.
	sub, err := f.traverser.Neighborhood(f.a.ID, 0)
	require.NoError(t, err)
	assert.Len(t, sub.Nodes, 2)

	sub, err = f.traverser.Neighborhood(f.a.ID, 100)
	require.NoError(t, err)
	assert.Len(t, sub.Nodes, 4)
}

func TestNeighborhood_GravityOrderWithinDepth(t *testing.T) {
	f := setupChain(t)

	// From c, both b and d sit at depth 1; b has higher gravity.
	sub, err := f.traverser.Neighborhood(f.c.ID, 1)
	require.NoError(t, err)
	require.Len(t, sub.Nodes, 3)
	assert.Equal(t, f.b.ID, sub.Nodes[1].ID)
	assert.Equal(t, f.d.ID, sub.Nodes[2].ID)
}

func TestNeighborhood_MissingAnchor(t *testing.T) {
	f := setupChain(t)

	_, err := f.traverser.Neighborhood("missing", 1)
	var nf *store.NotFoundError
	assert.ErrorAs(t, err, &nf)
}
