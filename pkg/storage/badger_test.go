package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBadger(t *testing.T) *BadgerEngine {
	t.Helper()
	engine, err := NewBadgerEngineInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func TestBadgerEngine_AddNode(t *testing.T) {
	t.Run("assigns_ids_from_one", func(t *testing.T) {
		engine := newTestBadger(t)

		id1, err := engine.AddNode([]string{"Person"}, map[string]any{"name": "Alice"})
		require.NoError(t, err)
		id2, err := engine.AddNode([]string{"Person"}, map[string]any{"name": "Bob"})
		require.NoError(t, err)

		assert.Equal(t, NodeID(1), id1)
		assert.Equal(t, NodeID(2), id2)
	})

	t.Run("persists_labels_and_properties", func(t *testing.T) {
		engine := newTestBadger(t)

		id, err := engine.AddNode([]string{"Person", "Admin"}, map[string]any{"name": "Alice"})
		require.NoError(t, err)

		node, err := engine.GetNode(id)
		require.NoError(t, err)
		require.NotNil(t, node)
		assert.Equal(t, []string{"Person", "Admin"}, node.Labels)
		assert.Equal(t, "Alice", node.Properties["name"])
	})
}

func TestBadgerEngine_GetNode(t *testing.T) {
	t.Run("absent_id_returns_nil_nil", func(t *testing.T) {
		engine := newTestBadger(t)

		node, err := engine.GetNode(42)
		assert.NoError(t, err)
		assert.Nil(t, node)
	})
}

func TestBadgerEngine_Scans(t *testing.T) {
	t.Run("scan_all_returns_every_node", func(t *testing.T) {
		engine := newTestBadger(t)
		for i := 0; i < 3; i++ {
			_, err := engine.AddNode([]string{"Person"}, nil)
			require.NoError(t, err)
		}

		nodes, err := engine.ScanAll()
		require.NoError(t, err)
		assert.Len(t, nodes, 3)
	})

	t.Run("scan_by_label_filters", func(t *testing.T) {
		engine := newTestBadger(t)
		alice, err := engine.AddNode([]string{"Person"}, map[string]any{"name": "Alice"})
		require.NoError(t, err)
		_, err = engine.AddNode([]string{"City"}, map[string]any{"name": "Oslo"})
		require.NoError(t, err)

		people, err := engine.ScanByLabel("Person")
		require.NoError(t, err)
		require.Len(t, people, 1)
		assert.Equal(t, alice, people[0].ID)
	})

	t.Run("labels_are_case_sensitive", func(t *testing.T) {
		engine := newTestBadger(t)
		_, err := engine.AddNode([]string{"Person"}, nil)
		require.NoError(t, err)

		lower, err := engine.ScanByLabel("person")
		require.NoError(t, err)
		assert.Empty(t, lower)
	})

	t.Run("label_sharing_a_prefix_does_not_match", func(t *testing.T) {
		engine := newTestBadger(t)
		_, err := engine.AddNode([]string{"Person"}, nil)
		require.NoError(t, err)

		nodes, err := engine.ScanByLabel("Per")
		require.NoError(t, err)
		assert.Empty(t, nodes)
	})
}

func TestBadgerEngine_Neighbors(t *testing.T) {
	t.Run("outgoing_and_incoming_with_type_filter", func(t *testing.T) {
		engine := newTestBadger(t)
		alice, err := engine.AddNode([]string{"Person"}, map[string]any{"name": "Alice"})
		require.NoError(t, err)
		bob, err := engine.AddNode([]string{"Person"}, map[string]any{"name": "Bob"})
		require.NoError(t, err)
		oslo, err := engine.AddNode([]string{"City"}, map[string]any{"name": "Oslo"})
		require.NoError(t, err)

		_, err = engine.AddEdge(alice, bob, "KNOWS", nil)
		require.NoError(t, err)
		_, err = engine.AddEdge(alice, oslo, "LIVES_IN", nil)
		require.NoError(t, err)

		knows, err := engine.Neighbors(alice, "KNOWS")
		require.NoError(t, err)
		require.Len(t, knows, 1)
		assert.Equal(t, bob, knows[0].Node.ID)

		all, err := engine.Neighbors(alice, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		in, err := engine.IncomingNeighbors(bob, "")
		require.NoError(t, err)
		require.Len(t, in, 1)
		assert.Equal(t, alice, in[0].Node.ID)
	})

	t.Run("dangling_endpoints_are_skipped", func(t *testing.T) {
		engine := newTestBadger(t)
		a, err := engine.AddNode(nil, nil)
		require.NoError(t, err)
		_, err = engine.AddEdge(a, 999, "KNOWS", nil)
		require.NoError(t, err)

		out, err := engine.Neighbors(a, "")
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}

func TestBadgerEngine_Counts(t *testing.T) {
	engine := newTestBadger(t)

	a, err := engine.AddNode(nil, nil)
	require.NoError(t, err)
	b, err := engine.AddNode(nil, nil)
	require.NoError(t, err)
	_, err = engine.AddEdge(a, b, "X", nil)
	require.NoError(t, err)

	nodes, err := engine.NodeCount()
	require.NoError(t, err)
	assert.Equal(t, int64(2), nodes)

	edges, err := engine.EdgeCount()
	require.NoError(t, err)
	assert.Equal(t, int64(1), edges)
}

func TestBadgerEngine_Persistence(t *testing.T) {
	t.Run("data_survives_reopen", func(t *testing.T) {
		dir := t.TempDir()

		engine, err := NewBadgerEngine(dir)
		require.NoError(t, err)
		alice, err := engine.AddNode([]string{"Person"}, map[string]any{"name": "Alice"})
		require.NoError(t, err)
		require.NoError(t, engine.Close())

		reopened, err := NewBadgerEngine(dir)
		require.NoError(t, err)
		defer reopened.Close()

		node, err := reopened.GetNode(alice)
		require.NoError(t, err)
		require.NotNil(t, node)
		assert.Equal(t, "Alice", node.Properties["name"])
	})

	t.Run("ids_stay_monotonic_across_reopen", func(t *testing.T) {
		dir := t.TempDir()

		engine, err := NewBadgerEngine(dir)
		require.NoError(t, err)
		id1, err := engine.AddNode(nil, nil)
		require.NoError(t, err)
		require.NoError(t, engine.Close())

		reopened, err := NewBadgerEngine(dir)
		require.NoError(t, err)
		defer reopened.Close()

		id2, err := reopened.AddNode(nil, nil)
		require.NoError(t, err)
		assert.Greater(t, id2, id1)
	})
}

func TestBadgerEngine_Closed(t *testing.T) {
	engine, err := NewBadgerEngineInMemory()
	require.NoError(t, err)
	require.NoError(t, engine.Close())

	_, err = engine.AddNode(nil, nil)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = engine.GetNode(1)
	assert.ErrorIs(t, err, ErrClosed)
}
