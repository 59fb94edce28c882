package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryEngine_AddNode(t *testing.T) {
	t.Run("assigns_sequential_ids_from_one", func(t *testing.T) {
		store := NewMemoryEngine()

		id1, err := store.AddNode([]string{"Person"}, map[string]any{"name": "Alice"})
		require.NoError(t, err)
		id2, err := store.AddNode([]string{"Person"}, map[string]any{"name": "Bob"})
		require.NoError(t, err)

		assert.Equal(t, NodeID(1), id1)
		assert.Equal(t, NodeID(2), id2)
	})

	t.Run("accepts_nil_labels_and_properties", func(t *testing.T) {
		store := NewMemoryEngine()

		id, err := store.AddNode(nil, nil)
		require.NoError(t, err)

		node, err := store.GetNode(id)
		require.NoError(t, err)
		require.NotNil(t, node)
		assert.Empty(t, node.Labels)
		assert.NotNil(t, node.Properties)
		assert.Empty(t, node.Properties)
	})

	t.Run("caller_slice_mutation_does_not_leak_in", func(t *testing.T) {
		store := NewMemoryEngine()
		labels := []string{"Person"}
		props := map[string]any{"name": "Alice"}

		id, err := store.AddNode(labels, props)
		require.NoError(t, err)

		labels[0] = "Mutated"
		props["name"] = "Mallory"

		node, err := store.GetNode(id)
		require.NoError(t, err)
		assert.Equal(t, []string{"Person"}, node.Labels)
		assert.Equal(t, "Alice", node.Properties["name"])
	})
}

func TestMemoryEngine_GetNode(t *testing.T) {
	t.Run("absent_id_returns_nil_nil", func(t *testing.T) {
		store := NewMemoryEngine()

		node, err := store.GetNode(42)
		assert.NoError(t, err)
		assert.Nil(t, node)
	})

	t.Run("returned_copy_is_isolated", func(t *testing.T) {
		store := NewMemoryEngine()
		id, err := store.AddNode([]string{"Person"}, map[string]any{"name": "Alice"})
		require.NoError(t, err)

		node, err := store.GetNode(id)
		require.NoError(t, err)
		node.Labels[0] = "Mutated"
		node.Properties["name"] = "Mallory"

		fresh, err := store.GetNode(id)
		require.NoError(t, err)
		assert.Equal(t, []string{"Person"}, fresh.Labels)
		assert.Equal(t, "Alice", fresh.Properties["name"])
	})
}

func TestMemoryEngine_ScanAll(t *testing.T) {
	t.Run("empty_store_returns_empty_slice", func(t *testing.T) {
		store := NewMemoryEngine()

		nodes, err := store.ScanAll()
		require.NoError(t, err)
		assert.Empty(t, nodes)
	})

	t.Run("returns_nodes_in_insertion_order", func(t *testing.T) {
		store := NewMemoryEngine()
		for _, name := range []string{"a", "b", "c"} {
			_, err := store.AddNode(nil, map[string]any{"name": name})
			require.NoError(t, err)
		}

		nodes, err := store.ScanAll()
		require.NoError(t, err)
		require.Len(t, nodes, 3)
		assert.Equal(t, "a", nodes[0].Properties["name"])
		assert.Equal(t, "b", nodes[1].Properties["name"])
		assert.Equal(t, "c", nodes[2].Properties["name"])
	})
}

func TestMemoryEngine_ScanByLabel(t *testing.T) {
	t.Run("returns_only_matching_nodes", func(t *testing.T) {
		store := NewMemoryEngine()
		alice, err := store.AddNode([]string{"Person"}, map[string]any{"name": "Alice"})
		require.NoError(t, err)
		_, err = store.AddNode([]string{"City"}, map[string]any{"name": "Oslo"})
		require.NoError(t, err)
		bob, err := store.AddNode([]string{"Person", "Admin"}, map[string]any{"name": "Bob"})
		require.NoError(t, err)

		people, err := store.ScanByLabel("Person")
		require.NoError(t, err)
		require.Len(t, people, 2)
		assert.Equal(t, alice, people[0].ID)
		assert.Equal(t, bob, people[1].ID)

		admins, err := store.ScanByLabel("Admin")
		require.NoError(t, err)
		require.Len(t, admins, 1)
		assert.Equal(t, bob, admins[0].ID)
	})

	t.Run("labels_are_case_sensitive", func(t *testing.T) {
		store := NewMemoryEngine()
		_, err := store.AddNode([]string{"Person"}, nil)
		require.NoError(t, err)

		lower, err := store.ScanByLabel("person")
		require.NoError(t, err)
		assert.Empty(t, lower)
	})

	t.Run("unknown_label_returns_empty_slice", func(t *testing.T) {
		store := NewMemoryEngine()

		nodes, err := store.ScanByLabel("Nothing")
		require.NoError(t, err)
		assert.Empty(t, nodes)
	})

	t.Run("duplicate_label_yields_duplicate_entries", func(t *testing.T) {
		store := NewMemoryEngine()
		id, err := store.AddNode([]string{"Person", "Person"}, nil)
		require.NoError(t, err)

		nodes, err := store.ScanByLabel("Person")
		require.NoError(t, err)
		require.Len(t, nodes, 2)
		assert.Equal(t, id, nodes[0].ID)
		assert.Equal(t, id, nodes[1].ID)
	})
}

func TestMemoryEngine_AddEdge(t *testing.T) {
	t.Run("assigns_sequential_edge_ids", func(t *testing.T) {
		store := NewMemoryEngine()
		a, _ := store.AddNode(nil, nil)
		b, _ := store.AddNode(nil, nil)

		e1, err := store.AddEdge(a, b, "KNOWS", nil)
		require.NoError(t, err)
		e2, err := store.AddEdge(b, a, "KNOWS", nil)
		require.NoError(t, err)

		assert.Equal(t, EdgeID(1), e1)
		assert.Equal(t, EdgeID(2), e2)
	})

	t.Run("endpoints_are_not_validated", func(t *testing.T) {
		store := NewMemoryEngine()

		id, err := store.AddEdge(100, 200, "KNOWS", nil)
		require.NoError(t, err)

		edge, err := store.GetEdge(id)
		require.NoError(t, err)
		require.NotNil(t, edge)
		assert.Equal(t, NodeID(100), edge.From)
		assert.Equal(t, NodeID(200), edge.To)
	})

	t.Run("self_loops_are_allowed", func(t *testing.T) {
		store := NewMemoryEngine()
		a, _ := store.AddNode(nil, nil)

		_, err := store.AddEdge(a, a, "SELF", nil)
		require.NoError(t, err)

		out, err := store.Neighbors(a, "")
		require.NoError(t, err)
		require.Len(t, out, 1)
		assert.Equal(t, a, out[0].Node.ID)

		in, err := store.IncomingNeighbors(a, "")
		require.NoError(t, err)
		assert.Len(t, in, 1)
	})
}

func TestMemoryEngine_Neighbors(t *testing.T) {
	setup := func(t *testing.T) (*MemoryEngine, NodeID, NodeID, NodeID) {
		t.Helper()
		store := NewMemoryEngine()
		alice, err := store.AddNode([]string{"Person"}, map[string]any{"name": "Alice"})
		require.NoError(t, err)
		bob, err := store.AddNode([]string{"Person"}, map[string]any{"name": "Bob"})
		require.NoError(t, err)
		oslo, err := store.AddNode([]string{"City"}, map[string]any{"name": "Oslo"})
		require.NoError(t, err)

		_, err = store.AddEdge(alice, bob, "KNOWS", map[string]any{"since": float64(2020)})
		require.NoError(t, err)
		_, err = store.AddEdge(alice, oslo, "LIVES_IN", nil)
		require.NoError(t, err)
		return store, alice, bob, oslo
	}

	t.Run("filters_by_edge_type", func(t *testing.T) {
		store, alice, bob, _ := setup(t)

		knows, err := store.Neighbors(alice, "KNOWS")
		require.NoError(t, err)
		require.Len(t, knows, 1)
		assert.Equal(t, bob, knows[0].Node.ID)
		assert.Equal(t, "KNOWS", knows[0].Edge.Type)
		assert.Equal(t, float64(2020), knows[0].Edge.Properties["since"])
	})

	t.Run("empty_type_returns_all_outgoing", func(t *testing.T) {
		store, alice, bob, oslo := setup(t)

		all, err := store.Neighbors(alice, "")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, bob, all[0].Node.ID)
		assert.Equal(t, oslo, all[1].Node.ID)
	})

	t.Run("incoming_neighbors_reverse_direction", func(t *testing.T) {
		store, alice, bob, _ := setup(t)

		in, err := store.IncomingNeighbors(bob, "KNOWS")
		require.NoError(t, err)
		require.Len(t, in, 1)
		assert.Equal(t, alice, in[0].Node.ID)

		none, err := store.IncomingNeighbors(alice, "")
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("dangling_endpoints_are_skipped", func(t *testing.T) {
		store := NewMemoryEngine()
		a, _ := store.AddNode(nil, nil)
		_, err := store.AddEdge(a, 999, "KNOWS", nil)
		require.NoError(t, err)

		out, err := store.Neighbors(a, "")
		require.NoError(t, err)
		assert.Empty(t, out)
	})

	t.Run("unknown_node_returns_empty_slice", func(t *testing.T) {
		store := NewMemoryEngine()

		out, err := store.Neighbors(7, "KNOWS")
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}

func TestMemoryEngine_Counts(t *testing.T) {
	store := NewMemoryEngine()
	assert.Equal(t, int64(0), store.NodeCount())
	assert.Equal(t, int64(0), store.EdgeCount())

	a, _ := store.AddNode(nil, nil)
	b, _ := store.AddNode(nil, nil)
	_, err := store.AddEdge(a, b, "X", nil)
	require.NoError(t, err)

	assert.Equal(t, int64(2), store.NodeCount())
	assert.Equal(t, int64(1), store.EdgeCount())
}
