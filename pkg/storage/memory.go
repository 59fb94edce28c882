package storage

import (
	"sort"
	"sync"
)

// MemoryEngine is the in-memory indexed graph store.
//
// It holds the primary node and edge tables, a label index, both adjacency
// indexes, and the two id counters, and implements the full Engine contract.
// Every insertion updates the primary table and all affected indexes before
// the lock is released, so no caller ever observes a half-applied mutation.
//
// The indexes are append-only multimaps keyed by stable integer id. Lists
// are never compacted: deletion is not supported by this core, so there is
// nothing to clean up.
//
// Performance Characteristics:
//   - Node lookup by id: O(1)
//   - Scan by label: O(k) where k = entries under that label
//   - Neighbor traversal: O(degree)
//
// ELI12:
//
// Think of the MemoryEngine like a binder of character cards plus three
// cheat sheets. The binder pages are the cards themselves (nodes and
// edges). The cheat sheets tell you instantly which cards say "Person" on
// them, and which strings run out of or into each card. Every time you add
// a card, you update the binder AND every cheat sheet before letting anyone
// else look — so the cheat sheets never lie.
//
// Thread Safety:
//
//	All public methods are safe for concurrent use. Mutations take the
//	write lock; the store still assumes a single logical writer — the lock
//	gives whole-operation atomicity, not transaction isolation.
type MemoryEngine struct {
	mu    sync.RWMutex
	nodes map[NodeID]*Node
	edges map[EdgeID]*Edge

	// Secondary indexes, insertion-ordered and append-only.
	labelIndex   map[string][]NodeID
	adjacencyOut map[NodeID][]EdgeID
	adjacencyIn  map[NodeID][]EdgeID

	// Next ids to assign. Always strictly greater than every stored id,
	// after every insertion, segment load, and WAL replay alike.
	nextNodeID NodeID
	nextEdgeID EdgeID
}

// NewMemoryEngine creates an empty in-memory graph store.
//
// Id counters start at 1; the first node and the first edge each get id 1.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		nodes:        make(map[NodeID]*Node),
		edges:        make(map[EdgeID]*Edge),
		labelIndex:   make(map[string][]NodeID),
		adjacencyOut: make(map[NodeID][]EdgeID),
		adjacencyIn:  make(map[NodeID][]EdgeID),
		nextNodeID:   1,
		nextEdgeID:   1,
	}
}

// bumpNodeID advances the node counter past id. This is the single shared
// counter-advance operation for direct insert, segment load, and WAL replay.
func (m *MemoryEngine) bumpNodeID(id NodeID) {
	if id >= m.nextNodeID {
		m.nextNodeID = id + 1
	}
}

// bumpEdgeID advances the edge counter past id.
func (m *MemoryEngine) bumpEdgeID(id EdgeID) {
	if id >= m.nextEdgeID {
		m.nextEdgeID = id + 1
	}
}

// applyNode inserts a node, updates the label index for every label it
// carries (duplicates included), and advances the node counter. Caller must
// hold the write lock. This is the one apply path shared by AddNode,
// segment load, and WAL replay.
func (m *MemoryEngine) applyNode(node *Node) {
	m.nodes[node.ID] = node
	for _, label := range node.Labels {
		m.labelIndex[label] = append(m.labelIndex[label], node.ID)
	}
	m.bumpNodeID(node.ID)
}

// applyEdge inserts an edge, updates both adjacency indexes unconditionally,
// and advances the edge counter. Caller must hold the write lock.
func (m *MemoryEngine) applyEdge(edge *Edge) {
	m.edges[edge.ID] = edge
	m.adjacencyOut[edge.From] = append(m.adjacencyOut[edge.From], edge.ID)
	m.adjacencyIn[edge.To] = append(m.adjacencyIn[edge.To], edge.ID)
	m.bumpEdgeID(edge.ID)
}

// reserveNodeID hands out the next node id without inserting anything.
// Used by DurableEngine to name a mutation in the WAL before applying it.
// A reserved id that never gets applied is simply a gap; ids make no
// gap-less promise.
func (m *MemoryEngine) reserveNodeID() NodeID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextNodeID
	m.nextNodeID++
	return id
}

// reserveEdgeID hands out the next edge id without inserting anything.
func (m *MemoryEngine) reserveEdgeID() EdgeID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextEdgeID
	m.nextEdgeID++
	return id
}

// AddNode stores a new node and returns its assigned id.
//
// The label index gains one entry per label in the input, duplicates
// included — callers that want set semantics dedupe before calling.
//
// Example:
//
//	id, err := store.AddNode([]string{"Person"}, map[string]any{"name": "Alice"})
func (m *MemoryEngine) AddNode(labels []string, properties map[string]any) (NodeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	node := &Node{
		ID:         m.nextNodeID,
		Labels:     copyLabels(labels),
		Properties: copyProperties(properties),
	}
	m.applyNode(node)
	return node.ID, nil
}

// AddEdge stores a new directed edge and returns its assigned id.
//
// Endpoints are not validated: an edge to a node that does not exist is
// stored and indexed normally, and simply never resolves during traversal.
func (m *MemoryEngine) AddEdge(from, to NodeID, edgeType string, properties map[string]any) (EdgeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	edge := &Edge{
		ID:         m.nextEdgeID,
		From:       from,
		To:         to,
		Type:       edgeType,
		Properties: copyProperties(properties),
	}
	m.applyEdge(edge)
	return edge.ID, nil
}

// ScanAll returns every node in the store, in id order. Ids are assigned
// monotonically, so this is also insertion order.
func (m *MemoryEngine) ScanAll() ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	nodes := make([]*Node, 0, len(m.nodes))
	for _, node := range m.nodes {
		nodes = append(nodes, copyNode(node))
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes, nil
}

// ScanByLabel returns the nodes carrying the given label, in insertion
// order. An unknown label yields an empty slice, not an error.
func (m *MemoryEngine) ScanByLabel(label string) ([]*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.labelIndex[label]
	nodes := make([]*Node, 0, len(ids))
	for _, id := range ids {
		if node := m.nodes[id]; node != nil {
			nodes = append(nodes, copyNode(node))
		}
	}
	return nodes, nil
}

// GetNode returns the node with the given id, or nil if absent.
func (m *MemoryEngine) GetNode(id NodeID) (*Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node := m.nodes[id]
	if node == nil {
		return nil, nil
	}
	return copyNode(node), nil
}

// Neighbors returns (edge, destination) pairs for the node's outgoing
// edges, in adjacency insertion order. A non-empty edgeType filters to
// matching edges. Edges whose destination does not resolve are skipped
// rather than failing the call.
//
// Example:
//
//	knows, _ := store.Neighbors(alice, "KNOWS")
//	for _, n := range knows {
//		fmt.Printf("%v -[KNOWS]-> %v\n", alice, n.Node.ID)
//	}
func (m *MemoryEngine) Neighbors(id NodeID, edgeType string) ([]Neighbor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Neighbor, 0)
	for _, edgeID := range m.adjacencyOut[id] {
		edge := m.edges[edgeID]
		if edge == nil {
			continue
		}
		if edgeType != "" && edge.Type != edgeType {
			continue
		}
		dest := m.nodes[edge.To]
		if dest == nil {
			continue // dangling endpoint
		}
		result = append(result, Neighbor{Edge: copyEdge(edge), Node: copyNode(dest)})
	}
	return result, nil
}

// IncomingNeighbors returns (edge, source) pairs for the node's incoming
// edges, with the same filtering and dangling-endpoint behavior as
// Neighbors.
func (m *MemoryEngine) IncomingNeighbors(id NodeID, edgeType string) ([]Neighbor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Neighbor, 0)
	for _, edgeID := range m.adjacencyIn[id] {
		edge := m.edges[edgeID]
		if edge == nil {
			continue
		}
		if edgeType != "" && edge.Type != edgeType {
			continue
		}
		src := m.nodes[edge.From]
		if src == nil {
			continue
		}
		result = append(result, Neighbor{Edge: copyEdge(edge), Node: copyNode(src)})
	}
	return result, nil
}

// GetEdge returns the edge with the given id, or nil if absent.
func (m *MemoryEngine) GetEdge(id EdgeID) (*Edge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	edge := m.edges[id]
	if edge == nil {
		return nil, nil
	}
	return copyEdge(edge), nil
}

// NodeCount returns the number of nodes in the store.
func (m *MemoryEngine) NodeCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.nodes))
}

// EdgeCount returns the number of edges in the store.
func (m *MemoryEngine) EdgeCount() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.edges))
}

// NextIDs reports the current id counters. Mostly useful for inspection and
// tests of the monotonicity invariant.
func (m *MemoryEngine) NextIDs() (NodeID, EdgeID) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextNodeID, m.nextEdgeID
}

// Verify MemoryEngine implements the write contract.
var _ Engine = (*MemoryEngine)(nil)
