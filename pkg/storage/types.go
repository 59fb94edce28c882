// Package storage provides the graph storage core for SkaldDB.
//
// The storage layer is an append-only labeled property graph: primary node
// and edge tables plus secondary indexes (label index, outgoing/incoming
// adjacency), kept consistent with every mutation. Durability comes from a
// write-ahead log paired with segment snapshots; a store can always be
// reconstructed from the last segment flush plus WAL replay.
//
// Design Principles:
//   - Append-only: no update, delete, or compaction paths exist
//   - Index-mutation atomicity: tables and indexes change together
//   - Single logical writer; readers are safe behind an RWMutex
//   - Absence is a value, not an error
//
// Example Usage:
//
//	store := storage.NewMemoryEngine()
//
//	alice, _ := store.AddNode([]string{"Person"}, map[string]any{"name": "Alice"})
//	bob, _ := store.AddNode([]string{"Person"}, map[string]any{"name": "Bob"})
//	store.AddEdge(alice, bob, "KNOWS", nil)
//
//	people, _ := store.ScanByLabel("Person")
//	fmt.Printf("Found %d people\n", len(people))
//
//	// Persist and reload
//	store.FlushToSegments("./data", "default", "main")
//	reloaded, _ := storage.LoadFromSegments("./data", "default", "main")
package storage

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrClosed is returned by operations on a closed engine or WAL.
	ErrClosed = errors.New("storage: closed")

	// ErrBadRecord marks a WAL record payload that cannot be parsed:
	// malformed JSON, a missing type discriminant, or an unknown one.
	ErrBadRecord = errors.New("storage: bad wal record")
)

// NodeID is a strongly-typed unique identifier for graph nodes.
//
// Ids are assigned by the store, start at 1, strictly increase, and are
// never reused. Using a custom type keeps NodeID and EdgeID from being
// confused at call sites.
type NodeID uint64

// EdgeID is a strongly-typed unique identifier for graph edges.
type EdgeID uint64

// Node represents a graph node (vertex) in the labeled property graph.
//
// Fields:
//   - ID: Store-assigned unique identifier
//   - Labels: Type tags like ["Person", "User"]; duplicates are stored as
//     given and indexed as a multiset — dedupe is the caller's business
//   - Properties: Key-value data (any JSON-serializable types)
//
// Nodes are created once and never mutated; the store hands out deep
// copies, so holding onto a returned *Node is always safe.
type Node struct {
	ID         NodeID         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

// Edge represents a directed relationship between two nodes.
//
// Referential integrity is NOT enforced: From and To may name nodes that do
// not (or no longer, after a partial reload) exist. Dangling endpoints are
// tolerated and simply fail to resolve during traversal.
type Edge struct {
	ID         EdgeID         `json:"id"`
	From       NodeID         `json:"from"`
	To         NodeID         `json:"to"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

// Neighbor pairs a traversed edge with the node on its far end.
// For outgoing traversal Node is the edge's destination; for incoming
// traversal it is the source.
type Neighbor struct {
	Edge *Edge
	Node *Node
}

// Reader is the read-only graph store contract.
//
// All implementations share the same absence semantics: an unknown id or
// label is a normal empty result, never an error. Errors are reserved for
// storage and IO faults.
//
// Example:
//
//	var r storage.Reader = store
//
//	node, err := r.GetNode(42)
//	if err != nil {
//		return err // storage fault
//	}
//	if node == nil {
//		fmt.Println("no such node") // normal absence
//	}
type Reader interface {
	// ScanAll returns every node in the store, in id order.
	ScanAll() ([]*Node, error)

	// ScanByLabel returns the nodes carrying the given label, in label-index
	// insertion order. Unknown labels yield an empty slice.
	ScanByLabel(label string) ([]*Node, error)

	// GetNode returns the node with the given id, or nil if absent.
	GetNode(id NodeID) (*Node, error)

	// Neighbors returns (edge, destination) pairs for the node's outgoing
	// edges. A non-empty edgeType filters to that type. Edges whose
	// destination cannot be resolved are omitted.
	Neighbors(id NodeID, edgeType string) ([]Neighbor, error)

	// IncomingNeighbors is the symmetric traversal over incoming edges,
	// returning (edge, source) pairs.
	IncomingNeighbors(id NodeID, edgeType string) ([]Neighbor, error)
}

// Engine is the write-capable graph store contract. Write implies read.
//
// Insertions always succeed absent a storage fault: AddEdge does not check
// that its endpoints exist, and AddNode does not dedupe labels. Both update
// every affected index before returning.
//
// Implementations:
//   - MemoryEngine: in-memory indexed store, segment flush/load, WAL replay
//   - DurableEngine: MemoryEngine wrapped with log-before-apply WAL ordering
//   - BadgerEngine: persistent BadgerDB-backed store
type Engine interface {
	Reader

	// AddNode stores a new node and returns its assigned id. Every label in
	// the list gets a label-index entry, duplicates included.
	AddNode(labels []string, properties map[string]any) (NodeID, error)

	// AddEdge stores a new directed edge and returns its assigned id. Both
	// adjacency indexes are updated unconditionally, even for endpoints that
	// do not exist.
	AddEdge(from, to NodeID, edgeType string, properties map[string]any) (EdgeID, error)
}

// copyProperties deep-copies one level of a property map. Values are shared;
// they are JSON-scalar shaped and treated as immutable by convention.
func copyProperties(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		out[k] = v
	}
	return out
}

// copyLabels clones a label list, normalizing nil to empty.
func copyLabels(labels []string) []string {
	out := make([]string, len(labels))
	copy(out, labels)
	return out
}

// copyNode returns a deep copy safe to hand outside the store.
func copyNode(n *Node) *Node {
	return &Node{
		ID:         n.ID,
		Labels:     copyLabels(n.Labels),
		Properties: copyProperties(n.Properties),
	}
}

// copyEdge returns a deep copy safe to hand outside the store.
func copyEdge(e *Edge) *Edge {
	return &Edge{
		ID:         e.ID,
		From:       e.From,
		To:         e.To,
		Type:       e.Type,
		Properties: copyProperties(e.Properties),
	}
}

// storageErr wraps an underlying fault with the step that failed, e.g.
// "create nodes.seg: permission denied".
func storageErr(step string, err error) error {
	return fmt.Errorf("%s: %w", step, err)
}
