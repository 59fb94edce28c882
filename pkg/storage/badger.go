// BadgerEngine: persistent disk-backed implementation of the Engine
// contract, for graphs that outgrow RAM or want storage-level durability
// without the segment/WAL machinery.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Key prefixes for BadgerDB storage organization.
// Using single-byte prefixes for efficiency.
const (
	prefixNode          = byte(0x01) // node id -> nodeWire JSON
	prefixEdge          = byte(0x02) // edge id -> edgeWire JSON
	prefixLabelIndex    = byte(0x03) // label + 0x00 + node id -> empty
	prefixAdjacencyOut  = byte(0x04) // from id + edge id -> empty
	prefixAdjacencyIn   = byte(0x05) // to id + edge id -> empty
)

// Sequence keys for id allocation.
var (
	nodeSeqKey = []byte("skaldb:seq:node")
	edgeSeqKey = []byte("skaldb:seq:edge")
)

// seqBandwidth is how many ids a sequence leases at a time. Unused leased
// ids are lost on restart; ids promise monotonicity, not density.
const seqBandwidth = 128

// BadgerEngine provides persistent graph storage using BadgerDB.
//
// It satisfies the same Engine contract as MemoryEngine, with the same
// semantics: absence is nil, dangling edges are stored and skipped during
// traversal, nothing is ever updated or deleted. Ids come from BadgerDB
// sequences, so they survive restarts without any replay step.
//
// Key Structure:
//   - Nodes: 0x01 + id(8) -> JSON
//   - Edges: 0x02 + id(8) -> JSON
//   - Label Index: 0x03 + label + 0x00 + nodeID(8) -> empty
//   - Outgoing Index: 0x04 + fromID(8) + edgeID(8) -> empty
//   - Incoming Index: 0x05 + toID(8) + edgeID(8) -> empty
//
// One deliberate divergence from MemoryEngine: the label index is a key
// set, so a duplicated label in one AddNode call indexes the node once,
// not twice.
//
// Example:
//
//	engine, err := storage.NewBadgerEngine("./data/graph")
//	if err != nil {
//		return err
//	}
//	defer engine.Close()
//
//	id, _ := engine.AddNode([]string{"Person"}, map[string]any{"name": "Alice"})
type BadgerEngine struct {
	db      *badger.DB
	nodeSeq *badger.Sequence
	edgeSeq *badger.Sequence

	mu     sync.RWMutex // guards closed
	closed bool
}

// BadgerOptions configures the BadgerDB engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files. Required unless
	// InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode. Useful for testing.
	InMemory bool

	// SyncWrites forces fsync after each write. Slower but more durable.
	SyncWrites bool
}

// NewBadgerEngine creates a persistent engine with default settings.
func NewBadgerEngine(dataDir string) (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{DataDir: dataDir})
}

// NewBadgerEngineWithOptions creates a BadgerEngine with custom
// configuration.
func NewBadgerEngineWithOptions(opts BadgerOptions) (*BadgerEngine, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	badgerOpts = badgerOpts.WithLogger(nil)

	// Memory-constrained settings; graph values are small JSON blobs.
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, storageErr("open badger", err)
	}

	nodeSeq, err := db.GetSequence(nodeSeqKey, seqBandwidth)
	if err != nil {
		db.Close()
		return nil, storageErr("open node sequence", err)
	}
	edgeSeq, err := db.GetSequence(edgeSeqKey, seqBandwidth)
	if err != nil {
		nodeSeq.Release()
		db.Close()
		return nil, storageErr("open edge sequence", err)
	}

	return &BadgerEngine{db: db, nodeSeq: nodeSeq, edgeSeq: edgeSeq}, nil
}

// NewBadgerEngineInMemory creates an in-memory BadgerDB for testing.
// Data is not persisted and is lost when the engine is closed.
func NewBadgerEngineInMemory() (*BadgerEngine, error) {
	return NewBadgerEngineWithOptions(BadgerOptions{InMemory: true})
}

// ============================================================================
// Key encoding helpers
// ============================================================================

func idBytes(id uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], id)
	return b[:]
}

func nodeKey(id NodeID) []byte {
	return append([]byte{prefixNode}, idBytes(uint64(id))...)
}

func edgeKey(id EdgeID) []byte {
	return append([]byte{prefixEdge}, idBytes(uint64(id))...)
}

// labelIndexKey: prefix + label + 0x00 + nodeID(8).
func labelIndexKey(label string, id NodeID) []byte {
	key := make([]byte, 0, 1+len(label)+1+8)
	key = append(key, prefixLabelIndex)
	key = append(key, label...)
	key = append(key, 0x00)
	key = append(key, idBytes(uint64(id))...)
	return key
}

func labelIndexPrefix(label string) []byte {
	key := make([]byte, 0, 1+len(label)+1)
	key = append(key, prefixLabelIndex)
	key = append(key, label...)
	key = append(key, 0x00)
	return key
}

// adjacencyKey: prefix + nodeID(8) + edgeID(8). Fixed-width ids need no
// separator, and big-endian encoding keeps iteration in id order.
func adjacencyKey(prefix byte, nodeID NodeID, edgeID EdgeID) []byte {
	key := make([]byte, 0, 1+8+8)
	key = append(key, prefix)
	key = append(key, idBytes(uint64(nodeID))...)
	key = append(key, idBytes(uint64(edgeID))...)
	return key
}

func adjacencyPrefix(prefix byte, nodeID NodeID) []byte {
	key := make([]byte, 0, 1+8)
	key = append(key, prefix)
	key = append(key, idBytes(uint64(nodeID))...)
	return key
}

// trailingID extracts the last 8 bytes of an index key as an id.
func trailingID(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}

// ============================================================================
// Engine implementation
// ============================================================================

func (b *BadgerEngine) isClosed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// AddNode stores a new node and its label index entries in one
// transaction.
func (b *BadgerEngine) AddNode(labels []string, properties map[string]any) (NodeID, error) {
	if b.isClosed() {
		return 0, ErrClosed
	}

	next, err := b.nodeSeq.Next()
	if err != nil {
		return 0, storageErr("next node id", err)
	}
	id := NodeID(next + 1) // sequences start at 0, ids at 1

	node := &Node{ID: id, Labels: copyLabels(labels), Properties: copyProperties(properties)}
	data, err := json.Marshal(nodeToWire(node))
	if err != nil {
		return 0, storageErr("encode node", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(nodeKey(id), data); err != nil {
			return err
		}
		for _, label := range node.Labels {
			if err := txn.Set(labelIndexKey(label, id), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, storageErr("write node", err)
	}
	return id, nil
}

// AddEdge stores a new edge and both adjacency index entries in one
// transaction. Endpoints are not checked.
func (b *BadgerEngine) AddEdge(from, to NodeID, edgeType string, properties map[string]any) (EdgeID, error) {
	if b.isClosed() {
		return 0, ErrClosed
	}

	next, err := b.edgeSeq.Next()
	if err != nil {
		return 0, storageErr("next edge id", err)
	}
	id := EdgeID(next + 1)

	edge := &Edge{ID: id, From: from, To: to, Type: edgeType, Properties: copyProperties(properties)}
	data, err := json.Marshal(edgeToWire(edge))
	if err != nil {
		return 0, storageErr("encode edge", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(edgeKey(id), data); err != nil {
			return err
		}
		if err := txn.Set(adjacencyKey(prefixAdjacencyOut, from, id), nil); err != nil {
			return err
		}
		return txn.Set(adjacencyKey(prefixAdjacencyIn, to, id), nil)
	})
	if err != nil {
		return 0, storageErr("write edge", err)
	}
	return id, nil
}

// GetNode returns the node with the given id, or nil if absent.
func (b *BadgerEngine) GetNode(id NodeID) (*Node, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}

	var node *Node
	err := b.db.View(func(txn *badger.Txn) error {
		n, err := getNodeTxn(txn, id)
		node = n
		return err
	})
	if err != nil {
		return nil, storageErr("read node", err)
	}
	return node, nil
}

func getNodeTxn(txn *badger.Txn, id NodeID) (*Node, error) {
	item, err := txn.Get(nodeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var node *Node
	err = item.Value(func(val []byte) error {
		var w nodeWire
		if err := json.Unmarshal(val, &w); err != nil {
			return err
		}
		node = nodeFromWire(w)
		return nil
	})
	return node, err
}

func getEdgeTxn(txn *badger.Txn, id EdgeID) (*Edge, error) {
	item, err := txn.Get(edgeKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var edge *Edge
	err = item.Value(func(val []byte) error {
		var w edgeWire
		if err := json.Unmarshal(val, &w); err != nil {
			return err
		}
		edge = edgeFromWire(w)
		return nil
	})
	return edge, err
}

// ScanAll returns every node in the store.
func (b *BadgerEngine) ScanAll() ([]*Node, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}

	nodes := make([]*Node, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{prefixNode}})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var w nodeWire
				if err := json.Unmarshal(val, &w); err != nil {
					return err
				}
				nodes = append(nodes, nodeFromWire(w))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("scan nodes", err)
	}
	return nodes, nil
}

// ScanByLabel returns the nodes carrying the given label, in id order.
func (b *BadgerEngine) ScanByLabel(label string) ([]*Node, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}

	nodes := make([]*Node, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: labelIndexPrefix(label)})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			id := NodeID(trailingID(it.Item().Key()))
			node, err := getNodeTxn(txn, id)
			if err != nil {
				return err
			}
			if node != nil {
				nodes = append(nodes, node)
			}
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("scan label index", err)
	}
	return nodes, nil
}

// Neighbors returns (edge, destination) pairs for outgoing edges, with the
// same filtering and dangling-endpoint tolerance as MemoryEngine.
func (b *BadgerEngine) Neighbors(id NodeID, edgeType string) ([]Neighbor, error) {
	return b.neighbors(prefixAdjacencyOut, id, edgeType)
}

// IncomingNeighbors returns (edge, source) pairs for incoming edges.
func (b *BadgerEngine) IncomingNeighbors(id NodeID, edgeType string) ([]Neighbor, error) {
	return b.neighbors(prefixAdjacencyIn, id, edgeType)
}

func (b *BadgerEngine) neighbors(prefix byte, id NodeID, edgeType string) ([]Neighbor, error) {
	if b.isClosed() {
		return nil, ErrClosed
	}

	result := make([]Neighbor, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: adjacencyPrefix(prefix, id)})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			edgeID := EdgeID(trailingID(it.Item().Key()))
			edge, err := getEdgeTxn(txn, edgeID)
			if err != nil {
				return err
			}
			if edge == nil {
				continue
			}
			if edgeType != "" && edge.Type != edgeType {
				continue
			}

			far := edge.To
			if prefix == prefixAdjacencyIn {
				far = edge.From
			}
			node, err := getNodeTxn(txn, far)
			if err != nil {
				return err
			}
			if node == nil {
				continue // dangling endpoint
			}
			result = append(result, Neighbor{Edge: edge, Node: node})
		}
		return nil
	})
	if err != nil {
		return nil, storageErr("scan adjacency index", err)
	}
	return result, nil
}

// NodeCount returns the number of stored nodes.
func (b *BadgerEngine) NodeCount() (int64, error) {
	return b.countPrefix(prefixNode)
}

// EdgeCount returns the number of stored edges.
func (b *BadgerEngine) EdgeCount() (int64, error) {
	return b.countPrefix(prefixEdge)
}

func (b *BadgerEngine) countPrefix(prefix byte) (int64, error) {
	if b.isClosed() {
		return 0, ErrClosed
	}

	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte{prefix}})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, storageErr("count keys", err)
	}
	return count, nil
}

// Sync forces pending writes to disk.
func (b *BadgerEngine) Sync() error {
	if b.isClosed() {
		return ErrClosed
	}
	if err := b.db.Sync(); err != nil {
		return storageErr("sync badger", err)
	}
	return nil
}

// Close releases the id sequences and closes the database. Unused leased
// ids are returned so restarts waste as few as possible.
func (b *BadgerEngine) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.nodeSeq.Release() //nolint:errcheck
	b.edgeSeq.Release() //nolint:errcheck
	return b.db.Close()
}

// Verify BadgerEngine implements the write contract.
var _ Engine = (*BadgerEngine)(nil)
