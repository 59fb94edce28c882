package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/orneryd/skaldb/pkg/catalog"
)

// Segment file names under the branch's segments directory.
const (
	segmentsDirName  = "segments"
	nodesSegmentName = "nodes.seg"
	edgesSegmentName = "edges.seg"
)

// Segment container formats. Each segment is a self-describing JSON object:
// a count plus the ordered list of full entity records. JSON is chosen for
// simplicity and inspectability over binary compactness.
type nodesSegment struct {
	Count int        `json:"count"`
	Nodes []nodeWire `json:"nodes"`
}

type edgesSegment struct {
	Count int        `json:"count"`
	Edges []edgeWire `json:"edges"`
}

// nodeWire is the serialized form of a Node, shared by segment files and
// the BadgerEngine value encoding.
type nodeWire struct {
	ID         uint64         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

// edgeWire is the serialized form of an Edge.
type edgeWire struct {
	ID         uint64         `json:"id"`
	From       uint64         `json:"from"`
	To         uint64         `json:"to"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

func nodeToWire(n *Node) nodeWire {
	return nodeWire{ID: uint64(n.ID), Labels: n.Labels, Properties: n.Properties}
}

func nodeFromWire(w nodeWire) *Node {
	return &Node{
		ID:         NodeID(w.ID),
		Labels:     copyLabels(w.Labels),
		Properties: reprojectProperties(w.Properties),
	}
}

func edgeToWire(e *Edge) edgeWire {
	return edgeWire{ID: uint64(e.ID), From: uint64(e.From), To: uint64(e.To), Type: e.Type, Properties: e.Properties}
}

func edgeFromWire(w edgeWire) *Edge {
	return &Edge{
		ID:         EdgeID(w.ID),
		From:       NodeID(w.From),
		To:         NodeID(w.To),
		Type:       w.Type,
		Properties: reprojectProperties(w.Properties),
	}
}

// reprojectProperties normalizes a decoded property map, never nil.
// Values arrive through the JSON projection already; anything that decoded
// is by definition representable.
func reprojectProperties(props map[string]any) map[string]any {
	if props == nil {
		return make(map[string]any)
	}
	return props
}

// segmentsDir resolves the segments directory for a branch via the catalog.
func segmentsDir(root, db, branch string) string {
	return filepath.Join(catalog.BranchDir(root, db, branch), segmentsDirName)
}

// FlushToSegments writes the whole store to the branch's segment files.
//
// Two files are produced under <branch>/segments: nodes.seg and edges.seg.
// Each is written atomically — to a temp file, fsynced, then renamed over
// the previous segment — so a crash mid-flush leaves the old segment pair
// intact rather than a torn file. The WAL up to the flush point may be
// discarded once this returns (see DurableEngine.Checkpoint).
//
// Callers must quiesce writers for the duration: flush is a whole-store
// operation with no defined interleaving against concurrent mutation.
func (m *MemoryEngine) FlushToSegments(root, db, branch string) error {
	dir := segmentsDir(root, db, branch)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return storageErr("create segments dir", err)
	}

	// Snapshot in id order so the segment files, and the indexes rebuilt
	// from them, come out the same on every flush.
	m.mu.RLock()
	nodes := make([]nodeWire, 0, len(m.nodes))
	for _, n := range m.nodes {
		nodes = append(nodes, nodeToWire(n))
	}
	edges := make([]edgeWire, 0, len(m.edges))
	for _, e := range m.edges {
		edges = append(edges, edgeToWire(e))
	}
	m.mu.RUnlock()
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	if err := writeSegmentFile(filepath.Join(dir, nodesSegmentName), nodesSegment{
		Count: len(nodes),
		Nodes: nodes,
	}); err != nil {
		return fmt.Errorf("%s: %w", nodesSegmentName, err)
	}

	if err := writeSegmentFile(filepath.Join(dir, edgesSegmentName), edgesSegment{
		Count: len(edges),
		Edges: edges,
	}); err != nil {
		return fmt.Errorf("%s: %w", edgesSegmentName, err)
	}

	return nil
}

// writeSegmentFile writes a segment with write-temp-then-rename atomic
// replacement and a durability barrier before the rename.
func writeSegmentFile(path string, payload any) error {
	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return storageErr("create segment", err)
	}

	if err := json.NewEncoder(file).Encode(payload); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return storageErr("encode segment", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return storageErr("fsync segment", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return storageErr("close segment", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return storageErr("rename segment", err)
	}

	return nil
}

// LoadFromSegments constructs a fresh store from the branch's segment
// files.
//
// A missing nodes.seg or edges.seg is not an error; the corresponding
// table just loads empty. All indexes and both id counters are rebuilt
// from the loaded records, through the same apply path live insertion
// uses. Loading the same files twice yields identical stores.
func LoadFromSegments(root, db, branch string) (*MemoryEngine, error) {
	dir := segmentsDir(root, db, branch)
	store := NewMemoryEngine()

	if err := store.loadNodesSegment(filepath.Join(dir, nodesSegmentName)); err != nil {
		return nil, err
	}
	if err := store.loadEdgesSegment(filepath.Join(dir, edgesSegmentName)); err != nil {
		return nil, err
	}

	return store, nil
}

func (m *MemoryEngine) loadNodesSegment(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return storageErr("read nodes.seg", err)
	}

	var seg nodesSegment
	if err := json.Unmarshal(data, &seg); err != nil {
		return storageErr("parse nodes.seg", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range seg.Nodes {
		m.applyNode(nodeFromWire(w))
	}
	return nil
}

func (m *MemoryEngine) loadEdgesSegment(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return storageErr("read edges.seg", err)
	}

	var seg edgesSegment
	if err := json.Unmarshal(data, &seg); err != nil {
		return storageErr("parse edges.seg", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range seg.Edges {
		m.applyEdge(edgeFromWire(w))
	}
	return nil
}

// ReplayWAL applies an ordered sequence of WAL records to the store,
// typically one just loaded from segments.
//
// Records carry their original ids: replay never renumbers, accepts
// out-of-order and non-contiguous ids, and advances the counters through
// the same monotonic merge as live insertion — so ids issued after a
// replay can never collide with replayed ones.
func (m *MemoryEngine) ReplayWAL(records []WALRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		switch rec.Type {
		case RecordAddNode:
			m.applyNode(&Node{
				ID:         NodeID(rec.ID),
				Labels:     copyLabels(rec.Labels),
				Properties: copyProperties(rec.Properties),
			})

		case RecordAddEdge:
			m.applyEdge(&Edge{
				ID:         EdgeID(rec.ID),
				From:       rec.From,
				To:         rec.To,
				Type:       rec.EdgeType,
				Properties: copyProperties(rec.Properties),
			})

		default:
			return fmt.Errorf("replay wal: %w: unknown type %q", ErrBadRecord, rec.Type)
		}
	}
	return nil
}
