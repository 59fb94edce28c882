// Write-ahead logging for SkaldDB durability.
//
// The WAL record model (record.go) defines how a single mutation is
// serialized; this file owns everything around it — framing, sequencing,
// checksums, sync policy — and the DurableEngine, which nails down the
// ordering the record model deliberately leaves open: a mutation is
// appended to the log before it is applied in memory and acknowledged.
//
// Recovery model: segments hold the store as of the last checkpoint, the
// WAL holds everything since. OpenDurable loads the segments, replays the
// log past the last checkpoint marker, and reopens the log for appends.
package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/skaldb/pkg/catalog"
)

// WALFileName is the log file name inside a branch directory.
const WALFileName = "wal.log"

// Sync modes control when appended entries reach stable storage.
const (
	// SyncImmediate fsyncs after every append. Safest, slowest.
	SyncImmediate = "immediate"
	// SyncBatch fsyncs on a timer. Fast, bounded loss window.
	SyncBatch = "batch"
	// SyncNone never fsyncs outside Close. Fastest, crash loses the tail.
	SyncNone = "none"
)

// Entry kinds.
const (
	entryRecord     = "record"
	entryCheckpoint = "checkpoint"
)

// WALConfig configures WAL behavior.
type WALConfig struct {
	// SyncMode is one of SyncImmediate, SyncBatch, SyncNone.
	SyncMode string

	// BatchSyncInterval is the fsync period for SyncBatch.
	BatchSyncInterval time.Duration
}

// DefaultWALConfig returns sensible defaults.
func DefaultWALConfig() *WALConfig {
	return &WALConfig{
		SyncMode:          SyncBatch,
		BatchSyncInterval: 100 * time.Millisecond,
	}
}

// WALEntry frames one record (or checkpoint marker) in the log file.
// Entries are newline-delimited JSON; Data holds the record's wire bytes
// and Checksum a BLAKE2b-256 digest of them, so a torn or bit-rotted tail
// is detectable during recovery.
type WALEntry struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	Data      []byte    `json:"data,omitempty"`
	Checksum  []byte    `json:"checksum"`
}

// WAL is an append-only mutation log for one branch.
//
// Appends are serialized by an internal mutex; Sequence and Stats are
// lock-free. The WAL never rewrites history: checkpoints are markers, not
// truncations, and recovery filters by the last marker.
type WAL struct {
	mu      sync.Mutex
	config  *WALConfig
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder

	sequence atomic.Uint64
	closed   atomic.Bool

	syncTicker *time.Ticker
	stopSync   chan struct{}

	totalAppends atomic.Int64
	totalSyncs   atomic.Int64
}

// WALStats provides observability into WAL state.
type WALStats struct {
	Sequence     uint64
	TotalAppends int64
	TotalSyncs   int64
	Closed       bool
}

// NewWAL opens (or creates) the write-ahead log in dir.
//
// An existing log is scanned once to recover the last sequence number, so
// sequences stay monotonic across process restarts.
func NewWAL(dir string, cfg *WALConfig) (*WAL, error) {
	if cfg == nil {
		cfg = DefaultWALConfig()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, storageErr("create wal dir", err)
	}

	walPath := filepath.Join(dir, WALFileName)
	file, err := os.OpenFile(walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, storageErr("open wal.log", err)
	}

	w := &WAL{
		config:   cfg,
		file:     file,
		writer:   bufio.NewWriterSize(file, 64*1024),
		stopSync: make(chan struct{}),
	}
	w.encoder = json.NewEncoder(w.writer)

	if seq, err := lastSequence(walPath); err == nil {
		w.sequence.Store(seq)
	}

	if cfg.SyncMode == SyncBatch && cfg.BatchSyncInterval > 0 {
		w.syncTicker = time.NewTicker(cfg.BatchSyncInterval)
		go w.batchSyncLoop()
	}

	return w, nil
}

// lastSequence scans an existing log for its final sequence number.
func lastSequence(walPath string) (uint64, error) {
	file, err := os.Open(walPath)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	var last uint64
	decoder := json.NewDecoder(file)
	for {
		var entry WALEntry
		if err := decoder.Decode(&entry); err != nil {
			break
		}
		last = entry.Seq
	}
	return last, nil
}

func (w *WAL) batchSyncLoop() {
	for {
		select {
		case <-w.syncTicker.C:
			w.Sync() //nolint:errcheck // best-effort background sync
		case <-w.stopSync:
			return
		}
	}
}

// Append serializes a record and writes it as the next log entry.
//
// With SyncImmediate the entry is on stable storage when Append returns;
// otherwise durability lags by at most one sync interval.
func (w *WAL) Append(rec WALRecord) error {
	data, err := rec.ToBytes()
	if err != nil {
		return err
	}
	return w.appendEntry(entryRecord, data)
}

// Checkpoint appends a checkpoint marker and forces it to disk.
//
// Everything at or before the marker is covered by the segment flush that
// preceded it; recovery replays only records after the last marker.
func (w *WAL) Checkpoint() error {
	if err := w.appendEntry(entryCheckpoint, nil); err != nil {
		return err
	}
	return w.Sync()
}

func (w *WAL) appendEntry(kind string, data []byte) error {
	if w.closed.Load() {
		return ErrClosed
	}

	sum := blake2b.Sum256(data)
	entry := WALEntry{
		Seq:       w.sequence.Add(1),
		Timestamp: time.Now(),
		Kind:      kind,
		Data:      data,
		Checksum:  sum[:],
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.encoder.Encode(&entry); err != nil {
		return storageErr("write wal entry", err)
	}
	w.totalAppends.Add(1)

	if w.config.SyncMode == SyncImmediate {
		return w.syncLocked()
	}
	return nil
}

// Sync flushes buffered entries and runs the durability barrier.
func (w *WAL) Sync() error {
	if w.closed.Load() {
		return ErrClosed
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *WAL) syncLocked() error {
	if err := w.writer.Flush(); err != nil {
		return storageErr("flush wal", err)
	}
	if w.config.SyncMode != SyncNone {
		if err := w.file.Sync(); err != nil {
			return storageErr("fsync wal", err)
		}
	}
	w.totalSyncs.Add(1)
	return nil
}

// Close flushes pending entries and closes the log file.
func (w *WAL) Close() error {
	if w.closed.Swap(true) {
		return nil
	}

	if w.syncTicker != nil {
		w.syncTicker.Stop()
		close(w.stopSync)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		w.file.Close()
		return storageErr("flush wal", err)
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return storageErr("fsync wal", err)
	}
	return w.file.Close()
}

// Sequence returns the sequence number of the most recent entry.
func (w *WAL) Sequence() uint64 {
	return w.sequence.Load()
}

// Stats returns current WAL statistics.
func (w *WAL) Stats() WALStats {
	return WALStats{
		Sequence:     w.sequence.Load(),
		TotalAppends: w.totalAppends.Load(),
		TotalSyncs:   w.totalSyncs.Load(),
		Closed:       w.closed.Load(),
	}
}

// ReadWALEntries reads every verifiable entry from a log file.
//
// Entries that fail to decode or whose checksum does not match are
// skipped, not fatal: a crash mid-append legitimately leaves a torn final
// entry, and recovery should keep everything before it. A missing file
// yields no entries.
func ReadWALEntries(walPath string) ([]WALEntry, error) {
	file, err := os.Open(walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, storageErr("open wal.log", err)
	}
	defer file.Close()

	var entries []WALEntry
	decoder := json.NewDecoder(file)
	for {
		var entry WALEntry
		if err := decoder.Decode(&entry); err != nil {
			if err == io.EOF {
				break
			}
			// Torn or corrupt tail; everything decodable before it stands.
			break
		}

		sum := blake2b.Sum256(entry.Data)
		if !bytes.Equal(entry.Checksum, sum[:]) {
			continue
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

// RecordsSinceCheckpoint parses the records logged after the last
// checkpoint marker. With no marker present, every record in the log
// qualifies.
func RecordsSinceCheckpoint(walPath string) ([]WALRecord, error) {
	entries, err := ReadWALEntries(walPath)
	if err != nil {
		return nil, err
	}

	start := 0
	for i, entry := range entries {
		if entry.Kind == entryCheckpoint {
			start = i + 1
		}
	}

	var records []WALRecord
	for _, entry := range entries[start:] {
		if entry.Kind != entryRecord {
			continue
		}
		rec, err := ParseWALRecord(entry.Data)
		if err != nil {
			return nil, storageErr("parse wal.log", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// DurableEngine couples a MemoryEngine with a WAL and owns the write
// ordering the core leaves to its caller: every mutation is appended to
// the log before it is applied in memory and its id returned.
//
// The two-step protocol per mutation:
//  1. Reserve the id and append the WAL record naming it.
//  2. Apply the record through the replay path.
//
// A crash between the steps costs nothing but an id gap — the record is in
// the log and recovery applies it. A crash before step 1 completes loses a
// write that was never acknowledged.
//
// Reads delegate straight to the in-memory store.
type DurableEngine struct {
	mu  sync.Mutex // serializes the log-then-apply pairs
	mem *MemoryEngine
	wal *WAL

	root, db, branch string
}

// OpenDurable recovers a branch and returns a durable engine for it.
//
// Recovery order: load segments, replay WAL records past the last
// checkpoint, reopen the log for appending. Opening a branch that has
// never existed yields an empty store.
//
// Example:
//
//	eng, err := storage.OpenDurable("./data", "default", "main", nil)
//	if err != nil {
//		return err
//	}
//	defer eng.Close()
//
//	id, _ := eng.AddNode([]string{"Person"}, map[string]any{"name": "Alice"})
func OpenDurable(root, db, branch string, cfg *WALConfig) (*DurableEngine, error) {
	dir, err := catalog.EnsureBranchDir(root, db, branch)
	if err != nil {
		return nil, err
	}

	mem, err := LoadFromSegments(root, db, branch)
	if err != nil {
		return nil, err
	}

	records, err := RecordsSinceCheckpoint(filepath.Join(dir, WALFileName))
	if err != nil {
		return nil, err
	}
	if err := mem.ReplayWAL(records); err != nil {
		return nil, err
	}

	wal, err := NewWAL(dir, cfg)
	if err != nil {
		return nil, err
	}

	return &DurableEngine{
		mem:    mem,
		wal:    wal,
		root:   root,
		db:     db,
		branch: branch,
	}, nil
}

// AddNode logs then applies a node insertion.
func (d *DurableEngine) AddNode(labels []string, properties map[string]any) (NodeID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.mem.reserveNodeID()
	rec := AddNodeRecord(id, labels, properties)
	if err := d.wal.Append(rec); err != nil {
		return 0, err
	}
	if err := d.mem.ReplayWAL([]WALRecord{rec}); err != nil {
		return 0, err
	}
	return id, nil
}

// AddEdge logs then applies an edge insertion.
func (d *DurableEngine) AddEdge(from, to NodeID, edgeType string, properties map[string]any) (EdgeID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.mem.reserveEdgeID()
	rec := AddEdgeRecord(id, from, to, edgeType, properties)
	if err := d.wal.Append(rec); err != nil {
		return 0, err
	}
	if err := d.mem.ReplayWAL([]WALRecord{rec}); err != nil {
		return 0, err
	}
	return id, nil
}

// ScanAll delegates to the in-memory store.
func (d *DurableEngine) ScanAll() ([]*Node, error) {
	return d.mem.ScanAll()
}

// ScanByLabel delegates to the in-memory store.
func (d *DurableEngine) ScanByLabel(label string) ([]*Node, error) {
	return d.mem.ScanByLabel(label)
}

// GetNode delegates to the in-memory store.
func (d *DurableEngine) GetNode(id NodeID) (*Node, error) {
	return d.mem.GetNode(id)
}

// Neighbors delegates to the in-memory store.
func (d *DurableEngine) Neighbors(id NodeID, edgeType string) ([]Neighbor, error) {
	return d.mem.Neighbors(id, edgeType)
}

// IncomingNeighbors delegates to the in-memory store.
func (d *DurableEngine) IncomingNeighbors(id NodeID, edgeType string) ([]Neighbor, error) {
	return d.mem.IncomingNeighbors(id, edgeType)
}

// Checkpoint flushes the store to segments and marks the WAL.
//
// After Checkpoint returns, the segments alone reconstruct everything up
// to this point; records before the marker are dead weight kept only for
// audit. Writers are excluded for the duration.
func (d *DurableEngine) Checkpoint() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.mem.FlushToSegments(d.root, d.db, d.branch); err != nil {
		return err
	}
	return d.wal.Checkpoint()
}

// Store exposes the underlying in-memory engine.
func (d *DurableEngine) Store() *MemoryEngine {
	return d.mem
}

// WAL exposes the underlying log, mostly for stats.
func (d *DurableEngine) WAL() *WAL {
	return d.wal
}

// Close flushes and closes the WAL. The in-memory store stays readable.
func (d *DurableEngine) Close() error {
	return d.wal.Close()
}

// Verify DurableEngine implements the write contract.
var _ Engine = (*DurableEngine)(nil)
