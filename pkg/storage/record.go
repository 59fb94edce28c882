package storage

import (
	"encoding/json"
	"fmt"
)

// RecordType discriminates WAL record variants on the wire.
type RecordType string

// WAL record types.
const (
	RecordAddNode RecordType = "add_node"
	RecordAddEdge RecordType = "add_edge"
)

// WALRecord is a single logged graph mutation. It is a tagged variant:
// Type selects which fields are meaningful.
//
//	add_node: ID (node id), Labels, Properties
//	add_edge: ID (edge id), From, To, EdgeType, Properties
//
// Records carry the id the store assigned at mutation time; replay never
// renumbers. The wire format is self-describing JSON with a "type"
// discriminant, no framing — record boundaries belong to the WAL file
// layer (see WAL).
type WALRecord struct {
	Type       RecordType
	ID         uint64 // node or edge id, depending on Type
	Labels     []string
	From       NodeID
	To         NodeID
	EdgeType   string
	Properties map[string]any
}

// AddNodeRecord builds the WAL record for a node insertion.
func AddNodeRecord(id NodeID, labels []string, properties map[string]any) WALRecord {
	return WALRecord{
		Type:       RecordAddNode,
		ID:         uint64(id),
		Labels:     copyLabels(labels),
		Properties: copyProperties(properties),
	}
}

// AddEdgeRecord builds the WAL record for an edge insertion.
func AddEdgeRecord(id EdgeID, from, to NodeID, edgeType string, properties map[string]any) WALRecord {
	return WALRecord{
		Type:       RecordAddEdge,
		ID:         uint64(id),
		From:       from,
		To:         to,
		EdgeType:   edgeType,
		Properties: copyProperties(properties),
	}
}

// Wire shapes. Field order and names are part of the on-disk contract.
type addNodeWire struct {
	Type       RecordType     `json:"type"`
	ID         uint64         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

type addEdgeWire struct {
	Type       RecordType     `json:"type"`
	ID         uint64         `json:"id"`
	From       uint64         `json:"from"`
	To         uint64         `json:"to"`
	EdgeType   string         `json:"edge_type"`
	Properties map[string]any `json:"properties"`
}

// ToBytes serializes the record to its self-describing JSON form.
//
// Serialization is fallible here: a property value that cannot be
// represented as JSON surfaces as an error instead of silently producing an
// empty payload. An empty record appended to a log would be
// indistinguishable from no record at all, which is worse than failing the
// write.
func (r WALRecord) ToBytes() ([]byte, error) {
	switch r.Type {
	case RecordAddNode:
		data, err := json.Marshal(addNodeWire{
			Type:       r.Type,
			ID:         r.ID,
			Labels:     r.Labels,
			Properties: r.Properties,
		})
		if err != nil {
			return nil, storageErr("serialize add_node record", err)
		}
		return data, nil

	case RecordAddEdge:
		data, err := json.Marshal(addEdgeWire{
			Type:       r.Type,
			ID:         r.ID,
			From:       uint64(r.From),
			To:         uint64(r.To),
			EdgeType:   r.EdgeType,
			Properties: r.Properties,
		})
		if err != nil {
			return nil, storageErr("serialize add_edge record", err)
		}
		return data, nil

	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrBadRecord, r.Type)
	}
}

// ParseWALRecord parses a record from its wire bytes.
//
// Parsing is deliberately lenient about field contents and strict about
// structure: malformed JSON, a missing or non-string "type", or an
// unrecognized discriminant fail with ErrBadRecord, while missing or
// wrong-typed payload fields recover to zero values — a record missing its
// labels parses as a node with no labels. The recovery is lossy; it keeps
// replay moving over records written by older or newer versions of the
// codec.
func ParseWALRecord(data []byte) (WALRecord, error) {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(data, &env); err != nil {
		return WALRecord{}, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}

	raw, ok := env["type"]
	if !ok {
		return WALRecord{}, fmt.Errorf("%w: missing type discriminant", ErrBadRecord)
	}
	var typ RecordType
	if err := json.Unmarshal(raw, &typ); err != nil {
		return WALRecord{}, fmt.Errorf("%w: non-string type discriminant", ErrBadRecord)
	}

	switch typ {
	case RecordAddNode:
		return WALRecord{
			Type:       RecordAddNode,
			ID:         lenientUint(env["id"]),
			Labels:     lenientStrings(env["labels"]),
			Properties: decodeProperties(env["properties"]),
		}, nil

	case RecordAddEdge:
		return WALRecord{
			Type:       RecordAddEdge,
			ID:         lenientUint(env["id"]),
			From:       NodeID(lenientUint(env["from"])),
			To:         NodeID(lenientUint(env["to"])),
			EdgeType:   lenientString(env["edge_type"]),
			Properties: decodeProperties(env["properties"]),
		}, nil

	default:
		return WALRecord{}, fmt.Errorf("%w: unknown type %q", ErrBadRecord, typ)
	}
}

// lenientUint decodes a JSON number, defaulting to 0 on absence or type
// mismatch.
func lenientUint(raw json.RawMessage) uint64 {
	var v uint64
	if raw == nil || json.Unmarshal(raw, &v) != nil {
		return 0
	}
	return v
}

// lenientString decodes a JSON string, defaulting to "".
func lenientString(raw json.RawMessage) string {
	var v string
	if raw == nil || json.Unmarshal(raw, &v) != nil {
		return ""
	}
	return v
}

// lenientStrings decodes a JSON string array, defaulting to empty.
func lenientStrings(raw json.RawMessage) []string {
	var v []string
	if raw == nil || json.Unmarshal(raw, &v) != nil {
		return []string{}
	}
	if v == nil {
		return []string{}
	}
	return v
}

// decodeProperties decodes a property object key by key. A value that fails
// to decode is dropped, not an error: unsupported property values must not
// take the whole record down with them.
func decodeProperties(raw json.RawMessage) map[string]any {
	props := make(map[string]any)
	if raw == nil {
		return props
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return props
	}
	for k, rv := range obj {
		var v any
		if err := json.Unmarshal(rv, &v); err != nil {
			continue
		}
		props[k] = v
	}
	return props
}
