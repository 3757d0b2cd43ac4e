package model

import (
	"encoding/json"
	"fmt"
)

// RowID identifies a row of the replicated data set
type RowID struct {
	Schema string `json:"schema" yaml:"schema"`
	Table  string `json:"table" yaml:"table"`
	// RowKey is the canonical JSON encoding of the row's primary key columns
	RowKey string `json:"rowKey" yaml:"rowKey"`
}

// NewRowID builds a RowID from the primary key column values of a row
func NewRowID(schema, table string, key map[string]any) (RowID, error) {
	rowKey, err := NewRowKey(key)
	if err != nil {
		return RowID{}, err
	}
	return RowID{Schema: schema, Table: table, RowKey: rowKey}, nil
}

// NewRowKey encodes primary key columns canonically. encoding/json sorts map
// keys, so equal keys always encode to the same string.
func NewRowKey(key map[string]any) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("row key must have at least one column")
	}
	data, err := json.Marshal(key)
	if err != nil {
		return "", fmt.Errorf("failed to encode row key: %w", err)
	}
	return string(data), nil
}

// String returns a human readable form of the row ID
func (id RowID) String() string {
	if id.Schema == "" {
		return id.Table + id.RowKey
	}
	return id.Schema + "." + id.Table + id.RowKey
}

// RowRecord is the persisted bookkeeping of a row in the client view.
// Row records are not part of the snapshot; the store streams them.
type RowRecord struct {
	ID RowID `json:"id"`
	// RowVersion is the version of the row in the replica, not a CVRVersion
	RowVersion   string     `json:"rowVersion"`
	PatchVersion CVRVersion `json:"patchVersion"`
	// RefCounts is nil for a row that has been deleted from the client view
	RefCounts map[string]int `json:"refCounts"`
}

// Tombstone reports whether the record marks a deleted row
func (r *RowRecord) Tombstone() bool {
	return len(r.RefCounts) == 0
}

// RowUpdate is one row produced by query execution
type RowUpdate struct {
	Version   string         `json:"version"`
	RefCounts map[string]int `json:"refCounts"`
	Contents  map[string]any `json:"contents,omitempty"`
}
