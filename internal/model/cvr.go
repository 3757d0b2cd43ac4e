package model

import (
	"sort"
	"time"
)

// CVRSnapshot is the in-memory view of one client group's client view record
// at a version. Snapshots are values: updaters work on a Clone and produce a
// new snapshot when they flush.
type CVRSnapshot struct {
	ID         string     `json:"id" yaml:"id"`
	Version    CVRVersion `json:"version" yaml:"version"`
	// LastActive is zero until the first flush
	LastActive time.Time  `json:"lastActive" yaml:"lastActive"`
	// ReplicaVersion is empty until the first query execution
	ReplicaVersion string                  `json:"replicaVersion,omitempty" yaml:"replicaVersion,omitempty"`
	Clients        map[string]*ClientRecord `json:"clients" yaml:"clients"`
	Queries        map[string]*QueryRecord  `json:"queries" yaml:"queries"`
}

// ClientRecord tracks the queries a single client wants
type ClientRecord struct {
	ID string `json:"id" yaml:"id"`
	// DesiredQueryIDs is kept sorted
	DesiredQueryIDs []string   `json:"desiredQueryIDs" yaml:"desiredQueryIDs"`
	PatchVersion    CVRVersion `json:"patchVersion" yaml:"patchVersion"`
}

// QueryRecord tracks a query desired by one or more clients, or an internal
// query maintained by the server.
type QueryRecord struct {
	ID                    string                `json:"id" yaml:"id"`
	AST                   AST                   `json:"ast" yaml:"ast"`
	TransformationHash    string                `json:"transformationHash,omitempty" yaml:"transformationHash,omitempty"`
	TransformationVersion *CVRVersion           `json:"transformationVersion,omitempty" yaml:"transformationVersion,omitempty"`
	DesiredBy             map[string]CVRVersion `json:"desiredBy" yaml:"desiredBy"`
	PatchVersion          *CVRVersion           `json:"patchVersion,omitempty" yaml:"patchVersion,omitempty"`
	Internal              bool                  `json:"internal,omitempty" yaml:"internal,omitempty"`
}

// NewCVRSnapshot returns the empty snapshot of a client group that has never
// been flushed.
func NewCVRSnapshot(id string) *CVRSnapshot {
	return &CVRSnapshot{
		ID:      id,
		Version: InitialVersion(),
		Clients: make(map[string]*ClientRecord),
		Queries: make(map[string]*QueryRecord),
	}
}

// Clone returns a deep copy of the snapshot
func (s *CVRSnapshot) Clone() *CVRSnapshot {
	c := &CVRSnapshot{
		ID:             s.ID,
		Version:        s.Version,
		LastActive:     s.LastActive,
		ReplicaVersion: s.ReplicaVersion,
		Clients:        make(map[string]*ClientRecord, len(s.Clients)),
		Queries:        make(map[string]*QueryRecord, len(s.Queries)),
	}
	for id, client := range s.Clients {
		c.Clients[id] = client.Clone()
	}
	for id, query := range s.Queries {
		c.Queries[id] = query.Clone()
	}
	return c
}

// Clone returns a deep copy of the client record
func (c *ClientRecord) Clone() *ClientRecord {
	ids := make([]string, len(c.DesiredQueryIDs))
	copy(ids, c.DesiredQueryIDs)
	return &ClientRecord{
		ID:              c.ID,
		DesiredQueryIDs: ids,
		PatchVersion:    c.PatchVersion,
	}
}

// Desires reports whether the client desires the query
func (c *ClientRecord) Desires(queryID string) bool {
	i := sort.SearchStrings(c.DesiredQueryIDs, queryID)
	return i < len(c.DesiredQueryIDs) && c.DesiredQueryIDs[i] == queryID
}

// AddDesired inserts queryID keeping DesiredQueryIDs sorted
func (c *ClientRecord) AddDesired(queryID string) {
	i := sort.SearchStrings(c.DesiredQueryIDs, queryID)
	if i < len(c.DesiredQueryIDs) && c.DesiredQueryIDs[i] == queryID {
		return
	}
	c.DesiredQueryIDs = append(c.DesiredQueryIDs, "")
	copy(c.DesiredQueryIDs[i+1:], c.DesiredQueryIDs[i:])
	c.DesiredQueryIDs[i] = queryID
}

// RemoveDesired removes queryID from DesiredQueryIDs
func (c *ClientRecord) RemoveDesired(queryID string) {
	i := sort.SearchStrings(c.DesiredQueryIDs, queryID)
	if i < len(c.DesiredQueryIDs) && c.DesiredQueryIDs[i] == queryID {
		c.DesiredQueryIDs = append(c.DesiredQueryIDs[:i], c.DesiredQueryIDs[i+1:]...)
	}
}

// Clone returns a deep copy of the query record
func (q *QueryRecord) Clone() *QueryRecord {
	c := &QueryRecord{
		ID:                 q.ID,
		AST:                q.AST.Clone(),
		TransformationHash: q.TransformationHash,
		DesiredBy:          make(map[string]CVRVersion, len(q.DesiredBy)),
		Internal:           q.Internal,
	}
	if q.TransformationVersion != nil {
		c.TransformationVersion = VersionPtr(*q.TransformationVersion)
	}
	if q.PatchVersion != nil {
		c.PatchVersion = VersionPtr(*q.PatchVersion)
	}
	for clientID, v := range q.DesiredBy {
		c.DesiredBy[clientID] = v
	}
	return c
}

// QuerySpec identifies a query by the hash of its client supplied AST
type QuerySpec struct {
	ID  string `json:"id"`
	AST AST    `json:"ast"`
}

// ExecutedQuery is the result of executing a query: the hash of the
// server-rewritten form that was actually run.
type ExecutedQuery struct {
	ID                 string `json:"id"`
	TransformationHash string `json:"transformationHash"`
}
