package model

// PatchOp is the operation of a patch
type PatchOp string

const (
	// PatchOpPut adds or replaces an entity in the client view
	PatchOpPut PatchOp = "put"
	// PatchOpDel removes an entity from the client view
	PatchOpDel PatchOp = "del"
)

// PatchType is the kind of entity a config patch applies to
type PatchType string

const (
	// PatchTypeClient patches the set of clients in the group
	PatchTypeClient PatchType = "client"
	// PatchTypeQuery patches a query. With a ClientID it is a desired query
	// patch for that client, without one it announces the query's results.
	PatchTypeQuery PatchType = "query"
)

// ConfigPatch patches clients, desired queries or executed queries
type ConfigPatch struct {
	Type     PatchType `json:"type" yaml:"type"`
	Op       PatchOp   `json:"op" yaml:"op"`
	ID       string    `json:"id" yaml:"id"`
	ClientID string    `json:"clientID,omitempty" yaml:"clientID,omitempty"`
}

// RowPatch puts or deletes a row of the client view
type RowPatch struct {
	Op         PatchOp `json:"op" yaml:"op"`
	ID         RowID   `json:"id" yaml:"id"`
	RowVersion string  `json:"rowVersion,omitempty" yaml:"rowVersion,omitempty"`
	// Contents is only set on patches produced directly from query results
	Contents map[string]any `json:"contents,omitempty" yaml:"contents,omitempty"`
}

// ConfigPatchToVersion is a config patch stamped with the version it took effect
type ConfigPatchToVersion struct {
	Patch     ConfigPatch `json:"patch" yaml:"patch"`
	ToVersion CVRVersion  `json:"toVersion" yaml:"toVersion"`
}

// RowPatchToVersion is a row patch stamped with the version it took effect
type RowPatchToVersion struct {
	Patch     RowPatch   `json:"patch" yaml:"patch"`
	ToVersion CVRVersion `json:"toVersion" yaml:"toVersion"`
}
