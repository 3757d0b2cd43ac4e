package store

import "github.com/ydydsnyd/mono-sub004/internal/model"

// DesireKey identifies a (client, query) desire
type DesireKey struct {
	ClientID string
	QueryID  string
}

// ClientWrite upserts a client row
type ClientWrite struct {
	ClientID     string
	PatchVersion model.CVRVersion
	Deleted      bool
}

// QueryWrite upserts a query row. A deleted query keeps its PatchVersion set
// to the deletion version when a put had been announced, so catch-up can
// announce the deletion.
type QueryWrite struct {
	Query   *model.QueryRecord
	Deleted bool
}

// DesireWrite upserts a desire row
type DesireWrite struct {
	ClientID     string
	QueryID      string
	PatchVersion model.CVRVersion
	Deleted      bool
}

// PendingWrites accumulates the row level writes of one flush. A later write
// to the same key replaces an earlier one.
type PendingWrites struct {
	Clients map[string]ClientWrite
	Queries map[string]QueryWrite
	Desires map[DesireKey]DesireWrite
	Rows    map[model.RowID]*model.RowRecord
}

// NewPendingWrites creates an empty write set
func NewPendingWrites() *PendingWrites {
	return &PendingWrites{
		Clients: make(map[string]ClientWrite),
		Queries: make(map[string]QueryWrite),
		Desires: make(map[DesireKey]DesireWrite),
		Rows:    make(map[model.RowID]*model.RowRecord),
	}
}

// PutClient queues an upsert of a client
func (w *PendingWrites) PutClient(client *model.ClientRecord) {
	w.Clients[client.ID] = ClientWrite{ClientID: client.ID, PatchVersion: client.PatchVersion}
}

// DeleteClient queues a client tombstone
func (w *PendingWrites) DeleteClient(clientID string, version model.CVRVersion) {
	w.Clients[clientID] = ClientWrite{ClientID: clientID, PatchVersion: version, Deleted: true}
}

// PutQuery queues an upsert of a query
func (w *PendingWrites) PutQuery(query *model.QueryRecord) {
	w.Queries[query.ID] = QueryWrite{Query: query.Clone()}
}

// DeleteQuery queues a query tombstone
func (w *PendingWrites) DeleteQuery(query *model.QueryRecord, patchVersion *model.CVRVersion) {
	tombstone := query.Clone()
	tombstone.PatchVersion = patchVersion
	tombstone.DesiredBy = map[string]model.CVRVersion{}
	w.Queries[query.ID] = QueryWrite{Query: tombstone, Deleted: true}
}

// PutDesire queues an upsert of a desire
func (w *PendingWrites) PutDesire(clientID, queryID string, version model.CVRVersion) {
	w.Desires[DesireKey{ClientID: clientID, QueryID: queryID}] = DesireWrite{
		ClientID:     clientID,
		QueryID:      queryID,
		PatchVersion: version,
	}
}

// DeleteDesire queues a desire tombstone
func (w *PendingWrites) DeleteDesire(clientID, queryID string, version model.CVRVersion) {
	w.Desires[DesireKey{ClientID: clientID, QueryID: queryID}] = DesireWrite{
		ClientID:     clientID,
		QueryID:      queryID,
		PatchVersion: version,
		Deleted:      true,
	}
}

// PutRow queues an upsert of a row record; nil RefCounts writes a tombstone
func (w *PendingWrites) PutRow(row *model.RowRecord) {
	copied := *row
	if row.RefCounts != nil {
		copied.RefCounts = make(map[string]int, len(row.RefCounts))
		for hash, count := range row.RefCounts {
			copied.RefCounts[hash] = count
		}
	}
	w.Rows[row.ID] = &copied
}

// Len returns the number of queued row level writes
func (w *PendingWrites) Len() int {
	return len(w.Clients) + len(w.Queries) + len(w.Desires) + len(w.Rows)
}
