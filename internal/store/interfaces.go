package store

import (
	"context"
	"errors"
	"time"

	"github.com/ydydsnyd/mono-sub004/internal/model"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// CVRStore persists client view records
type CVRStore interface {
	// EnsureSchema creates the CVR tables if they do not exist
	EnsureSchema(ctx context.Context) error

	// Load reads the snapshot of a client group. An unknown group loads as the
	// empty snapshot at the initial version.
	Load(ctx context.Context, groupID string) (*model.CVRSnapshot, error)

	// RowRecords returns the live (non-deleted) row records of a client group
	// among ids. Ids without a live record are absent from the result.
	RowRecords(ctx context.Context, groupID string, ids []model.RowID) (map[model.RowID]*model.RowRecord, error)

	// RowRecordsReferencing returns the live row records of a client group
	// whose reference counts mention any of queryHashes
	RowRecordsReferencing(ctx context.Context, groupID string, queryHashes []string) (map[model.RowID]*model.RowRecord, error)

	// TombstonedQueries returns the hashes of the deleted queries of a client
	// group, sorted
	TombstonedQueries(ctx context.Context, groupID string) ([]string, error)

	// Flush atomically commits the writes of an updater. It fails with a
	// *ConcurrentModificationError if the persisted version is no longer the
	// version the updater started from.
	Flush(ctx context.Context, req *FlushRequest) (*FlushResult, error)

	// CatchupConfigPatches returns client and query patches with
	// after < toVersion <= upTo.Version, ordered by toVersion
	CatchupConfigPatches(ctx context.Context, after model.CVRVersion, upTo *model.CVRSnapshot) ([]model.ConfigPatchToVersion, error)

	// CatchupRowPatches returns an iterator over row patches with
	// after < toVersion <= upTo.Version, ordered by toVersion. Rows whose
	// referencing queries are all in excludeQueryHashes are skipped.
	CatchupRowPatches(ctx context.Context, after model.CVRVersion, upTo *model.CVRSnapshot, excludeQueryHashes []string) *RowPatchIterator

	// Health check
	Ping(ctx context.Context) error
	Close() error
}

// SnapshotCache caches loaded snapshots keyed by client group. A cached
// snapshot is only used when its version matches the persisted version.
type SnapshotCache interface {
	Get(ctx context.Context, groupID string) (*model.CVRSnapshot, error)
	Set(ctx context.Context, snapshot *model.CVRSnapshot, ttl time.Duration) error
	Delete(ctx context.Context, groupID string) error
	Ping(ctx context.Context) error
	Close() error
}

// FlushRequest is the accumulated result of an updater
type FlushRequest struct {
	// ExpectedVersion is the version of the snapshot the updater started from
	ExpectedVersion model.CVRVersion
	// ExpectNew is set when that snapshot was never flushed; the flush then
	// fails if another writer created the instance in the meantime
	ExpectNew bool
	// Snapshot is the next state of the client view record
	Snapshot   *model.CVRSnapshot
	Writes     *PendingWrites
	LastActive time.Time
}

// FlushResult is returned by a successful flush
type FlushResult struct {
	Snapshot *model.CVRSnapshot
	Stats    FlushStats
}

// FlushStats counts the statements executed by a flush
type FlushStats struct {
	Instances  int `json:"instances"`
	Clients    int `json:"clients"`
	Queries    int `json:"queries"`
	Desires    int `json:"desires"`
	Rows       int `json:"rows"`
	Statements int `json:"statements"`
}
