package service

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/ydydsnyd/mono-sub004/internal/algorithm"
	"github.com/ydydsnyd/mono-sub004/internal/model"
	"github.com/ydydsnyd/mono-sub004/internal/store"
)

// QueryDrivenUpdater applies the results of executing queries at a replica
// state version. One cycle is TrackQueries, any number of Received calls,
// DeleteUnreferencedRows and Flush, in that order.
//
// Received reference counts add to the persisted ones, except for the
// queries executed or removed in the cycle and the queries the record no
// longer tracks. Those are recomputed: the counts received in this cycle
// replace the persisted ones, and a query that did not produce the row stops
// referencing it.
//
// Row records are read lazily: the rows of each received batch, and the rows
// referencing a recomputed query once the batches are in.
type QueryDrivenUpdater struct {
	*CVRUpdater

	executed map[string]struct{}
	removed  map[string]struct{}

	// existing holds the live row records read so far, as of the start of
	// the cycle; lookedUp holds every row id read, live or not
	existing map[model.RowID]*model.RowRecord
	lookedUp map[model.RowID]struct{}
	// touched holds the current record of every row changed or re-received
	// in this cycle; a record with no counts is pending deletion
	touched map[model.RowID]*model.RowRecord
	deleted map[model.RowID]struct{}
	// receivedHashes holds, per row, the queries that produced it this cycle
	receivedHashes map[model.RowID]map[string]struct{}
}

// NewQueryDrivenUpdater creates an updater for query results computed at
// stateVersion against replicaVersion. A stateVersion newer than the
// snapshot's becomes the new version; an equal one bumps the minor version
// once anything changes.
func NewQueryDrivenUpdater(
	cvrStore store.CVRStore,
	snapshot *model.CVRSnapshot,
	stateVersion string,
	replicaVersion string,
	logger *zap.Logger,
) (*QueryDrivenUpdater, error) {
	v, err := algorithm.ParseVersion(stateVersion)
	if err != nil || v.MinorVersion != 0 {
		return nil, fmt.Errorf("%w: invalid state version %q", ErrInvalidArgument, stateVersion)
	}
	if replicaVersion == "" {
		return nil, fmt.Errorf("%w: empty replica version", ErrInvalidArgument)
	}
	if snapshot.ReplicaVersion != "" && snapshot.ReplicaVersion != replicaVersion {
		return nil, fmt.Errorf("%w: client group %s has %s, got %s",
			ErrReplicaVersionMismatch, snapshot.ID, snapshot.ReplicaVersion, replicaVersion)
	}

	// Lexi encoded state versions compare as strings
	if stateVersion < snapshot.Version.StateVersion {
		return nil, fmt.Errorf("%w: client group %s is at %s, got %s",
			ErrVersionRegression, snapshot.ID, algorithm.VersionString(snapshot.Version), stateVersion)
	}

	u := &QueryDrivenUpdater{
		CVRUpdater: newCVRUpdater(cvrStore, snapshot, "query", logger),
		executed:   make(map[string]struct{}),
		removed:    make(map[string]struct{}),
		existing:   make(map[model.RowID]*model.RowRecord),
		lookedUp:   make(map[model.RowID]struct{}),
		touched:    make(map[model.RowID]*model.RowRecord),
		deleted:    make(map[model.RowID]struct{}),

		receivedHashes: make(map[model.RowID]map[string]struct{}),
	}
	u.cvr.ReplicaVersion = replicaVersion
	if stateVersion > snapshot.Version.StateVersion {
		u.cvr.Version = model.CVRVersion{StateVersion: stateVersion}
	}
	return u, nil
}

// TrackQueries records which queries were executed, with the hash of the
// form that actually ran, and which queries were removed. All ids are
// validated before anything changes. It returns the version of the cycle and
// the query patches produced.
func (u *QueryDrivenUpdater) TrackQueries(
	ctx context.Context,
	executed []model.ExecutedQuery,
	removed []string,
) (model.CVRVersion, []model.ConfigPatchToVersion, error) {
	removing := make(map[string]struct{}, len(removed))
	for _, id := range removed {
		if _, ok := u.cvr.Queries[id]; !ok {
			return model.CVRVersion{}, nil, fmt.Errorf("%w: cannot remove %s", ErrUnknownQuery, id)
		}
		removing[id] = struct{}{}
	}
	for _, q := range executed {
		if _, ok := u.cvr.Queries[q.ID]; !ok {
			return model.CVRVersion{}, nil, fmt.Errorf("%w: cannot track %s", ErrUnknownQuery, q.ID)
		}
		if _, ok := removing[q.ID]; ok {
			return model.CVRVersion{}, nil, fmt.Errorf("%w: query %s both executed and removed", ErrInvalidArgument, q.ID)
		}
		if q.TransformationHash == "" {
			return model.CVRVersion{}, nil, fmt.Errorf("%w: empty transformation hash for %s", ErrInvalidArgument, q.ID)
		}
	}

	var patches []model.ConfigPatchToVersion
	for _, q := range executed {
		query := u.cvr.Queries[q.ID]
		u.executed[q.ID] = struct{}{}
		changed := false

		if query.TransformationHash != q.TransformationHash {
			version := u.ensureNewVersion()
			query.TransformationHash = q.TransformationHash
			query.TransformationVersion = model.VersionPtr(version)
			changed = true
		}
		if query.PatchVersion == nil && !query.Internal {
			version := u.ensureNewVersion()
			query.PatchVersion = model.VersionPtr(version)
			patches = append(patches, model.ConfigPatchToVersion{
				Patch:     model.ConfigPatch{Type: model.PatchTypeQuery, Op: model.PatchOpPut, ID: q.ID},
				ToVersion: version,
			})
			changed = true
		}
		if changed {
			u.writes.PutQuery(query)
		}
	}

	for _, id := range removed {
		query, ok := u.cvr.Queries[id]
		if !ok {
			// listed twice
			continue
		}
		u.removed[id] = struct{}{}
		version := u.ensureNewVersion()
		delete(u.cvr.Queries, id)

		for _, clientID := range sortedClientIDs(query.DesiredBy) {
			if client, ok := u.cvr.Clients[clientID]; ok {
				client.RemoveDesired(id)
			}
			u.writes.DeleteDesire(clientID, id, version)
			patches = append(patches, model.ConfigPatchToVersion{
				Patch: model.ConfigPatch{
					Type:     model.PatchTypeQuery,
					Op:       model.PatchOpDel,
					ID:       id,
					ClientID: clientID,
				},
				ToVersion: version,
			})
		}

		if query.PatchVersion == nil {
			u.writes.DeleteQuery(query, nil)
			continue
		}
		u.writes.DeleteQuery(query, model.VersionPtr(version))
		patches = append(patches, model.ConfigPatchToVersion{
			Patch:     model.ConfigPatch{Type: model.PatchTypeQuery, Op: model.PatchOpDel, ID: id},
			ToVersion: version,
		})
	}

	u.recordPatches(patches)
	return u.cvr.Version, patches, nil
}

// Received merges a batch of rows produced by query execution. A row gets a
// put patch, carrying its contents, when it is new to the client view, when
// its row version changed or when its reference counts changed; re-received
// identical rows produce nothing. Only this call's patches are returned.
func (u *QueryDrivenUpdater) Received(
	ctx context.Context,
	rows map[model.RowID]model.RowUpdate,
) ([]model.RowPatchToVersion, error) {
	ids := make([]model.RowID, 0, len(rows))
	for id, row := range rows {
		if id.Table == "" || id.RowKey == "" {
			return nil, fmt.Errorf("%w: incomplete row id %s", ErrInvalidArgument, id)
		}
		if row.Version == "" {
			return nil, fmt.Errorf("%w: empty row version for %s", ErrInvalidArgument, id)
		}
		for hash := range row.RefCounts {
			if _, ok := u.cvr.Queries[hash]; !ok {
				return nil, fmt.Errorf("%w: row %s references %s", ErrUnknownQuery, id, hash)
			}
		}
		ids = append(ids, id)
	}
	sortRowIDs(ids)
	if err := u.lookupRows(ctx, ids); err != nil {
		return nil, err
	}

	var patches []model.RowPatchToVersion
	for _, id := range ids {
		row := rows[id]

		prev, ok := u.touched[id]
		if !ok {
			prev = u.existing[id]
		}

		// The first count received for an executed query in this cycle
		// replaces the persisted one; every other count adds up
		seen := u.receivedHashes[id]
		if seen == nil {
			seen = make(map[string]struct{})
			u.receivedHashes[id] = seen
		}
		replace := make(map[string]struct{})
		for hash := range row.RefCounts {
			if _, ok := seen[hash]; ok {
				continue
			}
			seen[hash] = struct{}{}
			if u.recomputed(hash) {
				replace[hash] = struct{}{}
			}
		}

		var merged map[string]int
		if prev != nil {
			merged = algorithm.MergeRefCounts(prev.RefCounts, row.RefCounts, replace)
		} else {
			merged = algorithm.MergeRefCounts(nil, row.RefCounts, nil)
		}

		if prev != nil && prev.RowVersion == row.Version && algorithm.RefCountsEqual(prev.RefCounts, merged) {
			u.touched[id] = prev
			continue
		}

		if len(merged) == 0 {
			// Dereferenced; DeleteUnreferencedRows decides whether a del is due
			if prev != nil {
				u.touched[id] = &model.RowRecord{
					ID:           id,
					RowVersion:   prev.RowVersion,
					PatchVersion: prev.PatchVersion,
				}
			}
			continue
		}

		version := u.ensureNewVersion()
		record := &model.RowRecord{
			ID:           id,
			RowVersion:   row.Version,
			PatchVersion: version,
			RefCounts:    merged,
		}
		u.touched[id] = record
		delete(u.deleted, id)
		u.writes.PutRow(record)
		patches = append(patches, model.RowPatchToVersion{
			Patch: model.RowPatch{
				Op:         model.PatchOpPut,
				ID:         id,
				RowVersion: row.Version,
				Contents:   row.Contents,
			},
			ToVersion: version,
		})
	}

	u.metrics.RecordPatches("row", string(model.PatchOpPut), len(patches))
	return patches, nil
}

// DeleteUnreferencedRows settles the rows not re-received in this cycle.
// Queries no client desires are collected first. A row whose reference
// counts become empty is deleted; a row that lost some but not all of its
// referencing queries gets a put patch without contents.
func (u *QueryDrivenUpdater) DeleteUnreferencedRows(ctx context.Context) ([]model.RowPatchToVersion, error) {
	u.collectOrphanedQueries()
	if err := u.loadReferencingRows(ctx); err != nil {
		return nil, err
	}

	ids := make([]model.RowID, 0, len(u.existing)+len(u.touched))
	for id := range u.existing {
		ids = append(ids, id)
	}
	for id := range u.touched {
		if _, ok := u.existing[id]; !ok {
			ids = append(ids, id)
		}
	}
	sortRowIDs(ids)

	var (
		patches    []model.RowPatchToVersion
		puts, dels int
	)
	for _, id := range ids {
		if _, ok := u.deleted[id]; ok {
			continue
		}

		current, ok := u.touched[id]
		if !ok {
			current = u.existing[id]
		}

		merged := algorithm.MergeRefCounts(current.RefCounts, nil, u.supersededHashes(id, current.RefCounts))
		if len(merged) > 0 && algorithm.RefCountsEqual(merged, current.RefCounts) {
			continue
		}

		if len(merged) == 0 {
			_, wasLive := u.existing[id]
			_, wasPut := u.writes.Rows[id]
			if !wasLive && !wasPut {
				delete(u.touched, id)
				continue
			}
			version := u.ensureNewVersion()
			tombstone := &model.RowRecord{
				ID:           id,
				RowVersion:   current.RowVersion,
				PatchVersion: version,
			}
			u.touched[id] = tombstone
			u.deleted[id] = struct{}{}
			u.writes.PutRow(tombstone)
			patches = append(patches, model.RowPatchToVersion{
				Patch:     model.RowPatch{Op: model.PatchOpDel, ID: id},
				ToVersion: version,
			})
			dels++
			continue
		}

		version := u.ensureNewVersion()
		record := &model.RowRecord{
			ID:           id,
			RowVersion:   current.RowVersion,
			PatchVersion: version,
			RefCounts:    merged,
		}
		u.touched[id] = record
		u.writes.PutRow(record)
		patches = append(patches, model.RowPatchToVersion{
			Patch: model.RowPatch{
				Op:         model.PatchOpPut,
				ID:         id,
				RowVersion: current.RowVersion,
			},
			ToVersion: version,
		})
		puts++
	}

	u.metrics.RecordPatches("row", string(model.PatchOpPut), puts)
	u.metrics.RecordPatches("row", string(model.PatchOpDel), dels)
	if dels > 0 {
		u.logger.Debug("Deleted unreferenced rows",
			zap.Int("rows", dels),
			zap.String("version", algorithm.VersionString(u.cvr.Version)))
	}
	return patches, nil
}

// lookupRows reads the records of the given rows not read yet
func (u *QueryDrivenUpdater) lookupRows(ctx context.Context, ids []model.RowID) error {
	var missing []model.RowID
	for _, id := range ids {
		if _, ok := u.lookedUp[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	records, err := u.store.RowRecords(ctx, u.cvr.ID, missing)
	if err != nil {
		return fmt.Errorf("failed to load row records: %w", err)
	}
	for _, id := range missing {
		u.lookedUp[id] = struct{}{}
		if record, ok := records[id]; ok {
			u.existing[id] = record
		}
	}
	return nil
}

// loadReferencingRows reads the records of the rows whose counts mention a
// recomputed query: executed or removed in this cycle, collected, or
// tombstoned by an earlier flush
func (u *QueryDrivenUpdater) loadReferencingRows(ctx context.Context) error {
	tombstoned, err := u.store.TombstonedQueries(ctx, u.cvr.ID)
	if err != nil {
		return fmt.Errorf("failed to load deleted queries: %w", err)
	}

	hashes := make(map[string]struct{}, len(u.executed)+len(u.removed)+len(tombstoned))
	for hash := range u.executed {
		hashes[hash] = struct{}{}
	}
	for hash := range u.removed {
		hashes[hash] = struct{}{}
	}
	for hash := range u.orig.Queries {
		if _, ok := u.cvr.Queries[hash]; !ok {
			hashes[hash] = struct{}{}
		}
	}
	for _, hash := range tombstoned {
		if _, ok := u.cvr.Queries[hash]; !ok {
			hashes[hash] = struct{}{}
		}
	}
	if len(hashes) == 0 {
		return nil
	}

	sorted := make([]string, 0, len(hashes))
	for hash := range hashes {
		sorted = append(sorted, hash)
	}
	sort.Strings(sorted)
	records, err := u.store.RowRecordsReferencing(ctx, u.cvr.ID, sorted)
	if err != nil {
		return fmt.Errorf("failed to load row records: %w", err)
	}
	for id, record := range records {
		if _, ok := u.lookedUp[id]; ok {
			continue
		}
		u.lookedUp[id] = struct{}{}
		u.existing[id] = record
	}
	return nil
}

// recomputed reports whether the counts of a query are recomputed in this
// cycle rather than accumulated
func (u *QueryDrivenUpdater) recomputed(hash string) bool {
	_, executed := u.executed[hash]
	_, removed := u.removed[hash]
	return executed || removed
}

// supersededHashes returns the hashes of a row's counts that no longer
// hold: queries the record stopped tracking, and queries executed or removed
// in this cycle that did not produce the row
func (u *QueryDrivenUpdater) supersededHashes(id model.RowID, counts map[string]int) map[string]struct{} {
	seen := u.receivedHashes[id]
	superseded := make(map[string]struct{})
	for hash := range counts {
		if _, ok := u.cvr.Queries[hash]; !ok {
			superseded[hash] = struct{}{}
			continue
		}
		if _, ok := seen[hash]; ok {
			continue
		}
		if u.recomputed(hash) {
			superseded[hash] = struct{}{}
		}
	}
	return superseded
}

func sortedClientIDs(desiredBy map[string]model.CVRVersion) []string {
	ids := make([]string, 0, len(desiredBy))
	for id := range desiredBy {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortRowIDs(ids []model.RowID) {
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if a.Schema != b.Schema {
			return a.Schema < b.Schema
		}
		if a.Table != b.Table {
			return a.Table < b.Table
		}
		return a.RowKey < b.RowKey
	})
}
