package store

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/ydydsnyd/mono-sub004/internal/algorithm"
	"github.com/ydydsnyd/mono-sub004/internal/model"
)

// CatchupConfigPatches returns the client, desired query and executed query
// patches a client at version after needs to reach upTo.Version.
func (s *SQLCVRStore) CatchupConfigPatches(
	ctx context.Context,
	after model.CVRVersion,
	upTo *model.CVRSnapshot,
) ([]model.ConfigPatchToVersion, error) {
	groupID := upTo.ID
	from := algorithm.VersionString(after)
	to := algorithm.VersionString(upTo.Version)

	var clients, queries, desires []model.ConfigPatchToVersion

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		clients, err = s.queryConfigPatches(gctx, `
			SELECT client_id, '', patch_version, deleted
			FROM cvr_clients
			WHERE client_group_id = $1 AND patch_version > $2 AND patch_version <= $3
		`, model.PatchTypeClient, groupID, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		queries, err = s.queryConfigPatches(gctx, `
			SELECT query_hash, '', patch_version, deleted
			FROM cvr_queries
			WHERE client_group_id = $1 AND patch_version > $2 AND patch_version <= $3
				AND NOT internal
		`, model.PatchTypeQuery, groupID, from, to)
		return err
	})
	g.Go(func() error {
		var err error
		desires, err = s.queryConfigPatches(gctx, `
			SELECT query_hash, client_id, patch_version, deleted
			FROM cvr_desires
			WHERE client_group_id = $1 AND patch_version > $2 AND patch_version <= $3
		`, model.PatchTypeQuery, groupID, from, to)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	patches := make([]model.ConfigPatchToVersion, 0, len(clients)+len(queries)+len(desires))
	patches = append(patches, clients...)
	patches = append(patches, queries...)
	patches = append(patches, desires...)
	SortConfigPatches(patches)

	s.metrics.RecordCatchupPatches("config", len(patches))
	return patches, nil
}

func (s *SQLCVRStore) queryConfigPatches(
	ctx context.Context,
	query string,
	patchType model.PatchType,
	args ...any,
) ([]model.ConfigPatchToVersion, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s patches: %w", patchType, err)
	}
	defer rows.Close()

	var patches []model.ConfigPatchToVersion
	for rows.Next() {
		var (
			id, clientID, patchVersion string
			deleted                    bool
		)
		if err := rows.Scan(&id, &clientID, &patchVersion, &deleted); err != nil {
			return nil, fmt.Errorf("failed to scan %s patch: %w", patchType, err)
		}
		v, err := algorithm.ParseVersion(patchVersion)
		if err != nil {
			return nil, fmt.Errorf("corrupt patch version for %s %s: %w", patchType, id, err)
		}
		op := model.PatchOpPut
		if deleted {
			op = model.PatchOpDel
		}
		patches = append(patches, model.ConfigPatchToVersion{
			Patch: model.ConfigPatch{
				Type:     patchType,
				Op:       op,
				ID:       id,
				ClientID: clientID,
			},
			ToVersion: v,
		})
	}
	return patches, rows.Err()
}

// SortConfigPatches orders patches by version, then clients before queries,
// then by id and client id
func SortConfigPatches(patches []model.ConfigPatchToVersion) {
	sort.SliceStable(patches, func(i, j int) bool {
		a, b := patches[i], patches[j]
		if cmp := algorithm.CompareVersions(a.ToVersion, b.ToVersion); cmp != model.Identical {
			return cmp == model.Before
		}
		if a.Patch.Type != b.Patch.Type {
			return a.Patch.Type == model.PatchTypeClient
		}
		if a.Patch.ID != b.Patch.ID {
			return a.Patch.ID < b.Patch.ID
		}
		return a.Patch.ClientID < b.Patch.ClientID
	})
}

// CatchupRowPatches returns an iterator over the row patches a client at
// version after needs to reach upTo.Version
func (s *SQLCVRStore) CatchupRowPatches(
	ctx context.Context,
	after model.CVRVersion,
	upTo *model.CVRSnapshot,
	excludeQueryHashes []string,
) *RowPatchIterator {
	exclude := make(map[string]struct{}, len(excludeQueryHashes))
	for _, hash := range excludeQueryHashes {
		exclude[hash] = struct{}{}
	}
	from := algorithm.VersionString(after)
	return &RowPatchIterator{
		ctx:       ctx,
		store:     s,
		groupID:   upTo.ID,
		after:     from,
		upTo:      algorithm.VersionString(upTo.Version),
		exclude:   exclude,
		batchSize: s.catchupBatchSize,
		cursor:    rowCursor{patchVersion: from},
	}
}

type rowCursor struct {
	patchVersion string
	schema       string
	table        string
	rowKey       string
}

// RowPatchIterator reads row patches in batches ordered by version. Every
// batch is read by its own query, so an iterator holds no database resources
// between calls to Next and may be abandoned at any point.
type RowPatchIterator struct {
	ctx       context.Context
	store     *SQLCVRStore
	groupID   string
	after     string
	upTo      string
	exclude   map[string]struct{}
	batchSize int
	cursor    rowCursor
	batch     []model.RowPatchToVersion
	done      bool
	err       error
}

// Next advances to the next non-empty batch
func (it *RowPatchIterator) Next() bool {
	it.batch = nil
	for !it.done && it.err == nil {
		records, err := it.store.rowPage(it.ctx, it.groupID, it.after, it.upTo, it.cursor, it.batchSize)
		if err != nil {
			it.err = err
			return false
		}
		if len(records) < it.batchSize {
			it.done = true
		}
		if len(records) == 0 {
			break
		}

		last := records[len(records)-1]
		it.cursor = rowCursor{
			patchVersion: algorithm.VersionString(last.PatchVersion),
			schema:       last.ID.Schema,
			table:        last.ID.Table,
			rowKey:       last.ID.RowKey,
		}

		for _, record := range records {
			if it.excluded(record) {
				continue
			}
			it.batch = append(it.batch, rowPatchFor(record))
		}
		if len(it.batch) > 0 {
			it.store.metrics.RecordCatchupPatches("row", len(it.batch))
			return true
		}
	}
	return false
}

// Batch returns the current batch
func (it *RowPatchIterator) Batch() []model.RowPatchToVersion {
	return it.batch
}

// Err returns the error that stopped iteration, if any
func (it *RowPatchIterator) Err() error {
	return it.err
}

// Close stops iteration
func (it *RowPatchIterator) Close() {
	it.done = true
	it.batch = nil
}

// excluded reports whether every query referencing a live row is excluded.
// Deletions are never excluded.
func (it *RowPatchIterator) excluded(record *model.RowRecord) bool {
	if len(it.exclude) == 0 || record.Tombstone() {
		return false
	}
	for hash := range record.RefCounts {
		if _, ok := it.exclude[hash]; !ok {
			return false
		}
	}
	return true
}

func rowPatchFor(record *model.RowRecord) model.RowPatchToVersion {
	patch := model.RowPatch{
		Op:         model.PatchOpPut,
		ID:         record.ID,
		RowVersion: record.RowVersion,
	}
	if record.Tombstone() {
		patch = model.RowPatch{Op: model.PatchOpDel, ID: record.ID}
	}
	return model.RowPatchToVersion{Patch: patch, ToVersion: record.PatchVersion}
}

func (s *SQLCVRStore) rowPage(
	ctx context.Context,
	groupID string,
	after, upTo string,
	cursor rowCursor,
	limit int,
) ([]*model.RowRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT schema_name, table_name, row_key, row_version, patch_version, ref_counts
		FROM cvr_rows
		WHERE client_group_id = $1
			AND patch_version > $2
			AND patch_version <= $3
			AND (patch_version, schema_name, table_name, row_key) > ($4, $5, $6, $7)
		ORDER BY patch_version, schema_name, table_name, row_key
		LIMIT $8
	`, groupID, after, upTo, cursor.patchVersion, cursor.schema, cursor.table, cursor.rowKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get row patches: %w", err)
	}
	defer rows.Close()

	records := make([]*model.RowRecord, 0, limit)
	for rows.Next() {
		record, err := scanRowRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
