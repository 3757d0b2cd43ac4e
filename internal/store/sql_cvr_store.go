package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ydydsnyd/mono-sub004/internal/algorithm"
	"github.com/ydydsnyd/mono-sub004/internal/metrics"
	"github.com/ydydsnyd/mono-sub004/internal/model"
)

// DefaultCatchupBatchSize is the number of row patches read per page
const DefaultCatchupBatchSize = 1000

// Options configures a SQLCVRStore
type Options struct {
	// Cache is optional
	Cache            SnapshotCache
	CacheTTL         time.Duration
	CatchupBatchSize int
	Metrics          *metrics.Metrics
}

// SQLCVRStore implements CVRStore on database/sql
type SQLCVRStore struct {
	db               *sql.DB
	dialect          Dialect
	cache            SnapshotCache
	cacheTTL         time.Duration
	catchupBatchSize int
	metrics          *metrics.Metrics
	logger           *zap.Logger
	onClose          []func()
}

// NewSQLCVRStore creates a CVR store on an open database
func NewSQLCVRStore(db *sql.DB, dialect Dialect, opts Options, logger *zap.Logger) *SQLCVRStore {
	batchSize := opts.CatchupBatchSize
	if batchSize <= 0 {
		batchSize = DefaultCatchupBatchSize
	}
	return &SQLCVRStore{
		db:               db,
		dialect:          dialect,
		cache:            opts.Cache,
		cacheTTL:         opts.CacheTTL,
		catchupBatchSize: batchSize,
		metrics:          opts.Metrics,
		logger:           logger,
	}
}

// EnsureSchema creates the CVR tables if they do not exist
func (s *SQLCVRStore) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create CVR schema: %w", err)
		}
	}
	return nil
}

// Load reads the snapshot of a client group
func (s *SQLCVRStore) Load(ctx context.Context, groupID string) (*model.CVRSnapshot, error) {
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, s.dialect.ReadTxOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to begin load transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		version        string
		lastActive     int64
		replicaVersion sql.NullString
	)
	err = tx.QueryRowContext(ctx, `
		SELECT version, last_active, replica_version
		FROM cvr_instances
		WHERE client_group_id = $1
	`, groupID).Scan(&version, &lastActive, &replicaVersion)
	if errors.Is(err, sql.ErrNoRows) {
		s.metrics.RecordLoad("new", time.Since(start).Seconds())
		return model.NewCVRSnapshot(groupID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}

	v, err := algorithm.ParseVersion(version)
	if err != nil {
		return nil, fmt.Errorf("corrupt version for client group %s: %w", groupID, err)
	}

	if cached := s.cachedSnapshot(ctx, groupID, v); cached != nil {
		cached.LastActive = time.UnixMilli(lastActive)
		cached.ReplicaVersion = replicaVersion.String
		s.metrics.RecordLoad("cache", time.Since(start).Seconds())
		return cached, nil
	}

	snapshot := model.NewCVRSnapshot(groupID)
	snapshot.Version = v
	snapshot.LastActive = time.UnixMilli(lastActive)
	snapshot.ReplicaVersion = replicaVersion.String

	if err := s.loadClients(ctx, tx, snapshot); err != nil {
		return nil, err
	}
	if err := s.loadQueries(ctx, tx, snapshot); err != nil {
		return nil, err
	}
	if err := s.loadDesires(ctx, tx, snapshot); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit load transaction: %w", err)
	}

	s.cacheSnapshot(ctx, snapshot)
	s.metrics.RecordLoad("database", time.Since(start).Seconds())
	return snapshot, nil
}

func (s *SQLCVRStore) loadClients(ctx context.Context, tx *sql.Tx, snapshot *model.CVRSnapshot) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT client_id, patch_version
		FROM cvr_clients
		WHERE client_group_id = $1 AND NOT deleted
	`, snapshot.ID)
	if err != nil {
		return fmt.Errorf("failed to get clients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var clientID, patchVersion string
		if err := rows.Scan(&clientID, &patchVersion); err != nil {
			return fmt.Errorf("failed to scan client: %w", err)
		}
		v, err := algorithm.ParseVersion(patchVersion)
		if err != nil {
			return fmt.Errorf("corrupt patch version for client %s: %w", clientID, err)
		}
		snapshot.Clients[clientID] = &model.ClientRecord{
			ID:              clientID,
			DesiredQueryIDs: []string{},
			PatchVersion:    v,
		}
	}
	return rows.Err()
}

func (s *SQLCVRStore) loadQueries(ctx context.Context, tx *sql.Tx, snapshot *model.CVRSnapshot) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT query_hash, client_ast, transformation_hash, transformation_version, patch_version, internal
		FROM cvr_queries
		WHERE client_group_id = $1 AND NOT deleted
	`, snapshot.ID)
	if err != nil {
		return fmt.Errorf("failed to get queries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			queryHash, clientAST                string
			transformationHash                  sql.NullString
			transformationVersion, patchVersion sql.NullString
			internal                            bool
		)
		if err := rows.Scan(&queryHash, &clientAST, &transformationHash, &transformationVersion, &patchVersion, &internal); err != nil {
			return fmt.Errorf("failed to scan query: %w", err)
		}

		query := &model.QueryRecord{
			ID:                 queryHash,
			TransformationHash: transformationHash.String,
			DesiredBy:          make(map[string]model.CVRVersion),
			Internal:           internal,
		}
		if err := json.Unmarshal([]byte(clientAST), &query.AST); err != nil {
			return fmt.Errorf("corrupt AST for query %s: %w", queryHash, err)
		}
		if query.TransformationVersion, err = parseNullVersion(transformationVersion); err != nil {
			return fmt.Errorf("corrupt transformation version for query %s: %w", queryHash, err)
		}
		if query.PatchVersion, err = parseNullVersion(patchVersion); err != nil {
			return fmt.Errorf("corrupt patch version for query %s: %w", queryHash, err)
		}
		snapshot.Queries[queryHash] = query
	}
	return rows.Err()
}

func (s *SQLCVRStore) loadDesires(ctx context.Context, tx *sql.Tx, snapshot *model.CVRSnapshot) error {
	rows, err := tx.QueryContext(ctx, `
		SELECT client_id, query_hash, patch_version
		FROM cvr_desires
		WHERE client_group_id = $1 AND NOT deleted
	`, snapshot.ID)
	if err != nil {
		return fmt.Errorf("failed to get desires: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var clientID, queryHash, patchVersion string
		if err := rows.Scan(&clientID, &queryHash, &patchVersion); err != nil {
			return fmt.Errorf("failed to scan desire: %w", err)
		}
		client, ok := snapshot.Clients[clientID]
		if !ok {
			s.logger.Warn("Ignoring desire of unknown client",
				zap.String("client_group_id", snapshot.ID),
				zap.String("client_id", clientID),
				zap.String("query_hash", queryHash))
			continue
		}
		query, ok := snapshot.Queries[queryHash]
		if !ok {
			s.logger.Warn("Ignoring desire of unknown query",
				zap.String("client_group_id", snapshot.ID),
				zap.String("client_id", clientID),
				zap.String("query_hash", queryHash))
			continue
		}
		v, err := algorithm.ParseVersion(patchVersion)
		if err != nil {
			return fmt.Errorf("corrupt patch version for desire %s/%s: %w", clientID, queryHash, err)
		}
		client.DesiredQueryIDs = append(client.DesiredQueryIDs, queryHash)
		query.DesiredBy[clientID] = v
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, client := range snapshot.Clients {
		sort.Strings(client.DesiredQueryIDs)
	}
	return nil
}

// rowLookupBatchSize bounds the number of rows or hashes matched by one
// row record query
const rowLookupBatchSize = 100

// RowRecords returns the live row records of a client group among ids
func (s *SQLCVRStore) RowRecords(ctx context.Context, groupID string, ids []model.RowID) (map[model.RowID]*model.RowRecord, error) {
	records := make(map[model.RowID]*model.RowRecord, len(ids))
	for start := 0; start < len(ids); start += rowLookupBatchSize {
		batch := ids[start:min(start+rowLookupBatchSize, len(ids))]
		args := make([]any, 0, 1+3*len(batch))
		args = append(args, groupID)
		matches := make([]string, 0, len(batch))
		for _, id := range batch {
			n := len(args)
			matches = append(matches, fmt.Sprintf("(schema_name = $%d AND table_name = $%d AND row_key = $%d)", n+1, n+2, n+3))
			args = append(args, id.Schema, id.Table, id.RowKey)
		}
		if err := s.queryRowRecords(ctx, `
			SELECT schema_name, table_name, row_key, row_version, patch_version, ref_counts
			FROM cvr_rows
			WHERE client_group_id = $1 AND ref_counts IS NOT NULL AND (`+strings.Join(matches, " OR ")+`)
		`, args, records, nil); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// RowRecordsReferencing returns the live row records of a client group whose
// reference counts mention any of queryHashes. Reference counts are stored as
// JSON objects, so a row is matched on the encoded key and confirmed after
// decoding.
func (s *SQLCVRStore) RowRecordsReferencing(ctx context.Context, groupID string, queryHashes []string) (map[model.RowID]*model.RowRecord, error) {
	wanted := make(map[string]struct{}, len(queryHashes))
	for _, hash := range queryHashes {
		wanted[hash] = struct{}{}
	}
	references := func(record *model.RowRecord) bool {
		for hash := range record.RefCounts {
			if _, ok := wanted[hash]; ok {
				return true
			}
		}
		return false
	}

	records := make(map[model.RowID]*model.RowRecord)
	for start := 0; start < len(queryHashes); start += rowLookupBatchSize {
		batch := queryHashes[start:min(start+rowLookupBatchSize, len(queryHashes))]
		args := make([]any, 0, 1+len(batch))
		args = append(args, groupID)
		matches := make([]string, 0, len(batch))
		for _, hash := range batch {
			key, err := json.Marshal(hash)
			if err != nil {
				return nil, fmt.Errorf("failed to encode query hash %s: %w", hash, err)
			}
			args = append(args, "%"+escapeLike(string(key))+":%")
			matches = append(matches, fmt.Sprintf(`ref_counts LIKE $%d ESCAPE '\'`, len(args)))
		}
		if err := s.queryRowRecords(ctx, `
			SELECT schema_name, table_name, row_key, row_version, patch_version, ref_counts
			FROM cvr_rows
			WHERE client_group_id = $1 AND ref_counts IS NOT NULL AND (`+strings.Join(matches, " OR ")+`)
		`, args, records, references); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// TombstonedQueries returns the hashes of the deleted queries of a client group
func (s *SQLCVRStore) TombstonedQueries(ctx context.Context, groupID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query_hash
		FROM cvr_queries
		WHERE client_group_id = $1 AND deleted
		ORDER BY query_hash
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to get deleted queries: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("failed to scan deleted query: %w", err)
		}
		hashes = append(hashes, hash)
	}
	return hashes, rows.Err()
}

// queryRowRecords adds the records selected by query to records; keep, when
// set, filters them
func (s *SQLCVRStore) queryRowRecords(
	ctx context.Context,
	query string,
	args []any,
	records map[model.RowID]*model.RowRecord,
	keep func(*model.RowRecord) bool,
) error {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to get row records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		record, err := scanRowRecord(rows)
		if err != nil {
			return err
		}
		if keep == nil || keep(record) {
			records[record.ID] = record
		}
	}
	return rows.Err()
}

// escapeLike escapes the LIKE wildcards of s with a backslash
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Flush atomically commits the writes of an updater
func (s *SQLCVRStore) Flush(ctx context.Context, req *FlushRequest) (*FlushResult, error) {
	next := req.Snapshot
	groupID := next.ID

	if cmp := algorithm.CompareVersions(next.Version, req.ExpectedVersion); cmp == model.Before {
		return nil, fmt.Errorf("cannot flush version %s older than %s",
			algorithm.VersionString(next.Version), algorithm.VersionString(req.ExpectedVersion))
	} else if cmp == model.Identical && req.Writes.Len() > 0 {
		return nil, fmt.Errorf("flush of %d writes must advance version %s",
			req.Writes.Len(), algorithm.VersionString(req.ExpectedVersion))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin flush transaction: %w", err)
	}
	defer tx.Rollback()

	actual, exists, err := s.lockedVersion(ctx, tx, groupID)
	if err != nil {
		return nil, err
	}
	if algorithm.CompareVersions(actual, req.ExpectedVersion) != model.Identical || (req.ExpectNew && exists) {
		s.metrics.RecordConcurrentModification()
		s.invalidate(ctx, groupID)
		return nil, &ConcurrentModificationError{
			GroupID:         groupID,
			ExpectedVersion: req.ExpectedVersion,
			ActualVersion:   actual,
		}
	}

	lastActive := time.UnixMilli(req.LastActive.UnixMilli())
	var stats FlushStats

	if err := s.putInstance(ctx, tx, next, lastActive); err != nil {
		return nil, err
	}
	stats.Instances++

	for _, id := range sortedKeys(req.Writes.Clients) {
		if err := s.putClient(ctx, tx, groupID, req.Writes.Clients[id]); err != nil {
			return nil, err
		}
		stats.Clients++
	}
	for _, id := range sortedKeys(req.Writes.Queries) {
		if err := s.putQuery(ctx, tx, groupID, req.Writes.Queries[id]); err != nil {
			return nil, err
		}
		stats.Queries++
	}
	for _, key := range sortedDesireKeys(req.Writes.Desires) {
		if err := s.putDesire(ctx, tx, groupID, req.Writes.Desires[key]); err != nil {
			return nil, err
		}
		stats.Desires++
	}
	for _, id := range sortedRowIDs(req.Writes.Rows) {
		if err := s.putRow(ctx, tx, groupID, req.Writes.Rows[id]); err != nil {
			return nil, err
		}
		stats.Rows++
	}
	stats.Statements = stats.Instances + stats.Clients + stats.Queries + stats.Desires + stats.Rows

	if err := tx.Commit(); err != nil {
		s.invalidate(ctx, groupID)
		return nil, fmt.Errorf("failed to commit flush: %w", err)
	}

	s.metrics.RecordStatements("instances", stats.Instances)
	s.metrics.RecordStatements("clients", stats.Clients)
	s.metrics.RecordStatements("queries", stats.Queries)
	s.metrics.RecordStatements("desires", stats.Desires)
	s.metrics.RecordStatements("rows", stats.Rows)

	result := next.Clone()
	result.LastActive = lastActive
	s.cacheSnapshot(ctx, result)

	s.logger.Debug("Flushed client view record",
		zap.String("client_group_id", groupID),
		zap.String("from_version", algorithm.VersionString(req.ExpectedVersion)),
		zap.String("to_version", algorithm.VersionString(result.Version)),
		zap.Int("statements", stats.Statements))

	return &FlushResult{Snapshot: result, Stats: stats}, nil
}

// lockedVersion re-reads the persisted version inside the flush transaction.
// A client group without an instance row is at the initial version.
func (s *SQLCVRStore) lockedVersion(ctx context.Context, tx *sql.Tx, groupID string) (model.CVRVersion, bool, error) {
	var version string
	err := tx.QueryRowContext(ctx, `
		SELECT version FROM cvr_instances WHERE client_group_id = $1`+s.dialect.LockSuffix,
		groupID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return model.InitialVersion(), false, nil
	}
	if err != nil {
		return model.CVRVersion{}, false, fmt.Errorf("failed to read instance version: %w", err)
	}
	v, err := algorithm.ParseVersion(version)
	if err != nil {
		return model.CVRVersion{}, false, fmt.Errorf("corrupt version for client group %s: %w", groupID, err)
	}
	return v, true, nil
}

func (s *SQLCVRStore) putInstance(ctx context.Context, tx *sql.Tx, snapshot *model.CVRSnapshot, lastActive time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cvr_instances (client_group_id, version, last_active, replica_version)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (client_group_id) DO UPDATE SET
			version = excluded.version,
			last_active = excluded.last_active,
			replica_version = excluded.replica_version
	`,
		snapshot.ID,
		algorithm.VersionString(snapshot.Version),
		lastActive.UnixMilli(),
		nullString(snapshot.ReplicaVersion),
	)
	if err != nil {
		return fmt.Errorf("failed to write instance: %w", err)
	}
	return nil
}

func (s *SQLCVRStore) putClient(ctx context.Context, tx *sql.Tx, groupID string, w ClientWrite) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cvr_clients (client_group_id, client_id, patch_version, deleted)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (client_group_id, client_id) DO UPDATE SET
			patch_version = excluded.patch_version,
			deleted = excluded.deleted
	`, groupID, w.ClientID, algorithm.VersionString(w.PatchVersion), w.Deleted)
	if err != nil {
		return fmt.Errorf("failed to write client %s: %w", w.ClientID, err)
	}
	return nil
}

func (s *SQLCVRStore) putQuery(ctx context.Context, tx *sql.Tx, groupID string, w QueryWrite) error {
	q := w.Query
	ast, err := json.Marshal(q.AST)
	if err != nil {
		return fmt.Errorf("failed to marshal AST of query %s: %w", q.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO cvr_queries (
			client_group_id, query_hash, client_ast, transformation_hash,
			transformation_version, patch_version, internal, deleted
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (client_group_id, query_hash) DO UPDATE SET
			client_ast = excluded.client_ast,
			transformation_hash = excluded.transformation_hash,
			transformation_version = excluded.transformation_version,
			patch_version = excluded.patch_version,
			internal = excluded.internal,
			deleted = excluded.deleted
	`,
		groupID,
		q.ID,
		string(ast),
		nullString(q.TransformationHash),
		nullVersion(q.TransformationVersion),
		nullVersion(q.PatchVersion),
		q.Internal,
		w.Deleted,
	)
	if err != nil {
		return fmt.Errorf("failed to write query %s: %w", q.ID, err)
	}
	return nil
}

func (s *SQLCVRStore) putDesire(ctx context.Context, tx *sql.Tx, groupID string, w DesireWrite) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cvr_desires (client_group_id, client_id, query_hash, patch_version, deleted)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (client_group_id, client_id, query_hash) DO UPDATE SET
			patch_version = excluded.patch_version,
			deleted = excluded.deleted
	`, groupID, w.ClientID, w.QueryID, algorithm.VersionString(w.PatchVersion), w.Deleted)
	if err != nil {
		return fmt.Errorf("failed to write desire %s/%s: %w", w.ClientID, w.QueryID, err)
	}
	return nil
}

func (s *SQLCVRStore) putRow(ctx context.Context, tx *sql.Tx, groupID string, row *model.RowRecord) error {
	var refCounts sql.NullString
	if !row.Tombstone() {
		data, err := json.Marshal(row.RefCounts)
		if err != nil {
			return fmt.Errorf("failed to marshal ref counts of row %s: %w", row.ID, err)
		}
		refCounts = sql.NullString{String: string(data), Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cvr_rows (
			client_group_id, schema_name, table_name, row_key,
			row_version, patch_version, ref_counts
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (client_group_id, schema_name, table_name, row_key) DO UPDATE SET
			row_version = excluded.row_version,
			patch_version = excluded.patch_version,
			ref_counts = excluded.ref_counts
	`,
		groupID,
		row.ID.Schema,
		row.ID.Table,
		row.ID.RowKey,
		row.RowVersion,
		algorithm.VersionString(row.PatchVersion),
		refCounts,
	)
	if err != nil {
		return fmt.Errorf("failed to write row %s: %w", row.ID, err)
	}
	return nil
}

func (s *SQLCVRStore) cachedSnapshot(ctx context.Context, groupID string, version model.CVRVersion) *model.CVRSnapshot {
	if s.cache == nil {
		return nil
	}
	cached, err := s.cache.Get(ctx, groupID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("Snapshot cache read failed",
				zap.String("client_group_id", groupID),
				zap.Error(err))
		}
		return nil
	}
	if algorithm.CompareVersions(cached.Version, version) != model.Identical {
		return nil
	}
	return cached
}

func (s *SQLCVRStore) cacheSnapshot(ctx context.Context, snapshot *model.CVRSnapshot) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, snapshot, s.cacheTTL); err != nil {
		s.logger.Warn("Snapshot cache write failed",
			zap.String("client_group_id", snapshot.ID),
			zap.Error(err))
	}
}

func (s *SQLCVRStore) invalidate(ctx context.Context, groupID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, groupID); err != nil {
		s.logger.Warn("Snapshot cache invalidation failed",
			zap.String("client_group_id", groupID),
			zap.Error(err))
	}
}

// Ping checks the database connection
func (s *SQLCVRStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLCVRStore) Close() error {
	err := s.db.Close()
	for _, fn := range s.onClose {
		fn()
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRowRecord(rows rowScanner) (*model.RowRecord, error) {
	var (
		record       model.RowRecord
		patchVersion string
		refCounts    sql.NullString
	)
	if err := rows.Scan(
		&record.ID.Schema,
		&record.ID.Table,
		&record.ID.RowKey,
		&record.RowVersion,
		&patchVersion,
		&refCounts,
	); err != nil {
		return nil, fmt.Errorf("failed to scan row record: %w", err)
	}
	v, err := algorithm.ParseVersion(patchVersion)
	if err != nil {
		return nil, fmt.Errorf("corrupt patch version for row %s: %w", record.ID, err)
	}
	record.PatchVersion = v
	if refCounts.Valid {
		if err := json.Unmarshal([]byte(refCounts.String), &record.RefCounts); err != nil {
			return nil, fmt.Errorf("corrupt ref counts for row %s: %w", record.ID, err)
		}
	}
	return &record, nil
}

func parseNullVersion(s sql.NullString) (*model.CVRVersion, error) {
	if !s.Valid {
		return nil, nil
	}
	v, err := algorithm.ParseVersion(s.String)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func nullVersion(v *model.CVRVersion) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: algorithm.VersionString(*v), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedDesireKeys(m map[DesireKey]DesireWrite) []DesireKey {
	keys := make([]DesireKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].ClientID != keys[j].ClientID {
			return keys[i].ClientID < keys[j].ClientID
		}
		return keys[i].QueryID < keys[j].QueryID
	})
	return keys
}

func sortedRowIDs(m map[model.RowID]*model.RowRecord) []model.RowID {
	ids := make([]model.RowID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return rowIDLess(ids[i], ids[j])
	})
	return ids
}

func rowIDLess(a, b model.RowID) bool {
	if a.Schema != b.Schema {
		return a.Schema < b.Schema
	}
	if a.Table != b.Table {
		return a.Table < b.Table
	}
	return a.RowKey < b.RowKey
}
