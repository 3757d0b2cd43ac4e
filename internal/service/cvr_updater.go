package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ydydsnyd/mono-sub004/internal/algorithm"
	"github.com/ydydsnyd/mono-sub004/internal/metrics"
	"github.com/ydydsnyd/mono-sub004/internal/model"
	"github.com/ydydsnyd/mono-sub004/internal/store"
)

// FlushResult is the outcome of flushing an updater
type FlushResult struct {
	Snapshot *model.CVRSnapshot
	Stats    store.FlushStats
	// Patches announces the queries collected at flush time because no
	// client desires them anymore
	Patches []model.ConfigPatchToVersion
}

// CVRUpdater accumulates changes to a client view record and commits them
// with Flush. A bare CVRUpdater only refreshes lastActive; the config and
// query driven updaters embed it.
//
// An updater works on a private copy of the snapshot it was created from and
// is not safe for concurrent use.
type CVRUpdater struct {
	store   store.CVRStore
	orig    *model.CVRSnapshot
	cvr     *model.CVRSnapshot
	writes  *store.PendingWrites
	kind    string
	metrics *metrics.Metrics
	logger  *zap.Logger

	gcPatches []model.ConfigPatchToVersion
	flushed   bool
}

// NewCVRUpdater creates an updater that changes nothing but lastActive
func NewCVRUpdater(cvrStore store.CVRStore, snapshot *model.CVRSnapshot, logger *zap.Logger) *CVRUpdater {
	return newCVRUpdater(cvrStore, snapshot, "base", logger)
}

func newCVRUpdater(cvrStore store.CVRStore, snapshot *model.CVRSnapshot, kind string, logger *zap.Logger) *CVRUpdater {
	return &CVRUpdater{
		store:  cvrStore,
		orig:   snapshot,
		cvr:    snapshot.Clone(),
		writes: store.NewPendingWrites(),
		kind:   kind,
		logger: logger.With(zap.String("client_group_id", snapshot.ID), zap.String("updater", kind)),
	}
}

// SetMetrics attaches metrics to the updater; nil disables them
func (u *CVRUpdater) SetMetrics(m *metrics.Metrics) {
	u.metrics = m
}

// Version returns the version the record will have after the flush
func (u *CVRUpdater) Version() model.CVRVersion {
	return u.cvr.Version
}

// Snapshot returns a copy of the updater's working state
func (u *CVRUpdater) Snapshot() *model.CVRSnapshot {
	return u.cvr.Clone()
}

// ensureNewVersion returns the version of this update, bumping the minor
// version of the original snapshot the first time it is called
func (u *CVRUpdater) ensureNewVersion() model.CVRVersion {
	if algorithm.CompareVersions(u.cvr.Version, u.orig.Version) == model.Identical {
		u.cvr.Version = algorithm.OneAfter(u.orig.Version)
	}
	return u.cvr.Version
}

// collectOrphanedQueries removes the non-internal queries no client desires.
// A query whose results were announced gets a del patch.
func (u *CVRUpdater) collectOrphanedQueries() []model.ConfigPatchToVersion {
	var orphans []string
	for id, query := range u.cvr.Queries {
		if !query.Internal && len(query.DesiredBy) == 0 {
			orphans = append(orphans, id)
		}
	}
	sort.Strings(orphans)

	var patches []model.ConfigPatchToVersion
	for _, id := range orphans {
		query := u.cvr.Queries[id]
		version := u.ensureNewVersion()
		delete(u.cvr.Queries, id)

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

	if len(orphans) > 0 {
		u.logger.Debug("Collected orphaned queries",
			zap.Strings("query_hashes", orphans),
			zap.String("version", algorithm.VersionString(u.cvr.Version)))
	}
	u.gcPatches = append(u.gcPatches, patches...)
	u.recordPatches(patches)
	return patches
}

func (u *CVRUpdater) recordPatches(patches []model.ConfigPatchToVersion) {
	var puts, dels int
	for _, p := range patches {
		if p.Patch.Op == model.PatchOpPut {
			puts++
		} else {
			dels++
		}
	}
	u.metrics.RecordPatches("config", string(model.PatchOpPut), puts)
	u.metrics.RecordPatches("config", string(model.PatchOpDel), dels)
}

// Flush commits the accumulated changes with lastActive as the new activity
// timestamp. It fails with store.ErrConcurrentModification if the record was
// changed by another writer since it was loaded, in which case nothing is
// written and the caller should reload and recompute.
func (u *CVRUpdater) Flush(ctx context.Context, lastActive time.Time) (*FlushResult, error) {
	if u.flushed {
		return nil, ErrAlreadyFlushed
	}
	start := time.Now()

	u.collectOrphanedQueries()
	u.cvr.LastActive = lastActive

	res, err := u.store.Flush(ctx, &store.FlushRequest{
		ExpectedVersion: u.orig.Version,
		ExpectNew:       u.orig.LastActive.IsZero(),
		Snapshot:        u.cvr,
		Writes:          u.writes,
		LastActive:      lastActive,
	})
	duration := time.Since(start).Seconds()
	if err != nil {
		status := "error"
		if errors.Is(err, store.ErrConcurrentModification) {
			status = "conflict"
		}
		u.metrics.RecordFlush(u.kind, status, duration)
		return nil, err
	}
	u.flushed = true
	u.metrics.RecordFlush(u.kind, "ok", duration)

	u.logger.Info("Flushed client view record",
		zap.String("from_version", algorithm.VersionString(u.orig.Version)),
		zap.String("to_version", algorithm.VersionString(res.Snapshot.Version)),
		zap.Int("statements", res.Stats.Statements))

	return &FlushResult{
		Snapshot: res.Snapshot,
		Stats:    res.Stats,
		Patches:  u.gcPatches,
	}, nil
}
