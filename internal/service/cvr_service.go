package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ydydsnyd/mono-sub004/internal/algorithm"
	"github.com/ydydsnyd/mono-sub004/internal/metrics"
	"github.com/ydydsnyd/mono-sub004/internal/model"
	"github.com/ydydsnyd/mono-sub004/internal/store"
)

// DefaultMaxFlushRetries is used when NewCVRService is given a negative limit
const DefaultMaxFlushRetries = 3

// DesiredQueriesChange is one batch of desired query edits from a client.
// Clear is applied first, then Delete, then Put.
type DesiredQueriesChange struct {
	ClientID string            `json:"clientID"`
	Put      []model.QuerySpec `json:"put,omitempty"`
	Delete   []string          `json:"delete,omitempty"`
	Clear    bool              `json:"clear,omitempty"`
}

// ConfigResult is the outcome of a config-driven cycle
type ConfigResult struct {
	Snapshot *model.CVRSnapshot `json:"snapshot"`
	// NewQueries must be handed to the query engine
	NewQueries []model.QuerySpec            `json:"newQueries"`
	Patches    []model.ConfigPatchToVersion `json:"patches"`
	Stats      store.FlushStats             `json:"stats"`
}

// QueryResults is the output of one round of query execution
type QueryResults struct {
	StateVersion   string
	ReplicaVersion string
	Executed       []model.ExecutedQuery
	Removed        []string
	// Batches are passed to Received in order
	Batches []map[model.RowID]model.RowUpdate
}

// QueryResult is the outcome of a query-driven cycle
type QueryResult struct {
	Snapshot      *model.CVRSnapshot           `json:"snapshot"`
	ConfigPatches []model.ConfigPatchToVersion `json:"configPatches"`
	RowPatches    []model.RowPatchToVersion    `json:"rowPatches"`
	Stats         store.FlushStats             `json:"stats"`
}

// CVRService runs updater cycles against the store. A cycle that loses a
// race with another writer is recomputed from a fresh load, up to
// maxFlushRetries times.
type CVRService struct {
	store           store.CVRStore
	catchup         *CatchupReader
	maxFlushRetries int
	metrics         *metrics.Metrics
	logger          *zap.Logger
	now             func() time.Time
}

// NewCVRService creates a new CVR service
func NewCVRService(
	cvrStore store.CVRStore,
	maxFlushRetries int,
	m *metrics.Metrics,
	logger *zap.Logger,
) *CVRService {
	if maxFlushRetries < 0 {
		maxFlushRetries = DefaultMaxFlushRetries
	}
	return &CVRService{
		store:           cvrStore,
		catchup:         NewCatchupReader(cvrStore, logger),
		maxFlushRetries: maxFlushRetries,
		metrics:         m,
		logger:          logger,
		now:             time.Now,
	}
}

// Load returns the current snapshot of a client group
func (s *CVRService) Load(ctx context.Context, groupID string) (*model.CVRSnapshot, error) {
	if groupID == "" {
		return nil, fmt.Errorf("%w: empty client group id", ErrInvalidArgument)
	}
	snapshot, err := s.store.Load(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to load client group %s: %w", groupID, err)
	}
	return snapshot, nil
}

// Touch records activity on a client group without changing it
func (s *CVRService) Touch(ctx context.Context, groupID string) (*model.CVRSnapshot, error) {
	var result *model.CVRSnapshot
	err := s.withRetry(ctx, groupID, "touch", func(snapshot *model.CVRSnapshot) error {
		updater := NewCVRUpdater(s.store, snapshot, s.logger)
		updater.SetMetrics(s.metrics)
		res, err := updater.Flush(ctx, s.now())
		if err != nil {
			return err
		}
		result = res.Snapshot
		return nil
	})
	return result, err
}

// ApplyDesiredQueries runs a config-driven cycle for one client's edits
func (s *CVRService) ApplyDesiredQueries(
	ctx context.Context,
	groupID string,
	change DesiredQueriesChange,
) (*ConfigResult, error) {
	var result *ConfigResult
	err := s.withRetry(ctx, groupID, "desired_queries", func(snapshot *model.CVRSnapshot) error {
		updater := NewConfigDrivenUpdater(s.store, snapshot, s.logger)
		updater.SetMetrics(s.metrics)

		var patches []model.ConfigPatchToVersion
		if change.Clear {
			patches = append(patches, updater.ClearDesiredQueries(change.ClientID)...)
		}
		patches = append(patches, updater.DeleteDesiredQueries(change.ClientID, change.Delete)...)
		newQueries, putPatches, err := updater.PutDesiredQueries(change.ClientID, change.Put)
		if err != nil {
			return err
		}
		patches = append(patches, putPatches...)

		res, err := updater.Flush(ctx, s.now())
		if err != nil {
			return err
		}
		result = &ConfigResult{
			Snapshot:   res.Snapshot,
			NewQueries: newQueries,
			Patches:    append(patches, res.Patches...),
			Stats:      res.Stats,
		}
		return nil
	})
	return result, err
}

// DeleteClient removes a client and its desired queries
func (s *CVRService) DeleteClient(ctx context.Context, groupID, clientID string) (*ConfigResult, error) {
	var result *ConfigResult
	err := s.withRetry(ctx, groupID, "delete_client", func(snapshot *model.CVRSnapshot) error {
		updater := NewConfigDrivenUpdater(s.store, snapshot, s.logger)
		updater.SetMetrics(s.metrics)
		patches := updater.DeleteClient(clientID)

		res, err := updater.Flush(ctx, s.now())
		if err != nil {
			return err
		}
		result = &ConfigResult{
			Snapshot: res.Snapshot,
			Patches:  append(patches, res.Patches...),
			Stats:    res.Stats,
		}
		return nil
	})
	return result, err
}

// ApplyQueryResults runs a query-driven cycle
func (s *CVRService) ApplyQueryResults(
	ctx context.Context,
	groupID string,
	results QueryResults,
) (*QueryResult, error) {
	var result *QueryResult
	err := s.withRetry(ctx, groupID, "query_results", func(snapshot *model.CVRSnapshot) error {
		updater, err := NewQueryDrivenUpdater(s.store, snapshot, results.StateVersion, results.ReplicaVersion, s.logger)
		if err != nil {
			return err
		}
		updater.SetMetrics(s.metrics)

		_, configPatches, err := updater.TrackQueries(ctx, results.Executed, results.Removed)
		if err != nil {
			return err
		}
		var rowPatches []model.RowPatchToVersion
		for _, batch := range results.Batches {
			patches, err := updater.Received(ctx, batch)
			if err != nil {
				return err
			}
			rowPatches = append(rowPatches, patches...)
		}
		deletes, err := updater.DeleteUnreferencedRows(ctx)
		if err != nil {
			return err
		}
		rowPatches = append(rowPatches, deletes...)

		res, err := updater.Flush(ctx, s.now())
		if err != nil {
			return err
		}
		result = &QueryResult{
			Snapshot:      res.Snapshot,
			ConfigPatches: append(configPatches, res.Patches...),
			RowPatches:    rowPatches,
			Stats:         res.Stats,
		}
		return nil
	})
	return result, err
}

// Catchup loads the current snapshot of a client group and returns the
// patches a client at version after needs to reach it
func (s *CVRService) Catchup(
	ctx context.Context,
	groupID string,
	after model.CVRVersion,
	excludeQueryHashes []string,
) (*Catchup, error) {
	target, err := s.Load(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return s.catchup.Catchup(ctx, after, target, excludeQueryHashes)
}

// withRetry loads the client group and runs cycle, reloading and rerunning
// it when the flush is rejected because another writer got there first
func (s *CVRService) withRetry(
	ctx context.Context,
	groupID string,
	operation string,
	cycle func(snapshot *model.CVRSnapshot) error,
) error {
	for attempt := 0; ; attempt++ {
		snapshot, err := s.Load(ctx, groupID)
		if err != nil {
			return err
		}

		err = cycle(snapshot)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConcurrentModification) || attempt >= s.maxFlushRetries {
			return err
		}

		s.metrics.RecordFlushRetry(operation)
		s.logger.Warn("Client view record changed concurrently, recomputing",
			zap.String("client_group_id", groupID),
			zap.String("operation", operation),
			zap.String("loaded_version", algorithm.VersionString(snapshot.Version)),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
}
