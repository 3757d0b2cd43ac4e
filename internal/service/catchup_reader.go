package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ydydsnyd/mono-sub004/internal/algorithm"
	"github.com/ydydsnyd/mono-sub004/internal/model"
	"github.com/ydydsnyd/mono-sub004/internal/store"
)

// Catchup holds the patches that bring a client from one version to another.
// Consumers must apply ConfigPatches before the row patches.
type Catchup struct {
	After         model.CVRVersion
	Target        model.CVRVersion
	ConfigPatches []model.ConfigPatchToVersion
	Rows          *store.RowPatchIterator
}

// CatchupReader reads catch-up patches from the store. It never writes.
type CatchupReader struct {
	store  store.CVRStore
	logger *zap.Logger
}

// NewCatchupReader creates a new catch-up reader
func NewCatchupReader(cvrStore store.CVRStore, logger *zap.Logger) *CatchupReader {
	return &CatchupReader{
		store:  cvrStore,
		logger: logger,
	}
}

// Catchup returns the config patches with after < toVersion <= target.Version
// and an iterator over the row patches in the same range. Rows referenced
// only by queries in excludeQueryHashes are left out of the row patches.
func (r *CatchupReader) Catchup(
	ctx context.Context,
	after model.CVRVersion,
	target *model.CVRSnapshot,
	excludeQueryHashes []string,
) (*Catchup, error) {
	if algorithm.CompareVersions(after, target.Version) == model.After {
		return nil, fmt.Errorf("%w: version %s is ahead of client group %s at %s",
			ErrInvalidArgument,
			algorithm.VersionString(after),
			target.ID,
			algorithm.VersionString(target.Version))
	}

	configPatches, err := r.store.CatchupConfigPatches(ctx, after, target)
	if err != nil {
		return nil, fmt.Errorf("failed to read config patches: %w", err)
	}

	r.logger.Debug("Catching up client",
		zap.String("client_group_id", target.ID),
		zap.String("after", algorithm.VersionString(after)),
		zap.String("target", algorithm.VersionString(target.Version)),
		zap.Int("config_patches", len(configPatches)),
		zap.Strings("exclude", excludeQueryHashes))

	return &Catchup{
		After:         after,
		Target:        target.Version,
		ConfigPatches: configPatches,
		Rows:          r.store.CatchupRowPatches(ctx, after, target, excludeQueryHashes),
	}, nil
}
