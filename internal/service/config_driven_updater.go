package service

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ydydsnyd/mono-sub004/internal/model"
	"github.com/ydydsnyd/mono-sub004/internal/store"
)

// ConfigDrivenUpdater applies changes to the queries clients desire. It never
// touches rows and never moves the state version: the first change bumps the
// minor version, and every later change in the same updater shares it.
type ConfigDrivenUpdater struct {
	*CVRUpdater
}

// NewConfigDrivenUpdater creates an updater for desired query changes
func NewConfigDrivenUpdater(cvrStore store.CVRStore, snapshot *model.CVRSnapshot, logger *zap.Logger) *ConfigDrivenUpdater {
	return &ConfigDrivenUpdater{CVRUpdater: newCVRUpdater(cvrStore, snapshot, "config", logger)}
}

// ensureClient returns the client, creating it at the new version if needed
func (u *ConfigDrivenUpdater) ensureClient(clientID string) (*model.ClientRecord, []model.ConfigPatchToVersion) {
	if client, ok := u.cvr.Clients[clientID]; ok {
		return client, nil
	}
	version := u.ensureNewVersion()
	client := &model.ClientRecord{
		ID:              clientID,
		DesiredQueryIDs: []string{},
		PatchVersion:    version,
	}
	u.cvr.Clients[clientID] = client
	u.writes.PutClient(client)
	return client, []model.ConfigPatchToVersion{{
		Patch:     model.ConfigPatch{Type: model.PatchTypeClient, Op: model.PatchOpPut, ID: clientID},
		ToVersion: version,
	}}
}

// PutDesiredQueries adds queries to the set clientID desires. It returns the
// queries the record did not track before, which must be handed to the query
// engine, and the patches produced. Queries the client already desires are
// ignored, so redeclaring the current set changes nothing.
func (u *ConfigDrivenUpdater) PutDesiredQueries(
	clientID string,
	queries []model.QuerySpec,
) ([]model.QuerySpec, []model.ConfigPatchToVersion, error) {
	if clientID == "" {
		return nil, nil, fmt.Errorf("%w: empty client id", ErrInvalidArgument)
	}
	for _, q := range queries {
		if q.ID == "" {
			return nil, nil, fmt.Errorf("%w: empty query hash for client %s", ErrInvalidArgument, clientID)
		}
	}

	var (
		newQueries []model.QuerySpec
		patches    []model.ConfigPatchToVersion
	)
	for _, q := range queries {
		if existing, ok := u.cvr.Clients[clientID]; ok && existing.Desires(q.ID) {
			continue
		}

		client, clientPatches := u.ensureClient(clientID)
		patches = append(patches, clientPatches...)
		version := u.ensureNewVersion()

		query, ok := u.cvr.Queries[q.ID]
		if !ok {
			query = &model.QueryRecord{
				ID:        q.ID,
				AST:       q.AST.Clone(),
				DesiredBy: make(map[string]model.CVRVersion),
			}
			u.cvr.Queries[q.ID] = query
			u.writes.PutQuery(query)
			newQueries = append(newQueries, model.QuerySpec{ID: q.ID, AST: q.AST.Clone()})
		}

		query.DesiredBy[clientID] = version
		client.AddDesired(q.ID)
		u.writes.PutDesire(clientID, q.ID, version)
		patches = append(patches, model.ConfigPatchToVersion{
			Patch: model.ConfigPatch{
				Type:     model.PatchTypeQuery,
				Op:       model.PatchOpPut,
				ID:       q.ID,
				ClientID: clientID,
			},
			ToVersion: version,
		})
	}

	u.recordPatches(patches)
	return newQueries, patches, nil
}

// PutInternalQuery tracks a query the server runs for itself. Internal
// queries are never announced to clients and are kept when no client
// desires them. It reports whether the query is new.
func (u *ConfigDrivenUpdater) PutInternalQuery(q model.QuerySpec) (bool, error) {
	if q.ID == "" {
		return false, fmt.Errorf("%w: empty query hash", ErrInvalidArgument)
	}
	if _, ok := u.cvr.Queries[q.ID]; ok {
		return false, nil
	}
	u.ensureNewVersion()
	query := &model.QueryRecord{
		ID:        q.ID,
		AST:       q.AST.Clone(),
		DesiredBy: make(map[string]model.CVRVersion),
		Internal:  true,
	}
	u.cvr.Queries[q.ID] = query
	u.writes.PutQuery(query)
	return true, nil
}

// DeleteDesiredQueries removes queries from the set clientID desires. Hashes
// the client does not desire are ignored. Queries left without any desiring
// client are collected when the updater is flushed.
func (u *ConfigDrivenUpdater) DeleteDesiredQueries(clientID string, queryIDs []string) []model.ConfigPatchToVersion {
	client, ok := u.cvr.Clients[clientID]
	if !ok {
		return nil
	}

	var patches []model.ConfigPatchToVersion
	for _, id := range queryIDs {
		if !client.Desires(id) {
			continue
		}
		version := u.ensureNewVersion()
		client.RemoveDesired(id)
		if query, ok := u.cvr.Queries[id]; ok {
			delete(query.DesiredBy, clientID)
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

	u.recordPatches(patches)
	return patches
}

// ClearDesiredQueries removes every query clientID desires
func (u *ConfigDrivenUpdater) ClearDesiredQueries(clientID string) []model.ConfigPatchToVersion {
	client, ok := u.cvr.Clients[clientID]
	if !ok {
		return nil
	}
	ids := make([]string, len(client.DesiredQueryIDs))
	copy(ids, client.DesiredQueryIDs)
	return u.DeleteDesiredQueries(clientID, ids)
}

// DeleteClient clears the client's desired queries and removes the client
func (u *ConfigDrivenUpdater) DeleteClient(clientID string) []model.ConfigPatchToVersion {
	if _, ok := u.cvr.Clients[clientID]; !ok {
		return nil
	}
	patches := u.ClearDesiredQueries(clientID)

	version := u.ensureNewVersion()
	delete(u.cvr.Clients, clientID)
	u.writes.DeleteClient(clientID, version)
	del := model.ConfigPatchToVersion{
		Patch:     model.ConfigPatch{Type: model.PatchTypeClient, Op: model.PatchOpDel, ID: clientID},
		ToVersion: version,
	}
	u.recordPatches([]model.ConfigPatchToVersion{del})

	u.logger.Info("Deleted client", zap.String("client_id", clientID))
	return append(patches, del)
}
