package converter

import (
	"github.com/ydydsnyd/mono-sub004/internal/algorithm"
	"github.com/ydydsnyd/mono-sub004/internal/model"
	"github.com/ydydsnyd/mono-sub004/internal/service"
	"github.com/ydydsnyd/mono-sub004/internal/store"
)

// ServiceToHTTP handles conversion of service results to HTTP responses.
// Versions are rendered as version strings.
type ServiceToHTTP struct{}

// NewServiceToHTTP creates a new ServiceToHTTP converter.
func NewServiceToHTTP() *ServiceToHTTP {
	return &ServiceToHTTP{}
}

// PatchHTTPResponse is one line of a patch stream or patch list.
type PatchHTTPResponse struct {
	// Kind is "config" or "row"
	Kind      string             `json:"kind" yaml:"kind"`
	Config    *model.ConfigPatch `json:"config,omitempty" yaml:"config,omitempty"`
	Row       *model.RowPatch    `json:"row,omitempty" yaml:"row,omitempty"`
	ToVersion string             `json:"toVersion" yaml:"toVersion"`
}

// ConfigHTTPResponse represents the HTTP response of a config-driven cycle.
type ConfigHTTPResponse struct {
	Version    string              `json:"version"`
	NewQueries []model.QuerySpec   `json:"newQueries"`
	Patches    []PatchHTTPResponse `json:"patches"`
	Stats      store.FlushStats    `json:"stats"`
}

// ExecutionHTTPResponse represents the HTTP response of a query-driven cycle.
type ExecutionHTTPResponse struct {
	Version string              `json:"version"`
	Patches []PatchHTTPResponse `json:"patches"`
	Stats   store.FlushStats    `json:"stats"`
}

// TouchHTTPResponse represents the HTTP response of a touch.
type TouchHTTPResponse struct {
	Version    string `json:"version"`
	LastActive int64  `json:"lastActive"`
}

// CatchupHeader is the first line of a catch-up stream.
type CatchupHeader struct {
	After  string `json:"after"`
	Target string `json:"target"`
}

// ConfigPatch converts a versioned config patch.
func (c *ServiceToHTTP) ConfigPatch(p model.ConfigPatchToVersion) PatchHTTPResponse {
	patch := p.Patch
	return PatchHTTPResponse{
		Kind:      "config",
		Config:    &patch,
		ToVersion: algorithm.VersionString(p.ToVersion),
	}
}

// RowPatch converts a versioned row patch.
func (c *ServiceToHTTP) RowPatch(p model.RowPatchToVersion) PatchHTTPResponse {
	patch := p.Patch
	return PatchHTTPResponse{
		Kind:      "row",
		Row:       &patch,
		ToVersion: algorithm.VersionString(p.ToVersion),
	}
}

// ConfigResponse converts a ConfigResult.
func (c *ServiceToHTTP) ConfigResponse(res *service.ConfigResult) *ConfigHTTPResponse {
	patches := make([]PatchHTTPResponse, 0, len(res.Patches))
	for _, p := range res.Patches {
		patches = append(patches, c.ConfigPatch(p))
	}
	newQueries := res.NewQueries
	if newQueries == nil {
		newQueries = []model.QuerySpec{}
	}
	return &ConfigHTTPResponse{
		Version:    algorithm.VersionString(res.Snapshot.Version),
		NewQueries: newQueries,
		Patches:    patches,
		Stats:      res.Stats,
	}
}

// ExecutionResponse converts a QueryResult. Config patches come before row
// patches.
func (c *ServiceToHTTP) ExecutionResponse(res *service.QueryResult) *ExecutionHTTPResponse {
	patches := make([]PatchHTTPResponse, 0, len(res.ConfigPatches)+len(res.RowPatches))
	for _, p := range res.ConfigPatches {
		patches = append(patches, c.ConfigPatch(p))
	}
	for _, p := range res.RowPatches {
		patches = append(patches, c.RowPatch(p))
	}
	return &ExecutionHTTPResponse{
		Version: algorithm.VersionString(res.Snapshot.Version),
		Patches: patches,
		Stats:   res.Stats,
	}
}

// TouchResponse converts a touched snapshot.
func (c *ServiceToHTTP) TouchResponse(snapshot *model.CVRSnapshot) *TouchHTTPResponse {
	return &TouchHTTPResponse{
		Version:    algorithm.VersionString(snapshot.Version),
		LastActive: snapshot.LastActive.UnixMilli(),
	}
}

// CatchupHeader converts the bounds of a catch-up.
func (c *ServiceToHTTP) CatchupHeader(catchup *service.Catchup) CatchupHeader {
	return CatchupHeader{
		After:  algorithm.VersionString(catchup.After),
		Target: algorithm.VersionString(catchup.Target),
	}
}
