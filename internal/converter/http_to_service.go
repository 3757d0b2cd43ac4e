// Package converter converts admin API requests into service calls.
package converter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/ydydsnyd/mono-sub004/internal/algorithm"
	"github.com/ydydsnyd/mono-sub004/internal/model"
	"github.com/ydydsnyd/mono-sub004/internal/service"
)

// maxBodyBytes bounds request bodies. Execution results carry row contents.
const maxBodyBytes = 32 << 20

// HTTPToService handles conversion of HTTP requests to service arguments.
type HTTPToService struct{}

// NewHTTPToService creates a new HTTPToService converter.
func NewHTTPToService() *HTTPToService {
	return &HTTPToService{}
}

// DesiredQueriesHTTPRequest represents the HTTP request body for PutDesiredQueries.
type DesiredQueriesHTTPRequest struct {
	Put    []model.QuerySpec `json:"put"`
	Delete []string          `json:"delete,omitempty"`
	Clear  bool              `json:"clear,omitempty"`
}

// RowHTTPRequest is one row of an execution result.
type RowHTTPRequest struct {
	Schema    string         `json:"schema"`
	Table     string         `json:"table"`
	RowKey    map[string]any `json:"rowKey"`
	Version   string         `json:"version"`
	RefCounts map[string]int `json:"refCounts"`
	Contents  map[string]any `json:"contents,omitempty"`
}

// ExecutionHTTPRequest represents the HTTP request body for ApplyQueryResults.
type ExecutionHTTPRequest struct {
	StateVersion   string                `json:"stateVersion"`
	ReplicaVersion string                `json:"replicaVersion"`
	Executed       []model.ExecutedQuery `json:"executed"`
	Removed        []string              `json:"removed,omitempty"`
	Batches        [][]RowHTTPRequest    `json:"batches,omitempty"`
}

// CatchupHTTPRequest represents the HTTP query parameters for Catchup.
type CatchupHTTPRequest struct {
	GroupID string
	After   model.CVRVersion
	Exclude []string
}

// GroupID extracts the client group ID from the route.
func (c *HTTPToService) GroupID(r *http.Request) (string, error) {
	groupID := mux.Vars(r)["group_id"]
	if groupID == "" {
		return "", fmt.Errorf("group_id is required")
	}
	return groupID, nil
}

// ClientID extracts the client ID from the route.
func (c *HTTPToService) ClientID(r *http.Request) (string, error) {
	clientID := mux.Vars(r)["client_id"]
	if clientID == "" {
		return "", fmt.Errorf("client_id is required")
	}
	return clientID, nil
}

// PutDesiredQueriesRequest converts a PUT on a client's queries to a
// DesiredQueriesChange.
func (c *HTTPToService) PutDesiredQueriesRequest(r *http.Request) (service.DesiredQueriesChange, error) {
	clientID, err := c.ClientID(r)
	if err != nil {
		return service.DesiredQueriesChange{}, err
	}

	var httpReq DesiredQueriesHTTPRequest
	if err := decodeBody(r, &httpReq); err != nil {
		return service.DesiredQueriesChange{}, err
	}

	for i, q := range httpReq.Put {
		if q.ID == "" {
			return service.DesiredQueriesChange{}, fmt.Errorf("put[%d].id is required", i)
		}
	}

	return service.DesiredQueriesChange{
		ClientID: clientID,
		Put:      httpReq.Put,
		Delete:   httpReq.Delete,
		Clear:    httpReq.Clear,
	}, nil
}

// DeleteDesiredQueriesRequest converts a DELETE on a client's queries. The
// repeated id parameter names the queries to delete; without one every
// desired query of the client is cleared.
func (c *HTTPToService) DeleteDesiredQueriesRequest(r *http.Request) (service.DesiredQueriesChange, error) {
	clientID, err := c.ClientID(r)
	if err != nil {
		return service.DesiredQueriesChange{}, err
	}

	ids := r.URL.Query()["id"]
	return service.DesiredQueriesChange{
		ClientID: clientID,
		Delete:   ids,
		Clear:    len(ids) == 0,
	}, nil
}

// ExecutionRequest converts an HTTP request to QueryResults. Rows of a batch
// are keyed by their row ID; a row may appear only once per batch.
func (c *HTTPToService) ExecutionRequest(r *http.Request) (service.QueryResults, error) {
	var httpReq ExecutionHTTPRequest
	if err := decodeBody(r, &httpReq); err != nil {
		return service.QueryResults{}, err
	}

	if httpReq.StateVersion == "" {
		return service.QueryResults{}, fmt.Errorf("stateVersion is required")
	}

	batches := make([]map[model.RowID]model.RowUpdate, 0, len(httpReq.Batches))
	for b, rows := range httpReq.Batches {
		batch := make(map[model.RowID]model.RowUpdate, len(rows))
		for i, row := range rows {
			id, err := model.NewRowID(row.Schema, row.Table, row.RowKey)
			if err != nil {
				return service.QueryResults{}, fmt.Errorf("batches[%d][%d]: %w", b, i, err)
			}
			if _, dup := batch[id]; dup {
				return service.QueryResults{}, fmt.Errorf("batches[%d][%d]: duplicate row %s", b, i, id)
			}
			batch[id] = model.RowUpdate{
				Version:   row.Version,
				RefCounts: row.RefCounts,
				Contents:  row.Contents,
			}
		}
		batches = append(batches, batch)
	}

	return service.QueryResults{
		StateVersion:   httpReq.StateVersion,
		ReplicaVersion: httpReq.ReplicaVersion,
		Executed:       httpReq.Executed,
		Removed:        httpReq.Removed,
		Batches:        batches,
	}, nil
}

// CatchupRequest converts the query parameters of a catch-up request. A
// missing after parameter catches up from the initial version.
func (c *HTTPToService) CatchupRequest(r *http.Request) (*CatchupHTTPRequest, error) {
	groupID, err := c.GroupID(r)
	if err != nil {
		return nil, err
	}

	req := &CatchupHTTPRequest{
		GroupID: groupID,
		After:   model.InitialVersion(),
		Exclude: r.URL.Query()["exclude"],
	}
	if after := r.URL.Query().Get("after"); after != "" {
		v, err := algorithm.ParseVersion(after)
		if err != nil {
			return nil, fmt.Errorf("invalid after parameter: %w", err)
		}
		req.After = v
	}
	return req, nil
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) == 0 {
		return fmt.Errorf("request body is required")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to parse request body: %w", err)
	}
	return nil
}
