// Package handler provides HTTP request handlers for the view syncer admin API.
package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ydydsnyd/mono-sub004/internal/converter"
	apierrors "github.com/ydydsnyd/mono-sub004/internal/errors"
	"github.com/ydydsnyd/mono-sub004/internal/service"
)

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	service       *service.CVRService
	httpToService *converter.HTTPToService
	serviceToHTTP *converter.ServiceToHTTP
	errorHandler  *apierrors.Handler
	logger        *zap.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	cvrService *service.CVRService,
	errorHandler *apierrors.Handler,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		service:       cvrService,
		httpToService: converter.NewHTTPToService(),
		serviceToHTTP: converter.NewServiceToHTTP(),
		errorHandler:  errorHandler,
		logger:        logger,
	}
}

// GetClientGroup handles GET /v1/groups/{group_id} requests.
// ?format=yaml renders the snapshot as YAML.
func (h *Handlers) GetClientGroup(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	groupID, err := h.httpToService.GroupID(r)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	snapshot, err := h.service.Load(r.Context(), groupID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "yaml" {
		data, err := yaml.Marshal(snapshot)
		if err != nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, snapshot)
}

// Touch handles POST /v1/groups/{group_id}/touch requests.
func (h *Handlers) Touch(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	groupID, err := h.httpToService.GroupID(r)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	snapshot, err := h.service.Touch(r.Context(), groupID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, h.serviceToHTTP.TouchResponse(snapshot))
}

// PutDesiredQueries handles PUT /v1/groups/{group_id}/clients/{client_id}/queries requests.
func (h *Handlers) PutDesiredQueries(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	groupID, err := h.httpToService.GroupID(r)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}
	change, err := h.httpToService.PutDesiredQueriesRequest(r)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	h.applyDesiredQueries(w, r, groupID, change)
}

// DeleteDesiredQueries handles DELETE /v1/groups/{group_id}/clients/{client_id}/queries requests.
func (h *Handlers) DeleteDesiredQueries(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	groupID, err := h.httpToService.GroupID(r)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}
	change, err := h.httpToService.DeleteDesiredQueriesRequest(r)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	h.applyDesiredQueries(w, r, groupID, change)
}

func (h *Handlers) applyDesiredQueries(w http.ResponseWriter, r *http.Request, groupID string, change service.DesiredQueriesChange) {
	result, err := h.service.ApplyDesiredQueries(r.Context(), groupID, change)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, h.serviceToHTTP.ConfigResponse(result))
}

// DeleteClient handles DELETE /v1/groups/{group_id}/clients/{client_id} requests.
func (h *Handlers) DeleteClient(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	groupID, err := h.httpToService.GroupID(r)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}
	clientID, err := h.httpToService.ClientID(r)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	result, err := h.service.DeleteClient(r.Context(), groupID, clientID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, h.serviceToHTTP.ConfigResponse(result))
}

// ApplyExecution handles POST /v1/groups/{group_id}/executions requests.
func (h *Handlers) ApplyExecution(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	groupID, err := h.httpToService.GroupID(r)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}
	results, err := h.httpToService.ExecutionRequest(r)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	result, err := h.service.ApplyQueryResults(r.Context(), groupID, results)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.writeJSONResponse(w, http.StatusOK, h.serviceToHTTP.ExecutionResponse(result))
}

// Catchup handles GET /v1/groups/{group_id}/catchup requests. The response
// is newline delimited JSON: a header line, the config patches, then the row
// patches one page at a time.
func (h *Handlers) Catchup(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get("X-Request-ID")

	req, err := h.httpToService.CatchupRequest(r)
	if err != nil {
		h.errorHandler.WriteValidationError(w, err.Error(), requestID)
		return
	}

	catchup, err := h.service.Catchup(r.Context(), req.GroupID, req.After, req.Exclude)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	defer catchup.Rows.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	if err := enc.Encode(h.serviceToHTTP.CatchupHeader(catchup)); err != nil {
		return
	}
	for _, p := range catchup.ConfigPatches {
		if err := enc.Encode(h.serviceToHTTP.ConfigPatch(p)); err != nil {
			return
		}
	}
	for catchup.Rows.Next() {
		for _, p := range catchup.Rows.Batch() {
			if err := enc.Encode(h.serviceToHTTP.RowPatch(p)); err != nil {
				return
			}
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if err := catchup.Rows.Err(); err != nil {
		// Headers are gone; a truncated stream without a trailer tells the
		// client to retry
		h.logger.Error("Catch-up stream failed",
			zap.String("request_id", requestID),
			zap.String("client_group_id", req.GroupID),
			zap.Error(err))
		return
	}
	enc.Encode(map[string]bool{"done": true})
}

// writeJSONResponse writes a JSON response.
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", zap.Error(err))
	}
}
