package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/materialshub/materials-hub/pkg/apperrors"
	"github.com/materialshub/materials-hub/pkg/audit"
	"github.com/materialshub/materials-hub/pkg/auth"
	"github.com/materialshub/materials-hub/pkg/middleware"
	"github.com/materialshub/materials-hub/pkg/models"
	"github.com/materialshub/materials-hub/pkg/services"
)

const datasetsBase = "/api/v1/materials-datasets"

// ============================================================================
// Request/Response Types
// ============================================================================

// DatasetListResponse for GET /api/v1/materials-datasets
type DatasetListResponse struct {
	Datasets []*models.Dataset `json:"datasets"`
	Total    int               `json:"total"`
}

// ValidationResponse for GET /api/v1/materials-datasets/{id}/validate
type ValidationResponse struct {
	DatasetID int64    `json:"dataset_id"`
	Valid     bool     `json:"valid"`
	Problems  []string `json:"problems"`
}

// ============================================================================
// Handler
// ============================================================================

// DatasetsHandler handles dataset CRUD and derived read views.
type DatasetsHandler struct {
	datasetService services.DatasetService
	auditor        *audit.SecurityAuditor
	logger         *zap.Logger
}

// NewDatasetsHandler creates a new datasets handler.
func NewDatasetsHandler(datasetService services.DatasetService, auditor *audit.SecurityAuditor, logger *zap.Logger) *DatasetsHandler {
	return &DatasetsHandler{
		datasetService: datasetService,
		auditor:        auditor,
		logger:         logger,
	}
}

// RegisterRoutes registers the datasets handler's routes on the given mux.
func (h *DatasetsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET "+datasetsBase, h.List)
	mux.HandleFunc("POST "+datasetsBase, authMiddleware.RequireUser(h.Create))
	mux.HandleFunc("GET "+datasetsBase+"/{id}", h.Get)
	mux.HandleFunc("PATCH "+datasetsBase+"/{id}", authMiddleware.RequireUser(h.Update))
	mux.HandleFunc("DELETE "+datasetsBase+"/{id}", authMiddleware.RequireUser(h.Delete))
	mux.HandleFunc("GET "+datasetsBase+"/{id}/statistics", h.Statistics)
	mux.HandleFunc("GET "+datasetsBase+"/{id}/validate", h.Validate)
}

// requireOwner checks that the signed-in user owns dataset id. Refusals are
// recorded in the security audit log under action.
func requireOwner(r *http.Request, datasets services.DatasetService, auditor *audit.SecurityAuditor, id int64, action string) error {
	ctx := r.Context()
	userID, ok := auth.UserIDFromContext(ctx)
	if !ok {
		return apperrors.ErrUnauthorized
	}
	d, err := datasets.Get(ctx, id)
	if err != nil {
		return err
	}
	if d.OwnerID != userID {
		auditor.LogAccessDenied(ctx, id, action, middleware.ClientIP(r))
		return fmt.Errorf("dataset %d: %w", id, apperrors.ErrForbidden)
	}
	return nil
}

// List handles GET /api/v1/materials-datasets
// ?owner=me restricts the result to the signed-in user's datasets.
func (h *DatasetsHandler) List(w http.ResponseWriter, r *http.Request) {
	var owner *uuid.UUID
	if r.URL.Query().Get("owner") == "me" {
		owner = auth.UserIDPtrFromContext(r.Context())
		if owner == nil {
			writeServiceError(w, h.logger, apperrors.ErrUnauthorized)
			return
		}
	}

	datasets, err := h.datasetService.List(r.Context(), owner)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	response := DatasetListResponse{Datasets: datasets, Total: len(datasets)}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Create handles POST /api/v1/materials-datasets
func (h *DatasetsHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeServiceError(w, h.logger, apperrors.ErrUnauthorized)
		return
	}

	var req services.DatasetCreate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	dataset, err := h.datasetService.Create(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, dataset); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/v1/materials-datasets/{id}
func (h *DatasetsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}

	dataset, err := h.datasetService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, dataset); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PATCH /api/v1/materials-datasets/{id}
// Only metadata fields are accepted; any other key is rejected.
func (h *DatasetsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}
	if err := requireOwner(r, h.datasetService, h.auditor, id, "update"); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	update, err := services.DecodeDatasetUpdate(r.Body)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	dataset, err := h.datasetService.Update(r.Context(), id, update)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, dataset); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/v1/materials-datasets/{id}
func (h *DatasetsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}
	if err := requireOwner(r, h.datasetService, h.auditor, id, "delete"); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if err := h.datasetService.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.auditor.LogDatasetDeleted(r.Context(), id, middleware.ClientIP(r))
	w.WriteHeader(http.StatusNoContent)
}

// Statistics handles GET /api/v1/materials-datasets/{id}/statistics
func (h *DatasetsHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}

	stats, err := h.datasetService.Statistics(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, stats); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Validate handles GET /api/v1/materials-datasets/{id}/validate
// A dataset that fails publication checks is reported with 200 and valid=false.
func (h *DatasetsHandler) Validate(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}

	response := ValidationResponse{DatasetID: id, Valid: true, Problems: []string{}}
	if err := h.datasetService.ValidateForPublication(r.Context(), id); err != nil {
		var pubErr *models.PublicationError
		if !errors.As(err, &pubErr) {
			writeServiceError(w, h.logger, err)
			return
		}
		response.Valid = false
		response.Problems = pubErr.Problems
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
