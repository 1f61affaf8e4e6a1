package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/materialshub/materials-hub/pkg/export"
	"github.com/materialshub/materials-hub/pkg/models"
	"github.com/materialshub/materials-hub/pkg/services"
)

const (
	defaultPerPage = 100
	maxPerPage     = 1000
)

// RecordSearchResponse for GET /api/v1/materials-datasets/{id}/records/search
type RecordSearchResponse struct {
	Records    []models.MaterialRecord `json:"records"`
	Total      int                     `json:"total"`
	SearchTerm string                  `json:"search_term"`
	Page       int                     `json:"page"`
	PerPage    int                     `json:"per_page"`
	TotalPages int                     `json:"total_pages"`
}

// RecordsHandler serves the material records of a dataset.
type RecordsHandler struct {
	datasetService services.DatasetService
	logger         *zap.Logger
}

// NewRecordsHandler creates a new records handler.
func NewRecordsHandler(datasetService services.DatasetService, logger *zap.Logger) *RecordsHandler {
	return &RecordsHandler{
		datasetService: datasetService,
		logger:         logger,
	}
}

// RegisterRoutes registers the records handler's routes on the given mux.
func (h *RecordsHandler) RegisterRoutes(mux *http.ServeMux) {
	base := datasetsBase + "/{id}/records"

	mux.HandleFunc("GET "+base, h.List)
	mux.HandleFunc("GET "+base+"/search", h.Search)
	mux.HandleFunc("GET "+base+"/export", h.Export)
}

func (h *RecordsHandler) pagination(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	page, ok := QueryInt(w, r, "page", 1, h.logger)
	if !ok {
		return 0, 0, false
	}
	perPage, ok := QueryInt(w, r, "per_page", defaultPerPage, h.logger)
	if !ok {
		return 0, 0, false
	}
	return page, min(perPage, maxPerPage), true
}

// List handles GET /api/v1/materials-datasets/{id}/records?page=1&per_page=100
func (h *RecordsHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}
	page, perPage, ok := h.pagination(w, r)
	if !ok {
		return
	}

	result, err := h.datasetService.QueryRecords(r.Context(), id, models.RecordFilter{
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Search handles GET /api/v1/materials-datasets/{id}/records/search?q=
// Matches material name or chemical formula, case-insensitively.
func (h *RecordsHandler) Search(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if term == "" {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "missing_search_term", "Search query parameter 'q' is required")
		return
	}
	page, perPage, ok := h.pagination(w, r)
	if !ok {
		return
	}

	result, err := h.datasetService.QueryRecords(r.Context(), id, models.RecordFilter{
		Search:  term,
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	response := RecordSearchResponse{
		Records:    result.Records,
		Total:      result.Total,
		SearchTerm: term,
		Page:       result.Page,
		PerPage:    result.PerPage,
		TotalPages: result.TotalPages,
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Export handles GET /api/v1/materials-datasets/{id}/records/export
// Streams every record of the dataset as a Parquet file.
func (h *RecordsHandler) Export(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}

	records, err := h.datasetService.ListRecords(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", export.ParquetContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="materials_dataset_%d.parquet"`, id))
	if err := export.WriteParquet(w, records); err != nil {
		// Headers are already sent; all we can do is log and cut the response short.
		h.logger.Error("Failed to write parquet export", zap.Int64("dataset_id", id), zap.Error(err))
	}
}
