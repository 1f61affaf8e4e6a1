package handlers

import (
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/materialshub/materials-hub/pkg/models"
	"github.com/materialshub/materials-hub/pkg/services"
)

// VersionListResponse for GET /api/v1/materials-datasets/{id}/versions
type VersionListResponse struct {
	DatasetID int64                    `json:"dataset_id"`
	Versions  []*models.DatasetVersion `json:"versions"`
	Total     int                      `json:"total"`
}

// VersionsHandler serves the version history of a dataset.
type VersionsHandler struct {
	versionService services.VersionService
	logger         *zap.Logger
}

// NewVersionsHandler creates a new versions handler.
func NewVersionsHandler(versionService services.VersionService, logger *zap.Logger) *VersionsHandler {
	return &VersionsHandler{
		versionService: versionService,
		logger:         logger,
	}
}

// RegisterRoutes registers the versions handler's routes on the given mux.
func (h *VersionsHandler) RegisterRoutes(mux *http.ServeMux) {
	base := datasetsBase + "/{id}/versions"

	mux.HandleFunc("GET "+base, h.List)
	mux.HandleFunc("GET "+base+"/compare", h.Compare)
	mux.HandleFunc("GET "+base+"/diff", h.Diff)
	mux.HandleFunc("GET "+base+"/{n}", h.Get)
	mux.HandleFunc("GET "+base+"/{n}/download", h.Download)
}

// List handles GET /api/v1/materials-datasets/{id}/versions
func (h *VersionsHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}

	versions, err := h.versionService.List(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	response := VersionListResponse{DatasetID: id, Versions: versions, Total: len(versions)}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/v1/materials-datasets/{id}/versions/{n}
func (h *VersionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}
	n, ok := ParseVersionNumber(w, r, h.logger)
	if !ok {
		return
	}

	version, err := h.versionService.Get(r.Context(), id, n)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, version); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Download handles GET /api/v1/materials-datasets/{id}/versions/{n}/download
func (h *VersionsHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}
	n, ok := ParseVersionNumber(w, r, h.logger)
	if !ok {
		return
	}

	rc, filename, err := h.versionService.OpenSnapshot(r.Context(), id, n)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Error("Failed to stream version snapshot",
			zap.Int64("dataset_id", id),
			zap.Int("version", n),
			zap.Error(err))
	}
}

// Compare handles GET /api/v1/materials-datasets/{id}/versions/compare?from=&to=
func (h *VersionsHandler) Compare(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}
	from, to, ok := ParseVersionRange(w, r, h.logger)
	if !ok {
		return
	}

	comparison, err := h.versionService.Compare(r.Context(), id, from, to)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if err := WriteJSON(w, http.StatusOK, comparison); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Diff handles GET /api/v1/materials-datasets/{id}/versions/diff?from=&to=
// Returns a unified diff of the two CSV snapshots as plain text.
func (h *VersionsHandler) Diff(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}
	from, to, ok := ParseVersionRange(w, r, h.logger)
	if !ok {
		return
	}

	diff, err := h.versionService.Diff(r.Context(), id, from, to)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := io.WriteString(w, diff); err != nil {
		h.logger.Error("Failed to write diff", zap.Error(err))
	}
}
