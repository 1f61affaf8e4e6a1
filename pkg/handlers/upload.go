package handlers

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/materialshub/materials-hub/pkg/audit"
	"github.com/materialshub/materials-hub/pkg/auth"
	"github.com/materialshub/materials-hub/pkg/middleware"
	"github.com/materialshub/materials-hub/pkg/services"
)

// multipartMemory is how much of a multipart body is kept in memory before
// spilling to temporary files.
const multipartMemory = 8 << 20

// UploadHandler accepts CSV uploads for a dataset.
type UploadHandler struct {
	ingestionService services.IngestionService
	datasetService   services.DatasetService
	auditor          *audit.SecurityAuditor
	limiter          *middleware.RateLimiter
	maxBytes         int64
	logger           *zap.Logger
}

// NewUploadHandler creates a new upload handler. A nil limiter disables rate limiting.
func NewUploadHandler(
	ingestionService services.IngestionService,
	datasetService services.DatasetService,
	auditor *audit.SecurityAuditor,
	limiter *middleware.RateLimiter,
	maxBytes int64,
	logger *zap.Logger,
) *UploadHandler {
	return &UploadHandler{
		ingestionService: ingestionService,
		datasetService:   datasetService,
		auditor:          auditor,
		limiter:          limiter,
		maxBytes:         maxBytes,
		logger:           logger,
	}
}

// RegisterRoutes registers the upload route on the given mux.
func (h *UploadHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	handler := h.Upload
	if h.limiter != nil {
		handler = h.limiter.Limit(handler)
	}
	mux.HandleFunc("POST "+datasetsBase+"/{id}/upload", authMiddleware.RequireUser(handler))
}

// Upload handles POST /api/v1/materials-datasets/{id}/upload
// Expects multipart field "file" holding a .csv file.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseDatasetID(w, r, h.logger)
	if !ok {
		return
	}
	if err := requireOwner(r, h.datasetService, h.auditor, id, "upload"); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorResponse(w, h.logger, http.StatusRequestEntityTooLarge, "file_too_large", "Uploaded file exceeds the size limit")
			return
		}
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_request", "Expected a multipart/form-data body")
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger.Warn("Failed to remove multipart temp files", zap.Error(err))
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "no_file", "No file provided")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "no_file", "No file selected")
		return
	}
	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		writeErrorResponse(w, h.logger, http.StatusBadRequest, "invalid_file_type", "File must be a CSV")
		return
	}

	result, err := h.ingestionService.Ingest(r.Context(), services.IngestRequest{
		DatasetID: id,
		UserID:    auth.UserIDPtrFromContext(r.Context()),
		Content:   file,
	})
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	h.logger.Info("CSV uploaded",
		zap.Int64("dataset_id", id),
		zap.String("filename", header.Filename),
		zap.Int("records_created", result.RecordsCreated),
		zap.Int("version", result.VersionNumber))
	h.auditor.LogVersionCreated(r.Context(), id, audit.VersionDetails{
		VersionNumber:  result.VersionNumber,
		RecordsCreated: result.RecordsCreated,
		FailedRows:     len(result.FailedRows),
	}, middleware.ClientIP(r))

	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
