package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/materialshub/materials-hub/pkg/apperrors"
	"github.com/materialshub/materials-hub/pkg/ingestion"
	"github.com/materialshub/materials-hub/pkg/logging"
	"github.com/materialshub/materials-hub/pkg/models"
	"github.com/materialshub/materials-hub/pkg/services"
)

// writeServiceError maps a service error onto an HTTP status and JSON body.
func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		schemaErr *ingestion.SchemaError
		noRows    *services.NoValidRowsError
		pubErr    *models.PublicationError
		persist   *services.PersistenceError
		status    int
		code      string
		message   = err.Error()
		details   map[string]any
	)

	switch {
	case errors.As(err, &schemaErr):
		status, code, message = http.StatusBadRequest, "invalid_csv_structure", schemaErr.Message
		details = map[string]any{
			"missing_columns": schemaErr.Missing,
			"extra_columns":   schemaErr.Extra,
		}
	case errors.As(err, &noRows):
		status, code, message = http.StatusBadRequest, "no_valid_rows", "No valid rows found in CSV"
		details = map[string]any{"failed_rows": noRows.Failed}
	case errors.As(err, &pubErr):
		status, code = http.StatusBadRequest, "not_publishable"
		details = map[string]any{"problems": pubErr.Problems}
	case errors.Is(err, apperrors.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, apperrors.ErrInvalidInput):
		status, code = http.StatusBadRequest, "invalid_input"
	case errors.Is(err, apperrors.ErrUnauthorized):
		status, code, message = http.StatusUnauthorized, "unauthorized", "Authentication required"
	case errors.Is(err, apperrors.ErrForbidden):
		status, code, message = http.StatusForbidden, "forbidden", "You don't have permission to modify this dataset"
	case errors.Is(err, apperrors.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.As(err, &persist):
		status, code, message = http.StatusInternalServerError, "persistence_failed", logging.SanitizeError(persist)
	default:
		status, code, message = http.StatusInternalServerError, "internal_error", "Internal server error"
	}

	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.Int("status", status), zap.Error(err))
	}
	if err := ErrorResponseWithDetails(w, status, code, message, details); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
