package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// ParseDatasetID extracts and validates the dataset ID from the request path.
// Returns the ID and true on success, or 0 and false on error
// (after writing an error response).
// Expects path parameter: id
func ParseDatasetID(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int64, bool) {
	id, ok := parsePositiveInt(r.PathValue("id"))
	if !ok {
		writeErrorResponse(w, logger, http.StatusBadRequest, "invalid_dataset_id", "Invalid dataset ID")
		return 0, false
	}
	return id, true
}

// ParseVersionNumber extracts and validates the version number from the request path.
// Expects path parameter: n
func ParseVersionNumber(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int, bool) {
	n, ok := parsePositiveInt(r.PathValue("n"))
	if !ok {
		writeErrorResponse(w, logger, http.StatusBadRequest, "invalid_version", "Invalid version number")
		return 0, false
	}
	return int(n), true
}

// ParseVersionRange reads the required from and to query parameters.
func ParseVersionRange(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (int, int, bool) {
	q := r.URL.Query()
	from, okFrom := parsePositiveInt(q.Get("from"))
	to, okTo := parsePositiveInt(q.Get("to"))
	if !okFrom || !okTo {
		writeErrorResponse(w, logger, http.StatusBadRequest, "invalid_version",
			"Query parameters from and to must be positive version numbers")
		return 0, 0, false
	}
	return int(from), int(to), true
}

// QueryInt reads an optional positive integer query parameter, returning def
// when it is absent. A present but invalid value writes a 400 response.
func QueryInt(w http.ResponseWriter, r *http.Request, name string, def int, logger *zap.Logger) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, ok := parsePositiveInt(raw)
	if !ok {
		writeErrorResponse(w, logger, http.StatusBadRequest, "invalid_parameter",
			"Query parameter "+name+" must be a positive integer")
		return 0, false
	}
	return int(v), true
}

func parsePositiveInt(s string) (int64, bool) {
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}

func writeErrorResponse(w http.ResponseWriter, logger *zap.Logger, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		logger.Error("Failed to write error response", zap.Error(err))
	}
}
