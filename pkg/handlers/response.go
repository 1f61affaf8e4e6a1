package handlers

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return ErrorResponseWithDetails(w, statusCode, errorCode, message, nil)
}

// ErrorResponseWithDetails writes a JSON error response with extra top-level
// fields (for example missing_columns or failed_rows) next to error and message.
func ErrorResponseWithDetails(w http.ResponseWriter, statusCode int, errorCode, message string, details map[string]any) error {
	body := make(map[string]any, len(details)+2)
	for k, v := range details {
		body[k] = v
	}
	body["error"] = errorCode
	body["message"] = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(body)
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}
