// Package api provides the REST API and WebSocket server for phasetrack.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
)

// APIError is the standard error response format.
type APIError struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// JSONResponse writes a successful JSON response.
func JSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

// JSONResponseStatus writes a JSON response with a specific status code.
func JSONResponseStatus(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// JSONError writes a simple error response.
func JSONError(w http.ResponseWriter, message string, status int) {
	JSONResponseStatus(w, APIError{Error: message}, status)
}

// HandleError inspects error type and writes appropriate response.
// Errors that are not TrackErrors become 500s.
func HandleError(w http.ResponseWriter, err error) {
	var te *pterrors.TrackError
	if errors.As(err, &te) {
		JSONResponseStatus(w, APIError{
			Error:   te.Error(),
			Code:    string(te.Code),
			Details: te.Details(),
		}, te.HTTPStatus())
		return
	}
	JSONError(w, err.Error(), http.StatusInternalServerError)
}

// NoContent writes a 204 No Content response.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
