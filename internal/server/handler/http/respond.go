// Package http provides the HTTP handlers and routing of the invoicing
// API server.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wadi-transport/invoicesync/internal/repository"
	"github.com/wadi-transport/invoicesync/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps the small error taxonomy of the service layer
// onto HTTP statuses: 404 for missing records, 409 for uniqueness
// violations, 400 for rejected input, 500 otherwise.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrDuplicateKey):
		writeError(w, http.StatusConflict, "duplicate key detected")
	case errors.Is(err, service.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "server error")
	}
}
