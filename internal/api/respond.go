// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"net/http"

	"github.com/llw2011/oc-monitor/internal/errors"
)

const (
	ErrInvalidBody   = "invalid request body"
	ErrUnauthorized  = "unauthorized"
	ErrAdminRequired = "admin required"
	ErrNotFound      = "not found"
)

// WriteJSON writes data as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes a JSON error body with the given status.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteErr maps a domain error onto its HTTP status.
func WriteErr(w http.ResponseWriter, err error) {
	WriteError(w, errors.GetKind(err).HTTPStatus(), err.Error())
}

// BindJSON decodes the request body into dest. Returns false when decoding
// failed, in which case the error response has already been written.
func BindJSON[T any](w http.ResponseWriter, r *http.Request, dest *T) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		WriteError(w, http.StatusBadRequest, ErrInvalidBody)
		return false
	}
	return true
}
