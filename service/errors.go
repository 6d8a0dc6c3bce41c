package service

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/hazyhaar/horosheet/blobstore"
	"github.com/hazyhaar/horosheet/sqlguard"
)

// errorBody is the structured JSON error response.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	code := ""
	switch {
	case errors.Is(err, sqlguard.ErrNotReadOnly):
		code = "not_read_only"
	case errors.Is(err, sqlguard.ErrMultiStatement):
		code = "multi_statement"
	case errors.Is(err, blobstore.ErrNotFound):
		code = "not_found"
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

// sqlStatusCode classifies an execution or generation failure: statements
// the caller can fix map to 400, everything else to 500.
func sqlStatusCode(err error) int {
	if errors.Is(err, sqlguard.ErrNotReadOnly) ||
		errors.Is(err, sqlguard.ErrMultiStatement) ||
		errors.Is(err, sqlguard.ErrEmpty) {
		return http.StatusBadRequest
	}
	msg := err.Error()
	for _, marker := range []string{
		"syntax error",
		"no such table",
		"no such column",
		"ambiguous column",
		"parse",
	} {
		if strings.Contains(msg, marker) {
			return http.StatusBadRequest
		}
	}
	return http.StatusInternalServerError
}
