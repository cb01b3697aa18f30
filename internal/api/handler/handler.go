// Package handler holds the HTTP handlers. Handlers depend on narrow
// interfaces so they can be tested without a database.
package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/bugnest/internal/api/middleware"
	"github.com/kiranshivaraju/bugnest/internal/api/response"
	"github.com/kiranshivaraju/bugnest/internal/store"
	"github.com/kiranshivaraju/bugnest/internal/validation"
	"github.com/kiranshivaraju/bugnest/pkg/models"
)

// projectFrom returns the project set by the auth middleware, writing a 401
// when it is missing.
func projectFrom(w http.ResponseWriter, r *http.Request) (*models.Project, bool) {
	p, ok := mw.GetProject(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing project", nil)
		return nil, false
	}
	return p, true
}

// pathID parses a positive int64 URL parameter, writing a 400 when it is
// malformed.
func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
			fmt.Sprintf("%s must be a positive integer", name), nil)
		return 0, false
	}
	return id, true
}

// writeError maps service errors onto the error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, validation.ErrInvalid):
		response.Invalid(w, err)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Resource not found", nil)
	case errors.Is(err, store.ErrDuplicateKey):
		response.Error(w, http.StatusConflict, "CONFLICT", "Resource already exists", nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
