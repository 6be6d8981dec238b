// Package handlers exposes the fleet engine over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-monitor/internal/fleet"
	"github.com/ukydev/fleet-monitor/internal/models"
)

const maxBodyBytes = 1 << 20

// Response is the JSON envelope of every API reply.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// Error codes returned alongside the HTTP status.
const (
	CodeValidation    = "validation_error"
	CodeNotFound      = "not_found"
	CodeConflict      = "conflict"
	CodeAlreadyClosed = "already_closed"
	CodeForbidden     = "forbidden"
	CodeUnauthorized  = "unauthorized"
	CodeInternal      = "internal_error"
)

func respondJSON(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("Failed to write response")
	}
}

func respondOK(w http.ResponseWriter, status int, message string, data interface{}) {
	respondJSON(w, status, Response{Success: true, Message: message, Data: data})
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, Response{Success: false, Error: message, Code: code})
}

// respondDomainError maps engine errors to HTTP statuses. Anything outside
// the taxonomy is logged and reported as an opaque 500.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, fleet.ErrValidation):
		respondError(w, http.StatusBadRequest, CodeValidation, err.Error())
	case errors.Is(err, fleet.ErrNotFound):
		respondError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, fleet.ErrAlreadyClosed):
		respondError(w, http.StatusConflict, CodeAlreadyClosed, err.Error())
	case errors.Is(err, fleet.ErrConflict):
		respondError(w, http.StatusConflict, CodeConflict, err.Error())
	default:
		log.WithFields(log.Fields{
			"request_id": chimw.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		}).WithError(err).Error("Request failed")
		respondError(w, http.StatusInternalServerError, CodeInternal, "Internal server error")
	}
}

func respondForbidden(w http.ResponseWriter) {
	respondError(w, http.StatusForbidden, CodeForbidden, "Insufficient permissions")
}

// decodeJSON reads a single JSON object into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "Invalid JSON"
		var typeErr *json.UnmarshalTypeError
		switch {
		case errors.Is(err, io.EOF):
			msg = "Request body is required"
		case errors.As(err, &typeErr):
			msg = fmt.Sprintf("Invalid value for %s", typeErr.Field)
		case strings.HasPrefix(err.Error(), "json: unknown field"):
			msg = strings.TrimPrefix(err.Error(), "json: ")
		}
		respondError(w, http.StatusBadRequest, CodeValidation, msg)
		return false
	}
	if dec.More() {
		respondError(w, http.StatusBadRequest, CodeValidation, "Request body must be a single JSON object")
		return false
	}
	return true
}

// idParam reads a positive integer path parameter.
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, CodeValidation, fmt.Sprintf("Invalid %s", name))
		return 0, false
	}
	return id, true
}

// pageParams reads page and limit query parameters. Missing values use the
// listing defaults.
func pageParams(w http.ResponseWriter, r *http.Request) (models.PageRequest, bool) {
	var page models.PageRequest
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"page", &page.Page}, {"limit", &page.Limit}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, CodeValidation, fmt.Sprintf("%s must be a positive integer", p.name))
			return page, false
		}
		*p.dst = n
	}
	return page.Normalize(), true
}

// int64Query reads an optional positive integer query parameter.
func int64Query(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		respondError(w, http.StatusBadRequest, CodeValidation, fmt.Sprintf("%s must be a positive integer", name))
		return 0, false
	}
	return n, true
}

// boolQuery reads an optional boolean query parameter.
func boolQuery(w http.ResponseWriter, r *http.Request, name string) (*bool, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeValidation, fmt.Sprintf("%s must be true or false", name))
		return nil, false
	}
	return &b, true
}
