package apihttp

import (
	"errors"
	"log/slog"
	"net/http"

	"lunchfinder/discovery/internal/domain"
	"lunchfinder/discovery/internal/savedsearch"
)

func (s *Server) savedSearchesConfigured(w http.ResponseWriter) bool {
	if s.saved == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "saved searches are not configured")
		return false
	}
	return true
}

func (s *Server) handleSavedSearchList(w http.ResponseWriter, r *http.Request) {
	if !s.savedSearchesConfigured(w) {
		return
	}
	items, err := s.saved.List(r.Context())
	if err != nil {
		s.writeSavedSearchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleSavedSearchCreate(w http.ResponseWriter, r *http.Request) {
	if !s.savedSearchesConfigured(w) {
		return
	}
	var body domain.SavedSearch
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	created, err := s.saved.Create(r.Context(), body)
	if err != nil {
		s.writeSavedSearchError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleSavedSearchGet(w http.ResponseWriter, r *http.Request) {
	if !s.savedSearchesConfigured(w) {
		return
	}
	item, err := s.saved.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeSavedSearchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleSavedSearchUpdate(w http.ResponseWriter, r *http.Request) {
	if !s.savedSearchesConfigured(w) {
		return
	}
	var body domain.SavedSearch
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	updated, err := s.saved.Update(r.Context(), r.PathValue("id"), body)
	if err != nil {
		s.writeSavedSearchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleSavedSearchDelete(w http.ResponseWriter, r *http.Request) {
	if !s.savedSearchesConfigured(w) {
		return
	}
	if err := s.saved.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeSavedSearchError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSavedSearchRun executes the stored intent through the pipeline.
func (s *Server) handleSavedSearchRun(w http.ResponseWriter, r *http.Request) {
	if !s.savedSearchesConfigured(w) {
		return
	}
	if s.pipeline == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "search pipeline is not configured")
		return
	}
	item, err := s.saved.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeSavedSearchError(w, err)
		return
	}
	intent := s.withDefaults(item.Intent())
	result := s.pipeline.Run(r.Context(), intent)
	if result.Cancelled {
		writeError(w, http.StatusConflict, "cancelled", "search was cancelled")
		return
	}
	writeJSON(w, http.StatusOK, newSearchResponse(result))
}

func (s *Server) writeSavedSearchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, savedsearch.ErrInvalid):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "saved search not found")
	case errors.Is(err, domain.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		s.logger.Error("saved search operation failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "saved search operation failed")
	}
}
