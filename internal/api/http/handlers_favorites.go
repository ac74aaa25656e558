package apihttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"lunchfinder/discovery/internal/domain"
	"lunchfinder/discovery/internal/location"
)

type favoriteRequest struct {
	ID string `json:"id"`
}

func (s *Server) handleFavorites(w http.ResponseWriter, r *http.Request) {
	if s.favorites == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "favorites are not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"items": s.favorites.IDs()})
	case http.MethodPost:
		var body favoriteRequest
		if err := decodeJSONBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		id := strings.TrimSpace(body.ID)
		if id == "" {
			id = strings.TrimSpace(r.URL.Query().Get("id"))
		}
		if id == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "id is required")
			return
		}
		s.favorites.Add(r.Context(), id)
		writeJSON(w, http.StatusOK, map[string]any{"items": s.favorites.IDs()})
	case http.MethodDelete:
		if id := strings.TrimSpace(r.URL.Query().Get("id")); id != "" {
			s.favorites.Remove(r.Context(), id)
		} else {
			s.favorites.Clear(r.Context())
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": s.favorites.IDs()})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleFavoriteToggle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.favorites == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "favorites are not configured")
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "id is required")
		return
	}
	favorite := s.favorites.Toggle(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "isFavorite": favorite})
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	if s.location == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "location source is not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if parseOptionalBool(r.URL.Query().Get("resolve")) {
			ctx, cancel := context.WithTimeout(r.Context(), locationResolveLimit)
			defer cancel()
			coord, err := s.location.ResolveCurrent(ctx)
			if err != nil {
				writeLocationError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"location": coord})
			return
		}
		coord, ok := s.location.Latest()
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"location": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"location": coord})
	case http.MethodPost:
		var coord domain.Coordinate
		if err := decodeJSONBody(r, &coord); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		if err := s.location.Update(coord); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		s.logger.Debug("device location updated", slog.String("coordinate", coord.String()))
		writeJSON(w, http.StatusOK, map[string]any{"location": coord})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func writeLocationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, location.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "location_denied", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "location_timeout", "no location fix within the time limit")
	default:
		writeError(w, http.StatusServiceUnavailable, "location_unavailable", err.Error())
	}
}
