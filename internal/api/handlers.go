package api

import (
	"context"
	"encoding/json"
	"errors"
	"gallery/internal/domain"
	"gallery/internal/gallery"
	"gallery/internal/harvest"
	"gallery/internal/storage"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *Server) handleHarvestRequest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil {
		s.respondWithError(w, http.StatusNotImplemented, "Harvesting is not enabled")
		return
	}

	var req domain.HarvestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if s.deps.Runner.Running() {
		s.respondWithError(w, http.StatusConflict, "A harvest is already running")
		return
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		res, err := s.deps.Runner.Run(s.baseCtx, req.Force)
		if err != nil {
			if errors.Is(err, harvest.ErrBusy) {
				s.logger.Info("harvest request ignored, run in progress")
				return
			}
			s.logger.Error("harvest failed", zap.Error(err))
			return
		}
		if res.Err != nil {
			s.logger.Warn("harvest finished with element failures", zap.String("run_id", res.RunID), zap.Error(res.Err))
		}
	}()

	s.respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Harvest started"})
}

func (s *Server) handleGallerySummary(w http.ResponseWriter, r *http.Request) {
	s.respondWithJSON(w, http.StatusOK, s.deps.Gallery.CheckGallery())
}

func (s *Server) handleColumn(w http.ResponseWriter, r *http.Request) {
	column := chi.URLParam(r, "column")
	values, err := s.deps.Gallery.GetData(column)
	if err != nil {
		if gallery.IsAbsent(err) {
			s.respondWithError(w, http.StatusNotFound, "Unknown column: "+column)
			return
		}
		s.logger.Error("failed to read column", zap.String("column", column), zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not read column")
		return
	}
	s.respondWithJSON(w, http.StatusOK, map[string]any{"column": column, "values": values})
}

func (s *Server) handleStatusRequest(w http.ResponseWriter, r *http.Request) {
	urlParam := r.URL.Query().Get("url")
	if urlParam == "" {
		s.respondWithError(w, http.StatusBadRequest, "URL query parameter is required")
		return
	}
	if _, err := url.ParseRequestURI(urlParam); err != nil {
		s.respondWithError(w, http.StatusBadRequest, "Invalid URL: "+urlParam)
		return
	}
	if s.deps.Status == nil {
		s.respondWithError(w, http.StatusNotImplemented, "Status storage is not configured")
		return
	}

	status, err := s.deps.Status.GetElementStatus(r.Context(), urlParam)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.respondWithError(w, http.StatusNotFound, "Element status not found")
			return
		}
		s.logger.Error("failed to get element status", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not retrieve status")
		return
	}

	s.respondWithJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	healthStatus := map[string]string{"gallery": "healthy"}
	healthy := true
	for name, p := range s.deps.Checks {
		if err := p.Ping(ctx); err != nil {
			healthStatus[name] = "unhealthy"
			healthy = false
			s.logger.Error("health check failed", zap.String("service", name), zap.Error(err))
			continue
		}
		healthStatus[name] = "healthy"
	}

	if !healthy {
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}
	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

// --- Helper Functions ---

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
		code = http.StatusInternalServerError
		response = []byte(`{"error":"Could not encode response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
