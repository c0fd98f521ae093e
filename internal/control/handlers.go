package control

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/strakata/trailtracker/internal/sampler"
	"github.com/strakata/trailtracker/internal/storage"
	"github.com/strakata/trailtracker/internal/tracker"
)

// ErrorResponse is the API error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Metadata storage.SessionMetadata `json:"metadata"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	created, err := s.tracker.Start(r.Context(), body.Metadata)
	if err != nil {
		if errors.Is(err, tracker.ErrAlreadyTracking) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("Failed to start tracking")
		writeError(w, http.StatusInternalServerError, "Failed to start tracking")
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.tracker.Pause)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.tracker.Resume)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.lifecycle(w, r, s.tracker.Stop)
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context) (storage.TrackingSession, error)) {
	session, err := op(r.Context())
	if err != nil {
		if errors.Is(err, tracker.ErrNotTracking) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error().Err(err).Msg("Tracking command failed")
		writeError(w, http.StatusInternalServerError, "Tracking command failed")
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.tracker.Reset(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("Failed to reset tracking")
		writeError(w, http.StatusInternalServerError, "Failed to reset tracking")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reset": true})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	var fix storage.PositionSample
	if err := json.NewDecoder(r.Body).Decode(&fix); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid position sample")
		return
	}
	if fix.Latitude < -90 || fix.Latitude > 90 || fix.Longitude < -180 || fix.Longitude > 180 {
		writeError(w, http.StatusBadRequest, "Coordinates out of range")
		return
	}

	s.tracker.Push(fix)
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) handlePositionError(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Kind string `json:"kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var sourceErr error
	switch body.Kind {
	case "permission_denied":
		sourceErr = sampler.ErrPermissionDenied
	case "timeout":
		sourceErr = sampler.ErrTimeout
	case "unavailable":
		sourceErr = sampler.ErrUnavailable
	default:
		writeError(w, http.StatusBadRequest, "Unknown error kind")
		return
	}

	s.tracker.PushError(sourceErr)
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tracker.Status(r.Context()))
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	result, err := s.syncer.Replay(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Sync replay failed")
		writeError(w, http.StatusInternalServerError, "Sync failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.ListCompleted(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list sessions")
		writeError(w, http.StatusInternalServerError, "Failed to retrieve sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.sessions.LoadSettings(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to load settings")
		writeError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings storage.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid settings body")
		return
	}
	if err := s.sessions.SaveSettings(r.Context(), settings); err != nil {
		s.logger.Error().Err(err).Msg("Failed to save settings")
		writeError(w, http.StatusInternalServerError, "Failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.readiness.Progress())
}

func (s *Server) handleReadinessSkip(w http.ResponseWriter, r *http.Request) {
	s.readiness.Skip()
	writeJSON(w, http.StatusOK, s.readiness.Progress())
}
