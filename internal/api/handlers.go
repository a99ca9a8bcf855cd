package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"acsm-bridge/internal/history"
	"acsm-bridge/internal/identity"
	"acsm-bridge/internal/types"
)

// ConversionService runs one conversion request to its terminal result.
type ConversionService interface {
	Run(ctx context.Context, req types.ConversionRequest) types.ConversionResult
}

// HistoryReader exposes the run journal.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Run, error)
}

// handleConvert runs a conversion synchronously and maps its terminal
// result to an HTTP response.
func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req types.ConversionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "invalid JSON in request body",
		})
		return
	}

	// A client disconnect must not cancel the run mid-flight: the only
	// cancellation mechanism is the per-step timeout, and the post-attempt
	// artifact sync needs a live context to not lose rotated artifacts.
	result := s.converter.Run(context.WithoutCancel(r.Context()), req)

	if !result.Succeeded() {
		s.writeJSON(w, statusCodeFor(result.Failure.Category), errorResponse{
			Error:    result.Failure.Message,
			Category: string(result.Failure.Category),
			RunID:    result.RunID,
			Stdout:   result.Failure.Stdout,
			Stderr:   result.Failure.Stderr,
		})
		return
	}

	s.writeJSON(w, http.StatusOK, convertResponse{
		Message:    "Conversion successful",
		RunID:      result.RunID,
		Filename:   result.Filename,
		Outputs:    result.Outputs,
		FilesCount: len(result.Outputs),
		FromCache:  result.FromCache,
	})
}

// handleHealth reports service liveness and local identity completeness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:        "healthy",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		IdentityReady: identity.Complete(s.identityDir),
		Artifacts:     identity.Present(s.identityDir),
	})
}

// handleRuns returns recent journal entries, newest first.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "run history is not enabled"})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be between 1 and 500"})
			return
		}
		limit = parsed
	}

	runs, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to read run history")
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to read run history"})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
