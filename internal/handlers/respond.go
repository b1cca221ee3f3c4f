package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"sitegen-backend/internal/middleware"
	"sitegen-backend/internal/models"
	"sitegen-backend/internal/preview"
	"sitegen-backend/internal/repository"
	"sitegen-backend/internal/services"
	"sitegen-backend/internal/worker"
)

const maxBodyBytes = 64 << 10

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func requestID(r *http.Request) string {
	if rid := middleware.GetRequestID(r.Context()); rid != "" {
		return rid
	}
	return r.Header.Get(middleware.RequestIDHeader)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: requestID(r),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	resp := errorResp(code, message, r)
	resp.Error.Fields = fields
	return resp
}

// decodeJSON reads a single bounded JSON object, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return fmt.Errorf("request body exceeds %d bytes", maxErr.Limit)
		}
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid request body: %v", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *services.ValidationError
	var ierr *services.InstallError

	switch {
	case errors.As(err, &verr):
		var fields map[string]string
		if verr.Field != "" {
			fields = map[string]string{verr.Field: verr.Message}
		}
		writeJSON(w, http.StatusBadRequest, errorRespWithFields("VALIDATION_ERROR", verr.Error(), fields, r))
	case errors.Is(err, preview.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResp("NOT_FOUND", "Project not found", r))
	case errors.Is(err, preview.ErrCapacity):
		writeJSON(w, http.StatusServiceUnavailable, errorResp("CAPACITY_EXCEEDED", "Too many preview servers running. Stop one and retry.", r))
	case errors.Is(err, worker.ErrQueueFull), errors.Is(err, worker.ErrStopped):
		writeJSON(w, http.StatusServiceUnavailable, errorResp("CAPACITY_EXCEEDED", "Scaffold queue is full. Retry shortly.", r))
	case errors.Is(err, services.ErrModel):
		log.Error().Err(err).Str("request_id", requestID(r)).Msg("Model call failed")
		writeJSON(w, http.StatusBadGateway, errorResp("AI_ERROR", "Failed to generate content", r))
	case errors.As(err, &ierr):
		log.Error().Err(err).Str("request_id", requestID(r)).Msg("Install failed")
		writeJSON(w, http.StatusInternalServerError, errorResp("INSTALL_FAILED",
			fmt.Sprintf("Dependency install failed with exit code %d", ierr.ExitCode), r))
	default:
		log.Error().Err(err).Str("request_id", requestID(r)).Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResp("INTERNAL_ERROR", "An unexpected error occurred", r))
	}
}
