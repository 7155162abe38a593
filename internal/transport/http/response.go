package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
	"medquiz-service/internal/domain"
)

const (
	maxJSONBody   = 1 << 20
	maxUploadBody = 10 << 20
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		a.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "request failed"
	}
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

// classify maps domain errors to an HTTP status and a stable kind string.
func classify(err error) (int, string) {
	var incomplete *domain.IncompleteQuestionError
	var failure *domain.Failure
	switch {
	case errors.As(err, &incomplete):
		return http.StatusBadRequest, "incomplete-quiz"
	case errors.As(err, &failure):
		return failureStatus(failure.Kind), string(failure.Kind)
	case errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrResultNotFound),
		errors.Is(err, domain.ErrProfileNotFound),
		errors.Is(err, domain.ErrAccountNotFound):
		return http.StatusNotFound, "not-found"
	case errors.Is(err, domain.ErrAccessDenied):
		return http.StatusForbidden, "access-denied"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, domain.ErrUnauthenticated), errors.Is(err, domain.ErrInvalidCredentials):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, domain.ErrEmailTaken):
		return http.StatusConflict, "email-taken"
	case errors.Is(err, domain.ErrQuizIncomplete):
		return http.StatusBadRequest, "incomplete-quiz"
	case errors.Is(err, domain.ErrInvalidConfig),
		errors.Is(err, domain.ErrInvalidQuestion),
		errors.Is(err, domain.ErrInvalidResult),
		errors.Is(err, domain.ErrInvalidRating),
		errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "invalid-input"
	case errors.Is(err, domain.ErrNotAnswered),
		errors.Is(err, domain.ErrSessionComplete),
		errors.Is(err, domain.ErrBankExhausted),
		errors.Is(err, domain.ErrNotRetryable):
		return http.StatusConflict, "invalid-state"
	}
	return http.StatusInternalServerError, "internal"
}

func failureStatus(kind domain.FailureKind) int {
	switch kind {
	case domain.FailureMissingCredential, domain.FailureInvalidCredential:
		return http.StatusBadRequest
	case domain.FailureRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", domain.ErrInvalidInput)
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

// formFile opens the "file" part of a multipart upload.
func formFile(w http.ResponseWriter, r *http.Request) (io.ReadCloser, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", fmt.Errorf("%w: missing file upload: %v", domain.ErrInvalidInput, err)
	}
	return file, header.Filename, nil
}

var (
	errInvalidPayload     = fmt.Errorf("%w: invalid message payload", domain.ErrInvalidInput)
	errUnsupportedMessage = fmt.Errorf("%w: unsupported message type", domain.ErrInvalidInput)
)
