package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ivankudzin/anonmod/internal/domain/apperr"
	"github.com/ivankudzin/anonmod/internal/services/ratelimit"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type RateLimitError struct {
	Code          string `json:"code"`
	Message       string `json:"message"`
	RetryAfterSec int64  `json:"retry_after_sec"`
}

func Write(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Status maps the service error taxonomy to a status and a body without
// internal detail.
func Status(err error) (int, APIError) {
	switch {
	case err == nil:
		return http.StatusOK, APIError{}
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest, APIError{Code: "VALIDATION_ERROR", Message: "request validation failed"}
	case errors.Is(err, apperr.ErrRateLimited):
		return http.StatusTooManyRequests, APIError{Code: "RATE_LIMITED", Message: "submission quota exhausted"}
	case errors.Is(err, apperr.ErrAlreadyDecided):
		return http.StatusConflict, APIError{Code: "ALREADY_DECIDED", Message: "item has already been decided"}
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound, APIError{Code: "NOT_FOUND", Message: "resource not found"}
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden, APIError{Code: "FORBIDDEN", Message: "insufficient privileges"}
	case apperr.IsInfrastructure(err):
		return http.StatusServiceUnavailable, APIError{Code: "UNAVAILABLE", Message: "storage is temporarily unavailable"}
	default:
		return http.StatusInternalServerError, APIError{Code: "INTERNAL_ERROR", Message: "internal server error"}
	}
}

func WriteError(w http.ResponseWriter, err error) {
	status, body := Status(err)
	if status != http.StatusTooManyRequests {
		Write(w, status, body)
		return
	}

	var retrySec int64
	if wait, ok := apperr.RetryAfter(err); ok {
		retrySec = ratelimit.CeilSeconds(wait)
		w.Header().Set("Retry-After", strconv.FormatInt(retrySec, 10))
	}
	Write(w, status, RateLimitError{Code: body.Code, Message: body.Message, RetryAfterSec: retrySec})
}
