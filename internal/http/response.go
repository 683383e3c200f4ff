package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/go_cart/settlement-service/internal/domain"
)

const maxRequestBodySize = 1 << 20 // 1MB

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	return json.NewDecoder(r.Body).Decode(dst)
}

// handleServiceError maps domain errors to HTTP responses. Unknown errors are
// logged and reported as a bare 500.
func handleServiceError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	var (
		httpStatus int
		code       string
		message    = err.Error()
	)

	switch {
	case errors.Is(err, domain.ErrCartCleared):
		httpStatus, code = http.StatusBadRequest, "cart_cleared"
	case errors.Is(err, domain.ErrEmptyCart):
		httpStatus, code = http.StatusBadRequest, "empty_cart"
	case errors.Is(err, domain.ErrInvalidAmount):
		httpStatus, code = http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, domain.ErrInvalidQuantity):
		httpStatus, code = http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, domain.ErrInvalidProductID):
		httpStatus, code = http.StatusBadRequest, "invalid_product_id"
	case errors.Is(err, domain.ErrInvalidPhoneFormat):
		httpStatus, code = http.StatusBadRequest, "invalid_phone"
	case errors.Is(err, domain.ErrValidation):
		httpStatus, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, domain.ErrForbidden):
		httpStatus, code = http.StatusForbidden, "permission_denied"
	case errors.Is(err, domain.ErrNotFound):
		httpStatus, code = http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrTransient):
		httpStatus, code, message = http.StatusServiceUnavailable, "service_unavailable", domain.ErrTransient.Error()
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus, code, message = http.StatusGatewayTimeout, "timeout", "request timed out"
	default:
		log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		httpStatus, code, message = http.StatusInternalServerError, "internal_error", "internal server error"
	}

	respondError(w, httpStatus, code, message)
}
